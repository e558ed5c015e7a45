package agent

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"feedbacksync/internal/domain/audit"
	"feedbacksync/internal/domain/queue"
	"feedbacksync/internal/domain/retention"
	syncmgr "feedbacksync/internal/domain/sync"
	"feedbacksync/internal/platform/config"
	"feedbacksync/internal/platform/crypto"
	"feedbacksync/internal/platform/jobs"
	"feedbacksync/internal/platform/metrics"
	"feedbacksync/internal/transport/http/api"
	audithandler "feedbacksync/internal/transport/http/handlers/audit"
	feedbackhandler "feedbacksync/internal/transport/http/handlers/feedback"
	retentionhandler "feedbacksync/internal/transport/http/handlers/retention"
	"feedbacksync/internal/transport/http/middleware"
	"feedbacksync/internal/transport/http/shared"
)

type App struct {
	Config    config.Config
	Store     *queue.Store
	Manager   *syncmgr.Manager
	Watcher   *syncmgr.ConnectivityWatcher
	Audit     *audit.Service
	Retention *retention.Service
	Scheduler *jobs.Service
	Collector *metrics.Collector
	Router    http.Handler
}

// New wires the whole agent together: durable store, sync manager,
// audit trail, retention governance, background jobs and the HTTP
// surface. Background goroutines are not started here; Start does that.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	cryptoSvc, err := crypto.New(cfg.DataEncryptionKey)
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	store := queue.NewStore(cfg.DBPath)
	client := syncmgr.NewRemoteClient(cfg.RemoteBaseURL, cfg.SubmitTimeout)

	manager := syncmgr.NewManager(store, client, nil, collector, syncmgr.Options{
		Cooldown:       cfg.SyncCooldown,
		InitBaseDelay:  cfg.StoreInitBaseDelay,
		InitMaxRetries: cfg.StoreInitMaxRetries,
	})
	if err := manager.Init(ctx); err != nil {
		return nil, err
	}

	conn, err := store.Conn()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	auditSvc := audit.New(conn, cryptoSvc, cfg.AuditMaxEntries)
	auditSvc.SetCollector(collector)
	manager.SetAuditor(auditSvc)

	retentionSvc := retention.NewService(retention.NewStore(conn), cryptoSvc, auditSvc)
	retentionSvc.SetCollector(collector)
	if err := retentionSvc.SeedDefaults(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	app := &App{
		Config:    cfg,
		Store:     store,
		Manager:   manager,
		Watcher:   syncmgr.NewConnectivityWatcher(client, manager, cfg.ConnectivityInterval),
		Audit:     auditSvc,
		Retention: retentionSvc,
		Scheduler: jobs.New(cfg, store, auditSvc, retentionSvc),
		Collector: collector,
	}
	app.Router = app.buildRouter(conn.PingContext)
	return app, nil
}

// Start launches the connectivity watcher, the job scheduler and the
// audit alert drain. They all stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	go a.Watcher.Run(ctx)
	a.Scheduler.Start(ctx)
	go a.drainAlerts(ctx)
}

func (a *App) Close() error {
	return a.Store.Close()
}

func (a *App) buildRouter(ping func(context.Context) error) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(chimw.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if a.Config.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			api.Success(w, a.Collector.Snapshot(), middleware.GetRequestID(r.Context()))
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(bodyLimit(a.Config.MaxBodyBytes))

		feedbackHandler := feedbackhandler.NewHandler(a.Store, a.Manager, a.Watcher, a.Audit, a.Retention, a.Collector)
		feedbackHandler.RegisterRoutes(r)

		auditHandler := audithandler.NewHandler(a.Audit)
		auditHandler.RegisterRoutes(r)

		retentionHandler := retentionhandler.NewHandler(a.Retention)
		retentionHandler.RegisterRoutes(r)

		r.Get("/jobs/runs", a.handleJobRuns)
		r.Post("/jobs/{jobType}/run", a.handleJobRunNow)
	})

	return router
}

func (a *App) handleJobRuns(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePage(r, 20, 200)
	runs, err := a.Scheduler.RecentRuns(r.Context(), page.Limit)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "internal_error", "failed to list job runs", middleware.GetRequestID(r.Context()))
		return
	}
	if runs == nil {
		runs = []jobs.JobRunSummary{}
	}
	api.Success(w, runs, middleware.GetRequestID(r.Context()))
}

func (a *App) handleJobRunNow(w http.ResponseWriter, r *http.Request) {
	jobType := chi.URLParam(r, "jobType")
	run, ok := a.Scheduler.Runner(jobType)
	if !ok {
		api.Fail(w, http.StatusNotFound, "not_found", "unknown job type: "+jobType, middleware.GetRequestID(r.Context()))
		return
	}
	details, err := a.Scheduler.RunNow(r.Context(), jobType, run)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "internal_error", "job run failed", middleware.GetRequestID(r.Context()))
		return
	}
	api.Success(w, map[string]any{"jobType": jobType, "details": details}, middleware.GetRequestID(r.Context()))
}

func Run() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx := context.Background()
	app, err := New(ctx, cfg)
	if err != nil {
		log.Fatalf("agent startup failed: %v", err)
	}
	defer app.Close()
	app.Start(ctx)

	slog.Info("feedback sync agent listening", "addr", cfg.Addr, "env", cfg.Environment)
	if err := http.ListenAndServe(cfg.Addr, app.Router); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func bodyLimit(max int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if max > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// drainAlerts surfaces high-risk audit events in the agent log so that
// operators notice them even without a SIEM hooked up.
func (a *App) drainAlerts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.Audit.Alerts():
			slog.Warn("high risk activity detected",
				"eventId", ev.ID,
				"action", ev.Action,
				"resourceType", ev.ResourceType,
				"riskLevel", ev.RiskLevel,
			)
		}
	}
}
