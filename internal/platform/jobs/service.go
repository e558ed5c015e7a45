package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"feedbacksync/internal/domain/audit"
	"feedbacksync/internal/domain/queue"
	"feedbacksync/internal/domain/retention"
	"feedbacksync/internal/platform/config"
)

const (
	JobRetention    = "retention_actions"
	JobAuditCleanup = "audit_cleanup"
	JobCacheSweep   = "cache_sweep"
)

type Service struct {
	Cfg       config.Config
	Store     *queue.Store
	Audit     *audit.Service
	Retention *retention.Service
	queue     chan job
	now       func() time.Time
}

type job struct {
	Type string
	Run  func(context.Context) (any, error)
}

func New(cfg config.Config, store *queue.Store, auditSvc *audit.Service, retentionSvc *retention.Service) *Service {
	return &Service{
		Cfg:       cfg,
		Store:     store,
		Audit:     auditSvc,
		Retention: retentionSvc,
		queue:     make(chan job, 128),
		now:       time.Now,
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
	if s.Cfg.RetentionInterval > 0 {
		go s.schedule(ctx, s.Cfg.RetentionInterval, JobRetention, s.runRetention)
	}
	if s.Cfg.AuditCleanupInterval > 0 {
		go s.schedule(ctx, s.Cfg.AuditCleanupInterval, JobAuditCleanup, s.runAuditCleanup)
	}
	if s.Cfg.CacheSweepInterval > 0 {
		go s.schedule(ctx, s.Cfg.CacheSweepInterval, JobCacheSweep, s.runCacheSweep)
	}
}

func (s *Service) Enqueue(jobType string, run func(context.Context) (any, error)) {
	select {
	case s.queue <- job{Type: jobType, Run: run}:
	default:
		slog.Warn("job queue full", "jobType", jobType)
	}
}

func (s *Service) RunNow(ctx context.Context, jobType string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, Run: run})
}

// Runner resolves a job type to its run function so operators can
// trigger a scheduled job out of band.
func (s *Service) Runner(jobType string) (func(context.Context) (any, error), bool) {
	switch jobType {
	case JobRetention:
		return s.runRetention, true
	case JobAuditCleanup:
		return s.runAuditCleanup, true
	case JobCacheSweep:
		return s.runCacheSweep, true
	}
	return nil, false
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "err", err)
			}
		}
	}
}

func (s *Service) schedule(ctx context.Context, interval time.Duration, jobType string, run func(context.Context) (any, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Enqueue(jobType, run)
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID := uuid.NewString()
	conn, connErr := s.Store.Conn()
	if connErr == nil {
		if _, err := conn.ExecContext(ctx, `
			INSERT INTO job_runs (id, job_type, status, started_at)
			VALUES (?, ?, 'running', ?)
		`, runID, j.Type, s.now().UnixNano()); err != nil {
			slog.Warn("job run insert failed", "err", err)
			conn = nil
		}
	}

	details, err := j.Run(ctx)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		slog.Warn("job details marshal failed", "err", marshalErr)
		detailsJSON = []byte("{}")
	}
	if conn != nil {
		if _, updErr := conn.ExecContext(ctx, `
			UPDATE job_runs
			SET status = ?, details = ?, completed_at = ?
			WHERE id = ?
		`, status, string(detailsJSON), s.now().UnixNano(), runID); updErr != nil {
			slog.Warn("job run update failed", "err", updErr)
		}
	}
	return details, err
}

func (s *Service) runRetention(ctx context.Context) (any, error) {
	actions, err := s.Retention.ExecuteDueActions(ctx)
	if err != nil {
		return nil, err
	}
	slog.Info("retention actions executed", "count", len(actions))
	return map[string]any{"executed": len(actions)}, nil
}

func (s *Service) runAuditCleanup(ctx context.Context) (any, error) {
	removed, err := s.Audit.Cleanup(ctx)
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		slog.Info("audit events pruned", "removed", removed)
	}
	return map[string]any{"removed": removed}, nil
}

func (s *Service) runCacheSweep(ctx context.Context) (any, error) {
	removed, err := s.Store.DeleteExpiredCache(ctx)
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		slog.Info("expired cache entries removed", "removed", removed)
	}
	return map[string]any{"removed": removed}, nil
}

// JobRunSummary is the persisted outcome of a scheduled run.
type JobRunSummary struct {
	ID          string          `json:"id"`
	JobType     string          `json:"jobType"`
	Status      string          `json:"status"`
	Details     json.RawMessage `json:"details"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt,omitzero"`
}

// RecentRuns lists the latest scheduled runs, newest first.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]JobRunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	conn, err := s.Store.Conn()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT id, job_type, status, details, started_at, completed_at
		FROM job_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []JobRunSummary
	for rows.Next() {
		var (
			run         JobRunSummary
			details     string
			startedNs   int64
			completedNs int64
		)
		if err := rows.Scan(&run.ID, &run.JobType, &run.Status, &details, &startedNs, &completedNs); err != nil {
			return nil, err
		}
		run.Details = json.RawMessage(details)
		run.StartedAt = time.Unix(0, startedNs)
		if completedNs > 0 {
			run.CompletedAt = time.Unix(0, completedNs)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
