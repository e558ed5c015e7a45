package feedbackhandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"feedbacksync/internal/domain/audit"
	"feedbacksync/internal/domain/queue"
	"feedbacksync/internal/domain/retention"
	syncmgr "feedbacksync/internal/domain/sync"
	"feedbacksync/internal/platform/metrics"
	"feedbacksync/internal/transport/http/api"
	"feedbacksync/internal/transport/http/middleware"
	"feedbacksync/internal/transport/http/shared"
)

type Handler struct {
	Store     *queue.Store
	Manager   *syncmgr.Manager
	Watcher   *syncmgr.ConnectivityWatcher
	Audit     *audit.Service
	Retention *retention.Service
	Collector *metrics.Collector
}

func NewHandler(store *queue.Store, manager *syncmgr.Manager, watcher *syncmgr.ConnectivityWatcher, auditSvc *audit.Service, retentionSvc *retention.Service, collector *metrics.Collector) *Handler {
	return &Handler{Store: store, Manager: manager, Watcher: watcher, Audit: auditSvc, Retention: retentionSvc, Collector: collector}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/feedback", h.handleSubmit)
	r.Get("/queue/status", h.handleStatus)
	r.Get("/queue/items", h.handleListItems)
	r.Delete("/queue/synced", h.handleClearSynced)
	r.Post("/sync", h.handleSync)
	r.Post("/sync/force", h.handleForceSync)
	r.Get("/settings/{key}", h.handleGetSetting)
	r.Put("/settings/{key}", h.handlePutSetting)
}

type submitRequest struct {
	Payload  json.RawMessage `json:"payload"`
	Contact  string          `json:"contact"`
	Priority string          `json:"priority"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Fail(w, http.StatusBadRequest, "bad_request", "invalid JSON body", reqID)
		return
	}

	v := shared.NewValidator()
	if len(req.Payload) == 0 {
		v.Add("payload", "feedback payload is required")
	}
	v.Enum("priority", req.Priority, []string{queue.PriorityHigh, queue.PriorityMedium, queue.PriorityLow}, "must be high, medium or low")
	if v.Reject(w, reqID) {
		return
	}

	id, err := h.Store.EnqueueFeedback(r.Context(), req.Payload, req.Contact, req.Priority)
	if err != nil {
		h.storeError(w, err, reqID)
		return
	}
	h.Collector.RecordEnqueue()

	if _, err := h.Audit.LogEvent(r.Context(), audit.Entry{
		Action:       audit.ActionCreate,
		ResourceType: audit.ResourceFeedback,
		ResourceID:   id,
		Description:  "feedback submission queued for sync",
		RequestID:    reqID,
		IP:           r.RemoteAddr,
	}); err != nil {
		slog.Warn("audit log failed", "itemId", id, "err", err)
	}
	if _, err := h.Retention.RegisterRecord(r.Context(), retention.DataTypeFeedback, id, map[string]any{"contact": req.Contact}, 0); err != nil {
		slog.Warn("retention registration failed", "itemId", id, "err", err)
	}

	api.Created(w, map[string]any{"id": id}, reqID)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	stats, err := h.Manager.Stats(r.Context())
	if err != nil {
		h.storeError(w, err, reqID)
		return
	}
	api.Success(w, map[string]any{
		"counts":     stats.Counts,
		"lastSyncAt": stats.LastSyncAt,
		"inFlight":   stats.InFlight,
		"online":     h.Watcher.Online(),
	}, reqID)
}

func (h *Handler) handleListItems(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	items, err := h.Store.AllItems(r.Context())
	if err != nil {
		h.storeError(w, err, reqID)
		return
	}
	if _, err := h.Audit.LogEvent(r.Context(), audit.Entry{
		Action:       audit.ActionRead,
		ResourceType: audit.ResourceFeedback,
		Description:  "queued feedback listed by status panel",
		RequestID:    reqID,
		IP:           r.RemoteAddr,
	}); err != nil {
		slog.Warn("audit log failed", "err", err)
	}
	api.Success(w, items, reqID)
}

func (h *Handler) handleClearSynced(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	removed, err := h.Store.ClearSynced(r.Context())
	if err != nil {
		h.storeError(w, err, reqID)
		return
	}
	api.Success(w, map[string]any{"removed": removed}, reqID)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, h.Manager.TriggerSync)
}

func (h *Handler) handleForceSync(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, h.Manager.ForceSyncAll)
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, trigger func(ctx context.Context, cb syncmgr.Callbacks) error) {
	reqID := middleware.GetRequestID(r.Context())
	var synced int
	err := trigger(r.Context(), syncmgr.Callbacks{
		OnSuccess: func(n int) { synced = n },
	})
	switch {
	case errors.Is(err, syncmgr.ErrSyncInFlight):
		api.Accepted(w, map[string]any{"message": "sync already in flight"}, reqID)
	case errors.Is(err, syncmgr.ErrCooldown):
		api.Accepted(w, map[string]any{"message": "sync cooldown active"}, reqID)
	case err != nil:
		h.storeError(w, err, reqID)
	default:
		api.Success(w, map[string]any{"synced": synced}, reqID)
	}
}

func (h *Handler) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	key := chi.URLParam(r, "key")
	value, err := h.Store.GetSetting(r.Context(), key)
	if err != nil {
		h.storeError(w, err, reqID)
		return
	}
	api.Success(w, map[string]any{"key": key, "value": value}, reqID)
}

func (h *Handler) handlePutSetting(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	key := chi.URLParam(r, "key")
	var value json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		api.Fail(w, http.StatusBadRequest, "bad_request", "invalid JSON body", reqID)
		return
	}
	if err := h.Store.SetSetting(r.Context(), key, value); err != nil {
		h.storeError(w, err, reqID)
		return
	}
	api.Success(w, map[string]any{"key": key}, reqID)
}

func (h *Handler) storeError(w http.ResponseWriter, err error, reqID string) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), reqID)
	case errors.Is(err, queue.ErrNotInitialized):
		api.Fail(w, http.StatusServiceUnavailable, "store_unavailable", "local store is not ready", reqID)
	case errors.Is(err, queue.ErrInvalidPriority), errors.Is(err, queue.ErrInvalidStatus):
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), reqID)
	default:
		api.Fail(w, http.StatusInternalServerError, "internal_error", err.Error(), reqID)
	}
}
