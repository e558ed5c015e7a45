package retentionhandler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"feedbacksync/internal/domain/retention"
	"feedbacksync/internal/transport/http/api"
	"feedbacksync/internal/transport/http/middleware"
	"feedbacksync/internal/transport/http/shared"
)

type Handler struct {
	Retention *retention.Service
}

func NewHandler(retentionSvc *retention.Service) *Handler {
	return &Handler{Retention: retentionSvc}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/retention/policies", h.handleListPolicies)
	r.Post("/retention/policies", h.handleCreatePolicy)
	r.Post("/retention/records", h.handleRegisterRecord)
	r.Get("/retention/records/{dataType}/{recordID}", h.handleGetRecord)
	r.Post("/retention/records/{dataType}/{recordID}/touch", h.handleTouchRecord)
	r.Post("/retention/actions/{actionID}/execute", h.handleExecuteAction)
	r.Post("/retention/actions/run-due", h.handleRunDue)
	r.Get("/retention/report", h.handleReport)
}

func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	policies, err := h.Retention.ListPolicies(r.Context())
	if err != nil {
		h.retentionError(w, err, reqID)
		return
	}
	api.Success(w, policies, reqID)
}

func (h *Handler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	var p retention.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		api.Fail(w, http.StatusBadRequest, "bad_request", "invalid JSON body", reqID)
		return
	}

	v := shared.NewValidator()
	v.Required("dataType", p.DataType, "data type is required")
	v.Positive("retentionDays", p.RetentionDays, "retention period must be positive")
	if v.Reject(w, reqID) {
		return
	}

	id, err := h.Retention.CreatePolicy(r.Context(), p)
	if err != nil {
		h.retentionError(w, err, reqID)
		return
	}
	api.Created(w, map[string]any{"id": id}, reqID)
}

type registerRecordRequest struct {
	DataType   string         `json:"dataType"`
	RecordID   string         `json:"recordId"`
	Metadata   map[string]any `json:"metadata"`
	CustomDays int            `json:"customDays"`
}

func (h *Handler) handleRegisterRecord(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	var req registerRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Fail(w, http.StatusBadRequest, "bad_request", "invalid JSON body", reqID)
		return
	}

	v := shared.NewValidator()
	v.Required("dataType", req.DataType, "data type is required")
	v.Required("recordId", req.RecordID, "record id is required")
	if v.Reject(w, reqID) {
		return
	}

	id, err := h.Retention.RegisterRecord(r.Context(), req.DataType, req.RecordID, req.Metadata, req.CustomDays)
	if err != nil {
		h.retentionError(w, err, reqID)
		return
	}
	api.Created(w, map[string]any{"id": id}, reqID)
}

func (h *Handler) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	record, err := h.Retention.Record(r.Context(), chi.URLParam(r, "dataType"), chi.URLParam(r, "recordID"))
	if err != nil {
		h.retentionError(w, err, reqID)
		return
	}
	api.Success(w, record, reqID)
}

func (h *Handler) handleTouchRecord(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	if err := h.Retention.Touch(r.Context(), chi.URLParam(r, "dataType"), chi.URLParam(r, "recordID")); err != nil {
		h.retentionError(w, err, reqID)
		return
	}
	api.Success(w, map[string]any{"touched": true}, reqID)
}

type executeActionRequest struct {
	ExecutedBy string `json:"executedBy"`
}

func (h *Handler) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	var req executeActionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Fail(w, http.StatusBadRequest, "bad_request", "invalid JSON body", reqID)
			return
		}
	}

	executed, err := h.Retention.ExecuteAction(r.Context(), chi.URLParam(r, "actionID"), req.ExecutedBy)
	if err != nil {
		h.retentionError(w, err, reqID)
		return
	}
	api.Success(w, map[string]any{"executed": executed}, reqID)
}

func (h *Handler) handleRunDue(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	actions, err := h.Retention.ExecuteDueActions(r.Context())
	if err != nil {
		h.retentionError(w, err, reqID)
		return
	}
	api.Success(w, map[string]any{"executed": len(actions), "actions": actions}, reqID)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	report, err := h.Retention.Report(r.Context())
	if err != nil {
		h.retentionError(w, err, reqID)
		return
	}
	api.Success(w, report, reqID)
}

func (h *Handler) retentionError(w http.ResponseWriter, err error, reqID string) {
	switch {
	case errors.Is(err, retention.ErrNotFound),
		errors.Is(err, retention.ErrActionNotFound),
		errors.Is(err, retention.ErrPolicyNotFound):
		api.Fail(w, http.StatusNotFound, "not_found", err.Error(), reqID)
	case errors.Is(err, retention.ErrApprovalRequired):
		api.Fail(w, http.StatusForbidden, "approval_required", err.Error(), reqID)
	case errors.Is(err, retention.ErrInvalidPolicy):
		api.Fail(w, http.StatusBadRequest, "validation_error", err.Error(), reqID)
	default:
		api.Fail(w, http.StatusInternalServerError, "internal_error", err.Error(), reqID)
	}
}
