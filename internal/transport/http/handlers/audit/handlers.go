package audithandler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"feedbacksync/internal/domain/audit"
	"feedbacksync/internal/transport/http/api"
	"feedbacksync/internal/transport/http/middleware"
	"feedbacksync/internal/transport/http/shared"
)

type Handler struct {
	Audit *audit.Service
}

func NewHandler(auditSvc *audit.Service) *Handler {
	return &Handler{Audit: auditSvc}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/audit/events", h.handleQuery)
	r.Get("/audit/report", h.handleReport)
	r.Get("/audit/verify", h.handleVerify)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	q := r.URL.Query()

	page := shared.ParsePage(r, 50, 500)
	filter := audit.Filter{
		UserID:       q.Get("userId"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resourceType"),
		ResourceID:   q.Get("resourceId"),
		Outcome:      q.Get("outcome"),
		RiskLevel:    q.Get("riskLevel"),
		Limit:        page.Limit,
		Offset:       page.Offset,
	}

	var err error
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		api.Fail(w, http.StatusBadRequest, "bad_request", "invalid from timestamp", reqID)
		return
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		api.Fail(w, http.StatusBadRequest, "bad_request", "invalid to timestamp", reqID)
		return
	}

	events, err := h.Audit.Query(r.Context(), filter)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "internal_error", err.Error(), reqID)
		return
	}
	api.Success(w, events, reqID)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	q := r.URL.Query()

	to, err := parseTime(q.Get("to"))
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "bad_request", "invalid to timestamp", reqID)
		return
	}
	if to.IsZero() {
		to = time.Now()
	}
	from, err := parseTime(q.Get("from"))
	if err != nil {
		api.Fail(w, http.StatusBadRequest, "bad_request", "invalid from timestamp", reqID)
		return
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -30)
	}

	report, err := h.Audit.ComplianceReport(r.Context(), from, to)
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "internal_error", err.Error(), reqID)
		return
	}
	api.Success(w, report, reqID)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetRequestID(r.Context())
	result, err := h.Audit.VerifyIntegrity(r.Context())
	if err != nil {
		api.Fail(w, http.StatusInternalServerError, "internal_error", err.Error(), reqID)
		return
	}
	api.Success(w, result, reqID)
}

// parseTime accepts RFC 3339 or unix milliseconds; empty means unset.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, raw)
}
