// Package audit maintains the tamper-evident audit trail for every
// sensitive operation the agent performs. Events are append-only: the
// only deletion pathway is the retention cleanup, and no update
// statement exists anywhere in this package.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	cryptoutil "feedbacksync/internal/platform/crypto"
	"feedbacksync/internal/platform/metrics"
)

type Service struct {
	db         *sql.DB
	crypto     *cryptoutil.Service
	maxEntries int
	alerts     chan Event
	collector  *metrics.Collector
	now        func() time.Time
}

func New(db *sql.DB, crypto *cryptoutil.Service, maxEntries int) *Service {
	return &Service{
		db:         db,
		crypto:     crypto,
		maxEntries: maxEntries,
		alerts:     make(chan Event, 64),
		now:        time.Now,
	}
}

// SetCollector enables the appended-events counter.
func (s *Service) SetCollector(c *metrics.Collector) {
	s.collector = c
}

// Alerts delivers high and critical events to whoever wants to page on
// them. Sends never block; an unread channel just drops.
func (s *Service) Alerts() <-chan Event {
	return s.alerts
}

func riskFor(action, resourceType string) string {
	switch action {
	case ActionBreach, ActionAccessDenied:
		return RiskCritical
	case ActionDelete, ActionExport, ActionBulk:
		return RiskHigh
	}
	if resourceType == ResourcePatientData || resourceType == ResourceMedicalRecord {
		return RiskMedium
	}
	return RiskLow
}

func needsEncryption(resourceType, risk string) bool {
	if resourceType == ResourcePatientData || resourceType == ResourceMedicalRecord {
		return true
	}
	return risk == RiskHigh || risk == RiskCritical
}

func eventHash(ev Event) string {
	return cryptoutil.CanonicalHash(map[string]any{
		"id":           ev.ID,
		"timestamp":    ev.Timestamp.UnixNano(),
		"userId":       ev.UserID,
		"userRole":     ev.UserRole,
		"action":       ev.Action,
		"resourceType": ev.ResourceType,
		"resourceId":   ev.ResourceID,
		"outcome":      ev.Outcome,
		"riskLevel":    ev.RiskLevel,
		"description":  ev.Description,
		"before":       ev.Before,
		"after":        ev.After,
		"encrypted":    ev.Encrypted,
		"ip":           ev.IP,
		"requestId":    ev.RequestID,
	})
}

// LogEvent appends one event and returns its id. Risk level is derived
// from action and resource type; sensitive payload fields are encrypted
// before they hit disk when the risk or resource warrants it.
func (s *Service) LogEvent(ctx context.Context, entry Entry) (string, error) {
	if strings.TrimSpace(entry.Action) == "" {
		return "", errors.New("audit: action is required")
	}
	if strings.TrimSpace(entry.ResourceType) == "" {
		return "", errors.New("audit: resource type is required")
	}
	outcome := entry.Outcome
	if outcome == "" {
		outcome = OutcomeSuccess
	}

	ev := Event{
		ID:           uuid.NewString(),
		Timestamp:    s.now(),
		UserID:       entry.UserID,
		UserRole:     entry.UserRole,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Outcome:      outcome,
		RiskLevel:    riskFor(entry.Action, entry.ResourceType),
		Description:  entry.Description,
		IP:           entry.IP,
		RequestID:    entry.RequestID,
	}

	var err error
	if ev.Before, err = marshalSnapshot(entry.Before); err != nil {
		return "", err
	}
	if ev.After, err = marshalSnapshot(entry.After); err != nil {
		return "", err
	}

	if needsEncryption(ev.ResourceType, ev.RiskLevel) && s.crypto.Configured() {
		ev.Encrypted = true
		if ev.Description, err = s.crypto.EncryptString(ev.Description); err != nil {
			return "", fmt.Errorf("encrypt audit description: %w", err)
		}
		if ev.Before, err = s.crypto.EncryptString(ev.Before); err != nil {
			return "", fmt.Errorf("encrypt audit snapshot: %w", err)
		}
		if ev.After, err = s.crypto.EncryptString(ev.After); err != nil {
			return "", fmt.Errorf("encrypt audit snapshot: %w", err)
		}
	}

	ev.Hash = eventHash(ev)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, ts, user_id, user_role, action, resource_type, resource_id,
			outcome, risk_level, description, before_state, after_state, encrypted, hash, ip, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.Timestamp.UnixNano(), ev.UserID, ev.UserRole, ev.Action, ev.ResourceType, ev.ResourceID,
		ev.Outcome, ev.RiskLevel, ev.Description, ev.Before, ev.After, ev.Encrypted, ev.Hash, ev.IP, ev.RequestID)
	if err != nil {
		return "", fmt.Errorf("append audit event: %w", err)
	}
	if s.collector != nil {
		s.collector.RecordAuditEvent()
	}

	if ev.RiskLevel == RiskHigh || ev.RiskLevel == RiskCritical {
		slog.Warn("high risk audit event",
			"eventId", ev.ID, "action", ev.Action, "resourceType", ev.ResourceType,
			"riskLevel", ev.RiskLevel, "outcome", ev.Outcome)
		select {
		case s.alerts <- ev:
		default:
		}
	}
	return ev.ID, nil
}

func marshalSnapshot(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal audit snapshot: %w", err)
	}
	return string(raw), nil
}

// Query returns matching events newest-first. Encrypted fields are
// decrypted for the caller; offset and limit apply after filtering.
func (s *Service) Query(ctx context.Context, filter Filter) ([]Event, error) {
	events, err := s.list(ctx, filter)
	if err != nil {
		return nil, err
	}
	for i := range events {
		s.decryptEvent(&events[i])
	}
	return events, nil
}

func (s *Service) list(ctx context.Context, filter Filter) ([]Event, error) {
	query, args := buildBaseQuery(filter)
	query += " ORDER BY ts DESC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	} else if filter.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func buildBaseQuery(filter Filter) (string, []any) {
	query := `SELECT id, ts, user_id, user_role, action, resource_type, resource_id,
		outcome, risk_level, description, before_state, after_state, encrypted, hash, ip, request_id
		FROM audit_events WHERE 1=1`
	var args []any
	if !filter.From.IsZero() {
		query += " AND ts >= ?"
		args = append(args, filter.From.UnixNano())
	}
	if !filter.To.IsZero() {
		query += " AND ts <= ?"
		args = append(args, filter.To.UnixNano())
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.ResourceType != "" {
		query += " AND resource_type = ?"
		args = append(args, filter.ResourceType)
	}
	if filter.ResourceID != "" {
		query += " AND resource_id = ?"
		args = append(args, filter.ResourceID)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}
	if filter.RiskLevel != "" {
		query += " AND risk_level = ?"
		args = append(args, filter.RiskLevel)
	}
	return query, args
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var out []Event
	for rows.Next() {
		var (
			ev   Event
			tsNs int64
		)
		if err := rows.Scan(&ev.ID, &tsNs, &ev.UserID, &ev.UserRole, &ev.Action, &ev.ResourceType, &ev.ResourceID,
			&ev.Outcome, &ev.RiskLevel, &ev.Description, &ev.Before, &ev.After, &ev.Encrypted, &ev.Hash, &ev.IP, &ev.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Timestamp = time.Unix(0, tsNs)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Service) decryptEvent(ev *Event) {
	if !ev.Encrypted {
		return
	}
	if plain, err := s.crypto.DecryptString(ev.Description); err == nil {
		ev.Description = plain
	}
	if plain, err := s.crypto.DecryptString(ev.Before); err == nil {
		ev.Before = plain
	}
	if plain, err := s.crypto.DecryptString(ev.After); err == nil {
		ev.After = plain
	}
}

// ComplianceReport aggregates activity between from and to.
func (s *Service) ComplianceReport(ctx context.Context, from, to time.Time) (*ComplianceReport, error) {
	events, err := s.list(ctx, Filter{From: from, To: to})
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		From:        from,
		To:          to,
		TotalEvents: len(events),
		ByAction:    map[string]int{},
		ByRiskLevel: map[string]int{},
		AccessByCategory: map[string]int{
			"patientData": 0,
			"feedback":    0,
			"system":      0,
		},
	}
	for _, ev := range events {
		report.ByAction[ev.Action]++
		report.ByRiskLevel[ev.RiskLevel]++
		if ev.Outcome == OutcomeFailure {
			report.Failures++
		}
		switch ev.ResourceType {
		case ResourcePatientData, ResourceMedicalRecord:
			report.AccessByCategory["patientData"]++
		case ResourceFeedback:
			report.AccessByCategory["feedback"]++
		default:
			report.AccessByCategory["system"]++
		}
		if ev.RiskLevel == RiskHigh || ev.RiskLevel == RiskCritical {
			s.decryptEvent(&ev)
			report.HighRiskEvents = append(report.HighRiskEvents, ev)
		}
	}
	return report, nil
}

// VerifyIntegrity recomputes every stored hash and flags mismatches.
// Corruption is reported, never auto-corrected.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityResult, error) {
	events, err := s.list(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	result := &IntegrityResult{TotalEvents: len(events), IntegrityScore: 1.0}
	for _, ev := range events {
		if eventHash(ev) == ev.Hash {
			result.ValidEvents++
		} else {
			result.CorruptedEvents = append(result.CorruptedEvents, ev.ID)
		}
	}
	if result.TotalEvents > 0 {
		result.IntegrityScore = float64(result.ValidEvents) / float64(result.TotalEvents)
	}
	return result, nil
}

// Cleanup prunes events past the retention window, then enforces the
// entry cap by deleting the oldest excess rows. This is the only way
// audit rows ever leave the table.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -RetentionDays).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_events WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune expired audit events: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM audit_events`).Scan(&total); err != nil {
		return removed, fmt.Errorf("count audit events: %w", err)
	}
	if excess := total - s.maxEntries; excess > 0 {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM audit_events WHERE id IN (
				SELECT id FROM audit_events ORDER BY ts ASC LIMIT ?
			)
		`, excess)
		if err != nil {
			return removed, fmt.Errorf("enforce audit entry cap: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}
