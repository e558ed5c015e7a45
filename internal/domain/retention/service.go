// Package retention assigns retention policies to sensitive records and
// executes the scheduled archive, delete, extend and restore actions
// those policies imply. Every execution, successful or not, lands in
// the audit trail.
package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"feedbacksync/internal/domain/audit"
	cryptoutil "feedbacksync/internal/platform/crypto"
	"feedbacksync/internal/platform/metrics"
)

// Auditor is the slice of the audit trail this package needs.
type Auditor interface {
	LogEvent(ctx context.Context, entry audit.Entry) (string, error)
}

type Service struct {
	store     *Store
	crypto    *cryptoutil.Service
	audit     Auditor
	collector *metrics.Collector
	now       func() time.Time
}

func NewService(store *Store, crypto *cryptoutil.Service, auditor Auditor) *Service {
	return &Service{store: store, crypto: crypto, audit: auditor, now: time.Now}
}

// SetCollector enables the executed-actions counter.
func (s *Service) SetCollector(c *metrics.Collector) {
	s.collector = c
}

func defaultPolicies() []Policy {
	return []Policy{
		{Name: "Patient feedback retention", DataType: DataTypeFeedback, RetentionDays: 2555, AutoDelete: true, ArchiveBeforeDelete: true},
		{Name: "Patient data retention", DataType: DataTypePatientData, RetentionDays: 2555, AutoDelete: true, ArchiveBeforeDelete: true},
		{Name: "Medical record retention", DataType: DataTypeMedicalRecord, RetentionDays: 2555, AutoDelete: true, ArchiveBeforeDelete: true, RequiresApproval: true},
		{Name: "Audit log retention", DataType: DataTypeAuditLog, RetentionDays: 2555, AutoDelete: true},
		{Name: "User session retention", DataType: DataTypeUserSession, RetentionDays: 90, AutoDelete: true},
		{Name: "System log retention", DataType: DataTypeSystemLog, RetentionDays: 365, AutoDelete: true},
		{Name: "Cache retention", DataType: DataTypeCache, RetentionDays: 1, AutoDelete: true},
	}
}

// SeedDefaults installs the default policy for every governed data type
// that has no active policy yet. Safe to run on every startup.
func (s *Service) SeedDefaults(ctx context.Context) error {
	for _, p := range defaultPolicies() {
		_, err := s.store.ActivePolicy(ctx, p.DataType)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrPolicyNotFound) {
			return err
		}
		if _, err := s.CreatePolicy(ctx, p); err != nil {
			return fmt.Errorf("seed policy for %s: %w", p.DataType, err)
		}
	}
	return nil
}

// CreatePolicy stores a new active policy for its data type. Any
// previously active policy for the same type is deactivated so exactly
// one policy stays effective.
func (s *Service) CreatePolicy(ctx context.Context, p Policy) (string, error) {
	if strings.TrimSpace(p.DataType) == "" {
		return "", fmt.Errorf("%w: data type is required", ErrInvalidPolicy)
	}
	if p.RetentionDays <= 0 {
		return "", fmt.Errorf("%w: retention days must be positive", ErrInvalidPolicy)
	}
	now := s.now()
	p.ID = uuid.NewString()
	p.Active = true
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.store.DeactivatePolicies(ctx, p.DataType, now); err != nil {
		return "", err
	}
	if err := s.store.InsertPolicy(ctx, p); err != nil {
		return "", err
	}
	s.logAudit(ctx, audit.Entry{
		Action:       audit.ActionConfigChange,
		ResourceType: audit.ResourceSystemSettings,
		ResourceID:   p.ID,
		Description:  fmt.Sprintf("retention policy %q created for %s (%d days)", p.Name, p.DataType, p.RetentionDays),
	})
	return p.ID, nil
}

func (s *Service) ListPolicies(ctx context.Context) ([]Policy, error) {
	return s.store.ListPolicies(ctx)
}

// RegisterRecord puts a record under retention governance. The deletion
// date is creation time plus the policy period (or customDays when
// positive); auto-delete policies get their delete action scheduled
// immediately, with an archive action ahead of it when the policy asks
// for one.
func (s *Service) RegisterRecord(ctx context.Context, dataType, recordID string, metadata map[string]any, customDays int) (string, error) {
	policy, err := s.store.ActivePolicy(ctx, dataType)
	if err != nil {
		return "", err
	}
	days := policy.RetentionDays
	if customDays > 0 {
		days = customDays
	}
	now := s.now()
	record := Record{
		ID:                uuid.NewString(),
		DataType:          dataType,
		RecordID:          recordID,
		PolicyID:          policy.ID,
		CreatedAt:         now,
		LastAccessed:      now,
		ScheduledDeletion: now.AddDate(0, 0, days),
		Metadata:          metadata,
	}
	if err := s.store.InsertRecord(ctx, record); err != nil {
		return "", err
	}

	if policy.AutoDelete {
		if err := s.store.InsertAction(ctx, Action{
			ID:          uuid.NewString(),
			RecordID:    record.ID,
			Action:      ActionDelete,
			ScheduledAt: record.ScheduledDeletion,
			Status:      ActionStatusPending,
		}); err != nil {
			return "", err
		}
		if policy.ArchiveBeforeDelete {
			if err := s.store.InsertAction(ctx, Action{
				ID:          uuid.NewString(),
				RecordID:    record.ID,
				Action:      ActionArchive,
				ScheduledAt: record.ScheduledDeletion.AddDate(0, 0, -policy.archiveLeadDays()),
				Status:      ActionStatusPending,
			}); err != nil {
				return "", err
			}
		}
	}

	s.logAudit(ctx, audit.Entry{
		Action:       audit.ActionCreate,
		ResourceType: auditResource(dataType),
		ResourceID:   recordID,
		Description:  fmt.Sprintf("record registered for retention, deletion scheduled %s", record.ScheduledDeletion.Format(time.RFC3339)),
	})
	return record.ID, nil
}

// Touch records that a governed record was accessed.
func (s *Service) Touch(ctx context.Context, dataType, recordID string) error {
	return s.store.Touch(ctx, dataType, recordID, s.now())
}

func (s *Service) Record(ctx context.Context, dataType, recordID string) (*Record, error) {
	return s.store.RecordByTarget(ctx, dataType, recordID)
}

// ExecuteAction runs one scheduled action. Re-invoking an action that
// already reached a terminal state is a no-op returning false. Every
// execution attempt is audited.
func (s *Service) ExecuteAction(ctx context.Context, actionID, executedBy string) (bool, error) {
	action, err := s.store.ActionByID(ctx, actionID)
	if err != nil {
		return false, err
	}
	if action.Status != ActionStatusPending {
		return false, nil
	}

	record, err := s.store.RecordByID(ctx, action.RecordID)
	if err != nil {
		s.finish(ctx, action, nil, ActionStatusFailed, executedBy, err.Error())
		return false, err
	}

	policy, err := s.store.PolicyByID(ctx, record.PolicyID)
	if err != nil {
		policy = &Policy{}
	}
	if policy.RequiresApproval && strings.TrimSpace(executedBy) == "" {
		return false, fmt.Errorf("%w: %s on %s", ErrApprovalRequired, action.Action, record.DataType)
	}

	execErr := s.dispatch(ctx, action, record, policy)
	if execErr != nil {
		s.finish(ctx, action, record, ActionStatusFailed, executedBy, execErr.Error())
		return false, execErr
	}
	s.finish(ctx, action, record, ActionStatusCompleted, executedBy, "")
	if s.collector != nil {
		s.collector.RecordRetentionAction()
	}
	return true, nil
}

func (s *Service) dispatch(ctx context.Context, action *Action, record *Record, policy *Policy) error {
	switch action.Action {
	case ActionArchive:
		metadata, err := json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for archive: %w", err)
		}
		blob, err := s.crypto.Encrypt(metadata)
		if err != nil {
			return fmt.Errorf("encrypt archive blob: %w", err)
		}
		location := fmt.Sprintf("archive/%s/%s", record.DataType, record.RecordID)
		return s.store.MarkArchived(ctx, record.ID, location, blob)
	case ActionDelete:
		if err := s.store.DeleteRecord(ctx, record.ID); err != nil {
			return err
		}
		// Remaining scheduled work for a deleted record is moot.
		return s.store.CancelPendingActionsExcept(ctx, record.ID, action.ID, s.now())
	case ActionExtend:
		newDate := record.ScheduledDeletion.AddDate(0, 0, policy.extensionDays())
		if err := s.store.SetScheduledDeletion(ctx, record.ID, newDate); err != nil {
			return err
		}
		return s.store.ShiftPendingActions(ctx, record.ID, newDate.Sub(record.ScheduledDeletion))
	case ActionRestore:
		plain, err := s.crypto.Decrypt(record.EncryptedBlob)
		if err != nil {
			return fmt.Errorf("decrypt archive blob: %w", err)
		}
		if len(plain) == 0 {
			plain = []byte("{}")
		}
		return s.store.MarkRestored(ctx, record.ID, plain)
	default:
		return fmt.Errorf("unknown retention action %q", action.Action)
	}
}

func (s *Service) finish(ctx context.Context, action *Action, record *Record, status, executedBy, reason string) {
	if err := s.store.FinishAction(ctx, action.ID, status, executedBy, reason, s.now()); err != nil {
		slog.Warn("finish retention action failed", "actionId", action.ID, "err", err)
	}

	outcome := audit.OutcomeSuccess
	if status == ActionStatusFailed {
		outcome = audit.OutcomeFailure
	}
	entry := audit.Entry{
		UserID:      executedBy,
		Action:      auditAction(action.Action),
		Outcome:     outcome,
		Description: fmt.Sprintf("retention %s action %s", action.Action, status),
	}
	if record != nil {
		entry.ResourceType = auditResource(record.DataType)
		entry.ResourceID = record.RecordID
	} else {
		entry.ResourceType = audit.ResourceSystem
		entry.ResourceID = action.RecordID
	}
	s.logAudit(ctx, entry)
}

// ExecuteDueActions drains every pending action whose scheduled date has
// passed and returns the ones that actually ran. Per-action failures are
// recorded and do not stop the batch.
func (s *Service) ExecuteDueActions(ctx context.Context) ([]Action, error) {
	due, err := s.store.DueActions(ctx, s.now())
	if err != nil {
		return nil, err
	}
	var executed []Action
	for _, action := range due {
		ok, err := s.ExecuteAction(ctx, action.ID, "")
		if err != nil {
			slog.Warn("retention action failed", "actionId", action.ID, "action", action.Action, "err", err)
			continue
		}
		if ok {
			executed = append(executed, action)
		}
	}
	return executed, nil
}

// Report summarizes the retention posture of everything under
// governance.
func (s *Service) Report(ctx context.Context) (*Report, error) {
	now := s.now()
	counts, err := s.store.reportCounts(ctx, now, ReportLookaheadDays*24*time.Hour)
	if err != nil {
		return nil, err
	}
	report := &Report{
		GeneratedAt:     now,
		TotalRecords:    counts.total,
		ByDataType:      counts.byDataType,
		DueForArchival:  counts.dueForArchival,
		OverdueDeletion: counts.overdue,
		ArchivedRecords: counts.archived,
		PendingActions:  counts.pendingActions,
		ComplianceScore: 1.0,
	}
	if counts.total > 0 {
		report.ComplianceScore = float64(counts.total-counts.overdue) / float64(counts.total)
	}
	return report, nil
}

func (s *Service) logAudit(ctx context.Context, entry audit.Entry) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.LogEvent(ctx, entry); err != nil {
		slog.Warn("audit log failed", "action", entry.Action, "resourceType", entry.ResourceType, "err", err)
	}
}

func auditResource(dataType string) string {
	switch dataType {
	case DataTypePatientData:
		return audit.ResourcePatientData
	case DataTypeMedicalRecord:
		return audit.ResourceMedicalRecord
	case DataTypeFeedback:
		return audit.ResourceFeedback
	case DataTypeAuditLog:
		return audit.ResourceAuditLog
	default:
		return audit.ResourceSystem
	}
}

func auditAction(action string) string {
	if action == ActionDelete {
		return audit.ActionDelete
	}
	return audit.ActionUpdate
}
