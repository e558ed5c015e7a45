package retention

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InsertPolicy(ctx context.Context, p Policy) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_policies (id, name, description, data_type, retention_days, auto_delete,
			archive_before_delete, requires_approval, extension_days, archive_lead_days, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, p.DataType, p.RetentionDays, p.AutoDelete,
		p.ArchiveBeforeDelete, p.RequiresApproval, p.ExtensionDays, p.ArchiveLeadDays, p.Active,
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert retention policy: %w", err)
	}
	return nil
}

func (s *Store) DeactivatePolicies(ctx context.Context, dataType string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE retention_policies SET active = 0, updated_at = ? WHERE data_type = ? AND active = 1
	`, at.UnixNano(), dataType)
	if err != nil {
		return fmt.Errorf("deactivate retention policies: %w", err)
	}
	return nil
}

const policyColumns = `id, name, description, data_type, retention_days, auto_delete,
	archive_before_delete, requires_approval, extension_days, archive_lead_days, active, created_at, updated_at`

func (s *Store) ActivePolicy(ctx context.Context, dataType string) (*Policy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+policyColumns+` FROM retention_policies WHERE data_type = ? AND active = 1
	`, dataType)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, dataType)
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) PolicyByID(ctx context.Context, id string) (*Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM retention_policies WHERE id = ?`, id)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
		}
		return nil, err
	}
	return p, nil
}

func (s *Store) ListPolicies(ctx context.Context) ([]Policy, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM retention_policies ORDER BY data_type, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list retention policies: %w", err)
	}
	defer rows.Close()
	var out []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*Policy, error) {
	var (
		p         Policy
		createdNs int64
		updatedNs int64
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.DataType, &p.RetentionDays, &p.AutoDelete,
		&p.ArchiveBeforeDelete, &p.RequiresApproval, &p.ExtensionDays, &p.ArchiveLeadDays, &p.Active,
		&createdNs, &updatedNs)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(0, createdNs)
	p.UpdatedAt = time.Unix(0, updatedNs)
	return &p, nil
}

func (s *Store) InsertRecord(ctx context.Context, r Record) error {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal record metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO retention_records (id, data_type, record_id, policy_id, created_at, last_accessed,
			scheduled_deletion, archived, archive_location, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, '', ?)
	`, r.ID, r.DataType, r.RecordID, r.PolicyID, r.CreatedAt.UnixNano(), r.LastAccessed.UnixNano(),
		r.ScheduledDeletion.UnixNano(), string(metadata))
	if err != nil {
		return fmt.Errorf("insert retention record: %w", err)
	}
	return nil
}

const recordColumns = `id, data_type, record_id, policy_id, created_at, last_accessed,
	scheduled_deletion, archived, archive_location, metadata, encrypted_blob`

func (s *Store) RecordByID(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM retention_records WHERE id = ?`, id)
	return scanRecord(row, id)
}

func (s *Store) RecordByTarget(ctx context.Context, dataType, recordID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM retention_records WHERE data_type = ? AND record_id = ?
	`, dataType, recordID)
	return scanRecord(row, dataType+"/"+recordID)
}

func scanRecord(row rowScanner, ref string) (*Record, error) {
	var (
		r          Record
		createdNs  int64
		accessedNs int64
		deletionNs int64
		metadata   string
		blob       []byte
	)
	err := row.Scan(&r.ID, &r.DataType, &r.RecordID, &r.PolicyID, &createdNs, &accessedNs,
		&deletionNs, &r.Archived, &r.ArchiveLocation, &metadata, &blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("scan retention record: %w", err)
	}
	r.CreatedAt = time.Unix(0, createdNs)
	r.LastAccessed = time.Unix(0, accessedNs)
	r.ScheduledDeletion = time.Unix(0, deletionNs)
	r.EncryptedBlob = blob
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal record metadata: %w", err)
		}
	}
	return &r, nil
}

func (s *Store) MarkArchived(ctx context.Context, id, location string, blob []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE retention_records
		SET archived = 1, archive_location = ?, metadata = '', encrypted_blob = ?
		WHERE id = ?
	`, location, blob, id)
	if err != nil {
		return fmt.Errorf("archive retention record: %w", err)
	}
	return requireRow(res, id)
}

func (s *Store) MarkRestored(ctx context.Context, id string, metadata []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE retention_records
		SET archived = 0, archive_location = '', metadata = ?, encrypted_blob = NULL
		WHERE id = ?
	`, string(metadata), id)
	if err != nil {
		return fmt.Errorf("restore retention record: %w", err)
	}
	return requireRow(res, id)
}

func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM retention_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete retention record: %w", err)
	}
	return requireRow(res, id)
}

func (s *Store) SetScheduledDeletion(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE retention_records SET scheduled_deletion = ? WHERE id = ?
	`, at.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("extend retention record: %w", err)
	}
	return requireRow(res, id)
}

func (s *Store) Touch(ctx context.Context, dataType, recordID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE retention_records SET last_accessed = ? WHERE data_type = ? AND record_id = ?
	`, at.UnixNano(), dataType, recordID)
	if err != nil {
		return fmt.Errorf("touch retention record: %w", err)
	}
	return requireRow(res, dataType+"/"+recordID)
}

func requireRow(res sql.Result, ref string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return nil
}

func (s *Store) InsertAction(ctx context.Context, a Action) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retention_actions (id, record_id, action, scheduled_at, status, approved_by, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.RecordID, a.Action, a.ScheduledAt.UnixNano(), a.Status, a.ApprovedBy, a.Reason)
	if err != nil {
		return fmt.Errorf("insert retention action: %w", err)
	}
	return nil
}

const actionColumns = `id, record_id, action, scheduled_at, executed_at, status, approved_by, reason`

func (s *Store) ActionByID(ctx context.Context, id string) (*Action, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM retention_actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrActionNotFound, id)
		}
		return nil, err
	}
	return a, nil
}

func scanAction(row rowScanner) (*Action, error) {
	var (
		a           Action
		scheduledNs int64
		executedNs  int64
	)
	err := row.Scan(&a.ID, &a.RecordID, &a.Action, &scheduledNs, &executedNs, &a.Status, &a.ApprovedBy, &a.Reason)
	if err != nil {
		return nil, err
	}
	a.ScheduledAt = time.Unix(0, scheduledNs)
	if executedNs > 0 {
		a.ExecutedAt = time.Unix(0, executedNs)
	}
	return &a, nil
}

func (s *Store) FinishAction(ctx context.Context, id, status, approvedBy, reason string, executedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE retention_actions SET status = ?, executed_at = ?, approved_by = ?, reason = ? WHERE id = ?
	`, status, executedAt.UnixNano(), approvedBy, reason, id)
	if err != nil {
		return fmt.Errorf("finish retention action: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrActionNotFound, id)
	}
	return nil
}

func (s *Store) DueActions(ctx context.Context, now time.Time) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM retention_actions
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC
	`, ActionStatusPending, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list due retention actions: %w", err)
	}
	defer rows.Close()
	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *Store) ActionsForRecord(ctx context.Context, recordID string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM retention_actions WHERE record_id = ? ORDER BY scheduled_at ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list record retention actions: %w", err)
	}
	defer rows.Close()
	var out []Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ShiftPendingActions pushes every pending action for a record forward,
// keeping scheduled work coherent after an extension.
func (s *Store) ShiftPendingActions(ctx context.Context, recordID string, delta time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE retention_actions SET scheduled_at = scheduled_at + ? WHERE record_id = ? AND status = ?
	`, delta.Nanoseconds(), recordID, ActionStatusPending)
	if err != nil {
		return fmt.Errorf("shift pending retention actions: %w", err)
	}
	return nil
}

func (s *Store) CancelPendingActionsExcept(ctx context.Context, recordID, exceptID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE retention_actions SET status = ?, executed_at = ? WHERE record_id = ? AND status = ? AND id != ?
	`, ActionStatusCancelled, at.UnixNano(), recordID, ActionStatusPending, exceptID)
	if err != nil {
		return fmt.Errorf("cancel pending retention actions: %w", err)
	}
	return nil
}

type reportCounts struct {
	byDataType     map[string]int
	total          int
	archived       int
	overdue        int
	dueForArchival int
	pendingActions int
}

func (s *Store) reportCounts(ctx context.Context, now time.Time, lookahead time.Duration) (*reportCounts, error) {
	counts := &reportCounts{byDataType: map[string]int{}}

	rows, err := s.db.QueryContext(ctx, `SELECT data_type, COUNT(1) FROM retention_records GROUP BY data_type`)
	if err != nil {
		return nil, fmt.Errorf("count retention records: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var dataType string
		var n int
		if err := rows.Scan(&dataType, &n); err != nil {
			return nil, err
		}
		counts.byDataType[dataType] = n
		counts.total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM retention_records WHERE archived = 1`).Scan(&counts.archived); err != nil {
		return nil, fmt.Errorf("count archived records: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM retention_records WHERE scheduled_deletion <= ?
	`, now.UnixNano()).Scan(&counts.overdue); err != nil {
		return nil, fmt.Errorf("count overdue records: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM retention_actions WHERE status = ? AND action = ? AND scheduled_at <= ?
	`, ActionStatusPending, ActionArchive, now.Add(lookahead).UnixNano()).Scan(&counts.dueForArchival); err != nil {
		return nil, fmt.Errorf("count due archive actions: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM retention_actions WHERE status = ?
	`, ActionStatusPending).Scan(&counts.pendingActions); err != nil {
		return nil, fmt.Errorf("count pending actions: %w", err)
	}
	return counts, nil
}
