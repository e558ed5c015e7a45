// Package queue is the agent's local durable store: the feedback and
// generic sync queues, the TTL cache and the settings store. All reads
// and writes go through SQLite transactions; the package does no
// network I/O. Drain order is deterministic: priority tier first
// (high, medium, low), then creation time within a tier.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"feedbacksync/internal/platform/db"
)

type Store struct {
	mu     sync.Mutex
	path   string
	conn   *sql.DB
	opened bool
	now    func() time.Time
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Open prepares the underlying database. It is safe to call more than
// once; subsequent calls are no-ops. Until Open succeeds every other
// method fails with ErrNotInitialized.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	conn, err := db.Open(s.path)
	if err != nil {
		return err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("open durable store: %w", err)
	}
	if err := db.Migrate(conn); err != nil {
		_ = conn.Close()
		return fmt.Errorf("migrate durable store: %w", err)
	}
	s.conn = conn
	s.opened = true
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false
	return s.conn.Close()
}

// Conn exposes the underlying handle so the audit and retention stores
// can share the same database file. They own their own tables; queue
// tables stay behind this package's API.
func (s *Store) Conn() (*sql.DB, error) {
	return s.handle()
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil, ErrNotInitialized
	}
	return s.conn, nil
}

func (s *Store) newID() string {
	return fmt.Sprintf("%d-%s", s.now().UnixMilli(), uuid.NewString()[:8])
}

func normalizePriority(priority string) (string, error) {
	switch priority {
	case "":
		return PriorityMedium, nil
	case PriorityHigh, PriorityMedium, PriorityLow:
		return priority, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
}

// EnqueueFeedback persists a feedback submission as pending. Payloads at
// or above CompressionThreshold bytes are stored deflated.
func (s *Store) EnqueueFeedback(ctx context.Context, payload json.RawMessage, contact, priority string) (string, error) {
	conn, err := s.handle()
	if err != nil {
		return "", err
	}
	priority, err = normalizePriority(priority)
	if err != nil {
		return "", err
	}
	stored, compressed, err := maybeCompress(payload)
	if err != nil {
		return "", err
	}
	id := s.newID()
	_, err = conn.ExecContext(ctx, `
		INSERT INTO feedback_queue (id, contact, payload, compressed, priority, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, id, contact, stored, compressed, priority, StatusPending, s.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("enqueue feedback: %w", err)
	}
	return id, nil
}

// EnqueueSync persists a generic sync entry (settings propagation,
// telemetry and the like) on the secondary queue.
func (s *Store) EnqueueSync(ctx context.Context, itemType string, payload json.RawMessage, priority string) (string, error) {
	conn, err := s.handle()
	if err != nil {
		return "", err
	}
	priority, err = normalizePriority(priority)
	if err != nil {
		return "", err
	}
	stored, compressed, err := maybeCompress(payload)
	if err != nil {
		return "", err
	}
	id := s.newID()
	_, err = conn.ExecContext(ctx, `
		INSERT INTO sync_queue (id, type, payload, compressed, priority, status, retry_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`, id, itemType, stored, compressed, priority, StatusPending, s.now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("enqueue sync item: %w", err)
	}
	return id, nil
}

const priorityOrder = `CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END`

// ListPending returns pending feedback items, decompressed, in drain
// order.
func (s *Store) ListPending(ctx context.Context) ([]Item, error) {
	return s.listByStatus(ctx, "feedback_queue", KindFeedback, StatusPending)
}

// ListPendingSync returns pending generic sync items in drain order.
func (s *Store) ListPendingSync(ctx context.Context) ([]Item, error) {
	return s.listByStatus(ctx, "sync_queue", KindSync, StatusPending)
}

func (s *Store) listByStatus(ctx context.Context, table, kind, status string) ([]Item, error) {
	conn, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT `+itemColumns(table)+`
		FROM `+table+`
		WHERE status = ?
		ORDER BY `+priorityOrder+`, created_at ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()
	return scanItems(rows, kind)
}

// AllItems returns every feedback item regardless of status, decompressed,
// in drain order. Consumed by the status panel.
func (s *Store) AllItems(ctx context.Context) ([]Item, error) {
	conn, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `
		SELECT `+itemColumns("feedback_queue")+`
		FROM feedback_queue
		ORDER BY `+priorityOrder+`, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list feedback_queue: %w", err)
	}
	defer rows.Close()
	return scanItems(rows, KindFeedback)
}

func itemColumns(table string) string {
	extra := "type"
	if table == "feedback_queue" {
		extra = "contact"
	}
	return "id, " + extra + ", payload, compressed, priority, status, retry_count, last_error, created_at, last_retry_at"
}

func scanItems(rows *sql.Rows, kind string) ([]Item, error) {
	var out []Item
	for rows.Next() {
		var (
			it        Item
			extra     string
			payload   []byte
			createdNs int64
			retryNs   int64
		)
		if err := rows.Scan(&it.ID, &extra, &payload, &it.Compressed, &it.Priority, &it.Status, &it.RetryCount, &it.LastError, &createdNs, &retryNs); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		it.Kind = kind
		if kind == KindFeedback {
			it.Contact = extra
		} else {
			it.Type = extra
		}
		if it.Compressed {
			plain, err := decompress(payload)
			if err != nil {
				return nil, err
			}
			it.Payload = plain
		} else {
			it.Payload = payload
		}
		it.CreatedAt = time.Unix(0, createdNs)
		if retryNs > 0 {
			it.LastRetryAt = time.Unix(0, retryNs)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// UpdateStatus moves a feedback item through its state machine. A
// failure increments the retry count and records the error; reaching
// synced resets the retry count and clears the error.
func (s *Store) UpdateStatus(ctx context.Context, id, status, errMsg string) error {
	return s.updateStatus(ctx, "feedback_queue", id, status, errMsg)
}

// UpdateSyncStatus is UpdateStatus for the generic sync queue.
func (s *Store) UpdateSyncStatus(ctx context.Context, id, status, errMsg string) error {
	return s.updateStatus(ctx, "sync_queue", id, status, errMsg)
}

func (s *Store) updateStatus(ctx context.Context, table, id, status, errMsg string) error {
	conn, err := s.handle()
	if err != nil {
		return err
	}
	var res sql.Result
	switch status {
	case StatusFailed:
		res, err = conn.ExecContext(ctx, `
			UPDATE `+table+`
			SET status = ?, retry_count = retry_count + 1, last_error = ?, last_retry_at = ?
			WHERE id = ?
		`, status, errMsg, s.now().UnixNano(), id)
	case StatusSynced:
		res, err = conn.ExecContext(ctx, `
			UPDATE `+table+`
			SET status = ?, retry_count = 0, last_error = ''
			WHERE id = ?
		`, status, id)
	case StatusPending, StatusSyncing:
		res, err = conn.ExecContext(ctx, `
			UPDATE `+table+`
			SET status = ?
			WHERE id = ?
		`, status, id)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err != nil {
		return fmt.Errorf("update %s status: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Remove deletes one feedback item.
func (s *Store) Remove(ctx context.Context, id string) error {
	conn, err := s.handle()
	if err != nil {
		return err
	}
	res, err := conn.ExecContext(ctx, `DELETE FROM feedback_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("remove queue item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ClearSynced deletes all synced items from both queues and reports how
// many rows went away.
func (s *Store) ClearSynced(ctx context.Context) (int64, error) {
	conn, err := s.handle()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, table := range []string{"feedback_queue", "sync_queue"} {
		res, err := conn.ExecContext(ctx, `DELETE FROM `+table+` WHERE status = ?`, StatusSynced)
		if err != nil {
			return total, fmt.Errorf("clear synced from %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// RequeueFailed moves every failed item back to pending on both queues,
// keeping retry counts intact, so a forced sync attempts them again.
func (s *Store) RequeueFailed(ctx context.Context) (int64, error) {
	conn, err := s.handle()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, table := range []string{"feedback_queue", "sync_queue"} {
		res, err := conn.ExecContext(ctx, `UPDATE `+table+` SET status = ? WHERE status = ?`, StatusPending, StatusFailed)
		if err != nil {
			return total, fmt.Errorf("requeue failed in %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// CountByStatus aggregates item counts across both queues.
func (s *Store) CountByStatus(ctx context.Context) (StatusCounts, error) {
	conn, err := s.handle()
	if err != nil {
		return StatusCounts{}, err
	}
	var counts StatusCounts
	rows, err := conn.QueryContext(ctx, `
		SELECT status, COUNT(1) FROM (
			SELECT status FROM feedback_queue
			UNION ALL
			SELECT status FROM sync_queue
		) GROUP BY status
	`)
	if err != nil {
		return counts, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, err
		}
		switch status {
		case StatusPending:
			counts.Pending = n
		case StatusSyncing:
			counts.Syncing = n
		case StatusFailed:
			counts.Failed = n
		case StatusSynced:
			counts.Synced = n
		}
	}
	return counts, rows.Err()
}
