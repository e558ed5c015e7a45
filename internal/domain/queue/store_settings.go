package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SetSetting stores a key-value setting and marks it unsynced so it is
// propagated to the remote settings store on a later sync pass.
func (s *Store) SetSetting(ctx context.Context, key string, value json.RawMessage) error {
	conn, err := s.handle()
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO settings (key, value, synced, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, synced = 0, updated_at = excluded.updated_at
	`, key, string(value), s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (json.RawMessage, error) {
	conn, err := s.handle()
	if err != nil {
		return nil, err
	}
	var value string
	row := conn.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: setting %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("get setting %q: %w", key, err)
	}
	return json.RawMessage(value), nil
}

// UnsyncedSettings lists settings not yet propagated remotely.
func (s *Store) UnsyncedSettings(ctx context.Context) ([]Setting, error) {
	conn, err := s.handle()
	if err != nil {
		return nil, err
	}
	rows, err := conn.QueryContext(ctx, `SELECT key, value, synced, updated_at FROM settings WHERE synced = 0 ORDER BY updated_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unsynced settings: %w", err)
	}
	defer rows.Close()
	var out []Setting
	for rows.Next() {
		var (
			st        Setting
			value     string
			updatedNs int64
		)
		if err := rows.Scan(&st.Key, &value, &st.Synced, &updatedNs); err != nil {
			return nil, err
		}
		st.Value = json.RawMessage(value)
		st.UpdatedAt = time.Unix(0, updatedNs)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) MarkSettingSynced(ctx context.Context, key string) error {
	conn, err := s.handle()
	if err != nil {
		return err
	}
	res, err := conn.ExecContext(ctx, `UPDATE settings SET synced = 1 WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("mark setting synced %q: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: setting %s", ErrNotFound, key)
	}
	return nil
}
