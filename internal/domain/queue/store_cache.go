package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const cacheVersion = 1

// SetCache stores data under key. A ttl of zero or less means the entry
// never expires. Re-setting an existing key replaces it.
func (s *Store) SetCache(ctx context.Context, key string, data json.RawMessage, ttl time.Duration) error {
	conn, err := s.handle()
	if err != nil {
		return err
	}
	now := s.now()
	expires := int64(0)
	if ttl > 0 {
		expires = now.Add(ttl).UnixNano()
	}
	_, err = conn.ExecContext(ctx, `
		INSERT INTO cache (key, payload, version, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, version = excluded.version,
			created_at = excluded.created_at, expires_at = excluded.expires_at
	`, key, []byte(data), cacheVersion, now.UnixNano(), expires)
	if err != nil {
		return fmt.Errorf("set cache %q: %w", key, err)
	}
	return nil
}

// GetCache returns the cached payload for key. An entry past its expiry
// behaves as absent and is physically removed on the spot.
func (s *Store) GetCache(ctx context.Context, key string) (json.RawMessage, error) {
	conn, err := s.handle()
	if err != nil {
		return nil, err
	}
	var (
		payload []byte
		expires int64
	)
	row := conn.QueryRowContext(ctx, `SELECT payload, expires_at FROM cache WHERE key = ?`, key)
	if err := row.Scan(&payload, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cache key %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("get cache %q: %w", key, err)
	}
	if expires > 0 && s.now().UnixNano() >= expires {
		if _, err := conn.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key); err != nil {
			return nil, fmt.Errorf("evict expired cache %q: %w", key, err)
		}
		return nil, fmt.Errorf("%w: cache key %s", ErrNotFound, key)
	}
	return payload, nil
}

// DeleteExpiredCache sweeps out every entry whose expiry has passed.
func (s *Store) DeleteExpiredCache(ctx context.Context) (int64, error) {
	conn, err := s.handle()
	if err != nil {
		return 0, err
	}
	res, err := conn.ExecContext(ctx, `DELETE FROM cache WHERE expires_at > 0 AND expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sweep cache: %w", err)
	}
	return res.RowsAffected()
}
