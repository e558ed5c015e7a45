// Package db opens and migrates the agent's embedded SQLite database.
//
// Every durable collection the agent owns lives in one database file:
// the feedback and generic sync queues, the TTL cache, the settings
// store, the audit trail and the retention tables. The file is opened
// in WAL mode and limited to a single connection, which is how SQLite
// wants to be written to anyway.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// ErrUnsupported reports that the storage engine itself is unavailable,
// as opposed to an ordinary open failure that may be transient.
var ErrUnsupported = errors.New("sqlite storage engine unavailable")

// Open opens (creating if necessary) the database at path. Use ":memory:"
// for tests.
func Open(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		if strings.Contains(err.Error(), "unknown driver") {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer; one pooled connection also keeps
	// ":memory:" databases stable across statements.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	return conn, nil
}
