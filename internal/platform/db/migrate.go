package db

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema generation. Upgrades only add
// missing tables and indexes; existing rows are never dropped.
const SchemaVersion = 1

var migrations = map[int][]string{
	1: {
		`CREATE TABLE IF NOT EXISTS feedback_queue (
			id TEXT PRIMARY KEY,
			contact TEXT NOT NULL DEFAULT '',
			payload BLOB NOT NULL,
			compressed INTEGER NOT NULL DEFAULT 0,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			last_retry_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback_queue(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_status ON feedback_queue(status)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_priority ON feedback_queue(priority)`,
		`CREATE INDEX IF NOT EXISTS idx_feedback_contact ON feedback_queue(contact)`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			payload BLOB NOT NULL,
			compressed INTEGER NOT NULL DEFAULT 0,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			last_retry_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_created ON sync_queue(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_status ON sync_queue(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_priority ON sync_queue(priority)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_type ON sync_queue(type)`,

		`CREATE TABLE IF NOT EXISTS cache (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_created ON cache(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache(expires_at)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settings_synced ON settings(synced)`,

		`CREATE TABLE IF NOT EXISTS audit_events (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			user_role TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			resource_type TEXT NOT NULL,
			resource_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			before_state TEXT NOT NULL DEFAULT '',
			after_state TEXT NOT NULL DEFAULT '',
			encrypted INTEGER NOT NULL DEFAULT 0,
			hash TEXT NOT NULL,
			ip TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_ts ON audit_events(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_events(action)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_events(resource_type, resource_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_risk ON audit_events(risk_level)`,

		`CREATE TABLE IF NOT EXISTS retention_policies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			data_type TEXT NOT NULL,
			retention_days INTEGER NOT NULL,
			auto_delete INTEGER NOT NULL DEFAULT 0,
			archive_before_delete INTEGER NOT NULL DEFAULT 0,
			requires_approval INTEGER NOT NULL DEFAULT 0,
			extension_days INTEGER NOT NULL DEFAULT 0,
			archive_lead_days INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_retention_policies_type ON retention_policies(data_type, active)`,

		`CREATE TABLE IF NOT EXISTS retention_records (
			id TEXT PRIMARY KEY,
			data_type TEXT NOT NULL,
			record_id TEXT NOT NULL,
			policy_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			last_accessed INTEGER NOT NULL,
			scheduled_deletion INTEGER NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0,
			archive_location TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '',
			encrypted_blob BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_retention_records_type ON retention_records(data_type)`,
		`CREATE INDEX IF NOT EXISTS idx_retention_records_deletion ON retention_records(scheduled_deletion)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_retention_records_target ON retention_records(data_type, record_id)`,

		`CREATE TABLE IF NOT EXISTS retention_actions (
			id TEXT PRIMARY KEY,
			record_id TEXT NOT NULL,
			action TEXT NOT NULL,
			scheduled_at INTEGER NOT NULL,
			executed_at INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			approved_by TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_retention_actions_status ON retention_actions(status, scheduled_at)`,
		`CREATE INDEX IF NOT EXISTS idx_retention_actions_record ON retention_actions(record_id)`,

		`CREATE TABLE IF NOT EXISTS job_runs (
			id TEXT PRIMARY KEY,
			job_type TEXT NOT NULL,
			status TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '{}',
			started_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_runs_type ON job_runs(job_type, started_at)`,
	},
}

// Migrate brings the schema up to SchemaVersion.
func Migrate(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current := 0
	row := conn.QueryRow(`SELECT version FROM schema_version LIMIT 1`)
	if err := row.Scan(&current); err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read schema version: %w", err)
	}

	for v := current + 1; v <= SchemaVersion; v++ {
		for _, stmt := range migrations[v] {
			if _, err := conn.Exec(stmt); err != nil {
				return fmt.Errorf("migrate to v%d: %w", v, err)
			}
		}
	}

	if current == 0 {
		if _, err := conn.Exec(`INSERT INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	} else if current < SchemaVersion {
		if _, err := conn.Exec(`UPDATE schema_version SET version = ?`, SchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return nil
}
