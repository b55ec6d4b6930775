// Package sqlite provides durable implementations of the outbound ports
// (PolicyStore, CounterStore, AuditSink) backed by modernc.org/sqlite, a
// pure-Go driver requiring no cgo toolchain. Intended for single-instance
// deployments that need state to survive a restart; internal/adapter/
// outbound/memory provides the faster, volatile equivalents.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	project_id TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS policy_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	document   TEXT NOT NULL,
	archived_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_policy_history_project ON policy_history(project_id);

CREATE TABLE IF NOT EXISTS counters (
	key    TEXT NOT NULL,
	at     TEXT NOT NULL,
	weight REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_counters_key ON counters(key);

CREATE TABLE IF NOT EXISTS audit (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id      TEXT NOT NULL,
	agent_name      TEXT NOT NULL,
	action_type     TEXT NOT NULL,
	params          TEXT NOT NULL,
	allowed         INTEGER NOT NULL,
	action_id       TEXT,
	decided_at      TEXT NOT NULL,
	reason          TEXT NOT NULL,
	policy_version  TEXT NOT NULL,
	execution_ms    REAL NOT NULL,
	simulated       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_project ON audit(project_id);
`

// Open opens (creating if needed) a SQLite database at path and applies the
// schema used by the PolicyStore, CounterStore, and AuditSink adapters in
// this package. Safe to call against an already-initialized database file.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return db, nil
}
