// Package sqlite is the reference durable store: principals, MFA methods,
// backup codes, role assignments, and the append-only audit_events table,
// all in one SQLite file so every subflow shares transaction and visibility
// boundaries. Deployments with their own persistence implement the
// interfaces in the root package instead.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS principals (
	id            TEXT PRIMARY KEY,
	identifier    TEXT NOT NULL,
	org_scope     TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	status        TEXT NOT NULL,
	failed_logins INTEGER NOT NULL DEFAULT 0,
	locked_until  INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL,
	UNIQUE (identifier, org_scope)
);

CREATE TABLE IF NOT EXISTS mfa_methods (
	id           TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL,
	type         TEXT NOT NULL,
	destination  TEXT NOT NULL DEFAULT '',
	secret       BLOB,
	verified     INTEGER NOT NULL DEFAULT 0,
	is_primary   INTEGER NOT NULL DEFAULT 0,
	totp_counter INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mfa_methods_principal ON mfa_methods (principal_id);

CREATE TABLE IF NOT EXISTS backup_codes (
	principal_id TEXT NOT NULL,
	hash         BLOB NOT NULL,
	used         INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (principal_id, hash)
);

CREATE TABLE IF NOT EXISTS role_assignments (
	id           TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL,
	role         TEXT NOT NULL,
	org_scope    TEXT NOT NULL DEFAULT '',
	effect       TEXT NOT NULL DEFAULT 'allow',
	valid_from   INTEGER NOT NULL DEFAULT 0,
	valid_until  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_role_assignments_principal ON role_assignments (principal_id, org_scope);

CREATE TABLE IF NOT EXISTS audit_events (
	id        TEXT PRIMARY KEY,
	ts        INTEGER NOT NULL,
	action    TEXT NOT NULL,
	actor_id  TEXT NOT NULL DEFAULT '',
	target    TEXT NOT NULL DEFAULT '',
	org_scope TEXT NOT NULL DEFAULT '',
	family_id TEXT NOT NULL DEFAULT '',
	ip        TEXT NOT NULL DEFAULT '',
	outcome   TEXT NOT NULL,
	kind      TEXT NOT NULL DEFAULT '',
	metadata  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events (actor_id, ts);
`

// Store implements the root package's PrincipalDirectory, the mfa package's
// MethodStore, the authz package's AssignmentSource, and the audit sink.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store and applies the embedded schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the raw handle for callers that layer their own queries on the
// same file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// toMillis normalizes timestamps to millisecond precision for storage.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and UTC normalization.
func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
