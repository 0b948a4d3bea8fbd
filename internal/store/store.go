// Package store is the event/connection/sync-state persistence layer,
// generalized from the teacher's internal/db package: same SQLite driver,
// pool tuning, PRAGMAs, and incremental-ALTER-TABLE migration idiom, applied
// to the triple-keyed (user, connection, calendar) schema spec.md §6 names.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	ErrNotFound     = errors.New("store: record not found")
	ErrDatabaseInit = errors.New("store: database initialization failed")
)

// Store wraps the shared *sql.DB pool. It is safe for concurrent use; each
// caller obtains its own statement execution against the pool rather than a
// dedicated connection, per spec.md §5's resource model.
type Store struct {
	conn *sql.DB
}

// Open creates or migrates the database at dbPath.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory: %w", ErrDatabaseInit, err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrDatabaseInit, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(0)
	conn.SetConnMaxIdleTime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA secure_delete=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("%w: failed to set pragma: %w", ErrDatabaseInit, err)
		}
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := os.Chmod(dbPath, 0600); err != nil {
		_ = err
	}

	return s, nil
}

func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Store) Conn() *sql.DB { return s.conn }

func (s *Store) Ping() error { return s.conn.Ping() }

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS external_connections (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			platform_type TEXT NOT NULL,
			credential_ciphertext TEXT NOT NULL,
			sync_enabled INTEGER NOT NULL DEFAULT 1,
			sync_status TEXT NOT NULL DEFAULT 'idle',
			last_sync_at DATETIME,
			last_error TEXT,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_external_connections_user_id ON external_connections(user_id)`,

		`CREATE TABLE IF NOT EXISTS sync_state (
			user_id TEXT NOT NULL,
			connection_id TEXT NOT NULL,
			external_calendar_id TEXT NOT NULL,
			delta_token TEXT,
			updated_min DATETIME,
			last_window_start DATETIME,
			last_window_end DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, connection_id, external_calendar_id),
			FOREIGN KEY (connection_id) REFERENCES external_connections(id) ON DELETE CASCADE
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			source_platform TEXT NOT NULL,
			external_calendar_id TEXT NOT NULL,
			external_event_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			recurrence_rule TEXT NOT NULL DEFAULT '',
			start_utc DATETIME NOT NULL,
			end_utc DATETIME,
			all_day INTEGER NOT NULL DEFAULT 0,
			attendees TEXT NOT NULL DEFAULT '[]',
			external_updated_at DATETIME,
			external_version TEXT NOT NULL DEFAULT '',
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(user_id, source_platform, external_calendar_id, external_event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_lookup ON events(user_id, source_platform, external_calendar_id, external_event_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_external_updated_at ON events(external_updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_deleted ON events(deleted)`,

		`CREATE TABLE IF NOT EXISTS malformed_events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			connection_id TEXT NOT NULL,
			external_calendar_id TEXT NOT NULL,
			external_event_id TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL,
			discovered_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (connection_id) REFERENCES external_connections(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_malformed_events_connection_id ON malformed_events(connection_id)`,
	}

	for _, migration := range migrations {
		if _, err := s.conn.Exec(migration); err != nil {
			if !isDuplicateColumnError(err) {
				return fmt.Errorf("%w: migration failed: %w", ErrDatabaseInit, err)
			}
		}
	}

	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "duplicate column") || strings.Contains(errStr, "already exists")
}
