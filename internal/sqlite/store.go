// Package sqlite persists health events, discovered patterns and the user
// directory in a single SQLite database.
//
// Store implements health.EventStore, lifecycle.PatternStore and the mining
// user directory. Rows keep the indexed columns queries filter on, and the
// full record as JSON.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrUserNotFound is returned when a user has no directory entry.
var ErrUserNotFound = errors.New("user not found")

// Store handles SQLite persistence.
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates a Store for dbPath, creating tables if needed. ":memory:"
// opens a private in-memory database that lives as long as the Store.
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Named so pooled connections share it and other stores do not.
		connStr = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	} else if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		ts INTEGER NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_user_ts ON events(user_id, ts DESC);

	CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		rule_key TEXT NOT NULL,
		status TEXT NOT NULL,
		confidence REAL NOT NULL,
		impact_score REAL NOT NULL,
		created_at INTEGER NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_patterns_user ON patterns(user_id, status);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_patterns_active_rule
		ON patterns(user_id, pattern_type, rule_key) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS applied_evidence (
		pattern_id TEXT NOT NULL,
		evidence_id TEXT NOT NULL,
		PRIMARY KEY (pattern_id, evidence_id)
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		active INTEGER NOT NULL DEFAULT 1
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
