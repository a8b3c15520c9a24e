// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/averyhale/trawl-tui/internal/model"
)

// ErrNotCached indicates the requested entry has never been cached.
var ErrNotCached = errors.New("not cached")

// schemaVersion bumps when the table layout changes; a mismatched cache
// is dropped and rebuilt rather than migrated. It holds no primary data.
const schemaVersion = "1"

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	topic      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT 0,
	is_shared  INTEGER NOT NULL DEFAULT 0,
	shared_by  TEXT NOT NULL DEFAULT '',
	share_mode TEXT NOT NULL DEFAULT '',
	position   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	position   INTEGER NOT NULL,
	id         TEXT NOT NULL,
	sender     TEXT NOT NULL,
	text       TEXT NOT NULL,
	status     TEXT NOT NULL,
	timestamp  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (session_id, position)
);

CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// =============================================================================
// CACHE STORE
// =============================================================================

// Store is a local sqlite cache of the session list and transcripts, used
// to render content before the first network round-trip. The backend is
// always authoritative; the cache is overwritten on every successful
// fetch.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var stored string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = s.db.Exec("INSERT INTO metadata (key, value) VALUES ('schema_version', ?)", schemaVersion)
		return err
	case err != nil:
		return err
	case stored != schemaVersion:
		// Old layout: drop and rebuild. The cache holds no primary data.
		if _, err := s.db.Exec("DROP TABLE sessions; DROP TABLE messages; DROP TABLE metadata"); err != nil {
			return err
		}
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
		_, err = s.db.Exec("INSERT INTO metadata (key, value) VALUES ('schema_version', ?)", schemaVersion)
		return err
	}
	return nil
}

// Close closes the cache database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// =============================================================================
// SESSION LIST
// =============================================================================

// SaveSessions replaces the cached session list, preserving order.
func (s *Store) SaveSessions(sessions []model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO sessions
		(id, topic, created_at, is_shared, shared_by, share_mode, position)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, sess := range sessions {
		shared := 0
		if sess.IsShared {
			shared = 1
		}
		if _, err := stmt.Exec(sess.ID, sess.Topic, sess.CreatedAt.Unix(), shared,
			sess.SharedBy, string(sess.ShareMode), i); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadSessions returns the cached session list in its stored order.
// Returns ErrNotCached when no list has ever been saved.
func (s *Store) LoadSessions() ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, topic, created_at, is_shared, shared_by, share_mode
		FROM sessions ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		var sess model.Session
		var createdAt int64
		var shared int
		var mode string
		if err := rows.Scan(&sess.ID, &sess.Topic, &createdAt, &shared, &sess.SharedBy, &mode); err != nil {
			return nil, err
		}
		sess.CreatedAt = time.Unix(createdAt, 0)
		sess.IsShared = shared != 0
		sess.ShareMode = model.ShareMode(mode)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if sessions == nil {
		return nil, ErrNotCached
	}
	return sessions, nil
}

// =============================================================================
// TRANSCRIPTS
// =============================================================================

// SaveTranscript replaces the cached transcript for a session.
func (s *Store) SaveTranscript(sessionID string, messages []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO messages
		(session_id, position, id, sender, text, status, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, msg := range messages {
		if _, err := stmt.Exec(sessionID, i, msg.ID, string(msg.Sender), msg.Text,
			string(msg.Status), msg.Timestamp.Unix()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LoadTranscript returns the cached transcript for a session in order.
// Returns ErrNotCached when the session has no cached transcript.
func (s *Store) LoadTranscript(sessionID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, sender, text, status, timestamp
		FROM messages WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		var sender, status string
		var ts int64
		if err := rows.Scan(&msg.ID, &sender, &msg.Text, &status, &ts); err != nil {
			return nil, err
		}
		msg.Sender = model.Sender(sender)
		msg.Status = model.Status(status)
		msg.Timestamp = time.Unix(ts, 0)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if messages == nil {
		return nil, ErrNotCached
	}
	return messages, nil
}

// DeleteSession removes a session and its transcript from the cache.
func (s *Store) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sessions WHERE id = ?", sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// Clear empties the entire cache.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM messages"); err != nil {
		return err
	}
	return tx.Commit()
}
