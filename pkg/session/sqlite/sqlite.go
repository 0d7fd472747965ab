// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package sqlite provides a file-backed session store for single-node
// deployments that must survive restarts without a Redis dependency.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	key        TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	expires_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

CREATE TABLE IF NOT EXISTS counters (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// Store implements session.Store on a local SQLite database.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// New opens (or creates) the database at path and applies the schema. WAL
// mode keeps concurrent reads cheap while the proxy writes sessions.
func New(path string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "session-sqlite").Logger(),
	}, nil
}

// expiresArg converts a ttl into the nullable unix-milli column value.
func expiresArg(ttl time.Duration, now time.Time) any {
	if ttl <= 0 {
		return nil
	}
	return now.Add(ttl).UnixMilli()
}

// Create implements session.Store.
func (s *Store) Create(ctx context.Context, key string, data any, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}

	now := time.Now()

	// Replace dead rows in place so a stale key does not block reuse.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (key, data, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
		WHERE sessions.expires_at IS NOT NULL AND sessions.expires_at <= ?`,
		key, string(raw), expiresArg(ttl, now), now.UnixMilli(), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return session.ErrExists
	}

	s.bump(ctx, "created")
	return nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, key string, data any) error {
	var (
		raw       string
		expiresAt sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, expires_at FROM sessions WHERE key = ?`, key).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select session: %w", err)
	}

	if expiresAt.Valid && time.Now().UnixMilli() > expiresAt.Int64 {
		s.drop(ctx, key)
		return session.ErrExpired
	}

	if err := json.Unmarshal([]byte(raw), data); err != nil {
		return fmt.Errorf("unmarshal session data: %w", err)
	}
	return nil
}

// Update implements session.Store.
func (s *Store) Update(ctx context.Context, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}

	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET data = ?, updated_at = ?
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		string(raw), now, key, now)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}

	s.bump(ctx, "deleted")
	return nil
}

// Exists implements session.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM sessions
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		key, time.Now().UnixMilli()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("select session: %w", err)
	}
	return n > 0, nil
}

// Refresh implements session.Store.
func (s *Store) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET expires_at = ?, updated_at = ?
		WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)`,
		expiresArg(ttl, now), now.UnixMilli(), key, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Cleanup removes expired rows.
func (s *Store) Cleanup(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("cleanup sessions: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug().Int64("count", n).Msg("swept expired sessions")
	}
	return nil
}

// Stats implements session.Store.
func (s *Store) Stats(ctx context.Context) (session.Stats, error) {
	stats := session.Stats{Backend: "sqlite"}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM sessions
		WHERE expires_at IS NULL OR expires_at > ?`,
		time.Now().UnixMilli()).Scan(&stats.ActiveSessions)
	if err != nil {
		return session.Stats{}, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return session.Stats{}, fmt.Errorf("read counters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return session.Stats{}, fmt.Errorf("scan counter: %w", err)
		}
		switch name {
		case "created":
			stats.TotalCreated = value
		case "deleted":
			stats.TotalDeleted = value
		}
	}
	if err := rows.Err(); err != nil {
		return session.Stats{}, fmt.Errorf("iterate counters: %w", err)
	}

	return stats, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) bump(ctx context.Context, name string) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1`, name)
	if err != nil {
		s.logger.Warn().Err(err).Str("counter", name).Msg("bump counter failed")
	}
}

func (s *Store) drop(ctx context.Context, key string) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
		s.logger.Warn().Err(err).Msg("drop expired session failed")
	} else {
		s.bump(ctx, "deleted")
	}
}
