// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package session defines the TTL-aware key/value store that backs proxy
// sessions. Backends live in the subpackages; selection happens at wiring
// time in the server command.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the key has no stored session.
	ErrNotFound = errors.New("session: not found")
	// ErrExpired indicates the session existed but its TTL has lapsed.
	ErrExpired = errors.New("session: expired")
	// ErrExists indicates a Create collided with a live session.
	ErrExists = errors.New("session: already exists")
)

// Store persists JSON-serializable session payloads under string keys. A ttl
// of zero means the entry never expires.
type Store interface {
	// Create stores data under key. Fails with ErrExists for live keys.
	Create(ctx context.Context, key string, data any, ttl time.Duration) error

	// Get decodes the stored payload into data, which must be a pointer.
	Get(ctx context.Context, key string, data any) error

	// Update replaces the payload of an existing session, keeping its expiry.
	Update(ctx context.Context, key string, data any) error

	// Delete removes a session. Deleting a missing key returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a live session is stored under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Refresh extends or clears (ttl == 0) the expiry of a session.
	Refresh(ctx context.Context, key string, ttl time.Duration) error

	// Cleanup removes expired entries where the backend needs manual sweeps.
	Cleanup(ctx context.Context) error

	// Stats reports backend counters for health reporting.
	Stats(ctx context.Context) (Stats, error)

	// Close releases backend resources.
	Close() error
}

// Stats holds store counters surfaced on the health endpoint.
type Stats struct {
	ActiveSessions int64  `json:"active_sessions"`
	TotalCreated   int64  `json:"total_created"`
	TotalDeleted   int64  `json:"total_deleted"`
	Backend        string `json:"backend"`
}
