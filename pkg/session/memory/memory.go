// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package memory provides the in-process session store used for single-node
// deployments and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/session"
)

const defaultCleanupInterval = 5 * time.Minute

type entry struct {
	data      json.RawMessage
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store keeps sessions in a mutex-guarded map with a background sweep for
// expired entries.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  zerolog.Logger

	created int64
	deleted int64

	stop chan struct{}
	once sync.Once
}

// Option tunes a memory store.
type Option func(*options)

type options struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval overrides how often expired entries are swept. Zero
// disables the background sweep.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.cleanupInterval = d }
}

// New creates a memory store and starts its cleanup loop.
func New(logger zerolog.Logger, opts ...Option) *Store {
	o := options{cleanupInterval: defaultCleanupInterval}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		entries: make(map[string]*entry),
		logger:  logger.With().Str("component", "session-memory").Logger(),
		stop:    make(chan struct{}),
	}

	if o.cleanupInterval > 0 {
		go s.sweepLoop(o.cleanupInterval)
	}
	return s
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	now := time.Now()
	s.mu.Lock()
	var removed int
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			s.deleted++
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug().Int("count", removed).Msg("swept expired sessions")
	}
}

// Create implements session.Store.
func (s *Store) Create(ctx context.Context, key string, data any, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && !e.expired(time.Now()) {
		return session.ErrExists
	}

	e := &entry{data: raw}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = e
	s.created++
	return nil
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, key string, data any) error {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return session.ErrNotFound
	}
	if e.expired(time.Now()) {
		s.evict(key)
		return session.ErrExpired
	}
	if err := json.Unmarshal(e.data, data); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return session.ErrNotFound
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		s.deleted++
		return session.ErrExpired
	}
	e.data = raw
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return session.ErrNotFound
	}
	delete(s.entries, key)
	s.deleted++
	return nil
}

// Exists implements session.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if e.expired(time.Now()) {
		s.evict(key)
		return false, nil
	}
	return true, nil
}

// Refresh implements session.Store.
func (s *Store) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return session.ErrNotFound
	}
	if e.expired(time.Now()) {
		delete(s.entries, key)
		s.deleted++
		return session.ErrExpired
	}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	return nil
}

// Cleanup implements session.Store.
func (s *Store) Cleanup(ctx context.Context) error {
	s.sweep()
	return nil
}

// Stats implements session.Store.
func (s *Store) Stats(ctx context.Context) (session.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return session.Stats{
		ActiveSessions: int64(len(s.entries)),
		TotalCreated:   s.created,
		TotalDeleted:   s.deleted,
		Backend:        "memory",
	}, nil
}

// Close stops the sweep loop and drops all sessions.
func (s *Store) Close() error {
	s.once.Do(func() { close(s.stop) })

	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
	return nil
}

func (s *Store) evict(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok && e.expired(time.Now()) {
		delete(s.entries, key)
		s.deleted++
	}
}
