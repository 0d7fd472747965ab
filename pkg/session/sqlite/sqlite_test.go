// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/session"
)

type payload struct {
	User string `json:"user"`
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sessions.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "k1", payload{User: "alice"}, time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var got payload
	if err := s.Get(ctx, "k1", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.User != "alice" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestCreateRejectsLiveDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "k1", payload{User: "alice"}, time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, "k1", payload{User: "bob"}, time.Hour); !errors.Is(err, session.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestCreateReusesDeadRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "k1", payload{User: "alice"}, time.Millisecond); err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if err := s.Create(ctx, "k1", payload{User: "bob"}, time.Hour); err != nil {
		t.Fatalf("expired row must be replaceable: %v", err)
	}

	var got payload
	if err := s.Get(ctx, "k1", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.User != "bob" {
		t.Fatalf("stale payload survived: %+v", got)
	}
}

func TestGetExpiredDropsRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "k1", payload{User: "alice"}, time.Millisecond); err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	var got payload
	if err := s.Get(ctx, "k1", &got); !errors.Is(err, session.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if err := s.Get(ctx, "k1", &got); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after drop, got %v", err)
	}
}

func TestUpdateMissing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Update(context.Background(), "missing", payload{}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAndExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "k1", payload{User: "alice"}, 0); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ok, err := s.Exists(ctx, "k1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatal("session missing after Create")
	}

	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k1"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefreshPersistsSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "k1", payload{User: "alice"}, 50*time.Millisecond); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Refresh(ctx, "k1", 0); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	ok, err := s.Exists(ctx, "k1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !ok {
		t.Fatal("persistent session expired")
	}
}

func TestCleanupAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, "live", payload{User: "a"}, time.Hour); err != nil {
		t.Fatalf("Create live: %v", err)
	}
	if err := s.Create(ctx, "dead", payload{User: "b"}, time.Millisecond); err != nil {
		t.Fatalf("Create dead: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if err := s.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Backend != "sqlite" {
		t.Errorf("unexpected backend: %q", stats.Backend)
	}
	if stats.ActiveSessions != 1 {
		t.Errorf("active sessions: got %d want 1", stats.ActiveSessions)
	}
	if stats.TotalCreated != 2 {
		t.Errorf("total created: got %d want 2", stats.TotalCreated)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.db")
	ctx := context.Background()

	s, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := s.Create(ctx, "k1", payload{User: "alice"}, time.Hour); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := New(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	var got payload
	if err := reopened.Get(ctx, "k1", &got); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.User != "alice" {
		t.Fatalf("session lost across reopen: %+v", got)
	}
}
