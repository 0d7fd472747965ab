// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute, zerolog.Nop())

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker tripped early after %d failures", i+1)
		}
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker allowed a request")
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute, zerolog.Nop())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond, zerolog.Nop())

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe to be allowed after timeout")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("successful probe must close the breaker, got %s", b.State())
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond, zerolog.Nop())

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("failed probe must reopen the breaker, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("reopened breaker allowed a request")
	}
}
