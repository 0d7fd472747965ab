// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState is the circuit breaker position.
type BreakerState int

const (
	// StateClosed allows requests through.
	StateClosed BreakerState = iota
	// StateOpen rejects requests until the reset timeout passes.
	StateOpen
	// StateHalfOpen lets a probe request test the upstream.
	StateHalfOpen
)

// String returns the lowercase state name.
func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker trips after consecutive upstream failures and recovers through a
// half-open probe once the reset timeout has passed.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	timeout   time.Duration
	failures  int
	lastFail  time.Time
	state     BreakerState
	logger    zerolog.Logger
}

// NewBreaker builds a closed breaker with the given failure threshold and
// reset timeout.
func NewBreaker(threshold int, timeout time.Duration, logger zerolog.Logger) *Breaker {
	return &Breaker{
		threshold: threshold,
		timeout:   timeout,
		state:     StateClosed,
		logger:    logger.With().Str("component", "breaker").Logger(),
	}
}

// Allow reports whether a request may proceed, transitioning open → half-open
// once the reset timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.lastFail) > b.timeout {
			b.state = StateHalfOpen
			b.logger.Info().Msg("breaker half-open")
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateClosed
		b.logger.Info().Msg("breaker closed")
	}
	b.failures = 0
}

// RecordFailure counts a failure and may trip the breaker.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFail = time.Now()

	switch {
	case b.state == StateHalfOpen:
		b.state = StateOpen
		b.logger.Warn().Msg("breaker re-opened after failed probe")
	case b.state == StateClosed && b.failures >= b.threshold:
		b.state = StateOpen
		b.logger.Warn().Int("failures", b.failures).Msg("breaker opened")
	}
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
