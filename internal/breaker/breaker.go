// Package breaker implements a generic circuit breaker (spec §4.4): three
// consecutive failures open the circuit, and an exponential backoff from
// 10s to 60s governs probe attempts while it is open.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"relaycore/internal/observability"

	"github.com/cenkalti/backoff/v5"
)

// ErrOpen is returned when a call is short-circuited because the breaker is
// open (§7: surfaced to callers as Unavailable).
var ErrOpen = errors.New("breaker: circuit open")

const failureThreshold = 3

type state int

const (
	closedState state = iota
	openState
	halfOpenState
)

// Breaker wraps an unreliable operation with the three-failures-opens
// policy. One Breaker instance guards one downstream dependency (e.g. the
// Notification RPC client).
type Breaker struct {
	name string

	mu           sync.Mutex
	st           state
	consecutive  int
	nextProbeAt  time.Time
	backoffState *backoff.ExponentialBackOff
}

// New returns a Breaker named name (used as the metrics label).
func New(name string) *Breaker {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	br := &Breaker{name: name, st: closedState, backoffState: b}
	observability.CircuitBreakerState.WithLabelValues(name).Set(0)
	return br
}

// Execute runs fn unless the breaker is open and not yet due for a probe,
// in which case it returns ErrOpen without calling fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return ErrOpen
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case closedState:
		return true
	case openState:
		if time.Now().Before(b.nextProbeAt) {
			return false
		}
		b.st = halfOpenState
		observability.CircuitBreakerState.WithLabelValues(b.name).Set(2)
		return true
	default: // halfOpenState: the single probe is still in flight
		return false
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.consecutive = 0
		b.backoffState.Reset()
		if b.st != closedState {
			b.st = closedState
			observability.CircuitBreakerState.WithLabelValues(b.name).Set(0)
		}
		return
	}

	b.consecutive++
	if b.st == halfOpenState {
		// Probe failed: reopen and advance backoff.
		b.trip()
		return
	}
	if b.consecutive >= failureThreshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.st = openState
	b.nextProbeAt = time.Now().Add(b.backoffState.NextBackOff())
	observability.CircuitBreakerState.WithLabelValues(b.name).Set(1)
	observability.CircuitBreakerTrips.WithLabelValues(b.name).Inc()
}

// State reports whether the breaker currently short-circuits calls.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.st {
	case openState:
		return "open"
	case halfOpenState:
		return "half_open"
	default:
		return "closed"
	}
}
