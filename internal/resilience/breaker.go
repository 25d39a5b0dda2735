// Package resilience guards calls to the OCR, AI and storage collaborators.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is a breaker state. The numeric values are exported as a gauge.
type State int

const (
	Closed   State = iota // calls flow
	Open                  // calls skipped
	HalfOpen              // one probe at a time
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrOpen is returned by Allow while the breaker is open or a probe is
// already in flight.
var ErrOpen = errors.New("circuit breaker open")

// Breaker stops calling a failing collaborator for a cooldown, then lets
// single probes through until enough of them succeed.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time
	hook func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	probeOK  int
	probing  bool
	openedAt time.Time
}

// New creates a closed breaker.
func New(name string, cfg Config) *Breaker {
	return &Breaker{name: name, cfg: cfg.withDefaults(), now: time.Now}
}

// WithHook sets a state change callback. It runs outside the breaker lock.
// Set it before the breaker is shared.
func (b *Breaker) WithHook(fn func(name string, from, to State)) *Breaker {
	b.hook = fn
	return b
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Name returns the breaker name.
func (b *Breaker) Name() string { return b.name }

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by Record, Success or Failure.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.mu.Unlock()
		return nil
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.setLocked(HalfOpen)
	case HalfOpen:
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	b.probing = true
	b.mu.Unlock()
	b.notify(from, HalfOpen)
	return nil
}

// Record classifies the outcome of an allowed call. Cancellation by the
// caller says nothing about the collaborator and only releases the probe.
func (b *Breaker) Record(err error) {
	switch {
	case err == nil:
		b.Success()
	case errors.Is(err, context.Canceled):
		b.mu.Lock()
		b.probing = false
		b.mu.Unlock()
	case b.cfg.Trips(err):
		b.Failure()
	default:
		b.Success()
	}
}

// Success records a healthy call.
func (b *Breaker) Success() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.probing = false
		b.probeOK++
		if b.probeOK >= b.cfg.Probes {
			b.setLocked(Closed)
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.Threshold {
			b.setLocked(Open)
		}
	case HalfOpen:
		b.setLocked(Open)
	}
	to, failures := b.state, b.failures
	b.mu.Unlock()
	if from != to {
		slog.Warn("circuit breaker opened", "breaker", b.name, "failures", failures)
	}
	b.notify(from, to)
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.setLocked(Closed)
	b.mu.Unlock()
	b.notify(from, Closed)
}

// setLocked moves to state and clears the counters. It returns the
// previous state.
func (b *Breaker) setLocked(to State) State {
	from := b.state
	b.state = to
	b.failures, b.probeOK, b.probing = 0, 0, false
	if to == Open {
		b.openedAt = b.now()
	}
	return from
}

func (b *Breaker) notify(from, to State) {
	if from == to {
		return
	}
	slog.Info("circuit breaker state change", "breaker", b.name, "from", from, "to", to)
	if b.hook != nil {
		b.hook(b.name, from, to)
	}
}

// Execute runs fn when the breaker allows it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err)
	return err
}

// ExecuteWithResult is Execute for calls that return a value.
func ExecuteWithResult[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var v T
	err := b.Execute(func() error {
		var err error
		v, err = fn()
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
