// Package resilience provides the waiting and failure-isolation primitives of
// voicebank.
//
// [Retry] and the [Schedule] implementations drive the bounded, cancellable
// wait for a voice file when a pool is momentarily empty. [CircuitBreaker] is
// a classic three-state breaker (closed → open → half-open) that keeps a
// failing external generator (speech synthesis, lip-sync) from being hammered
// while voice files are held on its behalf.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] instead of calling
// the wrapped function.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects every call until ResetTimeout has passed since it
	// tripped.
	StateOpen
	// StateHalfOpen admits up to HalfOpenMax trial calls. All of them must
	// succeed to close the breaker; one failure trips it again.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero fields take the
// defaults noted.
type CircuitBreakerConfig struct {
	Name string // log and metric label, e.g. "synthesizer/elevenlabs#0"

	MaxFailures  int           // consecutive failures that trip a closed breaker (5)
	ResetTimeout time.Duration // how long a tripped breaker rejects calls (30s)
	HalfOpenMax  int           // trial calls that must succeed to close again (3)

	// OnStateChange is called after each transition, outside the breaker's
	// lock.
	OnStateChange func(name string, from, to State)

	// Now is the breaker's clock (time.Now).
	Now func() time.Time
}

// CircuitBreaker guards calls to one generator backend. Safe for concurrent
// use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	trippedAt time.Time
	trials    int // admitted since entering half-open
	passed    int // trials that succeeded
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

type outcome int

const (
	succeeded outcome = iota
	failed
	// abandoned calls ended because their caller gave up. They say nothing
	// about the backend and are not counted either way.
	abandoned
)

func outcomeOf(ctx context.Context, err error) outcome {
	switch {
	case err == nil:
		return succeeded
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return abandoned
	}
	return failed
}

// transition is reported to OnStateChange. from == to means none happened.
type transition struct{ from, to State }

// Execute calls fn unless the breaker rejects it with [ErrCircuitOpen], and
// returns fn's error unchanged. A ctx that is already done is returned as
// ctx.Err() without calling fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.settle(trial, outcomeOf(ctx, err))
	return err
}

// admit decides whether a call may run and whether it is a half-open trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	var t transition
	cb.mu.Lock()
	defer func() {
		cb.mu.Unlock()
		cb.notify(t)
	}()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.trippedAt) < cb.cfg.ResetTimeout {
			return false, ErrCircuitOpen
		}
		t = cb.moveTo(StateHalfOpen)
	}
	if cb.state == StateClosed {
		return false, nil
	}
	if cb.trials >= cb.cfg.HalfOpenMax {
		return false, ErrCircuitOpen
	}
	cb.trials++
	return true, nil
}

// settle books the outcome of an admitted call. A call admitted under an
// earlier state is judged by the state it was admitted in.
func (cb *CircuitBreaker) settle(trial bool, out outcome) {
	var t transition
	cb.mu.Lock()
	halfOpen := cb.state == StateHalfOpen
	switch {
	case out == abandoned:
		if trial && halfOpen {
			cb.trials--
		}
	case !trial && out == succeeded:
		cb.failures = 0
	case !trial:
		cb.failures++
		if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
			t = cb.moveTo(StateOpen)
		}
	case !halfOpen:
		// Trial from a half-open period that already ended.
	case out == succeeded:
		cb.passed++
		if cb.passed >= cb.cfg.HalfOpenMax {
			t = cb.moveTo(StateClosed)
		}
	default:
		t = cb.moveTo(StateOpen)
	}
	cb.mu.Unlock()
	cb.notify(t)
}

// moveTo enters state to with fresh counters. cb.mu must be held.
func (cb *CircuitBreaker) moveTo(to State) transition {
	t := transition{from: cb.state, to: to}
	cb.state = to
	cb.failures, cb.trials, cb.passed = 0, 0, 0
	if to == StateOpen {
		cb.trippedAt = cb.cfg.Now()
	}

	if t.from != to {
		level := slog.LevelInfo
		if to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state changed",
			"name", cb.cfg.Name, "from", t.from.String(), "to", to.String())
	}
	return t
}

func (cb *CircuitBreaker) notify(t transition) {
	if t.from != t.to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
	}
}

// State returns the breaker's state. An open breaker whose ResetTimeout has
// passed reports [StateHalfOpen]; it moves there on the next Execute.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.trippedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.moveTo(StateClosed)
	cb.mu.Unlock()
	cb.notify(t)
}
