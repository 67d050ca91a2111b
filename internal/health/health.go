// Package health serves the liveness and readiness endpoints of voicebank.
//
// GET /healthz answers 200 while the process can serve HTTP at all.
// GET /readyz runs every [Checker] concurrently and answers 503 when one of
// them fails or the server has started draining. Its body is a [Report]
// listing each check with its latency, followed by the voice pool statistics
// when a source is attached with [Handler.WithPools].
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebank/internal/voicepool"
)

// DefaultTimeout bounds each readiness check.
const DefaultTimeout = 2 * time.Second

// Status is the overall verdict of a [Report].
type Status string

const (
	StatusOK       Status = "ok"
	StatusFail     Status = "fail"
	StatusDraining Status = "draining"
)

// Checker is one named readiness condition. Check returns nil while the
// condition holds and must return promptly once ctx is done.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Name      string  `json:"name"`
	OK        bool    `json:"ok"`
	Error     string  `json:"error,omitempty"`
	ElapsedMS float64 `json:"elapsed_ms"`
}

// Report is the /readyz response body.
type Report struct {
	Status Status            `json:"status"`
	Checks []CheckResult     `json:"checks,omitempty"`
	Pools  []voicepool.Stats `json:"pools,omitempty"`
}

// Handler evaluates readiness. Its checkers are fixed by [New].
type Handler struct {
	checkers []Checker
	pools    func() []voicepool.Stats
	timeout  time.Duration
	draining atomic.Bool
}

// New returns a Handler evaluating checkers in the order given.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  DefaultTimeout,
	}
}

// WithPools attaches the pool statistics reported by /readyz and returns h.
func (h *Handler) WithPools(fn func() []voicepool.Stats) *Handler {
	h.pools = fn
	return h
}

// WithTimeout replaces [DefaultTimeout] and returns h. Non-positive values
// are ignored.
func (h *Handler) WithTimeout(d time.Duration) *Handler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

// Drain makes every later readiness evaluation report [StatusDraining], so
// load balancers stop routing new dialogue to a server that is shutting down.
// Liveness is unaffected.
func (h *Handler) Drain() { h.draining.Store(true) }

// Evaluate runs all checkers concurrently, each under its own timeout, and
// returns their results in registration order.
func (h *Handler) Evaluate(ctx context.Context) Report {
	results := make([]CheckResult, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			results[i] = h.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK, Checks: results}
	for _, r := range results {
		if !r.OK {
			rep.Status = StatusFail
			break
		}
	}
	if h.draining.Load() {
		rep.Status = StatusDraining
	}
	if h.pools != nil {
		rep.Pools = h.pools()
	}
	return rep
}

func (h *Handler) run(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{
		Name:      c.Name,
		OK:        err == nil,
		ElapsedMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}

// Register mounts GET /healthz and GET /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Report{Status: StatusOK})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		rep := h.Evaluate(r.Context())
		status := http.StatusOK
		if rep.Status != StatusOK {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, rep)
	})
}

// PoolCapacity fails while p owns no voice files. Every unmapped emotion
// falls back to the Neutral pool, so an empty Neutral pool means no line can
// ever be delivered.
func PoolCapacity(p *voicepool.Pool) Checker {
	return Checker{
		Name: "pool_" + p.Name(),
		Check: func(context.Context) error {
			if p.Capacity() == 0 {
				return fmt.Errorf("pool %q has no voice files", p.Name())
			}
			return nil
		},
	}
}

// Ping wraps a connectivity check such as (*pgxpool.Pool).Ping. A nil ping
// always fails.
func Ping(name string, ping func(ctx context.Context) error) Checker {
	return Checker{
		Name: name,
		Check: func(ctx context.Context) error {
			if ping == nil {
				return errors.New("not connected")
			}
			return ping(ctx)
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
