// Package voicepool implements exclusive, leak-free checkout of
// interchangeable voice files.
//
// A [Pool] is a fixed set of voice file names shared by every consumer that
// resolves to the same emotion bucket. [WithResource] removes one file from
// the pool, runs a caller-supplied task with it, and always puts the file
// back before returning, whether the task succeeded, failed, panicked or was
// cancelled. When the pool is momentarily empty the caller waits according
// to a bounded [resilience.Schedule] and finally receives
// [ErrNoAvailableResource].
//
// The pool's set is the only mutable shared state. Its mutex is held only
// while one element is removed or added, never while a task runs.
package voicepool

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voicebank/internal/observe"
)

// Pool is a concurrency-safe set of available voice files. The set of files
// a pool owns is fixed at construction; only their availability changes.
type Pool struct {
	name     string
	capacity int
	metrics  *observe.Metrics

	mu   sync.Mutex
	free map[string]struct{}
}

// Option configures a [Pool].
type Option func(*Pool)

// WithMetrics records checkout metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a pool called name holding files. Names must be non-empty and
// unique within the pool. An empty pool is valid; every checkout against it
// waits for the full retry schedule and fails.
func New(name string, files []string, opts ...Option) (*Pool, error) {
	free := make(map[string]struct{}, len(files))
	for i, f := range files {
		if f == "" {
			return nil, fmt.Errorf("voicepool: pool %q: voice file %d is empty", name, i)
		}
		if _, dup := free[f]; dup {
			return nil, fmt.Errorf("voicepool: pool %q: voice file %q listed twice", name, f)
		}
		free[f] = struct{}{}
	}
	p := &Pool{
		name:     name,
		capacity: len(free),
		free:     free,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// Name returns the pool's label, e.g. "Neutral" or "Happy[0-50]".
func (p *Pool) Name() string { return p.name }

// Capacity returns the number of voice files the pool owns.
func (p *Pool) Capacity() int { return p.capacity }

// Len returns the number of voice files currently available.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// InUse returns the number of voice files currently checked out.
func (p *Pool) InUse() int {
	return p.capacity - p.Len()
}

// Available returns a sorted snapshot of the voice files currently available.
func (p *Pool) Available() []string {
	p.mu.Lock()
	out := make([]string, 0, len(p.free))
	for f := range p.free {
		out = append(out, f)
	}
	p.mu.Unlock()
	slices.Sort(out)
	return out
}

// Stats is a point-in-time view of a pool, suitable for JSON encoding.
type Stats struct {
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	Available int    `json:"available"`
	InUse     int    `json:"in_use"`
}

// Stats returns the pool's current statistics.
func (p *Pool) Stats() Stats {
	avail := p.Len()
	return Stats{
		Name:      p.name,
		Capacity:  p.capacity,
		Available: avail,
		InUse:     p.capacity - avail,
	}
}

// take atomically removes one arbitrary voice file from the set.
func (p *Pool) take() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for f := range p.free {
		delete(p.free, f)
		return f, true
	}
	return "", false
}

// put atomically returns a previously taken voice file to the set.
func (p *Pool) put(f string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.free[f]; dup {
		panic(fmt.Sprintf("voicepool: voice file %q released twice to pool %q", f, p.name))
	}
	p.free[f] = struct{}{}
}

// ErrNoAvailableResource is matched (via errors.Is) by the error returned
// from [WithResource] when the pool stayed empty for the whole retry schedule.
var ErrNoAvailableResource = errors.New("no available voice file")

// NoAvailableResourceError carries details about an exhausted checkout.
type NoAvailableResourceError struct {
	// Pool is the name of the pool that stayed empty.
	Pool string

	// Attempts is the number of acquisition attempts made.
	Attempts int
}

func (e *NoAvailableResourceError) Error() string {
	return fmt.Sprintf("voicepool: %s in pool %q after %d attempts", ErrNoAvailableResource, e.Pool, e.Attempts)
}

// Is reports whether target is [ErrNoAvailableResource].
func (e *NoAvailableResourceError) Is(target error) bool {
	return target == ErrNoAvailableResource
}
