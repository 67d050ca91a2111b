// Package mock provides test doubles for the dialogue generator interfaces.
//
// Generator records every request it receives and answers with Err. Set Hook
// to block, observe concurrency or fail selectively:
//
//	g := &mock.Generator{Hook: func(ctx context.Context, req dialogue.Request) error {
//	    <-release
//	    return nil
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voicebank/internal/dialogue"
)

// Generator is a mock implementation of [dialogue.Synthesizer],
// [dialogue.LipSyncer] and [dialogue.Player].
type Generator struct {
	mu sync.Mutex

	// Err, if non-nil, is returned by every call (after Hook, if Hook
	// returned nil).
	Err error

	// Hook, if set, runs for every call before Err is consulted. Its error
	// is returned when non-nil. It is called without holding the mock's lock.
	Hook func(ctx context.Context, req dialogue.Request) error

	// Calls records every request in order.
	Calls []dialogue.Request
}

func (g *Generator) call(ctx context.Context, req dialogue.Request) error {
	g.mu.Lock()
	g.Calls = append(g.Calls, req)
	hook := g.Hook
	err := g.Err
	g.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx, req); herr != nil {
			return herr
		}
	}
	return err
}

// Synthesize records the call.
func (g *Generator) Synthesize(ctx context.Context, req dialogue.Request) error {
	return g.call(ctx, req)
}

// LipSync records the call.
func (g *Generator) LipSync(ctx context.Context, req dialogue.Request) error {
	return g.call(ctx, req)
}

// Play records the call.
func (g *Generator) Play(ctx context.Context, req dialogue.Request) error {
	return g.call(ctx, req)
}

// CallCount returns the number of recorded calls. Thread-safe.
func (g *Generator) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Calls)
}

// Requests returns a copy of the recorded calls. Thread-safe.
func (g *Generator) Requests() []dialogue.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]dialogue.Request, len(g.Calls))
	copy(out, g.Calls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Calls = nil
}

// Ensure Generator implements the generator interfaces at compile time.
var (
	_ dialogue.Synthesizer = (*Generator)(nil)
	_ dialogue.LipSyncer   = (*Generator)(nil)
	_ dialogue.Player      = (*Generator)(nil)
)
