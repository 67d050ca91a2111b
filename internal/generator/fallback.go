package generator

import (
	"context"

	"github.com/MrWong99/voicebank/internal/dialogue"
	"github.com/MrWong99/voicebank/internal/resilience"
)

// Fallback implements [dialogue.Synthesizer] with automatic failover across
// several backends. Each backend has its own circuit breaker.
type Fallback struct {
	group *resilience.FallbackGroup[dialogue.Synthesizer]
}

var _ dialogue.Synthesizer = (*Fallback)(nil)

// NewFallback creates a [Fallback] with primary as the preferred backend.
func NewFallback(primaryName string, primary dialogue.Synthesizer, cfg resilience.CircuitBreakerConfig) *Fallback {
	return &Fallback{group: resilience.NewFallbackGroup(primaryName, primary, cfg)}
}

// AddFallback registers an additional backend, tried after those already
// registered.
func (f *Fallback) AddFallback(name string, s dialogue.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Backends returns the backend names in failover order.
func (f *Fallback) Backends() []string { return f.group.Names() }

// Synthesize renders req with the first healthy backend.
func (f *Fallback) Synthesize(ctx context.Context, req dialogue.Request) error {
	return f.group.Execute(ctx, func(ctx context.Context, s dialogue.Synthesizer) error {
		return s.Synthesize(ctx, req)
	})
}
