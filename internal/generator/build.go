package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voicebank/internal/config"
	"github.com/MrWong99/voicebank/internal/dialogue"
	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/internal/resilience"
)

// Set is the generator trio used by a [dialogue.Speaker]. Player may be nil.
type Set struct {
	Synthesizer dialogue.Synthesizer
	LipSyncer   dialogue.LipSyncer
	Player      dialogue.Player

	// Backends lists the synthesizer names in failover order.
	Backends []string
}

// BuildOption configures [FromConfig].
type BuildOption func(*buildConfig)

type buildConfig struct {
	metrics *observe.Metrics
	breaker resilience.CircuitBreakerConfig
}

// WithBuildMetrics records synthesizer breaker transitions on m.
func WithBuildMetrics(m *observe.Metrics) BuildOption {
	return func(b *buildConfig) { b.metrics = m }
}

// WithBuildBreakerConfig tunes the per-backend circuit breakers.
func WithBuildBreakerConfig(cfg resilience.CircuitBreakerConfig) BuildOption {
	return func(b *buildConfig) { b.breaker = cfg }
}

// FromConfig creates the generators described by cfg. It returns nil when no
// synthesizer is configured.
func FromConfig(cfg config.GeneratorsConfig, opts ...BuildOption) (*Set, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	b := buildConfig{}
	for _, o := range opts {
		o(&b)
	}
	if b.metrics == nil {
		b.metrics = observe.DefaultMetrics()
	}
	b.breaker.OnStateChange = func(name string, _, to resilience.State) {
		b.metrics.RecordBreakerTransition(context.Background(), "synthesizer/"+name, to.String())
	}

	var fb *Fallback
	for i, sc := range cfg.Synthesizers {
		s, err := newSynthesizer(sc, cfg.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("generator: synthesizers[%d]: %w", i, err)
		}
		name := fmt.Sprintf("%s#%d", sc.Name, i)
		if fb == nil {
			fb = NewFallback(name, s, b.breaker)
		} else {
			fb.AddFallback(name, s)
		}
	}

	set := &Set{Synthesizer: fb, Backends: fb.Backends()}

	if cfg.LipSync == nil {
		return nil, errors.New("generator: lipsync command is required")
	}
	lip, err := NewCommand("lipsync", cfg.LipSync.Path, cfg.LipSync.Args,
		WithCommandTimeout(cfg.LipSync.Timeout), WithCommandOutputDir(cfg.OutputDir))
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	set.LipSyncer = lip

	if cfg.Player != nil {
		player, err := NewCommand("player", cfg.Player.Path, cfg.Player.Args,
			WithCommandTimeout(cfg.Player.Timeout), WithCommandOutputDir(cfg.OutputDir))
		if err != nil {
			return nil, fmt.Errorf("generator: %w", err)
		}
		set.Player = player
	}
	return set, nil
}

func newSynthesizer(sc config.SynthesizerConfig, outputDir string) (dialogue.Synthesizer, error) {
	switch sc.Name {
	case config.SynthElevenLabs:
		return NewElevenLabs(sc.APIKey,
			WithElevenLabsModel(sc.Model),
			WithElevenLabsSampleRate(sc.SampleRate),
			WithElevenLabsVoices(sc.Voices, sc.DefaultVoice),
			WithElevenLabsTimeout(sc.Timeout),
			WithElevenLabsOutputDir(outputDir),
		)
	case config.SynthCoqui:
		return NewCoqui(sc.URL,
			WithCoquiLanguage(sc.Language),
			WithCoquiAPIMode(sc.APIMode),
			WithCoquiSampleRate(sc.SampleRate),
			WithCoquiVoices(sc.Voices, sc.DefaultVoice),
			WithCoquiTimeout(sc.Timeout),
			WithCoquiOutputDir(outputDir),
		)
	}
	return nil, fmt.Errorf("unknown synthesizer %q", sc.Name)
}
