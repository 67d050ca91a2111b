// Package app wires the voicebank subsystems into a running application.
//
// The App struct owns the full lifecycle: New builds the emotion pools, the
// voice path resolver, the audio generators and the dialogue speaker, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithOverrideStore,
// WithGenerators, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voicebank/internal/config"
	"github.com/MrWong99/voicebank/internal/dialogue"
	"github.com/MrWong99/voicebank/internal/emotion"
	"github.com/MrWong99/voicebank/internal/generator"
	"github.com/MrWong99/voicebank/internal/health"
	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/internal/voicepath"
	"github.com/MrWong99/voicebank/internal/voicepool"
	"github.com/MrWong99/voicebank/pkg/types"
)

// ErrNoGenerators is returned by [App.Speak] and [App.SpeakAll] when the
// application was built without a synthesizer and lip syncer.
var ErrNoGenerators = errors.New("app: no audio generators configured")

// OverrideStore loads persisted actor voice folder overrides.
// *voicepath.PostgresOverrides satisfies it.
type OverrideStore interface {
	Load(ctx context.Context) (map[string]string, error)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	index   *emotion.Index
	paths   *voicepath.Resolver
	speaker *dialogue.Speaker

	store OverrideStore
	ping  func(ctx context.Context) error

	synth  dialogue.Synthesizer
	lip    dialogue.LipSyncer
	player dialogue.Player

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMetrics records pool and dialogue metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithOverrideStore injects an override store instead of connecting to
// voices.overrides_dsn.
func WithOverrideStore(s OverrideStore) Option {
	return func(a *App) { a.store = s }
}

// WithGenerators enables line delivery through the given synthesizer and
// lip syncer instead of the generators described by the config.
func WithGenerators(synth dialogue.Synthesizer, lip dialogue.LipSyncer) Option {
	return func(a *App) {
		a.synth = synth
		a.lip = lip
	}
}

// WithPlayer enables in-game playback of delivered lines.
func WithPlayer(p dialogue.Player) Option {
	return func(a *App) { a.player = p }
}

// New creates a new App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// 1. Persisted voice folder overrides.
	overrides, err := a.loadOverrides(ctx)
	if err != nil {
		_ = a.Shutdown(context.Background())
		return nil, err
	}

	// 2. Voice path resolver. Persisted overrides win over configured ones.
	a.paths = voicepath.New(cfg.Voices, voicepath.WithOverrides(overrides))

	// 3. Emotion pools.
	a.index, err = emotion.Build(cfg.Emotions, voicepool.WithMetrics(a.metrics))
	if err != nil {
		_ = a.Shutdown(context.Background())
		return nil, fmt.Errorf("app: build emotion pools: %w", err)
	}

	// 4. Audio generators.
	if a.synth == nil && a.lip == nil {
		set, err := generator.FromConfig(cfg.Generators, generator.WithBuildMetrics(a.metrics))
		if err != nil {
			_ = a.Shutdown(context.Background())
			return nil, fmt.Errorf("app: create generators: %w", err)
		}
		if set != nil {
			a.synth, a.lip = set.Synthesizer, set.LipSyncer
			if a.player == nil && set.Player != nil {
				a.player = set.Player
			}
			slog.Info("generators configured", "synthesizers", set.Backends, "player", set.Player != nil)
		}
	}

	// 5. Dialogue speaker (only with generators).
	if a.synth != nil && a.lip != nil {
		speakerOpts := []dialogue.Option{
			dialogue.WithSchedule(cfg.Checkout.Schedule()),
			dialogue.WithMaxConcurrent(cfg.Dialogue.EffectiveMaxConcurrent()),
			dialogue.WithMetrics(a.metrics),
		}
		if a.player != nil {
			speakerOpts = append(speakerOpts, dialogue.WithPlayer(a.player))
		}
		a.speaker, err = dialogue.NewSpeaker(a.index, a.paths, a.synth, a.lip, speakerOpts...)
		if err != nil {
			_ = a.Shutdown(context.Background())
			return nil, fmt.Errorf("app: create speaker: %w", err)
		}
	}

	slog.Info("voicebank initialised",
		"pools", len(a.index.Pools()),
		"neutral_files", a.index.Neutral().Capacity(),
		"overrides", len(a.paths.Overrides()),
		"speaker", a.speaker != nil,
	)
	return a, nil
}

func (a *App) loadOverrides(ctx context.Context) (map[string]string, error) {
	if a.store == nil {
		dsn := a.cfg.Voices.OverridesDSN
		if dsn == "" {
			return nil, nil
		}
		pool, err := voicepath.Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("app: connect overrides db: %w", err)
		}
		a.closers = append(a.closers, func() error {
			pool.Close()
			return nil
		})
		a.ping = pool.Ping

		pg := voicepath.NewPostgresOverrides(pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		a.store = pg
	}

	overrides, err := a.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load overrides: %w", err)
	}
	return overrides, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// ResolvePool returns the voice pool for an optional emotion. A nil emotion
// or an unknown label resolves to the Neutral pool.
func (a *App) ResolvePool(e *types.Emotion) *voicepool.Pool {
	return a.index.ResolveOptional(e)
}

// WithVoiceFile checks out a voice file from the pool matching e, runs task
// with it and returns it to the pool. The configured checkout schedule
// governs retries while the pool is empty.
func (a *App) WithVoiceFile(ctx context.Context, e *types.Emotion, task func(ctx context.Context, file string) error) error {
	return a.ResolvePool(e).Do(ctx, task, a.CheckoutOptions()...)
}

// CheckoutOptions returns the checkout options derived from the config, for
// use with [voicepool.WithResource].
func (a *App) CheckoutOptions() []voicepool.CheckoutOption {
	return []voicepool.CheckoutOption{voicepool.WithSchedule(a.cfg.Checkout.Schedule())}
}

// VoicePath returns the path of an actor's voice file with the given
// extension.
func (a *App) VoicePath(actor types.Actor, file, ext string) string {
	return a.paths.Path(actor, file, ext)
}

// VoiceFolder returns the folder an actor's voice files live in and where
// the choice came from.
func (a *App) VoiceFolder(actor types.Actor) (string, voicepath.Source) {
	return a.paths.Folder(actor)
}

// Speak delivers one line. It returns [ErrNoGenerators] when the App has no
// generators.
func (a *App) Speak(ctx context.Context, line dialogue.Line) (dialogue.Result, error) {
	if a.speaker == nil {
		return dialogue.Result{}, ErrNoGenerators
	}
	return a.speaker.Speak(ctx, line)
}

// SpeakAll delivers lines concurrently. See [dialogue.Speaker.SpeakAll].
func (a *App) SpeakAll(ctx context.Context, lines []dialogue.Line) ([]dialogue.Result, error) {
	if a.speaker == nil {
		return nil, ErrNoGenerators
	}
	return a.speaker.SpeakAll(ctx, lines)
}

// Pools returns a snapshot of every voice pool, Neutral first.
func (a *App) Pools() []voicepool.Stats {
	pools := a.index.Pools()
	out := make([]voicepool.Stats, len(pools))
	for i, p := range pools {
		out[i] = p.Stats()
	}
	return out
}

// Checkers returns the readiness checks for the App's dependencies.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{health.PoolCapacity(a.index.Neutral())}
	if a.ping != nil {
		checks = append(checks, health.Ping("overrides_db", a.ping))
	}
	return checks
}

// Shutdown tears down subsystems in order. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
