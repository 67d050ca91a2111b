// Package dialogue delivers NPC lines through the external audio generators
// while holding a checked-out voice file.
//
// A [Speaker] resolves the voice pool for a line's emotion, checks out one
// voice file with [voicepool.WithResource], derives the .wav/.lip/.fuz paths
// for the actor, and runs the [Synthesizer], the [LipSyncer] and an optional
// [Player] in that order. The voice file goes back into its pool when the
// last step returns, whatever the outcome.
//
// The generators are external collaborators. Each is guarded by its own
// [resilience.CircuitBreaker] so that a failing backend is not hammered while
// voice files are held on its behalf.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/internal/resilience"
	"github.com/MrWong99/voicebank/internal/voicepool"
	"github.com/MrWong99/voicebank/pkg/types"
)

// File extensions written for every delivered line.
const (
	ExtWav = "wav"
	ExtLip = "lip"
	ExtFuz = "fuz"
)

// Line statuses used as the "status" attribute of the dialogue metrics.
const (
	statusOK        = "ok"
	statusNoVoice   = "no_voice"
	statusCancelled = "cancelled"
	statusError     = "error"
)

// Line is one line of dialogue to deliver.
type Line struct {
	Actor types.Actor
	Text  string

	// Emotion is optional; nil delivers the line in the Neutral pool.
	Emotion *types.Emotion
}

// Paths holds the files written for one line.
type Paths struct {
	Wav string `json:"wav"`
	Lip string `json:"lip"`
	Fuz string `json:"fuz"`
}

// Request is passed to every generator. VoiceFile is held exclusively by
// the caller for the duration of the call.
type Request struct {
	Line      Line
	VoiceFile string
	Paths     Paths
}

// Synthesizer renders the spoken audio of req.Line to req.Paths.Wav.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) error
}

// LipSyncer produces req.Paths.Lip and req.Paths.Fuz from the rendered audio.
type LipSyncer interface {
	LipSync(ctx context.Context, req Request) error
}

// Player plays a finished line in game.
type Player interface {
	Play(ctx context.Context, req Request) error
}

// PoolResolver picks the voice pool for an optional emotion.
// *emotion.Index satisfies it.
type PoolResolver interface {
	ResolveOptional(e *types.Emotion) *voicepool.Pool
}

// PathResolver derives per-extension paths for an actor's voice file.
// *voicepath.Resolver satisfies it.
type PathResolver interface {
	For(a types.Actor, file string) func(ext string) string
}

// Result describes a delivered line.
type Result struct {
	Pool      string        `json:"pool"`
	VoiceFile string        `json:"voice_file"`
	Paths     Paths         `json:"paths"`
	Duration  time.Duration `json:"duration"`
}

// Speaker delivers lines. It is safe for concurrent use.
type Speaker struct {
	pools  PoolResolver
	paths  PathResolver
	synth  Synthesizer
	lip    LipSyncer
	player Player

	schedule      resilience.Schedule
	maxConcurrent int
	metrics       *observe.Metrics
	breakerCfg    resilience.CircuitBreakerConfig

	synthBreaker  *resilience.CircuitBreaker
	lipBreaker    *resilience.CircuitBreaker
	playerBreaker *resilience.CircuitBreaker
}

// Option configures a [Speaker].
type Option func(*Speaker)

// WithPlayer enables in-game playback after lip-sync.
func WithPlayer(p Player) Option {
	return func(s *Speaker) { s.player = p }
}

// WithSchedule sets the retry schedule used while a pool is empty.
func WithSchedule(sch resilience.Schedule) Option {
	return func(s *Speaker) {
		if sch != nil {
			s.schedule = sch
		}
	}
}

// WithMaxConcurrent bounds the parallelism of [Speaker.SpeakAll].
func WithMaxConcurrent(n int) Option {
	return func(s *Speaker) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithMetrics records dialogue metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBreakerConfig tunes the generator circuit breakers. Name and
// OnStateChange are set per generator and ignored here.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Speaker) { s.breakerCfg = cfg }
}

// NewSpeaker creates a Speaker. pools, paths, synth and lip are required.
func NewSpeaker(pools PoolResolver, paths PathResolver, synth Synthesizer, lip LipSyncer, opts ...Option) (*Speaker, error) {
	if pools == nil || paths == nil {
		return nil, errors.New("dialogue: pool and path resolvers are required")
	}
	if synth == nil || lip == nil {
		return nil, errors.New("dialogue: synthesizer and lip syncer are required")
	}
	s := &Speaker{
		pools:         pools,
		paths:         paths,
		synth:         synth,
		lip:           lip,
		schedule:      resilience.DefaultSchedule(),
		maxConcurrent: 4,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.synthBreaker = s.newBreaker("synthesizer")
	s.lipBreaker = s.newBreaker("lipsync")
	s.playerBreaker = s.newBreaker("player")
	return s, nil
}

func (s *Speaker) newBreaker(name string) *resilience.CircuitBreaker {
	cfg := s.breakerCfg
	cfg.Name = name
	cfg.OnStateChange = func(name string, _, to resilience.State) {
		s.metrics.RecordBreakerTransition(context.Background(), name, to.String())
	}
	return resilience.NewCircuitBreaker(cfg)
}

// Speak delivers one line. It returns an error matching
// [voicepool.ErrNoAvailableResource] when no voice file could be checked out,
// ctx.Err() when ctx ends while waiting, and otherwise the first generator
// error wrapped with the failing step.
func (s *Speaker) Speak(ctx context.Context, line Line) (res Result, err error) {
	start := time.Now()
	pool := s.pools.ResolveOptional(line.Emotion)
	label := string(types.EmotionNeutral)
	if line.Emotion != nil {
		label = string(line.Emotion.Type)
	}

	ctx, span := observe.StartSpan(ctx, "dialogue.speak",
		trace.WithAttributes(
			attribute.String("dialogue.actor", line.Actor.HexID),
			attribute.String("dialogue.emotion", label),
			attribute.String("voicepool.pool", pool.Name()),
		),
	)
	defer func() {
		observe.EndSpan(span, err)
		s.metrics.RecordDialogueLine(context.WithoutCancel(ctx), label, lineStatus(err), time.Since(start))
	}()

	res, err = voicepool.WithResource(ctx, pool, func(ctx context.Context, file string) (Result, error) {
		pathFor := s.paths.For(line.Actor, file)
		req := Request{
			Line:      line,
			VoiceFile: file,
			Paths: Paths{
				Wav: pathFor(ExtWav),
				Lip: pathFor(ExtLip),
				Fuz: pathFor(ExtFuz),
			},
		}
		if err := s.synthBreaker.Execute(ctx, func(ctx context.Context) error {
			return s.synth.Synthesize(ctx, req)
		}); err != nil {
			return Result{}, fmt.Errorf("dialogue: synthesize %q: %w", file, err)
		}
		if err := s.lipBreaker.Execute(ctx, func(ctx context.Context) error {
			return s.lip.LipSync(ctx, req)
		}); err != nil {
			return Result{}, fmt.Errorf("dialogue: lip-sync %q: %w", file, err)
		}
		if s.player != nil {
			if err := s.playerBreaker.Execute(ctx, func(ctx context.Context) error {
				return s.player.Play(ctx, req)
			}); err != nil {
				return Result{}, fmt.Errorf("dialogue: play %q: %w", file, err)
			}
		}
		return Result{Pool: pool.Name(), VoiceFile: file, Paths: req.Paths}, nil
	}, voicepool.WithSchedule(s.schedule))
	if err != nil {
		return Result{}, err
	}

	res.Duration = time.Since(start)
	slog.DebugContext(ctx, "line delivered",
		"actor", line.Actor.String(),
		"emotion", label,
		"pool", res.Pool,
		"voice_file", res.VoiceFile,
		"duration", res.Duration)
	return res, nil
}

// SpeakAll delivers lines concurrently, at most WithMaxConcurrent at a time.
// A failing line does not stop the others. results[i] belongs to lines[i]
// and is the zero Result when that line failed; the returned error joins
// every per-line failure.
func (s *Speaker) SpeakAll(ctx context.Context, lines []Line) ([]Result, error) {
	results := make([]Result, len(lines))
	errs := make([]error, len(lines))

	var g errgroup.Group
	g.SetLimit(s.maxConcurrent)
	for i, line := range lines {
		g.Go(func() error {
			res, err := s.Speak(ctx, line)
			if err != nil {
				errs[i] = fmt.Errorf("line %d (%s): %w", i, line.Actor, err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

func lineStatus(err error) string {
	switch {
	case err == nil:
		return statusOK
	case errors.Is(err, voicepool.ErrNoAvailableResource):
		return statusNoVoice
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return statusCancelled
	}
	return statusError
}
