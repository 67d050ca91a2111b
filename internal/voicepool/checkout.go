package voicepool

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/internal/resilience"
)

// errEmpty is the per-attempt error fed to the retry schedule. It never
// escapes [WithResource].
var errEmpty = errors.New("voicepool: pool empty")

// checkoutConfig holds per-call options of [WithResource].
type checkoutConfig struct {
	schedule resilience.Schedule
}

// CheckoutOption configures a single [WithResource] call.
type CheckoutOption func(*checkoutConfig)

// WithSchedule overrides the retry schedule used while the pool is empty.
// The default is [resilience.DefaultSchedule]. A nil schedule is ignored.
func WithSchedule(s resilience.Schedule) CheckoutOption {
	return func(c *checkoutConfig) {
		if s != nil {
			c.schedule = s
		}
	}
}

// WithResource checks out one voice file from p, runs task with it and puts
// the file back.
//
// Acquisition is retried according to the schedule while p is empty. If the
// schedule runs out, an error matching [ErrNoAvailableResource] is returned and
// task is never called. If ctx is done while waiting, ctx.Err() is returned.
//
// Once a file is held, task runs exactly once. Its result and error are
// returned unchanged. The file is released after task returns or panics, and
// no other caller of any pool sharing p receives the same file in between.
func WithResource[T any](ctx context.Context, p *Pool, task func(ctx context.Context, file string) (T, error), opts ...CheckoutOption) (result T, err error) {
	cfg := checkoutConfig{schedule: resilience.DefaultSchedule()}
	for _, o := range opts {
		o(&cfg)
	}

	ctx, span := observe.StartSpan(ctx, "voicepool.checkout",
		trace.WithAttributes(attribute.String("voicepool.pool", p.name)),
	)
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	attempts := 0
	file, err := resilience.Retry(ctx, cfg.schedule, func(ctx context.Context, attempt int) (string, error) {
		attempts = attempt + 1
		if attempt > 0 {
			p.metrics.RecordRetry(ctx, p.name)
		}
		if f, ok := p.take(); ok {
			return f, nil
		}
		return "", errEmpty
	})
	wait := time.Since(start)

	if err != nil {
		var zero T
		if errors.Is(err, resilience.ErrScheduleExhausted) {
			p.metrics.RecordCheckout(ctx, p.name, observe.StatusExhausted, wait)
			slog.WarnContext(ctx, "voice pool exhausted",
				"pool", p.name,
				"attempts", attempts,
				"waited", wait)
			return zero, &NoAvailableResourceError{Pool: p.name, Attempts: attempts}
		}
		p.metrics.RecordCheckout(ctx, p.name, observe.StatusCancelled, wait)
		return zero, err
	}

	span.SetAttributes(attribute.String("voicepool.file", file))
	p.metrics.AddInUse(ctx, p.name, 1)
	held := time.Now()

	defer func() {
		p.put(file)

		mctx := context.WithoutCancel(ctx)
		p.metrics.AddInUse(mctx, p.name, -1)
		p.metrics.RecordHold(mctx, p.name, time.Since(held))
		status := observe.StatusOK
		if err != nil {
			status = observe.StatusTaskError
		}
		p.metrics.RecordCheckout(mctx, p.name, status, wait)
	}()

	// A panicking task leaves err nil; mark it so the deferred accounting
	// reports a failed checkout.
	err = errTaskPanicked
	result, err = task(ctx, file)
	return result, err
}

// errTaskPanicked is observed only by the deferred release when task panics.
var errTaskPanicked = errors.New("voicepool: task panicked")

// Do is the non-generic form of [WithResource] for tasks without a result.
func (p *Pool) Do(ctx context.Context, task func(ctx context.Context, file string) error, opts ...CheckoutOption) error {
	_, err := WithResource(ctx, p, func(ctx context.Context, file string) (struct{}, error) {
		return struct{}{}, task(ctx, file)
	}, opts...)
	return err
}
