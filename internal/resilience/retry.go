package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrScheduleExhausted is returned by [Retry] when the [Schedule] permits no
// further attempts. The error returned by the last attempt is joined to it.
var ErrScheduleExhausted = errors.New("retry schedule exhausted")

// Schedule decides whether, and after how long, a failed operation is retried.
//
// Next is called after the attempt-th failure (0 for the first failure) and
// returns the delay before the next attempt. ok == false ends the retry loop.
// Implementations must be safe for concurrent use; all schedules in this
// package are stateless.
type Schedule interface {
	Next(attempt int) (delay time.Duration, ok bool)
}

// ScheduleFunc adapts an ordinary function to the [Schedule] interface.
type ScheduleFunc func(attempt int) (time.Duration, bool)

// Next calls f(attempt).
func (f ScheduleFunc) Next(attempt int) (time.Duration, bool) { return f(attempt) }

// DefaultRetries and DefaultSpacing describe [DefaultSchedule].
const (
	DefaultRetries = 5
	DefaultSpacing = time.Second
)

// DefaultSchedule returns the bounded schedule used when callers pass none:
// at most [DefaultRetries] retries, [DefaultSpacing] apart.
func DefaultSchedule() Schedule {
	return Recurs(DefaultRetries, DefaultSpacing)
}

// Recurs retries at most n times with a fixed spacing between attempts.
// n <= 0 disables retrying.
func Recurs(n int, spacing time.Duration) Schedule {
	return ScheduleFunc(func(attempt int) (time.Duration, bool) {
		if attempt >= n {
			return 0, false
		}
		return spacing, true
	})
}

// Forever retries without bound at a fixed spacing. It only terminates when
// the operation succeeds or the context passed to [Retry] is done, so callers
// must opt in explicitly.
func Forever(spacing time.Duration) Schedule {
	return ScheduleFunc(func(int) (time.Duration, bool) {
		return spacing, true
	})
}

// Exponential retries at most n times, doubling the delay from base after
// every failure and capping it at max. With max <= 0 the delay saturates at
// the largest representable [time.Duration] instead of overflowing.
func Exponential(base, max time.Duration, n int) Schedule {
	ceiling := max
	if ceiling <= 0 {
		ceiling = math.MaxInt64
	}
	return ScheduleFunc(func(attempt int) (time.Duration, bool) {
		if attempt >= n {
			return 0, false
		}
		d := min(base, ceiling)
		for i := 0; i < attempt && d > 0 && d < ceiling; i++ {
			if d > ceiling/2 {
				d = ceiling
				break
			}
			d *= 2
		}
		return d, true
	})
}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that [Retry] returns it immediately instead of
// consulting the schedule. A nil err yields nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn until it succeeds, returns a [Permanent] error, the schedule
// is exhausted, or ctx is done.
//
// Between attempts the calling goroutine sleeps on a timer while selecting on
// ctx.Done, so waiting never spins and never holds any lock. fn is not called
// once ctx is done; in that case ctx.Err() is returned.
//
// The attempt number passed to fn starts at 0.
func Retry[T any](ctx context.Context, s Schedule, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	if s == nil {
		s = DefaultSchedule()
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}

		delay, ok := s.Next(attempt)
		if !ok {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrScheduleExhausted, attempt+1, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// sleep blocks for d or until ctx is done, whichever happens first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
