// Package observe instruments voicebank with OpenTelemetry.
//
// [Metrics] holds the instruments for voice pool checkouts, dialogue delivery,
// generator circuit breakers and HTTP requests. [InitProvider] installs the
// SDK and exposes the metrics on a private Prometheus registry. [Middleware]
// traces and logs HTTP requests, and [TraceHandler] stamps log records with
// the active trace.
//
// Tests build their own [Metrics] with [NewMetrics] on a manual reader so
// they never share instruments.
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Values of the "status" attribute of voicebank.checkout.total.
const (
	StatusOK        = "ok"
	StatusExhausted = "exhausted"
	StatusCancelled = "cancelled"
	StatusTaskError = "task_error"
)

// Metrics holds every voicebank instrument. Instruments are safe for
// concurrent use.
type Metrics struct {
	// Attribute "pool".
	CheckoutWait    metric.Float64Histogram
	HoldDuration    metric.Float64Histogram
	CheckoutRetries metric.Int64Counter
	VoiceFilesInUse metric.Int64UpDownCounter

	// Attributes "pool" and "status" (see StatusOK and friends).
	Checkouts metric.Int64Counter

	// Attribute "emotion"; DialogueLines also carries "status".
	DialogueDuration metric.Float64Histogram
	DialogueLines    metric.Int64Counter

	// Attributes "generator" and "state".
	BreakerTransitions metric.Int64Counter

	// Attributes "method", "route" and "status", recorded by [Middleware].
	HTTPRequestDuration metric.Float64Histogram
}

// Checkout waits are dominated by the retry spacing, so the upper buckets
// reach past the default five-second retry window.
var checkoutBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}

// Line delivery includes speech synthesis and lip-sync generation.
var dialogueBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

// NewMetrics creates every instrument on a meter of mp. Instruments that fail
// to register are reported together.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(scope)
	var errs []error

	seconds := func(name, desc string, buckets []float64) metric.Float64Histogram {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
		if buckets != nil {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		h, err := meter.Float64Histogram(name, opts...)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}

	m := &Metrics{
		CheckoutWait:     seconds("voicebank.checkout.wait", "Time spent waiting for a voice file.", checkoutBuckets),
		HoldDuration:     seconds("voicebank.checkout.hold", "Time a checked-out voice file is held by its task.", dialogueBuckets),
		DialogueDuration: seconds("voicebank.dialogue.duration", "End-to-end latency of delivering one line of dialogue.", dialogueBuckets),
		HTTPRequestDuration: seconds("voicebank.http.request.duration",
			"HTTP request latency by method, route and status.", nil),

		Checkouts:          counter("voicebank.checkout.total", "Total checkout operations by pool and status."),
		CheckoutRetries:    counter("voicebank.checkout.retries", "Acquisition attempts made after waiting on an empty pool."),
		DialogueLines:      counter("voicebank.dialogue.lines", "Total dialogue lines by emotion and status."),
		BreakerTransitions: counter("voicebank.generator.breaker_transitions", "Circuit breaker state changes by generator and new state."),
	}

	inUse, err := meter.Int64UpDownCounter("voicebank.pool.in_use",
		metric.WithDescription("Number of voice files currently checked out."))
	errs = append(errs, err)
	m.VoiceFilesInUse = inUse

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return m, nil
}

// DefaultMetrics returns the process-wide [Metrics], created on first use from
// the global meter provider. Components fall back to it when no Metrics is
// injected. It panics if the instruments cannot be created.
var DefaultMetrics = sync.OnceValue(func() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		panic(err)
	}
	return m
})

func poolAttr(pool string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("pool", pool))
}

// RecordCheckout records how a checkout of pool ended and how long it waited
// for a voice file.
func (m *Metrics) RecordCheckout(ctx context.Context, pool, status string, wait time.Duration) {
	m.Checkouts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pool", pool),
		attribute.String("status", status),
	))
	m.CheckoutWait.Record(ctx, wait.Seconds(), poolAttr(pool))
}

// RecordRetry counts one acquisition attempt that followed a wait.
func (m *Metrics) RecordRetry(ctx context.Context, pool string) {
	m.CheckoutRetries.Add(ctx, 1, poolAttr(pool))
}

// AddInUse moves the in-use gauge of pool by delta.
func (m *Metrics) AddInUse(ctx context.Context, pool string, delta int64) {
	m.VoiceFilesInUse.Add(ctx, delta, poolAttr(pool))
}

// RecordHold records how long a task held a voice file of pool.
func (m *Metrics) RecordHold(ctx context.Context, pool string, d time.Duration) {
	m.HoldDuration.Record(ctx, d.Seconds(), poolAttr(pool))
}

// RecordDialogueLine records the outcome and latency of one line.
func (m *Metrics) RecordDialogueLine(ctx context.Context, emotion, status string, d time.Duration) {
	m.DialogueLines.Add(ctx, 1, metric.WithAttributes(
		attribute.String("emotion", emotion),
		attribute.String("status", status),
	))
	m.DialogueDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("emotion", emotion)))
}

// RecordBreakerTransition counts a generator's breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, generator, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("generator", generator),
		attribute.String("state", state),
	))
}
