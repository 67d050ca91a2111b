package observe

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// CorrelationHeader carries the trace ID of a request back to the client.
const CorrelationHeader = "X-Correlation-ID"

// UnmatchedRoute is the route label of requests no mux pattern matched. It
// keeps arbitrary client paths out of metric attributes.
const UnmatchedRoute = "unmatched"

// DefaultQuietPaths are polled by kubelet and Prometheus. Requests to them are
// logged at debug level.
var DefaultQuietPaths = []string{"/healthz", "/readyz", "/metrics"}

type middlewareConfig struct {
	logger *slog.Logger
	quiet  map[string]struct{}
}

// MiddlewareOption configures [Middleware].
type MiddlewareOption func(*middlewareConfig)

// WithRequestLogger logs completed requests to l instead of slog.Default.
func WithRequestLogger(l *slog.Logger) MiddlewareOption {
	return func(c *middlewareConfig) { c.logger = l }
}

// WithQuietPaths replaces [DefaultQuietPaths].
func WithQuietPaths(paths ...string) MiddlewareOption {
	return func(c *middlewareConfig) { c.quiet = pathSet(paths) }
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

// Middleware instruments every request served by the wrapped handler.
//
// A W3C traceparent header continues the caller's trace; otherwise a new one
// starts. The trace ID is echoed in [CorrelationHeader]. Once the handler
// returns, the span is renamed to "METHOD route" after the ServeMux pattern
// that matched, the request duration is recorded by method, route and status,
// and one log record is written with the request context, so a logger built
// on [TraceHandler] stamps it with the trace. 5xx responses mark the span as
// failed.
func Middleware(m *Metrics, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{quiet: pathSet(DefaultQuietPaths)}
	for _, o := range opts {
		o(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return &instrumented{next: next, metrics: m, cfg: cfg}
	}
}

type instrumented struct {
	next    http.Handler
	metrics *Metrics
	cfg     middlewareConfig
}

func (h *instrumented) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	prop := propagation.TraceContext{}

	ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := StartSpan(ctx, r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	cid := CorrelationID(ctx)
	if cid != "" {
		w.Header().Set(CorrelationHeader, cid)
	}
	prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
	r = r.WithContext(ctx)
	h.next.ServeHTTP(rec, r)

	// ServeMux stores the matched pattern on the request it was handed.
	route := routeOf(r)
	elapsed := time.Since(start)

	span.SetName(r.Method + " " + route)
	span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(rec.status))
	if rec.status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(rec.status))
	}

	h.metrics.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.Int("status", rec.status),
		),
	)

	level := slog.LevelInfo
	if _, quiet := h.cfg.quiet[r.URL.Path]; quiet {
		level = slog.LevelDebug
	}
	logger := h.cfg.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, level, "http request",
		slog.String("method", r.Method),
		slog.String("route", route),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.status),
		slog.Duration("elapsed", elapsed),
	)
}

// routeOf returns the path part of the ServeMux pattern that matched r.
func routeOf(r *http.Request) string {
	if r.Pattern == "" {
		return UnmatchedRoute
	}
	if _, path, ok := strings.Cut(r.Pattern, " "); ok {
		return path
	}
	return r.Pattern
}

// responseRecorder remembers the first status code written downstream.
type responseRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *responseRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(b)
}

// Unwrap lets [http.ResponseController] reach the underlying writer.
func (r *responseRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
