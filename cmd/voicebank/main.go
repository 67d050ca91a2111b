// Command voicebank serves NPC voice pools and voice paths over HTTP and
// manages persisted actor voice folder overrides.
//
// Usage:
//
//	voicebank [-config config.yaml]
//	voicebank overrides list|set|delete [flags]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebank/internal/app"
	"github.com/MrWong99/voicebank/internal/config"
	"github.com/MrWong99/voicebank/internal/health"
	"github.com/MrWong99/voicebank/internal/observe"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "overrides" {
		os.Exit(runOverrides(os.Args[2:]))
	}
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicebank: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicebank: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := newLogger(os.Stderr, level)
	slog.SetDefault(logger)

	slog.Info("voicebank starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics, err := observe.NewMetrics(telemetry.MeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	reloader, err := config.NewReloader(*configPath, func(_ *config.Config, d config.ConfigDiff) {
		applyConfigDiff(level, d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	readiness := health.New(application.Checkers()...).WithPools(application.Pools)
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           newHandler(application, readiness, metrics, telemetry.Handler(), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready, press Ctrl+C to shut down", "addr", srv.Addr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	if reloader != nil {
		g.Go(func() error { return reloader.Run(gctx) })
		g.Go(func() error { return reloadOnHangup(gctx, reloader) })
	}
	g.Go(func() error {
		<-gctx.Done()

		// ── Graceful shutdown ─────────────────────────────────────────────────
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		readiness.Drain()
		return errors.Join(
			srv.Shutdown(shutdownCtx),
			application.Shutdown(shutdownCtx),
			telemetry.Shutdown(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// newHandler builds the server's routes: health checks, the Prometheus scrape
// endpoint served by scrape, and the application API, all instrumented.
func newHandler(application *app.App, readiness *health.Handler, metrics *observe.Metrics, scrape http.Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	readiness.Register(mux)
	mux.Handle("GET /metrics", scrape)
	application.Register(mux)
	return observe.Middleware(metrics, observe.WithRequestLogger(logger))(mux)
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, r *config.Reloader) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if _, err := r.Reload(); err != nil {
				slog.Warn("config reload rejected", "err", err)
			}
		}
	}
}

// applyConfigDiff applies what can change at runtime and reports what needs
// a restart.
func applyConfigDiff(level *slog.LevelVar, diff config.ConfigDiff) {
	if diff.LogLevelChanged {
		level.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	for _, ec := range diff.EmotionChanges {
		slog.Warn("emotion bucket changed, restart to apply",
			"emotion", ec.Label, "added", ec.Added, "removed", ec.Removed)
	}
	if diff.RequiresRestart() {
		slog.Warn("config change requires a restart",
			"voices", diff.VoicesChanged,
			"checkout", diff.CheckoutChanged,
			"dialogue", diff.DialogueChanged,
			"generators", diff.GeneratorsChanged,
			"listen_addr", diff.ListenChanged,
		)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger writes text records to w, stamped with the trace of the context
// they are logged with.
func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(observe.NewTraceHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}
