package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultReloadInterval is how often [Reloader.Run] re-reads the file.
const DefaultReloadInterval = 5 * time.Second

// Reloader keeps the most recent valid revision of a config file.
//
// A revision is identified by the SHA-256 of the file's bytes, so editors
// that rewrite a file unchanged and plain touches are not reloads. A revision
// that fails to parse or validate is rejected once and then ignored until the
// file changes again; [Reloader.Current] keeps returning the previous config.
type Reloader struct {
	path     string
	interval time.Duration
	onReload func(cfg *Config, d ConfigDiff)

	serial sync.Mutex // one Reload at a time

	mu       sync.Mutex
	current  *Config
	sum      [sha256.Size]byte
	rejected [sha256.Size]byte
}

// ReloaderOption configures a [Reloader].
type ReloaderOption func(*Reloader)

// WithReloadInterval overrides [DefaultReloadInterval]. Non-positive values
// are ignored.
func WithReloadInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		if d > 0 {
			r.interval = d
		}
	}
}

// NewReloader loads path and returns a Reloader holding it. onReload, if
// non-nil, receives every later revision that differs in meaning from the one
// before it, together with what changed.
func NewReloader(path string, onReload func(cfg *Config, d ConfigDiff), opts ...ReloaderOption) (*Reloader, error) {
	r := &Reloader{path: path, interval: DefaultReloadInterval, onReload: onReload}
	for _, o := range opts {
		o(r)
	}
	cfg, sum, err := r.read()
	if err != nil {
		return nil, err
	}
	r.current, r.sum = cfg, sum
	return r, nil
}

// Current returns the most recently accepted config.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Run calls [Reloader.Reload] every interval until ctx is done. Failed
// reloads are logged; Run itself only returns once ctx ends.
func (r *Reloader) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := r.Reload(); err != nil {
				slog.Warn("config reload rejected", "path", r.path, "err", err)
			}
		}
	}
}

// Reload reads the file once. It reports whether a new revision was accepted
// and returns an error for a revision that is invalid. An invalid revision
// already rejected earlier yields (false, nil).
func (r *Reloader) Reload() (bool, error) {
	r.serial.Lock()
	defer r.serial.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		return false, fmt.Errorf("config: read %q: %w", r.path, err)
	}
	sum := sha256.Sum256(data)

	r.mu.Lock()
	if sum == r.sum || sum == r.rejected {
		r.mu.Unlock()
		return false, nil
	}
	r.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		r.mu.Lock()
		r.rejected = sum
		r.mu.Unlock()
		return false, fmt.Errorf("config: reload %q: %w", r.path, err)
	}

	r.mu.Lock()
	prev := r.current
	r.current, r.sum = cfg, sum
	r.mu.Unlock()

	// Comment and formatting edits change the hash but not the config.
	d := Diff(prev, cfg)
	if d.IsZero() {
		return true, nil
	}
	slog.Info("config reloaded", "path", r.path,
		"log_level_changed", d.LogLevelChanged,
		"emotions_changed", len(d.EmotionChanges),
		"restart_required", d.RequiresRestart(),
	)
	if r.onReload != nil {
		r.onReload(cfg, d)
	}
	return true, nil
}

func (r *Reloader) read() (*Config, [sha256.Size]byte, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, fmt.Errorf("config: read %q: %w", r.path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, fmt.Errorf("config: parse %q: %w", r.path, err)
	}
	return cfg, sha256.Sum256(data), nil
}
