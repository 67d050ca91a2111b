// Package voicepath maps an actor and a checked-out voice file to the
// relative paths the audio and lip-sync generators write to.
//
// The voice folder of an actor is chosen in this order:
//
//  1. an explicit override keyed by the actor's hex form ID,
//  2. the actor's stock voice type, when the game data exposes one,
//  3. the fallback folder for the actor's sex.
//
// A [Resolver] is immutable and safe for concurrent use.
package voicepath

import (
	"maps"
	"path"
	"strings"

	"github.com/MrWong99/voicebank/internal/config"
	"github.com/MrWong99/voicebank/pkg/types"
)

// Source tells which rule selected a voice folder.
type Source string

const (
	SourceOverride Source = "override"
	SourceStock    Source = "stock"
	SourceFallback Source = "fallback"
)

// Resolver resolves voice folders and paths.
type Resolver struct {
	root      string
	overrides map[string]string
	fallback  config.FallbackConfig
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithOverrides layers extra actor overrides on top of the configured ones.
// Keys are hex form IDs in any form [types.NormalizeHexID] accepts; invalid
// keys are ignored. Later options win over earlier ones and over the
// configuration.
func WithOverrides(m map[string]string) Option {
	return func(r *Resolver) {
		for id, folder := range m {
			if key, err := types.NormalizeHexID(id); err == nil && folder != "" {
				r.overrides[key] = folder
			}
		}
	}
}

// New creates a Resolver from the voices section of the configuration.
func New(cfg config.VoicesConfig, opts ...Option) *Resolver {
	r := &Resolver{
		root:      cfg.Root,
		overrides: make(map[string]string, len(cfg.Overrides)),
		fallback:  cfg.Fallback,
	}
	WithOverrides(cfg.Overrides)(r)
	for _, o := range opts {
		o(r)
	}
	return r
}

// Folder returns the voice folder of a and the rule that selected it.
func (r *Resolver) Folder(a types.Actor) (string, Source) {
	if id, err := types.NormalizeHexID(a.HexID); err == nil {
		if folder, ok := r.overrides[id]; ok {
			return folder, SourceOverride
		}
	}
	if stock := strings.TrimSpace(a.StockVoice); stock != "" {
		return stock, SourceStock
	}
	return r.fallback.Folder(a.Sex), SourceFallback
}

// Path returns root/folder/file.ext for a. ext may carry a leading dot; an
// empty ext yields the bare file name.
func (r *Resolver) Path(a types.Actor, file, ext string) string {
	folder, _ := r.Folder(a)
	return r.join(folder, file, ext)
}

// For resolves a's folder once and returns a function producing the path of
// file for any extension.
func (r *Resolver) For(a types.Actor, file string) func(ext string) string {
	folder, _ := r.Folder(a)
	return func(ext string) string {
		return r.join(folder, file, ext)
	}
}

// Overrides returns a copy of the effective override table.
func (r *Resolver) Overrides() map[string]string {
	return maps.Clone(r.overrides)
}

func (r *Resolver) join(folder, file, ext string) string {
	name := file
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	return path.Join(r.root, folder, name)
}
