package config

import (
	"maps"
	"reflect"
	"slices"

	"github.com/MrWong99/voicebank/pkg/types"
)

// ConfigDiff describes what changed between two configs.
// Only the log level is applied live; every other tracked change needs a
// restart because pools are fixed sets built once at startup.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// EmotionChanges lists the emotion labels whose buckets were added,
	// removed or modified, in sorted order.
	EmotionChanges []EmotionDiff

	VoicesChanged     bool // root, overrides, fallback or overrides DSN changed
	CheckoutChanged   bool
	DialogueChanged   bool
	GeneratorsChanged bool
	ListenChanged     bool
}

// EmotionDiff describes what changed for a single emotion label.
type EmotionDiff struct {
	Label   types.EmotionLabel
	Added   bool
	Removed bool
}

// RequiresRestart reports whether d contains changes that are not applied
// until the process restarts.
func (d ConfigDiff) RequiresRestart() bool {
	return len(d.EmotionChanges) > 0 || d.VoicesChanged || d.CheckoutChanged ||
		d.DialogueChanged || d.GeneratorsChanged || d.ListenChanged
}

// IsZero reports whether d records no change at all.
func (d ConfigDiff) IsZero() bool {
	return !d.LogLevelChanged && !d.RequiresRestart()
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.ListenChanged = old.Server.ListenAddr != new.Server.ListenAddr ||
		!reflect.DeepEqual(old.Server.TLS, new.Server.TLS)

	d.VoicesChanged = !reflect.DeepEqual(old.Voices, new.Voices)
	d.CheckoutChanged = old.Checkout.Retries() != new.Checkout.Retries() ||
		old.Checkout.EffectiveSpacing() != new.Checkout.EffectiveSpacing() ||
		old.Checkout.Unbounded != new.Checkout.Unbounded
	d.DialogueChanged = old.Dialogue.EffectiveMaxConcurrent() != new.Dialogue.EffectiveMaxConcurrent()
	d.GeneratorsChanged = !reflect.DeepEqual(old.Generators, new.Generators)

	labels := slices.Sorted(maps.Keys(old.Emotions))
	for _, l := range slices.Sorted(maps.Keys(new.Emotions)) {
		if _, ok := old.Emotions[l]; !ok {
			labels = append(labels, l)
		}
	}
	slices.Sort(labels)

	for _, l := range labels {
		ob, inOld := old.Emotions[l]
		nb, inNew := new.Emotions[l]
		switch {
		case !inNew:
			d.EmotionChanges = append(d.EmotionChanges, EmotionDiff{Label: l, Removed: true})
		case !inOld:
			d.EmotionChanges = append(d.EmotionChanges, EmotionDiff{Label: l, Added: true})
		case !reflect.DeepEqual(ob, nb):
			d.EmotionChanges = append(d.EmotionChanges, EmotionDiff{Label: l})
		}
	}

	return d
}
