package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/voicebank/pkg/types"
)

// suggestionThreshold is the minimum Jaro-Winkler similarity for a known
// name to be offered as a "did you mean" hint.
const suggestionThreshold = 0.8

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and normalises
// the override keys in place. It returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	errs = append(errs, validateVoices(&cfg.Voices)...)
	errs = append(errs, validateEmotions(cfg.Emotions)...)

	// Checkout
	if r := cfg.Checkout.MaxRetries; r != nil && *r < 0 {
		errs = append(errs, fmt.Errorf("checkout.max_retries %d must not be negative", *r))
	}
	if cfg.Checkout.Spacing < 0 {
		errs = append(errs, fmt.Errorf("checkout.spacing %s must not be negative", cfg.Checkout.Spacing))
	}
	if cfg.Checkout.Unbounded {
		if cfg.Checkout.MaxRetries != nil {
			slog.Warn("checkout.unbounded is set; checkout.max_retries is ignored",
				"max_retries", *cfg.Checkout.MaxRetries)
		}
		slog.Warn("checkout.unbounded is set; callers wait for a voice file until they give up")
	}

	// Dialogue
	if cfg.Dialogue.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("dialogue.max_concurrent %d must not be negative", cfg.Dialogue.MaxConcurrent))
	}

	errs = append(errs, validateGenerators(cfg.Generators)...)
	return errors.Join(errs...)
}

func validateVoices(v *VoicesConfig) []error {
	var errs []error

	fallback := []struct {
		key, folder string
	}{
		{"male", v.Fallback.Male},
		{"female", v.Fallback.Female},
		{"none", v.Fallback.None},
	}
	for _, f := range fallback {
		if strings.TrimSpace(f.folder) == "" {
			errs = append(errs, fmt.Errorf("voices.fallback.%s is required", f.key))
		}
	}

	if len(v.Overrides) == 0 {
		return errs
	}
	normalized := make(map[string]string, len(v.Overrides))
	seen := make(map[string]string, len(v.Overrides))
	for _, id := range slices.Sorted(maps.Keys(v.Overrides)) {
		folder := v.Overrides[id]
		key, err := types.NormalizeHexID(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("voices.overrides[%q]: %w", id, err))
			continue
		}
		if strings.TrimSpace(folder) == "" {
			errs = append(errs, fmt.Errorf("voices.overrides[%q] folder is required", id))
			continue
		}
		if prev, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("voices.overrides[%q] is a duplicate of voices.overrides[%q]", id, prev))
			continue
		}
		seen[key] = id
		normalized[key] = folder
	}
	v.Overrides = normalized
	return errs
}

func validateEmotions(emotions EmotionsConfig) []error {
	var errs []error

	neutral, ok := emotions[types.EmotionNeutral]
	switch {
	case !ok:
		errs = append(errs, errors.New("emotions.Neutral is required"))
	case neutral.IsRanged():
		errs = append(errs, errors.New("emotions.Neutral must be a flat list of voice files"))
	case len(neutral.VoiceFiles) == 0:
		slog.Warn("emotions.Neutral has no voice files; every checkout that falls back to Neutral will fail")
	}

	for _, label := range slices.Sorted(maps.Keys(emotions)) {
		bucket := emotions[label]
		prefix := "emotions." + string(label)

		if !label.IsKnown() {
			args := []any{"label", label, "known", types.KnownEmotions}
			if s := suggestLabel(label); s != "" {
				args = append(args, "did_you_mean", s)
			}
			slog.Warn("unknown emotion label; it will never be requested", args...)
		}

		if _, err := bucket.Table(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		errs = append(errs, checkVoiceFiles(prefix, bucket)...)
	}
	return errs
}

// checkVoiceFiles rejects empty names and voice files listed more than once
// within one emotion, since two pools sharing a file would break exclusive use.
func checkVoiceFiles(prefix string, b EmotionBucket) []error {
	var errs []error
	seen := make(map[string]string, b.VoiceFileCount())
	check := func(where string, files []string) {
		for i, f := range files {
			at := fmt.Sprintf("%s[%d]", where, i)
			if strings.TrimSpace(f) == "" {
				errs = append(errs, fmt.Errorf("%s voice file name is required", at))
				continue
			}
			if prev, ok := seen[f]; ok {
				errs = append(errs, fmt.Errorf("%s voice file %q is a duplicate of %s", at, f, prev))
				continue
			}
			seen[f] = at
		}
	}
	if !b.IsRanged() {
		check(prefix, b.VoiceFiles)
		return errs
	}
	for i, r := range b.Ranges {
		check(fmt.Sprintf("%s[%d].voice_files", prefix, i), r.VoiceFiles)
		if len(r.VoiceFiles) == 0 {
			slog.Warn("intensity range has no voice files; checkouts in it will fail",
				"emotion", prefix, "min", r.Min, "max", r.Max)
		}
	}
	return errs
}

// suggestLabel returns the known emotion label most similar to label, or ""
// when nothing is close enough.
func suggestLabel(label types.EmotionLabel) string {
	known := make([]string, len(types.KnownEmotions))
	for i, k := range types.KnownEmotions {
		known[i] = string(k)
	}
	return closest(string(label), known)
}

// closest returns the candidate most similar to s by case-insensitive
// Jaro-Winkler similarity, or "" when none reaches [suggestionThreshold].
func closest(s string, candidates []string) string {
	var (
		best  string
		score float64
	)
	in := strings.ToLower(s)
	for _, c := range candidates {
		if sim := matchr.JaroWinkler(in, strings.ToLower(c), false); sim > score {
			best, score = c, sim
		}
	}
	if score < suggestionThreshold {
		return ""
	}
	return best
}

var knownSynthesizers = []string{SynthElevenLabs, SynthCoqui}

func validateGenerators(g GeneratorsConfig) []error {
	var errs []error
	for i, s := range g.Synthesizers {
		prefix := fmt.Sprintf("generators.synthesizers[%d]", i)
		switch s.Name {
		case SynthElevenLabs:
			if s.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s: elevenlabs requires api_key", prefix))
			}
		case SynthCoqui:
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("%s: coqui requires url", prefix))
			}
			if s.APIMode != "" && s.APIMode != CoquiStandard && s.APIMode != CoquiXTTS {
				errs = append(errs, fmt.Errorf("%s.api_mode %q is invalid; valid values: standard, xtts", prefix, s.APIMode))
			}
		default:
			msg := fmt.Sprintf("%s.name %q is not a known synthesizer; valid values: %s", prefix, s.Name, strings.Join(knownSynthesizers, ", "))
			if best := closest(s.Name, knownSynthesizers); best != "" {
				msg += fmt.Sprintf(" (did you mean %q?)", best)
			}
			errs = append(errs, errors.New(msg))
		}
		if s.SampleRate < 0 {
			errs = append(errs, fmt.Errorf("%s.sample_rate %d must not be negative", prefix, s.SampleRate))
		}
		if s.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout %s must not be negative", prefix, s.Timeout))
		}
		if s.DefaultVoice == "" && len(s.Voices) == 0 && s.Name == SynthElevenLabs {
			errs = append(errs, fmt.Errorf("%s: elevenlabs requires default_voice or voices", prefix))
		}
	}

	if g.Enabled() && g.LipSync == nil {
		errs = append(errs, errors.New("generators.lipsync is required when synthesizers are configured"))
	}
	if !g.Enabled() && (g.LipSync != nil || g.Player != nil) {
		slog.Warn("generators.lipsync/player are ignored without synthesizers")
	}
	errs = append(errs, validateCommand("generators.lipsync", g.LipSync)...)
	errs = append(errs, validateCommand("generators.player", g.Player)...)
	return errs
}

func validateCommand(prefix string, c *CommandConfig) []error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Path == "" {
		errs = append(errs, fmt.Errorf("%s.path is required", prefix))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout %s must not be negative", prefix, c.Timeout))
	}
	return errs
}
