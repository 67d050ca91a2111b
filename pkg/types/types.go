// Package types defines the shared types used across all voicebank packages.
//
// These types form the lingua franca between the emotion index, the voice
// pools, the path resolver and the external dialogue generators. Each package
// defines its own domain types; only cross-cutting data structures live here
// to avoid circular imports.
package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Intensity describes the strength of an emotional state on the inclusive
// scale [MinIntensity, MaxIntensity].
type Intensity int

const (
	// MinIntensity is the lowest representable emotional intensity.
	MinIntensity Intensity = 0

	// MaxIntensity is the highest representable emotional intensity.
	MaxIntensity Intensity = 100
)

// IsValid reports whether i lies within [MinIntensity, MaxIntensity].
func (i Intensity) IsValid() bool {
	return i >= MinIntensity && i <= MaxIntensity
}

// Clamp returns i limited to [MinIntensity, MaxIntensity].
func (i Intensity) Clamp() Intensity {
	switch {
	case i < MinIntensity:
		return MinIntensity
	case i > MaxIntensity:
		return MaxIntensity
	}
	return i
}

// EmotionLabel names an emotional state (e.g. "Happy").
type EmotionLabel string

const (
	EmotionNeutral  EmotionLabel = "Neutral"
	EmotionHappy    EmotionLabel = "Happy"
	EmotionSad      EmotionLabel = "Sad"
	EmotionAnger    EmotionLabel = "Anger"
	EmotionFear     EmotionLabel = "Fear"
	EmotionSurprise EmotionLabel = "Surprise"
	EmotionDisgust  EmotionLabel = "Disgust"
)

// KnownEmotions lists every emotion label the dialogue generators are able to
// emit. Configuration may still use other labels; they are simply never
// requested.
var KnownEmotions = []EmotionLabel{
	EmotionNeutral,
	EmotionHappy,
	EmotionSad,
	EmotionAnger,
	EmotionFear,
	EmotionSurprise,
	EmotionDisgust,
}

// IsKnown reports whether l is one of [KnownEmotions].
func (l EmotionLabel) IsKnown() bool {
	for _, k := range KnownEmotions {
		if k == l {
			return true
		}
	}
	return false
}

// Emotion is the emotional state attached to a line of dialogue.
type Emotion struct {
	// Type is the emotion label.
	Type EmotionLabel

	// Intensity is the strength of the emotion. Values outside [0, 100] are
	// clamped during pool resolution.
	Intensity Intensity
}

// String returns a compact representation such as "Happy@30".
func (e Emotion) String() string {
	return fmt.Sprintf("%s@%d", e.Type, e.Intensity)
}

// Sex is the biological sex attribute read from an actor's base form.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexNone   Sex = "none"
)

// ParseSex converts s (case-insensitive) to a [Sex]. Unrecognised values map
// to [SexNone].
func ParseSex(s string) Sex {
	switch Sex(strings.ToLower(strings.TrimSpace(s))) {
	case SexMale:
		return SexMale
	case SexFemale:
		return SexFemale
	}
	return SexNone
}

// Actor is the narrow view of a game character consumed by voicebank. The
// actor/role/scene orchestration that produces it lives outside this module.
type Actor struct {
	// HexID is the stable hex form identifier of the actor (e.g. "0001A696").
	HexID string

	// Name is the display name, used only for logging.
	Name string

	// StockVoice is the actor's configured voice type (voice persona) as
	// exposed by the game data. Empty when the game data has none.
	StockVoice string

	// Sex is read from the actor's base form.
	Sex Sex
}

// String returns a short, log-friendly description of the actor.
func (a Actor) String() string {
	if a.Name == "" {
		return a.HexID
	}
	return a.Name + " (" + a.HexID + ")"
}

// HexIDWidth is the number of hex digits in a normalised form identifier.
const HexIDWidth = 8

// ErrInvalidHexID is returned by [NormalizeHexID] for identifiers that are
// not hexadecimal or do not fit into 32 bits.
var ErrInvalidHexID = errors.New("invalid hex form id")

// NormalizeHexID returns id in canonical form: optional "0x" prefix removed,
// upper-cased and left-padded with zeros to [HexIDWidth] digits. "0x1a696"
// becomes "0001A696".
func NormalizeHexID(id string) (string, error) {
	s := strings.TrimSpace(id)
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if s == "" || len(s) > HexIDWidth {
		return "", fmt.Errorf("types: %w: %q", ErrInvalidHexID, id)
	}
	if _, err := strconv.ParseUint(s, 16, 32); err != nil {
		return "", fmt.Errorf("types: %w: %q", ErrInvalidHexID, id)
	}
	s = strings.ToUpper(s)
	return strings.Repeat("0", HexIDWidth-len(s)) + s, nil
}
