// Package emotion maps an emotional state to the voice pool that serves it.
//
// An [Index] is built once from configuration. It holds one
// [voicepool.Pool] per flat bucket or per intensity cell of a ranged bucket,
// plus the mandatory Neutral pool that every unmapped emotion falls back to.
// The index is read-only after [Build] returns and needs no locking.
package emotion

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/MrWong99/voicebank/internal/config"
	"github.com/MrWong99/voicebank/internal/voicepool"
	"github.com/MrWong99/voicebank/pkg/intensity"
	"github.com/MrWong99/voicebank/pkg/types"
)

// ErrNeutralMissing is returned by [Build] when the configuration has no
// Neutral bucket.
var ErrNeutralMissing = errors.New("emotion: Neutral bucket is required")

// Index resolves emotions to voice pools.
type Index struct {
	neutral *voicepool.Pool
	tables  map[types.EmotionLabel]*intensity.Table[*voicepool.Pool]
	pools   []*voicepool.Pool
}

// Build creates every pool described by cfg. opts are passed to each
// [voicepool.New] call.
//
// A ranged bucket that is not an exact partition of [0, 100] stops the build
// with the [intensity.ValidationError] of the offending label.
func Build(cfg config.EmotionsConfig, opts ...voicepool.Option) (*Index, error) {
	nb, ok := cfg[types.EmotionNeutral]
	if !ok {
		return nil, ErrNeutralMissing
	}
	if nb.IsRanged() {
		return nil, fmt.Errorf("emotion: Neutral bucket must be flat")
	}

	neutral, err := voicepool.New(string(types.EmotionNeutral), nb.VoiceFiles, opts...)
	if err != nil {
		return nil, fmt.Errorf("emotion: %w", err)
	}

	idx := &Index{
		neutral: neutral,
		tables:  make(map[types.EmotionLabel]*intensity.Table[*voicepool.Pool], len(cfg)),
		pools:   []*voicepool.Pool{neutral},
	}

	for _, label := range slices.Sorted(maps.Keys(cfg)) {
		if label == types.EmotionNeutral {
			continue
		}
		bucket := cfg[label]

		files, err := bucket.Table()
		if err != nil {
			return nil, fmt.Errorf("emotion: %s: %w", label, err)
		}

		var buildErr error
		pools := intensity.Map(files, func(r intensity.Range[[]string]) *voicepool.Pool {
			if buildErr != nil {
				return nil
			}
			p, err := voicepool.New(poolName(label, bucket.IsRanged(), r), r.Value, opts...)
			if err != nil {
				buildErr = err
				return nil
			}
			return p
		})
		if buildErr != nil {
			return nil, fmt.Errorf("emotion: %s: %w", label, buildErr)
		}

		idx.tables[label] = pools
		for _, r := range pools.Ranges() {
			idx.pools = append(idx.pools, r.Value)
		}
	}
	return idx, nil
}

// poolName labels a pool "Sad" for flat buckets and "Happy[0-50]" for cells
// of ranged ones.
func poolName(label types.EmotionLabel, ranged bool, r intensity.Range[[]string]) string {
	if !ranged {
		return string(label)
	}
	return fmt.Sprintf("%s[%s]", label, r)
}

// Resolve returns the pool serving e. It never fails: Neutral, unknown and
// unconfigured labels all resolve to the Neutral pool, and intensities
// outside [0, 100] are clamped.
func (x *Index) Resolve(e types.Emotion) *voicepool.Pool {
	t, ok := x.tables[e.Type]
	if !ok {
		return x.neutral
	}
	if p := t.Lookup(e.Intensity); p != nil {
		return p
	}
	return x.neutral
}

// ResolveOptional resolves e, treating nil as Neutral.
func (x *Index) ResolveOptional(e *types.Emotion) *voicepool.Pool {
	if e == nil {
		return x.neutral
	}
	return x.Resolve(*e)
}

// Neutral returns the fallback pool.
func (x *Index) Neutral() *voicepool.Pool { return x.neutral }

// Pools returns every pool of the index: Neutral first, then the remaining
// labels in sorted order with their cells in ascending intensity.
func (x *Index) Pools() []*voicepool.Pool {
	return slices.Clone(x.pools)
}

// Labels returns the configured non-Neutral labels in sorted order.
func (x *Index) Labels() []types.EmotionLabel {
	return slices.Sorted(maps.Keys(x.tables))
}
