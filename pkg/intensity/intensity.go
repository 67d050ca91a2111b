// Package intensity validates and stores partitions of the emotional
// intensity scale [0, 100].
//
// A [Table] is an ordered, gap-free, non-overlapping sequence of [Range]
// cells covering the whole scale, each carrying an arbitrary payload. Tables
// are built once from static configuration via [NewTable] and are immutable
// (and therefore safe for concurrent use) afterwards.
package intensity

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/voicebank/pkg/types"
)

// Kind classifies a [ValidationError].
type Kind int

const (
	// KindInvalidOrder reports a single range whose min is greater than its max.
	KindInvalidOrder Kind = iota + 1

	// KindNonContiguous reports a gap or an overlap between two ranges.
	KindNonContiguous

	// KindIncompleteCoverage reports a set of ranges whose union is not [0, 100].
	KindIncompleteCoverage
)

// String returns the kind's name.
func (k Kind) String() string {
	switch k {
	case KindInvalidOrder:
		return "invalid_order"
	case KindNonContiguous:
		return "non_contiguous"
	case KindIncompleteCoverage:
		return "incomplete_coverage"
	default:
		return "unknown"
	}
}

// Sentinels matched by [ValidationError.Is].
var (
	ErrInvalidOrder       = errors.New("min must be less than or equal to max")
	ErrNonContiguous      = errors.New("values must be contiguous")
	ErrIncompleteCoverage = errors.New("must cover the full range of emotional intensity (0-100)")
)

// ValidationError is returned by [NewRange] and [NewTable].
// Use errors.Is with one of the sentinels, or errors.As and inspect Kind.
type ValidationError struct {
	Kind Kind

	// Ranges holds the offending ranges as "min-max" strings: one entry for
	// KindInvalidOrder, the adjacent pair for KindNonContiguous, and the first
	// and last range for KindIncompleteCoverage.
	Ranges []string
}

func (e *ValidationError) Error() string {
	var msg string
	switch e.Kind {
	case KindInvalidOrder:
		msg = ErrInvalidOrder.Error()
	case KindNonContiguous:
		msg = ErrNonContiguous.Error()
	case KindIncompleteCoverage:
		msg = ErrIncompleteCoverage.Error()
	default:
		msg = "invalid intensity ranges"
	}
	if len(e.Ranges) == 0 {
		return "intensity: " + msg
	}
	return fmt.Sprintf("intensity: %s (ranges %s)", msg, strings.Join(e.Ranges, ", "))
}

// Is makes errors.Is(err, ErrNonContiguous) and friends work.
func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrInvalidOrder:
		return e.Kind == KindInvalidOrder
	case ErrNonContiguous:
		return e.Kind == KindNonContiguous
	case ErrIncompleteCoverage:
		return e.Kind == KindIncompleteCoverage
	}
	return false
}

// Range is one cell of a [Table]: the inclusive interval [Min, Max] and the
// payload that applies to it.
type Range[T any] struct {
	Min   types.Intensity
	Max   types.Intensity
	Value T
}

// NewRange constructs a Range, rejecting bounds outside [0, 100] and
// min > max.
func NewRange[T any](min, max types.Intensity, value T) (Range[T], error) {
	r := Range[T]{Min: min, Max: max, Value: value}
	if !min.IsValid() || !max.IsValid() {
		return Range[T]{}, fmt.Errorf("intensity: range %s lies outside [%d, %d]", r.label(), types.MinIntensity, types.MaxIntensity)
	}
	if min > max {
		return Range[T]{}, &ValidationError{Kind: KindInvalidOrder, Ranges: []string{r.label()}}
	}
	return r, nil
}

// Contains reports whether i lies within the range.
func (r Range[T]) Contains(i types.Intensity) bool {
	return r.Min <= i && i <= r.Max
}

// String returns "min-max".
func (r Range[T]) String() string { return r.label() }

func (r Range[T]) label() string {
	return strconv.Itoa(int(r.Min)) + "-" + strconv.Itoa(int(r.Max))
}

// Table is a validated partition of [0, 100]. Construct one with [NewTable]
// or [Single]; the zero value has no cells.
type Table[T any] struct {
	ranges []Range[T]
}

// NewTable validates ranges and returns them as a Table sorted by Min.
// The input slice is not modified.
//
// Each range is first checked individually (min <= max, see [NewRange]).
// The sorted ranges must then be exactly adjacent (prev.Max+1 == next.Min),
// which rejects both gaps and overlaps with [KindNonContiguous], and must
// start at 0 and end at 100, otherwise [KindIncompleteCoverage] is returned.
func NewTable[T any](ranges []Range[T]) (*Table[T], error) {
	if len(ranges) == 0 {
		return nil, &ValidationError{Kind: KindIncompleteCoverage}
	}
	for _, r := range ranges {
		if _, err := NewRange(r.Min, r.Max, r.Value); err != nil {
			return nil, err
		}
	}

	sorted := slices.Clone(ranges)
	slices.SortStableFunc(sorted, func(a, b Range[T]) int {
		return int(a.Min) - int(b.Min)
	})

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if prev.Max+1 != cur.Min {
			return nil, &ValidationError{
				Kind:   KindNonContiguous,
				Ranges: []string{prev.label(), cur.label()},
			}
		}
	}

	first, last := sorted[0], sorted[len(sorted)-1]
	if first.Min != types.MinIntensity || last.Max != types.MaxIntensity {
		return nil, &ValidationError{
			Kind:   KindIncompleteCoverage,
			Ranges: []string{first.label(), last.label()},
		}
	}

	return &Table[T]{ranges: sorted}, nil
}

// Single returns a Table with one cell spanning the whole scale.
func Single[T any](value T) *Table[T] {
	return &Table[T]{ranges: []Range[T]{{Min: types.MinIntensity, Max: types.MaxIntensity, Value: value}}}
}

// Lookup returns the payload of the cell containing i. Out-of-scale values
// are clamped, so Lookup always succeeds on a Table built by [NewTable] or
// [Single]. A nil or zero Table has no cells and yields the zero T.
func (t *Table[T]) Lookup(i types.Intensity) T {
	if t == nil || len(t.ranges) == 0 {
		var zero T
		return zero
	}
	i = i.Clamp()
	idx, _ := slices.BinarySearchFunc(t.ranges, i, func(r Range[T], target types.Intensity) int {
		switch {
		case r.Max < target:
			return -1
		case r.Min > target:
			return 1
		}
		return 0
	})
	return t.ranges[idx].Value
}

// Ranges returns a copy of the cells in ascending order.
func (t *Table[T]) Ranges() []Range[T] {
	return slices.Clone(t.ranges)
}

// Len returns the number of cells.
func (t *Table[T]) Len() int {
	if t == nil {
		return 0
	}
	return len(t.ranges)
}

// Map builds a new Table with the same boundaries whose payloads are fn
// applied to each cell in ascending order.
func Map[T, U any](t *Table[T], fn func(Range[T]) U) *Table[U] {
	out := make([]Range[U], len(t.ranges))
	for i, r := range t.ranges {
		out[i] = Range[U]{Min: r.Min, Max: r.Max, Value: fn(r)}
	}
	return &Table[U]{ranges: out}
}
