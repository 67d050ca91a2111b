package intensity_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/voicebank/pkg/intensity"
	"github.com/MrWong99/voicebank/pkg/types"
)

func rng(min, max int, v string) intensity.Range[string] {
	return intensity.Range[string]{Min: types.Intensity(min), Max: types.Intensity(max), Value: v}
}

func TestNewRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		min, max types.Intensity
		wantErr  error
	}{
		{name: "full scale", min: 0, max: 100},
		{name: "single point", min: 42, max: 42},
		{name: "min greater than max", min: 60, max: 40, wantErr: intensity.ErrInvalidOrder},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r, err := intensity.NewRange(tc.min, tc.max, "payload")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("NewRange(%d, %d): err = %v, want %v", tc.min, tc.max, err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRange(%d, %d): unexpected error: %v", tc.min, tc.max, err)
			}
			if r.Value != "payload" {
				t.Errorf("Value = %q, want %q", r.Value, "payload")
			}
		})
	}
}

func TestNewRange_OutOfScale(t *testing.T) {
	t.Parallel()
	_, err := intensity.NewRange(-1, 50, "x")
	if err == nil {
		t.Fatal("expected error for min below 0")
	}
	_, err = intensity.NewRange(0, 101, "x")
	if err == nil {
		t.Fatal("expected error for max above 100")
	}
}

func TestNewTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		ranges   []intensity.Range[string]
		wantErr  error
		wantKind intensity.Kind
		wantMsg  string
	}{
		{
			name:   "single full range",
			ranges: []intensity.Range[string]{rng(0, 100, "all")},
		},
		{
			name:   "two adjacent ranges",
			ranges: []intensity.Range[string]{rng(0, 50, "low"), rng(51, 100, "high")},
		},
		{
			name:   "unsorted input",
			ranges: []intensity.Range[string]{rng(71, 100, "c"), rng(0, 30, "a"), rng(31, 70, "b")},
		},
		{
			name:     "gap between ranges",
			ranges:   []intensity.Range[string]{rng(0, 40, "a"), rng(42, 100, "b")},
			wantErr:  intensity.ErrNonContiguous,
			wantKind: intensity.KindNonContiguous,
			wantMsg:  "values must be contiguous",
		},
		{
			name:     "overlapping ranges",
			ranges:   []intensity.Range[string]{rng(0, 60, "a"), rng(50, 100, "b")},
			wantErr:  intensity.ErrNonContiguous,
			wantKind: intensity.KindNonContiguous,
			wantMsg:  "values must be contiguous",
		},
		{
			name:     "identical ranges",
			ranges:   []intensity.Range[string]{rng(0, 100, "a"), rng(0, 100, "b")},
			wantErr:  intensity.ErrNonContiguous,
			wantKind: intensity.KindNonContiguous,
		},
		{
			name:     "does not start at zero",
			ranges:   []intensity.Range[string]{rng(1, 50, "a"), rng(51, 100, "b")},
			wantErr:  intensity.ErrIncompleteCoverage,
			wantKind: intensity.KindIncompleteCoverage,
			wantMsg:  "must cover the full range of emotional intensity (0-100)",
		},
		{
			name:     "does not end at hundred",
			ranges:   []intensity.Range[string]{rng(0, 50, "a"), rng(51, 99, "b")},
			wantErr:  intensity.ErrIncompleteCoverage,
			wantKind: intensity.KindIncompleteCoverage,
		},
		{
			name:     "empty",
			ranges:   nil,
			wantErr:  intensity.ErrIncompleteCoverage,
			wantKind: intensity.KindIncompleteCoverage,
		},
		{
			name:     "inverted range checked before collection",
			ranges:   []intensity.Range[string]{rng(0, 50, "a"), rng(100, 51, "b")},
			wantErr:  intensity.ErrInvalidOrder,
			wantKind: intensity.KindInvalidOrder,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			table, err := intensity.NewTable(tc.ranges)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("NewTable: unexpected error: %v", err)
				}
				if table.Len() != len(tc.ranges) {
					t.Errorf("Len() = %d, want %d", table.Len(), len(tc.ranges))
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("NewTable: err = %v, want %v", err, tc.wantErr)
			}
			var verr *intensity.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("NewTable: err %T is not *ValidationError", err)
			}
			if verr.Kind != tc.wantKind {
				t.Errorf("Kind = %v, want %v", verr.Kind, tc.wantKind)
			}
			if tc.wantMsg != "" && !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not contain %q", err.Error(), tc.wantMsg)
			}
		})
	}
}

func TestNewTable_ErrorKindsAreDistinct(t *testing.T) {
	t.Parallel()
	if errors.Is(&intensity.ValidationError{Kind: intensity.KindNonContiguous}, intensity.ErrIncompleteCoverage) {
		t.Error("non-contiguous error matched coverage sentinel")
	}
	if errors.Is(&intensity.ValidationError{Kind: intensity.KindIncompleteCoverage}, intensity.ErrNonContiguous) {
		t.Error("coverage error matched contiguity sentinel")
	}
	if errors.Is(&intensity.ValidationError{Kind: intensity.KindInvalidOrder}, intensity.ErrNonContiguous) {
		t.Error("order error matched contiguity sentinel")
	}
}

func TestNewTable_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	in := []intensity.Range[string]{rng(51, 100, "high"), rng(0, 50, "low")}
	if _, err := intensity.NewTable(in); err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if in[0].Value != "high" || in[1].Value != "low" {
		t.Errorf("input reordered: %v", in)
	}
}

func TestTable_Lookup(t *testing.T) {
	t.Parallel()
	table, err := intensity.NewTable([]intensity.Range[string]{
		rng(67, 100, "high"),
		rng(0, 33, "low"),
		rng(34, 66, "mid"),
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	tests := []struct {
		in   types.Intensity
		want string
	}{
		{0, "low"},
		{33, "low"},
		{34, "mid"},
		{50, "mid"},
		{66, "mid"},
		{67, "high"},
		{100, "high"},
		{-5, "low"},
		{250, "high"},
	}
	for _, tc := range tests {
		if got := table.Lookup(tc.in); got != tc.want {
			t.Errorf("Lookup(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTable_LookupWithoutCells(t *testing.T) {
	t.Parallel()

	var zero intensity.Table[*string]
	var nilTable *intensity.Table[*string]
	for name, table := range map[string]*intensity.Table[*string]{"zero": &zero, "nil": nilTable} {
		if got := table.Lookup(50); got != nil {
			t.Errorf("%s table: Lookup(50) = %v, want nil", name, got)
		}
		if n := table.Len(); n != 0 {
			t.Errorf("%s table: Len() = %d, want 0", name, n)
		}
	}
}

func TestTable_RangesSorted(t *testing.T) {
	t.Parallel()
	table, err := intensity.NewTable([]intensity.Range[string]{rng(51, 100, "b"), rng(0, 50, "a")})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	got := table.Ranges()
	if got[0].String() != "0-50" || got[1].String() != "51-100" {
		t.Errorf("Ranges() = [%s %s], want [0-50 51-100]", got[0], got[1])
	}
}

func TestSingleAndMap(t *testing.T) {
	t.Parallel()
	table := intensity.Single([]string{"v1", "v2"})
	counts := intensity.Map(table, func(r intensity.Range[[]string]) int { return len(r.Value) })
	for _, i := range []types.Intensity{0, 50, 100} {
		if got := counts.Lookup(i); got != 2 {
			t.Errorf("Lookup(%d) = %d, want 2", i, got)
		}
	}
}
