package types

import (
	"errors"
	"testing"
)

func TestNormalizeHexID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0001A696", want: "0001A696"},
		{in: "0x1a696", want: "0001A696"},
		{in: "0X1A696", want: "0001A696"},
		{in: " 1a696 ", want: "0001A696"},
		{in: "FFFFFFFF", want: "FFFFFFFF"},
		{in: "", wantErr: true},
		{in: "0x", wantErr: true},
		{in: "123456789", wantErr: true},
		{in: "lydia", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeHexID(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidHexID) {
					t.Fatalf("err = %v, want ErrInvalidHexID", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeHexID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseSex(t *testing.T) {
	t.Parallel()
	cases := map[string]Sex{
		"male":    SexMale,
		"Female":  SexFemale,
		" MALE ":  SexMale,
		"none":    SexNone,
		"":        SexNone,
		"unknown": SexNone,
	}
	for in, want := range cases {
		if got := ParseSex(in); got != want {
			t.Errorf("ParseSex(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIntensityClamp(t *testing.T) {
	t.Parallel()
	cases := map[Intensity]Intensity{-5: 0, 0: 0, 42: 42, 100: 100, 250: 100}
	for in, want := range cases {
		if got := in.Clamp(); got != want {
			t.Errorf("Intensity(%d).Clamp() = %d, want %d", in, got, want)
		}
	}
}

func TestEmotionString(t *testing.T) {
	t.Parallel()
	e := Emotion{Type: EmotionHappy, Intensity: 30}
	if got := e.String(); got != "Happy@30" {
		t.Errorf("String() = %q, want Happy@30", got)
	}
	if !EmotionAnger.IsKnown() || EmotionLabel("Smug").IsKnown() {
		t.Error("IsKnown mismatch")
	}
}
