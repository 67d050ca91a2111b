package voicepath_test

import (
	"testing"

	"github.com/MrWong99/voicebank/internal/config"
	"github.com/MrWong99/voicebank/internal/voicepath"
	"github.com/MrWong99/voicebank/pkg/types"
)

func testVoices() config.VoicesConfig {
	return config.VoicesConfig{
		Root:      "Sound/Voice/Skyrim.esm",
		Overrides: map[string]string{"0001A696": "femaleyoungeager"},
		Fallback:  config.FallbackConfig{Male: "malecommoner", Female: "femalecommoner", None: "maleuniquedog"},
	}
}

func TestResolver_Folder(t *testing.T) {
	t.Parallel()
	r := voicepath.New(testVoices())

	tests := []struct {
		name       string
		actor      types.Actor
		wantFolder string
		wantSource voicepath.Source
	}{
		{
			name:       "override wins over stock",
			actor:      types.Actor{HexID: "0001A696", StockVoice: "femalenord", Sex: types.SexFemale},
			wantFolder: "femaleyoungeager",
			wantSource: voicepath.SourceOverride,
		},
		{
			name:       "override with unnormalised id",
			actor:      types.Actor{HexID: "0x1a696", Sex: types.SexFemale},
			wantFolder: "femaleyoungeager",
			wantSource: voicepath.SourceOverride,
		},
		{
			name:       "stock voice",
			actor:      types.Actor{HexID: "00013BBF", StockVoice: "malebrute", Sex: types.SexMale},
			wantFolder: "malebrute",
			wantSource: voicepath.SourceStock,
		},
		{
			name:       "female fallback",
			actor:      types.Actor{HexID: "00013BBF", Sex: types.SexFemale},
			wantFolder: "femalecommoner",
			wantSource: voicepath.SourceFallback,
		},
		{
			name:       "male fallback",
			actor:      types.Actor{Sex: types.SexMale, StockVoice: "   "},
			wantFolder: "malecommoner",
			wantSource: voicepath.SourceFallback,
		},
		{
			name:       "no sex",
			actor:      types.Actor{HexID: "not-hex", Sex: types.SexNone},
			wantFolder: "maleuniquedog",
			wantSource: voicepath.SourceFallback,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			folder, src := r.Folder(tt.actor)
			if folder != tt.wantFolder || src != tt.wantSource {
				t.Errorf("Folder() = (%q, %q), want (%q, %q)", folder, src, tt.wantFolder, tt.wantSource)
			}
		})
	}
}

func TestResolver_Path(t *testing.T) {
	t.Parallel()
	r := voicepath.New(testVoices())
	lydia := types.Actor{HexID: "0001A696", Sex: types.SexFemale}

	tests := []struct {
		ext  string
		want string
	}{
		{ext: "wav", want: "Sound/Voice/Skyrim.esm/femaleyoungeager/v1.wav"},
		{ext: ".lip", want: "Sound/Voice/Skyrim.esm/femaleyoungeager/v1.lip"},
		{ext: "", want: "Sound/Voice/Skyrim.esm/femaleyoungeager/v1"},
	}
	pathFor := r.For(lydia, "v1")
	for _, tt := range tests {
		if got := r.Path(lydia, "v1", tt.ext); got != tt.want {
			t.Errorf("Path(ext=%q) = %q, want %q", tt.ext, got, tt.want)
		}
		if got := pathFor(tt.ext); got != tt.want {
			t.Errorf("For()(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

func TestResolver_NoRoot(t *testing.T) {
	t.Parallel()
	cfg := testVoices()
	cfg.Root = ""
	r := voicepath.New(cfg)
	got := r.Path(types.Actor{Sex: types.SexMale}, "v2", "fuz")
	if got != "malecommoner/v2.fuz" {
		t.Errorf("Path() = %q, want malecommoner/v2.fuz", got)
	}
}

func TestResolver_Deterministic(t *testing.T) {
	t.Parallel()
	r := voicepath.New(testVoices())
	a := types.Actor{HexID: "00013BBF", StockVoice: "malebrute"}
	first := r.Path(a, "line", "wav")
	for range 100 {
		if got := r.Path(a, "line", "wav"); got != first {
			t.Fatalf("Path() changed from %q to %q", first, got)
		}
	}
}

func TestWithOverrides_LayersOnConfig(t *testing.T) {
	t.Parallel()
	r := voicepath.New(testVoices(), voicepath.WithOverrides(map[string]string{
		"1a696":    "femalesultry", // replaces the configured override
		"0x13BBF":  "malebrute",
		"not-hex":  "ignored",
		"00000007": "",
	}))

	if folder, _ := r.Folder(types.Actor{HexID: "0001A696"}); folder != "femalesultry" {
		t.Errorf("layered override: got %q, want femalesultry", folder)
	}
	if folder, src := r.Folder(types.Actor{HexID: "00013BBF"}); folder != "malebrute" || src != voicepath.SourceOverride {
		t.Errorf("added override: got (%q, %q)", folder, src)
	}
	if got := len(r.Overrides()); got != 2 {
		t.Errorf("Overrides() has %d entries, want 2", got)
	}
}
