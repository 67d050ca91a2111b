package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/voicebank/internal/config"
	"github.com/MrWong99/voicebank/internal/dialogue"
)

const (
	coquiDefaultLanguage = "en"
	coquiDefaultTimeout  = 30 * time.Second
	coquiXTTSEndpoint    = "/tts_to_audio/"
	coquiAPIEndpoint     = "/api/tts"
)

// CoquiOption is a functional option for configuring a [Coqui] synthesizer.
type CoquiOption func(*Coqui)

// WithCoquiLanguage sets the language code sent to the server (e.g. "en",
// "de"). Defaults to "en".
func WithCoquiLanguage(lang string) CoquiOption {
	return func(c *Coqui) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithCoquiTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithCoquiTimeout(d time.Duration) CoquiOption {
	return func(c *Coqui) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithCoquiAPIMode selects the server API: [config.CoquiStandard] (default)
// for the standard Coqui TTS image or [config.CoquiXTTS] for the XTTS v2 API
// server.
func WithCoquiAPIMode(mode string) CoquiOption {
	return func(c *Coqui) {
		if mode != "" {
			c.apiMode = mode
		}
	}
}

// WithCoquiSampleRate resamples mono output to rate before writing. Zero keeps
// the model's native rate.
func WithCoquiSampleRate(rate int) CoquiOption {
	return func(c *Coqui) { c.sampleRate = rate }
}

// WithCoquiVoices maps voice folders to speaker IDs (standard mode) or
// reference WAV paths (XTTS mode). def is used for unmapped folders.
func WithCoquiVoices(byFolder map[string]string, def string) CoquiOption {
	return func(c *Coqui) { c.voices = voiceMap{byFolder: byFolder, fallback: def} }
}

// WithCoquiOutputDir sets the directory voice paths are written below.
func WithCoquiOutputDir(dir string) CoquiOption {
	return func(c *Coqui) { c.root = dir }
}

// Coqui renders lines with a self-hosted Coqui TTS server. It is safe for
// concurrent use.
type Coqui struct {
	serverURL  string
	language   string
	apiMode    string
	sampleRate int
	voices     voiceMap
	root       string
	httpClient *http.Client
}

var _ dialogue.Synthesizer = (*Coqui)(nil)

// NewCoqui creates a Coqui synthesizer for the server at serverURL
// (e.g. "http://localhost:5002").
func NewCoqui(serverURL string, opts ...CoquiOption) (*Coqui, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	c := &Coqui{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   coquiDefaultLanguage,
		apiMode:    config.CoquiStandard,
		httpClient: &http.Client{Timeout: coquiDefaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	if c.apiMode != config.CoquiStandard && c.apiMode != config.CoquiXTTS {
		return nil, fmt.Errorf("coqui: unknown api mode %q", c.apiMode)
	}
	return c, nil
}

// xttsRequest is the JSON body sent to POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize renders req.Line.Text and writes it to req.Paths.Wav.
func (c *Coqui) Synthesize(ctx context.Context, req dialogue.Request) error {
	voice := c.voices.lookup(req)
	if c.apiMode == config.CoquiXTTS && voice == "" {
		return fmt.Errorf("coqui: no speaker configured for voice folder %q", folderOf(req))
	}

	var (
		wav []byte
		err error
	)
	if c.apiMode == config.CoquiXTTS {
		wav, err = c.synthesizeXTTS(ctx, req.Line.Text, voice)
	} else {
		wav, err = c.synthesizeStandard(ctx, req.Line.Text, voice)
	}
	if err != nil {
		return err
	}

	info, err := parseWAV(wav)
	if err != nil {
		return fmt.Errorf("coqui: invalid WAV response: %w", err)
	}
	if c.sampleRate > 0 && info.SampleRate != c.sampleRate && info.Channels == 1 && info.BitsPerSample == 16 {
		pcm := wav[info.DataOffset : info.DataOffset+info.DataSize]
		wav = encodeWAV(resampleMono16(pcm, info.SampleRate, c.sampleRate), c.sampleRate, 1)
	}

	if err := writeFile(localPath(c.root, req.Paths.Wav), wav); err != nil {
		return fmt.Errorf("coqui: write wav: %w", err)
	}
	return nil
}

// synthesizeXTTS performs a single POST /tts_to_audio/ call.
func (c *Coqui) synthesizeXTTS(ctx context.Context, text, speakerWav string) ([]byte, error) {
	data, err := json.Marshal(xttsRequest{Text: text, SpeakerWav: speakerWav, Language: c.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+coquiXTTSEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.fetch(req)
}

// synthesizeStandard performs a single GET /api/tts call.
func (c *Coqui) synthesizeStandard(ctx context.Context, text, speaker string) ([]byte, error) {
	params := url.Values{}
	params.Set("text", text)
	if speaker != "" {
		params.Set("speaker_id", speaker)
	}
	if c.language != "" {
		params.Set("language_id", c.language)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+coquiAPIEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return c.fetch(req)
}

func (c *Coqui) fetch(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "audio/wav")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: %s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	return wav, nil
}
