package generator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicebank/internal/dialogue"
)

const (
	elevenLabsBaseURL        = "wss://api.elevenlabs.io"
	elevenLabsDefaultModel   = "eleven_flash_v2_5"
	elevenLabsDefaultRate    = 16000
	elevenLabsDefaultTimeout = 60 * time.Second
)

// ElevenLabsOption is a functional option for configuring an [ElevenLabs]
// synthesizer.
type ElevenLabsOption func(*ElevenLabs)

// WithElevenLabsModel sets the model ID (e.g. "eleven_flash_v2_5").
func WithElevenLabsModel(model string) ElevenLabsOption {
	return func(e *ElevenLabs) {
		if model != "" {
			e.model = model
		}
	}
}

// WithElevenLabsSampleRate selects the PCM output format ("pcm_<rate>").
// ElevenLabs supports 16000, 22050, 24000 and 44100.
func WithElevenLabsSampleRate(rate int) ElevenLabsOption {
	return func(e *ElevenLabs) {
		if rate > 0 {
			e.sampleRate = rate
		}
	}
}

// WithElevenLabsVoices maps voice folders to ElevenLabs voice IDs. def is
// used for unmapped folders.
func WithElevenLabsVoices(byFolder map[string]string, def string) ElevenLabsOption {
	return func(e *ElevenLabs) { e.voices = voiceMap{byFolder: byFolder, fallback: def} }
}

// WithElevenLabsTimeout bounds one synthesis stream. Defaults to 60s.
func WithElevenLabsTimeout(d time.Duration) ElevenLabsOption {
	return func(e *ElevenLabs) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithElevenLabsBaseURL overrides the WebSocket base URL.
func WithElevenLabsBaseURL(u string) ElevenLabsOption {
	return func(e *ElevenLabs) { e.baseURL = strings.TrimRight(u, "/") }
}

// WithElevenLabsOutputDir sets the directory voice paths are written below.
func WithElevenLabsOutputDir(dir string) ElevenLabsOption {
	return func(e *ElevenLabs) { e.root = dir }
}

// ElevenLabs renders lines with the ElevenLabs streaming WebSocket API and
// writes them as 16-bit mono WAV. It is safe for concurrent use; every line
// uses its own connection.
type ElevenLabs struct {
	apiKey     string
	model      string
	sampleRate int
	timeout    time.Duration
	baseURL    string
	voices     voiceMap
	root       string
}

var _ dialogue.Synthesizer = (*ElevenLabs)(nil)

// NewElevenLabs creates an ElevenLabs synthesizer. apiKey must be non-empty.
func NewElevenLabs(apiKey string, opts ...ElevenLabsOption) (*ElevenLabs, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	e := &ElevenLabs{
		apiKey:     apiKey,
		model:      elevenLabsDefaultModel,
		sampleRate: elevenLabsDefaultRate,
		timeout:    elevenLabsDefaultTimeout,
		baseURL:    elevenLabsBaseURL,
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// textMessage is sent for every text fragment and, with empty Text, to flush.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is one message received from ElevenLabs.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Synthesize renders req.Line.Text and writes it to req.Paths.Wav.
func (e *ElevenLabs) Synthesize(ctx context.Context, req dialogue.Request) error {
	voice := e.voices.lookup(req)
	if voice == "" {
		return fmt.Errorf("elevenlabs: no voice configured for voice folder %q", folderOf(req))
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	pcm, err := e.stream(ctx, voice, req.Line.Text)
	if err != nil {
		return err
	}
	if err := writeFile(localPath(e.root, req.Paths.Wav), encodeWAV(pcm, e.sampleRate, 1)); err != nil {
		return fmt.Errorf("elevenlabs: write wav: %w", err)
	}
	return nil
}

// streamURL builds the stream-input URL for voice.
func (e *ElevenLabs) streamURL(voice string) string {
	q := url.Values{}
	q.Set("model_id", e.model)
	q.Set("output_format", fmt.Sprintf("pcm_%d", e.sampleRate))
	return e.baseURL + "/v1/text-to-speech/" + url.PathEscape(voice) + "/stream-input?" + q.Encode()
}

// stream sends text over one WebSocket session and collects the PCM reply.
func (e *ElevenLabs) stream(ctx context.Context, voice, text string) ([]byte, error) {
	conn, _, err := websocket.Dial(ctx, e.streamURL(voice), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()

	// The first message must carry non-empty text; a single space opens the
	// stream and authenticates.
	msgs := []textMessage{
		{Text: " ", VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}, XiAPIKey: e.apiKey},
		{Text: strings.TrimSpace(text) + " "},
		{Text: ""},
	}
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: marshal: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(pcm) > 0 {
				break
			}
			return nil, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return nil, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	if len(pcm) == 0 {
		return nil, errors.New("elevenlabs: no audio received")
	}
	return pcm, nil
}
