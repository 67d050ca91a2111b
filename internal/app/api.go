package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebank/internal/dialogue"
	"github.com/MrWong99/voicebank/internal/voicepath"
	"github.com/MrWong99/voicebank/pkg/types"
)

// maxLinesPerRequest bounds the body of POST /v1/lines.
const maxLinesPerRequest = 256

type voicePathResponse struct {
	Actor  string           `json:"actor"`
	Folder string           `json:"folder"`
	Source voicepath.Source `json:"source"`
	Path   string           `json:"path,omitempty"`
	Pool   string           `json:"pool"`
}

type lineRequest struct {
	HexID      string `json:"hex_id"`
	Name       string `json:"name"`
	StockVoice string `json:"stock_voice"`
	Sex        string `json:"sex"`
	Text       string `json:"text"`
	Emotion    string `json:"emotion"`
	Intensity  *int   `json:"intensity"`
}

type lineResponse struct {
	Result *dialogue.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Register adds the voicebank API routes to mux:
//
//	GET  /v1/pools       pool snapshots
//	GET  /v1/voice-path  folder, path and pool for an actor
//	POST /v1/lines       deliver lines through the generators
func (a *App) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/pools", a.handlePools)
	mux.HandleFunc("GET /v1/voice-path", a.handleVoicePath)
	mux.HandleFunc("POST /v1/lines", a.handleLines)
}

func (a *App) handlePools(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.Pools())
}

func (a *App) handleVoicePath(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actor := types.Actor{
		HexID:      q.Get("actor"),
		Name:       q.Get("name"),
		StockVoice: q.Get("stock"),
		Sex:        types.ParseSex(q.Get("sex")),
	}
	e, err := parseEmotion(q.Get("emotion"), q.Get("intensity"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	folder, src := a.VoiceFolder(actor)
	resp := voicePathResponse{
		Actor:  actor.String(),
		Folder: folder,
		Source: src,
		Pool:   a.ResolvePool(e).Name(),
	}
	if file := q.Get("file"); file != "" {
		resp.Path = a.VoicePath(actor, file, q.Get("ext"))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleLines(w http.ResponseWriter, r *http.Request) {
	if a.speaker == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: ErrNoGenerators.Error()})
		return
	}

	var reqs []lineRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&reqs); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error()})
		return
	}
	if len(reqs) == 0 || len(reqs) > maxLinesPerRequest {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "expected 1 to " + strconv.Itoa(maxLinesPerRequest) + " lines"})
		return
	}

	lines := make([]dialogue.Line, len(reqs))
	for i, req := range reqs {
		var intensity string
		if req.Intensity != nil {
			intensity = strconv.Itoa(*req.Intensity)
		}
		e, err := parseEmotion(req.Emotion, intensity)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "line " + strconv.Itoa(i) + ": " + err.Error()})
			return
		}
		lines[i] = dialogue.Line{
			Actor: types.Actor{
				HexID:      req.HexID,
				Name:       req.Name,
				StockVoice: req.StockVoice,
				Sex:        types.ParseSex(req.Sex),
			},
			Text:    req.Text,
			Emotion: e,
		}
	}

	out := make([]lineResponse, len(lines))
	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(a.cfg.Dialogue.EffectiveMaxConcurrent())
	for i, line := range lines {
		g.Go(func() error {
			res, err := a.speaker.Speak(r.Context(), line)
			if err != nil {
				out[i].Error = err.Error()
				return nil
			}
			out[i].Result = &res
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	status := http.StatusOK
	if delivered.Load() == 0 {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}

// parseEmotion builds an optional emotion from query or body values. An
// empty label yields nil; a missing intensity defaults to 0.
func parseEmotion(label, intensity string) (*types.Emotion, error) {
	if label == "" {
		return nil, nil
	}
	e := &types.Emotion{Type: types.EmotionLabel(label)}
	if intensity != "" {
		n, err := strconv.Atoi(intensity)
		if err != nil {
			return nil, errors.New("intensity must be an integer")
		}
		if !types.Intensity(n).IsValid() {
			return nil, errors.New("intensity must be within [0,100]")
		}
		e.Intensity = types.Intensity(n)
	}
	return e, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
