// Package handlers implements the webhook and API surface of the service:
// the telephony provider's voice and status callbacks, call placement, and
// health endpoints.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
	"github.com/sigmoyd/voicegate/pkg/core/voice/tts"
	"github.com/sigmoyd/voicegate/pkg/gateway/twiml"
)

func writeTwiML(w http.ResponseWriter, logger *slog.Logger, resp *twiml.Response) {
	doc, err := resp.Encode()
	if err != nil {
		if logger != nil {
			logger.Error("twiml encode failed", "error", err)
		}
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(doc))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResp struct {
	Error string `json:"error"`
}

// speaker renders assistant text as a TwiML verb, preferring local speech
// synthesis when available and falling back to the provider voice.
type speaker struct {
	tts       tts.Provider
	publicURL string
	logger    *slog.Logger
}

func (s speaker) verb(ctx context.Context, text string, cfg *agent.Config) any {
	voice, language := "Polly.Joanna", "en-US"
	if cfg != nil {
		if cfg.Voice != "" {
			voice = cfg.Voice
		}
		if cfg.Language != "" {
			language = cfg.Language
		}
	}
	if s.tts != nil {
		syn, err := s.tts.Synthesize(ctx, text, tts.SynthesizeOptions{Voice: voice, Language: language})
		if err == nil {
			return twiml.Play{URL: s.publicURL + "/tts/" + syn.FileName}
		}
		if s.logger != nil {
			s.logger.Warn("tts synthesis failed, using provider voice", "error", err)
		}
	}
	return twiml.Say{Text: text, Voice: voice, Language: language}
}
