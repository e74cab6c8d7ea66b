package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalHTTP synthesizes speech through a local HTTP synthesis server
// (XTTS-style) and writes the audio under an output directory for the
// gateway to serve back to the telephony provider. Generated files are
// deleted after a cleanup delay.
type LocalHTTP struct {
	baseURL      string
	outputDir    string
	cleanupDelay time.Duration
	httpClient   *http.Client
}

// NewLocalHTTP builds a local-server-backed provider. A non-positive
// cleanupDelay defaults to 5 minutes.
func NewLocalHTTP(baseURL, outputDir string, cleanupDelay time.Duration) (*LocalHTTP, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create tts output dir: %w", err)
	}
	if cleanupDelay <= 0 {
		cleanupDelay = 5 * time.Minute
	}
	return &LocalHTTP{
		baseURL:      strings.TrimRight(baseURL, "/"),
		outputDir:    outputDir,
		cleanupDelay: cleanupDelay,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// WithHTTPClient overrides the HTTP client.
func (l *LocalHTTP) WithHTTPClient(client *http.Client) *LocalHTTP {
	if client != nil {
		l.httpClient = client
	}
	return l
}

func (l *LocalHTTP) Name() string { return "local" }

type synthesizeRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
}

// Synthesize implements Provider.
func (l *LocalHTTP) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	body, err := json.Marshal(synthesizeRequest{
		Text:     text,
		Voice:    opts.Voice,
		Language: shortLanguage(opts.Language),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tts server returned %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}

	name := "tts_" + uuid.NewString() + ".wav"
	path := filepath.Join(l.outputDir, name)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return nil, fmt.Errorf("write tts file: %w", err)
	}

	time.AfterFunc(l.cleanupDelay, func() { _ = os.Remove(path) })

	return &Synthesis{FileName: name, Format: "wav"}, nil
}

// OutputDir returns the directory generated files are written to.
func (l *LocalHTTP) OutputDir() string { return l.outputDir }

// shortLanguage maps a BCP-47 code to the bare language the synthesis
// server expects ("en-US" -> "en").
func shortLanguage(code string) string {
	if i := strings.Index(code, "-"); i > 0 {
		return code[:i]
	}
	return code
}
