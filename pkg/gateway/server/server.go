// Package server wires the handler set onto a mux and the middleware chain.
package server

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
	"github.com/sigmoyd/voicegate/pkg/core/call"
	"github.com/sigmoyd/voicegate/pkg/core/convo"
	"github.com/sigmoyd/voicegate/pkg/core/voice/tts"
	"github.com/sigmoyd/voicegate/pkg/gateway/config"
	"github.com/sigmoyd/voicegate/pkg/gateway/handlers"
	"github.com/sigmoyd/voicegate/pkg/gateway/mw"
)

// Deps are the wired dependencies of the HTTP surface. Nil optional fields
// (Generator, TTS, Placer, Redirector, AgentWriter) degrade the
// corresponding feature rather than failing startup.
type Deps struct {
	Store           *call.Store
	Agents          agent.Directory
	Records         handlers.RecordGetter
	Placer          handlers.CallPlacer
	Redirector      handlers.CallRedirector
	AgentWriter     handlers.AgentWriter
	InvalidateAgent func(agentID string)
	Generator       convo.Generator
	Extractor       call.Extractor
	TTS             tts.Provider
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	draining atomic.Bool
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes(deps)
	return s
}

func (s *Server) routes(deps Deps) {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{Draining: s.draining.Load})

	s.mux.Handle("POST /voice/outbound", handlers.AnswerHandler{
		Config: s.cfg,
		Store:  deps.Store,
		TTS:    deps.TTS,
		Logger: s.logger,
	})
	s.mux.Handle("POST /voice/process-speech", handlers.SpeechHandler{
		Config:    s.cfg,
		Store:     deps.Store,
		Generator: deps.Generator,
		Extractor: deps.Extractor,
		TTS:       deps.TTS,
		Logger:    s.logger,
	})
	s.mux.Handle("POST /call-status", handlers.StatusHandler{
		Store:  deps.Store,
		Logger: s.logger,
	})

	s.mux.Handle("POST /v1/calls", handlers.PlaceCallHandler{
		Config: s.cfg,
		Store:  deps.Store,
		Agents: deps.Agents,
		Placer: deps.Placer,
		Logger: s.logger,
	})
	s.mux.Handle("GET /v1/calls/{sid}", handlers.GetCallHandler{
		Records: deps.Records,
		Logger:  s.logger,
	})
	s.mux.Handle("POST /v1/calls/{sid}/interrupt", handlers.InterruptCallHandler{
		Config:     s.cfg,
		Store:      deps.Store,
		Redirector: deps.Redirector,
		Logger:     s.logger,
	})
	s.mux.Handle("GET /v1/sessions", handlers.SessionsHandler{Store: deps.Store})
	s.mux.Handle("PUT /v1/agents/{id}", handlers.UpsertAgentHandler{
		Writer:     deps.AgentWriter,
		Invalidate: deps.InvalidateAgent,
		Logger:     s.logger,
	})

	if s.cfg.TTSEnabled && s.cfg.TTSOutputDir != "" {
		s.mux.Handle("GET /tts/",
			http.StripPrefix("/tts/", http.FileServer(http.Dir(s.cfg.TTSOutputDir))))
	}
}

// SetDraining flips readiness; call it before shutting the listener down.
func (s *Server) SetDraining(v bool) {
	s.draining.Store(v)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
