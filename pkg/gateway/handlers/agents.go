package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
)

// AgentWriter persists agent configurations.
type AgentWriter interface {
	UpsertAgent(ctx context.Context, cfg *agent.Config) error
}

// UpsertAgentHandler serves PUT /v1/agents/{id}: it creates or replaces an
// agent configuration and drops any cached copy so the next call picks the
// change up within one lookup instead of one cache TTL.
type UpsertAgentHandler struct {
	Writer     AgentWriter
	Invalidate func(agentID string)
	Logger     *slog.Logger
}

func (h UpsertAgentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Writer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "agent management not configured"})
		return
	}
	agentID := r.PathValue("id")
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "missing agent id"})
		return
	}

	var cfg agent.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid JSON body"})
		return
	}
	cfg.ID = agentID
	if cfg.Prompt == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "prompt is required"})
		return
	}
	if cfg.Status == "" {
		cfg.Status = "active"
	}

	if err := h.Writer.UpsertAgent(r.Context(), &cfg); err != nil {
		h.Logger.Error("agent upsert failed", "agent_id", agentID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "agent upsert failed"})
		return
	}
	if h.Invalidate != nil {
		h.Invalidate(agentID)
	}

	h.Logger.Info("agent upserted", "agent_id", agentID, "status", cfg.Status)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agent_id": agentID})
}
