package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
	"github.com/sigmoyd/voicegate/pkg/core/call"
	"github.com/sigmoyd/voicegate/pkg/gateway/config"
	"github.com/sigmoyd/voicegate/pkg/gateway/twiml"
	"github.com/sigmoyd/voicegate/pkg/store/postgres"
	"github.com/sigmoyd/voicegate/pkg/telephony"
)

// CallPlacer places an outbound call with the telephony provider.
type CallPlacer interface {
	PlaceCall(ctx context.Context, params telephony.PlaceCallParams) (*telephony.Call, error)
}

// PlaceCallHandler serves POST /v1/calls: it validates the agent, places the
// outbound call, and registers the session so the answer webhook finds it.
type PlaceCallHandler struct {
	Config config.Config
	Store  *call.Store
	Agents agent.Directory
	Placer CallPlacer
	Logger *slog.Logger
}

type placeCallRequest struct {
	AgentID    string `json:"agent_id"`
	ToNumber   string `json:"to_number"`
	FromNumber string `json:"from_number"`
}

type placeCallResponse struct {
	Success bool   `json:"success"`
	CallSID string `json:"call_sid"`
	Status  string `json:"status"`
	To      string `json:"to"`
	From    string `json:"from"`
	AgentID string `json:"agent_id"`
}

func (h PlaceCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Placer == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "call placement not configured"})
		return
	}
	var req placeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid JSON body"})
		return
	}
	if req.ToNumber == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "to_number is required"})
		return
	}
	from := req.FromNumber
	if from == "" {
		from = h.Config.TwilioPhoneNumber
	}
	if from == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "from_number is required"})
		return
	}

	if req.AgentID != "" {
		if _, err := h.Agents.GetAgent(r.Context(), req.AgentID); err != nil {
			if errors.Is(err, agent.ErrNotFound) || errors.Is(err, agent.ErrInactive) {
				writeJSON(w, http.StatusNotFound, errorResp{Error: "agent not found or inactive"})
				return
			}
			h.Logger.Error("agent lookup failed", "agent_id", req.AgentID, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResp{Error: "agent lookup failed"})
			return
		}
	}

	placed, err := h.Placer.PlaceCall(r.Context(), telephony.PlaceCallParams{
		To:             req.ToNumber,
		From:           from,
		URL:            h.Config.PublicURL + "/voice/outbound?agent_id=" + url.QueryEscape(req.AgentID),
		StatusCallback: h.Config.PublicURL + "/call-status",
		Record:         true,
	})
	if err != nil {
		h.Logger.Error("call placement failed", "to", req.ToNumber, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResp{Error: "call placement failed"})
		return
	}

	if _, err := h.Store.Create(r.Context(), placed.SID, req.AgentID, from, req.ToNumber); err != nil {
		h.Logger.Error("session create failed", "call_sid", placed.SID, "error", err)
	}

	h.Logger.Info("call placed",
		"call_sid", placed.SID, "to", req.ToNumber, "agent_id", req.AgentID)
	writeJSON(w, http.StatusCreated, placeCallResponse{
		Success: true,
		CallSID: placed.SID,
		Status:  placed.Status,
		To:      placed.To,
		From:    placed.From,
		AgentID: req.AgentID,
	})
}

// CallRedirector steers a live call by replacing its TwiML.
type CallRedirector interface {
	Redirect(ctx context.Context, callSID, twiml string) error
}

// InterruptCallHandler serves POST /v1/calls/{sid}/interrupt: it speaks a
// message into a live call, cutting off whatever is playing, and returns the
// call to the speech-gathering loop.
type InterruptCallHandler struct {
	Config     config.Config
	Store      *call.Store
	Redirector CallRedirector
	Logger     *slog.Logger
}

type interruptRequest struct {
	Message string `json:"message"`
}

func (h InterruptCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Redirector == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "call control not configured"})
		return
	}
	sid := r.PathValue("sid")
	var req interruptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid JSON body"})
		return
	}
	if req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "message is required"})
		return
	}

	sess, err := h.Store.Get(sid)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp{Error: "no active call with that sid"})
		return
	}
	cfg := agentConfigOf(sess)

	resp := &twiml.Response{}
	resp.Add(
		twiml.Say{Text: req.Message, Voice: cfg.Voice, Language: cfg.Language},
		gatherVerb(h.Config.PublicURL, cfg),
		twiml.Redirect{Method: http.MethodPost, URL: h.Config.PublicURL + "/voice/process-speech"},
	)
	doc, err := resp.Encode()
	if err != nil {
		h.Logger.Error("twiml encode failed", "call_sid", sid, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "internal error"})
		return
	}

	if err := h.Redirector.Redirect(r.Context(), sid, doc); err != nil {
		h.Logger.Error("call interrupt failed", "call_sid", sid, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResp{Error: "provider rejected the interrupt"})
		return
	}

	if err := h.Store.AppendTurn(sid, call.Turn{Role: call.RoleAssistant, Content: req.Message}); err != nil {
		h.Logger.Error("append interrupt turn failed", "call_sid", sid, "error", err)
	}

	h.Logger.Info("call interrupted", "call_sid", sid, "chars", len(req.Message))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "call_sid": sid})
}

// RecordGetter fetches a durable call record by SID.
type RecordGetter interface {
	Get(ctx context.Context, callSID string) (*call.Record, error)
}

// GetCallHandler serves GET /v1/calls/{sid} from the durable store.
type GetCallHandler struct {
	Records RecordGetter
	Logger  *slog.Logger
}

func (h GetCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sid := r.PathValue("sid")
	if sid == "" {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "missing call sid"})
		return
	}
	rec, err := h.Records.Get(r.Context(), sid)
	if err != nil {
		if errors.Is(err, postgres.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp{Error: "call not found"})
			return
		}
		h.Logger.Error("call lookup failed", "call_sid", sid, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "call lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// SessionsHandler serves GET /v1/sessions with a snapshot of live calls.
type SessionsHandler struct {
	Store *call.Store
}

func (h SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_sessions": h.Store.Count(),
		"call_sids":       h.Store.ActiveCallSIDs(),
	})
}
