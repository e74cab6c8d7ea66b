package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/sigmoyd/voicegate/pkg/core/call"
)

// StatusHandler serves the provider's call-status callback. Terminal
// statuses finalize the session: durable write, archival, and eviction.
type StatusHandler struct {
	Store  *call.Store
	Logger *slog.Logger
}

func (h StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	callSID := r.FormValue("CallSid")
	status := call.Status(r.FormValue("CallStatus"))

	h.Logger.Info("call status", "call_sid", callSID, "status", status,
		"answered_by", r.FormValue("AnsweredBy"))

	if callSID == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	if status.Terminal() {
		_, err := h.Store.Finalize(r.Context(), callSID, call.FinalizeOutcome{
			Status:       status,
			RecordingURL: r.FormValue("RecordingUrl"),
			RecordingSID: r.FormValue("RecordingSid"),
			AnsweredBy:   r.FormValue("AnsweredBy"),
		})
		switch {
		case errors.Is(err, call.ErrSessionNotFound):
			// Status callbacks can arrive for calls we never tracked,
			// for example after a restart. Acknowledge anyway.
			h.Logger.Warn("status for unknown call", "call_sid", callSID, "status", status)
		case err != nil:
			h.Logger.Error("finalize failed", "call_sid", callSID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
