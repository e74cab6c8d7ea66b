package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
	"github.com/sigmoyd/voicegate/pkg/core/call"
	"github.com/sigmoyd/voicegate/pkg/core/convo"
	"github.com/sigmoyd/voicegate/pkg/core/voice/tts"
	"github.com/sigmoyd/voicegate/pkg/gateway/config"
	"github.com/sigmoyd/voicegate/pkg/gateway/twiml"
)

const speechHints = "help, information, question, support, goodbye, thanks"

func agentConfigOf(sess *call.Session) *agent.Config {
	if sess == nil || sess.Agent == nil {
		return agent.Default()
	}
	return sess.Agent
}

// AnswerHandler serves the provider's answer webhook for a call: it creates
// the session (fetching the agent and past-conversation snapshots once),
// speaks the greeting, and gathers the first utterance.
type AnswerHandler struct {
	Config config.Config
	Store  *call.Store
	TTS    tts.Provider
	Logger *slog.Logger
}

func (h AnswerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	callSID := r.FormValue("CallSid")
	agentID := r.URL.Query().Get("agent_id")
	to := r.FormValue("To")
	from := r.FormValue("From")
	if from == "" {
		from = h.Config.TwilioPhoneNumber
	}
	if callSID == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	sess, err := h.Store.Create(r.Context(), callSID, agentID, from, to)
	if err != nil {
		// Create degrades internally; an error here means the store
		// itself is broken. The caller still gets a voice.
		h.Logger.Error("session create failed", "call_sid", callSID, "error", err)
	}

	cfg := agentConfigOf(sess)
	sp := speaker{tts: h.TTS, publicURL: h.Config.PublicURL, logger: h.Logger}

	resp := &twiml.Response{}
	resp.Add(sp.verb(r.Context(), cfg.Greeting, cfg))
	resp.Add(twiml.Gather{
		Input:         "speech",
		Action:        h.Config.PublicURL + "/voice/process-speech",
		Method:        http.MethodPost,
		SpeechTimeout: "3",
		Language:      cfg.Language,
		Hints:         speechHints,
		SpeechModel:   "experimental_conversations",
		Enhanced:      "true",
	})
	resp.Add(
		twiml.Say{Text: "I didn't hear anything. Please try again or hang up.", Voice: cfg.Voice},
		twiml.Redirect{Method: http.MethodPost, URL: h.Config.PublicURL + "/voice/outbound?agent_id=" + agentID},
	)
	writeTwiML(w, h.Logger, resp)
}

// SpeechHandler serves the provider's speech-result webhook: one turn of
// the conversation. It owns no-input and low-confidence handling,
// termination checks, generation, and data extraction.
type SpeechHandler struct {
	Config    config.Config
	Store     *call.Store
	Generator convo.Generator
	Extractor call.Extractor
	TTS       tts.Provider
	Logger    *slog.Logger
}

func (h SpeechHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	callSID := r.FormValue("CallSid")
	speech := r.FormValue("SpeechResult")
	confidence, _ := strconv.ParseFloat(r.FormValue("Confidence"), 64)

	h.Logger.Info("speech received",
		"call_sid", callSID, "confidence", confidence, "chars", len(speech))

	sess, err := h.Store.Get(callSID)
	if err != nil {
		// Process restarted mid-call or the session was evicted. Rebuild
		// from the durable record and keep the caller on the line; without
		// one the call continues on the default agent.
		sess, err = h.Store.Recover(r.Context(), callSID, r.FormValue("From"), r.FormValue("To"))
		if err != nil {
			resp := &twiml.Response{}
			resp.Add(
				twiml.Say{Text: "I'm sorry, something went wrong on our end. Goodbye.", Voice: "Polly.Joanna"},
				twiml.Hangup{},
			)
			writeTwiML(w, h.Logger, resp)
			return
		}
	}
	cfg := agentConfigOf(sess)
	sp := speaker{tts: h.TTS, publicURL: h.Config.PublicURL, logger: h.Logger}

	if speech == "" {
		h.handleNoInput(w, r, sess, sp)
		return
	}
	_ = h.Store.ResetNoInput(callSID)

	if confidence > 0 && confidence < h.Config.ConfidenceThreshold {
		n, _ := h.Store.RecordLowConfidence(callSID)
		if n >= 2 {
			_ = h.Store.ResetLowConfidence(callSID)
			resp := &twiml.Response{}
			resp.Add(sp.verb(r.Context(),
				"I'm having a bit of trouble understanding you clearly. Could you please speak a bit louder or find a quieter location?", cfg))
			resp.Add(gatherVerb(h.Config.PublicURL, cfg))
			writeTwiML(w, h.Logger, resp)
			return
		}
	} else {
		_ = h.Store.ResetLowConfidence(callSID)
	}

	history := sess.Transcript()
	if err := h.Store.AppendTurn(callSID, call.Turn{
		Role:         call.RoleUser,
		Content:      speech,
		Confidence:   confidence,
		RecordingURL: r.FormValue("RecordingUrl"),
		RecordingSID: r.FormValue("RecordingSid"),
	}); err != nil {
		h.Logger.Error("append user turn failed", "call_sid", callSID, "error", err)
	}

	if h.Extractor != nil {
		for field, value := range h.Extractor.Extract(speech, cfg.DataToFill, sess.Collected()) {
			if err := h.Store.MergeCollectedData(callSID, field, value); err != nil {
				h.Logger.Warn("collected value rejected",
					"call_sid", callSID, "field", field, "error", err)
			}
		}
	}

	decision, _ := h.Store.ShouldTerminate(callSID)
	switch decision {
	case call.DecisionUserEnded:
		_ = h.Store.SetEndReason(callSID, call.EndedByUser)
		resp := &twiml.Response{}
		resp.Add(sp.verb(r.Context(), "Thank you for calling. Have a great day! Goodbye.", cfg))
		resp.Add(twiml.Hangup{})
		writeTwiML(w, h.Logger, resp)
		return
	case call.DecisionDataComplete:
		_ = h.Store.SetEndReason(callSID, call.EndedByDataComplete)
		resp := &twiml.Response{}
		resp.Add(sp.verb(r.Context(), "We have all the information we need. Thank you for your time. Goodbye!", cfg))
		resp.Add(twiml.Hangup{})
		writeTwiML(w, h.Logger, resp)
		return
	}

	reply, failed := convo.GenerateOrFallback(r.Context(), h.Generator, convo.Request{
		Agent:     cfg,
		PastCalls: sess.PastCalls,
		History:   history,
		Collected: sess.Collected(),
		UserText:  speech,
	})
	if failed {
		h.Logger.Warn("generation failed, using fallback utterance", "call_sid", callSID)
	}
	if err := h.Store.AppendTurn(callSID, call.Turn{Role: call.RoleAssistant, Content: reply}); err != nil {
		h.Logger.Error("append assistant turn failed", "call_sid", callSID, "error", err)
	}

	resp := &twiml.Response{}
	resp.Add(sp.verb(r.Context(), reply, cfg))
	resp.Add(gatherVerb(h.Config.PublicURL, cfg))
	resp.Add(
		twiml.Say{Text: "Is there anything else I can help you with?", Voice: cfg.Voice},
		twiml.Redirect{Method: http.MethodPost, URL: h.Config.PublicURL + "/voice/process-speech"},
	)
	writeTwiML(w, h.Logger, resp)
}

func (h SpeechHandler) handleNoInput(w http.ResponseWriter, r *http.Request, sess *call.Session, sp speaker) {
	cfg := agentConfigOf(sess)
	count, _ := h.Store.RecordNoInput(sess.CallSID)

	decision, _ := h.Store.ShouldTerminate(sess.CallSID)
	if decision == call.DecisionTimeout {
		_ = h.Store.SetEndReason(sess.CallSID, call.EndedBySystemTimeout)
		text := "I'm having trouble hearing you clearly. If you need assistance, please try calling back from a quieter location. Goodbye for now."
		if call.DataComplete(cfg.DataToFill, sess.Collected()) {
			text = "I'm having trouble hearing you. We have all the information we need. Have a great day! Goodbye."
		}
		resp := &twiml.Response{}
		resp.Add(sp.verb(r.Context(), text, cfg))
		resp.Add(twiml.Hangup{})
		writeTwiML(w, h.Logger, resp)
		return
	}

	text := "I'm still having trouble hearing you. Could you speak more clearly?"
	if count == 1 {
		text = "I didn't hear anything. Please speak a bit louder."
	}
	resp := &twiml.Response{}
	resp.Add(sp.verb(r.Context(), text, cfg))
	resp.Add(gatherVerb(h.Config.PublicURL, cfg))
	resp.Add(twiml.Redirect{Method: http.MethodPost, URL: h.Config.PublicURL + "/voice/process-speech"})
	writeTwiML(w, h.Logger, resp)
}

func gatherVerb(publicURL string, cfg *agent.Config) twiml.Gather {
	return twiml.Gather{
		Input:         "speech",
		Action:        publicURL + "/voice/process-speech",
		Method:        http.MethodPost,
		SpeechTimeout: "3",
		Language:      cfg.Language,
		Hints:         speechHints,
		SpeechModel:   "experimental_conversations",
		Enhanced:      "true",
	}
}
