package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
	"github.com/sigmoyd/voicegate/pkg/core/call"
	"github.com/sigmoyd/voicegate/pkg/store/postgres"
	"github.com/sigmoyd/voicegate/pkg/telephony"
)

type fakePlacer struct {
	params telephony.PlaceCallParams
	err    error
}

func (f *fakePlacer) PlaceCall(ctx context.Context, params telephony.PlaceCallParams) (*telephony.Call, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &telephony.Call{SID: "CA9", To: params.To, From: params.From, Status: "queued"}, nil
}

func TestPlaceCallHandler(t *testing.T) {
	store := newVoiceStore(nil)
	placer := &fakePlacer{}
	h := PlaceCallHandler{
		Config: testConfig(),
		Store:  store,
		Agents: &memDirectory{},
		Placer: placer,
		Logger: testLogger(),
	}

	body := `{"agent_id":"a1","to_number":"+15551234567"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp placeCallResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success || resp.CallSID != "CA9" || resp.AgentID != "a1" {
		t.Fatalf("response=%+v", resp)
	}

	if placer.params.URL != "https://voice.example.com/voice/outbound?agent_id=a1" {
		t.Fatalf("webhook url=%q", placer.params.URL)
	}
	if placer.params.StatusCallback != "https://voice.example.com/call-status" {
		t.Fatalf("status callback=%q", placer.params.StatusCallback)
	}
	if !placer.params.Record {
		t.Fatalf("recording not requested")
	}
	if placer.params.From != "+15550000000" {
		t.Fatalf("from=%q, want configured number", placer.params.From)
	}

	if _, err := store.Get("CA9"); err != nil {
		t.Fatalf("session not registered: %v", err)
	}
}

func TestPlaceCallHandlerUnknownAgent(t *testing.T) {
	h := PlaceCallHandler{
		Config: testConfig(),
		Store:  newVoiceStore(nil),
		Agents: &memDirectory{err: agent.ErrNotFound},
		Placer: &fakePlacer{},
		Logger: testLogger(),
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{"agent_id":"nope","to_number":"+1555"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestPlaceCallHandlerValidation(t *testing.T) {
	h := PlaceCallHandler{
		Config: testConfig(),
		Store:  newVoiceStore(nil),
		Agents: &memDirectory{},
		Placer: &fakePlacer{},
		Logger: testLogger(),
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing to_number: status=%d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`not json`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status=%d, want 400", rec.Code)
	}
}

func TestPlaceCallHandlerNoPlacer(t *testing.T) {
	h := PlaceCallHandler{Config: testConfig(), Store: newVoiceStore(nil), Agents: &memDirectory{}, Logger: testLogger()}
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{"to_number":"+1555"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
}

type fakeRedirector struct {
	sid   string
	twiml string
	err   error
}

func (f *fakeRedirector) Redirect(ctx context.Context, callSID, twiml string) error {
	f.sid, f.twiml = callSID, twiml
	return f.err
}

func interruptMux(h InterruptCallHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/calls/{sid}/interrupt", h)
	return mux
}

func TestInterruptCallHandler(t *testing.T) {
	store := newVoiceStore(nil)
	if _, err := store.Create(context.Background(), "CA1", "a1", "+1", "+2"); err != nil {
		t.Fatalf("create: %v", err)
	}
	red := &fakeRedirector{}
	mux := interruptMux(InterruptCallHandler{
		Config:     testConfig(),
		Store:      store,
		Redirector: red,
		Logger:     testLogger(),
	})

	body := `{"message":"Please hold for a moment."}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/calls/CA1/interrupt", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if red.sid != "CA1" {
		t.Fatalf("redirected sid=%q", red.sid)
	}
	if !strings.Contains(red.twiml, "Please hold for a moment.") {
		t.Fatalf("message missing from twiml: %s", red.twiml)
	}
	if !strings.Contains(red.twiml, "<Gather") || !strings.Contains(red.twiml, "/voice/process-speech") {
		t.Fatalf("call not returned to the gather loop: %s", red.twiml)
	}

	sess, _ := store.Get("CA1")
	turns := sess.Transcript()
	if len(turns) != 1 || turns[0].Role != call.RoleAssistant || turns[0].Content != "Please hold for a moment." {
		t.Fatalf("transcript=%+v, want the interrupt as an assistant turn", turns)
	}
}

func TestInterruptCallHandlerUnknownCall(t *testing.T) {
	mux := interruptMux(InterruptCallHandler{
		Config:     testConfig(),
		Store:      newVoiceStore(nil),
		Redirector: &fakeRedirector{},
		Logger:     testLogger(),
	})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/calls/nope/interrupt", strings.NewReader(`{"message":"hi"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestInterruptCallHandlerValidation(t *testing.T) {
	store := newVoiceStore(nil)
	if _, err := store.Create(context.Background(), "CA1", "a1", "+1", "+2"); err != nil {
		t.Fatalf("create: %v", err)
	}
	mux := interruptMux(InterruptCallHandler{
		Config:     testConfig(),
		Store:      store,
		Redirector: &fakeRedirector{},
		Logger:     testLogger(),
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/calls/CA1/interrupt", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty message: status=%d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/calls/CA1/interrupt", strings.NewReader(`not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status=%d, want 400", rec.Code)
	}
}

func TestInterruptCallHandlerNoRedirector(t *testing.T) {
	mux := interruptMux(InterruptCallHandler{
		Config: testConfig(),
		Store:  newVoiceStore(nil),
		Logger: testLogger(),
	})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/calls/CA1/interrupt", strings.NewReader(`{"message":"hi"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
}

type fakeRecordGetter struct {
	rec *call.Record
	err error
}

func (f *fakeRecordGetter) Get(ctx context.Context, callSID string) (*call.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

func TestGetCallHandler(t *testing.T) {
	h := GetCallHandler{
		Records: &fakeRecordGetter{rec: &call.Record{CallSID: "CA1", Status: call.StatusCompleted}},
		Logger:  testLogger(),
	}
	mux := http.NewServeMux()
	mux.Handle("GET /v1/calls/{sid}", h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls/CA1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var got call.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CallSID != "CA1" || got.Status != call.StatusCompleted {
		t.Fatalf("record=%+v", got)
	}
}

func TestGetCallHandlerNotFound(t *testing.T) {
	h := GetCallHandler{Records: &fakeRecordGetter{err: postgres.ErrRecordNotFound}, Logger: testLogger()}
	mux := http.NewServeMux()
	mux.Handle("GET /v1/calls/{sid}", h)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", rec.Code)
	}
}

func TestSessionsHandler(t *testing.T) {
	store := newVoiceStore(nil)
	if _, err := store.Create(context.Background(), "CA1", "a1", "+1", "+2"); err != nil {
		t.Fatalf("create: %v", err)
	}

	h := SessionsHandler{Store: store}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))

	var got struct {
		ActiveSessions int      `json:"active_sessions"`
		CallSIDs       []string `json:"call_sids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ActiveSessions != 1 || len(got.CallSIDs) != 1 || got.CallSIDs[0] != "CA1" {
		t.Fatalf("response=%+v", got)
	}
}
