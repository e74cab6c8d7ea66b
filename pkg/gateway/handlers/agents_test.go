package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sigmoyd/voicegate/pkg/core/agent"
)

type fakeAgentWriter struct {
	cfg *agent.Config
	err error
}

func (f *fakeAgentWriter) UpsertAgent(ctx context.Context, cfg *agent.Config) error {
	f.cfg = cfg
	return f.err
}

func agentsMux(h UpsertAgentHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("PUT /v1/agents/{id}", h)
	return mux
}

func TestUpsertAgentHandler(t *testing.T) {
	writer := &fakeAgentWriter{}
	var invalidated string
	mux := agentsMux(UpsertAgentHandler{
		Writer:     writer,
		Invalidate: func(agentID string) { invalidated = agentID },
		Logger:     testLogger(),
	})

	body := `{"name":"Clinic Intake","prompt":"You are a clinic intake assistant.","voice":"Polly.Joanna","language":"en-US","greeting":"Hello!"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/agents/clinic-1", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if writer.cfg == nil || writer.cfg.ID != "clinic-1" {
		t.Fatalf("stored cfg=%+v, want id from path", writer.cfg)
	}
	if writer.cfg.Status != "active" {
		t.Fatalf("status=%q, want active default", writer.cfg.Status)
	}
	if writer.cfg.Name != "Clinic Intake" || writer.cfg.Voice != "Polly.Joanna" {
		t.Fatalf("stored cfg=%+v", writer.cfg)
	}
	if invalidated != "clinic-1" {
		t.Fatalf("cache invalidated for %q, want clinic-1", invalidated)
	}
}

func TestUpsertAgentHandlerValidation(t *testing.T) {
	mux := agentsMux(UpsertAgentHandler{Writer: &fakeAgentWriter{}, Logger: testLogger()})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/agents/a1", strings.NewReader(`not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status=%d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/agents/a1", strings.NewReader(`{"name":"no prompt"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing prompt: status=%d, want 400", rec.Code)
	}
}

func TestUpsertAgentHandlerNoWriter(t *testing.T) {
	mux := agentsMux(UpsertAgentHandler{Logger: testLogger()})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/v1/agents/a1", strings.NewReader(`{"prompt":"p"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503", rec.Code)
	}
}
