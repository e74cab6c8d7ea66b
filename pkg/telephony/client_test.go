package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewValidation(t *testing.T) {
	if _, err := New(Config{AuthToken: "t"}); err == nil {
		t.Fatalf("want error for missing account SID")
	}
	if _, err := New(Config{AccountSID: "AC1"}); err == nil {
		t.Fatalf("want error for missing auth token")
	}
	if _, err := New(Config{AccountSID: "AC1", AuthToken: "t"}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestPlaceCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC1/Calls.json" {
			t.Errorf("path=%q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC1" || pass != "secret" {
			t.Errorf("basic auth=%q/%q ok=%v", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("To"); got != "+15551234567" {
			t.Errorf("To=%q", got)
		}
		if got := r.PostForm.Get("Record"); got != "true" {
			t.Errorf("Record=%q", got)
		}
		if got := r.PostForm["StatusCallbackEvent"]; len(got) != 5 {
			t.Errorf("StatusCallbackEvent=%v, want 5 events", got)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA1","to":"+15551234567","from":"+15550000000","status":"queued"}`))
	}))
	defer srv.Close()

	client, err := New(Config{AccountSID: "AC1", AuthToken: "secret", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	call, err := client.PlaceCall(context.Background(), PlaceCallParams{
		To:             "+15551234567",
		From:           "+15550000000",
		URL:            "https://host/voice/outbound",
		StatusCallback: "https://host/call-status",
		Record:         true,
	})
	if err != nil {
		t.Fatalf("place call: %v", err)
	}
	if call.SID != "CA1" || call.Status != "queued" {
		t.Fatalf("call=%+v", call)
	}
}

func TestPlaceCallProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := New(Config{AccountSID: "AC1", AuthToken: "secret", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.PlaceCall(context.Background(), PlaceCallParams{To: "+1", From: "+2"}); err == nil {
		t.Fatalf("want error on provider 400")
	}
}

func TestRedirect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Accounts/AC1/Calls/CA1.json" {
			t.Errorf("path=%q", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("Twiml"); got == "" {
			t.Errorf("Twiml param missing")
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := New(Config{AccountSID: "AC1", AuthToken: "secret", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Redirect(context.Background(), "CA1", "<Response><Hangup/></Response>"); err != nil {
		t.Fatalf("redirect: %v", err)
	}
}
