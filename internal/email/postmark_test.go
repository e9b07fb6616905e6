package email

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSend(t *testing.T) {
	var received postmarkEmail
	var gotToken string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"MessageID": "test-id"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", WithAPIURL(server.URL), WithHTTPClient(server.Client()))

	err := client.Send(context.Background(), "alice@example.com", "Session cancelled", "Your coach cancelled <today>.", "session_cancelled")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotToken != "test-token" {
		t.Errorf("server token = %q, want %q", gotToken, "test-token")
	}
	if received.To != "alice@example.com" {
		t.Errorf("To = %q, want %q", received.To, "alice@example.com")
	}
	if received.From != "noreply@example.com" {
		t.Errorf("From = %q, want %q", received.From, "noreply@example.com")
	}
	if received.Subject != "Session cancelled" {
		t.Errorf("Subject = %q, want %q", received.Subject, "Session cancelled")
	}
	if received.HtmlBody != "<p>Your coach cancelled &lt;today&gt;.</p>" {
		t.Errorf("HtmlBody = %q, want escaped body", received.HtmlBody)
	}
	if received.Tag != "session_cancelled" {
		t.Errorf("Tag = %q, want %q", received.Tag, "session_cancelled")
	}
}

func TestSendNotConfigured(t *testing.T) {
	client := NewClient("", "noreply@example.com")

	err := client.Send(context.Background(), "alice@example.com", "s", "t", "")
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
}

func TestSendAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	client := NewClient("test-token", "noreply@example.com", WithAPIURL(server.URL))

	err := client.Send(context.Background(), "alice@example.com", "s", "t", "")
	if err == nil {
		t.Fatal("expected error for API failure")
	}
}

func TestConfigured(t *testing.T) {
	c1 := NewClient("token", "from@test.com")
	if !c1.Configured() {
		t.Error("expected Configured() = true")
	}

	c2 := NewClient("", "from@test.com")
	if c2.Configured() {
		t.Error("expected Configured() = false")
	}
}
