package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostSendsPayload(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(server.URL, "gaming-pipeline")
	if err := n.Post(context.Background(), "📊 **youtube** budget: 150/2000 units"); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got.Channel != "gaming-pipeline" {
		t.Errorf("channel = %q", got.Channel)
	}
	if got.Text == "" {
		t.Error("text was empty")
	}
}

func TestPostServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n := NewNotifier(server.URL, "")
	if err := n.Post(context.Background(), "x"); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestPostDisabled(t *testing.T) {
	n := NewNotifier("", "")
	if err := n.Post(context.Background(), "x"); err != nil {
		t.Fatalf("disabled notifier should be a no-op, got %v", err)
	}

	var nilNotifier *Notifier
	if err := nilNotifier.Post(context.Background(), "x"); err != nil {
		t.Fatalf("nil notifier should be a no-op, got %v", err)
	}
}
