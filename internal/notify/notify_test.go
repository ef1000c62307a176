package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rowjay/docmigrate/internal/config"
)

func TestWebhookPostsEvent(t *testing.T) {
	var got Event
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("X-Token")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
	}))
	defer srv.Close()

	n := FromConfig(config.NotificationsConfig{Webhooks: []config.WebhookConfig{{Name: "ops", URL: srv.URL, Headers: map[string]string{"X-Token": "s3cret"}}}})
	err := n.Notify(context.Background(), Event{Type: TypeJob, Job: "reporting", Status: "failed", FailedCollections: []string{"claims"}})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.Job != "reporting" || got.Status != "failed" || len(got.FailedCollections) != 1 {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if auth != "s3cret" {
		t.Fatalf("expected header to be forwarded, got %q", auth)
	}
}

func TestMattermostSendsText(t *testing.T) {
	var payload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}))
	defer srv.Close()

	ev := Event{Status: "success", Message: "migrate development -> staging", Documents: 620}
	if err := (Mattermost{Name: "chat", URL: srv.URL}).Notify(context.Background(), ev); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(payload["text"], "620 documents") {
		t.Fatalf("unexpected text: %q", payload["text"])
	}
}

func TestMultiJoinsErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := Multi{Targets: []Notifier{Webhook{Name: "a", URL: srv.URL}, nil, Webhook{Name: "b", URL: srv.URL}}}
	err := m.Notify(context.Background(), Event{})
	if err == nil || !strings.Contains(err.Error(), "webhook a") || !strings.Contains(err.Error(), "webhook b") {
		t.Fatalf("expected both failures, got %v", err)
	}
}
