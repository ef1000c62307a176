// Package notify delivers run and job events to chat and webhook targets.
// Delivery is best effort: callers log the error and carry on.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rowjay/docmigrate/internal/config"
)

const (
	TypeMigrate = "migrate"
	TypeRestore = "restore"
	TypeJob     = "job"
)

type Event struct {
	Type              string    `json:"type"`
	Message           string    `json:"message"`
	Status            string    `json:"status"`
	Job               string    `json:"job,omitempty"`
	RunID             string    `json:"run_id,omitempty"`
	Source            string    `json:"source,omitempty"`
	Target            string    `json:"target,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	Duration          string    `json:"duration"`
	Documents         int       `json:"documents"`
	Failed            int       `json:"failed"`
	FailedCollections []string  `json:"failed_collections,omitempty"`
	Key               string    `json:"key,omitempty"`
	Error             string    `json:"error,omitempty"`
}

// Text is the one-line rendering used by chat targets.
func (e Event) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Status, e.Message)
	if e.Documents > 0 || e.Failed > 0 {
		fmt.Fprintf(&b, " (%d documents, %d failed)", e.Documents, e.Failed)
	}
	if len(e.FailedCollections) > 0 {
		fmt.Fprintf(&b, " failed collections: %s", strings.Join(e.FailedCollections, ", "))
	}
	if e.Error != "" {
		b.WriteString(": " + e.Error)
	}
	return b.String()
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

type Multi struct {
	Targets []Notifier
}

// Notify sends to every target and joins their errors.
func (m Multi) Notify(ctx context.Context, event Event) error {
	var errList []error
	for _, target := range m.Targets {
		if target == nil {
			continue
		}
		if err := target.Notify(ctx, event); err != nil {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Empty reports whether no target is configured.
func (m Multi) Empty() bool { return len(m.Targets) == 0 }

type Webhook struct {
	Name    string
	URL     string
	Headers map[string]string
}

func (w Webhook) Notify(ctx context.Context, event Event) error {
	return post(ctx, "webhook "+w.Name, w.URL, w.Headers, event)
}

type Mattermost struct {
	Name string
	URL  string
}

func (m Mattermost) Notify(ctx context.Context, event Event) error {
	return post(ctx, "mattermost "+m.Name, m.URL, nil, map[string]string{"text": event.Text()})
}

type Matrix struct {
	Name        string
	ServerURL   string
	AccessToken string
	RoomID      string
}

func (m Matrix) Notify(ctx context.Context, event Event) error {
	endpoint := fmt.Sprintf("%s/_matrix/client/v3/rooms/%s/send/m.room.message/%d",
		strings.TrimRight(m.ServerURL, "/"), url.PathEscape(m.RoomID), time.Now().UnixNano())
	payload := map[string]any{
		"msgtype": "m.text",
		"body":    event.Text(),
	}
	headers := map[string]string{"Authorization": "Bearer " + m.AccessToken}
	return post(ctx, "matrix "+m.Name, endpoint, headers, payload)
}

func FromConfig(cfg config.NotificationsConfig) Multi {
	var targets []Notifier
	for _, w := range cfg.Webhooks {
		targets = append(targets, Webhook{Name: w.Name, URL: w.URL, Headers: w.Headers})
	}
	for _, mm := range cfg.Mattermost {
		targets = append(targets, Mattermost{Name: mm.Name, URL: mm.URL})
	}
	for _, mx := range cfg.Matrix {
		targets = append(targets, Matrix{Name: mx.Name, ServerURL: mx.ServerURL, AccessToken: mx.AccessToken, RoomID: mx.RoomID})
	}
	return Multi{Targets: targets}
}

func post(ctx context.Context, name, endpoint string, headers map[string]string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %s", name, resp.Status)
	}
	return nil
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}
