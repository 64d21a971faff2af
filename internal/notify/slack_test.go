package notify

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/johndauphine/restsync/internal/config"
)

func TestNotifier_DisabledIsNoop(t *testing.T) {
	n := New(&config.SlackConfig{Enabled: false, WebhookURL: "http://127.0.0.1:1/hook"})
	if n.IsEnabled() {
		t.Fatal("notifier should be disabled")
	}
	// No webhook call, no error
	if err := n.SyncStarted("run1", "https://api.example.com", "sqlite", 2); err != nil {
		t.Errorf("disabled notifier returned error: %v", err)
	}
}

func TestNotifier_NilConfig(t *testing.T) {
	n := New(nil)
	if n.IsEnabled() {
		t.Fatal("nil config should disable notifications")
	}
}

func TestNotifier_SyncCompletedPayload(t *testing.T) {
	var got SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad payload: %v", err)
		}
	}))
	defer srv.Close()

	n := New(&config.SlackConfig{Enabled: true, WebhookURL: srv.URL, Channel: "#data", Username: "syncbot"})
	err := n.SyncCompleted("run1", time.Now(), 90*time.Second, 2, 1234567)
	if err != nil {
		t.Fatalf("SyncCompleted: %v", err)
	}

	if got.Channel != "#data" || got.Username != "syncbot" {
		t.Errorf("channel/username = %q/%q", got.Channel, got.Username)
	}
	if len(got.Attachments) != 1 {
		t.Fatalf("attachments = %d", len(got.Attachments))
	}
	found := false
	for _, f := range got.Attachments[0].Fields {
		if f.Title == "Rows Written" && f.Value == "1,234,567" {
			found = true
		}
	}
	if !found {
		t.Errorf("rows-written field missing or unformatted: %+v", got.Attachments[0].Fields)
	}
}

func TestNotifier_WebhookErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	n := New(&config.SlackConfig{Enabled: true, WebhookURL: srv.URL})
	if err := n.SyncFailed("run1", errors.New("boom"), time.Second); err == nil {
		t.Error("expected error for non-200 webhook response")
	}
}

func TestFormatNumberWithCommas(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
	}
	for _, tt := range tests {
		if got := formatNumberWithCommas(tt.in); got != tt.want {
			t.Errorf("formatNumberWithCommas(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{90 * time.Second, "1m 30s"},
		{3*time.Hour + 5*time.Minute + 9*time.Second, "3h 5m 9s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.in); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
