package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "LobsterMarket/internal/errors"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	a := &recordingNotifier{channel: ChannelLog}
	b := &recordingNotifier{channel: ChannelWebhook, err: errors.New("boom")}
	d := NewFanout(a, nil, b)

	err := d.Notify(context.Background(), Event{Code: "X", Message: "hello"})
	if err == nil || !strings.Contains(err.Error(), "channel webhook") {
		t.Fatalf("expected joined webhook error, got %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected each notifier to receive one event, got %d and %d", len(a.events), len(b.events))
	}
}

func TestNilFanoutIsNoop(t *testing.T) {
	var d *FanoutDispatcher
	if err := d.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWebhookNotifierFormats(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("invalid payload: %v", err)
		}
		bodies = append(bodies, body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	event := Event{
		Code:       "FRAUD_REVIEW_FLAGGED",
		Message:    "review flagged",
		Severity:   xerrors.SeverityWarning,
		EntityType: "review",
		EntityID:   "r-1",
		Metadata:   map[string]string{"velocity": "7"},
		OccurredAt: time.Unix(0, 0).UTC(),
	}
	for _, format := range []Channel{"", ChannelDingTalk, ChannelSlack} {
		n := &WebhookNotifier{URL: srv.URL, Format: format}
		if err := n.Notify(context.Background(), event); err != nil {
			t.Fatalf("notify %q: %v", format, err)
		}
	}
	if len(bodies) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(bodies))
	}
	if bodies[0]["entity_id"] != "r-1" {
		t.Fatalf("expected raw event json, got %v", bodies[0])
	}
	text, _ := bodies[1]["text"].(map[string]any)
	if content, _ := text["content"].(string); !strings.Contains(content, "velocity: 7") {
		t.Fatalf("expected dingtalk text with metadata, got %v", bodies[1])
	}
	if s, _ := bodies[2]["text"].(string); !strings.HasPrefix(s, "*[warning]*") {
		t.Fatalf("unexpected slack payload %v", bodies[2])
	}
}

func TestWebhookNotifierReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL}
	if err := n.Notify(context.Background(), Event{Code: "X"}); err == nil {
		t.Fatalf("expected error on 502")
	}
	if err := (&WebhookNotifier{}).Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("unconfigured webhook should be skipped, got %v", err)
	}
}
