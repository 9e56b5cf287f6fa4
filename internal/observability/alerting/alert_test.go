package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "AgroSubsidy-Chain/internal/errors"
)

func sampleEvent() Event {
	return Event{
		Code:       xerrors.Code("WRITE_FAILURE"),
		Message:    "节点拒绝交易",
		Severity:   xerrors.SeverityCritical,
		Party:      "0x00000000000000000000000000000000000000a1",
		ProofHash:  "0x01",
		EventID:    "evt-1",
		Failures:   3,
		Threshold:  3,
		OccurredAt: time.Unix(1_700_000_000, 0),
	}
}

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (n *recordingNotifier) Channel() Channel { return n.channel }

func (n *recordingNotifier) Notify(ctx context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func TestFanoutBroadcastsAndJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelLog}
	failing := &recordingNotifier{channel: ChannelSlack, err: errors.New("渠道不可用")}
	dispatcher := NewFanout(ok, failing)

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("expected joined error from failing channel")
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Fatalf("every channel must receive the event: ok=%d failing=%d", len(ok.events), len(failing.events))
	}
}

func TestFromConfigDefaultsToLogChannel(t *testing.T) {
	dispatcher, err := FromConfig(Config{Channels: []string{"log"}})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("log channel must not fail: %v", err)
	}
}

func TestFromConfigRejectsUnknownChannel(t *testing.T) {
	if _, err := FromConfig(Config{Channels: []string{"pager"}}); err == nil {
		t.Fatal("unknown channel must be rejected")
	}
}

func TestFromConfigSkipsUnconfiguredWebhookChannels(t *testing.T) {
	dispatcher, err := FromConfig(Config{Channels: []string{"log", "dingtalk", "slack", "email"}})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if len(dispatcher.notifiers) != 1 {
		t.Fatalf("only the log channel should be wired, got %d", len(dispatcher.notifiers))
	}
}

func TestDingTalkWebhookDelivery(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	t.Setenv("TEST_DINGTALK_WEBHOOK", server.URL)
	dispatcher, err := FromConfig(Config{
		Channels:           []string{"dingtalk"},
		DingTalkWebhookEnv: "TEST_DINGTALK_WEBHOOK",
	})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}

	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got["msgtype"] != "text" {
		t.Fatalf("unexpected payload: %v", got)
	}
}

func TestSlackWebhookSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer server.Close()

	sender := &SlackWebhookSender{URL: server.URL}
	if err := sender.Send(context.Background(), "#alerts", "告警内容"); err == nil {
		t.Fatal("expected error from rejected webhook")
	}
}
