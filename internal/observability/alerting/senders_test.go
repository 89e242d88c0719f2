package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "ZKRebalance-Chain/internal/errors"
)

func TestDingTalkWebhookPostsText(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("unexpected content type: %s", r.Header.Get("Content-Type"))
		}
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := &DingTalkWebhook{URL: srv.URL, Client: srv.Client()}
	if err := sender.Send(context.Background(), "运行 run-1 终态失败"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured["msgtype"] != "text" {
		t.Fatalf("unexpected msgtype: %v", captured["msgtype"])
	}
	text, ok := captured["text"].(map[string]any)
	if !ok || text["content"] != "运行 run-1 终态失败" {
		t.Fatalf("unexpected text payload: %v", captured["text"])
	}
}

func TestSlackWebhookChannelOverride(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := &SlackWebhook{URL: srv.URL, Client: srv.Client()}
	if err := sender.Send(context.Background(), "#zk-alerts", "proof pipeline down"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if captured["channel"] != "#zk-alerts" || captured["text"] != "proof pipeline down" {
		t.Fatalf("unexpected payload: %v", captured)
	}
}

func TestWebhookSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid token", http.StatusForbidden)
	}))
	defer srv.Close()

	sender := &DingTalkWebhook{URL: srv.URL, Client: srv.Client()}
	if err := sender.Send(context.Background(), "boom"); err == nil {
		t.Fatalf("expected error when webhook rejects the request")
	}
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	var dingCalls, slackCalls int
	ding := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dingCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer ding.Close()
	slack := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slackCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer slack.Close()

	dispatcher := NewFanout(
		&DingTalkNotifier{Sender: &DingTalkWebhook{URL: ding.URL, Client: ding.Client()}},
		&SlackNotifier{Sender: &SlackWebhook{URL: slack.URL, Client: slack.Client()}, ChannelID: "#zk-alerts"},
	)

	event := Event{
		Code:        xerrors.CodeExecutorFailure,
		Message:     "证明生成连续失败",
		Severity:    xerrors.SeverityCritical,
		RunID:       "run-9",
		Attempts:    3,
		MaxAttempts: 3,
		OccurredAt:  time.Now(),
	}
	if err := dispatcher.Notify(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 两个渠道各收到一次。
	if dingCalls != 1 || slackCalls != 1 {
		t.Fatalf("unexpected delivery counts: dingtalk=%d slack=%d", dingCalls, slackCalls)
	}
}
