package notifications

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sideshow/apns2"
)

type fakePusher struct {
	mu     sync.Mutex
	sent   []*apns2.Notification
	status int
	reason string
	err    error
}

func (f *fakePusher) Push(n *apns2.Notification) (*apns2.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	if f.err != nil {
		return nil, f.err
	}
	return &apns2.Response{StatusCode: f.status, Reason: f.reason}, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestNewAPNsClientDisabled(t *testing.T) {
	c, err := NewAPNsClient(APNsConfig{KeyID: "k"}, nil)
	if err != nil {
		t.Fatalf("NewAPNsClient error: %v", err)
	}
	if c != nil {
		t.Fatal("NewAPNsClient with partial config should return nil client")
	}
	// A nil client drops notifications without error.
	if err := c.SendFeedbackNotification("tok", FeedbackNotification{}); err != nil {
		t.Errorf("nil client SendFeedbackNotification error: %v", err)
	}
}

func TestNewAPNsClientMissingKeyFile(t *testing.T) {
	cfg := APNsConfig{KeyPath: "/nonexistent/key.p8", KeyID: "k", TeamID: "t", BundleID: "b"}
	if _, err := NewAPNsClient(cfg, quietLogger()); err == nil {
		t.Fatal("expected error for missing key file")
	}
}

func TestSendFeedbackNotification(t *testing.T) {
	fp := &fakePusher{status: 200}
	c := newAPNsClient(fp, "com.example.coach", quietLogger())

	err := c.SendFeedbackNotification("abcdef0123456789abcdef", FeedbackNotification{
		SessionID:    "s1",
		ScenarioName: "Job Interview",
		OverallScore: 82,
		TopTip:       "Slow down.",
	})
	if err != nil {
		t.Fatalf("SendFeedbackNotification error: %v", err)
	}
	if len(fp.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(fp.sent))
	}
	n := fp.sent[0]
	if n.Topic != "com.example.coach" {
		t.Errorf("Topic = %q, want %q", n.Topic, "com.example.coach")
	}
	body, err := sonic.Marshal(n.Payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	for _, want := range []string{"Feedback ready: Job Interview", "Overall score 82/100. Slow down.", `"session_id":"s1"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("payload %s missing %q", body, want)
		}
	}
}

func TestSendFeedbackNotificationRejected(t *testing.T) {
	fp := &fakePusher{status: 410, reason: "Unregistered"}
	c := newAPNsClient(fp, "b", quietLogger())
	err := c.SendFeedbackNotification("short", FeedbackNotification{OverallScore: 10})
	if err == nil || !strings.Contains(err.Error(), "Unregistered") {
		t.Fatalf("err = %v, want rejection mentioning Unregistered", err)
	}

	fp = &fakePusher{err: errors.New("boom")}
	c = newAPNsClient(fp, "b", quietLogger())
	if err := c.SendTestNotification("tok", "hi"); err == nil {
		t.Fatal("expected transport error")
	}
}

func TestFeedbackNotificationText(t *testing.T) {
	tests := []struct {
		name      string
		n         FeedbackNotification
		wantTitle string
		wantBody  string
	}{
		{"no scenario", FeedbackNotification{OverallScore: 70}, "Your feedback is ready", "Overall score 70/100."},
		{"with tip", FeedbackNotification{ScenarioName: "Small Talk", OverallScore: 40, TopTip: "Ask questions."}, "Feedback ready: Small Talk", "Overall score 40/100. Ask questions."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.n.title(); got != tt.wantTitle {
				t.Errorf("title() = %q, want %q", got, tt.wantTitle)
			}
			if got := tt.n.body(); got != tt.wantBody {
				t.Errorf("body() = %q, want %q", got, tt.wantBody)
			}
		})
	}
}

func TestDiscordDisabled(t *testing.T) {
	d := NewDiscord("", nil)
	if d.Enabled() {
		t.Error("Enabled() = true, want false")
	}
	d.NotifyFeedback(context.Background(), FeedbackSummary{SessionID: "s"})
	d.Wait()

	var nilDiscord *Discord
	nilDiscord.NotifySessionFailed(context.Background(), "s", "k", "r")
	nilDiscord.Wait()
}

func TestDiscordNotifyFeedback(t *testing.T) {
	var mu sync.Mutex
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = sonic.Unmarshal(body, &got)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscord(srv.URL, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	d.NotifyFeedback(ctx, FeedbackSummary{
		SessionID:    "s42",
		Persona:      "Hiring manager",
		OverallScore: 35,
		Duration:     95 * time.Second,
		Tips:         []string{"a", "b"},
	})
	// Canceling the caller's context must not abort the post.
	cancel()
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(got.Embeds))
	}
	e := got.Embeds[0]
	if e.Color != 0xFFA500 {
		t.Errorf("color = %#x, want orange for low score", e.Color)
	}
	if len(e.Fields) != 4 {
		t.Fatalf("fields = %d, want 4", len(e.Fields))
	}
	if e.Fields[1].Value != "35/100" {
		t.Errorf("score field = %q, want %q", e.Fields[1].Value, "35/100")
	}
	if e.Fields[2].Value != "1m35s" {
		t.Errorf("duration field = %q, want %q", e.Fields[2].Value, "1m35s")
	}
	if e.Fields[3].Value != "- a\n- b" {
		t.Errorf("tips field = %q", e.Fields[3].Value)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("hello", 10); got != "hello" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("hello world", 5); got != "hello…" {
		t.Errorf("truncate long = %q, want %q", got, "hello…")
	}
}
