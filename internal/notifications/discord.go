package notifications

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Discord is a simple Discord webhook notifier.
type Discord struct {
	webhookURL string
	logger     *log.Logger
	client     *http.Client
	wg         sync.WaitGroup
}

// NewDiscord creates a new Discord notifier. If webhookURL is empty,
// notifications are silently skipped.
func NewDiscord(webhookURL string, logger *log.Logger) *Discord {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Discord{
		webhookURL: webhookURL,
		logger:     logger,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled returns true if the webhook is configured.
func (d *Discord) Enabled() bool {
	return d != nil && d.webhookURL != ""
}

// Wait blocks until every in-flight webhook post has finished.
func (d *Discord) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}

// discordMessage is the payload for Discord webhook.
type discordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// send posts a message to Discord webhook asynchronously.
// Errors are logged but don't affect caller.
func (d *Discord) send(ctx context.Context, msg discordMessage) {
	if !d.Enabled() {
		return
	}

	// The post outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		body, err := sonic.Marshal(msg)
		if err != nil {
			d.logger.Printf("discord: failed to marshal message: %v", err)
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
		if err != nil {
			d.logger.Printf("discord: failed to create request: %v", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := d.client.Do(req)
		if err != nil {
			d.logger.Printf("discord: failed to send webhook: %v", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			d.logger.Printf("discord: webhook returned status %d", resp.StatusCode)
		}
	}()
}

// FeedbackSummary is what the team channel sees for each scored session.
type FeedbackSummary struct {
	SessionID    string
	Persona      string
	OverallScore int
	Duration     time.Duration
	Tips         []string
}

// NotifyFeedback posts a scored session to the channel.
func (d *Discord) NotifyFeedback(ctx context.Context, s FeedbackSummary) {
	color := 0x00FF00 // Green
	if s.OverallScore < 50 {
		color = 0xFFA500 // Orange
	}

	fields := []embedField{
		{Name: "Session", Value: fmt.Sprintf("`%s`", s.SessionID), Inline: true},
		{Name: "Score", Value: fmt.Sprintf("%d/100", s.OverallScore), Inline: true},
		{Name: "Duration", Value: s.Duration.Round(time.Second).String(), Inline: true},
	}
	if len(s.Tips) > 0 {
		fields = append(fields, embedField{Name: "Tips", Value: "- " + strings.Join(s.Tips, "\n- ")})
	}

	d.send(ctx, discordMessage{
		Embeds: []discordEmbed{{
			Title:       "Coaching session scored",
			Description: truncate(s.Persona, 200),
			Color:       color,
			Fields:      fields,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}},
	})
}

// NotifySessionFailed posts a session that ended with an error.
func (d *Discord) NotifySessionFailed(ctx context.Context, sessionID, kind, reason string) {
	d.send(ctx, discordMessage{
		Embeds: []discordEmbed{{
			Title:       "Coaching session failed",
			Description: truncate(reason, 500),
			Color:       0xFF0000, // Red
			Fields: []embedField{
				{Name: "Session", Value: fmt.Sprintf("`%s`", sessionID), Inline: true},
				{Name: "Kind", Value: kind, Inline: true},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}},
	})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
