// Package scoring turns a finished session transcript into a feedback report.
package scoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/lukasbauer/voicecoach/internal/live"
	"github.com/lukasbauer/voicecoach/internal/metrics"
)

// ErrScoringFailed matches every scoring failure via errors.Is.
var ErrScoringFailed = live.ErrScoringFailed

// minTranscriptLength is the shortest transcript worth sending to a model.
const minTranscriptLength = 10

// TooShortTip is the only tip of a report for a transcript too short to analyze.
const TooShortTip = "Session was too short to analyze."

// Metric is one scored category.
type Metric struct {
	Category string `json:"category"`
	Score    int    `json:"score"`
	Details  string `json:"details"`
}

// Report is the feedback for one session.
type Report struct {
	OverallScore    int      `json:"overallScore"`
	Metrics         []Metric `json:"metrics"`
	ImprovementTips []string `json:"improvementTips"`
}

// Scorer evaluates the user's side of a transcript.
type Scorer interface {
	// Score returns a report for transcript, rendered as "User: ..." /
	// "Coach: ..." lines. persona is the scenario the user practiced.
	// Failures wrap ErrScoringFailed.
	Score(ctx context.Context, transcript, persona string) (*Report, error)
}

// tooShortReport is returned without calling a model.
func tooShortReport() *Report {
	return &Report{
		OverallScore:    0,
		Metrics:         []Metric{},
		ImprovementTips: []string{TooShortTip},
	}
}

func isTooShort(transcript string) bool {
	return len(strings.TrimSpace(transcript)) < minTranscriptLength
}

func scoringError(format string, args ...any) error {
	return live.NewError(live.KindScoringFailed, fmt.Errorf(format, args...))
}

// parseReport extracts a report from model output, tolerating markdown
// code fences, and clamps every score to 0..100.
func parseReport(content string) (*Report, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if content == "" {
		return nil, scoringError("empty response")
	}

	var report Report
	if err := sonic.UnmarshalString(content, &report); err != nil {
		return nil, scoringError("failed to parse report: %w (content: %s)", err, truncate(content, 200))
	}

	report.OverallScore = clamp(report.OverallScore)
	for i := range report.Metrics {
		report.Metrics[i].Score = clamp(report.Metrics[i].Score)
	}
	if report.Metrics == nil {
		report.Metrics = []Metric{}
	}
	if report.ImprovementTips == nil {
		report.ImprovementTips = []string{}
	}
	return &report, nil
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Instrumented records latency and failures of another Scorer.
type Instrumented struct {
	next    Scorer
	metrics *metrics.Metrics
}

// WithMetrics wraps s so every call is counted.
func WithMetrics(s Scorer, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: s, metrics: m}
}

// Score delegates to the wrapped scorer.
func (i *Instrumented) Score(ctx context.Context, transcript, persona string) (*Report, error) {
	start := time.Now()
	report, err := i.next.Score(ctx, transcript, persona)
	i.metrics.RecordScoring(time.Since(start).Seconds(), err != nil)
	return report, err
}
