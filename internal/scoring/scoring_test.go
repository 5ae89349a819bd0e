package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/lukasbauer/voicecoach/internal/live"
	"github.com/lukasbauer/voicecoach/internal/metrics"
)

const sampleTranscript = "User: Hello\nCoach: Hi\nUser: My name is X"

const sampleReport = `{
  "overallScore": 72,
  "metrics": [
    {"category": "Pace", "score": 80, "details": "Steady."},
    {"category": "Clarity", "score": 140, "details": "Clear."},
    {"category": "Grammar", "score": -5, "details": "Some slips."}
  ],
  "improvementTips": ["Pause before answering.", "Give examples.", "Avoid fillers."]
}`

func TestParseReport(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, r *Report)
	}{
		{
			name:    "plain JSON with clamping",
			content: sampleReport,
			check: func(t *testing.T, r *Report) {
				if r.OverallScore != 72 {
					t.Errorf("OverallScore = %d, want 72", r.OverallScore)
				}
				if r.Metrics[1].Score != 100 {
					t.Errorf("Clarity score = %d, want clamped to 100", r.Metrics[1].Score)
				}
				if r.Metrics[2].Score != 0 {
					t.Errorf("Grammar score = %d, want clamped to 0", r.Metrics[2].Score)
				}
				if len(r.ImprovementTips) != 3 {
					t.Errorf("len(ImprovementTips) = %d, want 3", len(r.ImprovementTips))
				}
			},
		},
		{
			name:    "markdown fenced",
			content: "```json\n" + `{"overallScore": 50, "metrics": [], "improvementTips": []}` + "\n```",
			check: func(t *testing.T, r *Report) {
				if r.OverallScore != 50 {
					t.Errorf("OverallScore = %d, want 50", r.OverallScore)
				}
			},
		},
		{
			name:    "missing arrays become empty",
			content: `{"overallScore": 10}`,
			check: func(t *testing.T, r *Report) {
				if r.Metrics == nil || r.ImprovementTips == nil {
					t.Error("Metrics and ImprovementTips should be non-nil")
				}
			},
		},
		{name: "empty", content: "  ", wantErr: true},
		{name: "not JSON", content: "I cannot score this.", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := parseReport(tt.content)
			if tt.wantErr {
				if !errors.Is(err, ErrScoringFailed) {
					t.Errorf("parseReport() error = %v, want ErrScoringFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseReport() error = %v", err)
			}
			tt.check(t, r)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt(sampleTranscript, "You are my skeptical boss.")

	for _, want := range []string{
		"Context/Scenario: You are my skeptical boss.",
		sampleTranscript,
		"Evaluate the USER'S performance",
		"Pace, Clarity, Grammar, Vocabulary, Tone",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	if !strings.Contains(BuildPrompt(sampleTranscript, ""), "General conversation practice") {
		t.Error("empty persona should fall back to a generic scenario")
	}
}

func TestTooShortTranscriptSkipsModel(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unexpected", http.StatusInternalServerError)
	}))
	defer srv.Close()

	gemini, err := NewGeminiScorer(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	oai, err := NewOpenAIScorer(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatal(err)
	}

	for name, s := range map[string]Scorer{"gemini": gemini, "openai": oai} {
		t.Run(name, func(t *testing.T) {
			r, err := s.Score(context.Background(), "User: Hi", "persona")
			if err != nil {
				t.Fatalf("Score() error = %v", err)
			}
			if r.OverallScore != 0 || len(r.Metrics) != 0 || len(r.ImprovementTips) != 1 || r.ImprovementTips[0] != TooShortTip {
				t.Errorf("Score() = %+v, want the too-short report", r)
			}
		})
	}

	if calls.Load() != 0 {
		t.Errorf("model called %d times, want 0", calls.Load())
	}
}

func TestMissingAPIKey(t *testing.T) {
	if _, err := NewGeminiScorer(context.Background(), GeminiConfig{}); err == nil {
		t.Error("NewGeminiScorer() without key should fail")
	}
	if _, err := NewOpenAIScorer(OpenAIConfig{}); err == nil {
		t.Error("NewOpenAIScorer() without key should fail")
	}
}

func TestGeminiScorer(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":` + quote(sampleReport) + `}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	s, err := NewGeminiScorer(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	r, err := s.Score(context.Background(), sampleTranscript, "persona")
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if r.OverallScore != 72 || len(r.Metrics) != 3 {
		t.Errorf("Score() = %+v", r)
	}
	if !strings.Contains(gotPath, "gemini-3-flash-preview:generateContent") {
		t.Errorf("request path = %q, want the default model", gotPath)
	}
}

func TestGeminiScorerAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"boom","status":"INTERNAL"}}`))
	}))
	defer srv.Close()

	s, err := NewGeminiScorer(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Score(context.Background(), sampleTranscript, "persona")
	if live.KindOf(err) != live.KindScoringFailed {
		t.Errorf("Score() error = %v, want ScoringFailed", err)
	}
}

func TestOpenAIScorer(t *testing.T) {
	tests := []struct {
		name    string
		content string
		status  int
		wantErr bool
	}{
		{name: "valid report", content: sampleReport, status: http.StatusOK},
		{name: "unparseable content", content: "not json", status: http.StatusOK, wantErr: true},
		{name: "api error", status: http.StatusUnauthorized, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/chat/completions" {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				if tt.status != http.StatusOK {
					w.WriteHeader(tt.status)
					w.Write([]byte(`{"error":{"message":"invalid key","type":"invalid_request_error"}}`))
					return
				}
				w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":` + quote(tt.content) + `},"finish_reason":"stop"}]}`))
			}))
			defer srv.Close()

			s, err := NewOpenAIScorer(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
			if err != nil {
				t.Fatal(err)
			}

			r, err := s.Score(context.Background(), sampleTranscript, "persona")
			if tt.wantErr {
				if !errors.Is(err, ErrScoringFailed) {
					t.Errorf("Score() error = %v, want ErrScoringFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Score() error = %v", err)
			}
			if r.OverallScore != 72 {
				t.Errorf("OverallScore = %d, want 72", r.OverallScore)
			}
		})
	}
}

type stubScorer struct {
	err error
}

func (s stubScorer) Score(ctx context.Context, transcript, persona string) (*Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	return tooShortReport(), nil
}

func TestWithMetrics(t *testing.T) {
	m := metrics.New()

	WithMetrics(stubScorer{}, m).Score(context.Background(), "", "")
	WithMetrics(stubScorer{err: scoringError("boom")}, m).Score(context.Background(), "", "")

	if got := testutil.ToFloat64(m.ScoringRequests); got != 2 {
		t.Errorf("ScoringRequests = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ScoringFailures); got != 1 {
		t.Errorf("ScoringFailures = %v, want 1", got)
	}

	// A nil metrics sink must still delegate
	if _, err := WithMetrics(stubScorer{}, nil).Score(context.Background(), "", ""); err != nil {
		t.Errorf("Score() with nil metrics error = %v", err)
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
