package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all Prometheus metrics for the coaching service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec
	LiveSessions    prometheus.Gauge
	SessionDuration prometheus.Histogram

	// Microphone metrics
	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter

	// Playback metrics
	FragmentsScheduled     prometheus.Counter
	FragmentDecodeFailures prometheus.Counter
	Interruptions          prometheus.Counter
	TurnsCompleted         prometheus.Counter

	// Scoring metrics
	ScoringRequests prometheus.Counter
	ScoringFailures prometheus.Counter
	ScoringDuration prometheus.Histogram
}

// New creates all metrics on a dedicated registry so several instances
// can coexist in one process (tests, CLI plus server).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Name: "coach_sessions_started_total",
			Help: "Total number of coaching sessions started",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coach_sessions_ended_total",
			Help: "Total number of coaching sessions ended, by final state and error kind",
		}, []string{"state", "kind"}),
		LiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "coach_live_sessions",
			Help: "Number of sessions currently connected",
		}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coach_session_duration_seconds",
			Help:    "Duration of connected sessions",
			Buckets: prometheus.ExponentialBuckets(5, 2, 9), // 5s to ~21 minutes
		}),

		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "coach_mic_frames_sent_total",
			Help: "Microphone frames handed to the model stream",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "coach_mic_frames_dropped_total",
			Help: "Microphone frames dropped because the stream was not ready",
		}),

		FragmentsScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "coach_audio_fragments_scheduled_total",
			Help: "Model audio fragments scheduled for playback",
		}),
		FragmentDecodeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "coach_audio_fragment_decode_failures_total",
			Help: "Model audio fragments skipped because they could not be decoded",
		}),
		Interruptions: f.NewCounter(prometheus.CounterOpts{
			Name: "coach_interruptions_total",
			Help: "Barge-in interruptions signaled by the model",
		}),
		TurnsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "coach_turns_completed_total",
			Help: "Conversation turns completed",
		}),

		ScoringRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "coach_scoring_requests_total",
			Help: "Feedback reports requested",
		}),
		ScoringFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "coach_scoring_failures_total",
			Help: "Feedback reports that failed",
		}),
		ScoringDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coach_scoring_duration_seconds",
			Help:    "Duration of feedback report requests",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~32s
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionConnected marks a session as live
func (m *Metrics) RecordSessionConnected() {
	if m == nil {
		return
	}
	m.LiveSessions.Inc()
}

// RecordSessionEnded records the final state of a session. connectedSeconds
// is zero when the session never reached the connected state.
func (m *Metrics) RecordSessionEnded(state, kind string, wasConnected bool, connectedSeconds float64) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	m.SessionsEnded.WithLabelValues(state, kind).Inc()
	if wasConnected {
		m.LiveSessions.Dec()
		m.SessionDuration.Observe(connectedSeconds)
	}
}

// RecordFrame counts a microphone frame as sent or dropped
func (m *Metrics) RecordFrame(sent bool) {
	if m == nil {
		return
	}
	if sent {
		m.FramesSent.Inc()
	} else {
		m.FramesDropped.Inc()
	}
}

// RecordFragmentScheduled increments the scheduled fragments counter
func (m *Metrics) RecordFragmentScheduled() {
	if m == nil {
		return
	}
	m.FragmentsScheduled.Inc()
}

// RecordFragmentDecodeFailure increments the decode failures counter
func (m *Metrics) RecordFragmentDecodeFailure() {
	if m == nil {
		return
	}
	m.FragmentDecodeFailures.Inc()
}

// RecordInterruption increments the interruptions counter
func (m *Metrics) RecordInterruption() {
	if m == nil {
		return
	}
	m.Interruptions.Inc()
}

// RecordTurnCompleted increments the completed turns counter
func (m *Metrics) RecordTurnCompleted() {
	if m == nil {
		return
	}
	m.TurnsCompleted.Inc()
}

// RecordScoring records one feedback request and its outcome
func (m *Metrics) RecordScoring(durationSeconds float64, failed bool) {
	if m == nil {
		return
	}
	m.ScoringRequests.Inc()
	m.ScoringDuration.Observe(durationSeconds)
	if failed {
		m.ScoringFailures.Inc()
	}
}
