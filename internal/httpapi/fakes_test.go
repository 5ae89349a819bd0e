package httpapi

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

	"github.com/lukasbauer/voicecoach/internal/live"
	"github.com/lukasbauer/voicecoach/internal/persona"
	"github.com/lukasbauer/voicecoach/internal/scoring"
)

const testSecret = "test-secret-key"

// micSession blocks reads until closed, like a silent microphone.
type micSession struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func (m *micSession) ReadSamples(buf []float32) (int, error) {
	<-m.closed
	return 0, io.EOF
}

func (m *micSession) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

type fakeCapture struct {
	err error
}

func (c *fakeCapture) Open(ctx context.Context, cfg live.CaptureConfig) (live.CaptureSession, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &micSession{closed: make(chan struct{})}, nil
}

type fakeStream struct {
	mu     sync.Mutex
	events chan live.Event
	closed bool
}

func (s *fakeStream) TrySend(live.Frame) bool { return true }

func (s *fakeStream) Events() <-chan live.Event { return s.events }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *fakeStream) push(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- ev
	}
}

type fakeDialer struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (d *fakeDialer) Dial(ctx context.Context, setup live.Setup) (live.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{events: make(chan live.Event, 16)}
	d.streams = append(d.streams, s)
	return s, nil
}

func (d *fakeDialer) last() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.streams) == 0 {
		return nil
	}
	return d.streams[len(d.streams)-1]
}

type nopVoice struct{}

func (nopVoice) Stop() {}

type fakeOutput struct{}

func (fakeOutput) Play(at time.Time, f live.Fragment, ended func()) (live.Voice, error) {
	return nopVoice{}, nil
}

type fakeScorer struct {
	mu      sync.Mutex
	report  *scoring.Report
	err     error
	calls   int
	lastTxt string
}

func (s *fakeScorer) Score(ctx context.Context, transcript, persona string) (*scoring.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastTxt = transcript
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

type testEnv struct {
	router   *Router
	handler  http.Handler
	dialer   *fakeDialer
	capture  *fakeCapture
	ctrl     *live.Controller
	scorer   *fakeScorer
	sessions *SessionRegistry
	token    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	env := &testEnv{
		dialer:  &fakeDialer{},
		capture: &fakeCapture{},
		scorer: &fakeScorer{report: &scoring.Report{
			OverallScore:    77,
			Metrics:         []scoring.Metric{{Category: "Pace", Score: 70, Details: "ok"}},
			ImprovementTips: []string{"Pause more."},
		}},
		sessions: NewSessionRegistry(2),
	}
	env.ctrl = live.NewController(env.capture, env.dialer, fakeOutput{}, live.Config{Logger: logger})
	t.Cleanup(env.ctrl.Close)

	env.router = newRouter(RouterConfig{JWTSecret: testSecret, JWTExpiry: time.Hour}, Deps{
		Controller: env.ctrl,
		Catalog:    persona.Builtin(),
		Scorer:     env.scorer,
	}, env.sessions, logger)
	env.handler = env.router.handler()

	token, _, err := IssueToken(testSecret, "user-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	env.token = token
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return e.doAs(t, e.token, method, path, body)
}

func (e *testEnv) doAs(t *testing.T, token, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

var errNoMic = errors.New("no input device")

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
