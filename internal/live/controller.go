package live

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lukasbauer/voicecoach/internal/metrics"
)

// Config tunes the audio formats and ambient dependencies of a Controller.
type Config struct {
	InputSampleRate  int
	OutputSampleRate int
	FrameSamples     int
	Voice            string
	CaptureDevice    string

	Logger   *log.Logger
	Metrics  *metrics.Metrics
	Recorder Recorder
	Now      func() time.Time
}

// Callbacks observe a session. Every field is optional. Callbacks run on
// the goroutine that caused them and must not block; calling Disconnect
// from inside one is allowed.
type Callbacks struct {
	OnConnect       func()
	OnDisconnect    func()
	OnError         func(err error)
	OnAudioFragment func()
	OnInterrupted   func()
	OnTurnComplete  func()
	OnTurnState     func(state TurnState)
}

func (cb Callbacks) connect() {
	if cb.OnConnect != nil {
		cb.OnConnect()
	}
}

func (cb Callbacks) disconnect() {
	if cb.OnDisconnect != nil {
		cb.OnDisconnect()
	}
}

func (cb Callbacks) reportError(err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}

func (cb Callbacks) audioFragment() {
	if cb.OnAudioFragment != nil {
		cb.OnAudioFragment()
	}
}

func (cb Callbacks) interrupted() {
	if cb.OnInterrupted != nil {
		cb.OnInterrupted()
	}
}

func (cb Callbacks) turnComplete() {
	if cb.OnTurnComplete != nil {
		cb.OnTurnComplete()
	}
}

// ConnectOption customizes a single Connect call.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	id    string
	voice string
	cb    Callbacks
}

// WithVoice overrides the configured prebuilt voice for one session.
func WithVoice(voice string) ConnectOption {
	return func(o *connectOptions) {
		if voice != "" {
			o.voice = voice
		}
	}
}

// WithCallbacks attaches observers to the session.
func WithCallbacks(cb Callbacks) ConnectOption {
	return func(o *connectOptions) {
		o.cb = cb
	}
}

// WithSessionID sets the session ID instead of generating one.
func WithSessionID(id string) ConnectOption {
	return func(o *connectOptions) {
		if id != "" {
			o.id = id
		}
	}
}

// Controller owns at most one live session at a time.
type Controller struct {
	capture Capture
	dialer  Dialer
	output  Output
	cfg     Config

	logger   *log.Logger
	metrics  *metrics.Metrics
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	current *Session
}

// NewController creates a controller over the given devices and model dialer.
func NewController(capture Capture, dialer Dialer, output Output, cfg Config) *Controller {
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = DefaultInputSampleRate
	}
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = DefaultOutputSampleRate
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = DefaultFrameSamples
	}

	c := &Controller{
		capture:  capture,
		dialer:   dialer,
		output:   output,
		cfg:      cfg,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		recorder: cfg.Recorder,
		now:      cfg.Now,
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard, "", 0)
	}
	if c.recorder == nil {
		c.recorder = nopRecorder{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Connect opens the microphone and the model stream using persona as the
// system instruction. It returns once the model has acknowledged the
// session, or with a *Error of kind DeviceUnavailable or StreamOpenFailed.
// Failures are also reported once through OnError and are not retried.
func (c *Controller) Connect(ctx context.Context, persona string, opts ...ConnectOption) (*Session, error) {
	o := connectOptions{voice: c.cfg.Voice}
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	c.mu.Lock()
	if c.current != nil && !c.current.Ended() {
		c.mu.Unlock()
		return nil, ErrSessionActive
	}
	s := newSession(c, o.id, persona, o.voice, o.cb)
	c.current = s
	c.mu.Unlock()

	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Current returns the most recent session, live or ended, or nil.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// State returns the connection state of the current session.
func (c *Controller) State() ConnectionState {
	if s := c.Current(); s != nil {
		return s.State()
	}
	return StateIdle
}

// Disconnect ends the current session. It is safe to call at any time,
// repeatedly, and concurrently with Connect.
func (c *Controller) Disconnect() {
	if s := c.Current(); s != nil {
		s.Disconnect()
	}
}

// Transcript flushes and renders the current session's transcript. It
// stays available after the session ends, including after a failure.
func (c *Controller) Transcript() string {
	if s := c.Current(); s != nil {
		return s.Transcript()
	}
	return ""
}

// Close disconnects any live session and waits for its loops to exit.
func (c *Controller) Close() {
	s := c.Current()
	if s == nil {
		return
	}
	s.Disconnect()
	s.Wait()
}
