package live

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

// fakeSource hands out queued sample chunks and reports io.EOF once closed.
type fakeSource struct {
	chunks    chan []float32
	closed    chan struct{}
	closeOnce sync.Once
	rest      []float32
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		chunks: make(chan []float32, 64),
		closed: make(chan struct{}),
	}
}

func (s *fakeSource) push(samples []float32) {
	s.chunks <- samples
}

func (s *fakeSource) ReadSamples(buf []float32) (int, error) {
	if len(s.rest) == 0 {
		select {
		case chunk := <-s.chunks:
			s.rest = chunk
		case <-s.closed:
			return 0, io.EOF
		}
	}
	n := copy(buf, s.rest)
	s.rest = s.rest[n:]
	return n, nil
}

func (s *fakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeCapture struct {
	mu     sync.Mutex
	err    error
	source *fakeSource
	opens  int
}

func (c *fakeCapture) Open(ctx context.Context, cfg CaptureConfig) (CaptureSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.err != nil {
		return nil, c.err
	}
	return c.source, nil
}

type fakeStream struct {
	mu       sync.Mutex
	events   chan Event
	closed   bool
	refuse   bool
	frames   []Frame
	closeCnt int
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan Event, 64)}
}

func (s *fakeStream) TrySend(frame Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.refuse {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeStream) Events() <-chan Event {
	return s.events
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCnt++
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// push delivers an inbound event as the remote side would.
func (s *fakeStream) push(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.events <- ev
	}
}

// drop closes the event channel without a close frame, as a network
// failure would.
func (s *fakeStream) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *fakeStream) sentFrames() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDialer struct {
	mu      sync.Mutex
	stream  *fakeStream
	err     error
	setups  []Setup
	block   bool
	dialing chan struct{}
}

func (d *fakeDialer) Dial(ctx context.Context, setup Setup) (Stream, error) {
	d.mu.Lock()
	d.setups = append(d.setups, setup)
	block, dialing := d.block, d.dialing
	d.mu.Unlock()

	if block {
		if dialing != nil {
			close(dialing)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.stream, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.setups)
}

type fakeVoice struct {
	mu      sync.Mutex
	stopped bool
	ended   func()
	once    sync.Once
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
	v.once.Do(v.ended)
}

func (v *fakeVoice) isStopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

// finish simulates the fragment playing to the end.
func (v *fakeVoice) finish() {
	v.once.Do(v.ended)
}

type playCall struct {
	at    time.Time
	frag  Fragment
	voice *fakeVoice
}

type fakeOutput struct {
	mu    sync.Mutex
	err   error
	plays []playCall
}

func (o *fakeOutput) Play(at time.Time, f Fragment, ended func()) (Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	v := &fakeVoice{ended: ended}
	o.plays = append(o.plays, playCall{at: at, frag: f, voice: v})
	return v, nil
}

func (o *fakeOutput) calls() []playCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]playCall(nil), o.plays...)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// callbackLog counts callback invocations.
type callbackLog struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	errs        []error
	fragments   int
	late        int // fragments reported after OnDisconnect
	interrupts  int
	turns       int
	turnStates  []TurnState
}

func (l *callbackLog) callbacks() Callbacks {
	return Callbacks{
		OnConnect:       func() { l.mu.Lock(); l.connects++; l.mu.Unlock() },
		OnDisconnect:    func() { l.mu.Lock(); l.disconnects++; l.mu.Unlock() },
		OnError:         func(err error) { l.mu.Lock(); l.errs = append(l.errs, err); l.mu.Unlock() },
		OnAudioFragment: func() {
			l.mu.Lock()
			l.fragments++
			if l.disconnects > 0 {
				l.late++
			}
			l.mu.Unlock()
		},
		OnInterrupted:   func() { l.mu.Lock(); l.interrupts++; l.mu.Unlock() },
		OnTurnComplete:  func() { l.mu.Lock(); l.turns++; l.mu.Unlock() },
		OnTurnState:     func(s TurnState) { l.mu.Lock(); l.turnStates = append(l.turnStates, s); l.mu.Unlock() },
	}
}

type callbackCounts struct {
	connects, disconnects, errors, fragments, late, interrupts, turns int
}

func (l *callbackLog) counts() callbackCounts {
	l.mu.Lock()
	defer l.mu.Unlock()
	return callbackCounts{
		connects:    l.connects,
		disconnects: l.disconnects,
		errors:      len(l.errs),
		fragments:   l.fragments,
		late:        l.late,
		interrupts:  l.interrupts,
		turns:       l.turns,
	}
}

func (l *callbackLog) firstError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.errs) == 0 {
		return nil
	}
	return l.errs[0]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// audioEvent builds a base64 PCM16 payload of n zero samples.
func audioEvent(samples int) AudioEvent {
	return AudioEvent{
		Data:     base64.StdEncoding.EncodeToString(make([]byte, samples*2)),
		MIMEType: "audio/pcm;rate=24000",
	}
}

var errNoMic = errors.New("permission denied")
