package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lukasbauer/voicecoach/internal/eventlog"
)

// ConnectionState is the lifecycle stage of a session.
type ConnectionState string

const (
	StateIdle         ConnectionState = "idle"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
)

// Session is one coaching conversation. It is never reused once ended.
type Session struct {
	id      string
	persona string
	voice   string
	cb      Callbacks
	ctrl    *Controller

	acc      *Accumulator
	turns    *TurnMachine
	playback *Scheduler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	loops  sync.WaitGroup

	mu          sync.Mutex
	state       ConnectionState
	err         error
	capture     CaptureSession
	stream      Stream
	ended       bool
	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time
}

// Info is a point-in-time snapshot of a session.
type Info struct {
	ID          string          `json:"id"`
	State       ConnectionState `json:"state"`
	TurnState   TurnState       `json:"turn_state"`
	Persona     string          `json:"persona"`
	Voice       string          `json:"voice"`
	StartedAt   time.Time       `json:"started_at"`
	ConnectedAt *time.Time      `json:"connected_at,omitempty"`
	EndedAt     *time.Time      `json:"ended_at,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorKind   ErrorKind       `json:"error_kind,omitempty"`
}

func newSession(c *Controller, id, persona, voice string, cb Callbacks) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		persona:   persona,
		voice:     voice,
		cb:        cb,
		ctrl:      c,
		acc:       NewAccumulator(),
		playback:  NewScheduler(c.output, c.now),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateConnecting,
		startedAt: c.now(),
	}
	s.turns = NewTurnMachine(func(_, to TurnState) {
		if cb.OnTurnState != nil {
			cb.OnTurnState(to)
		}
	})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Persona returns the system instruction the session was opened with.
func (s *Session) Persona() string { return s.persona }

// State returns the connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TurnState returns who currently holds the floor.
func (s *Session) TurnState() TurnState {
	return s.turns.State()
}

// Err returns the terminal error, if the session failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Ended reports whether the session reached a terminal state.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Done is closed once the session has ended and its callbacks have run.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has ended and its loops have exited.
// It must not be called from a callback.
func (s *Session) Wait() {
	<-s.done
	s.loops.Wait()
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:        s.id,
		State:     s.state,
		TurnState: s.turns.State(),
		Persona:   s.persona,
		Voice:     s.voice,
		StartedAt: s.startedAt,
	}
	if !s.connectedAt.IsZero() {
		t := s.connectedAt
		info.ConnectedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		info.EndedAt = &t
	}
	if s.err != nil {
		info.Error = s.err.Error()
		info.ErrorKind = KindOf(s.err)
	}
	return info
}

// Transcript flushes pending partials and renders every line.
func (s *Session) Transcript() string {
	return Render(s.acc.FlushAll())
}

// FlushLines flushes pending partials and returns every line.
func (s *Session) FlushLines() []Line {
	return s.acc.FlushAll()
}

// Lines returns the finalized lines without flushing.
func (s *Session) Lines() []Line {
	return s.acc.Lines()
}

// Disconnect ends the session. It releases the microphone and closes the
// stream without waiting for the remote side. Safe to call repeatedly and
// while Connect is still in progress.
func (s *Session) Disconnect() {
	s.finish(StateDisconnected, nil)
}

func (s *Session) open(ctx context.Context) error {
	c := s.ctrl

	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	c.metrics.RecordSessionStarted()
	s.record(eventlog.EventSessionConnecting, map[string]any{"voice": s.voice})

	capture, err := c.capture.Open(openCtx, CaptureConfig{
		SampleRate: c.cfg.InputSampleRate,
		Channels:   1,
		Device:     c.cfg.CaptureDevice,
	})
	if err != nil {
		if s.Ended() {
			return ErrConnectCanceled
		}
		e := NewError(KindDeviceUnavailable, err)
		s.finish(StateFailed, e)
		return e
	}
	if !s.attach(func() { s.capture = capture }) {
		_ = capture.Close()
		return ErrConnectCanceled
	}

	stream, err := c.dialer.Dial(openCtx, Setup{
		Persona:         s.persona,
		Voice:           s.voice,
		InputSampleRate: c.cfg.InputSampleRate,
	})
	if err != nil {
		if s.Ended() {
			return ErrConnectCanceled
		}
		e := NewError(KindStreamOpenFailed, err)
		s.finish(StateFailed, e)
		return e
	}
	if !s.attach(func() { s.stream = stream }) {
		_ = stream.Close()
		return ErrConnectCanceled
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrConnectCanceled
	}
	s.state = StateConnected
	s.connectedAt = c.now()
	s.loops.Add(2)
	s.mu.Unlock()

	c.metrics.RecordSessionConnected()
	c.logger.Printf("live: session %s connected (voice=%s)", s.id, s.voice)
	s.record(eventlog.EventSessionConnected, map[string]any{"voice": s.voice})
	s.cb.connect()

	go s.react(stream)
	go s.captureLoop(capture, stream)
	return nil
}

// attach stores a freshly opened handle unless the session already ended.
func (s *Session) attach(set func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	set()
	return true
}

// finish moves the session to a terminal state, releases every handle and
// reports the outcome once. Later calls are no-ops.
func (s *Session) finish(state ConnectionState, cause *Error) {
	c := s.ctrl

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	wasConnected := s.state == StateConnected
	s.ended = true
	s.state = state
	if cause != nil {
		s.err = cause
	}
	s.endedAt = c.now()
	capture, stream := s.capture, s.stream
	s.capture, s.stream = nil, nil
	connectedFor := s.endedAt.Sub(s.connectedAt)
	s.mu.Unlock()

	s.cancel()
	s.playback.Close()
	if capture != nil {
		if err := capture.Close(); err != nil {
			c.logger.Printf("live: session %s: failed to close microphone: %v", s.id, err)
		}
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			c.logger.Printf("live: session %s: failed to close stream: %v", s.id, err)
		}
	}
	s.turns.Reset()

	var kind ErrorKind
	if cause != nil {
		kind = cause.Kind
	}
	if !wasConnected {
		connectedFor = 0
	}
	c.metrics.RecordSessionEnded(string(state), string(kind), wasConnected, connectedFor.Seconds())

	if cause != nil {
		c.logger.Printf("live: session %s %s: %v", s.id, state, cause)
		s.record(eventlog.EventSessionFailed, map[string]any{
			"kind":  string(cause.Kind),
			"error": cause.Error(),
		})
		s.cb.reportError(cause)
	} else {
		c.logger.Printf("live: session %s %s", s.id, state)
		s.record(eventlog.EventSessionEnded, map[string]any{
			"state":         string(state),
			"connected_sec": connectedFor.Seconds(),
		})
		if wasConnected {
			s.cb.disconnect()
		}
	}

	close(s.done)
}

func (s *Session) captureLoop(capture CaptureSession, stream Stream) {
	defer s.loops.Done()

	c := s.ctrl
	chunker := NewChunker(capture, c.cfg.InputSampleRate, c.cfg.FrameSamples)
	err := chunker.Run(s.ctx, stream.TrySend, func(_ Frame, sent bool) {
		c.metrics.RecordFrame(sent)
	})
	if s.Ended() || errors.Is(err, context.Canceled) {
		return
	}
	s.finish(StateFailed, NewError(KindDeviceUnavailable, err))
}

func (s *Session) react(stream Stream) {
	defer s.loops.Done()

	for ev := range stream.Events() {
		if s.Ended() {
			continue // drain
		}
		s.handle(ev)
	}

	if !s.Ended() {
		s.finish(StateFailed, NewError(KindStreamClosedUnexpectedly, errors.New("event stream ended")))
	}
}

func (s *Session) handle(ev Event) {
	c := s.ctrl

	switch ev := ev.(type) {
	case AudioEvent:
		frag, err := DecodeFragment(ev, c.cfg.OutputSampleRate)
		if err != nil {
			c.logger.Printf("live: session %s: skipping audio fragment: %v", s.id, err)
			c.metrics.RecordFragmentDecodeFailure()
			s.record(eventlog.EventFragmentDropped, map[string]any{"error": err.Error()})
			return
		}
		s.turns.AudioReceived()
		if _, err := s.playback.Enqueue(frag); err != nil {
			if !errors.Is(err, ErrSchedulerClosed) {
				c.logger.Printf("live: session %s: playback failed: %v", s.id, err)
			}
			return
		}
		c.metrics.RecordFragmentScheduled()
		if s.Ended() {
			return
		}
		s.cb.audioFragment()

	case TranscriptEvent:
		switch ev.Side {
		case SideUser:
			s.acc.AppendUserPartial(ev.Text)
			s.turns.UserTranscript()
		case SideAI:
			s.acc.AppendAIPartial(ev.Text)
		}

	case TurnCompleteEvent:
		lines := s.acc.OnTurnComplete()
		s.turns.TurnComplete()
		c.metrics.RecordTurnCompleted()
		s.record(eventlog.EventTurnCompleted, map[string]any{"lines": lines})
		s.cb.turnComplete()

	case InterruptedEvent:
		s.playback.Interrupt()
		s.cb.interrupted()
		s.acc.OnInterrupted()
		s.turns.Interrupted()
		c.metrics.RecordInterruption()
		s.record(eventlog.EventBargeIn, nil)

	case ClosedEvent:
		if ev.Clean {
			c.logger.Printf("live: session %s closed by remote (code=%d reason=%q)", s.id, ev.Code, ev.Reason)
			s.finish(StateDisconnected, nil)
			return
		}
		s.finish(StateFailed, NewError(KindStreamClosedUnexpectedly,
			&closeError{code: ev.Code, reason: ev.Reason}))

	case ErrorEvent:
		s.finish(StateFailed, NewError(KindStreamClosedUnexpectedly, ev.Err))

	default:
		c.logger.Printf("live: session %s: ignoring unknown event %T", s.id, ev)
	}
}

func (s *Session) record(eventType eventlog.EventType, data map[string]any) {
	s.ctrl.recorder.LogAsync(s.id, eventType, data)
}

type closeError struct {
	code   int
	reason string
}

func (e *closeError) Error() string {
	if e.reason == "" {
		return fmt.Sprintf("stream closed with code %d", e.code)
	}
	return fmt.Sprintf("stream closed with code %d: %s", e.code, e.reason)
}
