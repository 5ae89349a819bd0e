// Package live runs one real-time coaching conversation: microphone frames
// go up to a duplex model stream, model audio comes back and is played
// gaplessly, and both sides' transcription is accumulated into a transcript.
package live

import (
	"context"
	"time"

	"github.com/lukasbauer/voicecoach/internal/eventlog"
)

// CaptureConfig describes how the microphone should be opened.
type CaptureConfig struct {
	SampleRate int
	Channels   int
	Device     string // empty selects the system default
}

// SampleSource yields mono float32 samples in [-1, 1].
type SampleSource interface {
	// ReadSamples blocks until at least one sample is available and copies
	// up to len(buf) samples into buf. It returns io.EOF once closed.
	ReadSamples(buf []float32) (int, error)
}

// CaptureSession is an open microphone.
type CaptureSession interface {
	SampleSource
	Close() error
}

// Capture opens the microphone.
type Capture interface {
	Open(ctx context.Context, cfg CaptureConfig) (CaptureSession, error)
}

// Setup is sent once when the model stream opens.
type Setup struct {
	Persona         string
	Voice           string
	InputSampleRate int
}

// Stream is an open duplex connection to the conversational model.
type Stream interface {
	// TrySend hands a frame to the stream without blocking. It returns
	// false when the frame could not be accepted.
	TrySend(frame Frame) bool
	// Events delivers inbound events in arrival order. A remote close or
	// transport failure arrives as a ClosedEvent or ErrorEvent; the
	// channel itself is closed by Close.
	Events() <-chan Event
	Close() error
}

// Dialer opens model streams. Dial returns only after the remote side has
// acknowledged the setup.
type Dialer interface {
	Dial(ctx context.Context, setup Setup) (Stream, error)
}

// Voice is one scheduled playback fragment.
type Voice interface {
	// Stop halts the fragment immediately, whether or not it has started.
	Stop()
}

// Output plays PCM fragments on the speaker.
type Output interface {
	// Play schedules f to start at the given instant. ended is invoked
	// exactly once when the fragment finishes or is stopped, and never
	// before Play returns.
	Play(at time.Time, f Fragment, ended func()) (Voice, error)
}

// Recorder persists session events. *eventlog.Logger satisfies it.
type Recorder interface {
	LogAsync(sessionID string, eventType eventlog.EventType, data map[string]any)
}

type nopRecorder struct{}

func (nopRecorder) LogAsync(string, eventlog.EventType, map[string]any) {}
