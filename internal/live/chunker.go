package live

import (
	"context"
	"encoding/binary"
	"time"
)

const (
	// DefaultInputSampleRate is the microphone rate agreed with the model.
	DefaultInputSampleRate = 16000
	// DefaultFrameSamples is the number of samples per outbound frame.
	DefaultFrameSamples = 4096
)

// Frame is one fixed-size block of PCM16 mono microphone audio.
type Frame struct {
	Seq        uint64
	PCM        []byte
	SampleRate int
	Duration   time.Duration
}

// MIMEType describes the frame encoding for the wire.
func (f Frame) MIMEType() string {
	return pcmMIMEType(f.SampleRate)
}

// Chunker turns a continuous sample source into fixed-size frames.
// It is not safe for concurrent use.
type Chunker struct {
	src          SampleSource
	sampleRate   int
	frameSamples int

	seq     uint64
	pending []float32
	readBuf []float32
}

// NewChunker creates a chunker over src. Non-positive arguments fall back
// to DefaultInputSampleRate and DefaultFrameSamples.
func NewChunker(src SampleSource, sampleRate, frameSamples int) *Chunker {
	if sampleRate <= 0 {
		sampleRate = DefaultInputSampleRate
	}
	if frameSamples <= 0 {
		frameSamples = DefaultFrameSamples
	}
	return &Chunker{
		src:          src,
		sampleRate:   sampleRate,
		frameSamples: frameSamples,
		pending:      make([]float32, 0, frameSamples*2),
		readBuf:      make([]float32, frameSamples),
	}
}

// Next blocks until a full frame is available. A partial frame still
// pending when the source stops is discarded, and the source's error is
// returned.
func (c *Chunker) Next() (Frame, error) {
	for len(c.pending) < c.frameSamples {
		n, err := c.src.ReadSamples(c.readBuf)
		if n > 0 {
			c.pending = append(c.pending, c.readBuf[:n]...)
		}
		if err != nil {
			return Frame{}, err
		}
	}

	frame := Frame{
		Seq:        c.seq,
		PCM:        EncodePCM16(c.pending[:c.frameSamples], nil),
		SampleRate: c.sampleRate,
		Duration:   samplesDuration(c.frameSamples, c.sampleRate),
	}
	c.seq++

	rest := copy(c.pending, c.pending[c.frameSamples:])
	c.pending = c.pending[:rest]
	return frame, nil
}

// Run pulls frames until ctx is done or the source fails, handing each to
// send. A frame send refuses is dropped, never retried. onFrame, if set,
// observes every frame with the send outcome.
func (c *Chunker) Run(ctx context.Context, send func(Frame) bool, onFrame func(Frame, bool)) error {
	for {
		frame, err := c.Next()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sent := send(frame)
		if onFrame != nil {
			onFrame(frame, sent)
		}
	}
}

// EncodePCM16 converts float samples to little-endian signed 16-bit PCM,
// clamping to [-1, 1]. The result is appended to dst.
func EncodePCM16(samples []float32, dst []byte) []byte {
	if cap(dst)-len(dst) < len(samples)*2 {
		grown := make([]byte, len(dst), len(dst)+len(samples)*2)
		copy(grown, dst)
		dst = grown
	}
	var b [2]byte
	for _, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		dst = append(dst, b[0], b[1])
	}
	return dst
}

func samplesDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
