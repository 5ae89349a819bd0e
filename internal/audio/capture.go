package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/lukasbauer/voicecoach/internal/live"
)

// MalgoCapture opens the system microphone through miniaudio.
type MalgoCapture struct {
	logger *log.Logger
}

// NewMalgoCapture creates a capture backend.
func NewMalgoCapture(logger *log.Logger) *MalgoCapture {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &MalgoCapture{logger: logger}
}

// Open initializes a capture device producing mono float32 samples.
func (c *MalgoCapture) Open(ctx context.Context, cfg live.CaptureConfig) (live.CaptureSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = live.DefaultInputSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init audio context: %w", err)
	}

	// Two seconds of headroom; older audio is discarded if the reader stalls
	buf := newSampleBuffer(cfg.SampleRate * 2)
	channels := cfg.Channels

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			buf.write(decodeF32Mono(pInputSamples, channels))
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("failed to init microphone: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("failed to start microphone: %w", err)
	}

	c.logger.Printf("audio: microphone open (rate=%d channels=%d)", cfg.SampleRate, channels)

	return &malgoSession{ctx: mctx, device: device, buf: buf, logger: c.logger}, nil
}

type malgoSession struct {
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	buf       *sampleBuffer
	logger    *log.Logger
	closeOnce sync.Once
}

func (s *malgoSession) ReadSamples(p []float32) (int, error) {
	return s.buf.read(p)
}

func (s *malgoSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// Stop the device first so the data callback can no longer fire
		if stopErr := s.device.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop microphone: %w", stopErr)
		}
		s.device.Uninit()
		if uninitErr := s.ctx.Uninit(); uninitErr != nil && err == nil {
			err = fmt.Errorf("failed to release audio context: %w", uninitErr)
		}
		s.ctx.Free()
		s.buf.close()
		s.logger.Printf("audio: microphone released")
	})
	return err
}

// decodeF32Mono converts interleaved little-endian float32 frames to mono
// by averaging channels.
func decodeF32Mono(raw []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frameBytes := 4 * channels
	frames := len(raw) / frameBytes
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			off := i*frameBytes + ch*4
			sum += math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// sampleBuffer hands samples from the device callback to a blocking reader.
type sampleBuffer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []float32
	max    int
	closed bool
}

func newSampleBuffer(max int) *sampleBuffer {
	b := &sampleBuffer{buf: make([]float32, 0, max), max: max}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *sampleBuffer) write(samples []float32) {
	b.mu.Lock()
	if !b.closed {
		b.buf = append(b.buf, samples...)
		if over := len(b.buf) - b.max; over > 0 {
			n := copy(b.buf, b.buf[over:])
			b.buf = b.buf[:n]
		}
	}
	b.mu.Unlock()
	b.cond.Signal()
}

// read blocks until samples are available. Once closed it drains what is
// left and then returns io.EOF.
func (b *sampleBuffer) read(p []float32) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.buf) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.buf) == 0 {
		return 0, io.EOF
	}

	n := copy(p, b.buf)
	rest := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:rest]
	return n, nil
}

func (b *sampleBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
}
