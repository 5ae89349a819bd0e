package audio

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/lukasbauer/voicecoach/internal/live"
)

// player is the subset of *oto.Player the output uses.
type player interface {
	Play()
	Pause()
	Close() error
}

// OtoOutput plays fragments on the default speaker. Each fragment gets its
// own player, started by a timer at its scheduled instant.
type OtoOutput struct {
	sampleRate int
	newPlayer  func(r io.Reader) player
	now        func() time.Time
	logger     *log.Logger
}

// NewOtoOutput opens the audio device. oto allows a single context per
// process, so create one output and share it.
func NewOtoOutput(sampleRate int, logger *log.Logger) (*OtoOutput, error) {
	if sampleRate <= 0 {
		sampleRate = live.DefaultOutputSampleRate
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   50 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open speaker: %w", err)
	}
	<-ready

	logger.Printf("audio: speaker open (rate=%d)", sampleRate)

	return &OtoOutput{
		sampleRate: sampleRate,
		newPlayer:  func(r io.Reader) player { return ctx.NewPlayer(r) },
		now:        time.Now,
		logger:     logger,
	}, nil
}

// Play schedules f to start at the given instant.
func (o *OtoOutput) Play(at time.Time, f live.Fragment, ended func()) (live.Voice, error) {
	if f.SampleRate != 0 && f.SampleRate != o.sampleRate {
		return nil, fmt.Errorf("fragment rate %d does not match speaker rate %d", f.SampleRate, o.sampleRate)
	}

	v := &otoVoice{out: o, pcm: f.PCM, duration: f.Duration, ended: ended}

	delay := at.Sub(o.now())
	if delay < 0 {
		delay = 0
	}

	v.mu.Lock()
	v.startTimer = time.AfterFunc(delay, v.start)
	v.mu.Unlock()
	return v, nil
}

type otoVoice struct {
	out      *OtoOutput
	pcm      []byte
	duration time.Duration
	ended    func()
	endOnce  sync.Once

	mu         sync.Mutex
	stopped    bool
	player     player
	startTimer *time.Timer
	endTimer   *time.Timer
}

func (v *otoVoice) start() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.player = v.out.newPlayer(bytes.NewReader(v.pcm))
	v.player.Play()
	v.endTimer = time.AfterFunc(v.duration, v.finish)
	v.mu.Unlock()
}

// finish runs when the fragment has played to the end.
func (v *otoVoice) finish() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	p := v.player
	v.mu.Unlock()

	if p != nil {
		if err := p.Close(); err != nil {
			v.out.logger.Printf("audio: failed to close player: %v", err)
		}
	}
	v.endOnce.Do(v.ended)
}

// Stop cuts the fragment off immediately.
func (v *otoVoice) Stop() {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return
	}
	v.stopped = true
	if v.startTimer != nil {
		v.startTimer.Stop()
	}
	if v.endTimer != nil {
		v.endTimer.Stop()
	}
	p := v.player
	v.mu.Unlock()

	if p != nil {
		p.Pause()
		if err := p.Close(); err != nil {
			v.out.logger.Printf("audio: failed to close player: %v", err)
		}
	}
	v.endOnce.Do(v.ended)
}
