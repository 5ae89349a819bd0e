package live

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultOutputSampleRate is the rate of model speech when the payload
// does not state one.
const DefaultOutputSampleRate = 24000

// Fragment is one decoded block of PCM16 mono model speech.
type Fragment struct {
	PCM        []byte
	SampleRate int
	Duration   time.Duration
}

// DecodeFragment turns an audio event into a playable fragment. The sample
// rate is taken from the MIME type ("audio/pcm;rate=24000") when present.
func DecodeFragment(ev AudioEvent, defaultRate int) (Fragment, error) {
	if ev.Data == "" {
		return Fragment{}, NewError(KindFragmentDecodeFailed, errors.New("empty audio payload"))
	}
	pcm, err := base64.StdEncoding.DecodeString(ev.Data)
	if err != nil {
		return Fragment{}, NewError(KindFragmentDecodeFailed, fmt.Errorf("invalid base64: %w", err))
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return Fragment{}, NewError(KindFragmentDecodeFailed, fmt.Errorf("PCM16 payload has odd length %d", len(pcm)))
	}

	rate := defaultRate
	if r, ok := mimeRate(ev.MIMEType); ok {
		rate = r
	}
	if rate <= 0 {
		rate = DefaultOutputSampleRate
	}

	return Fragment{
		PCM:        pcm,
		SampleRate: rate,
		Duration:   samplesDuration(len(pcm)/2, rate),
	}, nil
}

func mimeRate(mimeType string) (int, bool) {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return 0, false
}

func pcmMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ErrSchedulerClosed is returned by Enqueue after Close.
var ErrSchedulerClosed = errors.New("playback scheduler closed")

// Scheduler plays fragments back to back on an Output. Fragments that
// arrive while earlier ones are still queued start exactly when the
// previous one ends; a fragment arriving after an idle gap starts now.
type Scheduler struct {
	out Output
	now func() time.Time

	mu        sync.Mutex
	nextStart time.Time
	nextID    uint64
	voices    map[uint64]Voice
	closed    bool
}

// NewScheduler creates a scheduler. now defaults to time.Now.
func NewScheduler(out Output, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		out:       out,
		now:       now,
		nextStart: now(),
		voices:    make(map[uint64]Voice),
	}
}

// Enqueue schedules f and returns its start time. On error nothing is
// scheduled and the playback clock is left untouched.
func (s *Scheduler) Enqueue(f Fragment) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return time.Time{}, ErrSchedulerClosed
	}

	if now := s.now(); s.nextStart.Before(now) {
		s.nextStart = now
	}
	start := s.nextStart

	id := s.nextID
	s.nextID++

	voice, err := s.out.Play(start, f, func() { s.release(id) })
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule fragment: %w", err)
	}
	s.voices[id] = voice
	s.nextStart = start.Add(f.Duration)
	return start, nil
}

// Interrupt stops every queued and playing fragment and resets the clock
// to now.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	voices := s.voices
	s.voices = make(map[uint64]Voice)
	s.nextStart = s.now()
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
}

// Close stops every fragment like Interrupt and makes later Enqueue calls
// fail with ErrSchedulerClosed.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Interrupt()
}

// Pending returns the number of fragments queued or playing.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.voices)
}

// NextStart returns the instant the next enqueued fragment would start at,
// before the stale-clock reset is applied.
func (s *Scheduler) NextStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStart
}

func (s *Scheduler) release(id uint64) {
	s.mu.Lock()
	delete(s.voices, id)
	s.mu.Unlock()
}
