package live

import (
	"strings"
	"sync"
)

// Speaker is the author of a transcript line.
type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerCoach Speaker = "coach"
)

// Line is one finalized utterance.
type Line struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

func (l Line) String() string {
	if l.Speaker == SpeakerUser {
		return "User: " + l.Text
	}
	return "Coach: " + l.Text
}

// Accumulator assembles streamed partial transcription into finalized lines.
type Accumulator struct {
	mu          sync.Mutex
	lines       []Line
	pendingUser strings.Builder
	pendingAI   strings.Builder
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// AppendUserPartial concatenates text onto the pending user utterance.
func (a *Accumulator) AppendUserPartial(text string) {
	a.mu.Lock()
	a.pendingUser.WriteString(text)
	a.mu.Unlock()
}

// AppendAIPartial concatenates text onto the pending coach utterance.
func (a *Accumulator) AppendAIPartial(text string) {
	a.mu.Lock()
	a.pendingAI.WriteString(text)
	a.mu.Unlock()
}

// OnTurnComplete finalizes both pending buffers, user first, and returns
// the lines it added. Buffers that are blank after trimming add nothing.
func (a *Accumulator) OnTurnComplete() []Line {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finalizeLocked()
}

// OnInterrupted drops the pending coach utterance. The pending user text
// is kept and finalizes with the next turn.
func (a *Accumulator) OnInterrupted() {
	a.mu.Lock()
	a.pendingAI.Reset()
	a.mu.Unlock()
}

// FlushAll finalizes whatever is pending and returns a copy of every line.
// Calling it again without new partials returns the same lines.
func (a *Accumulator) FlushAll() []Line {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalizeLocked()
	return append([]Line(nil), a.lines...)
}

// Lines returns the finalized lines without touching pending text.
func (a *Accumulator) Lines() []Line {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Line(nil), a.lines...)
}

func (a *Accumulator) finalizeLocked() []Line {
	start := len(a.lines)
	if text := strings.TrimSpace(a.pendingUser.String()); text != "" {
		a.lines = append(a.lines, Line{Speaker: SpeakerUser, Text: text})
	}
	a.pendingUser.Reset()
	if text := strings.TrimSpace(a.pendingAI.String()); text != "" {
		a.lines = append(a.lines, Line{Speaker: SpeakerCoach, Text: text})
	}
	a.pendingAI.Reset()
	return append([]Line(nil), a.lines[start:]...)
}

// Render formats lines as "User: ..." / "Coach: ..." joined by newlines.
func Render(lines []Line) string {
	parts := make([]string, len(lines))
	for i, l := range lines {
		parts[i] = l.String()
	}
	return strings.Join(parts, "\n")
}
