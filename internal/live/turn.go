package live

import "sync"

// TurnState is who currently holds the floor.
type TurnState string

const (
	TurnIdle         TurnState = "idle"
	TurnUserSpeaking TurnState = "user-speaking"
	TurnAISpeaking   TurnState = "ai-speaking"
)

// TurnMachine derives the turn state from stream events. Entering
// ai-speaking from user-speaking passes through idle first.
type TurnMachine struct {
	mu       sync.Mutex
	state    TurnState
	onChange func(from, to TurnState)
}

// NewTurnMachine starts in idle. onChange, if set, is called for every
// transition outside the machine's lock.
func NewTurnMachine(onChange func(from, to TurnState)) *TurnMachine {
	return &TurnMachine{state: TurnIdle, onChange: onChange}
}

// State returns the current turn state.
func (m *TurnMachine) State() TurnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AudioReceived records a fragment of model speech.
func (m *TurnMachine) AudioReceived() {
	m.apply(func(s TurnState) []TurnState {
		switch s {
		case TurnAISpeaking:
			return nil
		case TurnUserSpeaking:
			return []TurnState{TurnIdle, TurnAISpeaking}
		default:
			return []TurnState{TurnAISpeaking}
		}
	})
}

// UserTranscript records incoming user transcription. The user is only
// considered speaking while the floor is free.
func (m *TurnMachine) UserTranscript() {
	m.apply(func(s TurnState) []TurnState {
		if s == TurnIdle {
			return []TurnState{TurnUserSpeaking}
		}
		return nil
	})
}

// TurnComplete returns the machine to idle.
func (m *TurnMachine) TurnComplete() {
	m.apply(toIdle)
}

// Interrupted returns the machine to idle.
func (m *TurnMachine) Interrupted() {
	m.apply(toIdle)
}

// Reset returns the machine to idle when a session ends.
func (m *TurnMachine) Reset() {
	m.apply(toIdle)
}

func toIdle(s TurnState) []TurnState {
	if s == TurnIdle {
		return nil
	}
	return []TurnState{TurnIdle}
}

func (m *TurnMachine) apply(next func(TurnState) []TurnState) {
	m.mu.Lock()
	from := m.state
	steps := next(from)
	if len(steps) > 0 {
		m.state = steps[len(steps)-1]
	}
	m.mu.Unlock()

	if m.onChange == nil {
		return
	}
	for _, to := range steps {
		m.onChange(from, to)
		from = to
	}
}
