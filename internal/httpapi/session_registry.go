package httpapi

import (
	"sync"
	"sync/atomic"

	"github.com/lukasbauer/voicecoach/internal/live"
	"github.com/lukasbauer/voicecoach/internal/persona"
	"github.com/lukasbauer/voicecoach/internal/scoring"
)

const defaultRetainSessions = 8

// sessionEntry is what the API remembers about one session.
type sessionEntry struct {
	session  *live.Session
	scenario persona.Scenario
	owner    string
	hub      *eventHub

	mu     sync.Mutex
	report *scoring.Report
}

func (e *sessionEntry) setReport(r *scoring.Report) {
	e.mu.Lock()
	e.report = r
	e.mu.Unlock()
}

func (e *sessionEntry) getReport() *scoring.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

// SessionRegistry tracks live coaching sessions and supports graceful
// draining. When draining is enabled, new sessions are rejected while the
// live one is shut down. The most recent sessions stay addressable by id
// after they end so their transcript can still be read and scored.
//
// The mu mutex makes the draining check and wg.Add atomic in Add(), so no
// session can start between StartDraining and Wait.
type SessionRegistry struct {
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	count    atomic.Int64

	retain  int
	order   []string
	entries map[string]*sessionEntry
}

// NewSessionRegistry creates a registry remembering up to retain sessions.
func NewSessionRegistry(retain int) *SessionRegistry {
	if retain <= 0 {
		retain = defaultRetainSessions
	}
	return &SessionRegistry{
		retain:  retain,
		entries: make(map[string]*sessionEntry),
	}
}

// Add reserves a slot for a new live session. Returns false if the
// registry is draining.
func (sr *SessionRegistry) Add() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.draining {
		return false
	}
	sr.wg.Add(1)
	sr.count.Add(1)
	return true
}

// Done releases a slot. Must be called exactly once per successful Add.
func (sr *SessionRegistry) Done() {
	sr.count.Add(-1)
	sr.wg.Done()
}

// StartDraining sets the draining flag so that future Add calls return false.
func (sr *SessionRegistry) StartDraining() {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (sr *SessionRegistry) IsDraining() bool {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.draining
}

// ActiveCount returns the number of live sessions.
func (sr *SessionRegistry) ActiveCount() int64 {
	return sr.count.Load()
}

// Wait blocks until every live session has released its slot.
func (sr *SessionRegistry) Wait() {
	sr.wg.Wait()
}

// remember stores an entry, evicting the oldest beyond the retention limit.
func (sr *SessionRegistry) remember(e *sessionEntry) {
	id := e.session.ID()

	sr.mu.Lock()
	defer sr.mu.Unlock()
	if _, ok := sr.entries[id]; !ok {
		sr.order = append(sr.order, id)
	}
	sr.entries[id] = e
	for len(sr.order) > sr.retain {
		oldest := sr.order[0]
		sr.order = sr.order[1:]
		delete(sr.entries, oldest)
	}
}

// lookup returns the entry for id, if it is still retained.
func (sr *SessionRegistry) lookup(id string) (*sessionEntry, bool) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	e, ok := sr.entries[id]
	return e, ok
}

// retained returns the ids of remembered sessions, oldest first.
func (sr *SessionRegistry) retained() []string {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return append([]string(nil), sr.order...)
}
