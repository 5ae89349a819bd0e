package eventlog

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventType represents the type of session event
type EventType string

const (
	EventSessionConnecting EventType = "session_connecting"
	EventSessionConnected  EventType = "session_connected"
	EventSessionEnded      EventType = "session_ended"
	EventSessionFailed     EventType = "session_failed"
	EventTurnCompleted     EventType = "turn_completed"
	EventBargeIn           EventType = "barge_in"
	EventFragmentDropped   EventType = "fragment_dropped"
	EventFeedbackReady     EventType = "feedback_ready"
	EventFeedbackFailed    EventType = "feedback_failed"
)

// Logger provides async event logging to the database
type Logger struct {
	db *pgxpool.Pool
}

// New creates a new event logger. A nil pool turns every call into a no-op.
func New(db *pgxpool.Pool) *Logger {
	return &Logger{db: db}
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if l == nil || l.db == nil || sessionID == "" {
		return nil // Silently skip if no DB or session ID
	}

	dataJSON, err := sonic.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO session_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if l == nil || l.db == nil || sessionID == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, sessionID, eventType, data)
	}()
}

// Event is one stored session event.
type Event struct {
	ID        int64          `json:"id"`
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"event_type"`
	Data      map[string]any `json:"event_data"`
	CreatedAt time.Time      `json:"created_at"`
}

// List returns the events recorded for a session, oldest first.
func (l *Logger) List(ctx context.Context, sessionID string, limit int) ([]Event, error) {
	if l == nil || l.db == nil || sessionID == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 200
	}

	rows, err := l.db.Query(ctx, `
		SELECT id, session_id, event_type, event_data, created_at
		FROM session_events
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType string
		var raw []byte
		if err := rows.Scan(&e.ID, &e.SessionID, &eventType, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = EventType(eventType)
		if len(raw) > 0 {
			_ = sonic.Unmarshal(raw, &e.Data)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
