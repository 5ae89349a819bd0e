package httpapi

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/lukasbauer/voicecoach/internal/live"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	subscriberBuffer = 64
	wsWriteTimeout   = 10 * time.Second
)

// Event types pushed to WebSocket subscribers.
const (
	eventStatus        = "status"
	eventConnect       = "connect"
	eventDisconnect    = "disconnect"
	eventError         = "error"
	eventAudioFragment = "audio_fragment"
	eventInterrupted   = "interrupted"
	eventTurnComplete  = "turn_complete"
	eventTurnState     = "turn_state"
)

type hubEvent struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id"`
	State     string     `json:"state,omitempty"`
	Kind      string     `json:"kind,omitempty"`
	Message   string     `json:"message,omitempty"`
	Session   *live.Info `json:"session,omitempty"`
	At        time.Time  `json:"at"`
}

// eventHub fans session callbacks out to WebSocket subscribers. Publishing
// never blocks: a subscriber whose buffer is full misses the event.
type eventHub struct {
	sessionID string

	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	closed bool

	dropped atomic.Int64
}

func newEventHub(sessionID string) *eventHub {
	return &eventHub{
		sessionID: sessionID,
		subs:      make(map[chan []byte]struct{}),
	}
}

// subscribe returns a channel of encoded events and a cancel function. The
// channel is closed when the hub closes or the subscription is canceled.
func (h *eventHub) subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

func (h *eventHub) publish(ev hubEvent) {
	ev.SessionID = h.sessionID
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	msg, err := sonic.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// close ends every subscription. Later publishes are ignored.
func (h *eventHub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *eventHub) subscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// callbacks publishes every session callback to the hub. onError is
// invoked after the error is published.
func (h *eventHub) callbacks(onError func(err error)) live.Callbacks {
	return live.Callbacks{
		OnConnect:       func() { h.publish(hubEvent{Type: eventConnect}) },
		OnDisconnect:    func() { h.publish(hubEvent{Type: eventDisconnect}) },
		OnAudioFragment: func() { h.publish(hubEvent{Type: eventAudioFragment}) },
		OnInterrupted:   func() { h.publish(hubEvent{Type: eventInterrupted}) },
		OnTurnComplete:  func() { h.publish(hubEvent{Type: eventTurnComplete}) },
		OnTurnState: func(state live.TurnState) {
			h.publish(hubEvent{Type: eventTurnState, State: string(state)})
		},
		OnError: func(err error) {
			h.publish(hubEvent{Type: eventError, Kind: string(live.KindOf(err)), Message: err.Error()})
			if onError != nil {
				onError(err)
			}
		},
	}
}

// handleSessionEventsWS streams a session's callbacks as JSON text frames.
// The first frame is a status snapshot; the socket is closed normally once
// the session has ended.
func (r *Router) handleSessionEventsWS(w http.ResponseWriter, req *http.Request) {
	entry, ok := r.ownedSession(req)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("events_ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := entry.hub.subscribe()
	defer unsubscribe()

	// The client never sends anything meaningful; reading only detects
	// when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	info := entry.session.Info()
	snapshot, err := sonic.Marshal(hubEvent{
		Type:      eventStatus,
		SessionID: info.ID,
		State:     string(info.State),
		Session:   &info,
		At:        time.Now().UTC(),
	})
	if err == nil {
		if err := writeText(conn, snapshot); err != nil {
			return
		}
	}

	for {
		select {
		case msg, ok := <-events:
			if !ok {
				deadline := time.Now().Add(wsWriteTimeout)
				closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
				_ = conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
				return
			}
			if err := writeText(conn, msg); err != nil {
				logWriteError(r.logger, entry.session.ID(), err)
				return
			}
		case <-gone:
			return
		}
	}
}

func writeText(conn *websocket.Conn, msg []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func logWriteError(logger *log.Logger, sessionID string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	logger.Printf("events_ws: write failed for session %s: %v", sessionID, err)
}
