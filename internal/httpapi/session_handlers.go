package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/lukasbauer/voicecoach/internal/eventlog"
	"github.com/lukasbauer/voicecoach/internal/live"
	"github.com/lukasbauer/voicecoach/internal/notifications"
	"github.com/lukasbauer/voicecoach/internal/persona"
	"github.com/lukasbauer/voicecoach/internal/scoring"
	"github.com/lukasbauer/voicecoach/internal/store"
)

const (
	scoringTimeout = 60 * time.Second
	historyLimit   = 200
)

type createSessionRequest struct {
	ScenarioID string `json:"scenario_id"`
	Persona    string `json:"persona"`
	Voice      string `json:"voice"`
}

type sessionResponse struct {
	live.Info
	ScenarioID    string          `json:"scenario_id"`
	ScenarioTitle string          `json:"scenario_title"`
	Report        *scoring.Report `json:"report,omitempty"`
}

type transcriptResponse struct {
	SessionID  string      `json:"session_id"`
	State      string      `json:"state"`
	Transcript string      `json:"transcript"`
	Lines      []live.Line `json:"lines"`
}

func newSessionResponse(e *sessionEntry) sessionResponse {
	return sessionResponse{
		Info:          e.session.Info(),
		ScenarioID:    e.scenario.ID,
		ScenarioTitle: e.scenario.Title,
		Report:        e.getReport(),
	}
}

func newTranscriptResponse(s *live.Session) transcriptResponse {
	lines := s.FlushLines()
	if lines == nil {
		lines = []live.Line{}
	}
	return transcriptResponse{
		SessionID:  s.ID(),
		State:      string(s.State()),
		Transcript: live.Render(lines),
		Lines:      lines,
	}
}

// handleCreateSession connects a new coaching session.
func (r *Router) handleCreateSession(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	var body createSessionRequest
	if err := sonic.ConfigStd.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	scenario, err := r.catalog.Resolve(body.ScenarioID, body.Persona)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, persona.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error(), "")
		return
	}
	voice := body.Voice
	if voice == "" {
		voice = scenario.Voice
	}

	if !r.sessions.Add() {
		writeError(w, http.StatusServiceUnavailable, "draining", "server is shutting down")
		return
	}

	id := uuid.NewString()
	hub := newEventHub(id)
	cb := hub.callbacks(func(err error) { r.sessionFailed(id, err) })

	s, err := r.ctrl.Connect(req.Context(), scenario.Instruction,
		live.WithSessionID(id),
		live.WithVoice(voice),
		live.WithCallbacks(cb),
	)
	if err != nil {
		r.sessions.Done()
		hub.close()
		if cur := r.ctrl.Current(); cur != nil && cur.ID() == id {
			r.sessions.remember(&sessionEntry{session: cur, scenario: scenario, owner: user.ID, hub: hub})
		}
		r.writeConnectError(w, err)
		return
	}

	entry := &sessionEntry{session: s, scenario: scenario, owner: user.ID, hub: hub}
	r.sessions.remember(entry)
	go func() {
		s.Wait()
		hub.close()
		r.sessions.Done()
	}()

	r.logger.Printf("httpapi: session %s started (scenario=%s, voice=%s)", id, scenario.ID, voice)
	writeJSON(w, http.StatusCreated, newSessionResponse(entry))
}

func (r *Router) writeConnectError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, live.ErrSessionActive):
		writeError(w, http.StatusConflict, "session_active", err.Error())
	case errors.Is(err, live.ErrConnectCanceled):
		writeError(w, http.StatusConflict, "connect_canceled", err.Error())
	case live.KindOf(err) == live.KindDeviceUnavailable:
		writeError(w, http.StatusServiceUnavailable, "device_unavailable", err.Error())
	case live.KindOf(err) == live.KindStreamOpenFailed:
		writeError(w, http.StatusBadGateway, "stream_open_failed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "connect_failed", err.Error())
	}
}

// sessionFailed reports a terminal session error out of band.
func (r *Router) sessionFailed(id string, err error) {
	kind := string(live.KindOf(err))
	captureError(nil, err, "httpapi: session "+id+" failed ("+kind+")")
	r.discord.NotifySessionFailed(context.Background(), id, kind, err.Error())
}

// ownedSession returns the retained entry named by the {id} path value if
// it belongs to the caller. Other users' sessions look like unknown ones.
func (r *Router) ownedSession(req *http.Request) (*sessionEntry, bool) {
	user := getAuthUser(req.Context())
	if user == nil {
		return nil, false
	}
	e, ok := r.sessions.lookup(req.PathValue("id"))
	if !ok || e.owner != user.ID {
		return nil, false
	}
	return e, true
}

// liveSession returns the controller's session if it has not ended.
func (r *Router) liveSession() (*live.Session, bool) {
	s := r.ctrl.Current()
	if s == nil || s.Ended() {
		return nil, false
	}
	return s, true
}

// liveSessionFor returns the live session unless it was started by another
// user.
func (r *Router) liveSessionFor(req *http.Request) (*live.Session, *sessionEntry, bool) {
	s, ok := r.liveSession()
	if !ok {
		return nil, nil, false
	}
	e, ok := r.sessions.lookup(s.ID())
	if !ok {
		return s, nil, true
	}
	if user := getAuthUser(req.Context()); user == nil || e.owner != user.ID {
		return nil, nil, false
	}
	return s, e, true
}

func (r *Router) handleGetCurrentSession(w http.ResponseWriter, req *http.Request) {
	s, e, ok := r.liveSessionFor(req)
	if !ok {
		writeError(w, http.StatusNotFound, "no live session", "")
		return
	}
	if e != nil {
		writeJSON(w, http.StatusOK, newSessionResponse(e))
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Info: s.Info()})
}

// handleEndCurrentSession disconnects the live session and returns its
// final transcript.
func (r *Router) handleEndCurrentSession(w http.ResponseWriter, req *http.Request) {
	s, _, ok := r.liveSessionFor(req)
	if !ok {
		writeError(w, http.StatusNotFound, "no live session", "")
		return
	}

	s.Disconnect()
	s.Wait()

	r.logger.Printf("httpapi: session %s disconnected by user", s.ID())
	writeJSON(w, http.StatusOK, map[string]any{
		"session":    s.Info(),
		"transcript": newTranscriptResponse(s),
	})
}

// handleListSessions returns the caller's retained sessions, newest first.
func (r *Router) handleListSessions(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	ids := r.sessions.retained()
	out := make([]sessionResponse, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		if e, ok := r.sessions.lookup(ids[i]); ok && e.owner == user.ID {
			out = append(out, newSessionResponse(e))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) {
	e, ok := r.ownedSession(req)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(e))
}

func (r *Router) handleGetTranscript(w http.ResponseWriter, req *http.Request) {
	e, ok := r.ownedSession(req)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}
	writeJSON(w, http.StatusOK, newTranscriptResponse(e.session))
}

// handleGetHistory returns the diagnostic events recorded for a session.
func (r *Router) handleGetHistory(w http.ResponseWriter, req *http.Request) {
	if _, ok := r.ownedSession(req); !ok {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}
	id := req.PathValue("id")
	events, err := r.eventLog.List(req.Context(), id, historyLimit)
	if err != nil {
		r.logger.Printf("httpapi: failed to list events for session %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to list events", "")
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "events": events})
}

// handleFeedback scores an ended session. A scoring failure leaves the
// transcript readable and can be retried.
func (r *Router) handleFeedback(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	if r.scorer == nil {
		writeError(w, http.StatusServiceUnavailable, "scoring_unavailable", "no scorer configured")
		return
	}

	e, ok := r.ownedSession(req)
	if !ok {
		writeError(w, http.StatusNotFound, "session not found", "")
		return
	}
	s := e.session
	if !s.Ended() {
		writeError(w, http.StatusConflict, "session_active", "end the session before requesting feedback")
		return
	}

	ctx, cancel := context.WithTimeout(req.Context(), scoringTimeout)
	defer cancel()

	transcript := s.Transcript()
	report, err := r.scorer.Score(ctx, transcript, s.Persona())
	if err != nil {
		r.logger.Printf("httpapi: scoring failed for session %s: %v", s.ID(), err)
		r.eventLog.LogAsync(s.ID(), eventlog.EventFeedbackFailed, map[string]any{"error": err.Error()})
		captureError(req, err, "httpapi: scoring failed")
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":      "scoring_failed",
			"message":    err.Error(),
			"transcript": newTranscriptResponse(s),
		})
		return
	}

	e.setReport(report)
	r.eventLog.LogAsync(s.ID(), eventlog.EventFeedbackReady, map[string]any{
		"overall_score": report.OverallScore,
		"tips":          len(report.ImprovementTips),
	})
	r.notifyFeedback(req.Context(), e.owner, e, report)

	writeJSON(w, http.StatusOK, newSessionResponse(e))
}

// notifyFeedback tells the session owner's devices and the team channel that a
// report is ready. Delivery failures are logged only.
func (r *Router) notifyFeedback(ctx context.Context, userID string, e *sessionEntry, report *scoring.Report) {
	info := e.session.Info()

	var duration time.Duration
	if info.ConnectedAt != nil && info.EndedAt != nil {
		duration = info.EndedAt.Sub(*info.ConnectedAt)
	}
	r.discord.NotifyFeedback(ctx, notifications.FeedbackSummary{
		SessionID:    info.ID,
		Persona:      info.Persona,
		OverallScore: report.OverallScore,
		Duration:     duration,
		Tips:         report.ImprovementTips,
	})

	if r.apns == nil || !r.store.Enabled() {
		return
	}
	tokens, err := r.store.ListPushTokens(ctx, userID)
	if err != nil {
		r.logger.Printf("httpapi: failed to load push tokens for %s: %v", userID, err)
		return
	}

	notif := notifications.FeedbackNotification{
		SessionID:    info.ID,
		ScenarioName: e.scenario.Title,
		OverallScore: report.OverallScore,
	}
	if len(report.ImprovementTips) > 0 {
		notif.TopTip = report.ImprovementTips[0]
	}
	for _, t := range tokens {
		if t.Platform != store.PlatformIOS {
			continue
		}
		if err := r.apns.SendFeedbackNotification(t.Token, notif); err != nil {
			r.logger.Printf("httpapi: feedback push failed for session %s: %v", info.ID, err)
		}
	}
}
