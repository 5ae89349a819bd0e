package httpapi

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/getsentry/sentry-go"

	"github.com/lukasbauer/voicecoach/internal/eventlog"
	"github.com/lukasbauer/voicecoach/internal/live"
	"github.com/lukasbauer/voicecoach/internal/metrics"
	"github.com/lukasbauer/voicecoach/internal/notifications"
	"github.com/lukasbauer/voicecoach/internal/persona"
	"github.com/lukasbauer/voicecoach/internal/scoring"
	"github.com/lukasbauer/voicecoach/internal/store"
)

type RouterConfig struct {
	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Number of finished sessions kept for transcript and feedback requests
	RetainSessions int
}

// Deps are the collaborators the router drives. Controller and Catalog are
// required; everything else may be nil.
type Deps struct {
	Controller *live.Controller
	Catalog    *persona.Catalog
	Scorer     scoring.Scorer
	Store      *store.Store
	EventLog   *eventlog.Logger
	Metrics    *metrics.Metrics
	APNs       *notifications.APNsClient
	Discord    *notifications.Discord
}

type Router struct {
	cfg      RouterConfig
	logger   *log.Logger
	ctrl     *live.Controller
	catalog  *persona.Catalog
	scorer   scoring.Scorer
	store    *store.Store
	eventLog *eventlog.Logger
	metrics  *metrics.Metrics
	apns     *notifications.APNsClient
	discord  *notifications.Discord
	sessions *SessionRegistry
	mux      *http.ServeMux
}

func NewRouter(cfg RouterConfig, deps Deps, sessions *SessionRegistry, logger *log.Logger) http.Handler {
	return newRouter(cfg, deps, sessions, logger).handler()
}

func newRouter(cfg RouterConfig, deps Deps, sessions *SessionRegistry, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if sessions == nil {
		sessions = NewSessionRegistry(cfg.RetainSessions)
	}
	r := &Router{
		cfg:      cfg,
		logger:   logger,
		ctrl:     deps.Controller,
		catalog:  deps.Catalog,
		scorer:   deps.Scorer,
		store:    deps.Store,
		eventLog: deps.EventLog,
		metrics:  deps.Metrics,
		apns:     deps.APNs,
		discord:  deps.Discord,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}
	if r.catalog == nil {
		r.catalog = persona.Builtin()
	}
	r.routes()
	return r
}

func (r *Router) handler() http.Handler {
	return withSentryRecovery(withCORS(r.mux))
}

func (r *Router) routes() {
	// Health and metrics (public)
	r.mux.HandleFunc("GET /healthz", r.handleHealthz)
	r.mux.HandleFunc("GET /readyz", r.handleReadyz)
	if r.metrics != nil {
		r.mux.Handle("GET /metrics", r.metrics.Handler())
	}

	// Scenario catalog
	r.mux.HandleFunc("GET /api/scenarios", r.withAuth(r.handleListScenarios))

	// Live session control
	r.mux.HandleFunc("POST /api/sessions", r.withAuth(r.handleCreateSession))
	r.mux.HandleFunc("GET /api/sessions", r.withAuth(r.handleListSessions))
	r.mux.HandleFunc("GET /api/sessions/current", r.withAuth(r.handleGetCurrentSession))
	r.mux.HandleFunc("DELETE /api/sessions/current", r.withAuth(r.handleEndCurrentSession))
	r.mux.HandleFunc("GET /api/sessions/{id}", r.withAuth(r.handleGetSession))
	r.mux.HandleFunc("GET /api/sessions/{id}/transcript", r.withAuth(r.handleGetTranscript))
	r.mux.HandleFunc("GET /api/sessions/{id}/history", r.withAuth(r.handleGetHistory))
	r.mux.HandleFunc("POST /api/sessions/{id}/feedback", r.withAuth(r.handleFeedback))
	r.mux.HandleFunc("GET /api/sessions/{id}/events", r.withAuth(r.handleSessionEventsWS))

	// Push notifications (protected)
	r.mux.HandleFunc("POST /api/push/register", r.withAuth(r.handlePushRegister))
	r.mux.HandleFunc("POST /api/push/unregister", r.withAuth(r.handlePushUnregister))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz fails once the server starts draining so load balancers
// stop routing new sessions here.
func (r *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if r.sessions.IsDraining() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("draining"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleListScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": r.catalog.Scenarios})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigStd.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	body := map[string]string{"error": code}
	if message != "" {
		body["message"] = message
	}
	writeJSON(w, status, body)
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// captureError sends an error to Sentry with request context
func captureError(req *http.Request, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		if req != nil {
			scope.SetRequest(req)
		}
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
