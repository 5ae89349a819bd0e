package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lukasbauer/voicecoach/internal/audio"
	"github.com/lukasbauer/voicecoach/internal/eventlog"
	"github.com/lukasbauer/voicecoach/internal/gemini"
	"github.com/lukasbauer/voicecoach/internal/httpapi"
	"github.com/lukasbauer/voicecoach/internal/live"
	"github.com/lukasbauer/voicecoach/internal/metrics"
	"github.com/lukasbauer/voicecoach/internal/notifications"
	"github.com/lukasbauer/voicecoach/internal/persona"
	"github.com/lukasbauer/voicecoach/internal/scoring"
	"github.com/lukasbauer/voicecoach/internal/store"
)

type App struct {
	cfg        Config
	logger     *log.Logger
	db         *pgxpool.Pool
	store      *store.Store
	eventLog   *eventlog.Logger
	metrics    *metrics.Metrics
	catalog    *persona.Catalog
	scorer     scoring.Scorer
	apns       *notifications.APNsClient
	discord    *notifications.Discord
	ctrl       *live.Controller
	sessions   *httpapi.SessionRegistry
	httpClient *http.Client // Shared HTTP client with connection pooling for scoring
}

// Option overrides a collaborator New would otherwise build.
type Option func(*options)

type options struct {
	capture live.Capture
	output  live.Output
	dialer  live.Dialer
}

// WithDevices replaces the malgo microphone and oto speaker.
func WithDevices(capture live.Capture, output live.Output) Option {
	return func(o *options) {
		o.capture = capture
		o.output = output
	}
}

// WithDialer replaces the Gemini Live dialer.
func WithDialer(d live.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

func New(cfg Config, logger *log.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	a := &App{cfg: cfg, logger: logger}

	// The database is optional: without it the event log is a no-op and
	// push tokens cannot be registered.
	if cfg.DatabaseURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		db, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		a.db = db
	}

	// Migrations are applied externally (psql -f migrations/*.sql).
	// No automatic migration runner at startup.
	a.store = store.New(a.db)
	a.eventLog = eventlog.New(a.db)
	a.metrics = metrics.New()

	catalog := persona.Builtin()
	if cfg.ScenariosFile != "" {
		c, err := persona.LoadFile(cfg.ScenariosFile)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("load scenarios: %w", err)
		}
		catalog = c
	}
	a.catalog = catalog

	// Shared HTTP client with connection pooling for scoring calls.
	a.httpClient = &http.Client{
		Timeout: 90 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	if err := a.initScorer(); err != nil {
		a.Close()
		return nil, err
	}

	apns, err := notifications.NewAPNsClient(notifications.APNsConfig{
		KeyPath:    cfg.APNsKeyPath,
		KeyID:      cfg.APNsKeyID,
		TeamID:     cfg.APNsTeamID,
		BundleID:   cfg.APNsBundleID,
		Production: cfg.APNsProduction,
	}, logger)
	if err != nil {
		logger.Printf("app: APNs disabled: %v", err)
	}
	a.apns = apns
	a.discord = notifications.NewDiscord(cfg.DiscordWebhookURL, logger)

	capture, output := o.capture, o.output
	if capture == nil {
		capture = audio.NewMalgoCapture(logger)
	}
	if output == nil {
		speaker, err := audio.NewOtoOutput(cfg.OutputSampleRate, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open speaker: %w", err)
		}
		output = speaker
	}

	dialer := o.dialer
	if dialer == nil {
		dialer = gemini.NewDialer(gemini.Config{
			APIKey:       cfg.GeminiAPIKey,
			URL:          cfg.GeminiLiveURL,
			Model:        cfg.GeminiLiveModel,
			SetupTimeout: cfg.SetupTimeout,
			Logger:       logger,
		})
	}

	a.ctrl = live.NewController(capture, dialer, output, live.Config{
		InputSampleRate:  cfg.InputSampleRate,
		OutputSampleRate: cfg.OutputSampleRate,
		FrameSamples:     cfg.FrameSamples,
		Voice:            cfg.Voice,
		CaptureDevice:    cfg.CaptureDevice,
		Logger:           logger,
		Metrics:          a.metrics,
		Recorder:         a.eventLog,
	})
	a.sessions = httpapi.NewSessionRegistry(cfg.RetainSessions)

	return a, nil
}

// initScorer picks the feedback backend. A provider without an API key
// leaves scoring disabled rather than failing startup.
func (a *App) initScorer() error {
	var (
		s   scoring.Scorer
		err error
	)
	switch a.cfg.ScorerProvider {
	case "", "gemini":
		s, err = scoring.NewGeminiScorer(context.Background(), scoring.GeminiConfig{
			APIKey:     a.cfg.GeminiAPIKey,
			Model:      a.cfg.ScorerModel,
			HTTPClient: a.httpClient,
		})
	case "openai":
		s, err = scoring.NewOpenAIScorer(scoring.OpenAIConfig{
			APIKey: a.cfg.OpenAIAPIKey,
			Model:  a.cfg.ScorerModel,
		})
	case "none":
		a.logger.Printf("app: scoring disabled")
		return nil
	default:
		return fmt.Errorf("unknown scorer provider %q", a.cfg.ScorerProvider)
	}
	if err != nil {
		a.logger.Printf("app: scoring disabled: %v", err)
		return nil
	}
	a.scorer = scoring.WithMetrics(s, a.metrics)
	a.logger.Printf("app: scoring via %s", a.cfg.ScorerProvider)
	return nil
}

func (a *App) Router() http.Handler {
	routerCfg := httpapi.RouterConfig{
		JWTSecret:      a.cfg.JWTSecret,
		JWTExpiry:      a.cfg.JWTExpiry,
		RetainSessions: a.cfg.RetainSessions,
	}
	deps := httpapi.Deps{
		Controller: a.ctrl,
		Catalog:    a.catalog,
		Scorer:     a.scorer,
		Store:      a.store,
		EventLog:   a.eventLog,
		Metrics:    a.metrics,
		APNs:       a.apns,
		Discord:    a.discord,
	}
	return httpapi.NewRouter(routerCfg, deps, a.sessions, a.logger)
}

func (a *App) Controller() *live.Controller       { return a.ctrl }
func (a *App) Catalog() *persona.Catalog          { return a.catalog }
func (a *App) Scorer() scoring.Scorer             { return a.scorer }
func (a *App) Metrics() *metrics.Metrics          { return a.metrics }
func (a *App) Sessions() *httpapi.SessionRegistry { return a.sessions }

// Shutdown stops accepting sessions, disconnects the live one and waits
// for it to finish or for ctx to expire.
func (a *App) Shutdown(ctx context.Context) error {
	a.sessions.StartDraining()
	a.ctrl.Disconnect()

	done := make(chan struct{})
	go func() {
		a.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain sessions (%d still active): %w", a.sessions.ActiveCount(), ctx.Err())
	}
}

func (a *App) Close() error {
	if a.ctrl != nil {
		a.ctrl.Close()
	}
	if a.discord != nil {
		a.discord.Wait()
	}
	if a.db != nil {
		a.db.Close()
	}
	return nil
}
