package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"

	"github.com/lukasbauer/voicecoach/internal/app"
	"github.com/lukasbauer/voicecoach/internal/httpapi"
)

func main() {
	printToken := flag.Bool("print-token", false, "print an API token signed with JWT_SECRET and exit")
	subject := flag.String("subject", "local", "user id embedded in the printed token")
	flag.Parse()

	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg := app.LoadConfigFromEnv()

	logger := log.New(os.Stdout, "", log.LstdFlags)

	if *printToken {
		token, expires, err := httpapi.IssueToken(cfg.JWTSecret, *subject, cfg.JWTExpiry)
		if err != nil {
			logger.Fatalf("issue token: %v", err)
		}
		fmt.Println(token)
		logger.Printf("token for %s expires at %s", *subject, expires.Format(time.RFC3339))
		return
	}

	// Initialize Sentry for error monitoring
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2, // 20% of requests for performance monitoring
			Environment:      cfg.Environment,
		})
		if err != nil {
			logger.Printf("sentry init failed: %v", err)
		} else {
			logger.Printf("sentry initialized")
			defer sentry.Flush(2 * time.Second)
		}
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		if cfg.SentryDSN != "" {
			sentry.CaptureException(err)
			sentry.Flush(2 * time.Second)
		}
		logger.Fatalf("init app: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Drain first so the live session's transcript is final before the
	// listener stops serving transcript requests.
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Printf("drain: %v", err)
	}
	_ = srv.Shutdown(shutdownCtx)
	_ = a.Close()
}
