// Command coach runs one voice-coaching session against the local
// microphone and speakers, then prints the transcript and optional feedback.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lukasbauer/voicecoach/internal/app"
	"github.com/lukasbauer/voicecoach/internal/live"
	"github.com/lukasbauer/voicecoach/internal/scoring"
)

func main() {
	scenarioID := flag.String("scenario", "interview", "scenario id from the catalog")
	personaText := flag.String("persona", "", "free-text persona, overrides -scenario")
	voice := flag.String("voice", "", "prebuilt voice name (defaults to the scenario's voice)")
	feedback := flag.Bool("feedback", false, "score the transcript after the session")
	list := flag.Bool("list", false, "list scenarios and exit")
	verbose := flag.Bool("v", false, "log diagnostics to stderr")
	flag.Parse()

	_ = godotenv.Load()

	cfg := app.LoadConfigFromEnv()
	if !*feedback {
		cfg.ScorerProvider = "none"
	}

	logger := log.New(io.Discard, "", 0)
	if *verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "coach: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	if *list {
		for _, s := range a.Catalog().Scenarios {
			fmt.Printf("%-16s %s\n", s.ID, s.Title)
		}
		return
	}

	if err := run(a, *scenarioID, *personaText, *voice, *feedback); err != nil {
		fmt.Fprintf(os.Stderr, "coach: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}

func run(a *app.App, scenarioID, personaText, voice string, feedback bool) error {
	scenario, err := a.Catalog().Resolve(scenarioID, personaText)
	if err != nil {
		return err
	}
	if voice == "" {
		voice = scenario.Voice
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := a.Controller().Connect(ctx, scenario.Instruction,
		live.WithVoice(voice),
		live.WithCallbacks(live.Callbacks{
			OnConnect: func() { fmt.Printf("connected: %s (Ctrl-C to finish)\n", scenario.Title) },
			OnTurnState: func(state live.TurnState) {
				fmt.Printf("[%s]\n", state)
			},
			OnInterrupted: func() { fmt.Println("[interrupted]") },
			OnError: func(err error) {
				fmt.Fprintf(os.Stderr, "session error (%s): %v\n", live.KindOf(err), err)
			},
		}),
	)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	select {
	case <-ctx.Done():
		s.Disconnect()
	case <-s.Done():
	}
	s.Wait()

	transcript := s.Transcript()
	fmt.Println()
	fmt.Println("--- transcript ---")
	fmt.Println(transcript)

	if !feedback {
		return nil
	}
	scorer := a.Scorer()
	if scorer == nil {
		return fmt.Errorf("feedback requested but no scorer is configured")
	}

	scoreCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	report, err := scorer.Score(scoreCtx, transcript, s.Persona())
	if err != nil {
		return fmt.Errorf("feedback: %w", err)
	}
	printReport(report)
	return nil
}

func printReport(r *scoring.Report) {
	fmt.Println()
	fmt.Printf("--- feedback: %d/100 ---\n", r.OverallScore)
	for _, m := range r.Metrics {
		fmt.Printf("%-20s %3d  %s\n", m.Category, m.Score, m.Details)
	}
	if len(r.ImprovementTips) > 0 {
		fmt.Println()
		for _, tip := range r.ImprovementTips {
			fmt.Printf("- %s\n", tip)
		}
	}
}
