package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	SentryDSN   string
	Environment string

	// Gemini Live
	GeminiAPIKey    string
	GeminiLiveURL   string
	GeminiLiveModel string
	SetupTimeout    time.Duration
	Voice           string // prebuilt voice name

	// Audio formats
	InputSampleRate  int
	OutputSampleRate int
	FrameSamples     int    // samples per capture frame
	CaptureDevice    string // empty selects the system default

	// Scoring
	ScorerProvider string // "gemini", "openai" or "none"
	ScorerModel    string
	OpenAIAPIKey   string

	// Scenario catalog override (YAML)
	ScenariosFile string

	// Finished sessions kept in memory
	RetainSessions int

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Notifications
	DiscordWebhookURL string

	// APNs Push Notifications
	APNsKeyPath    string
	APNsKeyID      string
	APNsTeamID     string
	APNsBundleID   string
	APNsProduction bool
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		SentryDSN:   getenv("SENTRY_DSN", ""),
		Environment: getenv("ENVIRONMENT", "development"),

		// Gemini Live
		GeminiAPIKey:    getenv("GEMINI_API_KEY", os.Getenv("API_KEY")),
		GeminiLiveURL:   getenv("GEMINI_LIVE_URL", ""),
		GeminiLiveModel: getenv("GEMINI_LIVE_MODEL", ""),
		SetupTimeout:    getenvDuration("SETUP_TIMEOUT", 10*time.Second),
		Voice:           getenv("COACH_VOICE", "Kore"),

		// Audio formats
		InputSampleRate:  getenvIntClamped("INPUT_SAMPLE_RATE", 16000, 8000, 48000),
		OutputSampleRate: getenvIntClamped("OUTPUT_SAMPLE_RATE", 24000, 8000, 48000),
		FrameSamples:     getenvIntClamped("FRAME_SAMPLES", 4096, 256, 16384),
		CaptureDevice:    getenv("CAPTURE_DEVICE", ""),

		// Scoring
		ScorerProvider: strings.ToLower(getenv("SCORER_PROVIDER", "gemini")),
		ScorerModel:    getenv("SCORER_MODEL", ""),
		OpenAIAPIKey:   getenv("OPENAI_API_KEY", ""),

		ScenariosFile:  getenv("SCENARIOS_FILE", ""),
		RetainSessions: getenvIntClamped("RETAIN_SESSIONS", 8, 1, 100),

		// JWT Authentication
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: getenvDuration("JWT_EXPIRY", 24*time.Hour),

		// Notifications
		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),

		// APNs Push Notifications
		APNsKeyPath:    getenv("APNS_KEY_PATH", ""),
		APNsKeyID:      getenv("APNS_KEY_ID", ""),
		APNsTeamID:     getenv("APNS_TEAM_ID", ""),
		APNsBundleID:   getenv("APNS_BUNDLE_ID", ""),
		APNsProduction: getenvBool("APNS_PRODUCTION", false),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// getenvIntClamped reads an int and forces it into [min, max].
func getenvIntClamped(k string, def, min, max int) int {
	n := getenvInt(k, def)
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
