package app

import (
	"os"
	"testing"
	"time"
)

func TestGetenv(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		defValue string
		want     string
	}{
		{
			name:     "env set",
			envKey:   "TEST_ENV_VAR",
			envValue: "custom_value",
			defValue: "default",
			want:     "custom_value",
		},
		{
			name:     "env not set",
			envKey:   "TEST_ENV_VAR_NOTSET",
			envValue: "",
			defValue: "default",
			want:     "default",
		},
		{
			name:     "empty default",
			envKey:   "TEST_ENV_VAR_EMPTY",
			envValue: "",
			defValue: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenv(tt.envKey, tt.defValue)
			if got != tt.want {
				t.Errorf("getenv(%q, %q) = %q, want %q", tt.envKey, tt.defValue, got, tt.want)
			}
		})
	}
}

func TestGetenvIntClamped(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      int
		min      int
		max      int
		want     int
	}{
		{
			name:     "value within range",
			envKey:   "TEST_INT_NORMAL",
			envValue: "500",
			def:      100,
			min:      0,
			max:      1000,
			want:     500,
		},
		{
			name:     "value below min - clamp to min",
			envKey:   "TEST_INT_LOW",
			envValue: "-100",
			def:      100,
			min:      0,
			max:      1000,
			want:     0,
		},
		{
			name:     "value above max - clamp to max",
			envKey:   "TEST_INT_HIGH",
			envValue: "2000",
			def:      100,
			min:      0,
			max:      1000,
			want:     1000,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_INT_NOTSET",
			envValue: "",
			def:      100,
			min:      0,
			max:      1000,
			want:     100,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_INT_INVALID",
			envValue: "not_a_number",
			def:      100,
			min:      0,
			max:      1000,
			want:     100,
		},
		{
			name:     "boundary: exactly min",
			envKey:   "TEST_INT_MIN",
			envValue: "200",
			def:      500,
			min:      200,
			max:      800,
			want:     200,
		},
		{
			name:     "boundary: exactly max",
			envKey:   "TEST_INT_MAX",
			envValue: "800",
			def:      500,
			min:      200,
			max:      800,
			want:     800,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvIntClamped(tt.envKey, tt.def, tt.min, tt.max)
			if got != tt.want {
				t.Errorf("getenvIntClamped(%q, %d, %d, %d) = %d, want %d",
					tt.envKey, tt.def, tt.min, tt.max, got, tt.want)
			}
		})
	}
}

func TestGetenvBool(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      bool
		want     bool
	}{
		{
			name:     "true value",
			envKey:   "TEST_BOOL_TRUE",
			envValue: "true",
			def:      false,
			want:     true,
		},
		{
			name:     "numeric false",
			envKey:   "TEST_BOOL_ZERO",
			envValue: "0",
			def:      true,
			want:     false,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_BOOL_NOTSET",
			envValue: "",
			def:      true,
			want:     true,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_BOOL_INVALID",
			envValue: "maybe",
			def:      false,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvBool(tt.envKey, tt.def)
			if got != tt.want {
				t.Errorf("getenvBool(%q, %v) = %v, want %v", tt.envKey, tt.def, got, tt.want)
			}
		})
	}
}

func TestGetenvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envKey   string
		envValue string
		def      time.Duration
		want     time.Duration
	}{
		{
			name:     "valid duration",
			envKey:   "TEST_DUR_VALID",
			envValue: "90s",
			def:      time.Second,
			want:     90 * time.Second,
		},
		{
			name:     "env not set - use default",
			envKey:   "TEST_DUR_NOTSET",
			envValue: "",
			def:      5 * time.Second,
			want:     5 * time.Second,
		},
		{
			name:     "invalid value - use default",
			envKey:   "TEST_DUR_INVALID",
			envValue: "soon",
			def:      5 * time.Second,
			want:     5 * time.Second,
		},
		{
			name:     "negative value - use default",
			envKey:   "TEST_DUR_NEGATIVE",
			envValue: "-1m",
			def:      5 * time.Second,
			want:     5 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				os.Setenv(tt.envKey, tt.envValue)
				defer os.Unsetenv(tt.envKey)
			}

			got := getenvDuration(tt.envKey, tt.def)
			if got != tt.want {
				t.Errorf("getenvDuration(%q, %v) = %v, want %v", tt.envKey, tt.def, got, tt.want)
			}
		})
	}
}

var configKeys = []string{
	"HTTP_ADDR", "DATABASE_URL", "GEMINI_API_KEY", "API_KEY", "COACH_VOICE",
	"INPUT_SAMPLE_RATE", "OUTPUT_SAMPLE_RATE", "FRAME_SAMPLES",
	"SCORER_PROVIDER", "RETAIN_SESSIONS", "JWT_SECRET", "JWT_EXPIRY",
	"SETUP_TIMEOUT", "APNS_PRODUCTION",
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	// Clear any existing env vars that might interfere
	for _, key := range configKeys {
		os.Unsetenv(key)
	}

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}

	if cfg.Voice != "Kore" {
		t.Errorf("Voice = %q, want %q", cfg.Voice, "Kore")
	}

	// Audio defaults
	if cfg.InputSampleRate != 16000 {
		t.Errorf("InputSampleRate = %d, want %d", cfg.InputSampleRate, 16000)
	}

	if cfg.OutputSampleRate != 24000 {
		t.Errorf("OutputSampleRate = %d, want %d", cfg.OutputSampleRate, 24000)
	}

	if cfg.FrameSamples != 4096 {
		t.Errorf("FrameSamples = %d, want %d", cfg.FrameSamples, 4096)
	}

	if cfg.ScorerProvider != "gemini" {
		t.Errorf("ScorerProvider = %q, want %q", cfg.ScorerProvider, "gemini")
	}

	if cfg.RetainSessions != 8 {
		t.Errorf("RetainSessions = %d, want %d", cfg.RetainSessions, 8)
	}

	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("JWTExpiry = %v, want %v", cfg.JWTExpiry, 24*time.Hour)
	}

	if cfg.SetupTimeout != 10*time.Second {
		t.Errorf("SetupTimeout = %v, want %v", cfg.SetupTimeout, 10*time.Second)
	}

	if cfg.GeminiAPIKey != "" {
		t.Errorf("GeminiAPIKey = %q, want empty", cfg.GeminiAPIKey)
	}
}

func TestLoadConfigFromEnvCustomValues(t *testing.T) {
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("API_KEY", "fallback-key")
	os.Setenv("COACH_VOICE", "Puck")
	os.Setenv("FRAME_SAMPLES", "100000")
	os.Setenv("SCORER_PROVIDER", "OpenAI")
	os.Setenv("RETAIN_SESSIONS", "0")
	os.Setenv("JWT_EXPIRY", "1h")
	os.Setenv("APNS_PRODUCTION", "true")

	defer func() {
		for _, key := range configKeys {
			os.Unsetenv(key)
		}
	}()

	cfg := LoadConfigFromEnv()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}

	if cfg.GeminiAPIKey != "fallback-key" {
		t.Errorf("GeminiAPIKey = %q, want %q", cfg.GeminiAPIKey, "fallback-key")
	}

	if cfg.Voice != "Puck" {
		t.Errorf("Voice = %q, want %q", cfg.Voice, "Puck")
	}

	if cfg.FrameSamples != 16384 {
		t.Errorf("FrameSamples = %d, want %d", cfg.FrameSamples, 16384)
	}

	if cfg.ScorerProvider != "openai" {
		t.Errorf("ScorerProvider = %q, want %q", cfg.ScorerProvider, "openai")
	}

	if cfg.RetainSessions != 1 {
		t.Errorf("RetainSessions = %d, want %d", cfg.RetainSessions, 1)
	}

	if cfg.JWTExpiry != time.Hour {
		t.Errorf("JWTExpiry = %v, want %v", cfg.JWTExpiry, time.Hour)
	}

	if !cfg.APNsProduction {
		t.Error("APNsProduction = false, want true")
	}
}

func TestGeminiKeyTakesPrecedence(t *testing.T) {
	os.Setenv("GEMINI_API_KEY", "primary")
	os.Setenv("API_KEY", "fallback")
	defer os.Unsetenv("GEMINI_API_KEY")
	defer os.Unsetenv("API_KEY")

	if got := LoadConfigFromEnv().GeminiAPIKey; got != "primary" {
		t.Errorf("GeminiAPIKey = %q, want %q", got, "primary")
	}
}
