// Package config reads the process configuration from the environment, with
// an optional YAML file for workflow prompt overrides.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

type Mode string

const (
	// ModeDev runs with placeholder speech, extraction, and ledger
	// collaborators so the whole flow works without external accounts.
	ModeDev  Mode = "dev"
	ModeLive Mode = "live"
)

type Config struct {
	Mode Mode

	Port     string
	LogLevel slog.Level

	SessionTTL  time.Duration
	TokenSecret string

	DeepgramAPIKey    string
	DeepgramModel     string
	DeepgramStreaming bool

	GeminiAPIKey string
	GeminiModel  string

	XeroClientID     string
	XeroClientSecret string

	// WorkflowOverrides points at a YAML file adjusting step prompts and
	// line-item limits. Empty means built-in defaults.
	WorkflowOverrides string
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "TRUE"
}

func getLevelEnv(key string, def slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return def
	}
	return level
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Load reads all env vars and builds the config.
func Load() (*Config, error) {
	modeStr := getEnv("VOICEBOOKS_MODE", "dev")
	var mode Mode
	switch modeStr {
	case "live":
		mode = ModeLive
	default:
		mode = ModeDev
	}

	cfg := &Config{
		Mode: mode,

		Port:     getEnv("VOICEBOOKS_PORT", "8080"),
		LogLevel: getLevelEnv("VOICEBOOKS_LOG_LEVEL", slog.LevelInfo),

		SessionTTL:  getDurationEnv("VOICEBOOKS_SESSION_TTL", 30*time.Minute),
		TokenSecret: getEnv("VOICEBOOKS_TOKEN_SECRET", ""),

		DeepgramAPIKey:    getEnv("DEEPGRAM_API_KEY", ""),
		DeepgramModel:     getEnv("DEEPGRAM_MODEL", "nova-2"),
		DeepgramStreaming: getBoolEnv("DEEPGRAM_STREAMING", false),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		XeroClientID:     getEnv("XERO_CLIENT_ID", ""),
		XeroClientSecret: getEnv("XERO_CLIENT_SECRET", ""),

		WorkflowOverrides: getEnv("VOICEBOOKS_WORKFLOW_OVERRIDES", ""),
	}

	if cfg.TokenSecret == "" {
		if mode == ModeLive {
			return nil, fmt.Errorf("VOICEBOOKS_TOKEN_SECRET must be set in live mode")
		}
		cfg.TokenSecret = "dev-secret-dev-secret-dev-secret!"
	}
	if mode == ModeLive {
		if cfg.DeepgramAPIKey == "" {
			return nil, fmt.Errorf("DEEPGRAM_API_KEY must be set in live mode")
		}
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY must be set in live mode")
		}
	}
	return cfg, nil
}
