package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the bridge service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// Upstream Voice Live service. Endpoint and key may be overridden
	// per session by the client-provided config.
	VoiceLiveEndpoint   string
	VoiceLiveAPIKey     string
	VoiceLiveAPIVersion string
	DefaultModel        string
	DefaultVoice        string

	SetupTimeout        time.Duration
	FunctionCallTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":3000"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "voicebridge"),
		AllowAnyOrigin:      false,
		VoiceLiveEndpoint:   stringsTrimSpace("AZURE_VOICELIVE_ENDPOINT"),
		VoiceLiveAPIKey:     stringsTrimSpace("AZURE_VOICELIVE_API_KEY"),
		VoiceLiveAPIVersion: envOrDefault("VOICELIVE_API_VERSION", "2025-05-01-preview"),
		DefaultModel:        envOrDefault("VOICELIVE_MODEL", "gpt-4o-realtime"),
		DefaultVoice:        envOrDefault("VOICELIVE_VOICE", "en-US-AvaMultilingualNeural"),
		ShutdownTimeout:     15 * time.Second,
		SetupTimeout:        15 * time.Second,
		FunctionCallTimeout: 10 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SetupTimeout, err = durationFromEnv("APP_SETUP_TIMEOUT", cfg.SetupTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FunctionCallTimeout, err = durationFromEnv("APP_FUNCTION_CALL_TIMEOUT", cfg.FunctionCallTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SetupTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_SETUP_TIMEOUT must be at least 1s")
	}
	if cfg.FunctionCallTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_FUNCTION_CALL_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: invalid boolean %q", key, v)
	}
}
