package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config contains all runtime settings for the GenBI agent service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AIServiceURL     string
	AIServiceTimeout time.Duration
	EngineURL        string
	TelemetryURL     string

	DatabaseURL string

	PollInterval    time.Duration
	AskHistoryLimit int
	PreviewLimit    int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "genbi"),
		AIServiceURL:     envOrDefault("AI_SERVICE_URL", "http://localhost:5555"),
		EngineURL:        envOrDefault("ENGINE_URL", "http://localhost:8000"),
		TelemetryURL:     stringsTrimSpace("TELEMETRY_URL"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:  15 * time.Second,
		AIServiceTimeout: 60 * time.Second,
		PollInterval:     time.Second,
		AskHistoryLimit:  10,
		PreviewLimit:     500,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AIServiceTimeout, err = durationFromEnv("AI_SERVICE_TIMEOUT", cfg.AIServiceTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval, err = durationFromEnv("APP_POLL_INTERVAL", cfg.PollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AskHistoryLimit, err = intFromEnv("ASK_HISTORY_LIMIT", cfg.AskHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.PreviewLimit, err = intFromEnv("PREVIEW_ROW_LIMIT", cfg.PreviewLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.PollInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("APP_POLL_INTERVAL must be at least 100ms")
	}
	if cfg.AskHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("ASK_HISTORY_LIMIT must be positive")
	}
	if cfg.PreviewLimit <= 0 {
		return Config{}, fmt.Errorf("PREVIEW_ROW_LIMIT must be positive")
	}
	if cfg.AIServiceTimeout <= 0 {
		return Config{}, fmt.Errorf("AI_SERVICE_TIMEOUT must be positive")
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
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
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

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
