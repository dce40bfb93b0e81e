package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.MetricsNamespace != "genbi" {
		t.Errorf("MetricsNamespace = %q", cfg.MetricsNamespace)
	}
	if cfg.AIServiceURL != "http://localhost:5555" {
		t.Errorf("AIServiceURL = %q", cfg.AIServiceURL)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.AskHistoryLimit != 10 || cfg.PreviewLimit != 500 {
		t.Errorf("limits = %d / %d", cfg.AskHistoryLimit, cfg.PreviewLimit)
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("DatabaseURL should default empty, got %q", cfg.DatabaseURL)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_BIND_ADDR", ":9999")
	t.Setenv("APP_POLL_INTERVAL", "250ms")
	t.Setenv("ASK_HISTORY_LIMIT", "3")
	t.Setenv("AI_SERVICE_TIMEOUT", "10s")
	t.Setenv("DATABASE_URL", " postgres://localhost/genbi ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != ":9999" {
		t.Errorf("BindAddr = %q", cfg.BindAddr)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.AskHistoryLimit != 3 {
		t.Errorf("AskHistoryLimit = %d", cfg.AskHistoryLimit)
	}
	if cfg.AIServiceTimeout != 10*time.Second {
		t.Errorf("AIServiceTimeout = %v", cfg.AIServiceTimeout)
	}
	if cfg.DatabaseURL != "postgres://localhost/genbi" {
		t.Errorf("DatabaseURL not trimmed: %q", cfg.DatabaseURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("APP_POLL_INTERVAL", "50ms")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for sub-100ms poll interval")
	}

	t.Setenv("APP_POLL_INTERVAL", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error for bad duration")
	}

	t.Setenv("APP_POLL_INTERVAL", "1s")
	t.Setenv("ASK_HISTORY_LIMIT", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero history limit")
	}
}
