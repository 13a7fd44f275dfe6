package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DEBOUNCE_WINDOW_MS", "")
	t.Setenv("BATCH_MAX_ATTEMPTS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DebounceWindow != 5*time.Second {
		t.Fatalf("expected 5s debounce window, got %s", cfg.DebounceWindow)
	}
	if cfg.BatchMaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.BatchMaxAttempts)
	}
	if cfg.EmbeddingDimensions != 1536 {
		t.Fatalf("expected 1536 dimensions, got %d", cfg.EmbeddingDimensions)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DEBOUNCE_WINDOW_MS", "250")
	t.Setenv("SEND_RATE_PER_SECOND", "2.5")
	t.Setenv("LOG_PRETTY", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DebounceWindow != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", cfg.DebounceWindow)
	}
	if cfg.SendRatePerSecond != 2.5 {
		t.Fatalf("expected 2.5, got %v", cfg.SendRatePerSecond)
	}
	if !cfg.LogPretty {
		t.Fatal("expected pretty logging")
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for missing variables")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected both variables named, got %v", err)
	}
}

func TestValidateRejectsZeroAttempts(t *testing.T) {
	cfg := &Config{DatabaseURL: "x", JWTSecret: "y", BatchMaxAttempts: 0, EmbeddingDimensions: 8}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
