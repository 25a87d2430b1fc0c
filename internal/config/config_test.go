package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/consult")
	defer os.Unsetenv("DATABASE_URL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.ChatPollInterval != 2*time.Second {
		t.Errorf("expected default poll interval 2s, got %s", cfg.ChatPollInterval)
	}
	if cfg.AvgConsultMinutes != 5 {
		t.Errorf("expected default avg consult minutes 5, got %d", cfg.AvgConsultMinutes)
	}
	if cfg.FeedChannel != "consult_feed" {
		t.Errorf("expected default feed channel consult_feed, got %s", cfg.FeedChannel)
	}
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	os.Unsetenv("DATABASE_URL")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadOverrides(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/consult")
	os.Setenv("CHAT_POLL_INTERVAL", "500ms")
	os.Setenv("AVG_CONSULT_MINUTES", "10")
	defer func() {
		os.Unsetenv("DATABASE_URL")
		os.Unsetenv("CHAT_POLL_INTERVAL")
		os.Unsetenv("AVG_CONSULT_MINUTES")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.ChatPollInterval != 500*time.Millisecond {
		t.Errorf("expected 500ms poll interval, got %s", cfg.ChatPollInterval)
	}
	if cfg.AvgConsultMinutes != 10 {
		t.Errorf("expected avg consult minutes 10, got %d", cfg.AvgConsultMinutes)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{ChatPollInterval: 2 * time.Second, AvgConsultMinutes: 5, FeedChannel: "consult_feed"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	cfg.ChatPollInterval = 10 * time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for sub-100ms poll interval")
	}

	cfg.ChatPollInterval = time.Second
	cfg.AvgConsultMinutes = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero avg consult minutes")
	}

	cfg.AvgConsultMinutes = 5
	cfg.FeedChannel = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty feed channel")
	}
}
