package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	DatabaseURL       string        `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	FeedChannel       string        `mapstructure:"FEED_CHANNEL"`
	ChatPollInterval  time.Duration `mapstructure:"CHAT_POLL_INTERVAL"`
	AvgConsultMinutes int           `mapstructure:"AVG_CONSULT_MINUTES"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("FEED_CHANNEL", "consult_feed")
	v.SetDefault("CHAT_POLL_INTERVAL", "2s")
	v.SetDefault("AVG_CONSULT_MINUTES", 5)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "1M")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("FEED_CHANNEL")
	v.BindEnv("CHAT_POLL_INTERVAL")
	v.BindEnv("AVG_CONSULT_MINUTES")
	v.BindEnv("REQUEST_TIMEOUT")
	v.BindEnv("BODY_LIMIT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run with. The poll
// interval floor keeps the reconciliation loop from hammering the store.
func (c *Config) Validate() error {
	if c.ChatPollInterval < 100*time.Millisecond {
		return fmt.Errorf("CHAT_POLL_INTERVAL must be at least 100ms, got %s", c.ChatPollInterval)
	}
	if c.AvgConsultMinutes <= 0 {
		return fmt.Errorf("AVG_CONSULT_MINUTES must be positive, got %d", c.AvgConsultMinutes)
	}
	if c.FeedChannel == "" {
		return fmt.Errorf("FEED_CHANNEL is required")
	}
	return nil
}
