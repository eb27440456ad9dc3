package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fetchd/fetchd/internal/downloader"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir         string        `envconfig:"DOWNLOAD_DIR"`
	MaxConcurrent       int           `envconfig:"MAX_CONCURRENT_DOWNLOADS" default:"1"`
	OverwritePolicy     string        `envconfig:"OVERWRITE_POLICY" default:"fail"`
	SpeedSampleInterval time.Duration `envconfig:"SPEED_SAMPLE_INTERVAL" default:"100ms"`
	ResponseTimeout     time.Duration `envconfig:"RESPONSE_TIMEOUT" default:"10s"`
	DisableKeepAlives   bool          `envconfig:"DISABLE_KEEP_ALIVES" default:"true"`

	PartialRetention time.Duration `envconfig:"PARTIAL_RETENTION" default:"24h"`
	CleanupInterval  time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`

	DBPath           string `envconfig:"DB_PATH" default:"fetchd.db"`
	WebhookURL       string `envconfig:"WEBHOOK_URL"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"INFO"`
	TelemetryEnabled bool   `envconfig:"TELEMETRY_ENABLED" default:"true"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8780"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Overwrite parses the configured collision policy.
func (c *Config) Overwrite() (downloader.Overwrite, error) {
	switch strings.ToLower(c.OverwritePolicy) {
	case "", "fail":
		return downloader.OverwriteFail, nil
	case "replace", "overwrite":
		return downloader.OverwriteReplace, nil
	case "rename":
		return downloader.OverwriteRename, nil
	}

	return downloader.OverwriteDefault, fmt.Errorf("invalid overwrite policy: %s", c.OverwritePolicy)
}
