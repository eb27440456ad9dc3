package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/fetchd/fetchd/internal/config"
	"github.com/fetchd/fetchd/internal/downloader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.MaxConcurrent)
	assert.Equal(t, "fail", cfg.OverwritePolicy)
	assert.Equal(t, 100*time.Millisecond, cfg.SpeedSampleInterval)
	assert.Equal(t, 10*time.Second, cfg.ResponseTimeout)
	assert.True(t, cfg.DisableKeepAlives)
	assert.Equal(t, 24*time.Hour, cfg.PartialRetention)
	assert.Equal(t, "0.0.0.0:8780", cfg.Web.BindAddress)
	assert.Equal(t, 30*time.Second, cfg.Web.ShutdownTimeout)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_DOWNLOADS", "4")
	t.Setenv("OVERWRITE_POLICY", "rename")
	t.Setenv("DOWNLOAD_DIR", "/data/downloads")
	t.Setenv("WEB_BIND_ADDRESS", "127.0.0.1:9000")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, "rename", cfg.OverwritePolicy)
	assert.Equal(t, "/data/downloads", cfg.DownloadDir)
	assert.Equal(t, "127.0.0.1:9000", cfg.Web.BindAddress)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"garbage", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &config.Config{LogLevel: tt.level}
			assert.Equal(t, tt.want, cfg.SlogLevel())
		})
	}
}

func TestOverwrite(t *testing.T) {
	tests := []struct {
		policy  string
		want    downloader.Overwrite
		wantErr bool
	}{
		{"fail", downloader.OverwriteFail, false},
		{"", downloader.OverwriteFail, false},
		{"replace", downloader.OverwriteReplace, false},
		{"overwrite", downloader.OverwriteReplace, false},
		{"RENAME", downloader.OverwriteRename, false},
		{"bogus", downloader.OverwriteDefault, true},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			cfg := &config.Config{OverwritePolicy: tt.policy}

			got, err := cfg.Overwrite()
			if tt.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
