package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("FFMPEG_PATH", "")
	t.Setenv("FFMPEG_TIMEOUT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.FFprobePath)
	assert.Equal(t, 10*time.Minute, cfg.FFmpegTimeout)
	assert.Equal(t, 15*time.Second, cfg.Assembly.MusicDownloadTimeout)
	assert.Equal(t, "local", cfg.Storage.Backend)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("FFMPEG_PATH", "/opt/ffmpeg/bin/ffmpeg")
	t.Setenv("FFMPEG_TIMEOUT", "90s")
	t.Setenv("FFMPEG_KILL_GRACE", "2")
	t.Setenv("ASSEMBLY_DEBUG_SEGMENTS", "yes")
	t.Setenv("WORKER_CONCURRENCY", "6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/opt/ffmpeg/bin/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, 90*time.Second, cfg.FFmpegTimeout)
	assert.Equal(t, 2*time.Second, cfg.FFmpegKillGrace)
	assert.True(t, cfg.Assembly.DebugSegments)
	assert.Equal(t, 6, cfg.WorkerConcurrency)
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"duration string", "1m30s", 90 * time.Second},
		{"bare seconds", "45", 45 * time.Second},
		{"garbage falls back", "soon", time.Minute},
		{"empty falls back", "", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_DURATION", tt.value)
			assert.Equal(t, tt.want, getEnvDuration("TEST_DURATION", time.Minute))
		})
	}
}

func TestAllowedOriginsList(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, http://localhost:5173,,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.example.com", "http://localhost:5173"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Minute, cfg.Assembly.SweepInterval)
}
