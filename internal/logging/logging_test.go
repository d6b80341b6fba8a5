package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"garbage", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "level %q", tt.input)
	}
}

func TestSetup_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.log")
	cfg := Config{Level: "info", FilePath: path, WriteToStderr: false}

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)

	logger.Info("query_completed", slog.String("workspace", "ws1"))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"query_completed"`)
	assert.Contains(t, string(data), `"workspace":"ws1"`)
}

func TestSetup_DebugLevelFiltersNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.log")
	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: path})
	require.NoError(t, err)

	logger.Debug("provider_call")
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "provider_call")
}
