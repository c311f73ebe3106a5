package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNewWritesJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", JSON: &buf})
	require.NoError(t, err)

	logger.Info("Hidden")
	logger.Warn("Turn failed", "user_key", "a@example.com")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "Turn failed", rec["msg"])
	assert.Equal(t, "a@example.com", rec["user_key"])
}

func TestNewFansOutToConsole(t *testing.T) {
	t.Parallel()
	var jsonBuf, consoleBuf bytes.Buffer
	logger, err := New(Options{Level: "debug", Console: true, JSON: &jsonBuf, ConsoleOut: &consoleBuf})
	require.NoError(t, err)

	logger.Debug("Session evicted", "user_key", "a@example.com")
	assert.Contains(t, jsonBuf.String(), `"msg":"Session evicted"`)
	assert.Contains(t, consoleBuf.String(), "Session evicted")
}
