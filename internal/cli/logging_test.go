package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/taskara/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.in), tt.in)
	}
}

func TestAutoFormatIsJSONOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "debug", Format: "auto"}, &buf)
	logger.Debug("task transitioned", "task_id", "t1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "task transitioned", rec["msg"])
	assert.Equal(t, "t1", rec["task_id"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "info", Format: "text"}, &buf)
	logger.Debug("hidden")
	logger.Info("shown", "n", 1)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown n=1")
}
