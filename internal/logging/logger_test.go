package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewLogger_JSONWithRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "debug", Format: "json", Output: &buf}).WithRunID("run-1")

	logger.Debug("batch sealed", slog.Int("commands", 3))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "batch sealed", record["msg"])
	assert.Equal(t, "run-1", record["run_id"])
	assert.Equal(t, float64(3), record["commands"])
}

func TestNewLogger_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{Level: "warn", Output: &buf})

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestMultiHandler_WritesToAll(t *testing.T) {
	var a, b bytes.Buffer
	h := newMultiHandler(
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	)
	logger := slog.New(h).With("component", "test")

	logger.Info("info line")
	logger.Error("error line")

	assert.Contains(t, a.String(), "info line")
	assert.Contains(t, a.String(), "component=test")
	assert.NotContains(t, b.String(), "info line")
	assert.Contains(t, b.String(), "error line")
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, FromContext(ctx).Logger)
	assert.Empty(t, RunIDFromContext(ctx))

	logger := NewLogger(Config{Output: &bytes.Buffer{}})
	ctx = WithLogger(WithRunIDContext(ctx, "abc"), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.Equal(t, "abc", RunIDFromContext(ctx))
}
