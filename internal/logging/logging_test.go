package logging

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, ParseLevel(tc.input), "level %q", tc.input)
	}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	logger := New(slog.LevelDebug, "json")
	assert.NotNil(t, logger)
	assert.True(t, logger.Enabled(ctx, slog.LevelDebug))

	logger = New(slog.LevelWarn, "text")
	assert.NotNil(t, logger)
	assert.False(t, logger.Enabled(ctx, slog.LevelInfo))
	assert.True(t, logger.Enabled(ctx, slog.LevelWarn))
}
