package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nope"))
}

func TestInitUsesEnvFallback(t *testing.T) {
	t.Setenv(LevelEnvVar, "debug")
	Init("")
	require.NotNil(t, Logger())
	assert.True(t, Logger().Enabled(t.Context(), slog.LevelDebug))

	Init("error")
	assert.False(t, Logger().Enabled(t.Context(), slog.LevelDebug))
}
