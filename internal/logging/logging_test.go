package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xRadioAc7iv/keycask/internal"
)

func TestNewFileLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keycask.log")

	logger, closer, err := New(internal.LoggingConfig{Level: "warn", Output: "file", Format: "json", File: path})
	require.NoError(t, err)
	require.NotNil(t, closer)

	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	logger.Warn("disk almost full", "component", "segment")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"disk almost full"`))
	assert.True(t, strings.Contains(string(data), `"component":"segment"`))
}

func TestNewDefaults(t *testing.T) {
	logger, closer, err := New(internal.LoggingConfig{})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewRejectsInvalid(t *testing.T) {
	tests := []internal.LoggingConfig{
		{Level: "verbose"},
		{Output: "syslog"},
		{Output: "file"},
		{Format: "xml"},
	}

	for _, cfg := range tests {
		_, _, err := New(cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}
