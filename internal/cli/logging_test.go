package cli

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warning"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestHandlerDropsEmptyAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(&buf, slog.LevelInfo, true))
	logger.Info("http", "ip", "127.0.0.1", "request_id", "", "status", 200)
	logger.Debug("hidden")

	out := buf.String()
	assert.Contains(t, out, "status=200")
	assert.NotContains(t, out, "127.0.0.1")
	assert.NotContains(t, out, "request_id")
	assert.NotContains(t, out, "hidden")
}
