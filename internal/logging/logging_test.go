// ABOUTME: Tests for logger setup and the colourised terminal handler
// ABOUTME: Runs with colour disabled so output can be matched as plain text

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/config"
)

func init() {
	color.NoColor = true
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("info"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Debug("hidden")
	logger.With("component", "client").Info("turn finished", "chat_id", "c1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec), "exactly one JSON record: %s", buf.String())
	assert.Equal(t, "turn finished", rec["msg"])
	assert.Equal(t, "client", rec["component"])
	assert.Equal(t, "c1", rec["chat_id"])
}

func TestColorHandler_Line(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)

	logger.With("component", "store").Warn("slow query", "elapsed", "3s")

	line := buf.String()
	assert.Contains(t, line, "WRN slow query")
	assert.Contains(t, line, " component=store")
	assert.Contains(t, line, " elapsed=3s")
	assert.Regexp(t, `\n$`, line)
}

func TestColorHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewColorHandler(&buf, slog.LevelWarn))

	logger.Info("dropped")
	logger.Error("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "ERR kept")
}

func TestColorHandler_Groups(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewColorHandler(&buf, slog.LevelInfo))

	logger.WithGroup("http").Info("request", "status", 200, slog.Group("peer", "addr", "10.0.0.1"))

	assert.Contains(t, buf.String(), " http.status=200")
	assert.Contains(t, buf.String(), " http.peer.addr=10.0.0.1")
}
