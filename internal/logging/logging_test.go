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
	assert.Equal(t, slog.LevelDebug, parseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestForTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Options{Level: "info", JSON: true, Output: &buf})
	t.Cleanup(func() { Configure(Options{}) })

	For("planner").Debug("hidden")
	For("planner").Info("batch planned", "records", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "planner", rec["component"])
	assert.Equal(t, "batch planned", rec["msg"])
	assert.Equal(t, 3.0, rec["records"])
}
