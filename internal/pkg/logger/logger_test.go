package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_WritesKeyValueFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "debug", Output: &buf})

	log.Info("purchase granted", "user_id", "u-1", "quantity", 2, "error", errors.New("boom"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "purchase granted", entry["message"])
	assert.Equal(t, "u-1", entry["user_id"])
	assert.Equal(t, float64(2), entry["quantity"])
	assert.Equal(t, "boom", entry["error"])
	assert.Contains(t, entry, "time")
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "warn", Output: &buf})

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.NotZero(t, buf.Len())
}

func TestLogger_WithFieldAddsContext(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf}).WithField("worker", 3)

	log.Info("flush done", "odd")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, float64(3), entry["worker"])
	assert.Equal(t, "<missing>", entry["odd"])
}
