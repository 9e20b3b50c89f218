package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Environment: "production", ServiceName: "be-approvals", Version: "1.2.0", Output: &buf})

	log.Component("engine").Info().Str("request_id", "r-1").Msg("Request approved")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "be-approvals", line["service"])
	assert.Equal(t, "1.2.0", line["version"])
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "r-1", line["request_id"])
	assert.Equal(t, "info", line["level"])
}

func TestNew_DefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "bogus", Output: &buf})

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	log.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}
