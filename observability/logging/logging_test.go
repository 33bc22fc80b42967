package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerShapesAndMasks(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "intentd", "test")

	logger.Info("run failed", "code", "POLICY_CHAIN_DENIED", "signature", "deadbeef")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "run failed", line["message"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, "intentd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "POLICY_CHAIN_DENIED", line["code"], "allowlisted keys pass through")
	require.Equal(t, RedactedValue, line["signature"], "handler masks non-allowlisted strings")
}

func TestRunLoggerAttachesRunScope(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&buf, "intentd", "")

	RunLogger(base, "run_1_deadbeef", "instruction").Warn("run failed", "code", "INTENT_PARSE_ERROR")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "run_1_deadbeef", line["runId"])
	require.Equal(t, "instruction", line["source"])
	require.Equal(t, "WARN", line["severity"])
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("INTENTD_LOG_LEVEL", "debug")
	var buf bytes.Buffer
	logger := NewLogger(&buf, "intentd", "")
	logger.Debug("verbose detail")
	require.NotZero(t, buf.Len())

	t.Setenv("INTENTD_LOG_LEVEL", "error")
	buf.Reset()
	logger = NewLogger(&buf, "intentd", "")
	logger.Info("quiet")
	require.Zero(t, buf.Len())
}
