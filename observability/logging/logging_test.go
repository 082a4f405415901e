package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWriterShapesRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWriter(&buf, Options{Service: "tallyd", Env: "test", Level: "debug"})
	logger.Debug("keeper sweep", "agreement", "tly1abc", "jwtSecret", "hunter2")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "tallyd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "keeper sweep", line["message"])
	require.Equal(t, "tly1abc", line["agreement"])
	require.Equal(t, RedactedValue, line["jwtSecret"])
	require.Contains(t, line, "timestamp")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
}

func TestSensitiveKeys(t *testing.T) {
	require.True(t, Sensitive("webhookSecret"))
	require.True(t, Sensitive("Authorization"))
	require.False(t, Sensitive("payer"))
}

func TestRedactKeepsEmptyAndNonSensitive(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWriter(&buf, Options{Service: "tallyd"})
	logger.Info("issued", "token", "", "payee", "tly1payee", "signature", 42)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "", line["token"])
	require.Equal(t, "tly1payee", line["payee"])
	require.Equal(t, RedactedValue, line["signature"])
}
