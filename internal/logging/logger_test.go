package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept", "wallet_id", "w1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	require.Equal(t, "kept", record["msg"])
	require.Equal(t, "w1", record["wallet_id"])
}

func TestNewWithWriter_TextAndInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "loud", "text")

	logger.Debug("dropped")
	logger.Info("kept")

	require.NotContains(t, buf.String(), "dropped")
	require.Contains(t, buf.String(), "msg=kept")
}
