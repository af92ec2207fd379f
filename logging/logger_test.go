package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitToFileJSON(t *testing.T) {
	t.Cleanup(func() { Close() })
	require.NoError(t, Close())

	path := filepath.Join(t.TempDir(), "logs", "coltable.log")
	require.NoError(t, Init(Config{Level: "warn", OutputPath: path, Format: "json"}))

	GetLogger().Info("dropped")
	WithComponent("engine").Warn("kept", "handle", "h1")
	require.NoError(t, Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	require.Equal(t, "kept", rec["msg"])
	require.Equal(t, "engine", rec["component"])
	require.Equal(t, "h1", rec["handle"])
}

func TestInitTwiceFails(t *testing.T) {
	t.Cleanup(func() { Close() })
	require.NoError(t, Close())

	require.NoError(t, Init(Config{OutputPath: "stderr"}))
	require.Error(t, Init(Config{}))
	require.NoError(t, Close())
	require.NoError(t, Close())
	require.NoError(t, Init(Config{}))
}

func TestGetLoggerLazyDefault(t *testing.T) {
	t.Cleanup(func() { Close() })
	require.NoError(t, Close())

	l := GetLogger()
	require.NotNil(t, l)
	require.Same(t, l, GetLogger())
	require.Error(t, Init(Config{}))
}

func TestLevels(t *testing.T) {
	tests := map[LogLevel]string{
		LevelDebug: "DEBUG",
		"error":    "ERROR",
		"Warn":     "WARN",
		"":         "INFO",
		"verbose":  "INFO",
	}
	for in, want := range tests {
		require.Equal(t, want, in.slogLevel().String(), string(in))
	}
}
