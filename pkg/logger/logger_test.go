package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "unitbot.log")
	require.NoError(t, Init(Config{Level: "debug", Format: "json", OutputFile: path, NoConsole: true}))
	t.Cleanup(func() {
		_ = Close()
		_ = InitDefault()
	})

	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
	logrus.WithField("component", "test").Info("hello")

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"component":"test"`)
	assert.Contains(t, string(b), `"msg":"hello"`)
}

func TestInitFallsBackToInfo(t *testing.T) {
	require.NoError(t, Init(Config{Level: "nope", NoConsole: true}))
	t.Cleanup(func() { _ = InitDefault() })
	assert.Equal(t, logrus.InfoLevel, Logger.GetLevel())
}
