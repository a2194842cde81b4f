package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerLevels(t *testing.T) {
	dev, err := NewLogger("dev")
	require.NoError(t, err)
	assert.True(t, dev.Core().Enabled(zap.DebugLevel))

	prod, err := NewLogger("prod")
	require.NoError(t, err)
	assert.False(t, prod.Core().Enabled(zap.DebugLevel))
	assert.True(t, prod.Core().Enabled(zap.InfoLevel))

	quiet, err := NewLogger("dev", WithLevel("warn"))
	require.NoError(t, err)
	assert.False(t, quiet.Core().Enabled(zap.InfoLevel))
	assert.True(t, quiet.Core().Enabled(zap.WarnLevel))
}

func TestNewLoggerInvalidLevel(t *testing.T) {
	_, err := NewLogger("dev", WithLevel("loud"))
	assert.Error(t, err)
}

func TestProdOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	sugar, err := NewSugar("prod", WithOutputPaths(path))
	require.NoError(t, err)
	sugar.Infow("Consumer group ready", "stream", "events", "group", "workers")
	require.NoError(t, sugar.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))
	assert.True(t, strings.HasPrefix(line, "{"))
	assert.Contains(t, line, `"timestamp"`)
	assert.Contains(t, line, `"stream":"events"`)
}
