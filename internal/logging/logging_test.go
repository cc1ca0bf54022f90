package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("nonsense"))
}

func TestNew_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	l, err := New(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.Named("worker").Debug("hidden")
	l.Named("worker").Info("claimed")
	require.NoError(t, l.Sync())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"claimed"`)
	assert.Contains(t, string(b), `"logger":"worker"`)
	assert.NotContains(t, string(b), "hidden")
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
}
