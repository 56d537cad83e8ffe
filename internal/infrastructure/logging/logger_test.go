package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestNewWritesToLogPath(t *testing.T) {
	dir := t.TempDir()

	logger, err := New(Config{Level: "info", OutputPaths: []string{}, LogPath: dir})
	require.NoError(t, err)

	logger.Info("hello", zap.String("k", "v"))
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "server.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestPingPongGating(t *testing.T) {
	tests := []struct {
		name     string
		enabled  bool
		expected int
	}{
		{name: "disabled", enabled: false, expected: 0},
		{name: "enabled", enabled: true, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			logger := Wrap(zap.New(core), tt.enabled)

			logger.Component(ComponentLiveness).PingPong("server send ping")

			assert.Equal(t, tt.expected, logs.Len())
		})
	}
}

func TestComponentNaming(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := Wrap(zap.New(core), false)

	logger.Component(ComponentServer).Info("started")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, ComponentServer, logs.All()[0].LoggerName)
}

func TestCriticalMarker(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := Wrap(zap.New(core), false)

	logger.Critical("cluster not answered")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, true, entry.ContextMap()["critical"])
}
