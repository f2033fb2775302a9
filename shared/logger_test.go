package shared

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core)).With(zap.String("component", "test"))

	logger.Error("with error", errors.New("boom"))
	logger.Error("without error", nil)
	logger.Trace("chatter", zap.Int("n", 1))
	logger.Info("info")

	entries := logs.All()
	require.Len(t, entries, 4)

	assert.Equal(t, "boom", entries[0].ContextMap()["error"])
	assert.Equal(t, "test", entries[0].ContextMap()["component"])
	assert.NotContains(t, entries[1].ContextMap(), "error")

	assert.Equal(t, zapcore.DebugLevel, entries[2].Level)
	assert.Equal(t, true, entries[2].ContextMap()["trace"])
	assert.Equal(t, int64(1), entries[2].ContextMap()["n"])
}

func TestTraceRespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewZapLogger(zap.New(core))
	logger.Trace("dropped")
	logger.Debug("dropped")
	assert.Zero(t, logs.Len())
}

func TestFileLogger(t *testing.T) {
	logger := NewFileLogger(t.TempDir()+"/test.log", 1, 1, 1, false)
	logger.With(zap.String("k", "v")).Info("written")
	NewNopLogger().Error("discarded", errors.New("x"))
}
