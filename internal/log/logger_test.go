package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("prod", "")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.DebugLevel))
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))

	logger, err = NewLogger("dev", "")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = NewLogger("prod", "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))

	_, err = NewLogger("dev", "chatty")
	assert.Error(t, err)
}

func TestKVLogFunc(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logf := KVLogFunc(zap.New(core).Sugar())

	logf("kv: primary unavailable, switching to fallback", "error", "dial tcp: refused")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zap.WarnLevel, entry.Level)
	assert.Equal(t, "dial tcp: refused", entry.ContextMap()["error"])
}
