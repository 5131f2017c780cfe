package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewParsesLevel(t *testing.T) {
	logger, lvl, err := New("debug")
	require.NoError(t, err)
	defer func() { _ = logger.Sync() }()
	assert.Equal(t, zapcore.DebugLevel, lvl.Level())
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	lvl.SetLevel(zapcore.ErrorLevel)
	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))
}

func TestNewDefaultsToInfo(t *testing.T) {
	logger, lvl, err := New("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, lvl.Level())
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New("loud")
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.False(t, Nop().Core().Enabled(zapcore.ErrorLevel))
}
