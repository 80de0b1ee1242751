package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestNewBuildsBothModes(t *testing.T) {
	for _, cfg := range []Config{DefaultConfig(), DevelopmentConfig()} {
		logger, err := New(cfg)
		require.NoError(t, err)
		assert.NotNil(t, logger.Logger)
	}
}

func TestOnceWarnsSingleTimePerKey(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	once := NewOnce(Wrap(zap.New(core)))

	assert.True(t, once.Warn("gc", "No garbage-collection function available."))
	assert.False(t, once.Warn("gc", "No garbage-collection function available."))
	assert.True(t, once.Warn("cc", "No cycle-collection function available."))

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "gc", logs.All()[0].ContextMap()["capability"])
}

func TestWrapNil(t *testing.T) {
	assert.NotNil(t, Wrap(nil).Logger)
}
