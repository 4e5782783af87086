package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerForwardsFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := FromZap(zap.New(core))

	log.Info("resolved", map[string]interface{}{"signature": "open_calc", "candidates": 2})
	log.Error("store failed", errors.New("disk full"), map[string]interface{}{"collection": "patterns"})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "resolved", entries[0].Message)
	assert.Equal(t, "open_calc", entries[0].ContextMap()["signature"])
	assert.EqualValues(t, 2, entries[0].ContextMap()["candidates"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "disk full", entries[1].ContextMap()["error"])
}

func TestNopLoggerIsSilent(t *testing.T) {
	log := NewNop()
	log.Debug("ignored", nil)
	log.Warn("ignored", map[string]interface{}{"k": "v"})
	assert.NoError(t, log.Sync())
}
