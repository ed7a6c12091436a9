package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRedactsSecretKeys(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.Info("calling provider", "api_key", "sk-123", "model", "gpt-4o-mini", "token", "abc")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "[REDACTED]", fields["api_key"])
	assert.Equal(t, "[REDACTED]", fields["token"])
	assert.Equal(t, "gpt-4o-mini", fields["model"])
}

func TestInputTokensNotRedacted(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.Debug("completion", "input_tokens", 12)

	assert.Equal(t, int64(12), logs.All()[0].ContextMap()["input_tokens"])
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New("dev", "loud")
	assert.Error(t, err)
}

func TestNewDefaults(t *testing.T) {
	l, err := New("", "")
	require.NoError(t, err)
	l.Debug("hidden at info level")
}
