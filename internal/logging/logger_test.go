package logging

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext_Default(t *testing.T) {
	l := FromContext(context.Background())
	require.NotNil(t, l)

	// Must not panic.
	l.Infow("discarded", "key", "value")
}

func TestWith_ScopedFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := NewZapLogger(core)

	ctx := With(context.Background(), base.Named("broker").With("request_id", "req-1"))
	Infow(ctx, "profile fetched", "status", 200)
	Warnw(ctx, "refresh failed", "code", "invalid_grant")

	entries := logs.All()
	require.Len(t, entries, 2)

	assert.Equal(t, "broker", entries[0].LoggerName)
	assert.Equal(t, "profile fetched", entries[0].Message)
	assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
	assert.EqualValues(t, 200, entries[0].ContextMap()["status"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "invalid_grant", entries[1].ContextMap()["code"])
}

func TestCaller_ReportsCallSite(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := NewZapLogger(core).Named("broker").With("request_id", "req-1")
	ctx := With(context.Background(), base)

	base.Infow("direct")
	Infow(ctx, "through ctx helper")
	FromContext(ctx).Warnw("through FromContext")

	entries := logs.All()
	require.Len(t, entries, 3)
	for _, e := range entries {
		require.True(t, e.Caller.Defined, e.Message)
		assert.Equal(t, "logger_test.go", filepath.Base(e.Caller.File), e.Message)
	}
}
