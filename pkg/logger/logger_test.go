package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestNewLogger_Environments проверяет создание логгера для разных окружений
func TestNewLogger_Environments(t *testing.T) {
	for _, env := range []string{"dev", "staging", "prod"} {
		t.Run(env, func(t *testing.T) {
			log, err := NewLogger(env, "debug", "auth-service")
			require.NoError(t, err)
			require.NotNil(t, log)

			log.Info("Test message")
			log.With(String("test", "value")).Debug("Test message with field")
		})
	}
}

// TestNewLogger_UnknownLevel проверяет откат на info при неизвестном уровне
func TestNewLogger_UnknownLevel(t *testing.T) {
	log, err := NewLogger("prod", "verbose", "auth-service")
	require.NoError(t, err)

	impl, ok := log.(*LoggerImpl)
	require.True(t, ok)
	assert.False(t, impl.zapLogger.Core().Enabled(zap.DebugLevel))
	assert.True(t, impl.zapLogger.Core().Enabled(zap.InfoLevel))
}

// TestLogger_Fields проверяет, что поля доходят до zap
func TestLogger_Fields(t *testing.T) {
	core, recorded := observer.New(zap.DebugLevel)
	log := NewFromZap(zap.New(core))

	log.With(String("component", "ledger")).Warn("token reused",
		Int("attempt", 2),
		Int64("rows", 0),
		Bool("rotated", false),
		Duration("took", 3*time.Millisecond),
		Strings("roles", []string{"admin"}),
		Error(errors.New("boom")),
	)

	entries := recorded.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ledger", fields["component"])
	assert.Equal(t, int64(2), fields["attempt"])
	assert.Equal(t, false, fields["rotated"])
	assert.Equal(t, "boom", fields["error"])
}

// TestCtxField проверяет извлечение trace_id из контекста
func TestCtxField(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-123")
	assert.Equal(t, "trace-123", TraceID(ctx))
	assert.Equal(t, "trace-123", CtxField(ctx).String)

	assert.Equal(t, "unknown", CtxField(context.Background()).String)
	assert.Equal(t, "nil", Error(nil).String)
}

// TestNewNop проверяет, что nop логгер безопасен
func TestNewNop(t *testing.T) {
	log := NewNop()
	log.Error("ignored")
	assert.NoError(t, log.With(String("a", "b")).Sync())
}
