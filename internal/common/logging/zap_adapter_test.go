package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarnLevel, "WARN"},
		{ErrorLevel, "ERROR"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, ErrorLevel, ParseLevel("Error"))
	assert.Equal(t, InfoLevel, ParseLevel("nonsense"))
}

func TestZapAdapter(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: DebugLevel, Output: &buf, TimeFormat: time.RFC3339})
		require.NoError(t, err)

		logger.Debug("debug message", Field{"key", "value"})
		logger.Info("info message", Field{"count", 42})
		logger.Warn("warn message", Field{"enabled", true})
		logger.Error("error message", errors.New("store down"), Field{"code", "E1"})

		output := buf.String()
		for _, s := range []string{"DEBUG", "debug message", "INFO", "42", "WARN", "ERROR", "store down"} {
			assert.Contains(t, output, s)
		}
	})

	t.Run("level filtering", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: WarnLevel, Output: &buf})
		require.NoError(t, err)

		logger.Info("hidden")
		logger.Warn("shown")

		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf, Format: FormatJSON})
		require.NoError(t, err)

		logger.WithFields(Field{"service", "federation-gateway"}).Info("started")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
		assert.Equal(t, "started", entry["msg"])
		assert.Equal(t, "federation-gateway", entry["service"])
	})

	t.Run("context fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
		require.NoError(t, err)

		ctx := ContextWithCorrelationID(context.Background(), "corr-123")
		ctx = ContextWithKeyID(ctx, "partner-a")
		logger.WithContext(ctx).Info("gated")

		output := buf.String()
		assert.Contains(t, output, "corr-123")
		assert.Contains(t, output, "partner-a")
	})

	t.Run("empty context adds nothing", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
		require.NoError(t, err)

		logger.WithContext(context.Background()).Info("plain")
		assert.False(t, strings.Contains(buf.String(), "correlation_id"))
	})
}

func TestCorrelationIDFromContext(t *testing.T) {
	assert.Equal(t, "", CorrelationIDFromContext(context.Background()))
	ctx := ContextWithCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", CorrelationIDFromContext(ctx))
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{Level: InfoLevel, Output: &buf})
	require.NoError(t, err)
	SetGlobalLogger(logger)

	Info("via global", String("k", "v"))
	assert.Contains(t, buf.String(), "via global")
}
