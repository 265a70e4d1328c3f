// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("with config", func(t *testing.T) {
		config := &Config{
			Level:  slog.LevelDebug,
			Format: FormatJSON,
			Output: os.Stdout,
		}

		logger := NewLogger(config)
		require.NotNil(t, logger)

		slogLogger, ok := logger.(*slogLogger)
		assert.True(t, ok)
		assert.NotNil(t, slogLogger.logger)
	})

	t.Run("with nil config", func(t *testing.T) {
		logger := NewLogger(nil)
		require.NotNil(t, logger)

		slogLogger, ok := logger.(*slogLogger)
		assert.True(t, ok)
		assert.NotNil(t, slogLogger.logger)
	})
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	require.NotNil(t, config)
	assert.Equal(t, slog.LevelInfo, config.Level)
	assert.Equal(t, FormatText, config.Format)
	assert.Equal(t, os.Stdout, config.Output)
}

func TestLevelFromString(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LevelFromString("debug"))
	assert.Equal(t, slog.LevelWarn, LevelFromString("warn"))
	assert.Equal(t, slog.LevelError, LevelFromString("error"))
	assert.Equal(t, slog.LevelInfo, LevelFromString("info"))
	assert.Equal(t, slog.LevelInfo, LevelFromString("garbage"))
}

func TestFormatFromString(t *testing.T) {
	assert.Equal(t, FormatJSON, FormatFromString("json"))
	assert.Equal(t, FormatText, FormatFromString("text"))
	assert.Equal(t, FormatText, FormatFromString(""))
}

func TestSlogLogger_LogMethods(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatJSON, Output: os.Stdout})

	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")
}

func TestSlogLogger_With(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatText, Output: os.Stdout})

	newLogger := logger.With("component", "test", "pid", 123)

	assert.NotEqual(t, logger, newLogger)
	assert.IsType(t, &slogLogger{}, newLogger)
}

func TestSlogLogger_WithContext(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatText, Output: os.Stdout})

	t.Run("context with values", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithRequestID(ctx, "req-456")
		ctx = WithUser(ctx, "anze")

		contextLogger := logger.WithContext(ctx)

		assert.NotEqual(t, logger, contextLogger)
		assert.IsType(t, &slogLogger{}, contextLogger)
	})

	t.Run("context without values", func(t *testing.T) {
		ctx := context.Background()

		contextLogger := logger.WithContext(ctx)

		assert.Equal(t, logger, contextLogger)
	})

	t.Run("context with only request id", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithRequestID(ctx, "req-789")

		contextLogger := logger.WithContext(ctx)

		assert.NotEqual(t, logger, contextLogger)
		assert.IsType(t, &slogLogger{}, contextLogger)
	})
}

func TestLogOperation(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatText, Output: os.Stdout})

	operationLogger := LogOperation(logger, "submit", "extra", "field")

	assert.NotEqual(t, logger, operationLogger)
	assert.IsType(t, &slogLogger{}, operationLogger)
}

func TestLogDuration(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatText, Output: os.Stdout})

	start := time.Now().Add(-100 * time.Millisecond)

	LogDuration(logger, start, "refresh")
}

func TestLogError(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatText, Output: os.Stdout})

	t.Run("with error", func(t *testing.T) {
		err := errors.New("test error")
		LogError(logger, err, "refresh", "extra", "field")
	})

	t.Run("with nil error", func(t *testing.T) {
		LogError(logger, nil, "refresh", "extra", "field")
	})
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"generic error", errors.New("test error"), "*errors.errorString"},
		{"path error", &os.PathError{Op: "open", Path: "/test", Err: errors.New("not found")}, "PathError"},
		{"link error", &os.LinkError{Op: "link", Old: "/old", New: "/new", Err: errors.New("failed")}, "LinkError"},
		{"syscall error", &os.SyscallError{Syscall: "test", Err: errors.New("failed")}, "SyscallError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := getErrorType(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestNoOpLogger(t *testing.T) {
	logger := NoOpLogger{}

	logger.Debug("test")
	logger.Info("test")
	logger.Warn("test")
	logger.Error("test")

	withLogger := logger.With("key", "value")
	assert.Equal(t, NoOpLogger{}, withLogger)

	ctx := context.Background()
	contextLogger := logger.WithContext(ctx)
	assert.Equal(t, NoOpLogger{}, contextLogger)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, Format("text"), FormatText)
	assert.Equal(t, Format("json"), FormatJSON)
}

func TestLoggerInterface(t *testing.T) {
	var _ Logger = (*slogLogger)(nil)
	var _ Logger = NoOpLogger{}
}

func TestLoggerOutput(t *testing.T) {
	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer

		handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logger := &slogLogger{logger: slog.New(handler).With("service", "wqd")}

		logger.Info("test message", "key", "value")

		output := buf.String()
		assert.Contains(t, output, "test message")
		assert.Contains(t, output, "key=value")
		assert.Contains(t, output, "service=wqd")
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer

		handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logger := &slogLogger{logger: slog.New(handler).With("service", "wqd")}

		logger.Info("test message", "key", "value")

		output := buf.String()
		assert.True(t, json.Valid([]byte(output)), "output should be valid JSON")
		assert.Contains(t, output, "test message")
		assert.Contains(t, output, "\"key\":\"value\"")
		assert.Contains(t, output, "\"service\":\"wqd\"")
	})
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name        string
		level       slog.Level
		shouldLog   []string
		shouldntLog []string
	}{
		{"debug level", slog.LevelDebug, []string{"debug", "info", "warn", "error"}, []string{}},
		{"info level", slog.LevelInfo, []string{"info", "warn", "error"}, []string{"debug"}},
		{"warn level", slog.LevelWarn, []string{"warn", "error"}, []string{"debug", "info"}},
		{"error level", slog.LevelError, []string{"error"}, []string{"debug", "info", "warn"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: tt.level})
			logger := &slogLogger{logger: slog.New(handler)}

			logger.Debug("debug message")
			logger.Info("info message")
			logger.Warn("warn message")
			logger.Error("error message")

			output := buf.String()

			for _, should := range tt.shouldLog {
				assert.Contains(t, output, should+" message", "should log %s at level %v", should, tt.level)
			}
			for _, shouldnt := range tt.shouldntLog {
				assert.NotContains(t, output, shouldnt+" message", "should not log %s at level %v", shouldnt, tt.level)
			}
		})
	}
}
