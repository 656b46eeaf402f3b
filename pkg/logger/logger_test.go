package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/eerdenee/nutgiin-delguur-sub001/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestParseLevel 測試日誌級別解析
func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, logger.ParseLevel(tt.input))
		})
	}
}

// TestHandler_ContextFields 測試上下文欄位會寫入 JSON 日誌
func TestHandler_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(logger.NewHandler(&buf, logger.Options{Level: "debug", Format: "json"}))

	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx = logger.WithListingID(ctx, "lst-42")

	log.With("component", "flusher").InfoContext(ctx, "flushed", "count", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))

	assert.Equal(t, "flushed", record["msg"])
	assert.Equal(t, "req-1", record["request_id"])
	assert.Equal(t, "lst-42", record["listing_id"])
	assert.Equal(t, "flusher", record["component"])
	assert.Equal(t, "req-1", logger.RequestID(ctx))
}

// TestHandler_LevelFilter 測試級別過濾
func TestHandler_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(logger.NewHandler(&buf, logger.Options{Level: "warn"}))

	log.Info("hidden")
	assert.Zero(t, buf.Len())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
