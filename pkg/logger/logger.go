// Package logger 提供結構化日誌功能
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// contextKey 用於上下文的鍵類型
type contextKey string

const (
	// RequestIDKey 請求 ID 的上下文鍵
	RequestIDKey contextKey = "request_id"
	// ListingIDKey 商品 ID 的上下文鍵
	ListingIDKey contextKey = "listing_id"
)

// Options 日誌配置
type Options struct {
	Level     string
	Format    string // text 或 json
	Output    string // stdout、stderr 或檔案路徑
	AddSource bool
	TimeZone  string // 例如 Asia/Ulaanbaatar，空值使用 UTC
}

// New 建立日誌記錄器並設為預設
//
// 返回的 closer 用於關閉檔案輸出；輸出到 stdout/stderr 時為 no-op。
func New(opts Options) (*slog.Logger, io.Closer, error) {
	output, closer, err := openOutput(opts.Output)
	if err != nil {
		return nil, nil, err
	}

	handler := NewHandler(output, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	return logger, closer, nil
}

// NewHandler 建立帶上下文欄位的 slog.Handler
func NewHandler(w io.Writer, opts Options) slog.Handler {
	var loc *time.Location
	if opts.TimeZone != "" {
		loc, _ = time.LoadLocation(opts.TimeZone)
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && loc != nil {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.In(loc).Format("2006-01-02 15:04:05.000"))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return &contextHandler{Handler: handler}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openOutput(path string) (io.Writer, io.Closer, error) {
	switch path {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	default:
		// #nosec G304 - path 來自配置檔案
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, err
		}
		return file, file, nil
	}
}

// ParseLevel 解析日誌級別，未知值回退為 info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler 從上下文中提取資訊的處理器
type contextHandler struct {
	slog.Handler
}

// Handle 處理日誌記錄
func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		r.AddAttrs(slog.String("request_id", requestID))
	}

	if listingID, ok := ctx.Value(ListingIDKey).(string); ok && listingID != "" {
		r.AddAttrs(slog.String("listing_id", listingID))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保持包裝，避免 logger.With 後遺失上下文欄位
func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 同上
func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}

// WithRequestID 添加請求 ID 到上下文
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestID 從上下文取得請求 ID
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// WithListingID 添加商品 ID 到上下文
func WithListingID(ctx context.Context, listingID string) context.Context {
	return context.WithValue(ctx, ListingIDKey, listingID)
}

// Discard 返回丟棄所有輸出的記錄器（測試用）
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
