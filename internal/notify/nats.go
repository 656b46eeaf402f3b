package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	"github.com/nats-io/nats.go"
)

// NATSConfig JetStream 通知配置
type NATSConfig struct {
	URL           string        `yaml:"url"`
	Stream        string        `yaml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Storage       string        `yaml:"storage"` // file 或 memory
	MaxAge        time.Duration `yaml:"max_age"`
	Duplicates    time.Duration `yaml:"duplicates"`
}

// DefaultNATSConfig 返回預設配置
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Stream:        "LISTING_PROMOTIONS",
		SubjectPrefix: "listing.promoted",
		Storage:       "file",
		MaxAge:        7 * 24 * time.Hour,
		Duplicates:    24 * time.Hour,
	}
}

// Subject 晉升通知的主題，例如 listing.promoted.province
func (c NATSConfig) Subject(p ranking.Promotion) string {
	return c.SubjectPrefix + "." + string(p.To)
}

// NATSNotifier 透過 NATS JetStream 發送晉升通知
//
// 架構：
//
//	Tier Scheduler → JetStream (LISTING_PROMOTIONS) → 推播 / 簡訊 / 站內信服務
//
// 系統設計考量：
//
//  1. 同步發送，等待 PubAck：確認已持久化才算通知成功
//  2. Nats-Msg-Id 使用確定性 ID：排程重跑時 Duplicates 視窗內自動去重
//  3. 訂閱端可能收到重複消息（at-least-once），需自行冪等
type NATSNotifier struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	cfg    NATSConfig
	logger *slog.Logger
}

// NewNATSNotifier 連接 NATS 並確保 Stream 存在
func NewNATSNotifier(cfg NATSConfig, logger *slog.Logger) (*NATSNotifier, error) {
	defaults := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = defaults.URL
	}
	if cfg.Stream == "" {
		cfg.Stream = defaults.Stream
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = defaults.SubjectPrefix
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaults.MaxAge
	}
	if cfg.Duplicates <= 0 {
		cfg.Duplicates = defaults.Duplicates
	}

	log := logger.With("component", "nats_notifier")

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("listing-ranking"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("連接 NATS 失敗: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("創建 JetStream 上下文失敗: %w", err)
	}

	n := &NATSNotifier{conn: conn, js: js, cfg: cfg, logger: log}
	if err := n.ensureStream(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("初始化 Stream 失敗: %w", err)
	}

	return n, nil
}

// ensureStream 建立或更新 Stream（冪等）
func (n *NATSNotifier) ensureStream() error {
	storage := nats.FileStorage
	if n.cfg.Storage == "memory" {
		storage = nats.MemoryStorage
	}

	streamCfg := &nats.StreamConfig{
		Name:       n.cfg.Stream,
		Subjects:   []string{n.cfg.SubjectPrefix + ".>"},
		Storage:    storage,
		MaxAge:     n.cfg.MaxAge,
		Duplicates: n.cfg.Duplicates,
		Replicas:   1,
	}

	_, err := n.js.StreamInfo(n.cfg.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		if _, err := n.js.AddStream(streamCfg); err != nil {
			return fmt.Errorf("創建 Stream 失敗: %w", err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("查詢 Stream 失敗: %w", err)
	}

	if _, err := n.js.UpdateStream(streamCfg); err != nil {
		return fmt.Errorf("更新 Stream 失敗: %w", err)
	}
	return nil
}

// Notify 發送晉升通知（同步，等待 PubAck）
func (n *NATSNotifier) Notify(ctx context.Context, p ranking.Promotion) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("序列化通知失敗: %w", err)
	}

	id := MessageID(p)
	ack, err := n.js.Publish(n.cfg.Subject(p), data, nats.Context(ctx), nats.MsgId(id))
	if err != nil {
		return fmt.Errorf("發送通知失敗: %w", err)
	}

	if ack.Duplicate {
		n.logger.DebugContext(ctx, "duplicate promotion notification ignored",
			"listing_id", p.ListingID, "message_id", id)
	}
	return nil
}

// Ping 檢查連線狀態（就緒檢查用）
func (n *NATSNotifier) Ping(context.Context) error {
	if !n.conn.IsConnected() {
		return fmt.Errorf("nats not connected: %v", n.conn.Status())
	}
	return nil
}

// Close 清空緩衝並關閉連線
func (n *NATSNotifier) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}
