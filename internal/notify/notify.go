// Package notify 把等級晉升通知交給外部投遞服務
//
// 本服務只產生通知內容；推播、簡訊、站內信由訂閱者負責。
// 通知失敗不會回滾晉升，調用方記錄錯誤後繼續。
package notify

import (
	"context"
	"log/slog"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	"github.com/google/uuid"
)

// Notifier 晉升通知介面
type Notifier interface {
	Notify(ctx context.Context, p ranking.Promotion) error
}

// MessageID 晉升通知的確定性 ID
//
// 同一商品晉升到同一等級只會發生一次（等級只升不降），
// 重送時 ID 相同，JetStream 依此去重。
func MessageID(p ranking.Promotion) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.ListingID+":"+string(p.To))).String()
}

// LogNotifier 只寫日誌的通知器（本地開發、未配置 NATS 時使用）
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier 創建日誌通知器
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notifier")}
}

// Notify 記錄通知內容
func (n *LogNotifier) Notify(ctx context.Context, p ranking.Promotion) error {
	n.logger.InfoContext(ctx, "listing promoted",
		"message_id", MessageID(p),
		"listing_id", p.ListingID,
		"owner_id", p.OwnerID,
		"from", p.From,
		"to", p.To,
		"score", p.Score,
		"message", p.Message)
	return nil
}
