package testutils

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
)

// RecordingNotifier 記錄收到的晉升通知
type RecordingNotifier struct {
	mu         sync.Mutex
	promotions []ranking.Promotion

	// 記錄呼叫次數
	Calls atomic.Int32

	// 錯誤注入：非 nil 時每次通知都返回此錯誤（仍會記錄）
	FailError error
}

// NewRecordingNotifier 創建 RecordingNotifier
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// Notify 記錄通知
func (n *RecordingNotifier) Notify(_ context.Context, p ranking.Promotion) error {
	n.Calls.Add(1)

	n.mu.Lock()
	defer n.mu.Unlock()

	n.promotions = append(n.promotions, p)
	return n.FailError
}

// Promotions 返回已記錄的通知
func (n *RecordingNotifier) Promotions() []ranking.Promotion {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.promotions)
}
