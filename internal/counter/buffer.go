// Package counter 實現互動計數的緩衝與批量刷新
//
// 系統設計問題：
//
//	熱門商品每秒數百次瀏覽，如何避免每次都 UPDATE 同一列？
//
// 核心挑戰：
//  1. 高頻寫入：瀏覽數寫入遠多於其他操作，同一列會被鎖住排隊
//  2. 準確性：計數允許近似，但不可重複累加
//  3. 可用性：持久化失敗不能影響使用者請求
//
// 設計方案：
//
//	✅ 記憶體緩衝：Increment 只改 map，永不失敗
//	✅ 定時刷新：每 5 分鐘把累積的 delta 一次寫入（N 次邏輯寫入 → 1 次物理寫入）
//	✅ 門檻過濾：|delta| < 5 的項目留到下一輪，避免大量小寫入
//	✅ 失敗保留：寫入失敗的 delta 放回緩衝區，下一輪重試（不會重複累加）
//	✅ Redis 後端：多實例部署時共用同一個緩衝區（可選）
package counter

import (
	"context"
	"sync"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
)

// Delta 一筆待寫入的增量
type Delta struct {
	ListingID string       `json:"listing_id"`
	Kind      listing.Kind `json:"kind"`
	Amount    int64        `json:"amount"`
}

// Store 計數緩衝區介面
//
// 記憶體實作永遠不會返回錯誤；Redis 實作可能因網路錯誤失敗。
type Store interface {
	// Increment 累加 delta（可為負數，例如取消收藏）
	Increment(ctx context.Context, listingID string, kind listing.Kind, delta int64) error

	// Peek 返回尚未刷新的增量
	Peek(ctx context.Context, listingID string, kind listing.Kind) (int64, error)

	// Drain 取出並移除 |delta| >= minThreshold 的項目，其餘保留
	Drain(ctx context.Context, kind listing.Kind, minThreshold int64) ([]Delta, error)

	// Restore 把寫入失敗的增量放回緩衝區
	Restore(ctx context.Context, d Delta) error
}

// pending 單一計數器種類的緩衝
//
// order 記錄首次寫入順序，刷新時依插入順序處理。
type pending struct {
	counts map[string]int64
	order  []string
}

// Buffer 行程內計數緩衝區
//
// 由 server 啟動時建立一次，以指標傳給 HTTP handler 與 Flusher；
// 不使用套件層級的全域變數，測試可以各自建立獨立實例。
type Buffer struct {
	mu    sync.Mutex
	kinds map[listing.Kind]*pending
}

// NewBuffer 創建計數緩衝區
func NewBuffer() *Buffer {
	return &Buffer{
		kinds: make(map[listing.Kind]*pending),
	}
}

// Increment 累加 delta，不做範圍檢查，永不失敗
func (b *Buffer) Increment(_ context.Context, listingID string, kind listing.Kind, delta int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.kinds[kind]
	if p == nil {
		p = &pending{counts: make(map[string]int64)}
		b.kinds[kind] = p
	}

	current, exists := p.counts[listingID]
	if !exists {
		p.order = append(p.order, listingID)
	}

	// 淨值為 0 時保留項目，避免 order 頻繁重建；Drain 時再清理
	p.counts[listingID] = current + delta
	return nil
}

// Peek 返回尚未刷新的增量
func (b *Buffer) Peek(_ context.Context, listingID string, kind listing.Kind) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if p := b.kinds[kind]; p != nil {
		return p.counts[listingID], nil
	}
	return 0, nil
}

// Drain 取出 |delta| >= minThreshold 的項目（依插入順序）
//
// 淨值為 0 的項目直接丟棄；未達門檻的項目保持原順序留在緩衝區。
func (b *Buffer) Drain(_ context.Context, kind listing.Kind, minThreshold int64) ([]Delta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.kinds[kind]
	if p == nil || len(p.order) == 0 {
		return nil, nil
	}

	var drained []Delta
	kept := p.order[:0]
	for _, id := range p.order {
		amount := p.counts[id]
		switch {
		case amount == 0:
			delete(p.counts, id)
		case abs(amount) >= minThreshold:
			drained = append(drained, Delta{ListingID: id, Kind: kind, Amount: amount})
			delete(p.counts, id)
		default:
			kept = append(kept, id)
		}
	}
	p.order = kept

	return drained, nil
}

// Restore 把增量加回緩衝區
//
// 與 Increment 相同：加法可交換，期間新進的增量不會遺失。
func (b *Buffer) Restore(ctx context.Context, d Delta) error {
	return b.Increment(ctx, d.ListingID, d.Kind, d.Amount)
}

// Len 返回緩衝中的項目數（所有種類）
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for _, p := range b.kinds {
		n += len(p.counts)
	}
	return n
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
