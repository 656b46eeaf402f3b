package counter

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	apperrors "github.com/eerdenee/nutgiin-delguur-sub001/pkg/errors"
)

// Persister 持久化存儲的累加介面
//
// 實作必須是純加法（UPDATE ... SET col = col + $n），
// 返回 nil 代表這次增量已確定寫入。
type Persister interface {
	PersistIncrement(ctx context.Context, listingID string, kind listing.Kind, amount int64) error
}

// FlusherConfig 刷新參數
type FlusherConfig struct {
	// Interval 刷新間隔（預設 5 分鐘）
	Interval time.Duration

	// MinThreshold 最小刷新量，|delta| 未達門檻的項目留到下一輪（預設 5）
	MinThreshold int64

	// WriteTimeout 單次寫入的超時；0 表示沿用存儲客戶端自身的預設值
	WriteTimeout time.Duration

	// Kinds 需要刷新的計數器種類（預設全部）
	Kinds []listing.Kind
}

// DefaultFlusherConfig 返回預設刷新參數
func DefaultFlusherConfig() FlusherConfig {
	return FlusherConfig{
		Interval:     5 * time.Minute,
		MinThreshold: 5,
		Kinds:        listing.Kinds(),
	}
}

// FlushResult 一次刷新的統計
type FlushResult struct {
	Flushed  int           `json:"flushed"`  // 成功寫入的項目數
	Failed   int           `json:"failed"`   // 寫入失敗、已放回緩衝區的項目數
	Dropped  int           `json:"dropped"`  // 商品已不存在而丟棄的項目數
	Amount   int64         `json:"amount"`   // 成功寫入的增量總和
	Skipped  bool          `json:"skipped"`  // 上一輪尚未結束，本輪跳過
	Duration time.Duration `json:"duration"` // 耗時
}

// Flusher 定時把緩衝區的增量寫入持久化存儲
//
// 系統設計重點：
//
//  1. 失敗處理（至少一次，但不重複累加）：
//     - Drain 取出 → 寫入 → 成功才算完成
//     - 寫入失敗 → Restore 放回緩衝區，下一輪原樣重試
//     - 因為失敗代表這次增量沒有被套用，重試不會重複累加
//     - 沒有最大重試次數：計數本來就是近似值，持續重試直到成功
//
//  2. 隔離：
//     - 單一商品寫入失敗不影響其他商品（逐項 try / continue）
//
//  3. 重疊保護：
//     - 某一輪耗時超過間隔時，下一輪直接跳過（running 旗標）
//     - 避免兩輪同時 Drain 造成競爭
//
//  4. 商品已刪除：
//     - 持久化返回 NOT_FOUND 時丟棄該增量（永遠不會成功的寫入不重試）
type Flusher struct {
	store     Store
	persister Persister
	cfg       FlusherConfig
	logger    *slog.Logger

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewFlusher 創建刷新器
func NewFlusher(store Store, persister Persister, cfg FlusherConfig, logger *slog.Logger) *Flusher {
	defaults := DefaultFlusherConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.MinThreshold <= 0 {
		cfg.MinThreshold = defaults.MinThreshold
	}
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = defaults.Kinds
	}

	return &Flusher{
		store:     store,
		persister: persister,
		cfg:       cfg,
		logger:    logger.With("component", "flusher"),
		stop:      make(chan struct{}),
	}
}

// Start 啟動後台刷新 goroutine
func (f *Flusher) Start() {
	f.wg.Add(1)
	go f.run()
}

// Stop 停止刷新並執行最後一次刷新
//
// 最後一次刷新忽略門檻，盡量把緩衝區清空；
// 仍然失敗的增量會隨行程結束而遺失（近似計數可接受）。
func (f *Flusher) Stop(ctx context.Context) FlushResult {
	f.stopOnce.Do(func() { close(f.stop) })
	f.wg.Wait()

	result := f.flush(ctx, 1)
	f.logger.Info("final flush completed",
		"flushed", result.Flushed,
		"failed", result.Failed)
	return result
}

func (f *Flusher) run() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// 計時器回呼沒有上游 context；關閉時由 Stop 負責最後一次刷新
			f.FlushOnce(context.Background())
		case <-f.stop:
			return
		}
	}
}

// FlushOnce 立即執行一次刷新（使用配置的門檻）
func (f *Flusher) FlushOnce(ctx context.Context) FlushResult {
	return f.flush(ctx, f.cfg.MinThreshold)
}

func (f *Flusher) flush(ctx context.Context, minThreshold int64) FlushResult {
	if !f.running.CompareAndSwap(false, true) {
		f.logger.Warn("flush already in progress, skipping")
		return FlushResult{Skipped: true}
	}
	defer f.running.Store(false)

	start := time.Now()
	var result FlushResult

	for _, kind := range f.cfg.Kinds {
		deltas, err := f.store.Drain(ctx, kind, minThreshold)
		if err != nil {
			// 部分取出的項目仍要處理，否則會遺失
			f.logger.Error("drain buffer failed", "kind", kind, "error", err)
		}

		for _, d := range deltas {
			f.persistOne(ctx, d, &result)
		}
	}

	result.Duration = time.Since(start)
	if result.Flushed > 0 || result.Failed > 0 || result.Dropped > 0 {
		f.logger.Info("flush completed",
			"flushed", result.Flushed,
			"failed", result.Failed,
			"dropped", result.Dropped,
			"amount", result.Amount,
			"duration", result.Duration)
	}

	return result
}

func (f *Flusher) persistOne(ctx context.Context, d Delta, result *FlushResult) {
	writeCtx := ctx
	if f.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, f.cfg.WriteTimeout)
		defer cancel()
	}

	err := f.persister.PersistIncrement(writeCtx, d.ListingID, d.Kind, d.Amount)
	switch {
	case err == nil:
		result.Flushed++
		result.Amount += d.Amount

	case apperrors.IsNotFound(err):
		result.Dropped++
		f.logger.Warn("dropping delta for missing listing",
			"listing_id", d.ListingID,
			"kind", d.Kind,
			"amount", d.Amount)

	default:
		result.Failed++
		f.logger.Warn("persist increment failed, keeping delta for next flush",
			"listing_id", d.ListingID,
			"kind", d.Kind,
			"amount", d.Amount,
			"error", err)

		// 放回緩衝區：使用獨立 context，避免上游取消導致增量遺失
		if rerr := f.store.Restore(context.WithoutCancel(ctx), d); rerr != nil {
			f.logger.Error("restore delta failed, delta lost",
				"listing_id", d.ListingID,
				"kind", d.Kind,
				"amount", d.Amount,
				"error", rerr)
		}
	}
}
