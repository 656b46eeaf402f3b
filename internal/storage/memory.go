// Package storage 提供商品與計數器的持久化實作
//
// 兩種實作：
//   - Postgres：正式環境（pgx 連線池）
//   - Memory：本地開發與測試（可注入寫入失敗）
//
// 兩者都滿足 counter.Persister、tier.Store 與 HTTP handler 需要的讀取介面。
package storage

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	apperrors "github.com/eerdenee/nutgiin-delguur-sub001/pkg/errors"
)

// ErrInjected 測試注入的暫時性寫入失敗
var ErrInjected = errors.New("injected persistence failure")

// Memory 記憶體存儲
type Memory struct {
	mu         sync.RWMutex
	listings   map[string]*listing.Listing
	promotions []ranking.Promotion

	// 錯誤注入
	failures map[string]int // listingID → 剩餘失敗次數
	failAll  error

	// 記錄呼叫次數
	PersistCalls atomic.Int32
}

// NewMemory 創建記憶體存儲
func NewMemory() *Memory {
	return &Memory{
		listings: make(map[string]*listing.Listing),
		failures: make(map[string]int),
	}
}

// Create 新增商品
func (m *Memory) Create(_ context.Context, l *listing.Listing) error {
	if err := validateNew(l); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.listings[l.ID]; exists {
		return apperrors.ErrListingExists.WithDetails(l.ID)
	}

	cp := *l
	if cp.Tier == "" {
		cp.Tier = listing.TierSettlement
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.listings[cp.ID] = &cp
	return nil
}

// PersistIncrement 累加計數（結果不小於 0）
func (m *Memory) PersistIncrement(_ context.Context, listingID string, kind listing.Kind, amount int64) error {
	m.PersistCalls.Add(1)

	if !kind.Valid() {
		return apperrors.ErrInvalidCounterKind.WithDetails(string(kind))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAll != nil {
		return m.failAll
	}
	if n := m.failures[listingID]; n > 0 {
		m.failures[listingID] = n - 1
		return ErrInjected
	}

	l, ok := m.listings[listingID]
	if !ok {
		return apperrors.ErrListingNotFound.WithDetails(listingID)
	}

	l.Counters = l.Counters.Add(kind, amount)
	return nil
}

// ReadCounters 讀取單一商品（含計數器與建立時間）
func (m *Memory) ReadCounters(_ context.Context, listingID string) (*listing.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.listings[listingID]
	if !ok {
		return nil, apperrors.ErrListingNotFound.WithDetails(listingID)
	}

	cp := *l
	return &cp, nil
}

// ReadCohort 讀取範圍內的商品；settlement 為空時讀取整個省
//
// 排序與 Postgres 相同：created_at, id。
func (m *Memory) ReadCohort(_ context.Context, province, settlement string) ([]listing.Listing, error) {
	return m.collect(func(l *listing.Listing) bool {
		return l.Location.Province == province &&
			(settlement == "" || l.Location.Settlement == settlement)
	}), nil
}

// Exists 檢查商品是否存在
func (m *Memory) Exists(_ context.Context, listingID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.listings[listingID]
	return ok, nil
}

// ReadFeed 讀取瀏覽者可能看得到的候選商品：全國級或同省
//
// 排序與 Postgres 相同：created_at DESC, id；limit <= 0 表示不限制。
func (m *Memory) ReadFeed(_ context.Context, province string, limit int) ([]listing.Listing, error) {
	result := m.collect(func(l *listing.Listing) bool {
		return l.Tier == listing.TierNational || l.Location.Province == province
	})

	slices.SortStableFunc(result, func(a, b listing.Listing) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListProvinces 返回所有有商品的省（排序）
func (m *Memory) ListProvinces(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, l := range m.listings {
		seen[l.Location.Province] = struct{}{}
	}

	provinces := make([]string, 0, len(seen))
	for p := range seen {
		provinces = append(provinces, p)
	}
	sort.Strings(provinces)
	return provinces, nil
}

// Promote 寫入等級晉升（僅當目前等級等於 p.From）
func (m *Memory) Promote(_ context.Context, p ranking.Promotion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.listings[p.ListingID]
	if !ok {
		return apperrors.ErrListingNotFound.WithDetails(p.ListingID)
	}
	if l.Tier != p.From {
		return apperrors.ErrTierConflict.WithDetails(p.ListingID)
	}

	l.Tier = p.To
	m.promotions = append(m.promotions, p)
	return nil
}

// Promotions 返回晉升記錄
func (m *Memory) Promotions() []ranking.Promotion {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.promotions)
}

// FailPersist 讓指定商品接下來 times 次寫入失敗
func (m *Memory) FailPersist(listingID string, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[listingID] = times
}

// FailAll 讓所有寫入返回 err；傳入 nil 恢復正常
func (m *Memory) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// Ping 永遠成功
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) collect(match func(*listing.Listing) bool) []listing.Listing {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]listing.Listing, 0)
	for _, l := range m.listings {
		if match(l) {
			result = append(result, *l)
		}
	}

	slices.SortFunc(result, func(a, b listing.Listing) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result
}

func validateNew(l *listing.Listing) error {
	if strings.TrimSpace(l.ID) == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "listing id required")
	}
	if strings.TrimSpace(l.Location.Province) == "" {
		return apperrors.ErrInvalidLocation.WithDetails("province required")
	}
	if l.Tier != "" && !l.Tier.Valid() {
		return apperrors.ErrInvalidTier.WithDetails(string(l.Tier))
	}
	return nil
}
