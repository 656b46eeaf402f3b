// Package listing 定義市集商品（listing）的領域模型
//
// 一個 listing 是賣家刊登的商品，帶有地理範圍（aimag 省 / sum 蘇木）、
// 互動計數器與可見等級（tier）。計數器只能透過計數緩衝區批量累加，
// 等級只能由等級分類器單向提升（settlement → province → national）。
package listing

import (
	"fmt"
	"time"
)

// Tier 可見等級
type Tier string

const (
	// TierSettlement 只在同一蘇木可見（初始等級）
	TierSettlement Tier = "settlement"

	// TierProvince 在同一省內可見
	TierProvince Tier = "province"

	// TierNational 全國可見（最高等級）
	TierNational Tier = "national"
)

// Valid 檢查等級是否為已知值
func (t Tier) Valid() bool {
	switch t {
	case TierSettlement, TierProvince, TierNational:
		return true
	}
	return false
}

// Rank 返回等級的序數，未知等級視為 settlement
func (t Tier) Rank() int {
	switch t {
	case TierProvince:
		return 1
	case TierNational:
		return 2
	default:
		return 0
	}
}

// Next 返回下一個等級；national 沒有下一級
func (t Tier) Next() (Tier, bool) {
	switch t {
	case TierNational:
		return TierNational, false
	case TierProvince:
		return TierNational, true
	default:
		return TierProvince, true
	}
}

// ParseTier 解析等級字串
func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier %q", s)
	}
	return t, nil
}

// Location 地理範圍
type Location struct {
	Province   string `json:"province"`
	Settlement string `json:"settlement,omitempty"`
}

// Kind 互動計數器種類
type Kind string

const (
	KindViews      Kind = "views"
	KindSaves      Kind = "saves"
	KindCallClicks Kind = "call_clicks"
	KindChatClicks Kind = "chat_clicks"
	KindShares     Kind = "shares"
)

// Kinds 返回所有計數器種類（固定順序）
func Kinds() []Kind {
	return []Kind{KindViews, KindSaves, KindCallClicks, KindChatClicks, KindShares}
}

// Valid 檢查計數器種類
func (k Kind) Valid() bool {
	switch k {
	case KindViews, KindSaves, KindCallClicks, KindChatClicks, KindShares:
		return true
	}
	return false
}

// Column 返回對應的資料庫欄位名稱
//
// 欄位名稱來自白名單，可安全拼接進 SQL。
func (k Kind) Column() (string, bool) {
	if !k.Valid() {
		return "", false
	}
	return string(k), true
}

// ParseKind 解析計數器種類
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown counter kind %q", s)
	}
	return k, nil
}

// Counters 已持久化的互動計數
type Counters struct {
	Views      int64 `json:"views"`
	Saves      int64 `json:"saves"`
	CallClicks int64 `json:"call_clicks"`
	ChatClicks int64 `json:"chat_clicks"`
	Shares     int64 `json:"shares"`
}

// Get 讀取指定種類的計數
func (c Counters) Get(kind Kind) int64 {
	switch kind {
	case KindViews:
		return c.Views
	case KindSaves:
		return c.Saves
	case KindCallClicks:
		return c.CallClicks
	case KindChatClicks:
		return c.ChatClicks
	case KindShares:
		return c.Shares
	}
	return 0
}

// Add 返回累加 delta 後的計數，結果不會小於 0
func (c Counters) Add(kind Kind, delta int64) Counters {
	apply := func(v int64) int64 {
		v += delta
		if v < 0 {
			return 0
		}
		return v
	}

	switch kind {
	case KindViews:
		c.Views = apply(c.Views)
	case KindSaves:
		c.Saves = apply(c.Saves)
	case KindCallClicks:
		c.CallClicks = apply(c.CallClicks)
	case KindChatClicks:
		c.ChatClicks = apply(c.ChatClicks)
	case KindShares:
		c.Shares = apply(c.Shares)
	}
	return c
}

// Leads 電話點擊與聊天點擊的總和（購買意圖最強的訊號）
func (c Counters) Leads() int64 {
	return c.CallClicks + c.ChatClicks
}

// Listing 商品
type Listing struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Title     string    `json:"title"`
	Location  Location  `json:"location"`
	Counters  Counters  `json:"counters"`
	Tier      Tier      `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
}

// IsPromoted 是否已被提升到 settlement 以上的等級
func (l *Listing) IsPromoted() bool {
	return l.Tier.Rank() > TierSettlement.Rank()
}
