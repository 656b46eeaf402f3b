package ranking

import (
	"slices"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
)

// Ranked 排名結果
type Ranked struct {
	Listing listing.Listing `json:"listing"`
	Score   int64           `json:"score"`
}

// TopSet 範圍內晉級名單（只保存 ID，不持久化）
type TopSet map[string]struct{}

// Has 檢查 ID 是否在名單內
func (s TopSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// IDs 返回名單 ID（無序）
func (s TopSet) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// Classifier 等級分類器
//
// 系統設計考量：
//
//  1. 為什麼要門檻？
//     - 冷門範圍（整個蘇木只有 3 個商品，每個 10 次瀏覽）
//     - 不設門檻時前 5 名都會晉級，晉級失去意義
//     - 門檻不足時返回空集合或不足 N 個，這是預期行為
//
//  2. 同分處理：
//     - 使用穩定排序，同分時保持輸入順序
//     - Postgres 讀取範圍時按 created_at, id 排序，先刊登者優先
type Classifier struct {
	cfg    Config
	scorer *Scorer
}

// NewClassifier 創建分類器
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		cfg:    cfg,
		scorer: NewScorer(cfg),
	}
}

// Scorer 返回分類器使用的評分器
func (c *Classifier) Scorer() *Scorer {
	return c.scorer
}

// Threshold 返回範圍對應的門檻；settlement 為空時為省級
func (c *Classifier) Threshold(settlement string) int64 {
	if settlement == "" {
		return c.cfg.ProvinceThreshold
	}
	return c.cfg.SettlementThreshold
}

// Rank 對範圍內達到門檻的商品依分數由高到低排序（不截斷）
func (c *Classifier) Rank(listings []listing.Listing, province, settlement string, now time.Time) []Ranked {
	threshold := c.Threshold(settlement)

	ranked := make([]Ranked, 0, len(listings))
	for i := range listings {
		l := &listings[i]
		if l.Location.Province != province {
			continue
		}
		if settlement != "" && l.Location.Settlement != settlement {
			continue
		}

		score := c.scorer.ScoreListing(l, now)
		if score < threshold {
			continue
		}
		ranked = append(ranked, Ranked{Listing: *l, Score: score})
	}

	slices.SortStableFunc(ranked, func(a, b Ranked) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	return ranked
}

// Top 返回前 TopN 名（已排序）
func (c *Classifier) Top(listings []listing.Listing, province, settlement string, now time.Time) []Ranked {
	ranked := c.Rank(listings, province, settlement, now)
	if len(ranked) > c.cfg.TopN {
		ranked = ranked[:c.cfg.TopN]
	}
	return ranked
}

// ComputeTopSet 計算範圍內的晉級名單
//
// settlement 為空時以整個省為範圍（使用省級門檻）。
// 範圍為空或無人達到門檻時返回空集合。
func (c *Classifier) ComputeTopSet(listings []listing.Listing, province, settlement string, now time.Time) TopSet {
	top := c.Top(listings, province, settlement, now)

	set := make(TopSet, len(top))
	for _, r := range top {
		set[r.Listing.ID] = struct{}{}
	}
	return set
}

// NextTier 等級晉級狀態機
//
//	settlement ──(蘇木前 N 名)──> province ──(省前 N 名)──> national
//
// 每次只晉升一級；不在名單內時保持原等級（不降級）。
// settlement 商品若直接進入省前 N 名，同樣晉升到 province，
// 下一輪若仍在省前 N 名再晉升到 national。
func NextTier(current listing.Tier, inSettlementTop, inProvinceTop bool) (listing.Tier, bool) {
	switch current {
	case listing.TierNational:
		return listing.TierNational, false
	case listing.TierProvince:
		if inProvinceTop {
			return listing.TierNational, true
		}
		return listing.TierProvince, false
	default:
		if inSettlementTop || inProvinceTop {
			return listing.TierProvince, true
		}
		return listing.TierSettlement, false
	}
}
