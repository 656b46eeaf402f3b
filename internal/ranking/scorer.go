package ranking

import (
	"math"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
)

// Scorer 熱度評分器
//
// 評分公式：
//
//	raw   = views×1 + saves×3 + (callClicks+chatClicks)×10 + shares×5
//	score = round(raw / (1 + ageDays/90))
//
// 90 天時分數減半，180 天時約剩 1/3。
type Scorer struct {
	cfg Config
}

// NewScorer 創建評分器
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score 計算熱度分數
//
// createdAt 為零值或晚於 now（時鐘偏差）時視為 0 天。
// 計數器皆為非負，因此結果恆 >= 0。
func (s *Scorer) Score(c listing.Counters, createdAt, now time.Time) int64 {
	raw := float64(c.Views)*s.cfg.ViewWeight +
		float64(c.Saves)*s.cfg.SaveWeight +
		float64(c.Leads())*s.cfg.LeadWeight +
		float64(c.Shares)*s.cfg.ShareWeight

	decay := 1 + float64(AgeDays(createdAt, now))/s.cfg.DecayDivisorDays

	return int64(math.Round(raw / decay))
}

// ScoreListing 計算商品的熱度分數
func (s *Scorer) ScoreListing(l *listing.Listing, now time.Time) int64 {
	return s.Score(l.Counters, l.CreatedAt, now)
}

// AgeDays 返回 createdAt 到 now 的完整天數（向下取整，最小為 0）
func AgeDays(createdAt, now time.Time) int64 {
	if createdAt.IsZero() {
		return 0
	}
	age := now.Sub(createdAt)
	if age <= 0 {
		return 0
	}
	return int64(age / (24 * time.Hour))
}
