// Package ranking 實現商品的熱度評分、等級分類與可見性判斷
//
// 系統設計問題：
//
//	地方小商家的商品如何從「只有同村看得到」逐步擴散到全省、全國？
//
// 設計方案：
//
//	✅ 熱度分數：互動加權和 × 時間衰減（純函數，now 由調用方注入）
//	✅ 分級排名：同一蘇木 / 同一省內排名，前 N 名且超過門檻才晉級
//	✅ 單向晉級：settlement → province → national，不降級（見 DESIGN.md）
//	✅ 可見性過濾：依等級與瀏覽者所在地決定是否顯示
package ranking

import "fmt"

// Config 評分與分級參數
type Config struct {
	ViewWeight  float64 `yaml:"view_weight"`
	SaveWeight  float64 `yaml:"save_weight"`
	LeadWeight  float64 `yaml:"lead_weight"` // 電話 + 聊天點擊
	ShareWeight float64 `yaml:"share_weight"`

	// DecayDivisorDays 衰減除數：分數除以 1 + ageDays/DecayDivisorDays
	DecayDivisorDays float64 `yaml:"decay_divisor_days"`

	// 晉級門檻：蘇木級流量遠低於省級，因此門檻相差一個數量級
	SettlementThreshold int64 `yaml:"settlement_threshold"`
	ProvinceThreshold   int64 `yaml:"province_threshold"`

	// TopN 每個範圍的晉級名額
	TopN int `yaml:"top_n"`
}

// DefaultConfig 返回預設參數
func DefaultConfig() Config {
	return Config{
		ViewWeight:          1,
		SaveWeight:          3,
		LeadWeight:          10,
		ShareWeight:         5,
		DecayDivisorDays:    90,
		SettlementThreshold: 50,
		ProvinceThreshold:   200,
		TopN:                5,
	}
}

// Validate 檢查參數
func (c Config) Validate() error {
	if c.ViewWeight < 0 || c.SaveWeight < 0 || c.LeadWeight < 0 || c.ShareWeight < 0 {
		return fmt.Errorf("ranking: weights must be non-negative")
	}
	if c.DecayDivisorDays <= 0 {
		return fmt.Errorf("ranking: decay_divisor_days must be positive, got %v", c.DecayDivisorDays)
	}
	if c.TopN < 1 {
		return fmt.Errorf("ranking: top_n must be at least 1, got %d", c.TopN)
	}
	if c.SettlementThreshold < 0 || c.ProvinceThreshold < 0 {
		return fmt.Errorf("ranking: thresholds must be non-negative")
	}
	return nil
}
