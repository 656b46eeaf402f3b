package ranking

import (
	"fmt"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
)

// Promotion 一次等級晉升
type Promotion struct {
	ListingID string           `json:"listing_id"`
	OwnerID   string           `json:"owner_id"`
	Title     string           `json:"title"`
	Location  listing.Location `json:"location"`
	From      listing.Tier     `json:"from"`
	To        listing.Tier     `json:"to"`
	Score     int64            `json:"score"`
	Message   string           `json:"message"`
	At        time.Time        `json:"at"`
}

// 通知模板（蒙古文），分別對應兩種晉升
const (
	provinceTemplate     = "Баяр хүргэе! Таны \"%s\" зар %s сумын шилдэг 5-д орж, %s аймаг даяар харагдах боллоо."
	// 沒有蘇木的商品只可能經由省排名晉升
	provinceOnlyTemplate = "Баяр хүргэе! Таны \"%s\" зар %s аймгийн шилдэг 5-д орж, аймаг даяар харагдах боллоо."
	nationalTemplate     = "Гайхалтай! Таны \"%s\" зар %s аймгийн шилдэг 5-д орж, улс даяар харагдах боллоо."
)

// PromotionMessage 產生給賣家的晉升通知文字
//
// 只產生字串；推播 / 簡訊 / 站內信的投遞由外部通知服務負責。
func PromotionMessage(title string, loc listing.Location, to listing.Tier) string {
	switch to {
	case listing.TierProvince:
		if loc.Settlement == "" {
			return fmt.Sprintf(provinceOnlyTemplate, title, loc.Province)
		}
		return fmt.Sprintf(provinceTemplate, title, loc.Settlement, loc.Province)
	case listing.TierNational:
		return fmt.Sprintf(nationalTemplate, title, loc.Province)
	default:
		return ""
	}
}

// NewPromotion 建立晉升記錄
func NewPromotion(l *listing.Listing, to listing.Tier, score int64, at time.Time) Promotion {
	from := l.Tier
	if !from.Valid() {
		from = listing.TierSettlement
	}

	return Promotion{
		ListingID: l.ID,
		OwnerID:   l.OwnerID,
		Title:     l.Title,
		Location:  l.Location,
		From:      from,
		To:        to,
		Score:     score,
		Message:   PromotionMessage(l.Title, l.Location, to),
		At:        at,
	}
}
