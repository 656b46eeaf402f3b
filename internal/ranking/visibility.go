package ranking

import "github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"

// IsVisible 判斷商品是否對瀏覽者可見
//
//   - national：永遠可見
//   - province：同省可見
//   - settlement（及未知等級）：同省且同蘇木才可見
//
// 瀏覽者缺少省或蘇木資訊時視為不匹配，不會 panic。
func IsVisible(listingLoc, viewerLoc listing.Location, tier listing.Tier) bool {
	switch tier {
	case listing.TierNational:
		return true
	case listing.TierProvince:
		return viewerLoc.Province != "" && listingLoc.Province == viewerLoc.Province
	default:
		return viewerLoc.Province != "" && viewerLoc.Settlement != "" &&
			listingLoc.Province == viewerLoc.Province &&
			listingLoc.Settlement == viewerLoc.Settlement
	}
}

// FilterVisible 過濾出對瀏覽者可見的商品（保持原順序）
func FilterVisible(listings []listing.Listing, viewer listing.Location) []listing.Listing {
	visible := make([]listing.Listing, 0, len(listings))
	for _, l := range listings {
		if IsVisible(l.Location, viewer, l.Tier) {
			visible = append(visible, l)
		}
	}
	return visible
}
