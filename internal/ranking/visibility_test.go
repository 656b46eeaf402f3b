package ranking_test

import (
	"testing"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/ranking"
	"github.com/stretchr/testify/assert"
)

// TestIsVisible 可見性判斷
func TestIsVisible(t *testing.T) {
	ax := listing.Location{Province: "A", Settlement: "X"}

	tests := []struct {
		name     string
		tier     listing.Tier
		viewer   listing.Location
		expected bool
	}{
		{"national visible from other province", listing.TierNational, listing.Location{Province: "B"}, true},
		{"national visible without viewer location", listing.TierNational, listing.Location{}, true},
		{"province same province", listing.TierProvince, listing.Location{Province: "A"}, true},
		{"province other province", listing.TierProvince, listing.Location{Province: "B"}, false},
		{"province missing viewer province", listing.TierProvince, listing.Location{}, false},
		{"settlement same settlement", listing.TierSettlement, listing.Location{Province: "A", Settlement: "X"}, true},
		{"settlement other settlement", listing.TierSettlement, listing.Location{Province: "A", Settlement: "Y"}, false},
		{"settlement same name other province", listing.TierSettlement, listing.Location{Province: "B", Settlement: "X"}, false},
		{"settlement missing viewer settlement", listing.TierSettlement, listing.Location{Province: "A"}, false},
		{"unknown tier falls back to settlement", listing.Tier("gold"), listing.Location{Province: "A", Settlement: "X"}, true},
		{"unknown tier other settlement", listing.Tier("gold"), listing.Location{Province: "A", Settlement: "Z"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ranking.IsVisible(ax, tt.viewer, tt.tier))
		})
	}
}

// TestIsVisible_EmptyListingLocation 商品缺少位置時只有 national 可見
func TestIsVisible_EmptyListingLocation(t *testing.T) {
	viewer := listing.Location{Province: "A", Settlement: "X"}
	empty := listing.Location{}

	assert.True(t, ranking.IsVisible(empty, viewer, listing.TierNational))
	assert.False(t, ranking.IsVisible(empty, viewer, listing.TierProvince))
	assert.False(t, ranking.IsVisible(empty, viewer, listing.TierSettlement))
	assert.False(t, ranking.IsVisible(empty, empty, listing.TierSettlement))
}

func TestFilterVisible(t *testing.T) {
	listings := []listing.Listing{
		{ID: "n", Location: listing.Location{Province: "B", Settlement: "Q"}, Tier: listing.TierNational},
		{ID: "p", Location: listing.Location{Province: "A", Settlement: "Y"}, Tier: listing.TierProvince},
		{ID: "s", Location: listing.Location{Province: "A", Settlement: "X"}, Tier: listing.TierSettlement},
		{ID: "hidden", Location: listing.Location{Province: "A", Settlement: "Y"}, Tier: listing.TierSettlement},
	}

	visible := ranking.FilterVisible(listings, listing.Location{Province: "A", Settlement: "X"})

	var ids []string
	for _, l := range visible {
		ids = append(ids, l.ID)
	}
	assert.Equal(t, []string{"n", "p", "s"}, ids)
}
