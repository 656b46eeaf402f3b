package listing_test

import (
	"testing"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTier_Next(t *testing.T) {
	next, ok := listing.TierSettlement.Next()
	assert.True(t, ok)
	assert.Equal(t, listing.TierProvince, next)

	next, ok = listing.TierProvince.Next()
	assert.True(t, ok)
	assert.Equal(t, listing.TierNational, next)

	next, ok = listing.TierNational.Next()
	assert.False(t, ok)
	assert.Equal(t, listing.TierNational, next)

	// 空值視為初始等級
	next, ok = listing.Tier("").Next()
	assert.True(t, ok)
	assert.Equal(t, listing.TierProvince, next)
}

func TestParseTierAndKind(t *testing.T) {
	tier, err := listing.ParseTier("national")
	require.NoError(t, err)
	assert.Equal(t, listing.TierNational, tier)

	_, err = listing.ParseTier("global")
	assert.Error(t, err)

	kind, err := listing.ParseKind("chat_clicks")
	require.NoError(t, err)
	assert.Equal(t, listing.KindChatClicks, kind)

	_, err = listing.ParseKind("likes; DROP TABLE listings")
	assert.Error(t, err)

	_, ok := listing.Kind("price").Column()
	assert.False(t, ok)
}

func TestCounters_AddNeverNegative(t *testing.T) {
	c := listing.Counters{Saves: 2}

	c = c.Add(listing.KindSaves, -5)
	assert.Equal(t, int64(0), c.Saves)

	c = c.Add(listing.KindCallClicks, 3).Add(listing.KindChatClicks, 4)
	assert.Equal(t, int64(7), c.Leads())
	assert.Equal(t, int64(3), c.Get(listing.KindCallClicks))
}

func TestListing_IsPromoted(t *testing.T) {
	l := listing.Listing{Tier: listing.TierSettlement}
	assert.False(t, l.IsPromoted())

	l.Tier = listing.TierProvince
	assert.True(t, l.IsPromoted())
}
