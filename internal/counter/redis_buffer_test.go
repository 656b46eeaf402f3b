package counter_test

import (
	"context"
	"testing"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/counter"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/storage"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/testutils"
	"github.com/eerdenee/nutgiin-delguur-sub001/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisBuffer 整合測試：Redis Hash + Lua 取出
func TestRedisBuffer(t *testing.T) {
	client := testutils.SetupRedis(t)
	ctx := context.Background()

	t.Run("IncrementPeekDrain", func(t *testing.T) {
		require.NoError(t, client.FlushDB(ctx).Err())
		b := counter.NewRedisBuffer(client, "")

		require.NoError(t, b.Increment(ctx, "lst-1", listing.KindViews, 4))
		require.NoError(t, b.Increment(ctx, "lst-2", listing.KindViews, 6))
		require.NoError(t, b.Increment(ctx, "lst-3", listing.KindViews, -5))

		v, err := b.Peek(ctx, "lst-1", listing.KindViews)
		require.NoError(t, err)
		assert.Equal(t, int64(4), v)

		deltas, err := b.Drain(ctx, listing.KindViews, 5)
		require.NoError(t, err)
		assert.ElementsMatch(t, []counter.Delta{
			{ListingID: "lst-2", Kind: listing.KindViews, Amount: 6},
			{ListingID: "lst-3", Kind: listing.KindViews, Amount: -5},
		}, deltas)

		v, err = b.Peek(ctx, "lst-1", listing.KindViews)
		require.NoError(t, err)
		assert.Equal(t, int64(4), v, "below-threshold entries stay buffered")

		v, err = b.Peek(ctx, "lst-2", listing.KindViews)
		require.NoError(t, err)
		assert.Zero(t, v)
	})

	t.Run("ZeroNetRemoved", func(t *testing.T) {
		require.NoError(t, client.FlushDB(ctx).Err())
		b := counter.NewRedisBuffer(client, "test")

		require.NoError(t, b.Increment(ctx, "lst-1", listing.KindSaves, 1))
		require.NoError(t, b.Increment(ctx, "lst-1", listing.KindSaves, -1))

		exists, err := client.HExists(ctx, "test:saves", "lst-1").Result()
		require.NoError(t, err)
		assert.False(t, exists)

		deltas, err := b.Drain(ctx, listing.KindSaves, 1)
		require.NoError(t, err)
		assert.Empty(t, deltas)
	})

	t.Run("MalformedFieldsKept", func(t *testing.T) {
		require.NoError(t, client.FlushDB(ctx).Err())
		b := counter.NewRedisBuffer(client, "")

		require.NoError(t, b.Increment(ctx, "lst-1", listing.KindViews, 10))
		require.NoError(t, client.HSet(ctx, "counter:buffer:views", "corrupt", "abc", "fraction", "7.5").Err())
		require.NoError(t, b.Increment(ctx, "lst-2", listing.KindViews, 8))

		deltas, err := b.Drain(ctx, listing.KindViews, 5)
		require.NoError(t, err)
		assert.ElementsMatch(t, []counter.Delta{
			{ListingID: "lst-1", Kind: listing.KindViews, Amount: 10},
			{ListingID: "lst-2", Kind: listing.KindViews, Amount: 8},
		}, deltas)

		// 無法解析的欄位不會被刪除，留給人工處理
		left, err := client.HGetAll(ctx, "counter:buffer:views").Result()
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"corrupt": "abc", "fraction": "7.5"}, left)
	})

	t.Run("OverflowDoesNotLoseOthers", func(t *testing.T) {
		require.NoError(t, client.FlushDB(ctx).Err())
		b := counter.NewRedisBuffer(client, "")

		require.NoError(t, client.HSet(ctx, "counter:buffer:shares", "huge", "99999999999999999999").Err())
		for _, id := range []string{"lst-1", "lst-2", "lst-3"} {
			require.NoError(t, b.Increment(ctx, id, listing.KindShares, 6))
		}

		deltas, err := b.Drain(ctx, listing.KindShares, 5)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "huge")
		assert.Len(t, deltas, 3, "every parsable entry is returned")
	})

	t.Run("Restore", func(t *testing.T) {
		require.NoError(t, client.FlushDB(ctx).Err())
		b := counter.NewRedisBuffer(client, "")

		require.NoError(t, b.Increment(ctx, "lst-1", listing.KindShares, 2))
		require.NoError(t, b.Restore(ctx, counter.Delta{ListingID: "lst-1", Kind: listing.KindShares, Amount: 5}))

		v, err := b.Peek(ctx, "lst-1", listing.KindShares)
		require.NoError(t, err)
		assert.Equal(t, int64(7), v)
	})

	t.Run("FlusherWithRedis", func(t *testing.T) {
		require.NoError(t, client.FlushDB(ctx).Err())
		b := counter.NewRedisBuffer(client, "")
		mem := storage.NewMemory()
		require.NoError(t, mem.Create(ctx, &listing.Listing{ID: "lst-1", Location: listing.Location{Province: "Увс"}}))

		f := counter.NewFlusher(b, mem, counter.DefaultFlusherConfig(), logger.Discard())

		require.NoError(t, b.Increment(ctx, "lst-1", listing.KindCallClicks, 5))
		mem.FailPersist("lst-1", 1)

		result := f.FlushOnce(ctx)
		assert.Equal(t, 1, result.Failed)

		v, err := b.Peek(ctx, "lst-1", listing.KindCallClicks)
		require.NoError(t, err)
		assert.Equal(t, int64(5), v)

		result = f.FlushOnce(ctx)
		assert.Equal(t, 1, result.Flushed)

		l, err := mem.ReadCounters(ctx, "lst-1")
		require.NoError(t, err)
		assert.Equal(t, int64(5), l.Counters.CallClicks)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, counter.NewRedisBuffer(client, "").Ping(ctx))
	})
}
