package counter_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/counter"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuffer_IncrementAndPeek 測試累加與查看
func TestBuffer_IncrementAndPeek(t *testing.T) {
	ctx := context.Background()
	b := counter.NewBuffer()

	require.NoError(t, b.Increment(ctx, "lst-1", listing.KindViews, 1))
	require.NoError(t, b.Increment(ctx, "lst-1", listing.KindViews, 1))
	require.NoError(t, b.Increment(ctx, "lst-1", listing.KindSaves, 1))
	require.NoError(t, b.Increment(ctx, "lst-1", listing.KindSaves, -3))

	views, err := b.Peek(ctx, "lst-1", listing.KindViews)
	require.NoError(t, err)
	assert.Equal(t, int64(2), views)

	saves, err := b.Peek(ctx, "lst-1", listing.KindSaves)
	require.NoError(t, err)
	assert.Equal(t, int64(-2), saves, "negative deltas are buffered as-is")

	missing, err := b.Peek(ctx, "lst-404", listing.KindShares)
	require.NoError(t, err)
	assert.Zero(t, missing)
}

// TestBuffer_DrainThreshold 未達門檻的項目保留在緩衝區
func TestBuffer_DrainThreshold(t *testing.T) {
	ctx := context.Background()
	b := counter.NewBuffer()

	_ = b.Increment(ctx, "four", listing.KindViews, 4)
	_ = b.Increment(ctx, "five", listing.KindViews, 5)
	_ = b.Increment(ctx, "minus-six", listing.KindViews, -6)

	drained, err := b.Drain(ctx, listing.KindViews, 5)
	require.NoError(t, err)

	assert.Equal(t, []counter.Delta{
		{ListingID: "five", Kind: listing.KindViews, Amount: 5},
		{ListingID: "minus-six", Kind: listing.KindViews, Amount: -6},
	}, drained)

	left, _ := b.Peek(ctx, "four", listing.KindViews)
	assert.Equal(t, int64(4), left)

	gone, _ := b.Peek(ctx, "five", listing.KindViews)
	assert.Zero(t, gone)

	// 第二次 Drain 不會重複取出
	drained, err = b.Drain(ctx, listing.KindViews, 5)
	require.NoError(t, err)
	assert.Empty(t, drained)
	assert.Equal(t, 1, b.Len())
}

// TestBuffer_DrainInsertionOrder 依首次寫入順序取出
func TestBuffer_DrainInsertionOrder(t *testing.T) {
	ctx := context.Background()
	b := counter.NewBuffer()

	ids := []string{"c", "a", "e", "b", "d"}
	for _, id := range ids {
		_ = b.Increment(ctx, id, listing.KindShares, 10)
	}
	_ = b.Increment(ctx, "a", listing.KindShares, 1)

	drained, err := b.Drain(ctx, listing.KindShares, 5)
	require.NoError(t, err)

	var got []string
	for _, d := range drained {
		got = append(got, d.ListingID)
	}
	assert.Equal(t, ids, got)
}

// TestBuffer_DrainKindsAreIndependent 不同種類互不影響
func TestBuffer_DrainKindsAreIndependent(t *testing.T) {
	ctx := context.Background()
	b := counter.NewBuffer()

	_ = b.Increment(ctx, "lst", listing.KindViews, 9)
	_ = b.Increment(ctx, "lst", listing.KindCallClicks, 9)

	drained, _ := b.Drain(ctx, listing.KindViews, 5)
	require.Len(t, drained, 1)

	calls, _ := b.Peek(ctx, "lst", listing.KindCallClicks)
	assert.Equal(t, int64(9), calls)
}

// TestBuffer_ZeroNetIsDiscarded 收藏又取消收藏，淨值 0 不會被寫入
func TestBuffer_ZeroNetIsDiscarded(t *testing.T) {
	ctx := context.Background()
	b := counter.NewBuffer()

	_ = b.Increment(ctx, "lst", listing.KindSaves, 1)
	_ = b.Increment(ctx, "lst", listing.KindSaves, -1)

	drained, err := b.Drain(ctx, listing.KindSaves, 0)
	require.NoError(t, err)
	assert.Empty(t, drained)
	assert.Zero(t, b.Len())
}

// TestBuffer_EmptyDrain 空緩衝區
func TestBuffer_EmptyDrain(t *testing.T) {
	drained, err := counter.NewBuffer().Drain(context.Background(), listing.KindViews, 5)
	require.NoError(t, err)
	assert.Empty(t, drained)
}

// TestBuffer_Restore 放回的增量與新增量合併
func TestBuffer_Restore(t *testing.T) {
	ctx := context.Background()
	b := counter.NewBuffer()

	_ = b.Increment(ctx, "lst", listing.KindViews, 7)
	drained, _ := b.Drain(ctx, listing.KindViews, 5)
	require.Len(t, drained, 1)

	// 寫入期間又來了 2 次瀏覽
	_ = b.Increment(ctx, "lst", listing.KindViews, 2)
	require.NoError(t, b.Restore(ctx, drained[0]))

	v, _ := b.Peek(ctx, "lst", listing.KindViews)
	assert.Equal(t, int64(9), v)
}

// TestBuffer_ConcurrentIncrement 並發累加不丟失
func TestBuffer_ConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	b := counter.NewBuffer()

	const workers = 50
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = b.Increment(ctx, fmt.Sprintf("lst-%d", i%10), listing.KindViews, 1)
			}
		}(w)
	}
	wg.Wait()

	var total int64
	for i := 0; i < 10; i++ {
		v, _ := b.Peek(ctx, fmt.Sprintf("lst-%d", i), listing.KindViews)
		total += v
	}
	assert.Equal(t, int64(workers*perWorker), total)
}
