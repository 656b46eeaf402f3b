package counter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/counter"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	"github.com/eerdenee/nutgiin-delguur-sub001/internal/storage"
	"github.com/eerdenee/nutgiin-delguur-sub001/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func setupFlusher(t *testing.T, ids ...string) (*counter.Buffer, *storage.Memory, *counter.Flusher) {
	t.Helper()

	mem := storage.NewMemory()
	for _, id := range ids {
		require.NoError(t, mem.Create(context.Background(), &listing.Listing{
			ID:       id,
			Location: listing.Location{Province: "Архангай", Settlement: "Цэцэрлэг"},
		}))
	}

	buf := counter.NewBuffer()
	f := counter.NewFlusher(buf, mem, counter.FlusherConfig{
		Interval:     time.Hour,
		MinThreshold: 5,
	}, logger.Discard())

	return buf, mem, f
}

func persisted(t *testing.T, mem *storage.Memory, id string, kind listing.Kind) int64 {
	t.Helper()
	l, err := mem.ReadCounters(context.Background(), id)
	require.NoError(t, err)
	return l.Counters.Get(kind)
}

func peek(t *testing.T, buf *counter.Buffer, id string, kind listing.Kind) int64 {
	t.Helper()
	v, err := buf.Peek(context.Background(), id, kind)
	require.NoError(t, err)
	return v
}

// TestFlusher_Threshold 未達門檻不寫入，達到後一次寫入
func TestFlusher_Threshold(t *testing.T) {
	ctx := context.Background()
	buf, mem, f := setupFlusher(t, "lst-1")

	for range 4 {
		require.NoError(t, buf.Increment(ctx, "lst-1", listing.KindViews, 1))
	}

	result := f.FlushOnce(ctx)
	assert.Zero(t, result.Flushed)
	assert.Equal(t, int64(4), peek(t, buf, "lst-1", listing.KindViews))
	assert.Zero(t, persisted(t, mem, "lst-1", listing.KindViews))

	require.NoError(t, buf.Increment(ctx, "lst-1", listing.KindViews, 1))

	result = f.FlushOnce(ctx)
	assert.Equal(t, 1, result.Flushed)
	assert.Equal(t, int64(5), result.Amount)
	assert.Zero(t, peek(t, buf, "lst-1", listing.KindViews))
	assert.Equal(t, int64(5), persisted(t, mem, "lst-1", listing.KindViews))
}

// TestFlusher_NetDelta 多次增減只寫入淨值
func TestFlusher_NetDelta(t *testing.T) {
	ctx := context.Background()
	buf, mem, _ := setupFlusher(t, "lst-1")

	f := counter.NewFlusher(buf, mem, counter.FlusherConfig{MinThreshold: 4}, logger.Discard())

	for _, d := range []int64{3, 2, -1} {
		require.NoError(t, buf.Increment(ctx, "lst-1", listing.KindSaves, d))
	}

	result := f.FlushOnce(ctx)
	assert.Equal(t, 1, result.Flushed)
	assert.Equal(t, int64(4), persisted(t, mem, "lst-1", listing.KindSaves))
	assert.Equal(t, int32(1), mem.PersistCalls.Load(), "one write per entity, not per event")
}

// TestFlusher_BatchedEqualsPerEvent 一次批量刷新與逐筆刷新的落盤結果相同
func TestFlusher_BatchedEqualsPerEvent(t *testing.T) {
	ctx := context.Background()
	deltas := []int64{3, 2, -1, 7, -4, 1}

	batchBuf, batchMem, _ := setupFlusher(t, "lst-1")
	batched := counter.NewFlusher(batchBuf, batchMem, counter.FlusherConfig{MinThreshold: 1}, logger.Discard())
	for _, d := range deltas {
		require.NoError(t, batchBuf.Increment(ctx, "lst-1", listing.KindSaves, d))
	}
	batched.FlushOnce(ctx)

	eachBuf, eachMem, _ := setupFlusher(t, "lst-1")
	each := counter.NewFlusher(eachBuf, eachMem, counter.FlusherConfig{MinThreshold: 1}, logger.Discard())
	for _, d := range deltas {
		require.NoError(t, eachBuf.Increment(ctx, "lst-1", listing.KindSaves, d))
		each.FlushOnce(ctx)
	}

	assert.Equal(t, int64(8), persisted(t, batchMem, "lst-1", listing.KindSaves))
	assert.Equal(t,
		persisted(t, batchMem, "lst-1", listing.KindSaves),
		persisted(t, eachMem, "lst-1", listing.KindSaves))
	assert.Equal(t, int32(1), batchMem.PersistCalls.Load())
	assert.Equal(t, int32(len(deltas)), eachMem.PersistCalls.Load())
	assert.Zero(t, batchBuf.Len())
	assert.Zero(t, eachBuf.Len())
}

// TestFlusher_RetainOnFailure 寫入失敗時增量留在緩衝區，下一輪重試
func TestFlusher_RetainOnFailure(t *testing.T) {
	ctx := context.Background()
	buf, mem, f := setupFlusher(t, "lst-1")

	require.NoError(t, buf.Increment(ctx, "lst-1", listing.KindViews, 10))
	mem.FailPersist("lst-1", 1)

	result := f.FlushOnce(ctx)
	assert.Equal(t, 1, result.Failed)
	assert.Zero(t, result.Flushed)
	assert.Equal(t, int64(10), peek(t, buf, "lst-1", listing.KindViews))
	assert.Zero(t, persisted(t, mem, "lst-1", listing.KindViews))

	// 失敗期間的新事件與放回的增量合併
	require.NoError(t, buf.Increment(ctx, "lst-1", listing.KindViews, 2))

	result = f.FlushOnce(ctx)
	assert.Equal(t, 1, result.Flushed)
	assert.Zero(t, peek(t, buf, "lst-1", listing.KindViews))
	assert.Equal(t, int64(12), persisted(t, mem, "lst-1", listing.KindViews))
}

// TestFlusher_Isolation 單一商品失敗不影響其他商品
func TestFlusher_Isolation(t *testing.T) {
	ctx := context.Background()
	buf, mem, f := setupFlusher(t, "lst-1", "lst-2", "lst-3")

	for _, id := range []string{"lst-1", "lst-2", "lst-3"} {
		require.NoError(t, buf.Increment(ctx, id, listing.KindCallClicks, 6))
	}
	mem.FailPersist("lst-2", 3)

	result := f.FlushOnce(ctx)
	assert.Equal(t, 2, result.Flushed)
	assert.Equal(t, 1, result.Failed)

	assert.Equal(t, int64(6), persisted(t, mem, "lst-1", listing.KindCallClicks))
	assert.Zero(t, persisted(t, mem, "lst-2", listing.KindCallClicks))
	assert.Equal(t, int64(6), persisted(t, mem, "lst-3", listing.KindCallClicks))
	assert.Equal(t, int64(6), peek(t, buf, "lst-2", listing.KindCallClicks))
}

// TestFlusher_NoRetryLimit 持續失敗時每一輪都保留增量
func TestFlusher_NoRetryLimit(t *testing.T) {
	ctx := context.Background()
	buf, mem, f := setupFlusher(t, "lst-1")

	require.NoError(t, buf.Increment(ctx, "lst-1", listing.KindShares, 5))
	mem.FailAll(storage.ErrInjected)

	for range 10 {
		result := f.FlushOnce(ctx)
		require.Equal(t, 1, result.Failed)
	}
	assert.Equal(t, int64(5), peek(t, buf, "lst-1", listing.KindShares))

	mem.FailAll(nil)
	result := f.FlushOnce(ctx)
	assert.Equal(t, 1, result.Flushed)
	assert.Equal(t, int64(5), persisted(t, mem, "lst-1", listing.KindShares))
}

// TestFlusher_DropMissingListing 商品不存在時丟棄增量
func TestFlusher_DropMissingListing(t *testing.T) {
	ctx := context.Background()
	buf, _, f := setupFlusher(t)

	require.NoError(t, buf.Increment(ctx, "deleted", listing.KindViews, 7))

	result := f.FlushOnce(ctx)
	assert.Equal(t, 1, result.Dropped)
	assert.Zero(t, result.Failed)
	assert.Zero(t, peek(t, buf, "deleted", listing.KindViews))
	assert.Zero(t, buf.Len())
}

// blockingPersister 第一次寫入時阻塞，用來模擬耗時超過間隔的刷新
type blockingPersister struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingPersister) PersistIncrement(context.Context, string, listing.Kind, int64) error {
	p.once.Do(func() {
		close(p.entered)
		<-p.release
	})
	return nil
}

// TestFlusher_OverlapSkipped 上一輪尚未結束時，新一輪直接跳過
func TestFlusher_OverlapSkipped(t *testing.T) {
	ctx := context.Background()
	buf := counter.NewBuffer()
	p := &blockingPersister{entered: make(chan struct{}), release: make(chan struct{})}
	f := counter.NewFlusher(buf, p, counter.FlusherConfig{MinThreshold: 1}, logger.Discard())

	require.NoError(t, buf.Increment(ctx, "lst-1", listing.KindViews, 1))

	done := make(chan counter.FlushResult)
	go func() { done <- f.FlushOnce(ctx) }()

	<-p.entered
	second := f.FlushOnce(ctx)
	assert.True(t, second.Skipped)

	close(p.release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Flushed)
}

// TestFlusher_StartStop 定時刷新與關閉時的最後一次刷新
func TestFlusher_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	mem := storage.NewMemory()
	require.NoError(t, mem.Create(ctx, &listing.Listing{
		ID:       "lst-1",
		Location: listing.Location{Province: "Дорнод"},
	}))

	buf := counter.NewBuffer()
	f := counter.NewFlusher(buf, mem, counter.FlusherConfig{
		Interval:     20 * time.Millisecond,
		MinThreshold: 5,
	}, logger.Discard())
	f.Start()

	require.NoError(t, buf.Increment(ctx, "lst-1", listing.KindViews, 5))
	assert.Eventually(t, func() bool {
		return persisted(t, mem, "lst-1", listing.KindViews) == 5
	}, 2*time.Second, 10*time.Millisecond)

	// 低於門檻的增量在關閉時仍會寫入
	require.NoError(t, buf.Increment(ctx, "lst-1", listing.KindViews, 2))
	result := f.Stop(ctx)

	assert.Equal(t, 1, result.Flushed)
	assert.Equal(t, int64(7), persisted(t, mem, "lst-1", listing.KindViews))
	assert.Zero(t, buf.Len())
}

// TestFlusher_StopWithoutStart 未啟動也可以安全關閉
func TestFlusher_StopWithoutStart(t *testing.T) {
	_, _, f := setupFlusher(t)
	result := f.Stop(context.Background())
	assert.Zero(t, result.Flushed)
}
