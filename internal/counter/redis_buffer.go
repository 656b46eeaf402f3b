package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/eerdenee/nutgiin-delguur-sub001/internal/listing"
	apperrors "github.com/eerdenee/nutgiin-delguur-sub001/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisBuffer 以 Redis Hash 實作的共用計數緩衝區
//
// 架構設計：
//
//	API 實例 A ─┐
//	API 實例 B ─┼─> HINCRBY counter:buffer:{kind} {listingID} {delta}
//	API 實例 C ─┘          ↓ 每 5 分鐘（任一實例的 Flusher）
//	                 Lua: 取出 |delta| >= 門檻的欄位並 HDEL
//	                       ↓
//	                   PostgreSQL
//
// 系統設計考量：
//
//  1. 為什麼用 Lua 取出？
//     - HGETALL + HDEL 分兩步時，中間的 HINCRBY 會被 HDEL 刪掉（丟失計數）
//     - Lua script 在 Redis 內原子執行，沒有中間狀態
//
//  2. 為什麼淨值為 0 時刪除欄位？
//     - 收藏後取消收藏會留下大量 0 值欄位
//     - 同樣放在 Lua 內完成，避免與並發 HINCRBY 競爭
//
//  3. 已知限制：
//     - Hash 沒有插入順序，跨商品的處理順序不保證（正確性不依賴順序）
type RedisBuffer struct {
	client *redis.Client
	prefix string
}

// NewRedisBuffer 創建 Redis 計數緩衝區
func NewRedisBuffer(client *redis.Client, prefix string) *RedisBuffer {
	if prefix == "" {
		prefix = "counter:buffer"
	}
	return &RedisBuffer{client: client, prefix: prefix}
}

// incrementScript 累加並在淨值為 0 時刪除欄位
var incrementScript = redis.NewScript(`
	local v = redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
	if v == 0 then
		redis.call('HDEL', KEYS[1], ARGV[1])
	end
	return v
`)

// drainScript 取出 |delta| >= 門檻的欄位，返回 {id1, v1, id2, v2, ...}
//
// 不是整數的欄位原樣留在 Hash 中，不刪除也不返回。
var drainScript = redis.NewScript(`
	local entries = redis.call('HGETALL', KEYS[1])
	local min = tonumber(ARGV[1])
	local out = {}
	for i = 1, #entries, 2 do
		if string.match(entries[i + 1], '^-?%d+$') then
			local v = tonumber(entries[i + 1])
			if v == 0 then
				redis.call('HDEL', KEYS[1], entries[i])
			elseif math.abs(v) >= min then
				redis.call('HDEL', KEYS[1], entries[i])
				table.insert(out, entries[i])
				table.insert(out, entries[i + 1])
			end
		end
	end
	return out
`)

func (b *RedisBuffer) key(kind listing.Kind) string {
	return fmt.Sprintf("%s:%s", b.prefix, kind)
}

// Increment 累加 delta
func (b *RedisBuffer) Increment(ctx context.Context, listingID string, kind listing.Kind, delta int64) error {
	if err := incrementScript.Run(ctx, b.client, []string{b.key(kind)}, listingID, delta).Err(); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "redis buffer increment")
	}
	return nil
}

// Peek 返回尚未刷新的增量
func (b *RedisBuffer) Peek(ctx context.Context, listingID string, kind listing.Kind) (int64, error) {
	v, err := b.client.HGet(ctx, b.key(kind), listingID).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "redis buffer peek")
	}
	return v, nil
}

// Drain 原子取出 |delta| >= minThreshold 的項目
func (b *RedisBuffer) Drain(ctx context.Context, kind listing.Kind, minThreshold int64) ([]Delta, error) {
	raw, err := drainScript.Run(ctx, b.client, []string{b.key(kind)}, minThreshold).StringSlice()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "redis buffer drain")
	}

	// 欄位已被 HDEL：每一筆都要解析完再返回，單筆錯誤不能中斷其餘項目
	deltas := make([]Delta, 0, len(raw)/2)
	var errs []error
	for i := 0; i+1 < len(raw); i += 2 {
		amount, err := strconv.ParseInt(raw[i+1], 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("parse buffered delta for %s: %w", raw[i], err))
			continue
		}
		deltas = append(deltas, Delta{ListingID: raw[i], Kind: kind, Amount: amount})
	}

	return deltas, errors.Join(errs...)
}

// Restore 把增量加回緩衝區
func (b *RedisBuffer) Restore(ctx context.Context, d Delta) error {
	return b.Increment(ctx, d.ListingID, d.Kind, d.Amount)
}

// Ping 檢查 Redis 連線（就緒檢查用）
func (b *RedisBuffer) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
