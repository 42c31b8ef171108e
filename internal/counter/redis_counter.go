package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter はRedisを使用したFrequencyCounterの実装。
// キーは "freq:{action}:{actorKey}:{bucket unix}" 形式で、
// ウィンドウ長の2倍のTTLを設定して自動的に失効させる。
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter はRedisCounterを生成する。
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

// IncrementAndGet は現在のバケットのカウンタをインクリメントして返す。
// 初回インクリメント時のみTTLを設定する。
func (c *RedisCounter) IncrementAndGet(ctx context.Context, actorKey string, action ActionType, window time.Duration) (int64, error) {
	bucket := BucketStart(time.Now(), window)
	key := fmt.Sprintf("freq:%s:%s:%d", action, actorKey, bucket.Unix())

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment frequency counter: %w", err)
	}

	// 初回インクリメント時にTTLを設定する。バケットの切り替わり付近でも
	// 読み取りが成立するようウィンドウ長の2倍とする。
	if count == 1 {
		if err := c.client.Expire(ctx, key, 2*window).Err(); err != nil {
			return count, fmt.Errorf("failed to set counter expiration: %w", err)
		}
	}

	return count, nil
}
