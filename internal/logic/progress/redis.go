package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "progress"

// RedisProgressStore 管理 Redis 中的 slot 状态记录（幂等控制）
type RedisProgressStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewRedisProgressStore 创建 Redis 判重管理器
func NewRedisProgressStore(rdb redis.Cmdable, ttl time.Duration) *RedisProgressStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisProgressStore{rdb: rdb, ttl: ttl}
}

// slotKey 构造 Redis key，例如 progress:decode:slot:123
func slotKey(slot uint64, eventType EventType) string {
	return fmt.Sprintf("%s:%s:slot:%d", keyPrefix, eventType, slot)
}

// GetSlotStatus 获取 slot 的状态
func (r *RedisProgressStore) GetSlotStatus(ctx context.Context, slot uint64, eventType EventType) (SlotStatus, error) {
	val, err := r.rdb.Get(ctx, slotKey(slot, eventType)).Int()
	switch {
	case errors.Is(err, redis.Nil):
		return SlotUnknown, nil
	case err != nil:
		return SlotUnknown, fmt.Errorf("redis get error: %w", err)
	}
	switch status := SlotStatus(val); status {
	case SlotProcessed, SlotInvalid, SlotPending:
		return status, nil
	default:
		return SlotUnknown, nil
	}
}

// MarkSlotStatus 设置 slot 的状态
func (r *RedisProgressStore) MarkSlotStatus(ctx context.Context, slot uint64, eventType EventType, status SlotStatus) error {
	if err := r.rdb.Set(ctx, slotKey(slot, eventType), int(status), r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}
