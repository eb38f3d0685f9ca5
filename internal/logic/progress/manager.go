package progress

import (
	"context"
	"time"

	"idl-decoder-sol/pkg/logger"
)

// SlotStore slot 状态存储，由 RedisProgressStore 实现
type SlotStore interface {
	GetSlotStatus(ctx context.Context, slot uint64, eventType EventType) (SlotStatus, error)
	MarkSlotStatus(ctx context.Context, slot uint64, eventType EventType, status SlotStatus) error
}

// ProgressManager 控制进度判重与写入；store 为空时所有 slot 都处理
type ProgressManager struct {
	store           SlotStore
	recentThreshold time.Duration // 新 block 的判断阈值
	now             func() time.Time
}

func NewProgressManager(store SlotStore, recentThresholdSec int) *ProgressManager {
	return &ProgressManager{
		store:           store,
		recentThreshold: time.Duration(recentThresholdSec) * time.Second,
		now:             time.Now,
	}
}

// ShouldProcessSlot 判断是否需要处理该 slot：
// - 近期 block 直接处理
// - 否则查 Redis，已处理或已标记无效的跳过（重连后重推的旧 block）
// - Redis 出错时仍处理，下游按记录 ID 去重
func (pm *ProgressManager) ShouldProcessSlot(ctx context.Context, slot uint64, eventType EventType, blockTime int64) bool {
	if pm == nil || pm.store == nil {
		return true
	}
	if pm.now().Sub(time.Unix(blockTime, 0)) <= pm.recentThreshold {
		return true
	}

	status, err := pm.store.GetSlotStatus(ctx, slot, eventType)
	if err != nil {
		logger.Warnf("[Progress] get slot %d status failed: %v", slot, err)
		return true
	}
	return status != SlotProcessed && status != SlotInvalid
}

// MarkSlotStatus 标记某 slot 的处理状态，只记录 Processed / Invalid
func (pm *ProgressManager) MarkSlotStatus(ctx context.Context, slot uint64, eventType EventType, status SlotStatus) error {
	if pm == nil || pm.store == nil {
		return nil
	}
	switch status {
	case SlotProcessed, SlotInvalid:
		return pm.store.MarkSlotStatus(ctx, slot, eventType, status)
	default:
		return nil
	}
}
