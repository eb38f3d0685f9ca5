package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu     sync.Mutex
	status map[string]SlotStatus
	err    error
}

func newMemStore() *memStore {
	return &memStore{status: make(map[string]SlotStatus)}
}

func (m *memStore) GetSlotStatus(_ context.Context, slot uint64, et EventType) (SlotStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return SlotUnknown, m.err
	}
	return m.status[slotKey(slot, et)], nil
}

func (m *memStore) MarkSlotStatus(_ context.Context, slot uint64, et EventType, status SlotStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[slotKey(slot, et)] = status
	return nil
}

func TestProgressManager(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	pm := NewProgressManager(store, 60)
	now := time.Unix(1_700_000_000, 0)
	pm.now = func() time.Time { return now }

	recent := now.Add(-10 * time.Second).Unix()
	old := now.Add(-10 * time.Minute).Unix()

	// 近期 block 即使已处理也直接处理
	require.NoError(t, pm.MarkSlotStatus(ctx, 1, EventDecode, SlotProcessed))
	assert.True(t, pm.ShouldProcessSlot(ctx, 1, EventDecode, recent))

	// 旧 block 按 Redis 状态判重
	assert.False(t, pm.ShouldProcessSlot(ctx, 1, EventDecode, old))
	assert.True(t, pm.ShouldProcessSlot(ctx, 1, EventAccount, old), "不同类别互不影响")
	assert.True(t, pm.ShouldProcessSlot(ctx, 2, EventDecode, old))

	require.NoError(t, pm.MarkSlotStatus(ctx, 2, EventDecode, SlotInvalid))
	assert.False(t, pm.ShouldProcessSlot(ctx, 2, EventDecode, old))

	// Pending 不落库
	require.NoError(t, pm.MarkSlotStatus(ctx, 3, EventDecode, SlotPending))
	assert.Len(t, store.status, 2)

	// 存储出错时仍处理
	store.err = errors.New("redis down")
	assert.True(t, pm.ShouldProcessSlot(ctx, 1, EventDecode, old))
}

func TestProgressManager_NilStore(t *testing.T) {
	pm := NewProgressManager(nil, 60)
	assert.True(t, pm.ShouldProcessSlot(context.Background(), 1, EventDecode, 0))
	assert.NoError(t, pm.MarkSlotStatus(context.Background(), 1, EventDecode, SlotProcessed))

	var nilPM *ProgressManager
	assert.True(t, nilPM.ShouldProcessSlot(context.Background(), 1, EventDecode, 0))
}

func TestSlotKeyAndStatus(t *testing.T) {
	assert.Equal(t, "progress:decode:slot:42", slotKey(42, EventDecode))
	assert.Equal(t, "progress:account:slot:7", slotKey(7, EventAccount))
	assert.Equal(t, "processed", SlotProcessed.String())
	assert.Equal(t, "unknown", SlotStatus(9).String())
}
