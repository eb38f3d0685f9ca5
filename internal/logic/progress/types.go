package progress

// SlotStatus 表示 slot 的处理状态
type SlotStatus int

const (
	SlotUnknown   SlotStatus = 0 // Redis 不存在
	SlotProcessed SlotStatus = 1 // 已处理成功
	SlotInvalid   SlotStatus = 2 // 明确无效、跳过
	SlotPending   SlotStatus = 3 // 正在处理
)

func (s SlotStatus) String() string {
	switch s {
	case SlotProcessed:
		return "processed"
	case SlotInvalid:
		return "invalid"
	case SlotPending:
		return "pending"
	default:
		return "unknown"
	}
}

// EventType 表示不同类型的进度记录（用于区分 Redis key）
type EventType int

const (
	EventDecode  EventType = 0 // 区块指令 / 事件解码
	EventAccount EventType = 1 // 账户快照
)

func (et EventType) String() string {
	switch et {
	case EventDecode:
		return "decode"
	case EventAccount:
		return "account"
	default:
		return "unknown"
	}
}
