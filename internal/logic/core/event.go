package core

import (
	"google.golang.org/protobuf/types/known/structpb"

	"idl-decoder-sol/internal/types"
)

// RecordType 解码结果的类别，写入 Kafka 消息的 4 字节前缀
type RecordType uint32

const (
	RecordInstruction RecordType = 1
	RecordEvent       RecordType = 2
	RecordAccount     RecordType = 3
)

func (t RecordType) String() string {
	switch t {
	case RecordInstruction:
		return "instruction"
	case RecordEvent:
		return "event"
	case RecordAccount:
		return "account"
	}
	return "unknown"
}

// ParsedTxResult 表示某笔交易解码后的中间结构
type ParsedTxResult struct {
	TxIndex int
	Records []*Record
}

// Record 一条解码结果（指令 / 事件 / 账户快照）
type Record struct {
	ID        uint64       // slot 内唯一 ID，见 BuildEventID
	Type      RecordType   // 记录类别
	ProgramID types.Pubkey // 所属程序
	Key       []byte       // Kafka 分区 key
	Name      string       // 指令 / 事件 / 账户名
	Payload   *structpb.Struct
}

const logEventFlag uint64 = 1 << 63

// BuildEventID 构造 slot 内唯一标识 ID（uint64）：
//   - bit 63             : 0 表示指令 / CPI 事件，1 表示日志事件（见 BuildLogEventID）
//   - txIndex    (31 bits): 当前交易在区块中的序号
//   - ixIndex    (16 bits): 当前交易中的主指令序号
//   - innerIndex (16 bits): inner 指令序号，主指令为 0
//
// 编码结构：
//
//	[ 1 bit flag ] [ 31 bits txIndex ] [ 16 bits ixIndex ] [ 16 bits innerIndex ]
func BuildEventID(txIndex uint32, ixIndex uint16, innerIndex uint16) uint64 {
	return uint64(txIndex&0x7fffffff)<<32 | uint64(ixIndex)<<16 | uint64(innerIndex)
}

// BuildLogEventID "Program data:" 日志事件的 ID，低 16 位为该主指令内的日志序号
func BuildLogEventID(txIndex uint32, ixIndex uint16, seq uint16) uint64 {
	return logEventFlag | BuildEventID(txIndex, ixIndex, seq)
}

// IsLogEventID 是否为日志事件 ID
func IsLogEventID(id uint64) bool {
	return id&logEventFlag != 0
}
