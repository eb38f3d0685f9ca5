package utils

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/protobuf/proto"
)

const eventTypePrefixLen = 4

// EncodeEvent 将 protobuf 消息编码为带类型前缀的二进制数据：
// - 前 4 字节为记录类型（uint32，小端序）
// - 后续为 protobuf 序列化数据（Deterministic，便于下游去重）
func EncodeEvent(eventType uint32, msg proto.Message) ([]byte, error) {
	const extraBuffer = 32 // 多预留一些空间，降低 MarshalAppend 扩容概率

	size := proto.Size(msg)
	buf := make([]byte, eventTypePrefixLen, eventTypePrefixLen+size+extraBuffer)
	binary.LittleEndian.PutUint32(buf[:eventTypePrefixLen], eventType)

	opts := proto.MarshalOptions{Deterministic: true}
	result, err := opts.MarshalAppend(buf, msg)
	if err != nil {
		return nil, fmt.Errorf("EncodeEvent: marshal %T: %w", msg, err)
	}
	return result, nil
}

// DecodeEvent EncodeEvent 的逆过程，返回类型前缀并把消息体解到 msg
func DecodeEvent[M proto.Message](data []byte, msg M) (uint32, M, error) {
	if len(data) < eventTypePrefixLen {
		return 0, msg, fmt.Errorf("DecodeEvent: data too short: %d", len(data))
	}
	eventType := binary.LittleEndian.Uint32(data[:eventTypePrefixLen])
	if err := proto.Unmarshal(data[eventTypePrefixLen:], msg); err != nil {
		return 0, msg, fmt.Errorf("DecodeEvent: unmarshal %T: %w", msg, err)
	}
	return eventType, msg, nil
}
