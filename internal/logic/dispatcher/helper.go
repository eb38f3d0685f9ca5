package dispatcher

import (
	"google.golang.org/protobuf/types/known/structpb"

	"idl-decoder-sol/internal/consts"
	"idl-decoder-sol/internal/logic/core"
)

// Source 表示记录来源
const (
	SourceGrpc int32 = 1 // geyser 区块订阅
	SourceRpc  int32 = 2 // RPC 账户快照
)

// BlockMeta Kafka 消息头中的区块信息，账户快照没有区块上下文时只填 Slot
type BlockMeta struct {
	Slot      uint64
	BlockTime int64
	BlockHash string
	Source    int32
}

func BlockMetaFromTxContext(ctx *core.TxContext, source int32) BlockMeta {
	return BlockMeta{
		Slot:      ctx.Slot,
		BlockTime: ctx.BlockTime,
		BlockHash: ctx.BlockHash.String(),
		Source:    source,
	}
}

// buildEnvelope 同一分区、同一类别的记录封装为一条消息
func buildEnvelope(meta BlockMeta, recordType core.RecordType, records []*core.Record) *structpb.Struct {
	list := &structpb.ListValue{Values: make([]*structpb.Value, len(records))}
	for i, r := range records {
		list.Values[i] = structpb.NewStructValue(r.Payload)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"version":    structpb.NewNumberValue(consts.EnvelopeVersion),
		"chain":      structpb.NewStringValue(consts.ChainSolana),
		"type":       structpb.NewStringValue(recordType.String()),
		"slot":       structpb.NewNumberValue(float64(meta.Slot)),
		"block_time": structpb.NewNumberValue(float64(meta.BlockTime)),
		"block_hash": structpb.NewStringValue(meta.BlockHash),
		"source":     structpb.NewNumberValue(float64(meta.Source)),
		"records":    structpb.NewListValue(list),
	}}
}
