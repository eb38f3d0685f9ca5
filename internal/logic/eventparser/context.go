package eventparser

import (
	"strconv"

	"github.com/mr-tron/base58"
	"google.golang.org/protobuf/types/known/structpb"

	"idl-decoder-sol/internal/logic/core"
	"idl-decoder-sol/internal/logic/decoder"
)

// parserContext 单笔交易的解析上下文
type parserContext struct {
	tx        *core.AdaptedTx
	signature string
	records   []*core.Record
}

func newParserContext(tx *core.AdaptedTx) *parserContext {
	return &parserContext{
		tx:        tx,
		signature: base58.Encode(tx.Signature),
	}
}

func (ctx *parserContext) header(program *decoder.Program, name string, ixIndex, innerIndex uint16) map[string]*structpb.Value {
	fields := map[string]*structpb.Value{
		"program":      structpb.NewStringValue(program.Address.String()),
		"program_name": structpb.NewStringValue(program.Name),
		"name":         structpb.NewStringValue(name),
		"signature":    structpb.NewStringValue(ctx.signature),
		"tx_index":     structpb.NewNumberValue(float64(ctx.tx.TxIndex)),
		"ix_index":     structpb.NewNumberValue(float64(ixIndex)),
		"inner_index":  structpb.NewNumberValue(float64(innerIndex)),
	}
	return fields
}

func (ctx *parserContext) addInstruction(program *decoder.Program, ix *core.AdaptedInstruction, decoded *decoder.DecodedInstruction) {
	fields := ctx.header(program, decoded.Name, ix.IxIndex, ix.InnerIndex)
	fields["args"] = decoded.Args.ToProto()

	named := decoded.MapAccounts(ix.Accounts)
	accounts := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(named))}
	for name, key := range named {
		accounts.Fields[name] = structpb.NewStringValue(key.String())
	}
	fields["accounts"] = structpb.NewStructValue(accounts)

	// 分区 key 取第一个账户（通常是 signer / authority），同一用户的操作落在同一分区
	key := program.Address[:]
	if len(ix.Accounts) > 0 {
		key = ix.Accounts[0][:]
	}

	id := core.BuildEventID(ctx.tx.TxIndex, ix.IxIndex, ix.InnerIndex)
	fields["id"] = structpb.NewStringValue(strconv.FormatUint(id, 10))

	ctx.records = append(ctx.records, &core.Record{
		ID:        id,
		Type:      core.RecordInstruction,
		ProgramID: program.Address,
		Key:       key,
		Name:      decoded.Name,
		Payload:   &structpb.Struct{Fields: fields},
	})
}

// addEvent emit_cpi 自调用产生的事件，位置即该 inner 指令
func (ctx *parserContext) addEvent(program *decoder.Program, ixIndex, innerIndex uint16, ev *decoder.DecodedEvent) {
	fields := ctx.header(program, ev.Name, ixIndex, innerIndex)
	ctx.appendEvent(program, core.BuildEventID(ctx.tx.TxIndex, ixIndex, innerIndex), fields, ev)
}

// addLogEvent "Program data:" 日志事件，没有指令位置，用主指令内的日志序号标识
func (ctx *parserContext) addLogEvent(program *decoder.Program, ixIndex, seq uint16, ev *decoder.DecodedEvent) {
	fields := ctx.header(program, ev.Name, ixIndex, 0)
	delete(fields, "inner_index")
	fields["log_index"] = structpb.NewNumberValue(float64(seq))
	ctx.appendEvent(program, core.BuildLogEventID(ctx.tx.TxIndex, ixIndex, seq), fields, ev)
}

func (ctx *parserContext) appendEvent(program *decoder.Program, id uint64, fields map[string]*structpb.Value, ev *decoder.DecodedEvent) {
	fields["id"] = structpb.NewStringValue(strconv.FormatUint(id, 10))
	fields["data"] = ev.Data.ToProto()

	ctx.records = append(ctx.records, &core.Record{
		ID:        id,
		Type:      core.RecordEvent,
		ProgramID: program.Address,
		Key:       program.Address[:],
		Name:      ev.Name,
		Payload:   &structpb.Struct{Fields: fields},
	})
}
