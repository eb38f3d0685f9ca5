package eventparser

import (
	"runtime/debug"

	"github.com/mr-tron/base58"

	"idl-decoder-sol/internal/logic/core"
	"idl-decoder-sol/internal/logic/decoder"
	"idl-decoder-sol/internal/types"
	"idl-decoder-sol/pkg/logger"
)

// ProgramSource 按程序地址查找已编译的解码器，由 cache.ProgramCache 实现
type ProgramSource interface {
	Get(addr types.Pubkey) (*decoder.Program, bool)
}

// ExtractEventsFromTx 从单笔交易中提取所有可解码的记录：
//  1. 遍历展平后的指令（主指令 + inner 指令），程序已注册的按 IDL 解码；
//     emit_cpi 自调用输出事件记录，其余输出指令记录；
//  2. 扫描 "Program data:" 日志，按调用栈归属到程序后解码事件。
//
// 解析过程中的 panic 会被 recover，该交易结果丢弃
func ExtractEventsFromTx(programs ProgramSource, adaptedTx *core.AdaptedTx) (result []*core.Record) {
	defer func() {
		if r := recover(); r != nil {
			txHash := base58.Encode(adaptedTx.Signature)
			logger.Errorf("[eventparser::ExtractEventsFromTx] panic tx=%s: %+v\nstack: %s", txHash, r, debug.Stack())
			result = nil
		}
	}()

	ctx := newParserContext(adaptedTx)

	for _, ix := range adaptedTx.Instructions {
		program, ok := programs.Get(ix.ProgramID)
		if !ok {
			continue
		}
		decoded, ok := program.DecodeInstruction(ix.Data)
		if !ok {
			continue
		}
		if decoded.IsEmitCpi() {
			ctx.addEvent(program, ix.IxIndex, ix.InnerIndex, decoded.Event)
			continue
		}
		ctx.addInstruction(program, ix, decoded)
	}

	scanProgramData(adaptedTx.LogMessages, func(programID types.Pubkey, ixIndex uint16, seq int, data []byte) {
		program, ok := programs.Get(programID)
		if !ok {
			return
		}
		if seq > maxLogSeq {
			if seq == maxLogSeq+1 {
				logger.Warnf("[eventparser::ExtractEventsFromTx] tx=%s ix=%d 日志事件超过 %d 条，忽略其余事件",
					ctx.signature, ixIndex, maxLogSeq+1)
			}
			return
		}
		ev, ok := program.DecodeEvent(data)
		if !ok {
			return
		}
		ctx.addLogEvent(program, ixIndex, uint16(seq), ev)
	})

	return ctx.records
}

// maxLogSeq 日志序号占 ID 的低 16 位
const maxLogSeq = 0xffff
