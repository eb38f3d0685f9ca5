package grpc

import (
	"context"
	"errors"
	"runtime"
	"time"

	pb "github.com/rpcpool/yellowstone-grpc/examples/golang/proto"

	"idl-decoder-sol/internal/logic/core"
	"idl-decoder-sol/internal/logic/dispatcher"
	"idl-decoder-sol/internal/logic/eventparser"
	"idl-decoder-sol/internal/logic/progress"
	"idl-decoder-sol/internal/logic/txadapter"
	"idl-decoder-sol/internal/mq"
	"idl-decoder-sol/internal/svc"
	"idl-decoder-sol/internal/types"
	"idl-decoder-sol/internal/utils"
	"idl-decoder-sol/pkg/logger"
)

// GapReporter 接收疑似漏块的 slot 区间，由 SlotChecker 实现
type GapReporter interface {
	Submit(from, to uint64)
}

type BlockProcessor struct {
	sc        *svc.GrpcServiceContext
	blockChan chan *pb.SubscribeUpdateBlock // 接收 block 的 channel
	gaps      GapReporter                   // 可为 nil
	lastSlot  uint64                        // 最近处理的 slot，仅处理协程访问
	workers   int
	ctx       context.Context
	cancel    func(err error)
}

func NewBlockProcessor(sc *svc.GrpcServiceContext, blockChan chan *pb.SubscribeUpdateBlock, gaps GapReporter) *BlockProcessor {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &BlockProcessor{
		sc:        sc,
		blockChan: blockChan,
		gaps:      gaps,
		workers:   runtime.NumCPU() + 2,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (p *BlockProcessor) Start() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case block := <-p.blockChan:
			if block == nil {
				continue
			}
			p.procBlock(block)
			if len(p.blockChan) > 10 {
				logger.Debugf("[BlockProcessor] block chan len:%v", len(p.blockChan))
			}
		}
	}
}

func (p *BlockProcessor) Stop() {
	p.cancel(errors.New("service stop"))
}

func (p *BlockProcessor) procBlock(block *pb.SubscribeUpdateBlock) {
	startTime := time.Now()
	defer func() {
		logger.Infof("[BlockProcessor] 区块处理总耗时: %v, slot: %d", time.Since(startTime), block.Slot)
	}()

	p.checkGap(block)

	blockTime := block.GetBlockTime().GetTimestamp()
	if !p.sc.ProgressManager.ShouldProcessSlot(p.ctx, block.Slot, progress.EventDecode, blockTime) {
		logger.Infof("[BlockProcessor] slot %d 已处理，跳过", block.Slot)
		return
	}

	// 1. 解码
	txCtx, results := p.decodeBlock(block)

	// 2. 发送
	jobs := dispatcher.BuildAllKafkaJobs(dispatcher.BlockMetaFromTxContext(txCtx, dispatcher.SourceGrpc), results, p.sc.Config.KafkaProducerConf)
	if len(jobs) > 0 {
		timeConf := p.sc.Config.TimeConf
		ctx, cancel := context.WithTimeout(p.ctx, time.Duration(timeConf.SlotDispatchTimeoutMs)*time.Millisecond)
		_, failed := mq.SendKafkaJobs(ctx, p.sc.Producer, jobs, time.Duration(timeConf.EventSendTimeoutMs)*time.Millisecond)
		cancel()
		if len(failed) > 0 {
			logger.Errorf("[BlockProcessor] slot %d 发送失败 %d/%d, first err: %v", block.Slot, len(failed), len(jobs), failed[0].Err)
			return
		}
	}

	// 3. 记录进度
	if err := p.sc.ProgressManager.MarkSlotStatus(p.ctx, block.Slot, progress.EventDecode, progress.SlotProcessed); err != nil {
		logger.Warnf("[BlockProcessor] slot %d 标记进度失败: %v", block.Slot, err)
	}
}

// decodeBlock 过滤合法交易并发解码，结果按交易在区块内的顺序返回
func (p *BlockProcessor) decodeBlock(block *pb.SubscribeUpdateBlock) (*core.TxContext, []core.ParsedTxResult) {
	validTxs := make([]*pb.SubscribeUpdateTransactionInfo, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		if IsValidGrpcTx(tx) {
			validTxs = append(validTxs, tx)
		}
	}

	txCtx := buildTxContext(block)

	parseStart := time.Now()
	results := utils.ParallelMap(validTxs, p.workers,
		func(tx *pb.SubscribeUpdateTransactionInfo) core.ParsedTxResult {
			return p.parseTx(txCtx, tx)
		})

	total := 0
	for _, r := range results {
		total += len(r.Records)
	}
	logger.Infof("[BlockProcessor] slot=%d 总tx数量: %v, 有效tx数量: %v, 总记录数量: %v, 解析耗时: %v",
		block.Slot, len(block.Transactions), len(validTxs), total, time.Since(parseStart))
	return txCtx, results
}

func (p *BlockProcessor) parseTx(txCtx *core.TxContext, tx *pb.SubscribeUpdateTransactionInfo) core.ParsedTxResult {
	adaptedTx, err := txadapter.AdaptGrpcTx(txCtx, tx)
	if err != nil {
		logger.Debugf("[BlockProcessor] slot=%d tx=%d 适配失败: %v", txCtx.Slot, tx.Index, err)
		return core.ParsedTxResult{TxIndex: int(tx.Index)}
	}
	return core.ParsedTxResult{
		TxIndex: int(tx.Index),
		Records: eventparser.ExtractEventsFromTx(p.sc.Programs, adaptedTx),
	}
}

// checkGap 父 slot 跳过了上一个已处理的 slot 时，把中间区间交给 SlotChecker 核实
func (p *BlockProcessor) checkGap(block *pb.SubscribeUpdateBlock) {
	last := p.lastSlot
	if block.Slot > last {
		p.lastSlot = block.Slot
	}
	if p.gaps == nil || last == 0 || block.ParentSlot <= last {
		return
	}
	logger.Warnf("[BlockProcessor] slot 不连续: last=%d, parent=%d, slot=%d", last, block.ParentSlot, block.Slot)
	p.gaps.Submit(last+1, block.ParentSlot)
}

func buildTxContext(block *pb.SubscribeUpdateBlock) *core.TxContext {
	// blockHash 解析失败只打日志，继续执行
	blockHash, err := types.HashFromBase58(block.Blockhash)
	if err != nil {
		logger.Errorf("[严重] BlockHash 无法解析，将使用零值：slot=%d, blockhash=%s, err=%v",
			block.Slot, block.Blockhash, err)
	}

	return &core.TxContext{
		BlockTime:   block.GetBlockTime().GetTimestamp(),
		Slot:        block.Slot,
		ParentSlot:  block.ParentSlot,
		BlockHeight: block.GetBlockHeight().GetBlockHeight(),
		BlockHash:   blockHash,
	}
}

func IsValidGrpcTx(tx *pb.SubscribeUpdateTransactionInfo) bool {
	if tx == nil || // - nil transaction info
		tx.Transaction == nil || // - missing Transaction field
		tx.Transaction.Message == nil || // - missing Message field in transaction
		len(tx.Transaction.Signatures) == 0 || // - missing transaction signature
		len(tx.Transaction.Signatures[0]) != 64 || // - invalid transaction signature length
		tx.IsVote || // - vote transaction skipped
		tx.Meta == nil || // - missing transaction meta data
		tx.Meta.Err != nil { // - transaction execution failed
		return false
	}
	return true
}
