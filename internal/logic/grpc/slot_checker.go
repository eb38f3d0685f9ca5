package grpc

import (
	"context"
	"sort"
	"time"

	"github.com/blocto/solana-go-sdk/rpc"

	"idl-decoder-sol/pkg/logger"
)

const (
	maxRangeSize     = 10000 // 单次 getBlocks 查询的最大跨度
	maxPendingRanges = 200
	delayBeforeCheck = 30 * time.Second // 给节点留出确认时间
)

type SlotRange struct {
	From     uint64
	To       uint64
	SubmitAt time.Time
}

// blockLister 查询 [from, to] 内实际出块的 slot
type blockLister interface {
	ListBlocks(ctx context.Context, from, to uint64) ([]uint64, error)
}

type rpcBlockLister struct {
	client rpc.RpcClient
}

func (l rpcBlockLister) ListBlocks(ctx context.Context, from, to uint64) ([]uint64, error) {
	resp, err := l.client.GetBlocks(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// SlotCheckResult 一批区间的核查结果
type SlotCheckResult struct {
	Empty   []uint64 // 确认无块（跳过的 leader slot）
	Missing []uint64 // 链上有块但未收到，疑似漏扫
}

// SlotChecker 异步核查 BlockProcessor 报告的 slot 空洞
type SlotChecker struct {
	lister  blockLister
	rangeCh chan SlotRange
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewSlotChecker(endpoint string) *SlotChecker {
	return newSlotChecker(rpcBlockLister{client: rpc.NewRpcClient(endpoint)})
}

func newSlotChecker(lister blockLister) *SlotChecker {
	ctx, cancel := context.WithCancel(context.Background())
	return &SlotChecker{
		lister:  lister,
		rangeCh: make(chan SlotRange, 300),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *SlotChecker) Start() {
	go s.run()
}

func (s *SlotChecker) Stop() {
	s.cancel()
}

// Submit 提交一个 slot 范围进行空块检测，闭区间 [from, to]
func (s *SlotChecker) Submit(from, to uint64) {
	if from > to {
		logger.Warnf("[SlotChecker] invalid slot range: from (%d) > to (%d)", from, to)
		return
	}

	select {
	case s.rangeCh <- SlotRange{From: from, To: to, SubmitAt: time.Now()}:
	default:
		logger.Warnf("[SlotChecker] slot range channel full, dropped: [%d, %d]", from, to)
	}
}

func (s *SlotChecker) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	var ranges []SlotRange
	for {
		select {
		case <-s.ctx.Done():
			logger.Infof("[SlotChecker] stopped")
			return

		case r := <-s.rangeCh:
			if len(ranges) >= maxPendingRanges {
				logger.Warnf("[SlotChecker] too many pending ranges (%d), drop [%d, %d]", len(ranges), r.From, r.To)
				continue
			}
			ranges = append(ranges, r)

		case now := <-ticker.C:
			var ready []SlotRange
			ready, ranges = splitReady(ranges, now)
			if len(ready) == 0 {
				continue
			}

			// 串行执行，防止 goroutine 累积
			res := s.checkSlotRanges(ready)
			for _, slot := range res.Missing {
				logger.Errorf("[SlotChecker] slot %d is missing，疑似漏扫", slot)
			}
			if len(res.Empty) > 0 {
				logger.Infof("[SlotChecker] %d slots confirmed empty", len(res.Empty))
			}
		}
	}
}

// splitReady 按提交时间拆分为可核查与继续等待两部分
func splitReady(ranges []SlotRange, now time.Time) (ready, pending []SlotRange) {
	for _, r := range ranges {
		if now.Sub(r.SubmitAt) >= delayBeforeCheck {
			ready = append(ready, r)
		} else {
			pending = append(pending, r)
		}
	}
	return ready, pending
}

// checkSlotRanges 查询失败的区间不参与判定
func (s *SlotChecker) checkSlotRanges(ranges []SlotRange) SlotCheckResult {
	merged := mergeRanges(ranges)
	empty := make(map[uint64]struct{})
	var failed []SlotRange

	for _, r := range merged {
		if s.ctx.Err() != nil {
			logger.Infof("[SlotChecker] stopped while checking slot range [%d, %d]", r.From, r.To)
			return SlotCheckResult{}
		}

		blocks, err := s.listBlocksWithRetry(r.From, r.To, 3)
		if err != nil {
			logger.Warnf("[SlotChecker] getBlocks [%d, %d] failed after retries: %v", r.From, r.To, err)
			failed = append(failed, r)
			continue
		}
		fillEmptySlots(r.From, r.To, blocks, empty)
	}

	var res SlotCheckResult
	for _, r := range merged {
		for slot := r.From; slot <= r.To; slot++ {
			if slotInFailedRanges(slot, failed) {
				continue
			}
			if _, ok := empty[slot]; ok {
				res.Empty = append(res.Empty, slot)
			} else {
				res.Missing = append(res.Missing, slot)
			}
		}
	}
	return res
}

// slotInFailedRanges failedRanges 有序且不相交
func slotInFailedRanges(slot uint64, failedRanges []SlotRange) bool {
	i := sort.Search(len(failedRanges), func(i int) bool {
		return failedRanges[i].From > slot
	})
	if i == 0 {
		return false
	}
	r := failedRanges[i-1]
	return slot >= r.From && slot <= r.To
}

func (s *SlotChecker) listBlocksWithRetry(from, to uint64, maxRetries int) (blocks []uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[SlotChecker] panic during getBlocks: %v", r)
			blocks, err = nil, context.Canceled
		}
	}()

	for attempt := 1; ; attempt++ {
		if s.ctx.Err() != nil {
			return nil, context.Canceled
		}

		ctx, cancel := context.WithTimeout(s.ctx, 6*time.Second)
		blocks, err = s.lister.ListBlocks(ctx, from, to)
		cancel()
		if err == nil || attempt >= maxRetries {
			return blocks, err
		}
		time.Sleep(300 * time.Millisecond)
	}
}

// mergeRanges 拆分并合并 SlotRange：
// 1. 每段按 maxRangeSize 拆分
// 2. 按 From、To 升序排序
// 3. 重叠或相邻的段合并，合并后仍不超过 maxRangeSize
func mergeRanges(ranges []SlotRange) []SlotRange {
	if len(ranges) == 0 {
		return nil
	}

	parts := make([]SlotRange, 0, len(ranges))
	for _, r := range ranges {
		for from := r.From; ; {
			maxTo := from + maxRangeSize - 1
			if r.To <= maxTo {
				parts = append(parts, SlotRange{From: from, To: r.To, SubmitAt: r.SubmitAt})
				break
			}
			parts = append(parts, SlotRange{From: from, To: maxTo, SubmitAt: r.SubmitAt})
			from = maxTo + 1
		}
	}

	sort.Slice(parts, func(i, j int) bool {
		if parts[i].From == parts[j].From {
			return parts[i].To < parts[j].To
		}
		return parts[i].From < parts[j].From
	})

	merged := []SlotRange{parts[0]}
	for _, r := range parts[1:] {
		last := &merged[len(merged)-1]
		if r.From > last.To+1 {
			merged = append(merged, r)
			continue
		}
		if r.To <= last.To {
			continue
		}
		maxTo := last.From + maxRangeSize - 1
		if r.To <= maxTo {
			last.To = r.To
			continue
		}
		last.To = maxTo
		merged = append(merged, SlotRange{From: maxTo + 1, To: r.To, SubmitAt: r.SubmitAt})
	}
	return merged
}

// fillEmptySlots [from, to] 中不在 confirmed 里的 slot 写入 empty
func fillEmptySlots(from, to uint64, confirmed []uint64, empty map[uint64]struct{}) {
	if len(confirmed) >= int(to-from+1) {
		return
	}

	present := make(map[uint64]struct{}, len(confirmed))
	for _, slot := range confirmed {
		present[slot] = struct{}{}
	}
	for slot := from; slot <= to; slot++ {
		if _, ok := present[slot]; !ok {
			empty[slot] = struct{}{}
		}
	}
}
