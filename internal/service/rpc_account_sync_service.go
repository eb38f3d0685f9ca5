package service

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/blocto/solana-go-sdk/client"

	"idl-decoder-sol/internal/logic/core"
	"idl-decoder-sol/internal/logic/dispatcher"
	"idl-decoder-sol/internal/logic/eventparser"
	"idl-decoder-sol/internal/logic/progress"
	"idl-decoder-sol/internal/mq"
	"idl-decoder-sol/internal/svc"
	"idl-decoder-sol/internal/types"
	"idl-decoder-sol/pkg/logger"
)

// RpcAccountSyncService 定期通过 RPC 拉取配置中的账户，按 owner 程序的 IDL 解码后发送到 Kafka。
// 数据未变化的账户不重复发送。
type RpcAccountSyncService struct {
	sc       *svc.GrpcServiceContext
	client   *client.Client
	interval time.Duration
	accounts []string
	addrs    []types.Pubkey
	lastHash map[types.Pubkey][sha256.Size]byte // 仅 update 协程访问，只记录已发送成功的数据
	send     func(jobs []*mq.KafkaJob) error
	ctx      context.Context
	cancel   func(err error)
	stopChan chan struct{}
}

func NewRpcAccountSyncService(sc *svc.GrpcServiceContext) (*RpcAccountSyncService, error) {
	cfg := sc.Config.AccountSyncConf
	if cfg.Endpoint == "" {
		return nil, errors.New("account_sync.endpoint is required")
	}

	addrs := make([]types.Pubkey, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		pk, err := types.TryPubkeyFromBase58(a)
		if err != nil {
			return nil, fmt.Errorf("account_sync.accounts: %s: %w", a, err)
		}
		addrs = append(addrs, pk)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	s := &RpcAccountSyncService{
		sc:       sc,
		client:   client.NewClient(cfg.Endpoint),
		interval: time.Duration(cfg.SyncIntervalS) * time.Second,
		accounts: cfg.Accounts,
		addrs:    addrs,
		lastHash: make(map[types.Pubkey][sha256.Size]byte, len(addrs)),
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
	s.send = s.sendKafka
	return s, nil
}

func (s *RpcAccountSyncService) Start() {
	if len(s.accounts) > 0 && s.interval > 0 {
		s.scheduleNext(0)
	}
	<-s.stopChan
}

func (s *RpcAccountSyncService) scheduleNext(delay time.Duration) {
	time.AfterFunc(delay, func() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}
		if err := s.update(); err != nil {
			logger.Warnf("[RpcAccountSync] 周期性更新失败: %v", err)
		}
		s.scheduleNext(s.interval)
	})
}

func (s *RpcAccountSyncService) Stop() {
	s.cancel(errors.New("RpcAccountSyncService stop"))
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
}

func (s *RpcAccountSyncService) update() (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[RpcAccountSync] update panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("update panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	slot, err := s.client.GetSlot(ctx)
	if err != nil {
		return fmt.Errorf("GetSlot failed: %w", err)
	}
	if !s.sc.ProgressManager.ShouldProcessSlot(ctx, slot, progress.EventAccount, time.Now().Unix()) {
		return nil
	}

	start := time.Now()
	infos, err := s.client.GetMultipleAccounts(ctx, s.accounts)
	if err != nil {
		return fmt.Errorf("GetMultipleAccounts failed: %w", err)
	}
	if len(infos) != len(s.accounts) {
		return fmt.Errorf("返回账户数与请求不一致: got=%d want=%d", len(infos), len(s.accounts))
	}
	logger.Debugf("[RpcAccountSync] GetMultipleAccounts 成功, 账户数: %d, 耗时: %v", len(infos), time.Since(start))

	snaps := make([]eventparser.AccountSnapshot, 0, len(infos))
	for i, info := range infos {
		if len(info.Data) == 0 {
			continue
		}
		snaps = append(snaps, eventparser.AccountSnapshot{
			Address:  s.addrs[i],
			Owner:    types.Pubkey(info.Owner),
			Lamports: info.Lamports,
			Data:     info.Data,
		})
	}

	records, pending := s.changedRecords(snaps)
	if len(records) == 0 {
		return nil
	}
	if err := s.publish(slot, records, pending); err != nil {
		return err
	}
	logger.Infof("[RpcAccountSync] slot=%d 发送账户快照 %d 条", slot, len(records))
	return s.sc.ProgressManager.MarkSlotStatus(ctx, slot, progress.EventAccount, progress.SlotProcessed)
}

// publish 发送成功后才记录数据哈希，失败的快照下一轮重新发送
func (s *RpcAccountSyncService) publish(slot uint64, records []*core.Record, pending map[types.Pubkey][sha256.Size]byte) error {
	meta := dispatcher.BlockMeta{Slot: slot, BlockTime: time.Now().Unix(), Source: dispatcher.SourceRpc}
	jobs := dispatcher.BuildKafkaJobs(meta, records, s.sc.Config.KafkaProducerConf)
	if err := s.send(jobs); err != nil {
		return err
	}
	for addr, hash := range pending {
		s.lastHash[addr] = hash
	}
	return nil
}

func (s *RpcAccountSyncService) sendKafka(jobs []*mq.KafkaJob) error {
	sendTimeout := time.Duration(s.sc.Config.TimeConf.EventSendTimeoutMs) * time.Millisecond
	_, failed := mq.SendKafkaJobs(s.ctx, s.sc.Producer, jobs, sendTimeout)
	if len(failed) > 0 {
		return fmt.Errorf("kafka send failed: %d/%d, first err: %w", len(failed), len(jobs), failed[0].Err)
	}
	return nil
}

// changedRecords 解码数据有变化的账户，未注册程序或解码失败的账户跳过。
// 返回的哈希在发送成功后由 publish 提交
func (s *RpcAccountSyncService) changedRecords(snaps []eventparser.AccountSnapshot) ([]*core.Record, map[types.Pubkey][sha256.Size]byte) {
	records := make([]*core.Record, 0, len(snaps))
	pending := make(map[types.Pubkey][sha256.Size]byte, len(snaps))
	for _, snap := range snaps {
		hash := sha256.Sum256(snap.Data)
		if prev, ok := s.lastHash[snap.Address]; ok && prev == hash {
			continue
		}
		rec, ok := eventparser.ExtractAccount(s.sc.Programs, snap)
		if !ok {
			logger.Debugf("[RpcAccountSync] 账户 %s (owner=%s) 无法解码，跳过", snap.Address, snap.Owner)
			continue
		}
		pending[snap.Address] = hash
		records = append(records, rec)
	}
	return records, pending
}
