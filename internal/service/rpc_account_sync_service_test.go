package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idl-decoder-sol/internal/cache"
	"idl-decoder-sol/internal/config"
	"idl-decoder-sol/internal/logic/decoder"
	"idl-decoder-sol/internal/logic/eventparser"
	"idl-decoder-sol/internal/mq"
	"idl-decoder-sol/internal/svc"
	"idl-decoder-sol/internal/types"
)

const vaultAccountIDL = `{
	"address": "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc",
	"instructions": [],
	"accounts": [{"name": "Vault", "discriminator": [5,5,5,5,5,5,5,5]}],
	"types": [{"name": "Vault", "type": {"kind": "struct", "fields": [{"name": "bump", "type": "u8"}]}}]
}`

func newVaultSyncService(t *testing.T) (*RpcAccountSyncService, *decoder.Program) {
	t.Helper()
	p, err := decoder.CompileJSON([]byte(vaultAccountIDL))
	require.NoError(t, err)
	programs := cache.NewProgramCache()
	programs.Set(p)

	sc := &svc.GrpcServiceContext{Programs: programs}
	sc.Config.AccountSyncConf = config.AccountSyncConfig{Endpoint: "http://127.0.0.1:8899"}
	sc.Config.KafkaProducerConf.Topics.Account = "sol-idl-account"
	sc.Config.KafkaProducerConf.Partitions.Account = 1
	s, err := NewRpcAccountSyncService(sc)
	require.NoError(t, err)
	return s, p
}

func TestRpcAccountSyncService_ChangedRecords(t *testing.T) {
	s, p := newVaultSyncService(t)
	s.send = func([]*mq.KafkaJob) error { return nil }

	var a, b types.Pubkey
	a[0], b[0] = 1, 2
	snaps := []eventparser.AccountSnapshot{
		{Address: a, Owner: p.Address, Data: []byte{5, 5, 5, 5, 5, 5, 5, 5, 1}},
		{Address: b, Owner: b, Data: []byte{1, 2, 3}},
	}

	records, pending := s.changedRecords(snaps)
	require.Len(t, records, 1, "owner 未注册的账户跳过")
	assert.Equal(t, "Vault", records[0].Name)
	assert.Len(t, pending, 1)

	// 未发送前不记录哈希
	again, _ := s.changedRecords(snaps)
	assert.Len(t, again, 1)

	require.NoError(t, s.publish(1, records, pending))
	again, _ = s.changedRecords(snaps)
	assert.Empty(t, again, "数据未变化不重复发送")

	snaps[0].Data = []byte{5, 5, 5, 5, 5, 5, 5, 5, 2}
	again, _ = s.changedRecords(snaps)
	assert.Len(t, again, 1)
}

func TestRpcAccountSyncService_ResendAfterFailedSend(t *testing.T) {
	s, p := newVaultSyncService(t)

	var sent int
	sendErr := errors.New("broker down")
	s.send = func(jobs []*mq.KafkaJob) error {
		sent += len(jobs)
		return sendErr
	}

	var a types.Pubkey
	a[0] = 1
	snaps := []eventparser.AccountSnapshot{{Address: a, Owner: p.Address, Data: []byte{5, 5, 5, 5, 5, 5, 5, 5, 1}}}

	// 第一轮发送失败
	records, pending := s.changedRecords(snaps)
	require.Len(t, records, 1)
	assert.ErrorIs(t, s.publish(1, records, pending), sendErr)
	assert.Equal(t, 1, sent)

	// 第二轮同样的数据必须重新发送
	records, pending = s.changedRecords(snaps)
	require.Len(t, records, 1, "发送失败的快照下一轮重发")

	s.send = func(jobs []*mq.KafkaJob) error {
		sent += len(jobs)
		return nil
	}
	require.NoError(t, s.publish(2, records, pending))
	assert.Equal(t, 2, sent)

	records, _ = s.changedRecords(snaps)
	assert.Empty(t, records)
}

func TestNewRpcAccountSyncService_Invalid(t *testing.T) {
	sc := &svc.GrpcServiceContext{Programs: cache.NewProgramCache()}
	_, err := NewRpcAccountSyncService(sc)
	assert.Error(t, err, "缺少 endpoint")

	sc.Config.AccountSyncConf = config.AccountSyncConfig{Endpoint: "http://x", Accounts: []string{"not-base58!"}}
	_, err = NewRpcAccountSyncService(sc)
	assert.Error(t, err)
}
