package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYaml = `
logger:
  format: json
  log_dir: logs
  level: debug
idl:
  dir: /data/idl
  strict_types: true
account_sync:
  endpoint: https://api.mainnet-beta.solana.com
  sync_interval_s: 15
  accounts:
    - whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc
kafka_producer:
  brokers: 127.0.0.1:9092
  topics:
    instruction: idl_ix
    event: idl_event
    account: idl_account
  partitions:
    event: 8
redis_addr: 127.0.0.1:6379
grpc:
  endpoint: grpc.example.com:443
  x_token: secret
  send_timeout_sec: 3
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "grpc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	var c GrpcConfig
	require.NoError(t, Load(writeConfig(t, sampleYaml), &c))

	assert.Equal(t, "json", c.LogConf.Format)
	assert.Equal(t, "debug", c.LogConf.ToLogOption().Level)
	assert.Equal(t, "/data/idl", c.IdlConf.Dir)
	assert.True(t, c.IdlConf.StrictTypes)
	assert.False(t, c.IdlConf.AllowTrailingBytes)
	assert.Equal(t, 30, c.IdlConf.ReloadIntervalSec, "未填写使用默认值")
	assert.Equal(t, []string{"whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc"}, c.AccountSyncConf.Accounts)

	assert.Equal(t, "idl_event", c.KafkaProducerConf.Topics.Event)
	assert.Equal(t, 8, c.KafkaProducerConf.Partitions.Event)
	assert.Equal(t, 1, c.KafkaProducerConf.Partitions.Instruction)

	assert.Equal(t, "secret", c.Grpc.XToken)
	assert.Equal(t, 3, c.Grpc.SendTimeoutSec)
	assert.Equal(t, 30, c.Grpc.BlockRecvTimeoutSec)
	assert.Equal(t, 60, c.ProgressConf.RecentThresholdSec)
}

func TestLoad_Errors(t *testing.T) {
	var c GrpcConfig
	assert.Error(t, Load(filepath.Join(t.TempDir(), "missing.yaml"), &c))

	c = GrpcConfig{}
	assert.Error(t, Load(writeConfig(t, "grpc: [oops"), &c))

	c = GrpcConfig{}
	err := Load(writeConfig(t, "grpc:\n  endpoint: x:1\n"), &c)
	assert.ErrorContains(t, err, "kafka_producer.brokers")
}
