package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"idl-decoder-sol/pkg/logger"
)

type LogConfig struct {
	Format   string `yaml:"format"`   // 日志格式，支持 "console" 或 "json"
	LogDir   string `yaml:"log_dir"`  // 日志目录（可为相对路径或绝对路径）
	Level    string `yaml:"level"`    // 日志级别：debug / info / warn / error
	Compress bool   `yaml:"compress"` // 是否压缩旧日志文件
}

func (c *LogConfig) ToLogOption() logger.LogOption {
	return logger.LogOption{
		Format:   c.Format,
		LogDir:   c.LogDir,
		Level:    c.Level,
		Compress: c.Compress,
	}
}

// IdlConfig IDL 加载配置
type IdlConfig struct {
	Dir                string `yaml:"dir"`                  // IDL JSON 目录，每个文件一个程序
	ReloadIntervalSec  int    `yaml:"reload_interval_sec"`  // 目录扫描间隔（秒）
	StrictTypes        bool   `yaml:"strict_types"`         // 未识别的类型形状直接编译失败
	AllowTrailingBytes bool   `yaml:"allow_trailing_bytes"` // 解码允许负载末尾多余字节
}

// AccountSyncConfig 通过 RPC 定期拉取并解码指定账户
type AccountSyncConfig struct {
	Endpoint      string   `yaml:"endpoint"`        // Solana RPC 地址
	SyncIntervalS int      `yaml:"sync_interval_s"` // 拉取间隔（秒），<=0 表示关闭
	Accounts      []string `yaml:"accounts"`        // 需要快照的账户地址（base58）
}

// KafkaProducerConfig 表示 Kafka 生产者相关配置
type KafkaProducerConfig struct {
	Brokers   string `yaml:"brokers"`    // Kafka broker 地址，多个用英文逗号分隔
	BatchSize int    `yaml:"batch_size"` // 批处理大小（单位字节）
	LingerMs  int    `yaml:"linger_ms"`  // 批处理最大延迟（毫秒）

	Topics struct {
		Instruction string `yaml:"instruction"` // 指令记录
		Event       string `yaml:"event"`       // 事件记录
		Account     string `yaml:"account"`     // 账户快照
	} `yaml:"topics"`

	Partitions struct {
		Instruction int `yaml:"instruction"`
		Event       int `yaml:"event"`
		Account     int `yaml:"account"`
	} `yaml:"partitions"`
}

// TimeConfig 表示各种超时配置（单位：毫秒）
type TimeConfig struct {
	SlotDispatchTimeoutMs int `yaml:"slot_dispatch_timeout_ms"` // 每个 slot 的发送最大耗时（Kafka + Redis）
	EventSendTimeoutMs    int `yaml:"event_send_timeout_ms"`    // 单条消息发送到 Kafka 并等待 ack 的超时时间
}

type GrpcStreamConfig struct {
	Endpoint string `yaml:"endpoint"` // gRPC 服务端地址
	XToken   string `yaml:"x_token"`  // x-token 认证

	// 应用级逻辑心跳（ping）配置
	StreamPingIntervalSec int `yaml:"stream_ping_interval_sec"`

	// gRPC Keepalive 底层连接检测配置
	KeepalivePingIntervalSec int `yaml:"keepalive_ping_interval_sec"`
	KeepalivePingTimeoutSec  int `yaml:"keepalive_ping_timeout_sec"`

	// gRPC 窗口大小调优（用于大数据流推送）
	InitialWindowSize     int `yaml:"initial_window_size"`
	InitialConnWindowSize int `yaml:"initial_conn_window_size"`

	// 消息体大小限制
	MaxCallSendMsgSize int `yaml:"max_call_send_msg_size"`
	MaxCallRecvMsgSize int `yaml:"max_call_recv_msg_size"`

	// 超时与重连策略
	ReconnectIntervalSec int `yaml:"reconnect_interval_sec"` // 重连最小间隔（秒）
	ConnectTimeoutSec    int `yaml:"connect_timeout_sec"`    // 连接建立超时（秒）
	SendTimeoutSec       int `yaml:"send_timeout_sec"`       // 发送超时（秒）
	BlockRecvTimeoutSec  int `yaml:"block_recv_timeout_sec"` // 超过该时间未收到 block 触发重连（秒）
}

// GrpcConfig 是主配置结构体
type GrpcConfig struct {
	LogConf           LogConfig           `yaml:"logger"`
	IdlConf           IdlConfig           `yaml:"idl"`
	AccountSyncConf   AccountSyncConfig   `yaml:"account_sync"`
	KafkaProducerConf KafkaProducerConfig `yaml:"kafka_producer"`
	TimeConf          TimeConfig          `yaml:"time_conf"`

	RedisAddr    string `yaml:"redis_addr"` // Redis 地址，为空时不做 slot 判重
	ProgressConf struct {
		RecentThresholdSec int `yaml:"recent_threshold_sec"` // 判定为"近期 block"的时间阈值（秒）
		SlotTTLSec         int `yaml:"slot_ttl_sec"`         // slot 状态在 Redis 中的保留时间（秒）
	} `yaml:"progress"`

	SlotCheckerConf struct {
		Endpoint string `yaml:"endpoint"` // RPC 地址，为空时不做漏块检测
	} `yaml:"slot_checker"`

	Grpc GrpcStreamConfig `yaml:"grpc"`
}

// Load 读取并解析 YAML 配置，未填写的字段使用默认值
func Load(path string, c *GrpcConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	c.SetDefaults()
	return c.Validate()
}

// MustLoad 同 Load，失败直接退出
func MustLoad(path string, c *GrpcConfig) {
	if err := Load(path, c); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}

func (c *GrpcConfig) SetDefaults() {
	setDefault(&c.IdlConf.ReloadIntervalSec, 30)
	if c.IdlConf.Dir == "" {
		c.IdlConf.Dir = "etc/idl"
	}

	k := &c.KafkaProducerConf
	setDefault(&k.Partitions.Instruction, 1)
	setDefault(&k.Partitions.Event, 1)
	setDefault(&k.Partitions.Account, 1)

	setDefault(&c.TimeConf.SlotDispatchTimeoutMs, 3000)
	setDefault(&c.TimeConf.EventSendTimeoutMs, 2000)

	setDefault(&c.ProgressConf.RecentThresholdSec, 60)
	setDefault(&c.ProgressConf.SlotTTLSec, 3*24*3600)

	g := &c.Grpc
	setDefault(&g.StreamPingIntervalSec, 10)
	setDefault(&g.KeepalivePingIntervalSec, 30)
	setDefault(&g.KeepalivePingTimeoutSec, 10)
	setDefault(&g.InitialWindowSize, 1<<30)
	setDefault(&g.InitialConnWindowSize, 1<<30)
	setDefault(&g.MaxCallSendMsgSize, 64<<20)
	setDefault(&g.MaxCallRecvMsgSize, 1<<30)
	setDefault(&g.ReconnectIntervalSec, 2)
	setDefault(&g.ConnectTimeoutSec, 10)
	setDefault(&g.SendTimeoutSec, 5)
	setDefault(&g.BlockRecvTimeoutSec, 30)
}

func setDefault(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

// Validate 校验必填项
func (c *GrpcConfig) Validate() error {
	if c.Grpc.Endpoint == "" {
		return fmt.Errorf("grpc.endpoint is required")
	}
	k := &c.KafkaProducerConf
	if k.Brokers == "" {
		return fmt.Errorf("kafka_producer.brokers is required")
	}
	if k.Topics.Instruction == "" || k.Topics.Event == "" || k.Topics.Account == "" {
		return fmt.Errorf("kafka_producer.topics: instruction, event and account are required")
	}
	return nil
}
