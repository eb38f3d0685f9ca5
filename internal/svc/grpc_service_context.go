package svc

import (
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"

	"idl-decoder-sol/internal/cache"
	"idl-decoder-sol/internal/config"
	"idl-decoder-sol/internal/logic/progress"
	"idl-decoder-sol/internal/mq"
	"idl-decoder-sol/pkg/logger"
)

// GrpcServiceContext 包含服务共享资源
type GrpcServiceContext struct {
	Config          config.GrpcConfig
	Programs        *cache.ProgramCache
	Producer        *kafka.Producer
	Redis           *redis.Client
	ProgressManager *progress.ProgressManager
}

// NewGrpcServiceContext 创建服务上下文
func NewGrpcServiceContext(c config.GrpcConfig) (*GrpcServiceContext, error) {
	// 1. 初始化 Kafka 生产者
	producer, err := mq.NewKafkaProducer(c.KafkaProducerConf)
	if err != nil {
		logger.Errorf("Kafka producer 初始化失败: %v", err)
		return nil, err
	}

	// 2. 初始化 Redis 客户端（用于 slot 判重），未配置时不判重
	var (
		rdb   *redis.Client
		store progress.SlotStore
	)
	if c.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		store = progress.NewRedisProgressStore(rdb, time.Duration(c.ProgressConf.SlotTTLSec)*time.Second)
	} else {
		logger.Warnf("redis_addr 未配置，slot 判重关闭")
	}

	ctx := &GrpcServiceContext{
		Config:          c,
		Programs:        cache.NewProgramCache(),
		Producer:        producer,
		Redis:           rdb,
		ProgressManager: progress.NewProgressManager(store, c.ProgressConf.RecentThresholdSec),
	}

	logger.Infof("服务上下文初始化完成")
	return ctx, nil
}

// Close 关闭服务上下文中的资源
func (ctx *GrpcServiceContext) Close() {
	if ctx.Producer != nil {
		ctx.Producer.Flush(3000)
		ctx.Producer.Close()
	}
	if ctx.Redis != nil {
		if err := ctx.Redis.Close(); err != nil {
			logger.Warnf("redis close: %v", err)
		}
	}
}
