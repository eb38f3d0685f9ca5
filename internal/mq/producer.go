package mq

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"idl-decoder-sol/internal/config"
	"idl-decoder-sol/internal/utils"
	"idl-decoder-sol/pkg/logger"
)

const (
	defaultBatchSize = 32 * 1024
	defaultLingerMs  = 5
)

// topicSpecs 配置中的 topic 与分区数，同名 topic 只保留第一次出现
func topicSpecs(cfg config.KafkaProducerConfig, replicationFactor int) []kafka.TopicSpecification {
	all := []struct {
		topic      string
		partitions int
	}{
		{cfg.Topics.Instruction, cfg.Partitions.Instruction},
		{cfg.Topics.Event, cfg.Partitions.Event},
		{cfg.Topics.Account, cfg.Partitions.Account},
	}

	seen := make(map[string]struct{}, len(all))
	specs := make([]kafka.TopicSpecification, 0, len(all))
	for _, t := range all {
		if t.topic == "" {
			continue
		}
		if _, ok := seen[t.topic]; ok {
			continue
		}
		seen[t.topic] = struct{}{}
		specs = append(specs, kafka.TopicSpecification{
			Topic:             t.topic,
			NumPartitions:     max(t.partitions, 1),
			ReplicationFactor: replicationFactor,
		})
	}
	return specs
}

// ensureTopics 检查并创建缺失的 topic
func ensureTopics(cfg config.KafkaProducerConfig) error {
	adminClient, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer adminClient.Close()

	meta, err := adminClient.GetMetadata(nil, true, 10000)
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	replicationFactor := 1
	if len(meta.Brokers) > 1 {
		replicationFactor = 2
	}
	logger.Infof("[Kafka] broker count = %d, using replication factor = %d", len(meta.Brokers), replicationFactor)

	var toCreate []kafka.TopicSpecification
	for _, spec := range topicSpecs(cfg, replicationFactor) {
		if _, ok := meta.Topics[spec.Topic]; !ok {
			toCreate = append(toCreate, spec)
		}
	}
	if len(toCreate) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := adminClient.CreateTopics(ctx, toCreate)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}
	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %w", result.Topic, result.Error)
		}
		logger.Infof("[Kafka] topic %s created", result.Topic)
	}
	return nil
}

// NewKafkaProducer 创建 Kafka 生产者，缺失的 topic 会先创建
func NewKafkaProducer(cfg config.KafkaProducerConfig) (*kafka.Producer, error) {
	if err := ensureTopics(cfg); err != nil {
		return nil, err
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	lingerMs := cfg.LingerMs
	if lingerMs < 0 {
		lingerMs = defaultLingerMs
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"client.id":         fmt.Sprintf("idl-decoder-sol-%s", utils.GetLocalIP()),

		// 可靠性保障
		"acks":                                  "all",
		"enable.idempotence":                    true,
		"max.in.flight.requests.per.connection": 5, // 幂等场景下最大值为 5

		// 超时与重试
		"delivery.timeout.ms": 30000,
		"request.timeout.ms":  30000,
		"retries":             5,
		"retry.backoff.ms":    100,

		// 性能优化
		"batch.size":       batchSize,
		"linger.ms":        lingerMs,
		"compression.type": "none",

		"message.max.bytes": 2 * 1024 * 1024, // 2MB
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return producer, nil
}
