package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"idl-decoder-sol/pkg/logger"
)

// KafkaJob 表示一条需要发送的 Kafka 消息
type KafkaJob struct {
	Topic     string
	Partition int32
	Key       []byte
	Value     []byte
	Count     int // 消息内包含的记录数，仅用于统计
}

// KafkaSendResult 表示每条消息的发送结果
type KafkaSendResult struct {
	Job *KafkaJob
	Err error
}

// MessageProducer *kafka.Producer 的发送能力
type MessageProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
}

// SendKafkaJobs 并发发送多条 Kafka 消息并等待投递回执，ctx 取消时未完成的消息记为失败。
// 成功列表保持 jobs 原有顺序；jobs 为空时不会访问 producer
func SendKafkaJobs(
	ctx context.Context,
	producer MessageProducer,
	jobs []*KafkaJob,
	perMessageTimeout time.Duration,
) (ok []*KafkaJob, failed []KafkaSendResult) {
	if len(jobs) == 0 {
		return nil, nil
	}

	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for i, job := range jobs {
		go func() {
			defer wg.Done()
			errs[i] = sendOne(ctx, producer, job, perMessageTimeout)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			failed = append(failed, KafkaSendResult{Job: jobs[i], Err: err})
			continue
		}
		ok = append(ok, jobs[i])
	}
	return ok, failed
}

func sendOne(ctx context.Context, producer MessageProducer, job *KafkaJob, timeout time.Duration) error {
	topic := job.Topic
	delivery := make(chan kafka.Event, 1)
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: job.Partition},
		Key:            job.Key,
		Value:          job.Value,
	}
	if err := producer.Produce(msg, delivery); err != nil {
		return fmt.Errorf("produce %s[%d]: %w", topic, job.Partition, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e, open := <-delivery:
		return deliveryError(e, open)
	case <-timer.C:
		go safeDrain(delivery, topic)
		return fmt.Errorf("delivery timeout (>%v)", timeout)
	case <-ctx.Done():
		go safeDrain(delivery, topic)
		return fmt.Errorf("ctx cancelled: %w", ctx.Err())
	}
}

// deliveryError 解析投递回执
func deliveryError(e kafka.Event, open bool) error {
	if !open {
		return errors.New("delivery channel closed unexpectedly")
	}
	m, isMsg := e.(*kafka.Message)
	if !isMsg {
		return fmt.Errorf("invalid delivery event: %T", e)
	}
	return m.TopicPartition.Error
}

// safeDrain 用于确保 deliveryChan 被 drain 避免 Kafka 回调阻塞
func safeDrain(ch <-chan kafka.Event, topic string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warnf("[Kafka] drain delivery channel panic, topic=%s: %v", topic, r)
		}
	}()
	select {
	case <-ch:
	case <-time.After(2 * time.Second): // 最多等 2 秒
		logger.Warnf("[Kafka] delivery report not received in 2s, topic=%s", topic)
	}
}
