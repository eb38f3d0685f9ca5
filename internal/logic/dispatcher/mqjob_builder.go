package dispatcher

import (
	"idl-decoder-sol/internal/config"
	"idl-decoder-sol/internal/logic/core"
	"idl-decoder-sol/internal/mq"
	"idl-decoder-sol/internal/utils"
	"idl-decoder-sol/pkg/logger"
)

// topicFor 记录类别 -> topic 与分区数
func topicFor(cfg config.KafkaProducerConfig, t core.RecordType) (string, int) {
	switch t {
	case core.RecordInstruction:
		return cfg.Topics.Instruction, cfg.Partitions.Instruction
	case core.RecordEvent:
		return cfg.Topics.Event, cfg.Partitions.Event
	case core.RecordAccount:
		return cfg.Topics.Account, cfg.Partitions.Account
	}
	return "", 0
}

// BuildAllKafkaJobs 将一个区块内所有交易的解码结果按类别与分区封装为 KafkaJob。
// 构建后的 []*mq.KafkaJob 可直接传入 mq.SendKafkaJobs 发送。
func BuildAllKafkaJobs(meta BlockMeta, results []core.ParsedTxResult, cfg config.KafkaProducerConfig) []*mq.KafkaJob {
	total := 0
	for _, res := range results {
		total += len(res.Records)
	}
	if total == 0 {
		return nil
	}

	records := make([]*core.Record, 0, total)
	for _, res := range results {
		records = append(records, res.Records...)
	}
	return BuildKafkaJobs(meta, records, cfg)
}

// BuildKafkaJobs 按记录类别分组，再按 Key 分配到分区，每个非空分区生成一个 KafkaJob
func BuildKafkaJobs(meta BlockMeta, records []*core.Record, cfg config.KafkaProducerConfig) []*mq.KafkaJob {
	if len(records) == 0 {
		return nil
	}

	byType := make(map[core.RecordType][]*core.Record, 3)
	for _, r := range records {
		byType[r.Type] = append(byType[r.Type], r)
	}

	jobs := make([]*mq.KafkaJob, 0, len(byType))
	for _, t := range []core.RecordType{core.RecordInstruction, core.RecordEvent, core.RecordAccount} {
		list := byType[t]
		if len(list) == 0 {
			continue
		}
		topic, partitions := topicFor(cfg, t)
		if topic == "" {
			logger.Warnf("[Dispatcher] topic for %s not configured, drop %d records", t, len(list))
			continue
		}
		jobs = append(jobs, buildPartitionJobs(meta, t, topic, partitions, list)...)
	}
	return jobs
}

func buildPartitionJobs(meta BlockMeta, t core.RecordType, topic string, partitions int, records []*core.Record) []*mq.KafkaJob {
	if partitions <= 0 {
		partitions = 1
	}

	buckets := make([][]*core.Record, partitions)
	capacity := utils.CalcCapPerPartition(len(records), partitions, 10)
	for i := range buckets {
		buckets[i] = make([]*core.Record, 0, capacity)
	}
	for _, r := range records {
		pid := utils.PartitionHashBytes(r.Key, uint32(partitions))
		buckets[pid] = append(buckets[pid], r)
	}

	jobs := make([]*mq.KafkaJob, 0, partitions)
	for pid, list := range buckets {
		if len(list) == 0 {
			continue
		}
		value, err := utils.EncodeEvent(uint32(t), buildEnvelope(meta, t, list))
		if err != nil {
			logger.Errorf("[Dispatcher] encode %s slot=%d partition=%d failed: %v", t, meta.Slot, pid, err)
			continue
		}
		jobs = append(jobs, &mq.KafkaJob{
			Topic:     topic,
			Partition: int32(pid),
			Value:     value,
			Count:     len(list),
		})
	}
	return jobs
}
