package kafka

import (
	"errors"
	"fmt"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
)

// EnsureTopic 会：
// 1) 不存在就创建；
// 2) 已存在且分区数 < 期望值时扩分区（Kafka 只能增加分区）。
func EnsureTopic(admin sarama.ClusterAdmin, topic string, partitions int32, rf int16) error {
	descs, err := admin.DescribeTopics([]string{topic})
	if err != nil {
		return fmt.Errorf("describe topic %s: %w", topic, err)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	if !exists {
		minISR := "1"
		if rf >= 3 {
			minISR = "2"
		}
		td := &sarama.TopicDetail{
			NumPartitions:     partitions,
			ReplicationFactor: rf,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(topic, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				logger.Info("topic exists (race)", zap.String("topic", topic))
				return nil
			}
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
		logger.Info("topic created", zap.String("topic", topic), zap.Int32("partitions", partitions), zap.Int16("rf", rf))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if partitions > cur {
		if err := admin.CreatePartitions(topic, partitions, nil, false); err != nil {
			return fmt.Errorf("expand partitions %s from %d to %d: %w", topic, cur, partitions, err)
		}
		logger.Info("topic partitions expanded", zap.String("topic", topic), zap.Int32("from", cur), zap.Int32("to", partitions))
	}
	return nil
}

func strPtr(s string) *string { return &s }
