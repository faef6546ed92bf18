package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

type Config struct {
	Brokers           []string `mapstructure:"brokers"`
	Topic             string   `mapstructure:"topic"`
	Version           string   `mapstructure:"version"`     // 例如 "2.1.0"
	Compression       string   `mapstructure:"compression"` // none/snappy/lz4/zstd
	Retries           int      `mapstructure:"retries"`
	Partitions        int32    `mapstructure:"partitions"`
	ReplicationFactor int16    `mapstructure:"replication_factor"`
	EnsureTopic       bool     `mapstructure:"ensure_topic"`
}

func (c *Config) norm() {
	if c.Topic == "" {
		c.Topic = "sandbox.events"
	}
	if c.Version == "" {
		c.Version = "2.1.0"
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.Partitions <= 0 {
		c.Partitions = 8
	}
	if c.ReplicationFactor <= 0 {
		c.ReplicationFactor = 1
	}
}

// BuildConfig 生成同步生产者所需的 sarama 配置
func BuildConfig(c Config) (*sarama.Config, error) {
	c.norm()
	version, err := sarama.ParseKafkaVersion(c.Version)
	if err != nil {
		return nil, errors.Wrap(err, "kafka version")
	}
	cfg := sarama.NewConfig()
	cfg.Version = version

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.Retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // ★ Key 决定分区，同一会话保序
	switch strings.ToLower(c.Compression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg, nil
}
