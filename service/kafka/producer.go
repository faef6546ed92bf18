package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

// Producer owns the client and the sync producer built on it.
type Producer struct {
	client sarama.Client
	sarama.SyncProducer
}

// NewProducer connects to the brokers and, when asked, makes sure the
// event topic exists.
func NewProducer(c Config) (*Producer, error) {
	c.norm()
	cfg, err := BuildConfig(c)
	if err != nil {
		return nil, err
	}
	client, err := sarama.NewClient(c.Brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kafka client")
	}
	if c.EnsureTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "kafka admin")
		}
		// admin 与 client 共享连接，这里不关闭 admin
		if err := EnsureTopic(admin, c.Topic, c.Partitions, c.ReplicationFactor); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "kafka producer")
	}
	return &Producer{client: client, SyncProducer: p}, nil
}

func (p *Producer) Close() error {
	err := p.SyncProducer.Close()
	if cerr := p.client.Close(); err == nil {
		err = cerr
	}
	return err
}
