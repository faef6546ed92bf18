// Package kafka mirrors chat events onto a Kafka topic, keyed by
// conversation so one conversation stays on one partition.
package kafka

import (
	"context"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/module/chat/event"
)

type Relay struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
	log      *zap.Logger
}

var _ event.Handler = (*Relay)(nil)

func NewRelay(p sarama.SyncProducer, topic string) *Relay {
	if topic == "" {
		topic = "sandbox.events"
	}
	return &Relay{producer: p, topic: topic, now: time.Now, log: logger.Named("kafka")}
}

func (r *Relay) HandleEvent(_ context.Context, ev event.Event) {
	data, err := event.Encode(ev, r.now())
	if err != nil {
		r.log.Error("encode event", zap.String("event", ev.Name()), zap.Error(err))
		return
	}
	msg := &sarama.ProducerMessage{
		Topic: r.topic,
		Key:   sarama.StringEncoder(event.Key(ev)),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event"), Value: []byte(ev.Name())},
		},
	}
	partition, offset, err := r.producer.SendMessage(msg)
	if err != nil {
		r.log.Warn("send event", zap.String("event", ev.Name()), zap.Error(err))
		return
	}
	r.log.Debug("event sent", zap.String("event", ev.Name()), zap.Int32("partition", partition), zap.Int64("offset", offset))
}
