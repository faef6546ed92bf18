package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ys7zTS/sandbox/module/chat/event"
	"github.com/ys7zTS/sandbox/module/chat/model"
)

func TestRelaySendsKeyedEnvelope(t *testing.T) {
	cfg, err := BuildConfig(Config{})
	require.NoError(t, err)
	sp := mocks.NewSyncProducer(t, cfg)
	defer func() { _ = sp.Close() }()

	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var env struct {
			Event string `json:"event"`
			Key   string `json:"key"`
		}
		if err := json.Unmarshal(val, &env); err != nil {
			return err
		}
		if env.Event != "message" || env.Key != "10001:20002" {
			return errors.New("unexpected envelope " + string(val))
		}
		return nil
	})
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	r := NewRelay(sp, "")
	r.HandleEvent(context.Background(), event.MessagePersisted{Message: &model.Message{
		Seq: 1, Type: model.ConvPrivate, SenderID: 10001, TargetID: 20002, PeerID: "10001:20002",
	}})
	assert.NotPanics(t, func() {
		r.HandleEvent(context.Background(), event.MembershipChanged{GroupID: 30001})
	})
}

func TestBuildConfig(t *testing.T) {
	cfg, err := BuildConfig(Config{Compression: "LZ4"})
	require.NoError(t, err)
	assert.Equal(t, sarama.CompressionLZ4, cfg.Producer.Compression)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)

	_, err = BuildConfig(Config{Version: "not-a-version"})
	assert.Error(t, err)
}
