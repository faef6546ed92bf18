package natsx

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Publish 按 Biz 路由发送
func (c *Client) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	r, ok := c.route(biz)
	if !ok {
		return errors.Errorf("route not found: %s", biz)
	}
	msg := nats.NewMsg(r.Subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}

	switch r.Mode {
	case Core:
		return errors.Wrap(c.nc.PublishMsg(msg), "publish")
	case JetStream:
		// 带上下文 publish，Nats-Msg-Id 头由服务端去重
		if _, err := c.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return errors.Wrap(err, "publish")
		}
		return nil
	default:
		return errors.Errorf("unsupported mode %d", r.Mode)
	}
}
