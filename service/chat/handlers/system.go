package handlers

import (
	"encoding/json"

	"github.com/ys7zTS/sandbox/service/chat"
)

func syncAll(c *chat.Context, _ json.RawMessage) (any, error) {
	if _, err := c.Server.PushSync(c, c.Session); err != nil {
		return nil, err
	}
	return ok, nil
}

func heartbeat(*chat.Context, json.RawMessage) (any, error) {
	return "pong", nil
}
