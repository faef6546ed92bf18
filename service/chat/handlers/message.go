package handlers

import (
	"encoding/json"

	"github.com/ys7zTS/sandbox/module/chat/message"
	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/readstate"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/service/chat"
)

type messageHandler struct {
	msgs  *message.Service
	reads *readstate.Tracker
	conv  store.ConversationStore
}

type convReq struct {
	Type     model.ConvType `json:"type"`
	TargetID int64          `json:"targetId"`
	Limit    int            `json:"limit"`
	Seq      int64          `json:"seq"`
}

func (h *messageHandler) getMessages(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[convReq](data)
	if err != nil {
		return nil, err
	}
	return h.msgs.History(c, c.UserID(), req.Type, req.TargetID, req.Limit)
}

type sendReq struct {
	Type     model.ConvType `json:"type"`
	TargetID int64          `json:"targetId"`
	Content  model.Content  `json:"content"`
	TempID   string         `json:"tempId"`
	SenderID int64          `json:"senderId"`
}

// sendMessage sends as senderId when given, otherwise as the active user.
func (h *messageHandler) sendMessage(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[sendReq](data)
	if err != nil {
		return nil, err
	}
	sender, err := orSelf(c, req.SenderID)
	if err != nil {
		return nil, err
	}
	return h.msgs.Send(c, message.SendRequest{
		SenderID: sender,
		Kind:     req.Type,
		TargetID: req.TargetID,
		Content:  req.Content,
		TempID:   req.TempID,
	})
}

func (h *messageHandler) recallMessage(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[convReq](data)
	if err != nil {
		return nil, err
	}
	if _, err := h.msgs.Recall(c, c.UserID(), req.Type, req.TargetID, req.Seq); err != nil {
		return nil, err
	}
	return ok, nil
}

type readResp struct {
	Status      string `json:"status"`
	UnreadCount int64  `json:"unreadCount"`
}

// setRead acknowledges up to seq, capped at the newest message.
func (h *messageHandler) setRead(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[convReq](data)
	if err != nil {
		return nil, err
	}
	uid, err := requireUser(c)
	if err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		_, err := h.reads.Acknowledge(c, uid, req.Type, req.TargetID, req.Seq)
		return nil, err
	}
	_, st, err := h.conv.Latest(c, model.Resolve(req.Type, req.TargetID, uid))
	if err != nil {
		return nil, err
	}
	seq := req.Seq
	if seq > st.LastSeq {
		seq = st.LastSeq
	}
	if _, err := h.reads.Acknowledge(c, uid, req.Type, req.TargetID, seq); err != nil {
		return nil, err
	}
	unread, err := h.reads.Unread(c, uid, req.Type, req.TargetID, st)
	if err != nil {
		return nil, err
	}
	return readResp{Status: "ok", UnreadCount: unread}, nil
}
