// Package message is the write path of the chat core: validation, append,
// recall and the events that follow them.
package message

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/module/chat/event"
	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/tools/errs"
)

type SendRequest struct {
	SenderID int64
	Kind     model.ConvType
	TargetID int64
	Content  model.Content
	// TempID is echoed back and attached to the pushed message.
	TempID string
}

type SendResult struct {
	Seq       int64          `json:"seq"`
	Timestamp int64          `json:"timestamp"`
	TempID    string         `json:"tempId,omitempty"`
	Message   *model.Message `json:"-"`
}

type Service struct {
	conv store.ConversationStore
	ids  store.IdentityStore
	bus  event.Publisher
	log  *zap.Logger
}

func NewService(conv store.ConversationStore, ids store.IdentityStore, bus event.Publisher) *Service {
	if bus == nil {
		bus = event.Discard
	}
	return &Service{conv: conv, ids: ids, bus: bus, log: logger.Named("message")}
}

// Send validates and appends a message, then publishes MessagePersisted.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	// 1) 参数校验
	if !req.Kind.Valid() {
		return nil, errs.ErrInvalidArgument.WrapMsg("unknown conversation type", "type", req.Kind)
	}
	if err := req.Content.Validate(); err != nil {
		return nil, err
	}
	if req.SenderID == model.GuestUserID {
		return nil, errs.ErrInvalidArgument.WrapMsg("a guest cannot send messages")
	}
	if err := s.checkSender(ctx, req.SenderID); err != nil {
		return nil, err
	}
	if err := s.checkTarget(ctx, req.Kind, req.TargetID); err != nil {
		return nil, err
	}

	// 2) 回复必须指向同一会话里已存在的消息
	p := model.Resolve(req.Kind, req.TargetID, req.SenderID)
	for _, seq := range req.Content.Replies() {
		if _, err := s.conv.Get(ctx, p, seq); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return nil, errs.ErrNotFound.WrapMsg("reply target does not exist", "conversation", p, "seq", seq)
			}
			return nil, err
		}
	}

	// 3) 落库并广播
	m, err := s.conv.Append(ctx, &model.Message{
		Type:     req.Kind,
		SenderID: req.SenderID,
		TargetID: req.TargetID,
		Content:  req.Content,
	})
	if err != nil {
		return nil, err
	}
	m.TempID = req.TempID
	s.bus.Publish(ctx, event.MessagePersisted{Message: m})

	s.log.Debug("message persisted", zap.Stringer("conversation", p), zap.Int64("seq", m.Seq), zap.Int64("sender", m.SenderID))
	return &SendResult{Seq: m.Seq, Timestamp: m.Timestamp, TempID: req.TempID, Message: m}, nil
}

func (s *Service) checkSender(ctx context.Context, senderID int64) error {
	if senderID == model.SystemUserID {
		return nil
	}
	if _, err := s.ids.GetUser(ctx, senderID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.ErrNotFound.WrapMsg("sender does not exist", "userId", senderID)
		}
		return err
	}
	return nil
}

func (s *Service) checkTarget(ctx context.Context, kind model.ConvType, targetID int64) error {
	var err error
	switch kind {
	case model.ConvGroup:
		_, err = s.ids.GetGroup(ctx, targetID)
	default:
		_, err = s.ids.GetUser(ctx, targetID)
	}
	if err != nil && errors.Is(err, errs.ErrNotFound) {
		return errs.ErrNotFound.WrapMsg("target does not exist", "type", kind, "targetId", targetID)
	}
	return err
}

// Recall revokes the message at seq. The viewer is needed to resolve a
// private conversation from its peer id.
func (s *Service) Recall(ctx context.Context, viewerID int64, kind model.ConvType, targetID, seq int64) (*model.Message, error) {
	if !kind.Valid() {
		return nil, errs.ErrInvalidArgument.WrapMsg("unknown conversation type", "type", kind)
	}
	if kind == model.ConvPrivate && viewerID == model.GuestUserID {
		return nil, errs.ErrInvalidArgument.WrapMsg("a guest has no private conversations")
	}
	m, err := s.conv.Recall(ctx, model.Resolve(kind, targetID, viewerID), seq)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, event.MessageRecalled{Message: m})
	return m, nil
}

// Notice posts a system message to a group.
func (s *Service) Notice(ctx context.Context, groupID int64, text string) (*model.Message, error) {
	res, err := s.Send(ctx, SendRequest{
		SenderID: model.SystemUserID,
		Kind:     model.ConvGroup,
		TargetID: groupID,
		Content:  model.TextContent(text),
	})
	if err != nil {
		return nil, err
	}
	return res.Message, nil
}

func (s *Service) History(ctx context.Context, viewerID int64, kind model.ConvType, targetID int64, limit int) ([]*model.Message, error) {
	if !kind.Valid() {
		return nil, errs.ErrInvalidArgument.WrapMsg("unknown conversation type", "type", kind)
	}
	return s.conv.Read(ctx, kind, targetID, viewerID, store.NormalizeLimit(limit))
}
