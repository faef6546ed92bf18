package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/ys7zTS/sandbox/module/chat/directory"
	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/service/chat"
	"github.com/ys7zTS/sandbox/tools/errs"
	"github.com/ys7zTS/sandbox/tools/safe"
)

type userHandler struct {
	dir *directory.Service
}

// target is "all", "current" or an id. Anything unparsable means all.
type target struct {
	all     bool
	current bool
	id      int64
}

func parseTarget(v any) target {
	switch t := v.(type) {
	case nil:
		return target{all: true}
	case json.Number:
		if id, err := t.Int64(); err == nil {
			return target{id: id}
		}
	case float64:
		return target{id: int64(t)}
	case string:
		s := strings.TrimSpace(t)
		switch s {
		case "", "all":
			return target{all: true}
		case "current":
			return target{current: true}
		}
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			return target{id: id}
		}
	}
	return target{all: true}
}

type targetReq struct {
	Target any `json:"target"`
}

func (h *userHandler) getUserInfo(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[targetReq](data)
	if err != nil {
		return nil, err
	}
	t := parseTarget(req.Target)
	switch {
	case t.all:
		return h.dir.ListUsers(c)
	case t.current:
		uid := c.UserID()
		if uid == model.GuestUserID {
			return model.Guest(), nil
		}
		u, err := h.dir.GetUser(c, uid)
		if errors.Is(err, errs.ErrNotFound) {
			return model.Guest(), nil
		}
		return u, err
	default:
		return h.dir.GetUser(c, t.id)
	}
}

type saveUserReq struct {
	UserID     int64   `json:"userId"`
	Nickname   *string `json:"nickname"`
	Age        *int    `json:"age"`
	Gender     *string `json:"gender"`
	FriendList []int64 `json:"friendList"`
}

// saveUser merges the given fields over the stored user, if any.
func (h *userHandler) saveUser(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[saveUserReq](data)
	if err != nil {
		return nil, err
	}
	u := &model.User{UserID: req.UserID}
	if cur, err := h.dir.GetUser(c, req.UserID); err == nil {
		u.Nickname, u.Age, u.Gender = cur.Nickname, cur.Age, cur.Gender
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}
	u.Nickname = safe.DefaultString(req.Nickname, u.Nickname)
	u.Age = safe.DefaultInt(req.Age, u.Age)
	u.Gender = model.Gender(safe.DefaultString(req.Gender, string(u.Gender)))
	u.FriendList = req.FriendList

	if err := h.dir.SaveUser(c, u); err != nil {
		return nil, err
	}
	c.Server.ResyncAll(c)
	return ok, nil
}

type userReq struct {
	UserID        int64 `json:"userId"`
	ClearMessages bool  `json:"clearMessages"`
}

type activeUserResp struct {
	Status string      `json:"status"`
	Me     *model.User `json:"me"`
}

func (h *userHandler) setActiveUser(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[userReq](data)
	if err != nil {
		return nil, err
	}
	snap, err := c.Server.BindIdentity(c, c.Session, req.UserID)
	if err != nil {
		return nil, err
	}
	return activeUserResp{Status: "ok", Me: snap.Me}, nil
}

func (h *userHandler) removeUser(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[userReq](data)
	if err != nil {
		return nil, err
	}
	if err := h.dir.RemoveUser(c, req.UserID, req.ClearMessages); err != nil {
		return nil, err
	}
	// 绑定到该用户的连接在重同步时回落为游客
	c.Server.ResyncAll(c)
	return ok, nil
}

type friendshipReq struct {
	UserAID       int64              `json:"userAId"`
	UserBID       int64              `json:"userBId"`
	Action        store.FriendAction `json:"action"`
	ClearMessages bool               `json:"clearMessages"`
}

func (h *userHandler) updateFriendship(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[friendshipReq](data)
	if err != nil {
		return nil, err
	}
	return h.friendship(c, req.UserAID, req.UserBID, req.Action, req.ClearMessages)
}

func (h *userHandler) addFriend(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[userReq](data)
	if err != nil {
		return nil, err
	}
	self, err := requireUser(c)
	if err != nil {
		return nil, err
	}
	return h.friendship(c, self, req.UserID, store.FriendAdd, false)
}

func (h *userHandler) deleteFriend(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[userReq](data)
	if err != nil {
		return nil, err
	}
	self, err := requireUser(c)
	if err != nil {
		return nil, err
	}
	return h.friendship(c, self, req.UserID, store.FriendRemove, req.ClearMessages)
}

func (h *userHandler) friendship(c *chat.Context, a, b int64, action store.FriendAction, clear bool) (any, error) {
	if err := h.dir.UpdateFriendship(c, a, b, action, clear); err != nil {
		return nil, err
	}
	c.Server.ResyncUsers(c, a, b)
	return ok, nil
}
