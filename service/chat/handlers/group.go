package handlers

import (
	"encoding/json"
	"errors"

	"github.com/ys7zTS/sandbox/module/chat/directory"
	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/service/chat"
	"github.com/ys7zTS/sandbox/tools/errs"
	"github.com/ys7zTS/sandbox/tools/safe"
)

type groupHandler struct {
	dir *directory.Service
}

func (h *groupHandler) getGroupInfo(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[targetReq](data)
	if err != nil {
		return nil, err
	}
	t := parseTarget(req.Target)
	if t.all || t.current {
		return h.dir.ListGroups(c)
	}
	return h.dir.GetGroup(c, t.id)
}

type saveGroupReq struct {
	GroupID    int64               `json:"groupId"`
	GroupName  *string             `json:"groupName"`
	OwnerID    int64               `json:"ownerId"`
	AdminList  []int64             `json:"adminList"`
	MemberList []model.GroupMember `json:"memberList"`
}

// saveGroup keeps the stored name and owner when they are not given. A new
// group without ownerId is owned by the active user.
func (h *groupHandler) saveGroup(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[saveGroupReq](data)
	if err != nil {
		return nil, err
	}
	g := &model.Group{
		GroupID:    req.GroupID,
		OwnerID:    req.OwnerID,
		AdminList:  req.AdminList,
		MemberList: req.MemberList,
	}
	cur, err := h.dir.GetGroup(c, req.GroupID)
	switch {
	case err == nil:
		g.GroupName = cur.GroupName
		if g.OwnerID == 0 {
			g.OwnerID = cur.OwnerID
		}
	case errors.Is(err, errs.ErrNotFound):
		if g.OwnerID, err = orSelf(c, g.OwnerID); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	g.GroupName = safe.DefaultString(req.GroupName, g.GroupName)

	if err := h.dir.SaveGroup(c, g); err != nil {
		return nil, err
	}
	c.Server.ResyncAll(c)
	return ok, nil
}

type createGroupReq struct {
	GroupName string  `json:"groupName"`
	MemberIDs []int64 `json:"memberIds"`
}

func (h *groupHandler) createGroup(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[createGroupReq](data)
	if err != nil {
		return nil, err
	}
	owner, err := requireUser(c)
	if err != nil {
		return nil, err
	}
	g, err := h.dir.CreateGroup(c, owner, req.GroupName, req.MemberIDs)
	if err != nil {
		return nil, err
	}
	c.Server.ResyncAll(c)
	return g, nil
}

type removeGroupReq struct {
	GroupID       int64 `json:"groupId"`
	ClearMessages *bool `json:"clearMessages"`
}

func (h *groupHandler) removeGroup(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[removeGroupReq](data)
	if err != nil {
		return nil, err
	}
	if err := h.dir.RemoveGroup(c, req.GroupID, safe.DefaultBool(req.ClearMessages, true)); err != nil {
		return nil, err
	}
	c.Server.ResyncAll(c)
	return ok, nil
}

type memberReq struct {
	GroupID int64   `json:"groupId"`
	UserID  int64   `json:"userId"`
	IsAdmin bool    `json:"isAdmin"`
	Card    *string `json:"card"`
	Title   *string `json:"title"`
}

func (h *groupHandler) member(c *chat.Context, data json.RawMessage) (*memberReq, error) {
	req, err := payload[memberReq](data)
	if err != nil {
		return nil, err
	}
	if req.UserID, err = orSelf(c, req.UserID); err != nil {
		return nil, err
	}
	return req, nil
}

func (h *groupHandler) joinGroup(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := h.member(c, data)
	if err != nil {
		return nil, err
	}
	if err := h.dir.JoinGroup(c, req.GroupID, req.UserID); err != nil {
		return nil, err
	}
	c.Server.ResyncUsers(c, req.UserID)
	return ok, nil
}

func (h *groupHandler) leaveGroup(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := h.member(c, data)
	if err != nil {
		return nil, err
	}
	if err := h.dir.LeaveGroup(c, req.GroupID, req.UserID); err != nil {
		return nil, err
	}
	// 群主退出即解散，所有人的会话列表都要刷新
	if _, err := h.dir.GetGroup(c, req.GroupID); errors.Is(err, errs.ErrNotFound) {
		c.Server.ResyncAll(c)
	} else {
		c.Server.ResyncUsers(c, req.UserID)
	}
	return ok, nil
}

func (h *groupHandler) setAdmin(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := h.member(c, data)
	if err != nil {
		return nil, err
	}
	if err := h.dir.SetAdmin(c, req.GroupID, req.UserID, req.IsAdmin); err != nil {
		return nil, err
	}
	return ok, nil
}

func (h *groupHandler) updateMember(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := h.member(c, data)
	if err != nil {
		return nil, err
	}
	if err := h.dir.UpdateMember(c, req.GroupID, req.UserID, req.Card, req.Title); err != nil {
		return nil, err
	}
	return ok, nil
}

func (h *groupHandler) transferOwner(c *chat.Context, data json.RawMessage) (any, error) {
	req, err := payload[memberReq](data)
	if err != nil {
		return nil, err
	}
	if err := h.dir.TransferOwner(c, req.GroupID, req.UserID); err != nil {
		return nil, err
	}
	return ok, nil
}
