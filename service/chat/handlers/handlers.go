// Package handlers binds the sandbox actions to the chat services.
package handlers

import (
	"encoding/json"

	"github.com/ys7zTS/sandbox/module/chat/directory"
	"github.com/ys7zTS/sandbox/module/chat/message"
	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/readstate"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/service/chat"
	"github.com/ys7zTS/sandbox/tools/decode"
	"github.com/ys7zTS/sandbox/tools/errs"
	"github.com/ys7zTS/sandbox/tools/safe"
)

type Deps struct {
	Messages      *message.Service
	Directory     *directory.Service
	Reads         *readstate.Tracker
	Conversations store.ConversationStore
}

type statusOK struct {
	Status string `json:"status"`
}

var ok = statusOK{Status: "ok"}

// Register installs every action on d.
func Register(d *chat.Dispatcher, deps Deps) {
	safe.MustNotNil(deps.Messages, "deps.Messages")
	safe.MustNotNil(deps.Directory, "deps.Directory")
	safe.MustNotNil(deps.Reads, "deps.Reads")
	safe.MustNotNil(deps.Conversations, "deps.Conversations")

	u := &userHandler{dir: deps.Directory}
	d.RegisterFunc(chat.ActionGetUserInfo, u.getUserInfo)
	d.RegisterFunc(chat.ActionSaveUser, u.saveUser)
	d.RegisterFunc(chat.ActionSetActiveUser, u.setActiveUser)
	d.RegisterFunc(chat.ActionRemoveUser, u.removeUser)
	d.RegisterFunc(chat.ActionUpdateFriendship, u.updateFriendship)
	d.RegisterFunc(chat.ActionAddFriend, u.addFriend)
	d.RegisterFunc(chat.ActionDeleteFriend, u.deleteFriend)

	g := &groupHandler{dir: deps.Directory}
	d.RegisterFunc(chat.ActionGetGroupInfo, g.getGroupInfo)
	d.RegisterFunc(chat.ActionSaveGroup, g.saveGroup)
	d.RegisterFunc(chat.ActionCreateGroup, g.createGroup)
	d.RegisterFunc(chat.ActionRemoveGroup, g.removeGroup)
	d.RegisterFunc(chat.ActionJoinGroup, g.joinGroup)
	d.RegisterFunc(chat.ActionLeaveGroup, g.leaveGroup)
	d.RegisterFunc(chat.ActionSetGroupAdmin, g.setAdmin)
	d.RegisterFunc(chat.ActionUpdateGroupMember, g.updateMember)
	d.RegisterFunc(chat.ActionTransferGroupOwner, g.transferOwner)

	m := &messageHandler{msgs: deps.Messages, reads: deps.Reads, conv: deps.Conversations}
	d.RegisterFunc(chat.ActionGetMessages, m.getMessages)
	d.RegisterFunc(chat.ActionSendMessage, m.sendMessage)
	d.RegisterFunc(chat.ActionRecallMessage, m.recallMessage)
	d.RegisterFunc(chat.ActionSetRead, m.setRead)

	d.RegisterFunc(chat.ActionSyncAll, syncAll)
	d.RegisterFunc(chat.ActionHeartbeat, heartbeat)
}

// payload decodes the action data; numbers sent as strings are accepted.
func payload[T any](raw json.RawMessage) (*T, error) {
	v, err := decode.DecodeStruct[T](raw)
	if err != nil {
		return nil, errs.ErrInvalidArgument.WrapMsg("bad payload", "err", err.Error())
	}
	return v, nil
}

// requireUser returns the bound identity or fails for a guest.
func requireUser(c *chat.Context) (int64, error) {
	uid := c.UserID()
	if uid == model.GuestUserID {
		return 0, errs.ErrInvalidArgument.WrapMsg("no active user on this connection")
	}
	return uid, nil
}

// orSelf returns id, or the bound user when id is absent.
func orSelf(c *chat.Context, id int64) (int64, error) {
	if id != 0 {
		return id, nil
	}
	return requireUser(c)
}
