package chat

import (
	"encoding/json"

	"github.com/ys7zTS/sandbox/tools/errs"
)

// Actions accepted from clients.
const (
	ActionGetUserInfo        = "get_user_info"
	ActionSaveUser           = "save_user"
	ActionSetActiveUser      = "set_active_user"
	ActionRemoveUser         = "remove_user"
	ActionUpdateFriendship   = "update_friendship"
	ActionAddFriend          = "add_friend"
	ActionDeleteFriend       = "delete_friend"
	ActionGetGroupInfo       = "get_group_info"
	ActionSaveGroup          = "save_group"
	ActionCreateGroup        = "create_group"
	ActionRemoveGroup        = "remove_group"
	ActionJoinGroup          = "join_group"
	ActionLeaveGroup         = "leave_group"
	ActionSetGroupAdmin      = "set_group_admin"
	ActionUpdateGroupMember  = "update_group_member"
	ActionTransferGroupOwner = "transfer_group_owner"
	ActionGetMessages        = "get_messages"
	ActionSendMessage        = "send_message"
	ActionRecallMessage      = "recall_message"
	ActionSetRead            = "set_read"
	ActionSyncAll            = "sync_all"
	ActionHeartbeat          = "heartbeat"
	ActionAck                = "ack"
)

// Events pushed by the server.
const (
	EventSyncAll           = "sync_all"
	EventMessage           = "message"
	EventRecall            = "recall"
	EventGroupMemberUpdate = "group_member_update"
)

// Request is an inbound frame. Echo is any JSON value and is returned as is.
type Request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Echo json.RawMessage `json:"echo,omitempty"`
}

// Frame is an outbound response or pushed event.
type Frame struct {
	Type  string          `json:"type"`
	Data  any             `json:"data"`
	Echo  json.RawMessage `json:"echo,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

type ErrorBody struct {
	Kind    string `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func ParseRequest(raw []byte) (*Request, error) {
	req := &Request{}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, errs.ErrInvalidArgument.WrapMsg("frame is not valid json", "err", err.Error())
	}
	if req.Type == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("frame type is required")
	}
	return req, nil
}

func EncodeFrame(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}

// ErrorFrame converts any error into a response frame.
func ErrorFrame(action string, echo json.RawMessage, err error) *Frame {
	ce := errs.AsCode(err)
	return &Frame{
		Type: action,
		Echo: echo,
		Error: &ErrorBody{
			Kind:    ce.Msg,
			Code:    ce.Code,
			Message: ce.Message(),
		},
	}
}

// RecallPush is the payload of the recall event.
type RecallPush struct {
	Type     string `json:"type"`
	TargetID int64  `json:"targetId"`
	PeerID   string `json:"peerId"`
	Seq      int64  `json:"seq"`
	SenderID int64  `json:"senderId"`
}

// MemberUpdatePush is the payload of group_member_update.
type MemberUpdatePush struct {
	GroupID   int64   `json:"groupId"`
	UserIDs   []int64 `json:"userIds"`
	Dissolved bool    `json:"dissolved,omitempty"`
}
