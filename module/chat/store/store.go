// Package store declares the persistence contracts of the chat core.
// Implementations live in sqlstore (default) and mongostore.
package store

import (
	"context"

	"github.com/ys7zTS/sandbox/module/chat/model"
)

const (
	DefaultReadLimit = 50
	MaxReadLimit     = 500
)

// NormalizeLimit applies the default and cap used by history reads.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultReadLimit
	}
	if limit > MaxReadLimit {
		return MaxReadLimit
	}
	return limit
}

// PartitionState are the counters of one conversation log.
type PartitionState struct {
	// LastSeq is the last sequence ever issued. It survives clears.
	LastSeq int64 `json:"lastSeq"`
	// MinSeq is raised to LastSeq when the log is cleared.
	MinSeq int64 `json:"minSeq"`
}

// ConversationStore is the durable, per-partition ordered message log.
type ConversationStore interface {
	// Append assigns the next sequence of the message's partition and the
	// write timestamp, then persists it. Appends to one partition are
	// serialized; distinct partitions do not contend.
	Append(ctx context.Context, m *model.Message) (*model.Message, error)
	// Read returns the newest limit messages, oldest first. A private read
	// without a viewer (guest) is empty.
	Read(ctx context.Context, kind model.ConvType, targetID, viewerID int64, limit int) ([]*model.Message, error)
	Get(ctx context.Context, p model.Partition, seq int64) (*model.Message, error)
	// Recall marks a message revoked. Recalling twice is a no-op.
	Recall(ctx context.Context, p model.Partition, seq int64) (*model.Message, error)
	// ClearConversation deletes the partition's rows but keeps its counter.
	ClearConversation(ctx context.Context, p model.Partition) error
	// ClearSender deletes the user's group messages and every private
	// conversation the user takes part in.
	ClearSender(ctx context.Context, userID int64) error
	// Latest returns the newest message (nil when none) and the counters.
	Latest(ctx context.Context, p model.Partition) (*model.Message, PartitionState, error)
}

// FriendAction is the operation of SetFriendship.
type FriendAction string

const (
	FriendAdd    FriendAction = "add"
	FriendRemove FriendAction = "remove"
)

// IdentityStore holds users, friendships, groups and memberships.
type IdentityStore interface {
	GetUser(ctx context.Context, userID int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]*model.User, error)
	// SaveUser upserts the mutable fields. A nil FriendList keeps the
	// current friendships; a non-nil one replaces them. GroupList is ignored.
	SaveUser(ctx context.Context, u *model.User) error
	// RemoveUser deletes the user with friendships and memberships. Groups
	// owned by the user must be dissolved by the caller first.
	RemoveUser(ctx context.Context, userID int64) error
	SetFriendship(ctx context.Context, a, b int64, action FriendAction) error

	GetGroup(ctx context.Context, groupID int64) (*model.Group, error)
	ListGroups(ctx context.Context) ([]*model.Group, error)
	// SaveGroup upserts name and owner. A non-nil MemberList replaces the
	// membership, a non-nil AdminList replaces the admin set. The owner is
	// always a member with role owner.
	SaveGroup(ctx context.Context, g *model.Group) error
	RemoveGroup(ctx context.Context, groupID int64) error
	// CreateGroup allocates a fresh group id and inserts the group with it.
	CreateGroup(ctx context.Context, g *model.Group) (int64, error)
	// UserGroups lists the groups the user is a member of.
	UserGroups(ctx context.Context, userID int64) ([]int64, error)

	// AddMember reports whether the user was newly added.
	AddMember(ctx context.Context, groupID, userID int64, role model.Role) (bool, error)
	// RemoveMember rejects the owner with InvalidRoleTransition.
	RemoveMember(ctx context.Context, groupID, userID int64) error
	SetAdmin(ctx context.Context, groupID, userID int64, isAdmin bool) error
	UpdateMember(ctx context.Context, groupID, userID int64, card, title *string) error
	// TransferOwnership promotes an admin to owner and demotes the old
	// owner to admin atomically. It returns the previous owner.
	TransferOwnership(ctx context.Context, groupID, newOwnerID int64) (int64, error)
	MemberIDs(ctx context.Context, groupID int64) ([]int64, error)
}

// ReadStateStore keeps per-user acknowledgement watermarks.
type ReadStateStore interface {
	Watermark(ctx context.Context, userID int64, kind model.ConvType, targetID int64) (int64, error)
	// Advance raises the watermark to seq and never lowers it. It returns
	// the watermark after the call.
	Advance(ctx context.Context, userID int64, kind model.ConvType, targetID, seq int64) (int64, error)
	// DropUser forgets the user's watermarks and those pointing at the user.
	DropUser(ctx context.Context, userID int64) error
	DropConversation(ctx context.Context, kind model.ConvType, targetID int64) error
}
