package model

import (
	"fmt"
	"strconv"

	"github.com/ys7zTS/sandbox/tools/errs"
)

// ConvType 会话类型
type ConvType string

const (
	ConvPrivate ConvType = "private"
	ConvGroup   ConvType = "group"
)

func (t ConvType) Valid() bool {
	return t == ConvPrivate || t == ConvGroup
}

// ParseConvType validates a wire value.
func ParseConvType(s string) (ConvType, error) {
	t := ConvType(s)
	if !t.Valid() {
		return "", errs.ErrInvalidArgument.WrapMsg("unknown conversation type", "type", s)
	}
	return t, nil
}

const (
	// GuestUserID marks a connection without an identity.
	GuestUserID int64 = 0
	// SystemUserID authors join/leave/role notices.
	SystemUserID int64 = 1
)

// Message 一条已持久化的消息。除 IsRevoked 外不可变。
type Message struct {
	Seq       int64    `json:"seq"`
	Type      ConvType `json:"type"`
	SenderID  int64    `json:"senderId"`
	TargetID  int64    `json:"targetId"`
	PeerID    string   `json:"peerId"`
	Content   Content  `json:"content"`
	Timestamp int64    `json:"timestamp"`
	IsRevoked bool     `json:"isRevoked"`
	// TempID is the sender's correlation id. It is never stored.
	TempID string `json:"tempId,omitempty"`
}

// Partition identifies the ordered log a message belongs to.
type Partition struct {
	Kind ConvType
	// Private: the two participants, A <= B. Group: A is the group id.
	A, B int64
}

// PrivatePartition is symmetric: (a, b) and (b, a) address the same log.
func PrivatePartition(a, b int64) Partition {
	if a > b {
		a, b = b, a
	}
	return Partition{Kind: ConvPrivate, A: a, B: b}
}

func GroupPartition(groupID int64) Partition {
	return Partition{Kind: ConvGroup, A: groupID}
}

// Resolve maps a (kind, target) address seen from viewerID onto a partition.
func Resolve(kind ConvType, targetID, viewerID int64) Partition {
	if kind == ConvGroup {
		return GroupPartition(targetID)
	}
	return PrivatePartition(viewerID, targetID)
}

// PartitionOf returns the partition a message is written to.
func PartitionOf(m *Message) Partition {
	return Resolve(m.Type, m.TargetID, m.SenderID)
}

// Key is the storage key: p:<min>:<max> or g:<groupId>.
func (p Partition) Key() string {
	if p.Kind == ConvGroup {
		return "g:" + strconv.FormatInt(p.A, 10)
	}
	return fmt.Sprintf("p:%d:%d", p.A, p.B)
}

// PeerID is the wire form of the partition: "min:max" or the group id.
func (p Partition) PeerID() string {
	if p.Kind == ConvGroup {
		return strconv.FormatInt(p.A, 10)
	}
	return fmt.Sprintf("%d:%d", p.A, p.B)
}

// Involves reports whether userID is a participant of a private partition.
func (p Partition) Involves(userID int64) bool {
	return p.Kind == ConvPrivate && (p.A == userID || p.B == userID)
}

func (p Partition) String() string { return p.Key() }
