package model

import "strconv"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type GroupMember struct {
	UserID   int64  `json:"userId"`
	Nickname string `json:"nickname"`
	Card     string `json:"card,omitempty"`
	Title    string `json:"title,omitempty"`
	Gender   Gender `json:"gender"`
	Age      int    `json:"age"`
	Role     Role   `json:"role"`
	JoinTime int64  `json:"joinTime"`
}

// DisplayName prefers the group card over the nickname snapshot.
func (m *GroupMember) DisplayName() string {
	if m.Card != "" {
		return m.Card
	}
	return m.Nickname
}

type Group struct {
	GroupID    int64         `json:"groupId"`
	GroupName  string        `json:"groupName"`
	OwnerID    int64         `json:"ownerId"`
	AdminList  []int64       `json:"adminList"`
	MemberList []GroupMember `json:"memberList"`
}

func (g *Group) Member(userID int64) (*GroupMember, bool) {
	for i := range g.MemberList {
		if g.MemberList[i].UserID == userID {
			return &g.MemberList[i], true
		}
	}
	return nil, false
}

func (g *Group) MemberIDs() []int64 {
	out := make([]int64, 0, len(g.MemberList))
	for _, m := range g.MemberList {
		out = append(out, m.UserID)
	}
	return out
}

func DefaultGroupName(groupID int64) string {
	return "Group " + strconv.FormatInt(groupID, 10)
}
