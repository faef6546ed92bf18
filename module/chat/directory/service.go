// Package directory orchestrates user, friendship and group changes across
// the stores and announces them as events and system notices.
package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/module/chat/event"
	"github.com/ys7zTS/sandbox/module/chat/message"
	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/tools/errs"
)

type Service struct {
	ids   store.IdentityStore
	conv  store.ConversationStore
	reads store.ReadStateStore
	msgs  *message.Service
	bus   event.Publisher
	log   *zap.Logger
}

func NewService(ids store.IdentityStore, conv store.ConversationStore, reads store.ReadStateStore, msgs *message.Service, bus event.Publisher) *Service {
	if bus == nil {
		bus = event.Discard
	}
	return &Service{ids: ids, conv: conv, reads: reads, msgs: msgs, bus: bus, log: logger.Named("directory")}
}

// ---------------------------------------------------------------- users

func (s *Service) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.ids.GetUser(ctx, userID)
}

func (s *Service) ListUsers(ctx context.Context) ([]*model.User, error) {
	return s.ids.ListUsers(ctx)
}

// SaveUser creates or updates a user. A blank nickname falls back to the default.
func (s *Service) SaveUser(ctx context.Context, u *model.User) error {
	if u == nil || u.UserID <= model.SystemUserID {
		return errs.ErrInvalidArgument.WrapMsg("userId must be greater than 1")
	}
	u.Nickname = strings.TrimSpace(u.Nickname)
	if u.Nickname == "" {
		u.Nickname = model.DefaultNickname(u.UserID)
	}
	u.Gender = model.NormalizeGender(string(u.Gender))
	return s.ids.SaveUser(ctx, u)
}

// RemoveUser deletes a user. Groups owned by the user are dissolved first;
// with clear the user's private conversations and group messages go too.
func (s *Service) RemoveUser(ctx context.Context, userID int64, clear bool) error {
	if _, err := s.ids.GetUser(ctx, userID); err != nil {
		return err
	}
	groups, err := s.ids.UserGroups(ctx, userID)
	if err != nil {
		return err
	}

	// 1) 先解散其拥有的群，再退出其余群
	var left []int64
	for _, gid := range groups {
		g, err := s.ids.GetGroup(ctx, gid)
		if err != nil {
			return err
		}
		if g.OwnerID == userID {
			if err := s.RemoveGroup(ctx, gid, clear); err != nil {
				return err
			}
			continue
		}
		left = append(left, gid)
	}

	// 2) 删除用户本身（好友关系与群成员一并删除）
	if err := s.ids.RemoveUser(ctx, userID); err != nil {
		return err
	}
	if err := s.reads.DropUser(ctx, userID); err != nil {
		return err
	}
	if clear {
		if err := s.conv.ClearSender(ctx, userID); err != nil {
			return err
		}
	}

	// 3) 通知其余群成员
	for _, gid := range left {
		s.bus.Publish(ctx, event.MembershipChanged{GroupID: gid, UserIDs: []int64{userID}})
	}
	s.log.Info("user removed", zap.Int64("userId", userID), zap.Bool("clear", clear), zap.Int("groups", len(groups)))
	return nil
}

// UpdateFriendship adds or removes the symmetric friendship. Removing with
// clear also wipes the private conversation between the two.
func (s *Service) UpdateFriendship(ctx context.Context, a, b int64, action store.FriendAction, clear bool) error {
	if err := s.ids.SetFriendship(ctx, a, b, action); err != nil {
		return err
	}
	if action == store.FriendRemove && clear {
		return s.conv.ClearConversation(ctx, model.PrivatePartition(a, b))
	}
	return nil
}

// ---------------------------------------------------------------- groups

func (s *Service) GetGroup(ctx context.Context, groupID int64) (*model.Group, error) {
	return s.ids.GetGroup(ctx, groupID)
}

func (s *Service) ListGroups(ctx context.Context) ([]*model.Group, error) {
	return s.ids.ListGroups(ctx)
}

// SaveGroup upserts a group and announces the union of old and new members.
func (s *Service) SaveGroup(ctx context.Context, g *model.Group) error {
	if g == nil {
		return errs.ErrInvalidArgument.WrapMsg("group is required")
	}
	g.GroupName = strings.TrimSpace(g.GroupName)
	before, err := s.ids.MemberIDs(ctx, g.GroupID)
	if err != nil {
		return err
	}
	if err := s.ids.SaveGroup(ctx, g); err != nil {
		return err
	}
	after, err := s.ids.MemberIDs(ctx, g.GroupID)
	if err != nil {
		return err
	}
	s.bus.Publish(ctx, event.MembershipChanged{GroupID: g.GroupID, UserIDs: union(before, after)})
	return nil
}

// CreateGroup creates a group under a fresh id with ownerID as owner.
func (s *Service) CreateGroup(ctx context.Context, ownerID int64, name string, memberIDs []int64) (*model.Group, error) {
	if ownerID == model.GuestUserID {
		return nil, errs.ErrInvalidArgument.WrapMsg("a guest cannot create groups")
	}
	members := make([]model.GroupMember, 0, len(memberIDs)+1)
	members = append(members, model.GroupMember{UserID: ownerID})
	for _, id := range memberIDs {
		if id != ownerID {
			members = append(members, model.GroupMember{UserID: id})
		}
	}
	g := &model.Group{GroupName: strings.TrimSpace(name), OwnerID: ownerID, MemberList: members}
	gid, err := s.ids.CreateGroup(ctx, g)
	if err != nil {
		return nil, err
	}
	memberIDs, err = s.ids.MemberIDs(ctx, gid)
	if err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, event.MembershipChanged{GroupID: gid, UserIDs: memberIDs})
	created, err := s.ids.GetGroup(ctx, gid)
	if err != nil {
		return nil, err
	}
	s.notice(ctx, gid, fmt.Sprintf("%s created the group", s.displayName(ctx, created, ownerID)))
	return created, nil
}

// RemoveGroup dissolves a group. Its history is kept unless clear is set.
func (s *Service) RemoveGroup(ctx context.Context, groupID int64, clear bool) error {
	members, err := s.ids.MemberIDs(ctx, groupID)
	if err != nil {
		return err
	}
	if err := s.ids.RemoveGroup(ctx, groupID); err != nil {
		return err
	}
	if err := s.reads.DropConversation(ctx, model.ConvGroup, groupID); err != nil {
		return err
	}
	if clear {
		if err := s.conv.ClearConversation(ctx, model.GroupPartition(groupID)); err != nil {
			return err
		}
	}
	s.bus.Publish(ctx, event.MembershipChanged{GroupID: groupID, UserIDs: members, Dissolved: true})
	s.log.Info("group dissolved", zap.Int64("groupId", groupID), zap.Bool("clear", clear))
	return nil
}

func (s *Service) JoinGroup(ctx context.Context, groupID, userID int64) error {
	added, err := s.ids.AddMember(ctx, groupID, userID, model.RoleMember)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}
	g, err := s.ids.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	s.notice(ctx, groupID, fmt.Sprintf("%s joined the group", s.displayName(ctx, g, userID)))
	s.bus.Publish(ctx, event.MembershipChanged{GroupID: groupID, UserIDs: []int64{userID}})
	return nil
}

// LeaveGroup removes a member. The owner leaving dissolves the group and
// clears its history.
func (s *Service) LeaveGroup(ctx context.Context, groupID, userID int64) error {
	g, err := s.ids.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if g.OwnerID == userID {
		return s.RemoveGroup(ctx, groupID, true)
	}
	name := s.displayName(ctx, g, userID)
	if err := s.ids.RemoveMember(ctx, groupID, userID); err != nil {
		return err
	}
	s.notice(ctx, groupID, fmt.Sprintf("%s left the group", name))
	s.bus.Publish(ctx, event.MembershipChanged{GroupID: groupID, UserIDs: []int64{userID}})
	return nil
}

func (s *Service) SetAdmin(ctx context.Context, groupID, userID int64, isAdmin bool) error {
	if err := s.ids.SetAdmin(ctx, groupID, userID, isAdmin); err != nil {
		return err
	}
	s.bus.Publish(ctx, event.MembershipChanged{GroupID: groupID, UserIDs: []int64{userID}})
	return nil
}

func (s *Service) UpdateMember(ctx context.Context, groupID, userID int64, card, title *string) error {
	if err := s.ids.UpdateMember(ctx, groupID, userID, card, title); err != nil {
		return err
	}
	s.bus.Publish(ctx, event.MembershipChanged{GroupID: groupID, UserIDs: []int64{userID}})
	return nil
}

// TransferOwner hands the group to an admin; the previous owner becomes admin.
func (s *Service) TransferOwner(ctx context.Context, groupID, newOwnerID int64) error {
	oldOwner, err := s.ids.TransferOwnership(ctx, groupID, newOwnerID)
	if err != nil {
		return err
	}
	if oldOwner == newOwnerID {
		return nil
	}
	g, err := s.ids.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	s.notice(ctx, groupID, fmt.Sprintf("%s is now the group owner", s.displayName(ctx, g, newOwnerID)))
	s.bus.Publish(ctx, event.MembershipChanged{GroupID: groupID, UserIDs: []int64{oldOwner, newOwnerID}})
	return nil
}

// notice failures are logged only; the membership change already happened.
func (s *Service) notice(ctx context.Context, groupID int64, text string) {
	if s.msgs == nil {
		return
	}
	if _, err := s.msgs.Notice(ctx, groupID, text); err != nil {
		s.log.Warn("group notice failed", zap.Int64("groupId", groupID), zap.Error(err))
	}
}

func (s *Service) displayName(ctx context.Context, g *model.Group, userID int64) string {
	if m, ok := g.Member(userID); ok {
		return m.DisplayName()
	}
	if u, err := s.ids.GetUser(ctx, userID); err == nil {
		return u.Nickname
	}
	return model.DefaultNickname(userID)
}

func union(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, list := range [][]int64{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
