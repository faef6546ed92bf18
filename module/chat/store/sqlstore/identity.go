package sqlstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/tools/errs"
)

// FirstGroupID is the id handed out by CreateGroup on an empty database.
const FirstGroupID int64 = 100001

type IdentityStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ store.IdentityStore = (*IdentityStore)(nil)

func NewIdentityStore(db *gorm.DB) *IdentityStore {
	return &IdentityStore{db: db, now: time.Now}
}

// ---------------- users ----------------

func (s *IdentityStore) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	db := s.db.WithContext(ctx)
	row, err := takeUser(db, userID)
	if err != nil {
		return nil, err
	}
	u := row.toModel()
	if err := db.Model(&friendshipRow{}).Where("user_id = ?", userID).Order("friend_id").Pluck("friend_id", &u.FriendList).Error; err != nil {
		return nil, errors.Wrap(err, "load friends")
	}
	if err := db.Model(&memberRow{}).Where("user_id = ?", userID).Order("group_id").Pluck("group_id", &u.GroupList).Error; err != nil {
		return nil, errors.Wrap(err, "load groups")
	}
	return u, nil
}

func (s *IdentityStore) ListUsers(ctx context.Context) ([]*model.User, error) {
	db := s.db.WithContext(ctx)
	var rows []userRow
	if err := db.Order("user_id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	var friends []friendshipRow
	if err := db.Order("user_id, friend_id").Find(&friends).Error; err != nil {
		return nil, errors.Wrap(err, "list friendships")
	}
	var members []memberRow
	if err := db.Select("group_id", "user_id").Order("user_id, group_id").Find(&members).Error; err != nil {
		return nil, errors.Wrap(err, "list memberships")
	}

	byID := make(map[int64]*model.User, len(rows))
	out := make([]*model.User, 0, len(rows))
	for i := range rows {
		u := rows[i].toModel()
		byID[u.UserID] = u
		out = append(out, u)
	}
	for _, f := range friends {
		if u, ok := byID[f.UserID]; ok {
			u.FriendList = append(u.FriendList, f.FriendID)
		}
	}
	for _, m := range members {
		if u, ok := byID[m.UserID]; ok {
			u.GroupList = append(u.GroupList, m.GroupID)
		}
	}
	return out, nil
}

func (s *IdentityStore) SaveUser(ctx context.Context, u *model.User) error {
	if u == nil || u.UserID <= 0 {
		return errs.ErrInvalidArgument.WrapMsg("userId must be positive")
	}
	row := userRow{
		UserID:   u.UserID,
		Nickname: u.Nickname,
		Age:      u.Age,
		Gender:   string(model.NormalizeGender(string(u.Gender))),
	}
	if row.Nickname == "" {
		row.Nickname = model.DefaultNickname(u.UserID)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"nickname", "age", "gender", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		if u.FriendList == nil {
			return nil
		}
		return replaceFriends(tx, u.UserID, u.FriendList)
	})
	return errors.Wrapf(err, "save user %d", u.UserID)
}

func replaceFriends(tx *gorm.DB, userID int64, friendIDs []int64) error {
	want := dedupe(friendIDs, userID)
	if len(want) > 0 {
		var n int64
		if err := tx.Model(&userRow{}).Where("user_id IN ?", want).Count(&n).Error; err != nil {
			return err
		}
		if int(n) != len(want) {
			return errs.ErrNotFound.WrapMsg("friendList references unknown users", "userId", userID)
		}
	}
	if err := tx.Where("user_id = ? OR friend_id = ?", userID, userID).Delete(&friendshipRow{}).Error; err != nil {
		return err
	}
	if len(want) == 0 {
		return nil
	}
	rows := make([]friendshipRow, 0, len(want)*2)
	for _, f := range want {
		rows = append(rows, friendshipRow{UserID: userID, FriendID: f}, friendshipRow{UserID: f, FriendID: userID})
	}
	return tx.Create(&rows).Error
}

func (s *IdentityStore) RemoveUser(ctx context.Context, userID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := takeUser(tx, userID); err != nil {
			return err
		}
		var owned int64
		if err := tx.Model(&groupRow{}).Where("owner_id = ?", userID).Count(&owned).Error; err != nil {
			return err
		}
		if owned > 0 {
			return errs.ErrInvalidRoleTransition.WrapMsg("user still owns groups", "userId", userID, "groups", owned)
		}
		if err := tx.Where("user_id = ? OR friend_id = ?", userID, userID).Delete(&friendshipRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&memberRow{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&userRow{}).Error
	})
	return errors.Wrapf(err, "remove user %d", userID)
}

func (s *IdentityStore) SetFriendship(ctx context.Context, a, b int64, action store.FriendAction) error {
	if a == b {
		return errs.ErrInvalidArgument.WrapMsg("a user cannot befriend itself", "userId", a)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range []int64{a, b} {
			if _, err := takeUser(tx, id); err != nil {
				return err
			}
		}
		switch action {
		case store.FriendAdd:
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&[]friendshipRow{
				{UserID: a, FriendID: b},
				{UserID: b, FriendID: a},
			}).Error
		case store.FriendRemove:
			return tx.Where("(user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)", a, b, b, a).
				Delete(&friendshipRow{}).Error
		default:
			return errs.ErrInvalidArgument.WrapMsg("unknown friendship action", "action", action)
		}
	})
	return errors.Wrapf(err, "%s friendship %d-%d", action, a, b)
}

func takeUser(db *gorm.DB, userID int64) (*userRow, error) {
	var rows []userRow
	if err := db.Where("user_id = ?", userID).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load user")
	}
	if len(rows) == 0 {
		return nil, errs.ErrNotFound.WrapMsg("user not found", "userId", userID)
	}
	return &rows[0], nil
}

func (r *userRow) toModel() *model.User {
	return &model.User{
		UserID:     r.UserID,
		Nickname:   r.Nickname,
		Age:        r.Age,
		Gender:     model.NormalizeGender(r.Gender),
		FriendList: []int64{},
		GroupList:  []int64{},
	}
}

// ---------------- groups ----------------

func (s *IdentityStore) GetGroup(ctx context.Context, groupID int64) (*model.Group, error) {
	db := s.db.WithContext(ctx)
	row, err := takeGroup(db, groupID)
	if err != nil {
		return nil, err
	}
	var members []memberRow
	if err := db.Where("group_id = ?", groupID).Order("join_time, user_id").Find(&members).Error; err != nil {
		return nil, errors.Wrap(err, "load members")
	}
	return row.toModel(members), nil
}

func (s *IdentityStore) ListGroups(ctx context.Context) ([]*model.Group, error) {
	db := s.db.WithContext(ctx)
	var rows []groupRow
	if err := db.Order("group_id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list groups")
	}
	var members []memberRow
	if err := db.Order("group_id, join_time, user_id").Find(&members).Error; err != nil {
		return nil, errors.Wrap(err, "list members")
	}
	byGroup := make(map[int64][]memberRow, len(rows))
	for _, m := range members {
		byGroup[m.GroupID] = append(byGroup[m.GroupID], m)
	}
	out := make([]*model.Group, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel(byGroup[rows[i].GroupID]))
	}
	return out, nil
}

func (s *IdentityStore) SaveGroup(ctx context.Context, g *model.Group) error {
	if g == nil || g.GroupID <= 0 {
		return errs.ErrInvalidArgument.WrapMsg("groupId must be positive")
	}
	if g.OwnerID <= 0 {
		return errs.ErrInvalidArgument.WrapMsg("ownerId must be positive", "groupId", g.GroupID)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.writeGroup(tx, g, false)
	})
	return errors.Wrapf(err, "save group %d", g.GroupID)
}

// CreateGroup allocates the next group id and inserts the group in one
// transaction. It never overwrites an existing group.
func (s *IdentityStore) CreateGroup(ctx context.Context, g *model.Group) (int64, error) {
	if g == nil || g.OwnerID <= 0 {
		return 0, errs.ErrInvalidArgument.WrapMsg("ownerId must be positive")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		gid, err := nextGroupID(tx)
		if err != nil {
			return err
		}
		g.GroupID = gid
		return s.writeGroup(tx, g, true)
	})
	if err != nil {
		return 0, errors.Wrap(err, "create group")
	}
	return g.GroupID, nil
}

// writeGroup 写入群资料与成员。insert 为真时只插入，id 冲突即失败。
func (s *IdentityStore) writeGroup(tx *gorm.DB, g *model.Group, insert bool) error {
	name := g.GroupName
	if name == "" {
		name = model.DefaultGroupName(g.GroupID)
	}
	now := s.now().Unix()

	if _, err := takeUser(tx, g.OwnerID); err != nil {
		return err
	}
	gr := &groupRow{GroupID: g.GroupID, GroupName: name, OwnerID: g.OwnerID}
	q := tx
	if !insert {
		q = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "group_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"group_name", "owner_id", "updated_at"}),
		})
	}
	if err := q.Create(gr).Error; err != nil {
		return err
	}

	var current []memberRow
	if err := tx.Where("group_id = ?", g.GroupID).Find(&current).Error; err != nil {
		return err
	}
	members := make(map[int64]*memberRow, len(current))
	for i := range current {
		members[current[i].UserID] = &current[i]
	}

	// 成员列表：显式给出时整体替换，群主始终保留。
	requested := map[int64]model.GroupMember{}
	if g.MemberList != nil {
		for _, m := range g.MemberList {
			requested[m.UserID] = m
		}
		for id := range members {
			if _, keep := requested[id]; !keep && id != g.OwnerID {
				if err := tx.Where("group_id = ? AND user_id = ?", g.GroupID, id).Delete(&memberRow{}).Error; err != nil {
					return err
				}
				delete(members, id)
			}
		}
	}
	if _, ok := requested[g.OwnerID]; !ok {
		requested[g.OwnerID] = model.GroupMember{UserID: g.OwnerID}
	}
	for id, m := range requested {
		if row, ok := members[id]; ok {
			if g.MemberList != nil {
				row.Card, row.Title = m.Card, m.Title
			}
			continue
		}
		u, err := takeUser(tx, id)
		if err != nil {
			return err
		}
		joined := m.JoinTime
		if joined == 0 {
			joined = now
		}
		members[id] = &memberRow{
			GroupID:  g.GroupID,
			UserID:   id,
			Nickname: u.Nickname,
			Card:     m.Card,
			Title:    m.Title,
			Gender:   u.Gender,
			Age:      u.Age,
			Role:     string(model.RoleMember),
			JoinTime: joined,
		}
	}

	var admins map[int64]bool
	if g.AdminList != nil {
		admins = make(map[int64]bool, len(g.AdminList))
		for _, id := range g.AdminList {
			if _, ok := members[id]; !ok {
				return errs.ErrInvalidRoleTransition.WrapMsg("admin must be a member", "groupId", g.GroupID, "userId", id)
			}
			admins[id] = true
		}
	}
	for id, row := range members {
		switch {
		case id == g.OwnerID:
			row.Role = string(model.RoleOwner)
		case admins != nil:
			row.Role = roleOf(admins[id])
		case g.MemberList != nil && requested[id].Role != "":
			row.Role = roleOf(requested[id].Role == model.RoleAdmin || requested[id].Role == model.RoleOwner)
		case row.Role == string(model.RoleOwner):
			// 旧群主被替换后降为管理员
			row.Role = string(model.RoleAdmin)
		}
		if err := tx.Save(row).Error; err != nil {
			return err
		}
	}
	return nil
}

func roleOf(admin bool) string {
	if admin {
		return string(model.RoleAdmin)
	}
	return string(model.RoleMember)
}

func (s *IdentityStore) RemoveGroup(ctx context.Context, groupID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := takeGroup(tx, groupID); err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", groupID).Delete(&memberRow{}).Error; err != nil {
			return err
		}
		return tx.Where("group_id = ?", groupID).Delete(&groupRow{}).Error
	})
	return errors.Wrapf(err, "remove group %d", groupID)
}

func nextGroupID(tx *gorm.DB) (int64, error) {
	var top int64
	if err := tx.Model(&groupRow{}).Select("COALESCE(MAX(group_id), 0)").Scan(&top).Error; err != nil {
		return 0, errors.Wrap(err, "next group id")
	}
	if top < FirstGroupID {
		return FirstGroupID, nil
	}
	return top + 1, nil
}

func (s *IdentityStore) UserGroups(ctx context.Context, userID int64) ([]int64, error) {
	ids := []int64{}
	err := s.db.WithContext(ctx).Model(&memberRow{}).Where("user_id = ?", userID).Order("group_id").Pluck("group_id", &ids).Error
	return ids, errors.Wrap(err, "user groups")
}

func (s *IdentityStore) AddMember(ctx context.Context, groupID, userID int64, role model.Role) (bool, error) {
	if role == "" {
		role = model.RoleMember
	}
	if role == model.RoleOwner {
		return false, errs.ErrInvalidRoleTransition.WrapMsg("owner is assigned by transfer", "groupId", groupID)
	}
	added := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := takeGroup(tx, groupID); err != nil {
			return err
		}
		u, err := takeUser(tx, userID)
		if err != nil {
			return err
		}
		if _, err := takeMember(tx, groupID, userID); err == nil {
			return nil
		} else if !errs.ErrNotFound.Is(err) {
			return err
		}
		added = true
		return tx.Create(&memberRow{
			GroupID:  groupID,
			UserID:   userID,
			Nickname: u.Nickname,
			Gender:   u.Gender,
			Age:      u.Age,
			Role:     string(role),
			JoinTime: s.now().Unix(),
		}).Error
	})
	if err != nil {
		return false, errors.Wrapf(err, "add member %d to group %d", userID, groupID)
	}
	return added, nil
}

func (s *IdentityStore) RemoveMember(ctx context.Context, groupID, userID int64) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := takeMember(tx, groupID, userID)
		if err != nil {
			return err
		}
		if m.Role == string(model.RoleOwner) {
			return errs.ErrInvalidRoleTransition.WrapMsg("the owner cannot leave without dissolving", "groupId", groupID)
		}
		return tx.Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&memberRow{}).Error
	})
	return errors.Wrapf(err, "remove member %d from group %d", userID, groupID)
}

func (s *IdentityStore) SetAdmin(ctx context.Context, groupID, userID int64, isAdmin bool) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := takeMember(tx, groupID, userID)
		if err != nil {
			return err
		}
		if m.Role == string(model.RoleOwner) {
			return errs.ErrInvalidRoleTransition.WrapMsg("the owner's role cannot change", "groupId", groupID)
		}
		return tx.Model(&memberRow{}).
			Where("group_id = ? AND user_id = ?", groupID, userID).
			Update("role", roleOf(isAdmin)).Error
	})
	return errors.Wrapf(err, "set admin %d in group %d", userID, groupID)
}

func (s *IdentityStore) UpdateMember(ctx context.Context, groupID, userID int64, card, title *string) error {
	updates := map[string]any{}
	if card != nil {
		updates["card"] = *card
	}
	if title != nil {
		updates["title"] = *title
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := takeMember(tx, groupID, userID); err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&memberRow{}).Where("group_id = ? AND user_id = ?", groupID, userID).Updates(updates).Error
	})
	return errors.Wrapf(err, "update member %d in group %d", userID, groupID)
}

func (s *IdentityStore) TransferOwnership(ctx context.Context, groupID, newOwnerID int64) (int64, error) {
	var oldOwner int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		g, err := takeGroup(tx, groupID)
		if err != nil {
			return err
		}
		oldOwner = g.OwnerID
		if newOwnerID == oldOwner {
			return nil
		}
		m, err := takeMember(tx, groupID, newOwnerID)
		if err != nil {
			return err
		}
		if m.Role != string(model.RoleAdmin) {
			return errs.ErrInvalidRoleTransition.WrapMsg("new owner must be an admin", "groupId", groupID, "userId", newOwnerID)
		}
		if err := tx.Model(&memberRow{}).Where("group_id = ? AND user_id = ?", groupID, oldOwner).
			Update("role", string(model.RoleAdmin)).Error; err != nil {
			return err
		}
		if err := tx.Model(&memberRow{}).Where("group_id = ? AND user_id = ?", groupID, newOwnerID).
			Update("role", string(model.RoleOwner)).Error; err != nil {
			return err
		}
		return tx.Model(&groupRow{}).Where("group_id = ?", groupID).Update("owner_id", newOwnerID).Error
	})
	if err != nil {
		return 0, errors.Wrapf(err, "transfer group %d", groupID)
	}
	return oldOwner, nil
}

func (s *IdentityStore) MemberIDs(ctx context.Context, groupID int64) ([]int64, error) {
	ids := []int64{}
	err := s.db.WithContext(ctx).Model(&memberRow{}).Where("group_id = ?", groupID).Order("user_id").Pluck("user_id", &ids).Error
	return ids, errors.Wrapf(err, "members of group %d", groupID)
}

func takeGroup(db *gorm.DB, groupID int64) (*groupRow, error) {
	var rows []groupRow
	if err := db.Where("group_id = ?", groupID).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load group")
	}
	if len(rows) == 0 {
		return nil, errs.ErrNotFound.WrapMsg("group not found", "groupId", groupID)
	}
	return &rows[0], nil
}

func takeMember(db *gorm.DB, groupID, userID int64) (*memberRow, error) {
	var rows []memberRow
	if err := db.Where("group_id = ? AND user_id = ?", groupID, userID).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load member")
	}
	if len(rows) == 0 {
		return nil, errs.ErrNotFound.WrapMsg("not a member", "groupId", groupID, "userId", userID)
	}
	return &rows[0], nil
}

func (r *groupRow) toModel(members []memberRow) *model.Group {
	g := &model.Group{
		GroupID:    r.GroupID,
		GroupName:  r.GroupName,
		OwnerID:    r.OwnerID,
		AdminList:  []int64{},
		MemberList: make([]model.GroupMember, 0, len(members)),
	}
	for _, m := range members {
		if m.Role == string(model.RoleAdmin) {
			g.AdminList = append(g.AdminList, m.UserID)
		}
		g.MemberList = append(g.MemberList, model.GroupMember{
			UserID:   m.UserID,
			Nickname: m.Nickname,
			Card:     m.Card,
			Title:    m.Title,
			Gender:   model.NormalizeGender(m.Gender),
			Age:      m.Age,
			Role:     model.Role(m.Role),
			JoinTime: m.JoinTime,
		})
	}
	return g
}

func dedupe(ids []int64, exclude int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id == exclude {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
