package chat

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/tools/errs"
	"github.com/ys7zTS/sandbox/tools/ids"
)

// ===== 配置 =====

type RegistryConf struct {
	IdleTimeout time.Duration    // 超过该时长无任何帧/pong 的连接由 sweeper 关闭
	SweepEvery  time.Duration    // 清理周期
	SendQueue   int              // 每连接发送队列长度
	Clock       func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *RegistryConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
}

// Presence mirrors who is online to an external store. Optional.
// Refresh is called every sweep with the users that still have live
// sessions, so an expiring mirror stays current.
type Presence interface {
	Online(ctx context.Context, userID, connID int64) error
	Offline(ctx context.Context, userID, connID int64) error
	Refresh(ctx context.Context, userIDs []int64) error
}

// ===== 数据结构 =====

// Registry indexes live sessions by connection id and by bound user.
// Unbound sessions are indexed under the guest id.
type Registry struct {
	mu     sync.RWMutex
	byID   map[int64]*Session
	byUser map[int64]map[int64]*Session

	conf     RegistryConf
	presence Presence
	log      *zap.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewRegistry(conf RegistryConf, presence Presence) *Registry {
	conf.norm()
	return &Registry{
		byID:     make(map[int64]*Session),
		byUser:   make(map[int64]map[int64]*Session),
		conf:     conf,
		presence: presence,
		log:      logger.Named("registry"),
		stopCh:   make(chan struct{}),
	}
}

// Start runs the idle sweeper until Close.
func (r *Registry) Start() {
	go r.sweeper()
}

// Close stops the sweeper and closes every session.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	all := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		all = append(all, s)
	}
	r.byID = map[int64]*Session{}
	r.byUser = map[int64]map[int64]*Session{}
	r.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}

// Add registers a new unbound session.
func (r *Registry) Add(remote string) *Session {
	s := newSession(ids.Generate(), remote, r.conf.SendQueue, r.conf.Clock())

	r.mu.Lock()
	r.byID[s.ID] = s
	r.indexLocked(s.userID, s)
	r.mu.Unlock()
	return s
}

// Bind moves a session to userID and returns the previous binding.
func (r *Registry) Bind(connID, userID int64) (int64, error) {
	r.mu.Lock()
	s, ok := r.byID[connID]
	if !ok {
		r.mu.Unlock()
		return 0, errs.ErrConnectionLost.WrapMsg("connection is gone", "connId", connID)
	}
	prev := s.UserID()
	if prev != userID {
		r.unindexLocked(prev, connID)
		s.setUser(userID)
		r.indexLocked(userID, s)
	}
	r.mu.Unlock()

	s.touch(r.conf.Clock())
	if prev != userID {
		r.offline(prev, connID)
		r.online(userID, connID)
	}
	return prev, nil
}

// Remove drops the session from the indexes, then closes its queue.
func (r *Registry) Remove(connID int64) {
	r.mu.Lock()
	s, ok := r.byID[connID]
	if ok {
		delete(r.byID, connID)
		r.unindexLocked(s.UserID(), connID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	s.close()
	r.offline(s.UserID(), connID)
}

func (r *Registry) Get(connID int64) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[connID]
	return s, ok
}

func (r *Registry) ByUser(userID int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mm := r.byUser[userID]
	out := make([]*Session, 0, len(mm))
	for _, s := range mm {
		out = append(out, s)
	}
	return out
}

// ByUsers returns the sessions of every listed user once.
func (r *Registry) ByUsers(userIDs []int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[int64]struct{}, len(userIDs))
	var out []*Session
	for _, uid := range userIDs {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		for _, s := range r.byUser[uid] {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Touch refreshes liveness; called on pong and on every inbound frame.
func (r *Registry) Touch(connID int64) {
	if s, ok := r.Get(connID); ok {
		s.touch(r.conf.Clock())
	}
}

// ===== 清理协程 =====

func (r *Registry) sweeper() {
	t := time.NewTicker(r.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-t.C:
			r.SweepOnce(r.conf.Clock())
		}
	}
}

// SweepOnce removes sessions idle longer than IdleTimeout, renews the
// presence of the remaining bound users and returns how many were removed.
func (r *Registry) SweepOnce(now time.Time) int {
	var expired []int64
	live := map[int64]struct{}{}
	r.mu.RLock()
	for id, s := range r.byID {
		if now.Sub(s.LastSeen()) > r.conf.IdleTimeout {
			expired = append(expired, id)
		} else if uid := s.UserID(); uid > 0 {
			live[uid] = struct{}{}
		}
	}
	r.mu.RUnlock()

	// 收集后统一移除，避免持锁期间关闭
	for _, id := range expired {
		r.log.Info("closing idle connection", zap.Int64("connId", id))
		r.Remove(id)
	}
	r.refresh(live)
	return len(expired)
}

// ===== 索引维护（需持锁） =====

func (r *Registry) indexLocked(userID int64, s *Session) {
	mm := r.byUser[userID]
	if mm == nil {
		mm = make(map[int64]*Session)
		r.byUser[userID] = mm
	}
	mm[s.ID] = s
}

func (r *Registry) unindexLocked(userID, connID int64) {
	if mm := r.byUser[userID]; mm != nil {
		delete(mm, connID)
		if len(mm) == 0 {
			delete(r.byUser, userID)
		}
	}
}

func (r *Registry) online(userID, connID int64) {
	if r.presence == nil || userID <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.presence.Online(ctx, userID, connID); err != nil {
		r.log.Warn("presence online failed", zap.Int64("userId", userID), zap.Error(err))
	}
}

func (r *Registry) refresh(live map[int64]struct{}) {
	if r.presence == nil || len(live) == 0 {
		return
	}
	userIDs := make([]int64, 0, len(live))
	for uid := range live {
		userIDs = append(userIDs, uid)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.presence.Refresh(ctx, userIDs); err != nil {
		r.log.Warn("presence refresh failed", zap.Int("users", len(userIDs)), zap.Error(err))
	}
}

func (r *Registry) offline(userID, connID int64) {
	if r.presence == nil || userID <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.presence.Offline(ctx, userID, connID); err != nil {
		r.log.Warn("presence offline failed", zap.Int64("userId", userID), zap.Error(err))
	}
}
