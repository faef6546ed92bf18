package chat

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ys7zTS/sandbox/logger"
	"github.com/ys7zTS/sandbox/module/chat/model"
	"github.com/ys7zTS/sandbox/module/chat/store"
	"github.com/ys7zTS/sandbox/tools/errs"
)

type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteWait    time.Duration
	ReadLimit    int64
}

func (c *Config) norm() {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 2 * c.PingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
}

// Server owns the live side of the sandbox: sessions, action dispatch and
// state resynchronization.
type Server struct {
	conf   Config
	reg    *Registry
	disp   *Dispatcher
	syncer *Syncer
	ids    store.IdentityStore
	log    *zap.Logger
}

func NewServer(conf Config, reg *Registry, disp *Dispatcher, syncer *Syncer, ids store.IdentityStore) *Server {
	conf.norm()
	return &Server{conf: conf, reg: reg, disp: disp, syncer: syncer, ids: ids, log: logger.Named("chat")}
}

func (s *Server) Registry() *Registry             { return s.reg }
func (s *Server) Disp() *Dispatcher               { return s.disp }
func (s *Server) Syncer() *Syncer                 { return s.syncer }
func (s *Server) Identities() store.IdentityStore { return s.ids }

// BindIdentity rebinds the session and pushes a fresh snapshot to it.
// An id that does not resolve to a user binds the guest.
func (s *Server) BindIdentity(ctx context.Context, sess *Session, userID int64) (*Snapshot, error) {
	if userID != model.GuestUserID {
		if _, err := s.ids.GetUser(ctx, userID); err != nil {
			if !errors.Is(err, errs.ErrNotFound) {
				return nil, err
			}
			s.log.Info("bind target does not exist, falling back to guest", zap.Int64("userId", userID), zap.Int64("connId", sess.ID))
			userID = model.GuestUserID
		}
	}
	if _, err := s.reg.Bind(sess.ID, userID); err != nil {
		return nil, err
	}
	return s.PushSync(ctx, sess)
}

// PushSync sends sync_all to one session. A session whose user vanished is
// rebound to the guest first.
func (s *Server) PushSync(ctx context.Context, sess *Session) (*Snapshot, error) {
	snap, err := s.syncer.Snapshot(ctx, sess.UserID())
	if err != nil {
		return nil, err
	}
	if snap.Me.UserID != sess.UserID() {
		if _, err := s.reg.Bind(sess.ID, snap.Me.UserID); err != nil {
			return nil, err
		}
	}
	s.push(sess, &Frame{Type: EventSyncAll, Data: snap})
	return snap, nil
}

// ResyncUsers pushes snapshots to every session of the listed users.
func (s *Server) ResyncUsers(ctx context.Context, userIDs ...int64) {
	for _, sess := range s.reg.ByUsers(userIDs) {
		if _, err := s.PushSync(ctx, sess); err != nil {
			s.log.Warn("resync failed", zap.Int64("connId", sess.ID), zap.Error(err))
		}
	}
}

// ResyncAll pushes snapshots to every open session.
func (s *Server) ResyncAll(ctx context.Context) {
	for _, sess := range s.reg.All() {
		if _, err := s.PushSync(ctx, sess); err != nil {
			s.log.Warn("resync failed", zap.Int64("connId", sess.ID), zap.Error(err))
		}
	}
}

func (s *Server) push(sess *Session, f *Frame) {
	payload, err := EncodeFrame(f)
	if err != nil {
		s.log.Error("encode frame", zap.String("type", f.Type), zap.Error(err))
		return
	}
	if !sess.Enqueue(payload) {
		s.log.Warn("drop frame", zap.String("type", f.Type), zap.Int64("connId", sess.ID))
	}
}
