package chat

import (
	"sync"
	"time"

	"github.com/ys7zTS/sandbox/module/chat/model"
)

// Session is one live connection. A single user may hold several.
// Outbound frames go through a bounded queue drained by the writer goroutine.
type Session struct {
	ID     int64
	Remote string

	mu       sync.Mutex
	userID   int64
	lastSeen time.Time
	closed   bool
	send     chan []byte
}

func newSession(id int64, remote string, queue int, now time.Time) *Session {
	if queue <= 0 {
		queue = 256
	}
	return &Session{
		ID:       id,
		Remote:   remote,
		userID:   model.GuestUserID,
		lastSeen: now,
		send:     make(chan []byte, queue),
	}
}

func (s *Session) UserID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) setUser(userID int64) {
	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()
}

// Enqueue never blocks. It reports false when the queue is full or the
// session is closed; the frame is dropped in both cases.
func (s *Session) Enqueue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Outbound is drained by the writer; it is closed with the session.
func (s *Session) Outbound() <-chan []byte { return s.send }

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close is idempotent.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.send)
}
