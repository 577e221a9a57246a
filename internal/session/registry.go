// Package session tracks connected players, their room assignment and the
// grace window that keeps a disconnected player's seat alive.
package session

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
)

// DefaultGrace is how long a disconnected seat is held for reconnection.
const DefaultGrace = 30 * time.Second

// MaxNicknameLength bounds nickname length in runes.
const MaxNicknameLength = 24

var (
	ErrNicknameTaken   = errors.New("nickname taken")
	ErrGraceExpired    = errors.New("grace period expired")
	ErrUnknownSession  = errors.New("unknown session")
	ErrInvalidNickname = errors.New("invalid nickname")
)

// Status is the connection status of a session
type Status int

const (
	Connected Status = iota
	Disconnected
)

// String returns the string representation of a status
func (s Status) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session is one player's identity and lifecycle state. Game-round state lives
// on the room's seat, never here.
type Session struct {
	Nickname string
	Identity string
	Country  string

	mu       sync.Mutex
	room     string
	status   Status
	deadline time.Time
	timer    *quartz.Timer
	reaped   bool
}

// Room returns the name of the room the session is seated in, if any.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Status returns the connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Deadline returns the removal deadline of a disconnected session.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// Registry is the process-wide nickname index. Each nickname is claimed with a
// compare-and-swap on its own key and each session carries its own mutex, so
// rooms never contend on a registry-wide lock.
type Registry struct {
	clock    quartz.Clock
	grace    time.Duration
	logger   *log.Logger
	sessions sync.Map // nickname -> *Session
	onExpire func(*Session)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the clock used for grace deadlines.
func WithClock(clock quartz.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

// WithGrace sets the disconnect grace period.
func WithGrace(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.grace = d
		}
	}
}

// WithExpireHook registers fn to run after a session is reaped. It runs
// without any registry lock held.
func WithExpireHook(fn func(*Session)) Option {
	return func(r *Registry) { r.onExpire = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger, opts ...Option) *Registry {
	r := &Registry{
		clock:  quartz.NewReal(),
		grace:  DefaultGrace,
		logger: logger.WithPrefix("session"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Grace returns the configured grace period.
func (r *Registry) Grace() time.Duration {
	return r.grace
}

// Register claims nickname for identity. A nickname stays taken while its
// session is connected or inside its grace window.
func (r *Registry) Register(identity, nickname, country string) (*Session, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || utf8.RuneCountInString(nickname) > MaxNicknameLength {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNickname, nickname)
	}
	if identity == "" {
		identity = nickname
	}

	s := &Session{Nickname: nickname, Identity: identity, Country: country, status: Connected}
	if _, loaded := r.sessions.LoadOrStore(nickname, s); loaded {
		return nil, fmt.Errorf("%w: %s", ErrNicknameTaken, nickname)
	}

	r.logger.Debug("Session registered", "nickname", nickname, "identity", identity)
	return s, nil
}

// Lookup returns the live session for nickname.
func (r *Registry) Lookup(nickname string) (*Session, bool) {
	v, ok := r.sessions.Load(nickname)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Join records that nickname is seated in room. An empty room clears it.
func (r *Registry) Join(nickname, room string) error {
	s, ok := r.Lookup(nickname)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, nickname)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
	return nil
}

// MarkDisconnected flips the session to disconnected and schedules its
// removal after the grace period. Calling it twice keeps the first deadline.
func (r *Registry) MarkDisconnected(nickname string) (*Session, error) {
	s, ok := r.Lookup(nickname)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, nickname)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reaped {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, nickname)
	}
	if s.status == Disconnected {
		return s, nil
	}
	s.status = Disconnected
	s.deadline = r.clock.Now().Add(r.grace)
	s.timer = r.clock.AfterFunc(r.grace, func() { r.expire(s) }, "session", "grace")

	r.logger.Info("Session disconnected", "nickname", nickname, "room", s.room, "deadline", s.deadline)
	return s, nil
}

// Reconnect restores a disconnected session inside its grace window.
func (r *Registry) Reconnect(nickname string) (*Session, error) {
	s, ok := r.Lookup(nickname)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraceExpired, nickname)
	}

	s.mu.Lock()
	if s.reaped {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrGraceExpired, nickname)
	}
	if s.status == Connected {
		s.mu.Unlock()
		return s, nil
	}
	if !r.clock.Now().Before(s.deadline) {
		s.mu.Unlock()
		r.expire(s)
		return nil, fmt.Errorf("%w: %s", ErrGraceExpired, nickname)
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.status = Connected
	s.deadline = time.Time{}
	s.mu.Unlock()

	r.logger.Info("Session reconnected", "nickname", nickname, "room", s.Room())
	return s, nil
}

// Remove deletes the session on an explicit leave. The expiry hook is not run.
func (r *Registry) Remove(nickname string) (*Session, error) {
	s, ok := r.Lookup(nickname)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, nickname)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.reaped = true
	r.sessions.CompareAndDelete(nickname, s)
	return s, nil
}

// ExpireOverdue reaps every disconnected session whose deadline has passed
// and returns them. Per-session timers normally get there first; this sweep
// covers timers that were delayed.
func (r *Registry) ExpireOverdue() []*Session {
	var expired []*Session
	r.sessions.Range(func(_, v any) bool {
		s := v.(*Session)
		if r.expire(s) {
			expired = append(expired, s)
		}
		return true
	})
	return expired
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *Registry) expire(s *Session) bool {
	s.mu.Lock()
	if s.reaped || s.status != Disconnected || r.clock.Now().Before(s.deadline) {
		s.mu.Unlock()
		return false
	}
	s.reaped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	r.sessions.CompareAndDelete(s.Nickname, s)
	room := s.room
	s.mu.Unlock()

	r.logger.Info("Session grace expired", "nickname", s.Nickname, "room", room)
	if r.onExpire != nil {
		r.onExpire(s)
	}
	return true
}
