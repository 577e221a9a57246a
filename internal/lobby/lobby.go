// Package lobby is the entry point for players: it owns the session registry
// and the rooms, seats players, routes their commands to the right room and
// forwards balance changes to the ledger.
package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/blackjack/internal/auth"
	"github.com/lox/blackjack/internal/balance"
	"github.com/lox/blackjack/internal/randutil"
	"github.com/lox/blackjack/internal/room"
	"github.com/lox/blackjack/internal/session"
	"github.com/lox/blackjack/internal/telemetry"
)

// DefaultStartingCash is the balance a new account opens with.
const DefaultStartingCash = 1000

// maxAssignAttempts bounds retries when an auto-assigned room fills up
// between choosing it and joining it.
const maxAssignAttempts = 8

// Recorder queues balance changes. *balance.Ledger implements it.
type Recorder interface {
	Record(balance.Entry) bool
}

// Config controls room creation and new accounts.
type Config struct {
	Room         room.Config
	StartingCash int64
	// RoomPrefix names auto-created rooms: prefix + sequence number.
	RoomPrefix string
	// MaxRooms caps the number of rooms; 0 means unlimited.
	MaxRooms int
}

// Lobby seats players in rooms.
type Lobby struct {
	cfg         Config
	logger      *log.Logger
	clock       quartz.Clock
	registry    *session.Registry
	store       balance.Store
	ledger      Recorder
	sink        telemetry.Sink
	rand        *randutil.Source
	subscribers []room.EventSubscriber
	roomOpts    []room.Option
	grace       []session.Option

	mu     sync.Mutex
	rooms  map[string]*room.Room
	order  []string
	nextID int
}

// Option configures a Lobby.
type Option func(*Lobby)

// WithClock sets the clock for rooms and grace timers.
func WithClock(clock quartz.Clock) Option {
	return func(l *Lobby) { l.clock = clock }
}

// WithStore sets the balance store read at join.
func WithStore(store balance.Store) Option {
	return func(l *Lobby) { l.store = store }
}

// WithLedger sets where balance changes are queued.
func WithLedger(ledger Recorder) Option {
	return func(l *Lobby) { l.ledger = ledger }
}

// WithSink sets the telemetry sink.
func WithSink(sink telemetry.Sink) Option {
	return func(l *Lobby) { l.sink = sink }
}

// WithRandSource sets the source every room's shoe is seeded from.
func WithRandSource(src *randutil.Source) Option {
	return func(l *Lobby) { l.rand = src }
}

// WithSubscriber registers sub with every room the lobby creates.
func WithSubscriber(sub room.EventSubscriber) Option {
	return func(l *Lobby) { l.subscribers = append(l.subscribers, sub) }
}

// WithRoomOptions appends opts to every room the lobby creates.
func WithRoomOptions(opts ...room.Option) Option {
	return func(l *Lobby) { l.roomOpts = append(l.roomOpts, opts...) }
}

// WithGrace sets how long a disconnected seat is held.
func WithGrace(d time.Duration) Option {
	return func(l *Lobby) { l.grace = append(l.grace, session.WithGrace(d)) }
}

// New creates a lobby with no rooms.
func New(cfg Config, logger *log.Logger, opts ...Option) *Lobby {
	if cfg.StartingCash <= 0 {
		cfg.StartingCash = DefaultStartingCash
	}
	if cfg.RoomPrefix == "" {
		cfg.RoomPrefix = "room-"
	}
	l := &Lobby{
		cfg:    cfg,
		logger: logger.WithPrefix("lobby"),
		clock:  quartz.NewReal(),
		store:  balance.NewMemoryStore(),
		sink:   telemetry.NopSink{},
		rooms:  make(map[string]*room.Room),
		nextID: 1,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.rand == nil {
		l.rand = randutil.NewSource(0)
	}
	regOpts := append([]session.Option{session.WithClock(l.clock), session.WithExpireHook(l.onExpire)}, l.grace...)
	l.registry = session.NewRegistry(logger, regOpts...)
	return l
}

// Registry exposes the session registry.
func (l *Lobby) Registry() *session.Registry {
	return l.registry
}

// Connect registers a player. A player whose identity matches a session
// still inside its grace window is reconnected to it instead.
func (l *Lobby) Connect(id auth.Identity) (*session.Session, error) {
	s, err := l.registry.Register(id.ID, id.Nickname, id.Country)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, session.ErrNicknameTaken) {
		return nil, err
	}
	s, _, rerr := l.Resume(id)
	if rerr != nil {
		return nil, err
	}
	return s, nil
}

// Resume reattaches id to its disconnected session and returns the state of
// the session's room. A session that is gone reports ErrGraceExpired; a
// session held by another identity, or still connected, reports
// ErrNicknameTaken.
func (l *Lobby) Resume(id auth.Identity) (*session.Session, room.Snapshot, error) {
	nickname := strings.TrimSpace(id.Nickname)
	s, ok := l.registry.Lookup(nickname)
	if !ok {
		return nil, room.Snapshot{}, fmt.Errorf("resume: %w: %s", session.ErrGraceExpired, nickname)
	}
	identity := id.ID
	if identity == "" {
		identity = nickname
	}
	if s.Identity != identity || s.Status() != session.Disconnected {
		return nil, room.Snapshot{}, fmt.Errorf("resume: %w: %s", session.ErrNicknameTaken, nickname)
	}
	snap, err := l.Reconnect(nickname)
	if err != nil {
		return nil, room.Snapshot{}, err
	}
	return s, snap, nil
}

// JoinRoom seats nickname in roomName. An empty name picks the first room
// with a free seat, creating one if every room is full.
func (l *Lobby) JoinRoom(ctx context.Context, nickname, roomName string) (room.Snapshot, error) {
	s, ok := l.registry.Lookup(nickname)
	if !ok {
		return room.Snapshot{}, fmt.Errorf("join: %w", session.ErrUnknownSession)
	}
	if current := s.Room(); current != "" {
		return room.Snapshot{}, fmt.Errorf("%w: already seated in %s", room.ErrIllegalAction, current)
	}

	cash, err := l.store.GetBalance(ctx, s.Identity, l.cfg.StartingCash)
	if err != nil {
		return room.Snapshot{}, fmt.Errorf("read balance: %w", err)
	}
	player := room.Player{Identity: s.Identity, Nickname: s.Nickname, Country: s.Country, Cash: cash}

	for range maxAssignAttempts {
		r, err := l.pickRoom(roomName)
		if err != nil {
			return room.Snapshot{}, err
		}
		snap, err := r.Join(player)
		if errors.Is(err, room.ErrRoomFull) && roomName == "" {
			continue
		}
		if err != nil {
			return room.Snapshot{}, fmt.Errorf("join %s: %w", r.Name(), err)
		}
		if err := l.registry.Join(nickname, r.Name()); err != nil {
			// The session was reaped while joining; give the seat back.
			_, _ = r.Leave(nickname, "session gone")
			return room.Snapshot{}, err
		}
		l.logger.Info("Player seated", "nickname", nickname, "room", r.Name(), "cash", cash)
		return snap, nil
	}
	return room.Snapshot{}, fmt.Errorf("join: %w", room.ErrRoomFull)
}

// ChangeBet adds or removes a chip on nickname's pending bet.
func (l *Lobby) ChangeBet(nickname string, chipIndex int, dir room.Direction) error {
	r, err := l.seatedRoom(nickname)
	if err != nil {
		return err
	}
	return r.ChangeBet(nickname, chipIndex, dir)
}

// PlayerAction applies a decision to nickname's active hand. A non-zero
// generation must match the room's current one.
func (l *Lobby) PlayerAction(nickname string, action room.Action, generation uint64) error {
	r, err := l.seatedRoom(nickname)
	if err != nil {
		return err
	}
	return r.ActInGeneration(generation, nickname, action)
}

// Disconnect starts nickname's grace period. The seat keeps playing: bets
// stay placed and turns time out to Stand.
func (l *Lobby) Disconnect(nickname string) error {
	s, err := l.registry.MarkDisconnected(nickname)
	if err != nil {
		return err
	}
	if r, ok := l.Room(s.Room()); ok {
		if err := r.SetConnected(nickname, false, s.Deadline()); err != nil && !errors.Is(err, room.ErrUnknownSeat) {
			return err
		}
	}
	return nil
}

// Reconnect restores a disconnected player inside the grace window and
// returns the state of their room.
func (l *Lobby) Reconnect(nickname string) (room.Snapshot, error) {
	s, err := l.registry.Reconnect(nickname)
	if err != nil {
		return room.Snapshot{}, err
	}
	r, ok := l.Room(s.Room())
	if !ok {
		return room.Snapshot{}, nil
	}
	if err := r.SetConnected(nickname, true, time.Time{}); err != nil {
		return room.Snapshot{}, err
	}
	return r.Snapshot(), nil
}

// Leave removes the player for good. A seat with a hand in play forfeits
// its stake.
func (l *Lobby) Leave(nickname string) error {
	s, err := l.registry.Remove(nickname)
	if err != nil {
		return err
	}
	l.unseat(s, "left")
	return nil
}

// LeaveRoom stands the player up from their room but keeps the session.
func (l *Lobby) LeaveRoom(nickname string) error {
	s, ok := l.registry.Lookup(nickname)
	if !ok {
		return fmt.Errorf("leave: %w", session.ErrUnknownSession)
	}
	if s.Room() == "" {
		return fmt.Errorf("leave: %w", room.ErrUnknownSeat)
	}
	l.unseat(s, "left")
	return l.registry.Join(nickname, "")
}

// Rooms lists every room in creation order.
func (l *Lobby) Rooms() []room.Info {
	l.mu.Lock()
	rooms := make([]*room.Room, len(l.order))
	for i, name := range l.order {
		rooms[i] = l.rooms[name]
	}
	l.mu.Unlock()

	infos := make([]room.Info, len(rooms))
	for i, r := range rooms {
		infos[i] = r.Info()
	}
	return infos
}

// Room returns the named room.
func (l *Lobby) Room(name string) (*room.Room, bool) {
	if name == "" {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rooms[name]
	return r, ok
}

// Close stops every room timer.
func (l *Lobby) Close() {
	l.mu.Lock()
	rooms := make([]*room.Room, 0, len(l.rooms))
	for _, r := range l.rooms {
		rooms = append(rooms, r)
	}
	l.mu.Unlock()
	for _, r := range rooms {
		r.Close()
	}
}

func (l *Lobby) seatedRoom(nickname string) (*room.Room, error) {
	s, ok := l.registry.Lookup(nickname)
	if !ok {
		return nil, fmt.Errorf("%w: %s", session.ErrUnknownSession, nickname)
	}
	r, ok := l.Room(s.Room())
	if !ok {
		return nil, fmt.Errorf("%w: %s is not seated", room.ErrUnknownSeat, nickname)
	}
	return r, nil
}

// pickRoom returns the named room, creating it if needed, or for an empty
// name the first room with a free seat.
func (l *Lobby) pickRoom(name string) (*room.Room, error) {
	if name != "" {
		l.mu.Lock()
		defer l.mu.Unlock()
		if r, ok := l.rooms[name]; ok {
			return r, nil
		}
		return l.createLocked(name)
	}

	for _, info := range l.Rooms() {
		if info.Seats < info.MaxSeats {
			if r, ok := l.Room(info.Name); ok {
				return r, nil
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		name = fmt.Sprintf("%s%d", l.cfg.RoomPrefix, l.nextID)
		l.nextID++
		if _, taken := l.rooms[name]; !taken {
			return l.createLocked(name)
		}
	}
}

func (l *Lobby) createLocked(name string) (*room.Room, error) {
	if l.cfg.MaxRooms > 0 && len(l.rooms) >= l.cfg.MaxRooms {
		return nil, fmt.Errorf("%w: room limit %d reached", room.ErrRoomFull, l.cfg.MaxRooms)
	}
	opts := []room.Option{
		room.WithClock(l.clock),
		room.WithRand(l.rand.Child()),
		room.WithSubscriber(l),
		room.WithTickHook(l.sweep),
	}
	for _, sub := range l.subscribers {
		opts = append(opts, room.WithSubscriber(sub))
	}
	opts = append(opts, l.roomOpts...)
	r := room.New(name, l.cfg.Room, l.logger, opts...)
	l.rooms[name] = r
	l.order = append(l.order, name)
	l.logger.Info("Room created", "room", name)
	return r, nil
}

func (l *Lobby) unseat(s *session.Session, reason string) {
	r, ok := l.Room(s.Room())
	if !ok {
		return
	}
	if _, err := r.Leave(s.Nickname, reason); err != nil && !errors.Is(err, room.ErrUnknownSeat) {
		l.logger.Error("Failed to unseat player", "nickname", s.Nickname, "room", r.Name(), "error", err)
		l.reportError(telemetry.Record{Room: r.Name(), Nickname: s.Nickname, Identity: s.Identity, Message: "unseat: " + err.Error()})
	}
}

// onExpire removes a seat whose grace window ran out.
func (l *Lobby) onExpire(s *session.Session) {
	l.unseat(s, "grace expired")
}

// sweep reaps overdue sessions on every room tick.
func (l *Lobby) sweep() {
	l.registry.ExpireOverdue()
}

// OnEvent turns room events into ledger entries and telemetry.
func (l *Lobby) OnEvent(e room.Event) {
	switch ev := e.(type) {
	case *room.PayoutEvent:
		l.record(balance.Entry{Identity: ev.Identity, Delta: ev.Delta, Reason: balance.ReasonPayout, RoundID: ev.RoundID, Room: ev.RoomName()})
		l.sink.Emit(telemetry.Record{Kind: telemetry.KindRound, At: ev.Timestamp(), Room: ev.RoomName(), RoundID: ev.RoundID, Nickname: ev.Nickname, Identity: ev.Identity, Amount: ev.Delta})
	case *room.SeatLeftEvent:
		if ev.Forfeit > 0 {
			l.record(balance.Entry{Identity: ev.Identity, Delta: -ev.Forfeit, Reason: balance.ReasonForfeit, Room: ev.RoomName()})
			l.sink.Emit(telemetry.Record{Kind: telemetry.KindForfeit, At: ev.Timestamp(), Room: ev.RoomName(), Nickname: ev.Nickname, Identity: ev.Identity, Amount: -ev.Forfeit, Message: ev.Reason})
		}
	case *room.RefillEvent:
		l.record(balance.Entry{Identity: ev.Identity, Delta: ev.Amount, Reason: balance.ReasonRefill, Room: ev.RoomName()})
		l.sink.Emit(telemetry.Record{Kind: telemetry.KindRefill, At: ev.Timestamp(), Room: ev.RoomName(), Nickname: ev.Nickname, Identity: ev.Identity, Amount: ev.Amount})
	case *room.RoundAbortedEvent:
		l.sink.Emit(telemetry.Record{Kind: telemetry.KindAbort, At: ev.Timestamp(), Room: ev.RoomName(), RoundID: ev.RoundID, Message: ev.Reason})
	}
}

func (l *Lobby) record(e balance.Entry) {
	if l.ledger == nil {
		// No ledger: write straight through to the store.
		if _, err := l.store.ApplyDelta(context.Background(), e.Identity, e.Delta); err != nil {
			l.logger.Error("Balance update failed", "identity", e.Identity, "delta", e.Delta, "error", err)
			l.reportError(telemetry.Record{Room: e.Room, RoundID: e.RoundID, Identity: e.Identity, Amount: e.Delta, Message: fmt.Sprintf("%s update failed: %v", e.Reason, err)})
		}
		return
	}
	l.ledger.Record(e)
}

func (l *Lobby) reportError(r telemetry.Record) {
	r.Kind = telemetry.KindError
	r.At = l.clock.Now()
	l.sink.Emit(r)
}
