// Package room runs one blackjack table: its seats, shoe, dealer hand and
// the timed phase cycle Bet, Deal, PlayersPlay, DealerPlay and Payout.
//
// A room is an actor guarded by a single mutex. Every command and every
// timer callback mutates state under that mutex and queues the events it
// produces; the events are published after the mutex is released, in order,
// so subscribers may call back into the room.
package room

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/google/uuid"

	"github.com/lox/blackjack/internal/blackjack"
	"github.com/lox/blackjack/internal/deck"
)

// Room is a single table.
type Room struct {
	name   string
	cfg    Config
	clock  quartz.Clock
	logger *log.Logger
	bus    *EventBus
	onTick func()

	mu         sync.Mutex
	shoe       *deck.Shoe
	seats      []*seat
	dealer     []deck.Card
	holeHidden bool
	phase      Phase
	generation uint64
	deadline   time.Time
	total      time.Duration
	timer      *quartz.Timer
	turn       int
	roundID    string
	running    bool
	outbox     []Event

	// publishMu keeps per-room event order across concurrent commands.
	publishMu sync.Mutex
}

// Option configures a Room.
type Option func(*Room)

// WithClock sets the clock driving phase timers.
func WithClock(clock quartz.Clock) Option {
	return func(r *Room) { r.clock = clock }
}

// WithShoe replaces the room's shoe, typically with a stacked one in tests.
func WithShoe(shoe *deck.Shoe) Option {
	return func(r *Room) { r.shoe = shoe }
}

// WithRand sets the random source used to build and shuffle the shoe.
func WithRand(rng *rand.Rand) Option {
	return func(r *Room) {
		if r.shoe == nil {
			r.shoe = deck.NewShoe(r.cfg.Decks, r.cfg.Penetration, rng)
		}
	}
}

// WithSubscriber registers an event subscriber at construction.
func WithSubscriber(sub EventSubscriber) Option {
	return func(r *Room) { r.bus.Subscribe(sub) }
}

// WithTickHook runs fn on every timer firing, before the room lock is taken.
func WithTickHook(fn func()) Option {
	return func(r *Room) { r.onTick = fn }
}

// New creates an idle room. It starts its phase cycle when the first seat
// joins.
func New(name string, cfg Config, logger *log.Logger, opts ...Option) *Room {
	r := &Room{
		name:   name,
		cfg:    cfg.withDefaults(),
		clock:  quartz.NewReal(),
		logger: logger.WithPrefix("room").With("room", name),
		bus:    NewEventBus(),
		turn:   -1,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.shoe == nil {
		r.shoe = deck.NewShoe(r.cfg.Decks, r.cfg.Penetration, nil)
	}
	return r
}

// Name returns the room name.
func (r *Room) Name() string {
	return r.name
}

// Config returns the effective room configuration.
func (r *Room) Config() Config {
	return r.cfg
}

// Subscribe adds an event subscriber.
func (r *Room) Subscribe(sub EventSubscriber) {
	r.bus.Subscribe(sub)
}

// Join seats p. The first seat in an idle room starts the phase cycle; a
// player joining mid-round waits for the next Bet phase.
func (r *Room) Join(p Player) (Snapshot, error) {
	var snap Snapshot
	err := r.apply(func() error {
		if r.find(p.Nickname) >= 0 {
			return fmt.Errorf("%w: %s", ErrSeatTaken, p.Nickname)
		}
		if len(r.seats) >= r.cfg.MaxSeats {
			return fmt.Errorf("%w: %s", ErrRoomFull, r.name)
		}
		s := newSeat(p, len(r.cfg.Chips))
		r.seats = append(r.seats, s)
		r.emit(&SeatJoinedEvent{Seat: s.view()})
		r.logger.Info("Seat joined", "nickname", p.Nickname, "cash", p.Cash, "seats", len(r.seats))

		if !r.running {
			r.running = true
			r.enterBet()
		}
		snap = r.snapshot()
		return nil
	})
	return snap, err
}

// Leave removes nickname's seat and returns the stake it forfeits: the bets on
// its unsettled hands. A wager still being placed in the Bet phase is dropped
// with the seat; it was never taken from the stored balance, so nothing is
// forfeited for it.
func (r *Room) Leave(nickname, reason string) (int64, error) {
	var forfeit int64
	err := r.apply(func() error {
		idx := r.find(nickname)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownSeat, nickname)
		}
		s := r.seats[idx]
		forfeit = s.stake()
		r.seats = append(r.seats[:idx], r.seats[idx+1:]...)
		r.emit(&SeatLeftEvent{Nickname: nickname, Identity: s.Identity, Reason: reason, Forfeit: forfeit})
		r.logger.Info("Seat left", "nickname", nickname, "reason", reason, "forfeit", forfeit, "seats", len(r.seats))

		if len(r.seats) == 0 {
			r.retire()
			return nil
		}
		if r.phase == PhasePlayersPlay && r.turn >= 0 {
			switch {
			case idx < r.turn:
				r.turn--
			case idx == r.turn:
				r.startTurn(idx)
			}
		}
		return nil
	})
	return forfeit, err
}

// SetConnected records a seat's connection status. A disconnected seat keeps
// its hands and bets until it reconnects or is removed. deadline is the
// removal deadline shown to the table.
func (r *Room) SetConnected(nickname string, connected bool, deadline time.Time) error {
	return r.apply(func() error {
		idx := r.find(nickname)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownSeat, nickname)
		}
		s := r.seats[idx]
		if s.connected == connected {
			return nil
		}
		s.connected = connected
		if connected {
			s.deadline = time.Time{}
		} else {
			s.deadline = deadline
		}
		r.emit(&SeatConnectionEvent{Nickname: nickname, Connected: connected, Deadline: s.deadline})
		return nil
	})
}

// ChangeBet adds or removes one chip of denomination chipIndex during the
// Bet phase.
func (r *Room) ChangeBet(nickname string, chipIndex int, dir Direction) error {
	return r.apply(func() error {
		r.catchUp()
		if r.phase != PhaseBet || !r.running {
			return fmt.Errorf("%w: bets are closed", ErrIllegalAction)
		}
		idx := r.find(nickname)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrUnknownSeat, nickname)
		}
		if chipIndex < 0 || chipIndex >= len(r.cfg.Chips) {
			return fmt.Errorf("%w: no chip %d", ErrIllegalAction, chipIndex)
		}
		s := r.seats[idx]
		chip := r.cfg.Chips[chipIndex]

		switch dir {
		case AddChip:
			if s.Cash < chip {
				return fmt.Errorf("%w: cash %d, chip %d", ErrInsufficientBalance, s.Cash, chip)
			}
			s.Cash -= chip
			s.bet += chip
			s.chips[chipIndex]++
		case RemoveChip:
			if s.chips[chipIndex] == 0 {
				return fmt.Errorf("%w: no %d chip on the bet", ErrIllegalAction, chip)
			}
			s.Cash += chip
			s.bet -= chip
			s.chips[chipIndex]--
		default:
			return fmt.Errorf("%w: unknown direction %q", ErrIllegalAction, dir)
		}

		r.emit(&BetChangedEvent{Nickname: nickname, Bet: s.bet, Cash: s.Cash})
		return nil
	})
}

// Act applies a player decision to the active hand.
func (r *Room) Act(nickname string, action Action) error {
	return r.ActInGeneration(0, nickname, action)
}

// ActInGeneration applies action only while the room is still in generation
// gen. A zero gen skips the check. Decisions made against a turn that has
// since timed out are rejected.
func (r *Room) ActInGeneration(gen uint64, nickname string, action Action) error {
	return r.apply(func() error {
		r.catchUp()
		if r.phase != PhasePlayersPlay || r.turn < 0 {
			return fmt.Errorf("%w: not in play", ErrIllegalAction)
		}
		if gen != 0 && gen != r.generation {
			return fmt.Errorf("%w: stale generation %d", ErrIllegalAction, gen)
		}
		s := r.seats[r.turn]
		if s.Nickname != nickname {
			if r.find(nickname) < 0 {
				return fmt.Errorf("%w: %s", ErrUnknownSeat, nickname)
			}
			return fmt.Errorf("%w: not %s's turn", ErrIllegalAction, nickname)
		}
		return r.act(s, action)
	})
}

// Snapshot returns a copy of the room's public state.
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

// Info returns the lobby listing entry.
func (r *Room) Info() Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Info{Name: r.name, Seats: len(r.seats), MaxSeats: r.cfg.MaxSeats, Phase: r.phase, Running: r.running}
}

// Phase returns the current phase.
func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Close stops the room timer. Seats are left in place.
func (r *Room) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimer()
	r.running = false
	r.generation++
}

// apply runs fn under the room lock, then publishes the events it queued.
func (r *Room) apply(fn func() error) error {
	r.mu.Lock()
	err := fn()
	events := r.outbox
	r.outbox = nil
	r.publishMu.Lock()
	r.mu.Unlock()
	defer r.publishMu.Unlock()

	for _, e := range events {
		r.bus.Publish(e)
	}
	return err
}

func (r *Room) emit(e stamper) {
	e.stamp(r.name, r.clock.Now())
	r.outbox = append(r.outbox, e)
}

func (r *Room) find(nickname string) int {
	for i, s := range r.seats {
		if s.Nickname == nickname {
			return i
		}
	}
	return -1
}

func (r *Room) snapshot() Snapshot {
	snap := Snapshot{
		Room:          r.name,
		Phase:         r.phase,
		Generation:    r.generation,
		RoundID:       r.roundID,
		TotalMs:       r.total.Milliseconds(),
		Seats:         make([]SeatView, len(r.seats)),
		Dealer:        r.dealerView(),
		Chips:         append([]int64(nil), r.cfg.Chips...),
		MaxSeats:      r.cfg.MaxSeats,
		ShoeRemaining: r.shoe.Remaining(),
		Running:       r.running,
	}
	if r.running && !r.deadline.IsZero() {
		snap.TimeLeftMs = max(r.deadline.Sub(r.clock.Now()), 0).Milliseconds()
	}
	for i, s := range r.seats {
		snap.Seats[i] = s.view()
	}
	if r.phase == PhasePlayersPlay && r.turn >= 0 {
		snap.Turn = r.seats[r.turn].Nickname
	}
	return snap
}

func (r *Room) dealerView() DealerView {
	cards := r.dealer
	if r.holeHidden && len(cards) > 1 {
		cards = cards[:1]
	}
	return DealerView{
		Cards:      append([]deck.Card(nil), cards...),
		HoleHidden: r.holeHidden,
		Total:      blackjack.BestTotal(cards).Value,
	}
}

func newRoundID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
