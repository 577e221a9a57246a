package room

import (
	"sync"
	"time"

	"github.com/lox/blackjack/internal/deck"
	"github.com/lox/blackjack/internal/payout"
)

// EventType names a room event on the wire.
type EventType string

const (
	EventSeatJoined       EventType = "seat_joined"
	EventSeatLeft         EventType = "seat_left"
	EventSeatDisconnected EventType = "seat_disconnected"
	EventSeatReconnected  EventType = "seat_reconnected"
	EventPhaseChanged     EventType = "phase_changed"
	EventTick             EventType = "tick"
	EventBetChanged       EventType = "bet_changed"
	EventCardDealt        EventType = "card_dealt"
	EventTurnStarted      EventType = "turn_started"
	EventPlayerActed      EventType = "player_acted"
	EventHoleCardRevealed EventType = "hole_card_revealed"
	EventDealerRevealed   EventType = "dealer_revealed"
	EventPayout           EventType = "payout"
	EventRoundAborted     EventType = "round_aborted"
	EventShoeShuffled     EventType = "shoe_shuffled"
	EventRefill           EventType = "refill"
	EventRoomRetired      EventType = "room_retired"
)

// String returns the string representation of the event type.
func (et EventType) String() string {
	return string(et)
}

// Event is anything a room publishes to its subscribers.
type Event interface {
	EventType() EventType
	RoomName() string
	Timestamp() time.Time
}

// header is embedded in every event and filled in by the room on emit.
type header struct {
	Room string    `json:"room"`
	At   time.Time `json:"at"`
}

func (h header) RoomName() string     { return h.Room }
func (h header) Timestamp() time.Time { return h.At }

func (h *header) stamp(room string, at time.Time) {
	h.Room = room
	h.At = at
}

type stamper interface {
	Event
	stamp(room string, at time.Time)
}

// SeatJoinedEvent is published when a player takes a seat.
type SeatJoinedEvent struct {
	header
	Seat SeatView `json:"seat"`
}

// SeatLeftEvent is published when a seat is removed. Forfeit is the stake
// lost when the seat leaves with an unsettled hand.
type SeatLeftEvent struct {
	header
	Nickname string `json:"nickname"`
	Identity string `json:"-"`
	Reason   string `json:"reason"`
	Forfeit  int64  `json:"forfeit"`
}

// SeatConnectionEvent is published when a seated player drops or returns.
type SeatConnectionEvent struct {
	header
	Nickname  string    `json:"nickname"`
	Connected bool      `json:"connected"`
	Deadline  time.Time `json:"deadline,omitzero"`
}

// PhaseChangedEvent is published on every phase transition.
type PhaseChangedEvent struct {
	header
	Phase      Phase  `json:"phase"`
	RoundID    string `json:"round_id"`
	DurationMs int64  `json:"duration_ms"`
}

// TickEvent carries the time left in the running phase or turn.
type TickEvent struct {
	header
	Phase      Phase  `json:"phase"`
	Generation uint64 `json:"generation"`
	TimeLeftMs int64  `json:"time_left_ms"`
	TotalMs    int64  `json:"total_ms"`
}

// BetChangedEvent is published when a chip is added or removed.
type BetChangedEvent struct {
	header
	Nickname string `json:"nickname"`
	Bet      int64  `json:"bet"`
	Cash     int64  `json:"cash"`
}

// CardDealtEvent is published for every card leaving the shoe. Dealer cards
// have an empty nickname; a face-down card carries no card value.
type CardDealtEvent struct {
	header
	Nickname string     `json:"nickname,omitempty"`
	Hand     int        `json:"hand"`
	Card     *deck.Card `json:"card,omitempty"`
	FaceDown bool       `json:"face_down,omitempty"`
	Total    int        `json:"total"`
}

// TurnStartedEvent is published when a hand becomes the active turn. It is
// published again with the same generation after a hit or split leaves the
// hand open, listing what is still allowed; DurationMs is then the time left.
type TurnStartedEvent struct {
	header
	Nickname   string   `json:"nickname"`
	Hand       int      `json:"hand"`
	Actions    []Action `json:"actions"`
	Generation uint64   `json:"generation"`
	DurationMs int64    `json:"duration_ms"`
}

// PlayerActedEvent is published after an action is applied. Timeout marks
// the stand applied when the turn timer ran out.
type PlayerActedEvent struct {
	header
	Nickname string `json:"nickname"`
	Hand     int    `json:"hand"`
	Action   Action `json:"action"`
	Timeout  bool   `json:"timeout,omitempty"`
}

// HoleCardRevealedEvent opens dealer play.
type HoleCardRevealedEvent struct {
	header
	Card  deck.Card   `json:"card"`
	Cards []deck.Card `json:"cards"`
	Total int         `json:"total"`
}

// DealerRevealedEvent reveals the dealer's final hand.
type DealerRevealedEvent struct {
	header
	Cards     []deck.Card `json:"cards"`
	Total     int         `json:"total"`
	Bust      bool        `json:"bust"`
	Blackjack bool        `json:"blackjack"`
}

// PayoutEvent is published once per participating seat at settlement.
type PayoutEvent struct {
	header
	RoundID  string                  `json:"round_id"`
	Nickname string                  `json:"nickname"`
	Identity string                  `json:"-"`
	Hands    []payout.HandSettlement `json:"hands"`
	Credit   int64                   `json:"credit"`
	Delta    int64                   `json:"delta"`
	Cash     int64                   `json:"cash"`
}

// RoundAbortedEvent is published when a round cannot finish. Every unsettled
// stake is refunded.
type RoundAbortedEvent struct {
	header
	RoundID string           `json:"round_id"`
	Reason  string           `json:"reason"`
	Refunds map[string]int64 `json:"refunds"`
}

// ShoeShuffledEvent is published whenever the shoe is rebuilt.
type ShoeShuffledEvent struct {
	header
	Cards int `json:"cards"`
}

// RefillEvent is published when a broke seat is topped up.
type RefillEvent struct {
	header
	Nickname string `json:"nickname"`
	Identity string `json:"-"`
	Amount   int64  `json:"amount"`
	Cash     int64  `json:"cash"`
}

// RoomRetiredEvent is published when the last seat leaves and the room stops
// its timer.
type RoomRetiredEvent struct {
	header
}

func (SeatJoinedEvent) EventType() EventType       { return EventSeatJoined }
func (SeatLeftEvent) EventType() EventType         { return EventSeatLeft }
func (PhaseChangedEvent) EventType() EventType     { return EventPhaseChanged }
func (TickEvent) EventType() EventType             { return EventTick }
func (BetChangedEvent) EventType() EventType       { return EventBetChanged }
func (CardDealtEvent) EventType() EventType        { return EventCardDealt }
func (TurnStartedEvent) EventType() EventType      { return EventTurnStarted }
func (PlayerActedEvent) EventType() EventType      { return EventPlayerActed }
func (HoleCardRevealedEvent) EventType() EventType { return EventHoleCardRevealed }
func (DealerRevealedEvent) EventType() EventType   { return EventDealerRevealed }
func (PayoutEvent) EventType() EventType           { return EventPayout }
func (RoundAbortedEvent) EventType() EventType     { return EventRoundAborted }
func (ShoeShuffledEvent) EventType() EventType     { return EventShoeShuffled }
func (RefillEvent) EventType() EventType           { return EventRefill }
func (RoomRetiredEvent) EventType() EventType      { return EventRoomRetired }

func (e SeatConnectionEvent) EventType() EventType {
	if e.Connected {
		return EventSeatReconnected
	}
	return EventSeatDisconnected
}

// EventSubscriber receives room events. OnEvent is called without the room
// lock held, one event at a time per room, in emission order.
type EventSubscriber interface {
	OnEvent(event Event)
}

// SubscriberFunc adapts a function to EventSubscriber.
type SubscriberFunc func(Event)

// OnEvent calls f(event).
func (f SubscriberFunc) OnEvent(event Event) { f(event) }

// EventBus fans events out to subscribers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []EventSubscriber
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe adds a subscriber to receive events.
func (bus *EventBus) Subscribe(subscriber EventSubscriber) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subscribers = append(bus.subscribers, subscriber)
}

// Publish sends an event to all subscribers.
func (bus *EventBus) Publish(event Event) {
	bus.mu.RLock()
	subscribers := bus.subscribers
	bus.mu.RUnlock()
	for _, subscriber := range subscribers {
		subscriber.OnEvent(event)
	}
}
