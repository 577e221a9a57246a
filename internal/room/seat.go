package room

import (
	"time"

	"github.com/lox/blackjack/internal/blackjack"
	"github.com/lox/blackjack/internal/deck"
	"github.com/lox/blackjack/internal/payout"
)

// maxHands is the number of hands a seat can hold after splitting once.
const maxHands = 2

// Player is what a room needs to seat someone.
type Player struct {
	Identity string
	Nickname string
	Country  string
	Cash     int64
}

// handSlot is one hand of a seat in the current round.
type handSlot struct {
	cards   []deck.Card
	bet     int64
	stood   bool
	doubled bool
	acted   bool
	split   bool
	result  blackjack.HandResult
}

// done reports whether the hand takes no further decisions.
func (h *handSlot) done() bool {
	return h.stood || blackjack.IsBust(h.cards)
}

func (h *handSlot) settled() bool {
	return h.result != blackjack.Pending
}

// seat is a player's place at the table. Only the owning room touches it.
type seat struct {
	Player

	bet       int64
	chips     []int
	hands     []*handSlot
	current   int
	winnings  int64
	connected bool
	deadline  time.Time
}

func newSeat(p Player, chips int) *seat {
	return &seat{Player: p, chips: make([]int, chips), connected: true}
}

// stake returns the amount riding on unsettled hands.
func (s *seat) stake() int64 {
	var total int64
	for _, h := range s.hands {
		if !h.settled() {
			total += h.bet
		}
	}
	return total
}

// wagered is the total bet shown for the seat in the current round.
func (s *seat) wagered() int64 {
	if len(s.hands) == 0 {
		return s.bet
	}
	var total int64
	for _, h := range s.hands {
		total += h.bet
	}
	return total
}

func (s *seat) resetRound() {
	s.bet = 0
	clear(s.chips)
	s.hands = nil
	s.current = 0
	s.winnings = 0
}

// nextOpenHand returns the first hand at or after current still awaiting a
// decision, or -1.
func (s *seat) nextOpenHand() int {
	for i := s.current; i < len(s.hands); i++ {
		if !s.hands[i].done() {
			return i
		}
	}
	return -1
}

// actions lists the legal actions for the current hand.
func (s *seat) actions() []Action {
	h := s.hands[s.current]
	actions := []Action{Hit, Stand}
	if h.acted || len(h.cards) != 2 || s.Cash < h.bet {
		return actions
	}
	actions = append(actions, Double)
	if len(s.hands) < maxHands && blackjack.CanSplit(h.cards) {
		actions = append(actions, Split)
	}
	return actions
}

func (s *seat) payoutHands() []payout.Hand {
	hands := make([]payout.Hand, len(s.hands))
	for i, h := range s.hands {
		hands[i] = payout.Hand{Cards: h.cards, Bet: h.bet, Split: h.split}
	}
	return hands
}

// HandView is the public state of one hand.
type HandView struct {
	Cards   []deck.Card          `json:"cards"`
	Total   int                  `json:"total"`
	Soft    bool                 `json:"soft,omitempty"`
	Bet     int64                `json:"bet"`
	Stood   bool                 `json:"stood,omitempty"`
	Doubled bool                 `json:"doubled,omitempty"`
	Result  blackjack.HandResult `json:"result"`
}

// SeatView is the public state of one seat.
type SeatView struct {
	Nickname  string     `json:"nickname"`
	Country   string     `json:"country,omitempty"`
	Cash      int64      `json:"cash"`
	Bet       int64      `json:"bet"`
	Hands     []HandView `json:"hands"`
	Current   int        `json:"current"`
	Winnings  int64      `json:"winnings"`
	Connected bool       `json:"connected"`
	Deadline  time.Time  `json:"deadline,omitzero"`
}

func (s *seat) view() SeatView {
	v := SeatView{
		Nickname:  s.Nickname,
		Country:   s.Country,
		Cash:      s.Cash,
		Bet:       s.wagered(),
		Hands:     make([]HandView, len(s.hands)),
		Current:   s.current,
		Winnings:  s.winnings,
		Connected: s.connected,
		Deadline:  s.deadline,
	}
	for i, h := range s.hands {
		total := blackjack.BestTotal(h.cards)
		v.Hands[i] = HandView{
			Cards:   append([]deck.Card(nil), h.cards...),
			Total:   total.Value,
			Soft:    total.Soft,
			Bet:     h.bet,
			Stood:   h.stood,
			Doubled: h.doubled,
			Result:  h.result,
		}
	}
	return v
}

// DealerView is the dealer's hand as players may see it.
type DealerView struct {
	Cards      []deck.Card `json:"cards"`
	HoleHidden bool        `json:"hole_hidden,omitempty"`
	Total      int         `json:"total"`
}

// Snapshot is a consistent copy of a room's public state.
type Snapshot struct {
	Room          string     `json:"room"`
	Phase         Phase      `json:"phase"`
	Generation    uint64     `json:"generation"`
	RoundID       string     `json:"round_id"`
	TimeLeftMs    int64      `json:"time_left_ms"`
	TotalMs       int64      `json:"total_ms"`
	Seats         []SeatView `json:"seats"`
	Dealer        DealerView `json:"dealer"`
	Turn          string     `json:"turn,omitempty"`
	Chips         []int64    `json:"chips"`
	MaxSeats      int        `json:"max_seats"`
	ShoeRemaining int        `json:"shoe_remaining"`
	Running       bool       `json:"running"`
}

// Seat returns the view of nickname's seat.
func (s Snapshot) Seat(nickname string) (SeatView, bool) {
	for _, v := range s.Seats {
		if v.Nickname == nickname {
			return v, true
		}
	}
	return SeatView{}, false
}

// Info is the lobby listing entry for a room.
type Info struct {
	Name     string `json:"name"`
	Seats    int    `json:"seats"`
	MaxSeats int    `json:"max_seats"`
	Phase    Phase  `json:"phase"`
	Running  bool   `json:"running"`
}
