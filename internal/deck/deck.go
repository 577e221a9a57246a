package deck

import (
	"errors"
	rand "math/rand/v2"
)

// DecksPerShoe and Penetration are the house defaults for a new shoe.
const (
	DecksPerShoe = 6
	Penetration  = 0.75
)

// ErrShoeExhausted is returned by Draw once every card has been dealt. A room
// reshuffles before penetration is exceeded, so reaching it is a fatal
// invariant violation for the current round.
var ErrShoeExhausted = errors.New("shoe exhausted")

// NewDeck returns one ordered 52-card deck.
func NewDeck() []Card {
	cards := make([]Card, 0, 52)
	for suit := Spades; suit <= Clubs; suit++ {
		for rank := Ace; rank <= King; rank++ {
			cards = append(cards, NewCard(rank, suit))
		}
	}
	return cards
}

// Shoe is a multi-deck card pool dealt from across rounds. It is not safe for
// concurrent use; its owning room serializes access.
type Shoe struct {
	base        []Card
	cards       []Card
	cursor      int
	penetration float64
	rng         *rand.Rand
}

// NewShoe builds a shoe of n decks and shuffles it.
func NewShoe(decks int, penetration float64, rng *rand.Rand) *Shoe {
	if decks <= 0 {
		decks = DecksPerShoe
	}
	base := make([]Card, 0, decks*52)
	for range decks {
		base = append(base, NewDeck()...)
	}
	s := newShoe(base, penetration, rng)
	s.Build()
	return s
}

// NewShoeWithCards creates a shoe that deals the given cards in order. A
// later Reshuffle shuffles the same multiset of cards.
func NewShoeWithCards(cards []Card, penetration float64, rng *rand.Rand) *Shoe {
	s := newShoe(cards, penetration, rng)
	s.cards = append(s.cards[:0], cards...)
	return s
}

func newShoe(base []Card, penetration float64, rng *rand.Rand) *Shoe {
	if penetration <= 0 || penetration > 1 {
		penetration = Penetration
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Shoe{
		base:        append([]Card(nil), base...),
		cards:       make([]Card, 0, len(base)),
		penetration: penetration,
		rng:         rng,
	}
}

// Build restores every card to the shoe and shuffles with a Fisher-Yates pass.
func (s *Shoe) Build() {
	s.cards = append(s.cards[:0], s.base...)
	for i := len(s.cards) - 1; i > 0; i-- {
		j := s.rng.IntN(i + 1)
		s.cards[i], s.cards[j] = s.cards[j], s.cards[i]
	}
	s.cursor = 0
}

// Reshuffle rebuilds and reshuffles the shoe, resetting the cursor.
func (s *Shoe) Reshuffle() {
	s.Build()
}

// Draw deals the next card and advances the cursor.
func (s *Shoe) Draw() (Card, error) {
	if s.cursor >= len(s.cards) {
		return Card{}, ErrShoeExhausted
	}
	card := s.cards[s.cursor]
	s.cursor++
	return card, nil
}

// NeedsReshuffle reports whether the dealt fraction reached the penetration.
func (s *Shoe) NeedsReshuffle() bool {
	if len(s.cards) == 0 {
		return true
	}
	return float64(s.cursor)/float64(len(s.cards)) >= s.penetration
}

// Len returns the total number of cards in the shoe.
func (s *Shoe) Len() int {
	return len(s.cards)
}

// Dealt returns the number of cards dealt since the last shuffle.
func (s *Shoe) Dealt() int {
	return s.cursor
}

// Remaining returns the number of undealt cards.
func (s *Shoe) Remaining() int {
	return len(s.cards) - s.cursor
}
