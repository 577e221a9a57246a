package deck

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Suit represents a card suit
type Suit int

const (
	Spades Suit = iota
	Hearts
	Diamonds
	Clubs
)

// String returns the string representation of a suit
func (s Suit) String() string {
	switch s {
	case Spades:
		return "spades"
	case Hearts:
		return "hearts"
	case Diamonds:
		return "diamonds"
	case Clubs:
		return "clubs"
	default:
		return "?"
	}
}

// Symbol returns the single glyph used in compact card strings
func (s Suit) Symbol() string {
	switch s {
	case Spades:
		return "♠"
	case Hearts:
		return "♥"
	case Diamonds:
		return "♦"
	case Clubs:
		return "♣"
	default:
		return "?"
	}
}

// Rank represents a card rank. Aces are low; the evaluator decides whether
// an ace counts as 1 or 11.
type Rank int

const (
	Ace Rank = iota + 1
	Two
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
)

// String returns the string representation of a rank
func (r Rank) String() string {
	switch r {
	case Ace:
		return "A"
	case Ten:
		return "10"
	case Jack:
		return "J"
	case Queen:
		return "Q"
	case King:
		return "K"
	}
	if r >= Two && r <= Nine {
		return fmt.Sprintf("%d", int(r))
	}
	return "?"
}

// Card represents a playing card
type Card struct {
	Rank Rank
	Suit Suit
}

// NewCard creates a new card
func NewCard(rank Rank, suit Suit) Card {
	return Card{Rank: rank, Suit: suit}
}

// String returns the string representation of a card (e.g., "A♠")
func (c Card) String() string {
	return c.Rank.String() + c.Suit.Symbol()
}

// IsAce returns true if the card is an Ace
func (c Card) IsAce() bool {
	return c.Rank == Ace
}

// Values returns every point value the card can contribute to a hand.
func (c Card) Values() []int {
	switch {
	case c.Rank == Ace:
		return []int{1, 11}
	case c.Rank >= Ten:
		return []int{10}
	default:
		return []int{int(c.Rank)}
	}
}

// Points returns the hard (minimum) point value of the card.
func (c Card) Points() int {
	return c.Values()[0]
}

type cardJSON struct {
	Rank string `json:"rank"`
	Suit string `json:"suit"`
}

// MarshalJSON encodes the card as {"rank":"A","suit":"spades"}.
func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(cardJSON{Rank: c.Rank.String(), Suit: c.Suit.String()})
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (c *Card) UnmarshalJSON(data []byte) error {
	var raw cardJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rank, ok := parseRank(raw.Rank)
	if !ok {
		return fmt.Errorf("invalid rank %q", raw.Rank)
	}
	suit, ok := parseSuitName(raw.Suit)
	if !ok {
		return fmt.Errorf("invalid suit %q", raw.Suit)
	}
	*c = Card{Rank: rank, Suit: suit}
	return nil
}

// ParseCards parses a compact card string such as "AsKh10d" or "AsKhTd".
// Suits are s, h, d, c; ranks are A, 2-9, T or 10, J, Q, K (case-insensitive).
func ParseCards(s string) ([]Card, error) {
	s = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	var cards []Card
	for len(s) > 0 {
		rankLen := 1
		if strings.HasPrefix(s, "10") {
			rankLen = 2
		}
		if len(s) < rankLen+1 {
			return nil, fmt.Errorf("truncated card at %q", s)
		}
		rank, ok := parseRank(s[:rankLen])
		if !ok {
			return nil, fmt.Errorf("invalid rank %q", s[:rankLen])
		}
		suit, ok := parseSuitLetter(s[rankLen])
		if !ok {
			return nil, fmt.Errorf("invalid suit %q", s[rankLen])
		}
		cards = append(cards, Card{Rank: rank, Suit: suit})
		s = s[rankLen+1:]
	}
	return cards, nil
}

// MustParseCards is ParseCards for literals known to be valid.
func MustParseCards(s string) []Card {
	cards, err := ParseCards(s)
	if err != nil {
		panic(err)
	}
	return cards
}

func parseRank(s string) (Rank, bool) {
	switch strings.ToUpper(s) {
	case "A":
		return Ace, true
	case "T", "10":
		return Ten, true
	case "J":
		return Jack, true
	case "Q":
		return Queen, true
	case "K":
		return King, true
	}
	if len(s) == 1 && s[0] >= '2' && s[0] <= '9' {
		return Rank(s[0] - '0'), true
	}
	return 0, false
}

func parseSuitLetter(b byte) (Suit, bool) {
	switch b {
	case 'S', 's':
		return Spades, true
	case 'H', 'h':
		return Hearts, true
	case 'D', 'd':
		return Diamonds, true
	case 'C', 'c':
		return Clubs, true
	}
	return 0, false
}

func parseSuitName(s string) (Suit, bool) {
	for suit := Spades; suit <= Clubs; suit++ {
		if suit.String() == s {
			return suit, true
		}
	}
	return 0, false
}
