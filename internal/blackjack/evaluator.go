// Package blackjack implements the hand evaluation rules of the game.
//
// Every function here is pure: given the same cards it returns the same
// answer regardless of card order. The dealer rule is fixed (hit soft 17)
// because it decides outcomes deterministically for a given shoe order.
package blackjack

import (
	"fmt"

	"github.com/lox/blackjack/internal/deck"
)

// Target is the best possible hand total.
const Target = 21

// DealerStandsOn is the lowest hard total the dealer stands on.
const DealerStandsOn = 17

// Total is the value of a hand.
type Total struct {
	Value int
	// Soft is true when an ace is being counted as 11.
	Soft bool
}

// String renders totals as "soft 17" or "20".
func (t Total) String() string {
	if t.Soft {
		return fmt.Sprintf("soft %d", t.Value)
	}
	return fmt.Sprintf("%d", t.Value)
}

// BestTotal returns the highest total not above 21 across every choice of ace
// values. When every choice busts it returns the minimal total, which is then
// above 21. At most one ace can ever count as 11 without busting, so counting
// all aces as 1 and promoting one of them is equivalent to the full search.
func BestTotal(cards []deck.Card) Total {
	hard, aces := 0, 0
	for _, c := range cards {
		hard += c.Points()
		if c.IsAce() {
			aces++
		}
	}
	if aces > 0 && hard+10 <= Target {
		return Total{Value: hard + 10, Soft: true}
	}
	return Total{Value: hard}
}

// Kind classifies a hand.
type Kind int

const (
	Plain Kind = iota
	Blackjack
	Bust
)

// String returns the string representation of a kind
func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case Blackjack:
		return "blackjack"
	case Bust:
		return "bust"
	default:
		return "unknown"
	}
}

// Classification is the kind of a hand plus its best total.
type Classification struct {
	Kind  Kind
	Total Total
}

// Classify reports whether cards are a natural, a bust, or a plain total.
// Only the initial two cards can form a blackjack; 21 reached with three or
// more cards is a plain 21.
func Classify(cards []deck.Card) Classification {
	total := BestTotal(cards)
	switch {
	case total.Value > Target:
		return Classification{Kind: Bust, Total: total}
	case len(cards) == 2 && total.Value == Target:
		return Classification{Kind: Blackjack, Total: total}
	default:
		return Classification{Kind: Plain, Total: total}
	}
}

// IsBlackjack reports whether cards are a two-card 21.
func IsBlackjack(cards []deck.Card) bool {
	return Classify(cards).Kind == Blackjack
}

// IsBust reports whether cards total more than 21.
func IsBust(cards []deck.Card) bool {
	return BestTotal(cards).Value > Target
}

// DealerShouldHit applies the house rule: draw below 17 and on soft 17,
// stand on hard 17 or better.
func DealerShouldHit(cards []deck.Card) bool {
	total := BestTotal(cards)
	if total.Value < DealerStandsOn {
		return true
	}
	return total.Value == DealerStandsOn && total.Soft
}

// CanSplit reports whether a hand is a pair of equal rank.
func CanSplit(cards []deck.Card) bool {
	return len(cards) == 2 && cards[0].Rank == cards[1].Rank
}
