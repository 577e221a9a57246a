// Package payout settles finished hands against the dealer.
package payout

import (
	"github.com/lox/blackjack/internal/blackjack"
	"github.com/lox/blackjack/internal/deck"
)

// Hand is one player hand ready for settlement.
type Hand struct {
	Cards []deck.Card
	Bet   int64
	// Split marks a hand created by splitting; it cannot be a natural.
	Split bool
}

// HandSettlement is the outcome of a single hand.
type HandSettlement struct {
	Result blackjack.HandResult `json:"result"`
	Bet    int64                `json:"bet"`
	// Credit is returned to the seat's cash: stake plus winnings.
	Credit int64 `json:"credit"`
	// Delta is the net change relative to before the bet was placed.
	Delta int64 `json:"delta"`
}

// Settlement aggregates every hand of one seat.
type Settlement struct {
	Hands  []HandSettlement `json:"hands"`
	Credit int64            `json:"credit"`
	Delta  int64            `json:"delta"`
}

// BlackjackBonus returns the 3:2 winnings on bet, rounded half-to-even to
// the smallest currency unit.
func BlackjackBonus(bet int64) int64 {
	return divRoundHalfEven(bet*3, 2)
}

// SettleHand compares one hand with the dealer's final hand.
func SettleHand(hand Hand, dealer []deck.Card) HandSettlement {
	player := blackjack.Classify(hand.Cards)
	if hand.Split && player.Kind == blackjack.Blackjack {
		player.Kind = blackjack.Plain
	}
	house := blackjack.Classify(dealer)

	var result blackjack.HandResult
	switch {
	case player.Kind == blackjack.Bust:
		result = blackjack.BustLoss
	case player.Kind == blackjack.Blackjack && house.Kind == blackjack.Blackjack:
		result = blackjack.Push
	case player.Kind == blackjack.Blackjack:
		result = blackjack.BlackjackWin
	case house.Kind == blackjack.Blackjack:
		result = blackjack.Lose
	case house.Kind == blackjack.Bust:
		result = blackjack.Win
	case player.Total.Value > house.Total.Value:
		result = blackjack.Win
	case player.Total.Value < house.Total.Value:
		result = blackjack.Lose
	default:
		result = blackjack.Push
	}
	return withAmounts(result, hand.Bet)
}

// Settle settles every hand of a seat against the shared dealer hand.
func Settle(hands []Hand, dealer []deck.Card) Settlement {
	s := Settlement{Hands: make([]HandSettlement, 0, len(hands))}
	for _, h := range hands {
		hs := SettleHand(h, dealer)
		s.Hands = append(s.Hands, hs)
		s.Credit += hs.Credit
		s.Delta += hs.Delta
	}
	return s
}

func withAmounts(result blackjack.HandResult, bet int64) HandSettlement {
	hs := HandSettlement{Result: result, Bet: bet}
	switch result {
	case blackjack.BlackjackWin:
		hs.Delta = BlackjackBonus(bet)
	case blackjack.Win:
		hs.Delta = bet
	case blackjack.Push:
		hs.Delta = 0
	default:
		hs.Delta = -bet
	}
	hs.Credit = bet + hs.Delta
	return hs
}

func divRoundHalfEven(num, den int64) int64 {
	q, r := num/den, num%den
	if r < 0 {
		q, r = q-1, r+den
	}
	switch twice := 2 * r; {
	case twice > den:
		q++
	case twice == den && q%2 != 0:
		q++
	}
	return q
}
