package statistics

import (
	"math"
	"testing"

	"github.com/lox/blackjack/internal/blackjack"
	"github.com/lox/blackjack/internal/payout"
	"github.com/lox/blackjack/internal/room"
	"github.com/lox/blackjack/internal/telemetry"
)

func hand(result blackjack.HandResult, bet, delta int64) payout.HandSettlement {
	return payout.HandSettlement{Result: result, Bet: bet, Credit: bet + delta, Delta: delta}
}

func TestStatistics_Empty(t *testing.T) {
	stats := New(0)

	if stats.Mean() != 0 {
		t.Errorf("Expected mean of 0 for empty stats, got %f", stats.Mean())
	}
	if stats.Variance() != 0 {
		t.Errorf("Expected variance of 0 for empty stats, got %f", stats.Variance())
	}
	if stats.StdError() != 0 {
		t.Errorf("Expected stderr of 0 for empty stats, got %f", stats.StdError())
	}
	if stats.Median() != 0 {
		t.Errorf("Expected median of 0 for empty stats, got %f", stats.Median())
	}
	if stats.HouseEdge() != 0 {
		t.Errorf("Expected house edge of 0 for empty stats, got %f", stats.HouseEdge())
	}
	if err := stats.Validate(); err != nil {
		t.Errorf("Empty stats should validate: %v", err)
	}
}

func TestStatistics_SingleRound(t *testing.T) {
	stats := New(0)
	stats.Add([]payout.HandSettlement{hand(blackjack.BlackjackWin, 10, 15)}, 15)

	if stats.Rounds != 1 || stats.Hands != 1 {
		t.Errorf("Expected 1 round and 1 hand, got %d and %d", stats.Rounds, stats.Hands)
	}
	if stats.Mean() != 15 {
		t.Errorf("Expected mean of 15, got %f", stats.Mean())
	}
	if stats.Variance() != 0 {
		t.Errorf("Expected variance of 0 for single value, got %f", stats.Variance())
	}
	if stats.Outcomes[blackjack.BlackjackWin] != 1 {
		t.Errorf("Expected 1 blackjack, got %d", stats.Outcomes[blackjack.BlackjackWin])
	}
	if stats.MaxWin != 15 || stats.MaxLoss != 0 {
		t.Errorf("Expected max win 15 and max loss 0, got %d and %d", stats.MaxWin, stats.MaxLoss)
	}
}

func TestStatistics_MultipleRounds(t *testing.T) {
	stats := New(0)
	stats.Add([]payout.HandSettlement{hand(blackjack.Win, 10, 10)}, 10)
	stats.Add([]payout.HandSettlement{hand(blackjack.Lose, 10, -10)}, -10)
	stats.Add([]payout.HandSettlement{hand(blackjack.BlackjackWin, 10, 15)}, 15)
	stats.Add([]payout.HandSettlement{hand(blackjack.Push, 10, 0)}, 0)
	stats.Add([]payout.HandSettlement{
		hand(blackjack.BustLoss, 10, -10),
		hand(blackjack.Lose, 10, -10),
	}, -20)

	if stats.Rounds != 5 || stats.Hands != 6 {
		t.Errorf("Expected 5 rounds and 6 hands, got %d and %d", stats.Rounds, stats.Hands)
	}
	if stats.Split != 1 {
		t.Errorf("Expected 1 split round, got %d", stats.Split)
	}
	if stats.Mean() != -1 {
		t.Errorf("Expected mean of -1, got %f", stats.Mean())
	}
	if math.Abs(stats.Variance()-205) > 1e-9 {
		t.Errorf("Expected variance of 205, got %f", stats.Variance())
	}
	if stats.Median() != 0 {
		t.Errorf("Expected median of 0, got %f", stats.Median())
	}
	if stats.Percentile(1) != 15 {
		t.Errorf("Expected top percentile of 15, got %f", stats.Percentile(1))
	}
	if math.Abs(stats.HouseEdge()-5.0/60.0) > 1e-9 {
		t.Errorf("Expected house edge of %f, got %f", 5.0/60.0, stats.HouseEdge())
	}
	if stats.MaxLoss != -20 {
		t.Errorf("Expected max loss of -20, got %d", stats.MaxLoss)
	}

	lo, hi := stats.ConfidenceInterval95()
	if lo >= stats.Mean() || hi <= stats.Mean() {
		t.Errorf("Expected CI around mean, got [%f, %f]", lo, hi)
	}
	if err := stats.Validate(); err != nil {
		t.Errorf("Validation failed: %v", err)
	}
}

func TestStatistics_Window(t *testing.T) {
	stats := New(2)
	for _, delta := range []int64{-10, 10, 20} {
		stats.Add([]payout.HandSettlement{hand(blackjack.Win, 10, delta)}, delta)
	}

	if len(stats.Values) != 2 {
		t.Fatalf("Expected 2 recent values, got %d", len(stats.Values))
	}
	if stats.Median() != 15 {
		t.Errorf("Expected median of the last two values to be 15, got %f", stats.Median())
	}
	if stats.Rounds != 3 {
		t.Errorf("Window should not limit round count, got %d", stats.Rounds)
	}
}

func TestStatistics_ValidateMismatch(t *testing.T) {
	stats := New(0)
	stats.Add([]payout.HandSettlement{hand(blackjack.Win, 10, 10)}, 10)
	stats.Hands++

	if err := stats.Validate(); err == nil {
		t.Error("Expected validation error for outcome mismatch")
	}
}

func TestCollector(t *testing.T) {
	c := NewCollector(0)
	c.OnEvent(&room.PayoutEvent{
		Hands: []payout.HandSettlement{hand(blackjack.Win, 20, 20)},
		Delta: 20,
	})
	c.OnEvent(&room.SeatLeftEvent{Forfeit: 10})
	c.OnEvent(&room.RefillEvent{Amount: 1000})
	c.OnEvent(&room.RoundAbortedEvent{})
	c.OnEvent(&room.ShoeShuffledEvent{Cards: 312})

	s := c.Summary()
	if s.Rounds != 1 || s.Net != 20 || s.Wagered != 20 {
		t.Errorf("Unexpected round totals: %+v", s)
	}
	if s.Outcomes["win"] != 1 {
		t.Errorf("Expected 1 win, got %v", s.Outcomes)
	}
	if s.Forfeits != 10 || s.Refills != 1000 || s.Aborted != 1 {
		t.Errorf("Unexpected side counters: %+v", s)
	}
	if s.HouseEdge != -1 {
		t.Errorf("Expected house edge of -1, got %f", s.HouseEdge)
	}
}

func TestCollectorCountsErrorRecords(t *testing.T) {
	c := NewCollector(0)
	c.Emit(telemetry.Record{Kind: telemetry.KindError, Message: "disk full"})
	c.Emit(telemetry.Record{Kind: telemetry.KindRefill, Amount: 100})
	c.Emit(telemetry.Record{Kind: telemetry.KindError, Message: "ledger queue full"})

	s := c.Summary()
	if s.Errors != 2 {
		t.Errorf("Expected 2 errors, got %d", s.Errors)
	}
	if s.Refills != 0 {
		t.Errorf("Refills are counted from room events, got %d", s.Refills)
	}
}
