package room

import (
	"time"

	"github.com/lox/blackjack/internal/deck"
)

// Config holds the table rules and phase timings of a room.
type Config struct {
	MaxSeats       int
	Decks          int
	Penetration    float64
	BetDuration    time.Duration
	DealDuration   time.Duration
	TurnDuration   time.Duration
	PayoutDuration time.Duration
	// TickInterval is how often time-left updates are broadcast.
	TickInterval time.Duration
	// Chips are the bettable denominations in the smallest currency unit.
	Chips []int64
	// RefillAmount tops up broke seats at the start of a round; 0 disables.
	RefillAmount int64
}

// DefaultConfig returns the house defaults.
func DefaultConfig() Config {
	return Config{
		MaxSeats:       3,
		Decks:          deck.DecksPerShoe,
		Penetration:    deck.Penetration,
		BetDuration:    20 * time.Second,
		DealDuration:   1500 * time.Millisecond,
		TurnDuration:   20 * time.Second,
		PayoutDuration: 2 * time.Second,
		TickInterval:   time.Second,
		Chips:          []int64{1, 5, 25, 100, 500},
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSeats <= 0 {
		c.MaxSeats = d.MaxSeats
	}
	if c.Decks <= 0 {
		c.Decks = d.Decks
	}
	if c.Penetration <= 0 || c.Penetration > 1 {
		c.Penetration = d.Penetration
	}
	if c.BetDuration <= 0 {
		c.BetDuration = d.BetDuration
	}
	if c.DealDuration <= 0 {
		c.DealDuration = d.DealDuration
	}
	if c.TurnDuration <= 0 {
		c.TurnDuration = d.TurnDuration
	}
	if c.PayoutDuration <= 0 {
		c.PayoutDuration = d.PayoutDuration
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if len(c.Chips) == 0 {
		c.Chips = d.Chips
	}
	return c
}

func (c Config) smallestChip() int64 {
	smallest := c.Chips[0]
	for _, chip := range c.Chips[1:] {
		smallest = min(smallest, chip)
	}
	return smallest
}
