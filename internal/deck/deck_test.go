package deck

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/blackjack/internal/randutil"
)

func TestShoeIsPermutationOfDecks(t *testing.T) {
	for _, decks := range []int{1, 2, 6, 8} {
		shoe := NewShoe(decks, Penetration, randutil.New(int64(decks)))
		require.Equal(t, decks*52, shoe.Len())

		counts := make(map[Card]int)
		for range shoe.Len() {
			card, err := shoe.Draw()
			require.NoError(t, err)
			counts[card]++
		}
		require.Len(t, counts, 52)
		for card, n := range counts {
			assert.Equal(t, decks, n, "card %s", card)
		}
	}
}

func TestShoeReshuffleKeepsMultiset(t *testing.T) {
	shoe := NewShoe(2, Penetration, randutil.New(7))
	for range 40 {
		_, err := shoe.Draw()
		require.NoError(t, err)
	}
	shoe.Reshuffle()
	assert.Equal(t, 0, shoe.Dealt())
	assert.Equal(t, 104, shoe.Remaining())

	counts := make(map[Card]int)
	for range shoe.Len() {
		card, err := shoe.Draw()
		require.NoError(t, err)
		counts[card]++
	}
	for _, n := range counts {
		assert.Equal(t, 2, n)
	}
}

func TestShoeShuffleDependsOnSeed(t *testing.T) {
	a := NewShoe(1, Penetration, randutil.New(1))
	b := NewShoe(1, Penetration, randutil.New(1))
	c := NewShoe(1, Penetration, randutil.New(2))

	var sameAB, sameAC = true, true
	for range 52 {
		ca, _ := a.Draw()
		cb, _ := b.Draw()
		cc, _ := c.Draw()
		sameAB = sameAB && ca == cb
		sameAC = sameAC && ca == cc
	}
	assert.True(t, sameAB, "same seed must give the same order")
	assert.False(t, sameAC, "different seeds should give different orders")
}

func TestShoeExhausted(t *testing.T) {
	shoe := NewShoeWithCards(MustParseCards("AsKs"), 1, randutil.New(1))

	first, err := shoe.Draw()
	require.NoError(t, err)
	assert.Equal(t, NewCard(Ace, Spades), first)
	_, err = shoe.Draw()
	require.NoError(t, err)

	_, err = shoe.Draw()
	assert.True(t, errors.Is(err, ErrShoeExhausted))
}

func TestShoeNeedsReshuffle(t *testing.T) {
	shoe := NewShoe(1, 0.5, randutil.New(3))
	for range 25 {
		_, _ = shoe.Draw()
	}
	assert.False(t, shoe.NeedsReshuffle())
	_, _ = shoe.Draw()
	assert.True(t, shoe.NeedsReshuffle(), "26/52 dealt reaches 0.5 penetration")

	shoe.Reshuffle()
	assert.False(t, shoe.NeedsReshuffle())
}

func TestShoeDefaults(t *testing.T) {
	shoe := NewShoe(0, 0, nil)
	assert.Equal(t, DecksPerShoe*52, shoe.Len())
	assert.InDelta(t, Penetration, shoe.penetration, 1e-9)
}
