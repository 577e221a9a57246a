package room

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/blackjack/internal/blackjack"
	"github.com/lox/blackjack/internal/deck"
	"github.com/lox/blackjack/internal/randutil"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(et EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.EventType() == et {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// parkedTick holds one timer callback inside the tick hook, before it has
// taken the room lock, until released.
type parkedTick struct {
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newParkedTick() *parkedTick {
	return &parkedTick{entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *parkedTick) hook() {
	if p.armed.CompareAndSwap(true, false) {
		close(p.entered)
		<-p.release
	}
}

func (p *parkedTick) wait(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-p.entered:
	case <-ctx.Done():
		t.Fatal("timer never fired")
	}
}

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *quartz.Mock
	room  *Room
	rec   *recorder
}

func newHarness(t *testing.T, cards string, cfg Config, opts ...Option) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	mClock := quartz.NewMock(t)
	rec := &recorder{}
	if cards != "" {
		shoe := deck.NewShoeWithCards(deck.MustParseCards(cards), 1, randutil.New(1))
		opts = append(opts, WithShoe(shoe))
	}
	opts = append([]Option{WithClock(mClock), WithSubscriber(rec)}, opts...)
	r := New("room-1", cfg, testLogger(), opts...)
	t.Cleanup(r.Close)
	return &harness{t: t, ctx: ctx, clock: mClock, room: r, rec: rec}
}

func (h *harness) join(nickname string, cash int64) {
	h.t.Helper()
	_, err := h.room.Join(Player{Identity: "id-" + nickname, Nickname: nickname, Cash: cash})
	require.NoError(h.t, err)
}

// bet places n five-unit chips.
func (h *harness) bet(nickname string, n int) {
	h.t.Helper()
	for range n {
		require.NoError(h.t, h.room.ChangeBet(nickname, 1, AddChip))
	}
}

func (h *harness) until(cond func() bool) {
	h.t.Helper()
	for range 1000 {
		if cond() {
			return
		}
		_, w := h.clock.AdvanceNext()
		w.MustWait(h.ctx)
	}
	h.t.Fatal("condition never reached")
}

func (h *harness) untilPhase(p Phase) {
	h.t.Helper()
	h.until(func() bool { return h.room.Phase() == p })
}

func (h *harness) seat(nickname string) SeatView {
	h.t.Helper()
	v, ok := h.room.Snapshot().Seat(nickname)
	require.True(h.t, ok, "seat %s", nickname)
	return v
}

func (h *harness) payout(nickname string) *PayoutEvent {
	h.t.Helper()
	for _, e := range h.rec.ofType(EventPayout) {
		if p := e.(*PayoutEvent); p.Nickname == nickname {
			return p
		}
	}
	h.t.Fatalf("no payout for %s", nickname)
	return nil
}

func TestJoinStartsBetPhase(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", DefaultConfig())

	h.join("alice", 100)
	snap := h.room.Snapshot()
	assert.Equal(t, PhaseBet, snap.Phase)
	assert.True(t, snap.Running)
	assert.Equal(t, int64(20000), snap.TimeLeftMs)
	assert.Len(t, h.rec.ofType(EventSeatJoined), 1)
	assert.Len(t, h.rec.ofType(EventPhaseChanged), 1)
}

func TestJoinLimits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", DefaultConfig())

	h.join("alice", 100)
	_, err := h.room.Join(Player{Nickname: "alice"})
	assert.True(t, errors.Is(err, ErrSeatTaken))

	h.join("bob", 100)
	h.join("carol", 100)
	_, err = h.room.Join(Player{Nickname: "dave"})
	assert.True(t, errors.Is(err, ErrRoomFull))
	assert.Len(t, h.room.Snapshot().Seats, 3)
}

func TestTicksCountDown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", DefaultConfig())
	h.join("alice", 100)

	for range 3 {
		_, w := h.clock.AdvanceNext()
		w.MustWait(h.ctx)
	}

	ticks := h.rec.ofType(EventTick)
	require.Len(t, ticks, 4)
	for i, want := range []int64{20000, 19000, 18000, 17000} {
		tick := ticks[i].(*TickEvent)
		assert.Equal(t, want, tick.TimeLeftMs)
		assert.Equal(t, int64(20000), tick.TotalMs)
		assert.Equal(t, PhaseBet, tick.Phase)
	}
}

func TestNoBetsSkipsStraightBackToBet(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "AsKh", DefaultConfig())
	h.join("alice", 100)

	h.until(func() bool { return len(h.rec.ofType(EventPhaseChanged)) == 2 })

	assert.Equal(t, PhaseBet, h.room.Phase())
	assert.Empty(t, h.rec.ofType(EventCardDealt), "no empty deal")
	for _, e := range h.rec.ofType(EventPhaseChanged) {
		assert.Equal(t, PhaseBet, e.(*PhaseChangedEvent).Phase)
	}
	assert.Equal(t, int64(20000), h.room.Snapshot().TimeLeftMs)
}

func TestChangeBet(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", DefaultConfig())
	h.join("alice", 100)

	require.NoError(t, h.room.ChangeBet("alice", 1, AddChip))
	v := h.seat("alice")
	assert.Equal(t, int64(95), v.Cash)
	assert.Equal(t, int64(5), v.Bet)

	require.NoError(t, h.room.ChangeBet("alice", 1, RemoveChip))
	v = h.seat("alice")
	assert.Equal(t, int64(100), v.Cash)
	assert.Equal(t, int64(0), v.Bet)

	err := h.room.ChangeBet("alice", 1, RemoveChip)
	assert.True(t, errors.Is(err, ErrIllegalAction), "empty chip stack")

	err = h.room.ChangeBet("alice", 4, AddChip)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))

	err = h.room.ChangeBet("alice", 9, AddChip)
	assert.True(t, errors.Is(err, ErrIllegalAction))

	err = h.room.ChangeBet("nobody", 0, AddChip)
	assert.True(t, errors.Is(err, ErrUnknownSeat))

	assert.Len(t, h.rec.ofType(EventBetChanged), 2)
}

func TestConcurrentBetsApplyExactlyOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", DefaultConfig())
	h.join("alice", 1000)
	h.join("bob", 1000)

	var wg sync.WaitGroup
	for _, nick := range []string{"alice", "bob"} {
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, h.room.ChangeBet(nick, 0, AddChip))
			}()
		}
	}
	wg.Wait()

	for _, nick := range []string{"alice", "bob"} {
		v := h.seat(nick)
		assert.Equal(t, int64(50), v.Bet)
		assert.Equal(t, int64(950), v.Cash)
	}
	assert.Len(t, h.rec.ofType(EventBetChanged), 100)
}

func TestBetsClosedOutsideBetPhase(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Ts9h7d8c", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)

	h.untilPhase(PhasePlayersPlay)
	err := h.room.ChangeBet("alice", 1, AddChip)
	assert.True(t, errors.Is(err, ErrIllegalAction))
}

func TestNaturalPaysThreeToTwo(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "As9hKd7c2c", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)

	h.untilPhase(PhasePayout)

	assert.Empty(t, h.rec.ofType(EventTurnStarted), "a natural takes no decisions")
	p := h.payout("alice")
	assert.Equal(t, int64(15), p.Delta)
	assert.Equal(t, int64(115), p.Cash)
	require.Len(t, p.Hands, 1)
	assert.Equal(t, blackjack.BlackjackWin, p.Hands[0].Result)

	finished := h.rec.ofType(EventDealerRevealed)
	require.Len(t, finished, 1)
	assert.Len(t, finished[0].(*DealerRevealedEvent).Cards, 2, "dealer does not draw against a decided table")
	assert.Equal(t, int64(115), h.seat("alice").Cash)
}

func TestDealerNaturalEndsAllTurns(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "TsAs9hKc", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)

	h.untilPhase(PhasePayout)

	assert.Empty(t, h.rec.ofType(EventTurnStarted))
	p := h.payout("alice")
	assert.Equal(t, int64(-10), p.Delta)
	assert.Equal(t, int64(90), p.Cash)
}

func TestHoleCardHiddenUntilDealerPlay(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Ts9h7d8c", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)

	h.untilPhase(PhasePlayersPlay)
	snap := h.room.Snapshot()
	assert.True(t, snap.Dealer.HoleHidden)
	assert.Len(t, snap.Dealer.Cards, 1)
	assert.Equal(t, 9, snap.Dealer.Total)
	assert.Equal(t, "alice", snap.Turn)

	var faceDown int
	for _, e := range h.rec.ofType(EventCardDealt) {
		if c := e.(*CardDealtEvent); c.FaceDown {
			faceDown++
			assert.Nil(t, c.Card)
		}
	}
	assert.Equal(t, 1, faceDown)

	require.NoError(t, h.room.Act("alice", Stand))
	snap = h.room.Snapshot()
	assert.False(t, snap.Dealer.HoleHidden)
	assert.Len(t, snap.Dealer.Cards, 2)
	assert.Len(t, h.rec.ofType(EventHoleCardRevealed), 1)
}

func TestHitToBust(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Ts9h6d8cKc", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)
	h.untilPhase(PhasePlayersPlay)

	require.NoError(t, h.room.Act("alice", Hit))

	assert.Equal(t, PhasePayout, h.room.Phase(), "a bust ends the only turn")
	p := h.payout("alice")
	assert.Equal(t, blackjack.BustLoss, p.Hands[0].Result)
	assert.Equal(t, int64(-10), p.Delta)
	assert.Equal(t, int64(90), p.Cash)
}

func TestTurnTimeoutStands(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Ts9h7d8c", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)
	h.untilPhase(PhasePlayersPlay)

	turns := h.rec.ofType(EventTurnStarted)
	require.Len(t, turns, 1)
	gen := turns[0].(*TurnStartedEvent).Generation
	err := h.room.ActInGeneration(gen+1, "alice", Hit)
	assert.True(t, errors.Is(err, ErrIllegalAction), "stale or future generation")

	h.untilPhase(PhasePayout)

	var timedOut bool
	for _, e := range h.rec.ofType(EventPlayerActed) {
		a := e.(*PlayerActedEvent)
		timedOut = timedOut || (a.Timeout && a.Action == Stand)
	}
	assert.True(t, timedOut)
	p := h.payout("alice")
	assert.Equal(t, blackjack.Push, p.Hands[0].Result)
	assert.Equal(t, int64(100), p.Cash)

	err = h.room.ActInGeneration(gen, "alice", Stand)
	assert.True(t, errors.Is(err, ErrIllegalAction))
}

func TestActOutOfTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Ts9s9h7d8d8c", DefaultConfig())
	h.join("alice", 100)
	h.join("bob", 100)
	h.bet("alice", 2)
	h.bet("bob", 2)
	h.untilPhase(PhasePlayersPlay)

	err := h.room.Act("bob", Stand)
	assert.True(t, errors.Is(err, ErrIllegalAction))
	err = h.room.Act("nobody", Stand)
	assert.True(t, errors.Is(err, ErrUnknownSeat))
	err = h.room.Act("alice", Split)
	assert.True(t, errors.Is(err, ErrIllegalAction), "T7 cannot split")

	require.NoError(t, h.room.Act("alice", Stand))
	assert.Equal(t, "bob", h.room.Snapshot().Turn)
	require.NoError(t, h.room.Act("bob", Stand))
	assert.Equal(t, PhasePayout, h.room.Phase())
}

func TestSplitPlaysEachHand(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "8sTh8d7c3hKcTc", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)
	h.untilPhase(PhasePlayersPlay)

	turn := h.rec.ofType(EventTurnStarted)[0].(*TurnStartedEvent)
	assert.ElementsMatch(t, []Action{Hit, Stand, Double, Split}, turn.Actions)

	require.NoError(t, h.room.Act("alice", Split))
	v := h.seat("alice")
	require.Len(t, v.Hands, 2)
	assert.Equal(t, int64(80), v.Cash)
	assert.Equal(t, 11, v.Hands[0].Total)
	assert.Equal(t, 18, v.Hands[1].Total)

	turns := h.rec.ofType(EventTurnStarted)
	require.Len(t, turns, 2)
	assert.Equal(t, []Action{Hit, Stand, Double}, turns[1].(*TurnStartedEvent).Actions, "the first split hand may double")

	err := h.room.Act("alice", Split)
	assert.True(t, errors.Is(err, ErrIllegalAction), "one split per round")

	require.NoError(t, h.room.Act("alice", Hit))
	v = h.seat("alice")
	assert.Equal(t, 21, v.Hands[0].Total)
	assert.Equal(t, 1, v.Current, "21 stands automatically")

	require.NoError(t, h.room.Act("alice", Stand))
	require.Equal(t, PhasePayout, h.room.Phase())

	p := h.payout("alice")
	require.Len(t, p.Hands, 2)
	assert.Equal(t, blackjack.Win, p.Hands[0].Result)
	assert.Equal(t, blackjack.Win, p.Hands[1].Result)
	assert.Equal(t, int64(20), p.Delta)
	assert.Equal(t, int64(120), p.Cash)
}

func TestDoubleDrawsOneCard(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "5sTh6h7cKd", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)
	h.untilPhase(PhasePlayersPlay)

	require.NoError(t, h.room.Act("alice", Double))
	require.Equal(t, PhasePayout, h.room.Phase())

	p := h.payout("alice")
	assert.Equal(t, int64(20), p.Hands[0].Bet)
	assert.Equal(t, int64(20), p.Delta)
	assert.Equal(t, int64(120), p.Cash)
	v := h.seat("alice")
	assert.True(t, v.Hands[0].Doubled)
	assert.Len(t, v.Hands[0].Cards, 3)
}

func TestDoubleNeedsCash(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "5sTh6h7cKd", DefaultConfig())
	h.join("alice", 10)
	h.bet("alice", 2)
	h.untilPhase(PhasePlayersPlay)

	turn := h.rec.ofType(EventTurnStarted)[0].(*TurnStartedEvent)
	assert.Equal(t, []Action{Hit, Stand}, turn.Actions)

	err := h.room.Act("alice", Double)
	assert.True(t, errors.Is(err, ErrInsufficientBalance))
	assert.Equal(t, PhasePlayersPlay, h.room.Phase())
}

func TestDealerHitsSoftSeventeen(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "TsAs8d6c3h", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)
	h.untilPhase(PhasePlayersPlay)

	require.NoError(t, h.room.Act("alice", Stand))

	finished := h.rec.ofType(EventDealerRevealed)
	require.Len(t, finished, 1)
	dealer := finished[0].(*DealerRevealedEvent)
	assert.Len(t, dealer.Cards, 3)
	assert.Equal(t, 20, dealer.Total)
	assert.Equal(t, int64(-10), h.payout("alice").Delta)
}

func TestShoeExhaustionAbortsAndRefunds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "TsTh9d", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)

	h.until(func() bool { return len(h.rec.ofType(EventRoundAborted)) == 1 })

	aborted := h.rec.ofType(EventRoundAborted)[0].(*RoundAbortedEvent)
	assert.Equal(t, map[string]int64{"alice": 10}, aborted.Refunds)
	assert.Equal(t, PhaseBet, h.room.Phase())
	v := h.seat("alice")
	assert.Equal(t, int64(100), v.Cash)
	assert.Equal(t, int64(0), v.Bet)
	assert.Empty(t, v.Hands)
	assert.NotEmpty(t, h.rec.ofType(EventShoeShuffled))
	assert.Equal(t, 3, h.room.Snapshot().ShoeRemaining)
}

func TestLeaveMidRoundForfeitsAndPassesTurn(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Ts9s9h7d8d8c", DefaultConfig())
	h.join("alice", 100)
	h.join("bob", 100)
	h.bet("alice", 2)
	h.bet("bob", 2)
	h.untilPhase(PhasePlayersPlay)
	require.Equal(t, "alice", h.room.Snapshot().Turn)

	forfeit, err := h.room.Leave("alice", "grace expired")
	require.NoError(t, err)
	assert.Equal(t, int64(10), forfeit)

	left := h.rec.ofType(EventSeatLeft)
	require.Len(t, left, 1)
	assert.Equal(t, int64(10), left[0].(*SeatLeftEvent).Forfeit)
	assert.Equal(t, "bob", h.room.Snapshot().Turn)

	require.NoError(t, h.room.Act("bob", Stand))
	payouts := h.rec.ofType(EventPayout)
	require.Len(t, payouts, 1)
	assert.Equal(t, "bob", payouts[0].(*PayoutEvent).Nickname)
}

func TestLeaveDuringBetForfeitsNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", DefaultConfig())
	h.join("alice", 100)
	h.join("bob", 100)
	h.bet("alice", 2)

	forfeit, err := h.room.Leave("alice", "left")
	require.NoError(t, err)
	assert.Zero(t, forfeit)

	_, err = h.room.Leave("alice", "left")
	assert.True(t, errors.Is(err, ErrUnknownSeat))
}

func TestLastSeatLeavingRetiresRoom(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", DefaultConfig())
	h.join("alice", 100)

	_, err := h.room.Leave("alice", "left")
	require.NoError(t, err)

	info := h.room.Info()
	assert.False(t, info.Running)
	assert.Zero(t, info.Seats)
	assert.Len(t, h.rec.ofType(EventRoomRetired), 1)
	_, ok := h.clock.Peek()
	assert.False(t, ok, "a retired room holds no timer")

	h.join("bob", 100)
	assert.True(t, h.room.Info().Running)
	assert.Equal(t, PhaseBet, h.room.Phase())
}

func TestRetiredRoomKeepsItsShoe(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Ts9h7d8c2c3c", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)
	h.untilPhase(PhasePlayersPlay)
	require.NoError(t, h.room.Act("alice", Stand))
	require.Equal(t, PhasePayout, h.room.Phase())

	before := h.room.Snapshot().ShoeRemaining
	require.Equal(t, 2, before)

	_, err := h.room.Leave("alice", "left")
	require.NoError(t, err)
	require.False(t, h.room.Info().Running)

	h.join("bob", 100)
	assert.Equal(t, before, h.room.Snapshot().ShoeRemaining, "rejoining continues the same shoe")
	assert.Empty(t, h.rec.ofType(EventShoeShuffled))
}

func TestReshuffleWaitsForNextBetPhase(t *testing.T) {
	t.Parallel()
	shoe := deck.NewShoeWithCards(deck.MustParseCards("As9hKd7c2c3c4c5c"), 0.5, randutil.New(1))
	h := newHarness(t, "", DefaultConfig(), WithShoe(shoe))
	h.join("alice", 100)
	h.bet("alice", 2)

	h.untilPhase(PhasePayout)
	assert.Empty(t, h.rec.ofType(EventShoeShuffled), "penetration reached mid-round")
	assert.Equal(t, 4, h.room.Snapshot().ShoeRemaining)

	h.untilPhase(PhaseBet)
	shuffles := h.rec.ofType(EventShoeShuffled)
	require.Len(t, shuffles, 1)
	assert.Equal(t, 8, shuffles[0].(*ShoeShuffledEvent).Cards)
	assert.Equal(t, 8, h.room.Snapshot().ShoeRemaining)

	events := h.rec.all()
	i := slices.IndexFunc(events, func(e Event) bool { return e.EventType() == EventShoeShuffled })
	require.Less(t, i+1, len(events))
	next, ok := events[i+1].(*PhaseChangedEvent)
	require.True(t, ok, "the shuffle opens the next bet phase, got %s", events[i+1].EventType())
	assert.Equal(t, PhaseBet, next.Phase)
	payout := slices.IndexFunc(events, func(e Event) bool { return e.EventType() == EventPayout })
	assert.Less(t, payout, i, "the round settled before the shuffle")
}

func TestBetAfterDeadlineIsRejected(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.TickInterval = cfg.BetDuration
	park := newParkedTick()
	h := newHarness(t, "Ts9h7d8c", cfg, WithTickHook(park.hook))
	h.join("alice", 100)
	h.bet("alice", 2)

	park.armed.Store(true)
	w := h.clock.Advance(cfg.BetDuration)
	park.wait(t, h.ctx)

	err := h.room.ChangeBet("alice", 1, AddChip)
	assert.True(t, errors.Is(err, ErrIllegalAction), "bets close at the deadline, got %v", err)
	assert.Equal(t, PhaseDealInitialCards, h.room.Phase())

	close(park.release)
	w.MustWait(h.ctx)

	v := h.seat("alice")
	assert.Equal(t, int64(10), v.Bet)
	assert.Equal(t, int64(90), v.Cash)
	assert.Equal(t, PhaseDealInitialCards, h.room.Phase(), "the late callback is stale")
}

func TestActAfterTurnDeadlineIsRejected(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.TickInterval = time.Minute
	park := newParkedTick()
	h := newHarness(t, "Ts9h7d8cKc", cfg, WithTickHook(park.hook))
	h.join("alice", 100)
	h.bet("alice", 2)
	h.untilPhase(PhasePlayersPlay)

	park.armed.Store(true)
	w := h.clock.Advance(cfg.TurnDuration)
	park.wait(t, h.ctx)

	err := h.room.Act("alice", Hit)
	assert.True(t, errors.Is(err, ErrIllegalAction), "the turn timed out, got %v", err)
	assert.Equal(t, PhasePayout, h.room.Phase())
	assert.Len(t, h.seat("alice").Hands[0].Cards, 2)

	close(park.release)
	w.MustWait(h.ctx)

	p := h.payout("alice")
	assert.Equal(t, blackjack.Push, p.Hands[0].Result)
	assert.Len(t, h.rec.ofType(EventPayout), 1)
}

func TestHitAnnouncesRemainingActions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "5sTh6h7c2d", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)
	h.untilPhase(PhasePlayersPlay)

	turns := h.rec.ofType(EventTurnStarted)
	require.Len(t, turns, 1)
	first := turns[0].(*TurnStartedEvent)
	assert.ElementsMatch(t, []Action{Hit, Stand, Double}, first.Actions)

	_, w := h.clock.AdvanceNext()
	w.MustWait(h.ctx)
	require.NoError(t, h.room.Act("alice", Hit))

	turns = h.rec.ofType(EventTurnStarted)
	require.Len(t, turns, 2)
	again := turns[1].(*TurnStartedEvent)
	assert.Equal(t, "alice", again.Nickname)
	assert.Equal(t, []Action{Hit, Stand}, again.Actions, "no double after a hit")
	assert.Equal(t, first.Generation, again.Generation, "the turn clock keeps running")
	assert.Equal(t, (DefaultConfig().TurnDuration - time.Second).Milliseconds(), again.DurationMs)
}

func TestDisconnectedSeatIsStillDealt(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "Ts9h7d8c", DefaultConfig())
	h.join("alice", 100)
	h.bet("alice", 2)
	require.NoError(t, h.room.SetConnected("alice", false, h.clock.Now().Add(30*time.Second)))
	assert.False(t, h.seat("alice").Connected)

	h.untilPhase(PhasePlayersPlay)
	assert.Len(t, h.seat("alice").Hands[0].Cards, 2)

	require.NoError(t, h.room.SetConnected("alice", true, time.Time{}))
	assert.True(t, h.seat("alice").Connected)
	assert.Len(t, h.rec.ofType(EventSeatDisconnected), 1)
	assert.Len(t, h.rec.ofType(EventSeatReconnected), 1)
}

func TestRefillTopsUpBrokeSeat(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.RefillAmount = 100
	h := newHarness(t, "", cfg)
	h.join("alice", 0)

	refills := h.rec.ofType(EventRefill)
	require.Len(t, refills, 1)
	assert.Equal(t, int64(100), refills[0].(*RefillEvent).Amount)
	assert.Equal(t, int64(100), h.seat("alice").Cash)
}

func TestTickHookRunsOnEveryFiring(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	h := newHarness(t, "", DefaultConfig(), WithTickHook(func() { calls.Add(1) }))
	h.join("alice", 100)

	for range 5 {
		_, w := h.clock.AdvanceNext()
		w.MustWait(h.ctx)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("double")
	require.NoError(t, err)
	assert.Equal(t, Double, a)

	_, err = ParseAction("surrender")
	assert.True(t, errors.Is(err, ErrIllegalAction))

	_, err = ParseDirection("sideways")
	assert.True(t, errors.Is(err, ErrIllegalAction))
}
