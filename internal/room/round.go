package room

import (
	"time"

	"github.com/lox/blackjack/internal/blackjack"
	"github.com/lox/blackjack/internal/deck"
	"github.com/lox/blackjack/internal/payout"
)

// All methods in this file run with r.mu held.

// schedule starts a new timed window of length d. Bumping the generation
// invalidates callbacks of every earlier window.
func (r *Room) schedule(d time.Duration) {
	r.stopTimer()
	r.generation++
	r.total = d
	r.deadline = r.clock.Now().Add(d)
	r.emit(&TickEvent{Phase: r.phase, Generation: r.generation, TimeLeftMs: d.Milliseconds(), TotalMs: d.Milliseconds()})
	r.arm(r.generation, d)
}

// arm waits for the next tick, or the deadline if that comes first.
func (r *Room) arm(gen uint64, remaining time.Duration) {
	wait := min(remaining, r.cfg.TickInterval)
	r.timer = r.clock.AfterFunc(wait, func() { r.onTimer(gen) }, "room", r.name)
}

func (r *Room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.deadline = time.Time{}
}

func (r *Room) onTimer(gen uint64) {
	if r.onTick != nil {
		r.onTick()
	}
	_ = r.apply(func() error {
		if gen != r.generation || !r.running {
			return nil
		}
		r.timer = nil
		if len(r.seats) == 0 {
			r.retire()
			return nil
		}
		if remaining := r.deadline.Sub(r.clock.Now()); remaining > 0 {
			r.emit(&TickEvent{Phase: r.phase, Generation: gen, TimeLeftMs: remaining.Milliseconds(), TotalMs: r.total.Milliseconds()})
			r.arm(gen, remaining)
			return nil
		}
		r.expire()
		return nil
	})
}

// catchUp runs every transition whose deadline has already passed but whose
// timer callback has not yet taken the lock. Commands call it first so a
// closed window is never acted on.
func (r *Room) catchUp() {
	for r.running && !r.deadline.IsZero() && !r.clock.Now().Before(r.deadline) {
		r.expire()
	}
}

// expire handles the end of the current window.
func (r *Room) expire() {
	switch r.phase {
	case PhaseBet:
		r.enterDeal()
	case PhaseDealInitialCards:
		r.enterPlayersPlay()
	case PhasePlayersPlay:
		s := r.seats[r.turn]
		h := s.hands[s.current]
		h.stood = true
		r.emit(&PlayerActedEvent{Nickname: s.Nickname, Hand: s.current, Action: Stand, Timeout: true})
		r.logger.Debug("Turn timed out", "nickname", s.Nickname, "hand", s.current)
		r.startTurn(r.turn)
	case PhasePayout:
		r.enterBet()
	}
}

func (r *Room) setPhase(p Phase, d time.Duration) {
	r.phase = p
	r.emit(&PhaseChangedEvent{Phase: p, RoundID: r.roundID, DurationMs: d.Milliseconds()})
	r.logger.Debug("Phase changed", "phase", p, "round", r.roundID)
}

func (r *Room) enterBet() {
	if r.shoe.NeedsReshuffle() {
		r.shoe.Reshuffle()
		r.emit(&ShoeShuffledEvent{Cards: r.shoe.Len()})
		r.logger.Info("Shoe reshuffled", "cards", r.shoe.Len())
	}
	r.dealer = nil
	r.holeHidden = false
	r.turn = -1
	r.roundID = newRoundID()
	minChip := r.cfg.smallestChip()
	for _, s := range r.seats {
		s.resetRound()
		if r.cfg.RefillAmount > 0 && s.Cash < minChip {
			amount := r.cfg.RefillAmount - s.Cash
			s.Cash = r.cfg.RefillAmount
			r.emit(&RefillEvent{Nickname: s.Nickname, Identity: s.Identity, Amount: amount, Cash: s.Cash})
		}
	}
	r.setPhase(PhaseBet, r.cfg.BetDuration)
	r.schedule(r.cfg.BetDuration)
}

func (r *Room) enterDeal() {
	var bettors []*seat
	for _, s := range r.seats {
		if s.bet > 0 {
			bettors = append(bettors, s)
		}
	}
	if len(bettors) == 0 {
		r.logger.Debug("No bets placed, skipping round", "round", r.roundID)
		r.enterBet()
		return
	}

	for _, s := range bettors {
		s.hands = []*handSlot{{bet: s.bet}}
		s.current = 0
		s.bet = 0
		clear(s.chips)
	}
	r.setPhase(PhaseDealInitialCards, r.cfg.DealDuration)

	for pass := range 2 {
		for _, s := range bettors {
			if !r.dealTo(s, 0) {
				return
			}
		}
		card, err := r.shoe.Draw()
		if err != nil {
			r.abortRound(err)
			return
		}
		r.dealer = append(r.dealer, card)
		if pass == 1 {
			r.holeHidden = true
			r.emit(&CardDealtEvent{Hand: 0, FaceDown: true, Total: blackjack.BestTotal(r.dealer[:1]).Value})
		} else {
			r.emit(&CardDealtEvent{Hand: 0, Card: &card, Total: blackjack.BestTotal(r.dealer).Value})
		}
	}

	dealerNatural := blackjack.IsBlackjack(r.dealer)
	for _, s := range bettors {
		h := s.hands[0]
		if dealerNatural || blackjack.IsBlackjack(h.cards) {
			h.stood = true
		}
	}
	r.schedule(r.cfg.DealDuration)
}

// dealTo draws one card onto a seat's hand. On shoe exhaustion the round is
// aborted and false is returned.
func (r *Room) dealTo(s *seat, hand int) bool {
	card, err := r.shoe.Draw()
	if err != nil {
		r.abortRound(err)
		return false
	}
	h := s.hands[hand]
	h.cards = append(h.cards, card)
	r.emit(&CardDealtEvent{Nickname: s.Nickname, Hand: hand, Card: &card, Total: blackjack.BestTotal(h.cards).Value})
	return true
}

func (r *Room) enterPlayersPlay() {
	r.setPhase(PhasePlayersPlay, r.cfg.TurnDuration)
	r.startTurn(0)
}

// startTurn gives the turn to the first open hand at or after seat index
// from. With no open hands left the dealer plays.
func (r *Room) startTurn(from int) {
	for i := from; i < len(r.seats); i++ {
		s := r.seats[i]
		h := s.nextOpenHand()
		if h < 0 {
			continue
		}
		s.current = h
		r.turn = i
		r.schedule(r.cfg.TurnDuration)
		r.announceTurn(s, r.cfg.TurnDuration)
		return
	}
	r.turn = -1
	r.enterDealerPlay()
}

// announceTurn tells the table what the active hand may do and how long is
// left to do it.
func (r *Room) announceTurn(s *seat, left time.Duration) {
	r.emit(&TurnStartedEvent{
		Nickname:   s.Nickname,
		Hand:       s.current,
		Actions:    s.actions(),
		Generation: r.generation,
		DurationMs: left.Milliseconds(),
	})
}

func (r *Room) act(s *seat, action Action) error {
	h := s.hands[s.current]
	hand := s.current

	switch action {
	case Hit:
		h.acted = true
		r.emit(&PlayerActedEvent{Nickname: s.Nickname, Hand: hand, Action: action})
		if !r.dealTo(s, hand) {
			return deck.ErrShoeExhausted
		}
		if blackjack.BestTotal(h.cards).Value == blackjack.Target {
			h.stood = true
		}

	case Stand:
		h.acted = true
		h.stood = true
		r.emit(&PlayerActedEvent{Nickname: s.Nickname, Hand: hand, Action: action})

	case Double:
		if h.acted || len(h.cards) != 2 {
			return ErrIllegalAction
		}
		if s.Cash < h.bet {
			return ErrInsufficientBalance
		}
		s.Cash -= h.bet
		h.bet *= 2
		h.acted = true
		h.doubled = true
		h.stood = true
		r.emit(&PlayerActedEvent{Nickname: s.Nickname, Hand: hand, Action: action})
		if !r.dealTo(s, hand) {
			return deck.ErrShoeExhausted
		}

	case Split:
		if h.acted || len(s.hands) >= maxHands || !blackjack.CanSplit(h.cards) {
			return ErrIllegalAction
		}
		if s.Cash < h.bet {
			return ErrInsufficientBalance
		}
		s.Cash -= h.bet
		second := &handSlot{cards: []deck.Card{h.cards[1]}, bet: h.bet, split: true}
		h.cards = h.cards[:1:1]
		h.split = true
		s.hands = append(s.hands, second)
		r.emit(&PlayerActedEvent{Nickname: s.Nickname, Hand: hand, Action: action})
		for i := range s.hands {
			if !r.dealTo(s, i) {
				return deck.ErrShoeExhausted
			}
			if blackjack.BestTotal(s.hands[i].cards).Value == blackjack.Target {
				s.hands[i].stood = true
			}
		}

	default:
		return ErrIllegalAction
	}

	if h.done() {
		r.startTurn(r.turn)
		return nil
	}
	// Same turn and clock, fewer options.
	r.announceTurn(s, r.deadline.Sub(r.clock.Now()))
	return nil
}

func (r *Room) enterDealerPlay() {
	r.stopTimer()
	r.generation++
	r.total = 0
	r.setPhase(PhaseDealerPlay, 0)

	r.holeHidden = false
	if len(r.dealer) > 1 {
		r.emit(&HoleCardRevealedEvent{
			Card:  r.dealer[1],
			Cards: append([]deck.Card(nil), r.dealer...),
			Total: blackjack.BestTotal(r.dealer).Value,
		})
	}

	if r.dealerMustPlay() {
		for blackjack.DealerShouldHit(r.dealer) {
			card, err := r.shoe.Draw()
			if err != nil {
				r.abortRound(err)
				return
			}
			r.dealer = append(r.dealer, card)
			r.emit(&CardDealtEvent{Hand: 0, Card: &card, Total: blackjack.BestTotal(r.dealer).Value})
		}
	}

	r.emit(&DealerRevealedEvent{
		Cards:     append([]deck.Card(nil), r.dealer...),
		Total:     blackjack.BestTotal(r.dealer).Value,
		Bust:      blackjack.IsBust(r.dealer),
		Blackjack: blackjack.IsBlackjack(r.dealer),
	})
	r.enterPayout()
}

// dealerMustPlay reports whether any hand could still be beaten by the
// dealer drawing. Busted hands and unsplit naturals are already decided.
func (r *Room) dealerMustPlay() bool {
	if blackjack.IsBlackjack(r.dealer) {
		return false
	}
	for _, s := range r.seats {
		for _, h := range s.hands {
			if blackjack.IsBust(h.cards) {
				continue
			}
			if !h.split && blackjack.IsBlackjack(h.cards) {
				continue
			}
			return true
		}
	}
	return false
}

func (r *Room) enterPayout() {
	r.setPhase(PhasePayout, r.cfg.PayoutDuration)
	for _, s := range r.seats {
		if len(s.hands) == 0 {
			continue
		}
		st := payout.Settle(s.payoutHands(), r.dealer)
		for i, hs := range st.Hands {
			s.hands[i].result = hs.Result
		}
		s.Cash += st.Credit
		s.winnings = st.Delta
		r.emit(&PayoutEvent{
			RoundID:  r.roundID,
			Nickname: s.Nickname,
			Identity: s.Identity,
			Hands:    st.Hands,
			Credit:   st.Credit,
			Delta:    st.Delta,
			Cash:     s.Cash,
		})
		r.logger.Debug("Seat settled", "nickname", s.Nickname, "delta", st.Delta, "cash", s.Cash)
	}
	r.schedule(r.cfg.PayoutDuration)
}

// abortRound refunds every unsettled stake, rebuilds the shoe and returns
// the room to Bet.
func (r *Room) abortRound(cause error) {
	refunds := make(map[string]int64)
	for _, s := range r.seats {
		if stake := s.stake(); stake > 0 {
			s.Cash += stake
			refunds[s.Nickname] = stake
		}
		s.hands = nil
	}
	r.logger.Error("Round aborted", "round", r.roundID, "error", cause, "refunded_seats", len(refunds))
	r.emit(&RoundAbortedEvent{RoundID: r.roundID, Reason: cause.Error(), Refunds: refunds})

	r.shoe.Reshuffle()
	r.emit(&ShoeShuffledEvent{Cards: r.shoe.Len()})
	r.enterBet()
}

// retire parks an empty room. The shoe keeps its position for the next
// occupant.
func (r *Room) retire() {
	r.stopTimer()
	r.generation++
	r.running = false
	r.phase = PhaseBet
	r.turn = -1
	r.dealer = nil
	r.holeHidden = false
	r.total = 0
	r.emit(&RoomRetiredEvent{})
	r.logger.Info("Room retired")
}
