package balance

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/lox/blackjack/internal/telemetry"
)

// Reason says why a balance changed.
type Reason string

const (
	ReasonPayout  Reason = "payout"
	ReasonForfeit Reason = "forfeit"
	ReasonRefill  Reason = "refill"
)

// Entry is one balance change waiting to be written.
type Entry struct {
	Identity string
	Delta    int64
	Reason   Reason
	RoundID  string
	Room     string
}

// LedgerStats counts what the ledger has done so far.
type LedgerStats struct {
	Applied int64
	Failed  int64
	Dropped int64
}

const (
	defaultQueueSize   = 4096
	defaultRetryDelay  = 250 * time.Millisecond
	defaultMaxAttempts = 5
	drainTimeout       = 5 * time.Second
)

// Ledger writes balance changes to a Store on its own goroutine so storage
// latency never reaches a room.
type Ledger struct {
	store       Store
	logger      *log.Logger
	clock       quartz.Clock
	sink        telemetry.Sink
	entries     chan Entry
	retryDelay  time.Duration
	maxAttempts int

	applied atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithLedgerClock sets the clock used between retries.
func WithLedgerClock(clock quartz.Clock) LedgerOption {
	return func(l *Ledger) { l.clock = clock }
}

// WithLedgerSink reports entries that were dropped or never written.
func WithLedgerSink(sink telemetry.Sink) LedgerOption {
	return func(l *Ledger) { l.sink = sink }
}

// WithRetry sets the delay between attempts and the attempt limit.
func WithRetry(delay time.Duration, attempts int) LedgerOption {
	return func(l *Ledger) {
		if delay > 0 {
			l.retryDelay = delay
		}
		if attempts > 0 {
			l.maxAttempts = attempts
		}
	}
}

// WithQueueSize sets how many entries may wait before Record starts dropping.
func WithQueueSize(n int) LedgerOption {
	return func(l *Ledger) {
		if n > 0 {
			l.entries = make(chan Entry, n)
		}
	}
}

// NewLedger creates a ledger writing to store. Call Run to start it.
func NewLedger(store Store, logger *log.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:       store,
		logger:      logger.WithPrefix("ledger"),
		clock:       quartz.NewReal(),
		sink:        telemetry.NopSink{},
		entries:     make(chan Entry, defaultQueueSize),
		retryDelay:  defaultRetryDelay,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record queues e without blocking. It returns false when the queue is full.
func (l *Ledger) Record(e Entry) bool {
	if e.Delta == 0 {
		return true
	}
	select {
	case l.entries <- e:
		return true
	default:
		l.dropped.Add(1)
		l.logger.Error("Ledger queue full, dropping entry", "identity", e.Identity, "delta", e.Delta, "reason", e.Reason)
		l.report(e, "ledger queue full")
		return false
	}
}

// Run applies queued entries until ctx is cancelled, then drains what is
// left with a bounded deadline.
func (l *Ledger) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.drain(context.WithoutCancel(ctx))
			return nil
		case e := <-l.entries:
			l.apply(ctx, e)
		}
	}
}

// Stats returns counters for observability and tests.
func (l *Ledger) Stats() LedgerStats {
	return LedgerStats{
		Applied: l.applied.Load(),
		Failed:  l.failed.Load(),
		Dropped: l.dropped.Load(),
	}
}

func (l *Ledger) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	for {
		select {
		case e := <-l.entries:
			l.apply(ctx, e)
		default:
			return
		}
	}
}

// apply writes e with up to maxAttempts tries. Cancelling ctx stops the
// retries but never a write in flight.
func (l *Ledger) apply(ctx context.Context, e Entry) {
	for attempt := 1; ; attempt++ {
		bal, err := l.store.ApplyDelta(context.WithoutCancel(ctx), e.Identity, e.Delta)
		if err == nil {
			l.applied.Add(1)
			l.logger.Debug("Balance updated", "identity", e.Identity, "delta", e.Delta, "reason", e.Reason, "balance", bal)
			return
		}
		if attempt >= l.maxAttempts || ctx.Err() != nil {
			l.failed.Add(1)
			l.logger.Error("Balance update failed", "identity", e.Identity, "delta", e.Delta, "reason", e.Reason, "round", e.RoundID, "attempts", attempt, "error", err)
			l.report(e, fmt.Sprintf("%s update failed after %d attempts: %v", e.Reason, attempt, err))
			return
		}
		l.logger.Warn("Balance update failed, retrying", "identity", e.Identity, "attempt", attempt, "error", err)

		timer := l.clock.NewTimer(l.retryDelay, "ledger", "retry")
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// report emits an error record for an entry the store never received.
func (l *Ledger) report(e Entry, msg string) {
	l.sink.Emit(telemetry.Record{
		Kind:     telemetry.KindError,
		At:       l.clock.Now(),
		Room:     e.Room,
		RoundID:  e.RoundID,
		Identity: e.Identity,
		Amount:   e.Delta,
		Message:  msg,
	})
}
