package balance

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/blackjack/internal/telemetry"
)

func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
}

// flakyStore fails the first n writes.
type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) ApplyDelta(ctx context.Context, identity string, delta int64) (int64, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return 0, errors.New("database is locked")
	}
	f.mu.Unlock()
	return f.MemoryStore.ApplyDelta(ctx, identity, delta)
}

type errorSink struct {
	mu      sync.Mutex
	records []telemetry.Record
}

func (s *errorSink) Emit(r telemetry.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *errorSink) all() []telemetry.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Record(nil), s.records...)
}

func runLedger(t *testing.T, l *Ledger) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	bal, err := store.GetBalance(ctx, "alice", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal)

	bal, err = store.ApplyDelta(ctx, "alice", 15)
	require.NoError(t, err)
	assert.Equal(t, int64(1015), bal)

	bal, err = store.GetBalance(ctx, "alice", 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1015), bal, "initial only applies to new accounts")

	_, err = store.ApplyDelta(ctx, "bob", 10)
	assert.True(t, errors.Is(err, ErrUnknownAccount))
}

func TestLedgerAppliesEntriesInOrder(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetBalance(context.Background(), "alice", 100)
	require.NoError(t, err)

	l := NewLedger(store, testLogger())
	runLedger(t, l)

	for _, d := range []int64{15, -10, 0, 20} {
		assert.True(t, l.Record(Entry{Identity: "alice", Delta: d, Reason: ReasonPayout}))
	}

	assert.Eventually(t, func() bool { return l.Stats().Applied == 3 }, time.Second, 5*time.Millisecond)
	bal, err := store.GetBalance(context.Background(), "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(125), bal)
}

func TestLedgerRetriesFailedWrites(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	_, err := store.GetBalance(context.Background(), "alice", 100)
	require.NoError(t, err)

	l := NewLedger(store, testLogger(), WithRetry(time.Millisecond, 3))
	runLedger(t, l)

	l.Record(Entry{Identity: "alice", Delta: -10, Reason: ReasonForfeit})

	assert.Eventually(t, func() bool { return l.Stats().Applied == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, l.Stats().Failed)
	bal, _ := store.GetBalance(context.Background(), "alice", 0)
	assert.Equal(t, int64(90), bal)
}

func TestLedgerGivesUpAfterMaxAttempts(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10}
	l := NewLedger(store, testLogger(), WithRetry(time.Millisecond, 2))
	runLedger(t, l)

	l.Record(Entry{Identity: "alice", Delta: 5, Reason: ReasonRefill})

	assert.Eventually(t, func() bool { return l.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, l.Stats().Applied)
}

func TestLedgerReportsLostEntries(t *testing.T) {
	t.Run("write failed", func(t *testing.T) {
		sink := &errorSink{}
		store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 10}
		l := NewLedger(store, testLogger(), WithRetry(time.Millisecond, 2), WithLedgerSink(sink))
		runLedger(t, l)

		l.Record(Entry{Identity: "alice", Delta: -20, Reason: ReasonPayout, RoundID: "r-1", Room: "room-1"})

		require.Eventually(t, func() bool { return len(sink.all()) == 1 }, time.Second, 5*time.Millisecond)
		rec := sink.all()[0]
		assert.Equal(t, telemetry.KindError, rec.Kind)
		assert.Equal(t, "room-1", rec.Room)
		assert.Equal(t, "r-1", rec.RoundID)
		assert.Equal(t, "alice", rec.Identity)
		assert.Equal(t, int64(-20), rec.Amount)
		assert.Contains(t, rec.Message, "database is locked")
	})

	t.Run("queue full", func(t *testing.T) {
		sink := &errorSink{}
		l := NewLedger(NewMemoryStore(), testLogger(), WithQueueSize(1), WithLedgerSink(sink))

		l.Record(Entry{Identity: "alice", Delta: 1})
		l.Record(Entry{Identity: "bob", Delta: 2})

		recs := sink.all()
		require.Len(t, recs, 1)
		assert.Equal(t, telemetry.KindError, recs[0].Kind)
		assert.Equal(t, "bob", recs[0].Identity)
		assert.Equal(t, "ledger queue full", recs[0].Message)
	})

	t.Run("applied entries are quiet", func(t *testing.T) {
		sink := &errorSink{}
		store := NewMemoryStore()
		_, err := store.GetBalance(context.Background(), "alice", 0)
		require.NoError(t, err)
		l := NewLedger(store, testLogger(), WithLedgerSink(sink))
		runLedger(t, l)

		l.Record(Entry{Identity: "alice", Delta: 5})
		require.Eventually(t, func() bool { return l.Stats().Applied == 1 }, time.Second, 5*time.Millisecond)
		assert.Empty(t, sink.all())
	})
}

func TestLedgerDropsWhenQueueFull(t *testing.T) {
	l := NewLedger(NewMemoryStore(), testLogger(), WithQueueSize(1))

	assert.True(t, l.Record(Entry{Identity: "alice", Delta: 1}))
	assert.False(t, l.Record(Entry{Identity: "alice", Delta: 1}))
	assert.Equal(t, int64(1), l.Stats().Dropped)
}

func TestLedgerDrainsOnShutdown(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetBalance(context.Background(), "alice", 0)
	require.NoError(t, err)

	l := NewLedger(store, testLogger())
	for range 10 {
		l.Record(Entry{Identity: "alice", Delta: 1})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, l.Run(ctx))

	assert.Equal(t, int64(10), l.Stats().Applied)
	bal, _ := store.GetBalance(context.Background(), "alice", 0)
	assert.Equal(t, int64(10), bal)
}
