// Package telemetry records round outcomes, refills and errors. Emitting is
// fire-and-forget: a slow or failing sink never holds up a room.
package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

// Kind classifies a record
type Kind string

const (
	KindRound   Kind = "round"
	KindRefill  Kind = "refill"
	KindForfeit Kind = "forfeit"
	KindAbort   Kind = "abort"
	KindError   Kind = "error"
)

// Record is one telemetry entry.
type Record struct {
	Kind     Kind
	At       time.Time
	Room     string
	RoundID  string
	Nickname string
	Identity string
	Amount   int64
	Message  string
}

// Sink receives records. Emit must not block.
type Sink interface {
	Emit(Record)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Record) {}

// MultiSink fans records out to several sinks.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a composite sink, pruning nil entries and returning a
// NopSink when none are left.
func NewMultiSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}

	switch len(filtered) {
	case 0:
		return NopSink{}
	case 1:
		return filtered[0]
	default:
		return MultiSink{sinks: filtered}
	}
}

func (m MultiSink) Emit(r Record) {
	for _, sink := range m.sinks {
		sink.Emit(r)
	}
}

// LogSink writes records to a logger from its own goroutine. When its buffer
// is full new records are dropped and counted.
type LogSink struct {
	logger  *log.Logger
	records chan Record
	dropped atomic.Int64
	written atomic.Int64
}

// NewLogSink creates a sink buffering up to size records. Call Run to start
// writing.
func NewLogSink(logger *log.Logger, size int) *LogSink {
	if size <= 0 {
		size = 1024
	}
	return &LogSink{
		logger:  logger.WithPrefix("telemetry"),
		records: make(chan Record, size),
	}
}

func (s *LogSink) Emit(r Record) {
	select {
	case s.records <- r:
	default:
		s.dropped.Add(1)
	}
}

// Run writes records until ctx is cancelled, then flushes what is buffered.
func (s *LogSink) Run(ctx context.Context) error {
	for {
		select {
		case r := <-s.records:
			s.write(r)
		case <-ctx.Done():
			for {
				select {
				case r := <-s.records:
					s.write(r)
				default:
					return nil
				}
			}
		}
	}
}

// Dropped returns how many records were discarded.
func (s *LogSink) Dropped() int64 {
	return s.dropped.Load()
}

// Written returns how many records were logged.
func (s *LogSink) Written() int64 {
	return s.written.Load()
}

func (s *LogSink) write(r Record) {
	kv := []any{"room", r.Room}
	if r.RoundID != "" {
		kv = append(kv, "round", r.RoundID)
	}
	if r.Nickname != "" {
		kv = append(kv, "nickname", r.Nickname)
	}
	if r.Amount != 0 {
		kv = append(kv, "amount", r.Amount)
	}
	if r.Message != "" {
		kv = append(kv, "message", r.Message)
	}

	switch r.Kind {
	case KindError, KindAbort:
		s.logger.Error(string(r.Kind), kv...)
	default:
		s.logger.Info(string(r.Kind), kv...)
	}
	s.written.Add(1)
}
