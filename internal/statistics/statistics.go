// Package statistics accumulates house-wide round results: how seats fared
// against the dealer, per hand outcome counts and the running house edge.
package statistics

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/lox/blackjack/internal/blackjack"
	"github.com/lox/blackjack/internal/payout"
	"github.com/lox/blackjack/internal/room"
	"github.com/lox/blackjack/internal/telemetry"
)

// DefaultWindow is how many recent seat results are kept for the median and
// percentiles.
const DefaultWindow = 10000

// Statistics summarises settled seat-rounds. Deltas are from the player's
// side: positive means the player won.
type Statistics struct {
	Rounds    int     // settled seat-rounds
	SumDelta  int64   // net result across all seat-rounds
	SumDelta2 float64 // sum of squares for variance calculation
	Wagered   int64   // total stake across all hands

	Hands    int
	Outcomes map[blackjack.HandResult]int
	Split    int // seat-rounds played as more than one hand

	MaxWin  int64
	MaxLoss int64

	Aborted  int
	Forfeits int64
	Refills  int64
	Errors   int // lost balance writes and failed unseats

	// Values holds the most recent deltas, at most window of them.
	Values []int64
	window int
	next   int
}

// New returns empty statistics keeping window recent values; a window of 0
// uses DefaultWindow.
func New(window int) *Statistics {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Statistics{Outcomes: make(map[blackjack.HandResult]int), window: window}
}

// Add incorporates one seat's settlement.
func (s *Statistics) Add(hands []payout.HandSettlement, delta int64) {
	s.Rounds++
	s.SumDelta += delta
	s.SumDelta2 += float64(delta) * float64(delta)
	s.MaxWin = max(s.MaxWin, delta)
	s.MaxLoss = min(s.MaxLoss, delta)

	for _, h := range hands {
		s.Hands++
		s.Wagered += h.Bet
		s.Outcomes[h.Result]++
	}
	if len(hands) > 1 {
		s.Split++
	}

	if len(s.Values) < s.window {
		s.Values = append(s.Values, delta)
		return
	}
	s.Values[s.next] = delta
	s.next = (s.next + 1) % s.window
}

// Mean returns the mean net result per seat-round
func (s *Statistics) Mean() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return float64(s.SumDelta) / float64(s.Rounds)
}

// Variance returns the sample variance of seat-round results
func (s *Statistics) Variance() float64 {
	if s.Rounds < 2 {
		return 0
	}
	mean := s.Mean()
	return (s.SumDelta2 - float64(s.Rounds)*mean*mean) / float64(s.Rounds-1)
}

// StdDev returns the sample standard deviation
func (s *Statistics) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// StdError returns the standard error of the mean
func (s *Statistics) StdError() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return s.StdDev() / math.Sqrt(float64(s.Rounds))
}

// ConfidenceInterval95 returns the 95% confidence interval for the mean
func (s *Statistics) ConfidenceInterval95() (float64, float64) {
	mean := s.Mean()
	margin := 1.96 * s.StdError()
	return mean - margin, mean + margin
}

// HouseEdge is the house's net win as a fraction of the total stake.
func (s *Statistics) HouseEdge() float64 {
	if s.Wagered == 0 {
		return 0
	}
	return -float64(s.SumDelta) / float64(s.Wagered)
}

// Median returns the median of the recent values
func (s *Statistics) Median() float64 {
	return s.Percentile(0.5)
}

// Percentile returns the value at percentile p (0.0 to 1.0) of the recent
// values, interpolating between neighbours.
func (s *Statistics) Percentile(p float64) float64 {
	if len(s.Values) == 0 {
		return 0
	}
	sorted := append([]int64(nil), s.Values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	index := p * float64(len(sorted)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sorted) {
		return float64(sorted[len(sorted)-1])
	}
	weight := index - float64(lower)
	return float64(sorted[lower])*(1-weight) + float64(sorted[upper])*weight
}

// Validate checks the counters agree with each other.
func (s *Statistics) Validate() error {
	total := 0
	for _, n := range s.Outcomes {
		total += n
	}
	if total != s.Hands {
		return fmt.Errorf("outcome total (%d) does not match hands (%d)", total, s.Hands)
	}
	if s.Hands < s.Rounds {
		return fmt.Errorf("hands (%d) fewer than seat-rounds (%d)", s.Hands, s.Rounds)
	}
	if len(s.Values) > s.Rounds {
		return fmt.Errorf("values (%d) exceed seat-rounds (%d)", len(s.Values), s.Rounds)
	}
	if s.Outcomes[blackjack.Pending] != 0 {
		return fmt.Errorf("%d hands settled as pending", s.Outcomes[blackjack.Pending])
	}
	return nil
}

// Summary is the JSON form served at /stats.
type Summary struct {
	Rounds    int            `json:"rounds"`
	Hands     int            `json:"hands"`
	Wagered   int64          `json:"wagered"`
	Net       int64          `json:"player_net"`
	Mean      float64        `json:"mean"`
	StdDev    float64        `json:"std_dev"`
	CI95      [2]float64     `json:"ci95"`
	Median    float64        `json:"median"`
	HouseEdge float64        `json:"house_edge"`
	Outcomes  map[string]int `json:"outcomes"`
	Split     int            `json:"split"`
	MaxWin    int64          `json:"max_win"`
	MaxLoss   int64          `json:"max_loss"`
	Aborted   int            `json:"aborted_rounds"`
	Forfeits  int64          `json:"forfeits"`
	Refills   int64          `json:"refills"`
	Errors    int            `json:"errors"`
}

// Summary computes the derived figures.
func (s *Statistics) Summary() Summary {
	lo, hi := s.ConfidenceInterval95()
	outcomes := make(map[string]int, len(s.Outcomes))
	for r, n := range s.Outcomes {
		outcomes[r.String()] = n
	}
	return Summary{
		Rounds:    s.Rounds,
		Hands:     s.Hands,
		Wagered:   s.Wagered,
		Net:       s.SumDelta,
		Mean:      s.Mean(),
		StdDev:    s.StdDev(),
		CI95:      [2]float64{lo, hi},
		Median:    s.Median(),
		HouseEdge: s.HouseEdge(),
		Outcomes:  outcomes,
		Split:     s.Split,
		MaxWin:    s.MaxWin,
		MaxLoss:   s.MaxLoss,
		Aborted:   s.Aborted,
		Forfeits:  s.Forfeits,
		Refills:   s.Refills,
		Errors:    s.Errors,
	}
}

// Collector feeds Statistics from room events. Register it with every room.
type Collector struct {
	mu    sync.Mutex
	stats *Statistics
}

// NewCollector creates a collector keeping window recent values.
func NewCollector(window int) *Collector {
	return &Collector{stats: New(window)}
}

// OnEvent implements room.EventSubscriber.
func (c *Collector) OnEvent(e room.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev := e.(type) {
	case *room.PayoutEvent:
		c.stats.Add(ev.Hands, ev.Delta)
	case *room.RoundAbortedEvent:
		c.stats.Aborted++
	case *room.SeatLeftEvent:
		c.stats.Forfeits += ev.Forfeit
	case *room.RefillEvent:
		c.stats.Refills += ev.Amount
	}
}

// Emit implements telemetry.Sink, counting error records.
func (c *Collector) Emit(r telemetry.Record) {
	if r.Kind != telemetry.KindError {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Errors++
}

// Summary returns the current figures.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.Summary()
}
