package blackjack

import "fmt"

// HandResult is the outcome of a single hand against the dealer.
type HandResult int

const (
	// Pending marks a hand that has not been settled.
	Pending HandResult = iota
	Win
	Lose
	Push
	BlackjackWin
	BustLoss
)

// String returns the wire name of the result
func (r HandResult) String() string {
	switch r {
	case Pending:
		return "pending"
	case Win:
		return "win"
	case Lose:
		return "lose"
	case Push:
		return "push"
	case BlackjackWin:
		return "blackjack"
	case BustLoss:
		return "bust"
	default:
		return "unknown"
	}
}

// MarshalText encodes the result by name.
func (r HandResult) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a result name.
func (r *HandResult) UnmarshalText(text []byte) error {
	for candidate := Pending; candidate <= BustLoss; candidate++ {
		if candidate.String() == string(text) {
			*r = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown hand result %q", text)
}
