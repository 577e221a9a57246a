package room

import (
	"errors"
	"fmt"
)

var (
	// ErrRoomFull is returned by Join when every seat is taken.
	ErrRoomFull = errors.New("room full")
	// ErrIllegalAction rejects a command the current phase, turn or hand
	// does not allow.
	ErrIllegalAction = errors.New("illegal action")
	// ErrInsufficientBalance rejects a chip, double or split the seat cannot
	// cover.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnknownSeat means no seat has the nickname.
	ErrUnknownSeat = errors.New("unknown seat")
	// ErrSeatTaken is returned by Join when the nickname is already seated.
	ErrSeatTaken = errors.New("nickname already seated")
)

// Phase is one stage of a room's round cycle.
type Phase int

const (
	PhaseBet Phase = iota
	PhaseDealInitialCards
	PhasePlayersPlay
	PhaseDealerPlay
	PhasePayout
)

// String returns the wire name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseBet:
		return "bet"
	case PhaseDealInitialCards:
		return "deal"
	case PhasePlayersPlay:
		return "play"
	case PhaseDealerPlay:
		return "dealer"
	case PhasePayout:
		return "payout"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	for candidate := PhaseBet; candidate <= PhasePayout; candidate++ {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

// Action is a player decision during PlayersPlay.
type Action string

const (
	Hit    Action = "hit"
	Stand  Action = "stand"
	Double Action = "double"
	Split  Action = "split"
)

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case Hit, Stand, Double, Split:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrIllegalAction, s)
}

// Direction says whether a bet change adds or removes a chip.
type Direction string

const (
	AddChip    Direction = "add"
	RemoveChip Direction = "remove"
)

// ParseDirection validates a bet direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(s); d {
	case AddChip, RemoveChip:
		return d, nil
	}
	return "", fmt.Errorf("%w: unknown direction %q", ErrIllegalAction, s)
}
