package trading

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidTransition = errors.New("invalid order state transition")

// OrderState is the lifecycle state of an order placed through this service.
type OrderState string

const (
	StateDraft           OrderState = "DRAFT"
	StatePreviewed       OrderState = "PREVIEWED"
	StatePlaced          OrderState = "PLACED"
	StateFilled          OrderState = "FILLED"
	StatePartiallyFilled OrderState = "PARTIALLY_FILLED"
	StateCancelled       OrderState = "CANCELLED"
	StateRejected        OrderState = "REJECTED"
	StateExpired         OrderState = "EXPIRED"
	StateReplaced        OrderState = "REPLACED"
)

var transitions = map[OrderState][]OrderState{
	StateDraft:           {StatePreviewed, StatePlaced},
	StatePreviewed:       {StatePlaced},
	StatePlaced:          {StateFilled, StatePartiallyFilled, StateCancelled, StateRejected, StateExpired, StateReplaced},
	StatePartiallyFilled: {StatePartiallyFilled, StateFilled, StateCancelled, StateExpired, StateReplaced},
}

// IsTerminal reports whether no further transition can leave s.
func (s OrderState) IsTerminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateExpired, StateReplaced:
		return true
	}
	return false
}

// Transition returns to when the move from s is allowed. Staying in PLACED is
// allowed so a pending provider status is not an error.
func (s OrderState) Transition(to OrderState) (OrderState, error) {
	if s == to && s == StatePlaced {
		return to, nil
	}
	for _, next := range transitions[s] {
		if next == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
}

// StateFromStatus maps a brokerage order status onto the lifecycle. Statuses
// that do not name a final outcome are still PLACED.
func StateFromStatus(status string) OrderState {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "EXECUTED", "FILLED":
		return StateFilled
	case "PARTIAL", "PARTIALLY_FILLED", "PARTIALLY_EXECUTED":
		return StatePartiallyFilled
	case "CANCELED", "CANCELLED", "PARTIAL_CANCELED":
		return StateCancelled
	case "REJECTED", "FAILED":
		return StateRejected
	case "EXPIRED":
		return StateExpired
	case "REPLACED":
		return StateReplaced
	}
	return StatePlaced
}
