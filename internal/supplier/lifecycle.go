package supplier

import (
	"errors"
	"fmt"
)

// OrderStatus is the lifecycle state of a procurement order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderAnalyzing OrderStatus = "ANALYZING"
	OrderSuggested OrderStatus = "SUGGESTED"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderPlaced    OrderStatus = "PLACED"
	OrderFailed    OrderStatus = "FAILED"
)

// ErrInvalidTransition is wrapped by Transition for any disallowed move.
var ErrInvalidTransition = errors.New("invalid order transition")

// transitions is the order state machine. Analysis advances
// PENDING -> ANALYZING -> SUGGESTED|FAILED; an external confirmation step
// advances CONFIRMED -> PLACED|FAILED. SUGGESTED orders may be re-queued
// as PENDING for a later analysis run; SUGGESTED never auto-advances to
// CONFIRMED (that step is human). PLACED and FAILED are terminal.
var transitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderAnalyzing},
	OrderAnalyzing: {OrderSuggested, OrderFailed},
	OrderSuggested: {OrderConfirmed, OrderPending},
	OrderConfirmed: {OrderPlaced, OrderFailed},
	OrderPlaced:    {},
	OrderFailed:    {},
}

// Transition validates a lifecycle move, returning a wrapped
// ErrInvalidTransition when the machine does not permit it.
func Transition(from, to OrderStatus) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Terminal reports whether no further transition is possible.
func Terminal(s OrderStatus) bool {
	return len(transitions[s]) == 0
}
