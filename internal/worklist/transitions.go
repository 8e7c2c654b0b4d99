package worklist

import (
	"errors"
	"fmt"

	"github.com/openimaging/upsd/internal/util"
	"github.com/openimaging/upsd/pkg/api"
)

// StateTransitions maps states to their set of valid next states
type StateTransitions[T comparable] map[T]util.Set[T]

// stepTransitions is the legal UPS procedure step state graph. Both
// terminal states map to the empty set; everything not listed here is an
// invalid transition, including any self-transition
var stepTransitions = StateTransitions[api.ProcedureStepState]{
	api.StateScheduled: util.SetOf(
		api.StateInProgress,
		api.StateCanceled,
	),
	api.StateInProgress: util.SetOf(
		api.StateCompleted,
		api.StateCanceled,
	),
	api.StateCompleted: {},
	api.StateCanceled:  {},
}

// ErrInvalidTransition is returned for any requested state change outside
// the legal procedure step state graph
var ErrInvalidTransition = errors.New("invalid procedure step transition")

// CanTransition returns whether transition from one state to another is
// valid
func (t StateTransitions[T]) CanTransition(from, to T) bool {
	allowed, ok := t[from]
	if !ok {
		return false
	}
	return allowed.Contains(to)
}

// IsTerminal returns true if the state has no valid transitions
func (t StateTransitions[T]) IsTerminal(state T) bool {
	allowed, ok := t[state]
	return ok && allowed.IsEmpty()
}

// ValidateTransition checks a requested procedure step state change
// against the legal state graph. It is pure and safe for concurrent use
// across all workitems
func ValidateTransition(current, requested api.ProcedureStepState) error {
	if !stepTransitions.CanTransition(current, requested) {
		return fmt.Errorf("%w: %s to %s",
			ErrInvalidTransition, current, requested)
	}
	return nil
}
