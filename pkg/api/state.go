package api

import (
	"errors"
	"fmt"
)

// ProcedureStepState is the UPS procedure step state of a workitem. The
// values use the DICOM wire spellings, including the space in "IN PROGRESS"
type ProcedureStepState string

const (
	StateScheduled  ProcedureStepState = "SCHEDULED"
	StateInProgress ProcedureStepState = "IN PROGRESS"
	StateCompleted  ProcedureStepState = "COMPLETED"
	StateCanceled   ProcedureStepState = "CANCELED"
)

// InputReadinessState values for (0040,4041)
const (
	ReadinessReady       = "READY"
	ReadinessUnavailable = "UNAVAILABLE"
	ReadinessIncomplete  = "INCOMPLETE"
)

// ErrUnknownState is returned when parsing an unrecognized state string
var ErrUnknownState = errors.New("unknown procedure step state")

// ParseProcedureStepState converts a wire string into a ProcedureStepState
func ParseProcedureStepState(s string) (ProcedureStepState, error) {
	switch ProcedureStepState(s) {
	case StateScheduled, StateInProgress, StateCompleted, StateCanceled:
		return ProcedureStepState(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownState, s)
	}
}

// IsTerminal reports whether the state admits no further transitions
func (s ProcedureStepState) IsTerminal() bool {
	return s == StateCompleted || s == StateCanceled
}
