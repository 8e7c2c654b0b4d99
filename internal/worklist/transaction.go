package worklist

import (
	"errors"
	"fmt"

	"github.com/openimaging/upsd/pkg/api"
)

var (
	// ErrConflict is returned when a claim races against an existing
	// owner, or when a mutation loses the version race too many times
	ErrConflict = errors.New("workitem claim conflict")

	// ErrUnauthorized is returned when a mutation on an IN PROGRESS
	// workitem does not present the owning transaction UID
	ErrUnauthorized = errors.New("transaction UID mismatch")
)

// Claim authorizes taking ownership of a SCHEDULED workitem and returns
// the transaction UID that the new owner must present on every further
// mutation. A caller-supplied UID is honored; otherwise one is generated.
// Claiming an already-owned workitem with the matching UID is an
// idempotent no-op; with any other UID it fails without disturbing the
// existing owner
func Claim(
	w *api.Workitem, supplied api.TransactionUID,
) (api.TransactionUID, error) {
	switch w.State {
	case api.StateInProgress:
		if supplied != "" && supplied == w.TransactionUID {
			return w.TransactionUID, nil
		}
		return "", fmt.Errorf("%w: workitem %s already in progress",
			ErrConflict, w.UID)
	case api.StateScheduled:
		if supplied == "" {
			return api.NewTransactionUID(), nil
		}
		if !supplied.IsValid() {
			return "", fmt.Errorf("%w: malformed transaction UID",
				ErrUnauthorized)
		}
		return supplied, nil
	default:
		return "", fmt.Errorf("%w: %s to %s",
			ErrInvalidTransition, w.State, api.StateInProgress)
	}
}

// Authorize checks that a mutation on an IN PROGRESS workitem presents
// the owning transaction UID. Workitems in any other state need no
// authorization
func Authorize(w *api.Workitem, presented api.TransactionUID) error {
	if w.State != api.StateInProgress {
		return nil
	}
	if presented == "" || presented != w.TransactionUID {
		return fmt.Errorf("%w: workitem %s", ErrUnauthorized, w.UID)
	}
	return nil
}

// Release validates ownership and clears the transaction UID, used on
// the transition into a terminal state
func Release(
	w *api.Workitem, presented api.TransactionUID,
) (*api.Workitem, error) {
	if err := Authorize(w, presented); err != nil {
		return nil, err
	}
	return w.ClearTransactionUID(), nil
}
