// Package store defines the persistence contracts for workitems and
// subscriptions, with in-memory and redis-backed implementations
//
// The workitem contract is deliberately narrow: get by UID, create, a
// versioned compare-and-swap, and a full query. The worklist core never
// mutates a record in place; every update is read-compute-CAS
package store

import (
	"context"
	"errors"

	"github.com/openimaging/upsd/pkg/api"
)

type (
	// WorkitemRepository persists workitem records keyed by UID
	WorkitemRepository interface {
		// Get returns the workitem with the given UID, or ErrNotFound
		Get(ctx context.Context, uid api.WorkitemUID) (*api.Workitem, error)

		// Create stores a new workitem, or ErrExists when the UID is taken
		Create(ctx context.Context, w *api.Workitem) error

		// CompareAndSwap replaces the stored record only when its version
		// still equals expected; otherwise ErrVersionConflict. The swap is
		// atomic: concurrent callers racing on the same version see
		// exactly one winner
		CompareAndSwap(
			ctx context.Context, uid api.WorkitemUID, expected int64,
			w *api.Workitem,
		) error

		// Query returns a snapshot of all workitems
		Query(ctx context.Context) ([]*api.Workitem, error)
	}

	// SubscriptionRepository persists subscription records
	SubscriptionRepository interface {
		Save(ctx context.Context, s *api.Subscription) error

		// Delete removes the subscription for the AE title and scope, or
		// ErrNotFound when none exists
		Delete(
			ctx context.Context, scope api.WorkitemUID, ae api.AETitle,
		) error

		GetByAETitle(
			ctx context.Context, ae api.AETitle,
		) ([]*api.Subscription, error)

		GetByScope(
			ctx context.Context, scope api.WorkitemUID,
		) ([]*api.Subscription, error)

		All(ctx context.Context) ([]*api.Subscription, error)
	}
)

var (
	ErrNotFound        = errors.New("not found")
	ErrExists          = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
)
