// Package worklist implements the UPS-RS workitem state machine and the
// subscription/notification pipeline
//
// The Service is the orchestration root the HTTP layer calls into. State
// is held by an injected repository and every mutation follows the same
// optimistic discipline: read at version V, compute a new record, swap it
// in against V, retrying a bounded number of times under contention.
// Accepted mutations publish exactly one state-change event onto the Bus;
// the Dispatcher fans events out to subscribers registered with the
// Registry, fully decoupled from request handling
package worklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openimaging/upsd/internal/store"
	"github.com/openimaging/upsd/pkg/api"
	"github.com/openimaging/upsd/pkg/log"
)

// Service implements the UPS-RS operation set over the repository, the
// state machine, the transaction guard, and the notification pipeline
type Service struct {
	repo       store.WorkitemRepository
	subs       store.SubscriptionRepository
	registry   *Registry
	bus        *Bus
	dispatcher *Dispatcher
}

var (
	// ErrPatchState rejects attribute patches that try to change the
	// procedure step state; state changes go through ChangeState only
	ErrPatchState = errors.New(
		"procedure step state cannot be changed by attribute update",
	)

	// ErrInvalidUID rejects a caller-supplied SOP Instance UID that is
	// malformed or reserved as a well-known UID
	ErrInvalidUID = errors.New("invalid workitem UID")

	// errRepeatClaim marks an idempotent re-claim by the current owner.
	// Internal: resolved to a plain success without a version bump
	errRepeatClaim = errors.New("repeat claim by owner")
)

const (
	// maxCASRetries bounds the read-compute-CAS cycle under contention
	// before surfacing ErrConflict; retrying forever would livelock on a
	// hot workitem
	maxCASRetries = 3

	casRetryDelay = 10 * time.Millisecond
)

// NewService wires the service with its repositories and notification
// pipeline. archiver may be nil
func NewService(
	repo store.WorkitemRepository, subs store.SubscriptionRepository,
	registry *Registry, archiver Archiver,
) *Service {
	s := &Service{
		repo:     repo,
		subs:     subs,
		registry: registry,
	}
	s.dispatcher = NewDispatcher(registry, repo, archiver)
	s.bus = NewBus(s.dispatcher.Dispatch)
	return s
}

// Registry exposes the subscription registry for the transport layer
func (s *Service) Registry() *Registry {
	return s.registry
}

// Published returns the number of state-change events accepted by the
// event bus since startup
func (s *Service) Published() int64 {
	return s.bus.Published()
}

// Start begins asynchronous event delivery
func (s *Service) Start() {
	s.bus.Start()
}

// Stop shuts the notification pipeline down
func (s *Service) Stop() {
	s.bus.Stop()
}

// NotifyShutdown broadcasts an SCP Status Change to all subscribers. The
// list statuses tell reconnecting clients whether they must resubscribe
func (s *Service) NotifyShutdown(subscriptionList, worklist string) {
	s.dispatcher.NotifySCPStatus(
		api.SCPStatusGoingDown, subscriptionList, worklist,
	)
}

// Create stores a new SCHEDULED workitem at version 0. A UID supplied in
// the dataset is honored; a duplicate UID fails with store.ErrExists
func (s *Service) Create(
	ctx context.Context, attrs api.Dataset,
) (*api.Workitem, error) {
	uid := api.WorkitemUID(api.DatasetString(attrs, api.TagSOPInstanceUID))
	if uid == "" {
		uid = api.NewWorkitemUID()
	} else if !uid.IsValid() || uid.IsWellKnown() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidUID, uid)
	}

	attrs, err := api.SetDatasetString(
		attrs, api.TagSOPInstanceUID, "UI", string(uid),
	)
	if err != nil {
		return nil, err
	}
	attrs, err = api.SetDatasetString(
		attrs, api.TagProcedureStepState, "CS", string(api.StateScheduled),
	)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	w := &api.Workitem{
		UID:        uid,
		State:      api.StateScheduled,
		Version:    0,
		Attributes: attrs,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return nil, err
	}

	slog.Info("Workitem created",
		log.WorkitemUID(uid),
		slog.String("label", w.ProcedureStepLabel()))
	s.publish(w, "")
	return w, nil
}

// Retrieve returns the workitem with the given UID
func (s *Service) Retrieve(
	ctx context.Context, uid api.WorkitemUID,
) (*api.Workitem, error) {
	return s.repo.Get(ctx, uid)
}

// Search returns all workitems matching the flat tag-to-pattern filters.
// Reads never block on writers; each call observes a snapshot
func (s *Service) Search(
	ctx context.Context, filters map[string]string,
) ([]*api.Workitem, error) {
	all, err := s.repo.Query(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]*api.Workitem, 0, len(all))
	for _, w := range all {
		if MatchParams(filters, w.Attributes) {
			res = append(res, w)
		}
	}
	return res, nil
}

// UpdateAttributes merges an attribute patch into a workitem. When the
// workitem is IN PROGRESS the caller must present the owning transaction
// UID. expectedVersion, when non-negative, is a precondition against the
// current version; pass -1 for an unconditional update
func (s *Service) UpdateAttributes(
	ctx context.Context, uid api.WorkitemUID, expectedVersion int64,
	patch api.Dataset, txn api.TransactionUID,
) (*api.Workitem, error) {
	if api.DatasetHas(patch, api.TagProcedureStepState) {
		return nil, ErrPatchState
	}
	return s.mutate(ctx, uid, func(cur *api.Workitem) (*api.Workitem, error) {
		if expectedVersion >= 0 && cur.Version != expectedVersion {
			return nil, fmt.Errorf(
				"%w: workitem %s at version %d, expected %d",
				ErrConflict, uid, cur.Version, expectedVersion,
			)
		}
		if err := Authorize(cur, txn); err != nil {
			return nil, err
		}
		merged, err := api.MergeDataset(cur.Attributes, patch)
		if err != nil {
			return nil, err
		}
		return cur.SetAttributes(merged), nil
	})
}

// ChangeState performs a procedure step state transition: claiming a
// SCHEDULED workitem, completing or canceling an owned one, or canceling
// a SCHEDULED one. A repeat claim by the current owner is a no-op that
// does not bump the version and publishes nothing
func (s *Service) ChangeState(
	ctx context.Context, uid api.WorkitemUID,
	requested api.ProcedureStepState, txn api.TransactionUID,
) (*api.Workitem, error) {
	w, err := s.mutate(ctx, uid, func(cur *api.Workitem) (*api.Workitem, error) {
		return s.applyTransition(cur, requested, txn)
	})
	if errors.Is(err, errRepeatClaim) {
		return s.repo.Get(ctx, uid)
	}
	return w, err
}

// RequestCancel asks for a workitem to be canceled. A SCHEDULED workitem
// is canceled outright; an IN PROGRESS one stays untouched while its
// owner is notified of the request; a finished one cannot be canceled
func (s *Service) RequestCancel(
	ctx context.Context, uid api.WorkitemUID, req *api.CancelRequest,
) error {
	cur, err := s.repo.Get(ctx, uid)
	if err != nil {
		return err
	}
	switch cur.State {
	case api.StateScheduled:
		_, err := s.mutate(ctx, uid,
			func(cur *api.Workitem) (*api.Workitem, error) {
				if cur.State != api.StateScheduled {
					return s.applyTransition(cur, api.StateCanceled, "")
				}
				next := cur
				if req.Reason != "" {
					attrs, err := api.SetDatasetString(
						cur.Attributes, api.TagReasonForCancellation,
						"LT", req.Reason,
					)
					if err != nil {
						return nil, err
					}
					next = next.SetAttributes(attrs)
				}
				return s.applyTransition(next, api.StateCanceled, "")
			})
		return err
	case api.StateInProgress:
		s.dispatcher.NotifyCancelRequested(cur, req)
		return nil
	default:
		return fmt.Errorf("%w: %s to %s",
			ErrInvalidTransition, cur.State, api.StateCanceled)
	}
}

// Subscribe registers an AE title's interest in a workitem, the global
// worklist, or a filtered worklist view. Initial state reports are
// queued per CC.2.3: the current state for a specific subscription, and
// the matching worklist contents for deletion-locked global or filtered
// subscriptions
func (s *Service) Subscribe(
	ctx context.Context, scope api.WorkitemUID, ae api.AETitle,
	req *api.SubscribeRequest,
) (*api.Subscription, error) {
	if !scope.IsWellKnown() {
		if _, err := s.repo.Get(ctx, scope); err != nil {
			return nil, err
		}
	}
	sub := &api.Subscription{
		ID:           api.NewSubscriptionID(),
		AETitle:      ae,
		Scope:        scope,
		Filter:       req.Filter,
		DeletionLock: req.DeletionLock,
		CreatedAt:    time.Now(),
	}
	if err := s.subs.Save(ctx, sub); err != nil {
		return nil, err
	}
	s.registry.Subscribe(sub)
	if err := s.queueInitialReports(ctx, sub); err != nil {
		slog.Warn("Failed to queue initial state reports",
			log.AETitle(ae),
			log.Error(err))
	}
	slog.Info("Subscription created",
		log.SubscriptionID(sub.ID),
		log.AETitle(ae),
		log.WorkitemUID(scope))
	return sub, nil
}

// Unsubscribe removes an AE title's subscription on the scope
func (s *Service) Unsubscribe(
	ctx context.Context, scope api.WorkitemUID, ae api.AETitle,
) error {
	s.registry.Unsubscribe(scope, ae)
	return s.subs.Delete(ctx, scope, ae)
}

// Suspend marks a subscription suspended: the record survives but no
// further events are delivered until the AE title subscribes again
func (s *Service) Suspend(
	ctx context.Context, scope api.WorkitemUID, ae api.AETitle,
) error {
	if !s.registry.Suspend(scope, ae, true) {
		return fmt.Errorf("%w: subscription %s/%s",
			store.ErrNotFound, scope, ae)
	}
	subs, err := s.subs.GetByAETitle(ctx, ae)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if sub.Scope == scope {
			return s.subs.Save(ctx, sub.SetSuspended(true))
		}
	}
	return fmt.Errorf("%w: subscription %s/%s", store.ErrNotFound, scope, ae)
}

// mutate runs one read-compute-CAS cycle with bounded retries. apply
// receives the current record and returns the mutated record without a
// version bump; mutate assigns the next version, swaps, and publishes
// the state-change event on success
func (s *Service) mutate(
	ctx context.Context, uid api.WorkitemUID,
	apply func(*api.Workitem) (*api.Workitem, error),
) (*api.Workitem, error) {
	var lastErr error
	for attempt := range maxCASRetries {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(casRetryDelay << attempt):
			}
		}
		cur, err := s.repo.Get(ctx, uid)
		if err != nil {
			return nil, err
		}
		next, err := apply(cur)
		if err != nil {
			return nil, err
		}
		next = next.SetVersion(cur.Version + 1).SetUpdatedAt(time.Now())
		err = s.repo.CompareAndSwap(ctx, uid, cur.Version, next)
		if err == nil {
			s.publish(next, cur.State)
			return next, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: workitem %s lost the version race (%v)",
		ErrConflict, uid, lastErr)
}

func (s *Service) applyTransition(
	cur *api.Workitem, requested api.ProcedureStepState,
	txn api.TransactionUID,
) (*api.Workitem, error) {
	if requested == api.StateInProgress {
		if cur.State == api.StateInProgress && txn != "" &&
			txn == cur.TransactionUID {
			return nil, errRepeatClaim
		}
		tuid, err := Claim(cur, txn)
		if err != nil {
			return nil, err
		}
		return s.withStateAttr(
			cur.SetState(api.StateInProgress).SetTransactionUID(tuid),
		)
	}

	if err := ValidateTransition(cur.State, requested); err != nil {
		return nil, err
	}
	next := cur
	if cur.State == api.StateInProgress {
		released, err := Release(cur, txn)
		if err != nil {
			return nil, err
		}
		next = released
	}
	return s.withStateAttr(next.SetState(requested))
}

func (s *Service) withStateAttr(w *api.Workitem) (*api.Workitem, error) {
	attrs, err := api.SetDatasetString(
		w.Attributes, api.TagProcedureStepState, "CS", string(w.State),
	)
	if err != nil {
		return nil, err
	}
	return w.SetAttributes(attrs), nil
}

func (s *Service) publish(w *api.Workitem, prev api.ProcedureStepState) {
	s.bus.Publish(&api.StateChangeEvent{
		Timestamp:     time.Now(),
		WorkitemUID:   w.UID,
		PreviousState: prev,
		NewState:      w.State,
		Version:       w.Version,
	})
}

func (s *Service) queueInitialReports(
	ctx context.Context, sub *api.Subscription,
) error {
	switch {
	case sub.IsGlobal():
		if !sub.DeletionLock {
			return nil
		}
		return s.queueWorklistReports(ctx, sub, nil)
	case sub.IsFiltered():
		return s.queueWorklistReports(ctx, sub, sub.Filter)
	default:
		w, err := s.repo.Get(ctx, sub.Scope)
		if err != nil {
			return err
		}
		s.enqueueStateReport(sub, w)
		return nil
	}
}

func (s *Service) queueWorklistReports(
	ctx context.Context, sub *api.Subscription, filter api.Dataset,
) error {
	all, err := s.repo.Query(ctx)
	if err != nil {
		return err
	}
	for _, w := range all {
		if filter != nil && !MatchFilter(filter, w.Attributes) {
			continue
		}
		s.enqueueStateReport(sub, w)
	}
	return nil
}

func (s *Service) enqueueStateReport(
	sub *api.Subscription, w *api.Workitem,
) {
	s.registry.Enqueue(sub.AETitle, &api.Notification{
		Timestamp:      time.Now(),
		Report:         StateReport(w),
		SubscriptionID: sub.ID,
		NewState:       w.State,
		WorkitemUID:    w.UID,
		Version:        w.Version,
	})
}
