package worklist

import (
	"context"
	"log/slog"
	"time"

	"github.com/openimaging/upsd/internal/store"
	"github.com/openimaging/upsd/pkg/api"
	"github.com/openimaging/upsd/pkg/log"
)

type (
	// Dispatcher fans state-change events out to matching subscribers.
	// It runs downstream of the Bus, so it never delays the mutation
	// that produced an event, and delivery failures stay local to the
	// affected subscriber
	Dispatcher struct {
		registry *Registry
		repo     store.WorkitemRepository
		archiver Archiver
	}

	// Archiver receives workitems that reached a terminal state. Used to
	// export finished work to long-term storage; failures are logged and
	// never affect dispatch
	Archiver interface {
		Archive(ctx context.Context, w *api.Workitem) error
	}
)

// dispatchTimeout bounds the repository reads a single dispatch performs
const dispatchTimeout = 5 * time.Second

// NewDispatcher creates a dispatcher delivering through the registry.
// archiver may be nil
func NewDispatcher(
	registry *Registry, repo store.WorkitemRepository, archiver Archiver,
) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		repo:     repo,
		archiver: archiver,
	}
}

// Dispatch handles one state-change event: renders the event report,
// enqueues a notification for every matching subscriber, and archives
// workitems that reached a terminal state
func (d *Dispatcher) Dispatch(ev *api.StateChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	w, err := d.repo.Get(ctx, ev.WorkitemUID)
	if err != nil {
		slog.Warn("Workitem unavailable during dispatch",
			log.WorkitemUID(ev.WorkitemUID),
			log.Error(err))
		return
	}

	reports := []*api.EventReport{d.selectReport(ev, w)}
	if ev.PreviousState == "" {
		// new workitem: announce it to global and filtered subscribers
		reports = append(reports, AssignedReport(w))
	}

	matches := d.registry.Matching(ev.WorkitemUID, w.Attributes)
	for _, sub := range matches {
		for _, rep := range reports {
			d.registry.Enqueue(sub.AETitle, &api.Notification{
				Timestamp:      ev.Timestamp,
				Report:         rep,
				SubscriptionID: sub.ID,
				WorkitemUID:    ev.WorkitemUID,
				PreviousState:  ev.PreviousState,
				NewState:       ev.NewState,
				Version:        ev.Version,
			})
		}
	}
	slog.Debug("Dispatched state change",
		log.WorkitemUID(ev.WorkitemUID),
		log.State(ev.NewState),
		slog.Int("subscribers", len(matches)))

	if d.archiver != nil && ev.NewState.IsTerminal() {
		if err := d.archiver.Archive(ctx, w); err != nil {
			slog.Error("Failed to archive finished workitem",
				log.WorkitemUID(ev.WorkitemUID),
				log.Error(err))
		}
	}
}

// NotifyCancelRequested delivers a cancel request to the subscribers of
// an IN PROGRESS workitem without any state change
func (d *Dispatcher) NotifyCancelRequested(
	w *api.Workitem, req *api.CancelRequest,
) {
	rep := CancelRequestedReport(w, req)
	for _, sub := range d.registry.Matching(w.UID, w.Attributes) {
		d.registry.Enqueue(sub.AETitle, &api.Notification{
			Timestamp:      time.Now(),
			Report:         rep,
			SubscriptionID: sub.ID,
			WorkitemUID:    w.UID,
			PreviousState:  w.State,
			NewState:       w.State,
			Version:        w.Version,
		})
	}
}

// NotifySCPStatus broadcasts an SCP status change to every subscriber,
// bypassing scope matching
func (d *Dispatcher) NotifySCPStatus(
	scpStatus, subscriptionList, worklist string,
) {
	rep := SCPStatusReport(scpStatus, subscriptionList, worklist)
	for _, sub := range d.registry.Subscriptions() {
		if sub.Suspended {
			continue
		}
		d.registry.Enqueue(sub.AETitle, &api.Notification{
			Timestamp:      time.Now(),
			Report:         rep,
			SubscriptionID: sub.ID,
		})
	}
}

func (d *Dispatcher) selectReport(
	ev *api.StateChangeEvent, w *api.Workitem,
) *api.EventReport {
	if ev.PreviousState == ev.NewState &&
		ev.NewState != api.StateCanceled &&
		api.DatasetHas(w.Attributes, api.TagProgressInformationSeq) {
		return ProgressReport(w)
	}
	return StateReport(w)
}
