package worklist

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/openimaging/upsd/internal/util"
	"github.com/openimaging/upsd/pkg/api"
	"github.com/openimaging/upsd/pkg/log"
)

type (
	// Deliverable is the capability the transport layer hands the
	// registry for one connected subscriber. Send returns an error once
	// the underlying channel is closed; the registry treats that as an
	// implicit unsubscribe and never retries
	Deliverable interface {
		Send(*api.Notification) error
	}

	// Registry tracks active subscriptions and their delivery channels.
	// Lookups are indexed by workitem UID plus separate global and
	// filtered sets, so matching an event never scans all subscriptions.
	// Delivery runs through per-subscriber bounded outboxes with a
	// drop-oldest overflow policy, keeping publishers and the dispatcher
	// decoupled from slow consumers
	Registry struct {
		subs       map[subKey]*api.Subscription
		byWorkitem map[api.WorkitemUID]util.Set[api.AETitle]
		global     util.Set[api.AETitle]
		filtered   util.Set[api.AETitle]
		outboxes   map[api.AETitle]*outbox
		queueSize  int
		dropped    atomic.Int64
		mu         sync.Mutex
	}

	subKey struct {
		scope api.WorkitemUID
		ae    api.AETitle
	}

	// outbox queues notifications for one AE title. The queue exists
	// whether or not a channel is attached, so reports for a subscriber
	// that has not yet connected are held and flushed on attach
	outbox struct {
		queue   []*api.Notification
		limit   int
		ch      Deliverable
		wake    chan struct{}
		detach  chan struct{}
		dropped *atomic.Int64
		mu      sync.Mutex
	}
)

// DefaultQueueSize bounds each subscriber's undelivered notifications
const DefaultQueueSize = 256

// NewRegistry creates an empty subscription registry. queueSize bounds
// each subscriber's outbox; zero selects DefaultQueueSize
func NewRegistry(queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Registry{
		subs:       map[subKey]*api.Subscription{},
		byWorkitem: map[api.WorkitemUID]util.Set[api.AETitle]{},
		global:     util.Set[api.AETitle]{},
		filtered:   util.Set[api.AETitle]{},
		outboxes:   map[api.AETitle]*outbox{},
		queueSize:  queueSize,
	}
}

// Subscribe registers a subscription and indexes it by scope
func (r *Registry) Subscribe(sub *api.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := subKey{scope: sub.Scope, ae: sub.AETitle}
	r.subs[key] = sub
	switch {
	case sub.IsGlobal():
		r.global.Add(sub.AETitle)
	case sub.IsFiltered():
		r.filtered.Add(sub.AETitle)
	default:
		set, ok := r.byWorkitem[sub.Scope]
		if !ok {
			set = util.Set[api.AETitle]{}
			r.byWorkitem[sub.Scope] = set
		}
		set.Add(sub.AETitle)
	}
	r.ensureOutboxLocked(sub.AETitle)
}

// Unsubscribe removes a subscription. It reports whether one existed
func (r *Registry) Unsubscribe(scope api.WorkitemUID, ae api.AETitle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(scope, ae)
}

// Suspend marks a subscription suspended or active. A suspended
// subscription keeps its record and indexes but receives nothing
func (r *Registry) Suspend(
	scope api.WorkitemUID, ae api.AETitle, suspended bool,
) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[subKey{scope: scope, ae: ae}]
	if !ok {
		return false
	}
	r.subs[subKey{scope: scope, ae: ae}] = sub.SetSuspended(suspended)
	return true
}

// Matching returns a snapshot of the subscriptions covering an event on
// the given workitem: exact-UID subscribers, global subscribers, and
// filtered subscribers whose query matches the workitem dataset.
// Suspended subscriptions are excluded
func (r *Registry) Matching(
	uid api.WorkitemUID, attrs api.Dataset,
) []*api.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := util.Set[api.AETitle]{}
	var res []*api.Subscription
	appendSub := func(scope api.WorkitemUID, ae api.AETitle) {
		if seen.Contains(ae) {
			return
		}
		sub, ok := r.subs[subKey{scope: scope, ae: ae}]
		if !ok || sub.Suspended {
			return
		}
		if sub.IsFiltered() && !MatchFilter(sub.Filter, attrs) {
			return
		}
		seen.Add(ae)
		res = append(res, sub)
	}

	for ae := range r.byWorkitem[uid] {
		appendSub(uid, ae)
	}
	for ae := range r.global {
		appendSub(api.GlobalSubscriptionUID, ae)
	}
	for ae := range r.filtered {
		appendSub(api.FilteredSubscriptionUID, ae)
	}
	return res
}

// Enqueue queues a notification for an AE title, dropping the oldest
// queued notification when the outbox is full. Unknown subscribers are
// ignored
func (r *Registry) Enqueue(ae api.AETitle, n *api.Notification) {
	r.mu.Lock()
	ob, ok := r.outboxes[ae]
	r.mu.Unlock()
	if !ok {
		return
	}
	ob.enqueue(n)
}

// AttachChannel binds a live delivery channel to an AE title and starts
// draining its outbox, including notifications queued before the
// subscriber first connected
func (r *Registry) AttachChannel(ae api.AETitle, ch Deliverable) {
	r.mu.Lock()
	ob := r.ensureOutboxLocked(ae)
	r.mu.Unlock()
	detach := ob.attach(ch)
	go r.deliver(ae, ob, ch, detach)
}

// DetachChannel reports a transport disconnect. The channel is released
// and every subscription held by the AE title is removed
func (r *Registry) DetachChannel(ae api.AETitle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ob, ok := r.outboxes[ae]
	if !ok {
		return
	}
	r.detachLocked(ae, ob)
}

// detachFrom is the failure-path detach used by delivery goroutines. It
// only tears the AE title down while from is still the registered outbox
// and ch its attached channel; a stale goroutine whose subscriber has
// since reconnected must not remove the live registration
func (r *Registry) detachFrom(
	ae api.AETitle, from *outbox, ch Deliverable,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ob, ok := r.outboxes[ae]
	if !ok || ob != from || !ob.holds(ch) {
		return
	}
	r.detachLocked(ae, ob)
}

func (r *Registry) detachLocked(ae api.AETitle, ob *outbox) {
	ob.detachChannel()
	for key := range r.subs {
		if key.ae == ae {
			r.removeLocked(key.scope, key.ae)
		}
	}
	delete(r.outboxes, ae)
}

// Subscriptions returns a snapshot of all registered subscriptions
func (r *Registry) Subscriptions() []*api.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]*api.Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		res = append(res, sub)
	}
	return res
}

// Dropped returns the total notifications discarded under overload
func (r *Registry) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Registry) removeLocked(scope api.WorkitemUID, ae api.AETitle) bool {
	key := subKey{scope: scope, ae: ae}
	if _, ok := r.subs[key]; !ok {
		return false
	}
	delete(r.subs, key)
	switch scope {
	case api.GlobalSubscriptionUID:
		r.global.Remove(ae)
	case api.FilteredSubscriptionUID:
		r.filtered.Remove(ae)
	default:
		if set, ok := r.byWorkitem[scope]; ok {
			set.Remove(ae)
			if set.IsEmpty() {
				delete(r.byWorkitem, scope)
			}
		}
	}
	return true
}

func (r *Registry) ensureOutboxLocked(ae api.AETitle) *outbox {
	ob, ok := r.outboxes[ae]
	if !ok {
		ob = &outbox{
			limit:   r.queueSize,
			wake:    make(chan struct{}, 1),
			dropped: &r.dropped,
		}
		r.outboxes[ae] = ob
	}
	return ob
}

// deliver drains one subscriber's outbox onto its channel until the
// channel is detached or a send fails. A send failure is an implicit
// unsubscribe; it never propagates to the dispatcher or the publisher
func (r *Registry) deliver(
	ae api.AETitle, ob *outbox, ch Deliverable, detach chan struct{},
) {
	for {
		for _, n := range ob.drain() {
			if err := ch.Send(n); err != nil {
				slog.Debug("Subscriber channel closed during delivery",
					log.AETitle(ae),
					log.Error(err))
				r.detachFrom(ae, ob, ch)
				return
			}
		}
		select {
		case <-detach:
			return
		case <-ob.wake:
		}
	}
}

func (ob *outbox) enqueue(n *api.Notification) {
	ob.mu.Lock()
	if len(ob.queue) >= ob.limit {
		ob.queue = ob.queue[1:]
		ob.dropped.Add(1)
	}
	ob.queue = append(ob.queue, n)
	ob.mu.Unlock()
	select {
	case ob.wake <- struct{}{}:
	default:
	}
}

func (ob *outbox) drain() []*api.Notification {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	batch := ob.queue
	ob.queue = nil
	return batch
}

func (ob *outbox) attach(ch Deliverable) chan struct{} {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.detach != nil {
		close(ob.detach)
	}
	ob.ch = ch
	ob.detach = make(chan struct{})
	return ob.detach
}

func (ob *outbox) holds(ch Deliverable) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.ch == ch
}

func (ob *outbox) detachChannel() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.detach != nil {
		close(ob.detach)
		ob.detach = nil
	}
	ob.ch = nil
}
