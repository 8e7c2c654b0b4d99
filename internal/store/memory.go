package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/openimaging/upsd/pkg/api"
)

type (
	// MemoryStore is a mutex-guarded in-process implementation of both
	// repository contracts. Reads return copies so callers always hold a
	// consistent snapshot regardless of concurrent writers
	MemoryStore struct {
		workitems     map[api.WorkitemUID]*api.Workitem
		subscriptions map[subscriptionKey]*api.Subscription
		mu            sync.RWMutex
	}

	subscriptionKey struct {
		scope api.WorkitemUID
		ae    api.AETitle
	}
)

var (
	_ WorkitemRepository     = (*MemoryStore)(nil)
	_ SubscriptionRepository = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workitems:     map[api.WorkitemUID]*api.Workitem{},
		subscriptions: map[subscriptionKey]*api.Subscription{},
	}
}

// Get returns a snapshot of the workitem with the given UID
func (m *MemoryStore) Get(
	_ context.Context, uid api.WorkitemUID,
) (*api.Workitem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workitems[uid]
	if !ok {
		return nil, fmt.Errorf("%w: workitem %s", ErrNotFound, uid)
	}
	res := *w
	return &res, nil
}

// Create stores a new workitem record
func (m *MemoryStore) Create(_ context.Context, w *api.Workitem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workitems[w.UID]; ok {
		return fmt.Errorf("%w: workitem %s", ErrExists, w.UID)
	}
	res := *w
	m.workitems[w.UID] = &res
	return nil
}

// CompareAndSwap replaces the stored record when its version matches
func (m *MemoryStore) CompareAndSwap(
	_ context.Context, uid api.WorkitemUID, expected int64, w *api.Workitem,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.workitems[uid]
	if !ok {
		return fmt.Errorf("%w: workitem %s", ErrNotFound, uid)
	}
	if cur.Version != expected {
		return fmt.Errorf("%w: workitem %s at version %d, expected %d",
			ErrVersionConflict, uid, cur.Version, expected)
	}
	res := *w
	m.workitems[uid] = &res
	return nil
}

// Query returns a snapshot of all stored workitems
func (m *MemoryStore) Query(_ context.Context) ([]*api.Workitem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*api.Workitem, 0, len(m.workitems))
	for _, w := range m.workitems {
		cp := *w
		res = append(res, &cp)
	}
	return res, nil
}

// Save stores or replaces a subscription record
func (m *MemoryStore) Save(_ context.Context, s *api.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.subscriptions[subscriptionKey{scope: s.Scope, ae: s.AETitle}] = &cp
	return nil
}

// Delete removes the subscription for the AE title and scope
func (m *MemoryStore) Delete(
	_ context.Context, scope api.WorkitemUID, ae api.AETitle,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subscriptionKey{scope: scope, ae: ae}
	if _, ok := m.subscriptions[key]; !ok {
		return fmt.Errorf("%w: subscription %s/%s", ErrNotFound, scope, ae)
	}
	delete(m.subscriptions, key)
	return nil
}

// GetByAETitle returns all subscriptions held by an AE title
func (m *MemoryStore) GetByAETitle(
	_ context.Context, ae api.AETitle,
) ([]*api.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*api.Subscription
	for key, s := range m.subscriptions {
		if key.ae == ae {
			cp := *s
			res = append(res, &cp)
		}
	}
	return res, nil
}

// GetByScope returns all subscriptions targeting a scope UID
func (m *MemoryStore) GetByScope(
	_ context.Context, scope api.WorkitemUID,
) ([]*api.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []*api.Subscription
	for key, s := range m.subscriptions {
		if key.scope == scope {
			cp := *s
			res = append(res, &cp)
		}
	}
	return res, nil
}

// All returns a snapshot of every subscription
func (m *MemoryStore) All(_ context.Context) ([]*api.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*api.Subscription, 0, len(m.subscriptions))
	for _, s := range m.subscriptions {
		cp := *s
		res = append(res, &cp)
	}
	return res, nil
}
