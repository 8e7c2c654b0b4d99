package api

import "time"

// Subscription records one AE title's interest in worklist events. Scope
// is either a specific workitem UID or one of the well-known global and
// filtered subscription UIDs. The subscription never owns the delivery
// connection; the registry resolves the AE title to a live channel at
// dispatch time
type Subscription struct {
	CreatedAt    time.Time      `json:"created_at"`
	Filter       Dataset        `json:"filter,omitempty"`
	ID           SubscriptionID `json:"id"`
	AETitle      AETitle        `json:"ae_title"`
	Scope        WorkitemUID    `json:"scope"`
	DeletionLock bool           `json:"deletion_lock"`
	Suspended    bool           `json:"suspended"`
}

// IsGlobal reports whether the subscription covers the whole worklist
func (s *Subscription) IsGlobal() bool {
	return s.Scope == GlobalSubscriptionUID
}

// IsFiltered reports whether the subscription covers worklist events
// matching its query dataset
func (s *Subscription) IsFiltered() bool {
	return s.Scope == FilteredSubscriptionUID
}

// SetSuspended returns a new Subscription with the suspended flag set.
// A suspended subscription keeps its record but receives no events
func (s *Subscription) SetSuspended(suspended bool) *Subscription {
	res := *s
	res.Suspended = suspended
	return &res
}
