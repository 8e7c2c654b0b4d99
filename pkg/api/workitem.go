package api

import "time"

// Workitem is one schedulable unit of procedure step work. Records are
// immutable snapshots: mutation happens by deriving a new record with the
// Set* helpers and swapping it into the repository against the version it
// was read at
type Workitem struct {
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	Attributes     Dataset            `json:"attributes"`
	UID            WorkitemUID        `json:"uid"`
	State          ProcedureStepState `json:"state"`
	TransactionUID TransactionUID     `json:"transaction_uid,omitempty"`
	Version        int64              `json:"version"`
}

// SetState returns a new Workitem with the updated procedure step state
func (w *Workitem) SetState(s ProcedureStepState) *Workitem {
	res := *w
	res.State = s
	return &res
}

// SetVersion returns a new Workitem with the version set
func (w *Workitem) SetVersion(v int64) *Workitem {
	res := *w
	res.Version = v
	return &res
}

// SetTransactionUID returns a new Workitem with the transaction UID set
func (w *Workitem) SetTransactionUID(uid TransactionUID) *Workitem {
	res := *w
	res.TransactionUID = uid
	return &res
}

// ClearTransactionUID returns a new Workitem with no transaction UID
func (w *Workitem) ClearTransactionUID() *Workitem {
	res := *w
	res.TransactionUID = ""
	return &res
}

// SetAttributes returns a new Workitem with the dataset replaced
func (w *Workitem) SetAttributes(ds Dataset) *Workitem {
	res := *w
	res.Attributes = ds
	return &res
}

// SetUpdatedAt returns a new Workitem with the update timestamp set
func (w *Workitem) SetUpdatedAt(t time.Time) *Workitem {
	res := *w
	res.UpdatedAt = t
	return &res
}

// ProcedureStepLabel returns the (0074,1204) value from the dataset
func (w *Workitem) ProcedureStepLabel() string {
	return DatasetString(w.Attributes, TagProcedureStepLabel)
}

// ScheduledStationAETitle returns the (0040,0001) value from the dataset
func (w *Workitem) ScheduledStationAETitle() string {
	return DatasetString(w.Attributes, TagScheduledStationAETitle)
}

// InputReadinessState returns the (0040,4041) value, defaulting to READY
func (w *Workitem) InputReadinessState() string {
	if s := DatasetString(w.Attributes, TagInputReadinessState); s != "" {
		return s
	}
	return ReadinessReady
}
