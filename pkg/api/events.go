package api

import (
	"sync"
	"time"
)

type (
	// StateChangeEvent is broadcast on every accepted workitem mutation.
	// It exists only in the notification pipeline and is never persisted
	StateChangeEvent struct {
		Timestamp     time.Time          `json:"timestamp"`
		WorkitemUID   WorkitemUID        `json:"workitem_uid"`
		PreviousState ProcedureStepState `json:"previous_state"`
		NewState      ProcedureStepState `json:"new_state"`
		Version       int64              `json:"version"`
	}

	// UPSEventType identifies the kind of UPS event report, per the
	// N-EVENT-REPORT event type IDs of PS3.4 CC.2.4
	UPSEventType int
)

const (
	UPSStateReport     UPSEventType = 1
	UPSCancelRequested UPSEventType = 2
	UPSProgressReport  UPSEventType = 3
	SCPStatusChange    UPSEventType = 4
	UPSAssigned        UPSEventType = 5
)

// SCP status values for SCP Status Change reports
const (
	SCPStatusGoingDown = "GOING DOWN"
	SCPStatusRestarted = "RESTARTED"
)

// Restart status values describing whether a list survived an SCP restart
const (
	ListWarmStart = "WARM START"
	ListColdStart = "COLD START"
)

// maxMessageID bounds the event report message counter before it wraps
const maxMessageID = 65534

var (
	messageIDMu sync.Mutex
	messageID   int
)

// NextMessageID returns the next monotonic event report message ID,
// wrapping back to 1 past 65534
func NextMessageID() int {
	messageIDMu.Lock()
	defer messageIDMu.Unlock()
	if messageID >= maxMessageID {
		messageID = 1
	} else {
		messageID++
	}
	return messageID
}
