package api

import "time"

type (
	// EventReport is the UPS event report payload carried inside a
	// notification. Field population follows the N-EVENT-REPORT datasets
	// of PS3.4 CC.2.4, rendered as JSON keywords rather than raw tags
	EventReport struct {
		AffectedSOPClassUID    string       `json:"AffectedSOPClassUID"`
		AffectedSOPInstanceUID WorkitemUID  `json:"AffectedSOPInstanceUID"`
		EventTypeID            UPSEventType `json:"EventTypeID"`
		MessageID              int          `json:"MessageID"`
		InputReadinessState    string       `json:"InputReadinessState"`
		ProcedureStepState     string       `json:"ProcedureStepState"`

		// UPSCancelRequested
		RequestingAE          AETitle `json:"RequestingAE,omitempty"`
		ReasonForCancellation string  `json:"ReasonForCancellation,omitempty"`
		ContactURI            string  `json:"ContactURI,omitempty"`
		ContactDisplayName    string  `json:"ContactDisplayName,omitempty"`

		// UPSProgressReport
		ProcedureStepProgress            *int   `json:"ProcedureStepProgress,omitempty"`
		ProcedureStepProgressDescription string `json:"ProcedureStepProgressDescription,omitempty"`

		// SCPStatusChange
		SCPStatus              string `json:"SCPStatus,omitempty"`
		SubscriptionListStatus string `json:"SubscriptionListStatus,omitempty"`
		WorklistStatus         string `json:"UnifiedProcedureStepListStatus,omitempty"`
	}

	// Notification is the wire envelope delivered to subscribers: the
	// state-change fields plus the subscription being served and the
	// rendered event report
	Notification struct {
		Timestamp      time.Time          `json:"timestamp"`
		Report         *EventReport       `json:"report"`
		SubscriptionID SubscriptionID     `json:"subscription_id"`
		WorkitemUID    WorkitemUID        `json:"workitem_uid"`
		PreviousState  ProcedureStepState `json:"previous_state,omitempty"`
		NewState       ProcedureStepState `json:"new_state,omitempty"`
		Version        int64              `json:"version"`
	}

	// ErrorResponse is the JSON error payload returned by the HTTP API
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// CreatedResponse acknowledges workitem creation
	CreatedResponse struct {
		UID WorkitemUID `json:"uid"`
	}

	// ChangeStateRequest asks for a procedure step state transition
	ChangeStateRequest struct {
		State          string         `json:"state"`
		TransactionUID TransactionUID `json:"transaction_uid,omitempty"`
	}

	// UpdateRequest carries an attribute patch with its expected version
	UpdateRequest struct {
		Patch           Dataset        `json:"patch"`
		TransactionUID  TransactionUID `json:"transaction_uid,omitempty"`
		ExpectedVersion int64          `json:"expected_version"`
	}

	// CancelRequest asks the owner of a workitem to cancel it
	CancelRequest struct {
		RequestingAE       AETitle `json:"requesting_ae"`
		Reason             string  `json:"reason,omitempty"`
		ContactURI         string  `json:"contact_uri,omitempty"`
		ContactDisplayName string  `json:"contact_display_name,omitempty"`
	}

	// SubscribeRequest configures a subscription at creation time
	SubscribeRequest struct {
		Filter       Dataset `json:"filter,omitempty"`
		DeletionLock bool    `json:"deletion_lock"`
	}

	// WorkitemsResponse lists workitems matching a search
	WorkitemsResponse struct {
		Workitems []*Workitem `json:"workitems"`
		Count     int         `json:"count"`
	}

	// HealthResponse reports service liveness and pipeline counters
	HealthResponse struct {
		Service       string `json:"service"`
		Version       string `json:"version"`
		Status        string `json:"status"`
		Subscriptions int    `json:"subscriptions"`
		Published     int64  `json:"published_events"`
		Dropped       int64  `json:"dropped_notifications"`
	}
)
