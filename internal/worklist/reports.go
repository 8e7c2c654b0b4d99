package worklist

import "github.com/openimaging/upsd/pkg/api"

// UPSEventReportSOPClassUID identifies UPS event report payloads
const UPSEventReportSOPClassUID = "1.2.840.10008.5.1.4.34.6.4"

func newEventReport(
	uid api.WorkitemUID, typ api.UPSEventType, state api.ProcedureStepState,
	readiness string,
) *api.EventReport {
	return &api.EventReport{
		AffectedSOPClassUID:    UPSEventReportSOPClassUID,
		AffectedSOPInstanceUID: uid,
		EventTypeID:            typ,
		MessageID:              api.NextMessageID(),
		InputReadinessState:    readiness,
		ProcedureStepState:     string(state),
	}
}

// StateReport builds a UPS State Report for a workitem's current state.
// The cancellation reason is included when the state change carried one
func StateReport(w *api.Workitem) *api.EventReport {
	rep := newEventReport(
		w.UID, api.UPSStateReport, w.State, w.InputReadinessState(),
	)
	rep.ReasonForCancellation = api.DatasetString(
		w.Attributes, api.TagReasonForCancellation,
	)
	return rep
}

// CancelRequestedReport builds a UPS Cancel Requested report addressed
// to the current owner of an IN PROGRESS workitem. A cancel request is
// advisory: the workitem state is unchanged until the owner acts
func CancelRequestedReport(
	w *api.Workitem, req *api.CancelRequest,
) *api.EventReport {
	rep := newEventReport(
		w.UID, api.UPSCancelRequested, w.State, w.InputReadinessState(),
	)
	rep.RequestingAE = req.RequestingAE
	rep.ReasonForCancellation = req.Reason
	rep.ContactURI = req.ContactURI
	rep.ContactDisplayName = req.ContactDisplayName
	return rep
}

// ProgressReport builds a UPS Progress Report from the progress
// information sequence of the workitem dataset. Progress is clamped to
// the 0..100 range
func ProgressReport(w *api.Workitem) *api.EventReport {
	rep := newEventReport(
		w.UID, api.UPSProgressReport, w.State, w.InputReadinessState(),
	)
	seq := api.TagProgressInformationSeq + ".Value.0."
	if v, ok := api.DatasetInt(
		w.Attributes, seq+api.TagProcedureStepProgress,
	); ok {
		progress := int(min(max(v, 0), 100))
		rep.ProcedureStepProgress = &progress
	}
	rep.ProcedureStepProgressDescription = api.DatasetString(
		w.Attributes, seq+api.TagProgressDescription,
	)
	return rep
}

// AssignedReport builds a UPS Assigned report announcing a newly
// scheduled workitem to global and filtered subscribers
func AssignedReport(w *api.Workitem) *api.EventReport {
	return newEventReport(
		w.UID, api.UPSAssigned, api.StateScheduled, w.InputReadinessState(),
	)
}

// SCPStatusReport builds an SCP Status Change report. It carries no
// workitem UID; subscribers use it to detect cold starts that require
// resubscription
func SCPStatusReport(
	scpStatus, subscriptionList, worklist string,
) *api.EventReport {
	rep := newEventReport("", api.SCPStatusChange, api.StateScheduled,
		api.ReadinessReady)
	rep.SCPStatus = scpStatus
	rep.SubscriptionListStatus = subscriptionList
	rep.WorklistStatus = worklist
	return rep
}
