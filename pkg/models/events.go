package models

// Event types written to the event log.
const (
	EventIngested         = "record.ingested"
	EventIngestSkipped    = "record.ingest_skipped"
	EventDispatched       = "record.dispatched"
	EventParked           = "record.parked"
	EventCompleted        = "record.completed"
	EventFailed           = "record.failed"
	EventRetried          = "record.retried"
	EventRecovered        = "record.recovered"
	EventApprovalCreated  = "approval.created"
	EventApprovalResolved = "approval.resolved"
	EventCycleFinished    = "cycle.finished"
)
