package ingest

// Status is the terminal outcome of one pipeline run. The webhook layer maps
// it onto an HTTP response: Accepted and Duplicate ack the delivery, Rejected
// is a 4xx (never retried), Retryable is a 5xx (the platform redelivers).
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
	StatusRejected  Status = "rejected"
	StatusRetryable Status = "retryable_failure"
)

// Result reports what one ingestion attempt did.
type Result struct {
	Status Status

	// MessageID is the stored message's id for Accepted, or the previously
	// stored message's id for Duplicate.
	MessageID      int64
	ConversationID int64
	SequenceNumber int64

	// Reason explains Rejected and Retryable outcomes.
	Reason string
}
