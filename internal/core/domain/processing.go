package domain

import "time"

// ProcessorResultStatus is the state machine for one (document, processor)
// pair. PENDING, MISSING_DEPENDENCY and RETRYABLE_ERROR are non-terminal;
// COMPLETE and UNPROCESSABLE are terminal.
type ProcessorResultStatus string

const (
	ResultPending           ProcessorResultStatus = "PENDING"
	ResultComplete          ProcessorResultStatus = "COMPLETE"
	ResultUnprocessable     ProcessorResultStatus = "UNPROCESSABLE"
	ResultMissingDependency ProcessorResultStatus = "MISSING_DEPENDENCY"
	ResultRetryableError    ProcessorResultStatus = "RETRYABLE_ERROR"
)

func (s ProcessorResultStatus) Terminal() bool {
	return s == ResultComplete || s == ResultUnprocessable
}

// AntivirusProcessorID is the reserved processor id under which the
// synthesized scan pseudo-result is exposed. No processor may register it.
const AntivirusProcessorID = "antivirus-scanner"

// ProcessorResult is composite-keyed by (ProcessorID, DocumentID); at most one
// row per pair. The payload is processor-defined and opaque to the
// orchestrator, except that error payloads carry an "error" key.
type ProcessorResult struct {
	ProcessorID string                `json:"processorId"`
	DocumentID  string                `json:"documentId"`
	Status      ProcessorResultStatus `json:"status"`
	Result      map[string]any        `json:"result"`
	Timestamp   time.Time             `json:"timestamp"`
}

// ErrorMessage extracts the "error" payload field, if present.
func (r ProcessorResult) ErrorMessage() (string, bool) {
	if r.Result == nil {
		return "", false
	}
	msg, ok := r.Result["error"].(string)
	return msg, ok
}

// ProcessingRequest identifies which processor a caller wants to run.
type ProcessingRequest struct {
	ProcessorID string `json:"processorId"`
}

// ProcessingRequestEnvelope is the queued unit of work consumed by the
// processing worker.
type ProcessingRequestEnvelope struct {
	DocumentID string            `json:"documentId"`
	Request    ProcessingRequest `json:"request"`
}
