package models

// Outcome is the result of processing a single work item. It is consumed by
// the queue runner to decide between commit, retry and dead-lettering.
type Outcome string

const (
	OutcomeSuccess                  Outcome = "success"
	OutcomeError                    Outcome = "error"
	OutcomeInvalidParameterValue    Outcome = "invalid_parameter_value"
	OutcomeBusinessProcessingFailed Outcome = "business_processing_failed"
)

// Retryable reports whether re-invoking the processor may change the outcome.
// Parameter and structural failures will fail the same way again.
func (o Outcome) Retryable() bool {
	return o == OutcomeBusinessProcessingFailed
}

func (o Outcome) String() string { return string(o) }
