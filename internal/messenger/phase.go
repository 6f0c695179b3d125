package messenger

import "github.com/example/email-messenger/internal/models"

// Phase is the furthest point a Process invocation reached. It only moves
// forward.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseParametersRead
	PhaseBusinessComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseParametersRead:
		return "parameters_read"
	case PhaseBusinessComplete:
		return "business_complete"
	default:
		return "unknown"
	}
}

// FaultOutcome maps the phase at which a fault occurred to the outcome
// reported to the queue runner.
func (p Phase) FaultOutcome() models.Outcome {
	switch p {
	case PhaseNotStarted:
		return models.OutcomeInvalidParameterValue
	case PhaseParametersRead:
		return models.OutcomeBusinessProcessingFailed
	default:
		return models.OutcomeError
	}
}
