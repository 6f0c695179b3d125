package models

import "time"

// Status event constants.
const (
	StatusEventReceived  = "received"
	StatusEventAttempt   = "attempt"
	StatusEventCompleted = "completed"
	StatusEventFailed    = "failed"
	StatusEventDLQ       = "dlq"
)

// StatusEvent represents a lifecycle update emitted by the queue runner for a
// work item.
type StatusEvent struct {
	WorkItemID string    `json:"work_item_id"`
	EventType  string    `json:"event_type"`
	Attempt    int       `json:"attempt,omitempty"`
	Outcome    Outcome   `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	Duration   int64     `json:"duration_ms,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// DLQRecord is published when a work item is given up on.
type DLQRecord struct {
	WorkItemID    string            `json:"work_item_id"`
	OriginalItem  any               `json:"original_item"`
	Attempts      int               `json:"attempts"`
	Outcome       Outcome           `json:"outcome"`
	LastError     string            `json:"last_error,omitempty"`
	FirstFailedAt time.Time         `json:"first_failed_at"`
	LastAttemptAt time.Time         `json:"last_attempt_at"`
	Meta          map[string]string `json:"meta,omitempty"`
}
