package models

import "time"

// AuditLevel classifies an audit entry written against a work item.
type AuditLevel string

const (
	AuditLevelInfo  AuditLevel = "info"
	AuditLevelError AuditLevel = "error"
)

// AuditEntry is an append-only log line attached to a work item.
type AuditEntry struct {
	ID         string     `json:"id"`
	WorkItemID string     `json:"work_item_id"`
	Level      AuditLevel `json:"level"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
}
