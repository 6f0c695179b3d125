package models

import (
	"errors"
	"fmt"
	"time"
)

// DeliveryStatus tracks an outbound message through its delivery lifecycle.
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusError   DeliveryStatus = "error"
)

// Body types accepted for message payloads.
const (
	BodyTypeText = "text"
	BodyTypeHTML = "html"
)

// ErrStatusTransition is returned when a payload is asked to leave the Sent
// state.
var ErrStatusTransition = errors.New("invalid delivery status transition")

// MessagePayload is one outbound message awaiting delivery. The payload store
// owns its lifecycle; the messenger only mutates the delivery fields.
type MessagePayload struct {
	ID             int            `json:"id"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	IsTracked      bool           `json:"is_tracked"`
	From           string         `json:"from"`
	To             []string       `json:"to"`
	CC             []string       `json:"cc,omitempty"`
	BCC            []string       `json:"bcc,omitempty"`
	Subject        string         `json:"subject"`
	BodyType       string         `json:"body_type,omitempty"`
	Body           string         `json:"body"`
	CreatedAt      time.Time      `json:"created_at"`
	SentAt         *time.Time     `json:"sent_at,omitempty"`
	ModifiedAt     *time.Time     `json:"modified_at,omitempty"`
}

// MarkSent records a successful dispatch at now. It is allowed from Pending
// and from Error, so a re-queued item can deliver a previously rejected
// message; Sent is terminal.
func (m *MessagePayload) MarkSent(now time.Time) error {
	if m.DeliveryStatus == DeliveryStatusSent {
		return fmt.Errorf("%w: message %d is already sent", ErrStatusTransition, m.ID)
	}
	sentAt := now
	modifiedAt := now
	m.DeliveryStatus = DeliveryStatusSent
	m.SentAt = &sentAt
	m.ModifiedAt = &modifiedAt
	return nil
}

// MarkFailed records a rejected dispatch from Pending or Error. Timestamps are
// left untouched.
func (m *MessagePayload) MarkFailed() error {
	if m.DeliveryStatus == DeliveryStatusSent {
		return fmt.Errorf("%w: message %d cannot move from sent to error", ErrStatusTransition, m.ID)
	}
	m.DeliveryStatus = DeliveryStatusError
	return nil
}
