// Package publisher reports work-item lifecycle events and dead letters to
// Kafka topics.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/email-messenger/internal/models"
)

// ErrProducerNotInitialised is returned when a publisher has no producer.
var ErrProducerNotInitialised = errors.New("kafka publisher: producer not initialised")

// SyncProducer is the subset of the Kafka producer the publisher needs.
type SyncProducer interface {
	PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error
}

var jsonHeaders = map[string][]byte{"content-type": []byte("application/json")}

// Publisher writes status events and DLQ records, keyed by work item id so
// all events of one item land on one partition.
type Publisher struct {
	producer    SyncProducer
	statusTopic string
	dlqTopic    string
}

// New constructs a Publisher. Either topic may be empty to disable that
// stream.
func New(prod SyncProducer, statusTopic, dlqTopic string) *Publisher {
	return &Publisher{producer: prod, statusTopic: statusTopic, dlqTopic: dlqTopic}
}

// PublishStatus writes event to the status topic.
func (p *Publisher) PublishStatus(_ context.Context, event models.StatusEvent) error {
	return p.publish(p.statusTopic, event.WorkItemID, "status event", event)
}

// PublishDLQ writes record to the dead-letter topic.
func (p *Publisher) PublishDLQ(_ context.Context, record models.DLQRecord) error {
	return p.publish(p.dlqTopic, record.WorkItemID, "dlq record", record)
}

func (p *Publisher) publish(topic, key, kind string, v any) error {
	if p == nil || p.producer == nil {
		return ErrProducerNotInitialised
	}
	if topic == "" {
		return nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kafka publisher: marshal %s: %w", kind, err)
	}
	if err := p.producer.PublishSync(topic, []byte(key), jsonHeaders, payload); err != nil {
		return fmt.Errorf("kafka publisher: publish %s: %w", kind, err)
	}
	return nil
}
