package queue

import (
	"context"

	"github.com/example/email-messenger/internal/kafka/consumer"
)

// KafkaHandler adapts the runner to the Kafka consumer. Offsets advance only
// when the runner commits the delivery.
func KafkaHandler(r *Runner) consumer.Handler {
	return func(ctx context.Context, rec *consumer.Record) error {
		if rec == nil {
			return nil
		}
		d := NewDelivery("kafka", rec.Key, rec.Value, rec.Timestamp, func(context.Context) error {
			return rec.Commit()
		})
		return r.Handle(ctx, d)
	}
}
