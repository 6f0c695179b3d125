// Package consumer reads work items from a Kafka topic through a sarama
// consumer group.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const rejoinBackoff = time.Second

// Handler is invoked for every record. Returned errors are logged; the record
// is only committed through Record.Commit.
type Handler func(ctx context.Context, record *Record) error

// Record is one Kafka message delivered to a Handler.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
	Headers   map[string][]byte

	session   sarama.ConsumerGroupSession
	message   *sarama.ConsumerMessage
	flush     bool
	committed atomic.Bool
}

// Commit marks the record's offset. With commit-on-success the offset is
// flushed to the broker immediately. Calling Commit twice is a no-op.
func (r *Record) Commit() error {
	if r.session == nil || r.message == nil {
		return errors.New("kafka consumer: record missing session data")
	}
	if !r.committed.CompareAndSwap(false, true) {
		return nil
	}
	r.session.MarkMessage(r.message, "")
	if r.flush {
		r.session.Commit()
	}
	return nil
}

// Consumer wraps a sarama consumer group subscribed to one work topic.
type Consumer struct {
	logger          zerolog.Logger
	group           sarama.ConsumerGroup
	groupID         string
	commitOnSuccess bool
	ready           atomic.Bool
	errorsDone      chan struct{}
	wg              sync.WaitGroup
}

// New joins groupID on brokers. When commitOnSuccessOnly is set auto-commit
// is disabled and offsets move only through Record.Commit.
func New(brokers []string, groupID string, commitOnSuccessOnly bool, logger zerolog.Logger) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka consumer: at least one broker is required")
	}
	if groupID == "" {
		return nil, errors.New("kafka consumer: group id is required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "email-messenger-consumer"
	cfg.Consumer.Group.Session.Timeout = 30 * time.Second
	cfg.Consumer.Group.Heartbeat.Interval = 3 * time.Second
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Offsets.AutoCommit.Enable = !commitOnSuccessOnly
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: create consumer group: %w", err)
	}
	return NewWithGroup(group, groupID, commitOnSuccessOnly, logger), nil
}

// NewWithGroup wraps an existing consumer group.
func NewWithGroup(group sarama.ConsumerGroup, groupID string, commitOnSuccessOnly bool, logger zerolog.Logger) *Consumer {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	c := &Consumer{
		logger:          logger.With().Str("component", "kafka_consumer").Str("group_id", groupID).Logger(),
		group:           group,
		groupID:         groupID,
		commitOnSuccess: commitOnSuccessOnly,
		errorsDone:      make(chan struct{}),
	}
	go c.drainErrors()
	return c
}

// Consume blocks, feeding records from topic to handler, until ctx ends or
// the group is closed. Rebalances rejoin automatically.
func (c *Consumer) Consume(ctx context.Context, topic string, handler Handler) error {
	if topic == "" {
		return errors.New("kafka consumer: topic is required")
	}
	if handler == nil {
		return errors.New("kafka consumer: handler is required")
	}

	c.wg.Add(1)
	defer c.wg.Done()

	gh := &groupHandler{consumer: c, handler: handler}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.group.Consume(ctx, []string{topic}, gh)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case err != nil:
			c.logger.Error().Err(err).Msg("kafka consumer: consume error")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rejoinBackoff):
			}
		}
	}
}

// IsReady reports whether the consumer currently holds partition claims.
func (c *Consumer) IsReady() bool {
	return c.ready.Load()
}

// Close leaves the group and waits for Consume to return.
func (c *Consumer) Close() error {
	err := c.group.Close()
	c.wg.Wait()
	<-c.errorsDone
	return err
}

func (c *Consumer) drainErrors() {
	defer close(c.errorsDone)
	for err := range c.group.Errors() {
		if err != nil {
			c.logger.Error().Err(err).Msg("kafka consumer: group error")
		}
	}
}

type groupHandler struct {
	consumer *Consumer
	handler  Handler
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(true)
	h.consumer.logger.Info().Msg("kafka consumer: group ready")
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.consumer.ready.Store(false)
	h.consumer.logger.Info().Msg("kafka consumer: group cleanup")
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		record := &Record{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Timestamp: msg.Timestamp,
			Headers:   headerMap(msg.Headers),
			session:   session,
			message:   msg,
			flush:     h.consumer.commitOnSuccess,
		}
		if err := h.handler(session.Context(), record); err != nil {
			h.consumer.logger.Error().
				Err(err).
				Str("topic", msg.Topic).
				Int32("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("kafka consumer: handler error")
		}
	}
	return nil
}

func headerMap(headers []*sarama.RecordHeader) map[string][]byte {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string][]byte, len(headers))
	for _, h := range headers {
		if h != nil && len(h.Key) > 0 {
			out[string(h.Key)] = h.Value
		}
	}
	return out
}
