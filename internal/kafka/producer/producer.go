// Package producer publishes records to Kafka with acknowledged, idempotent
// writes.
package producer

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const metadataRefreshInterval = 30 * time.Second

// Producer wraps a sarama sync producer and tracks broker reachability.
type Producer struct {
	logger zerolog.Logger
	client sarama.Client
	sync   sarama.SyncProducer
	ready  atomic.Bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New connects to brokers and starts a background metadata refresher that
// drives IsReady.
func New(brokers []string, logger zerolog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "email-messenger-producer"
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Retry.Max = 6
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Metadata.RefreshFrequency = metadataRefreshInterval

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}
	sp, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}

	p := newProducer(sp, logger)
	p.client = client
	p.ready.Store(client.RefreshMetadata() == nil)
	p.wg.Add(1)
	go p.watchMetadata()
	return p, nil
}

// NewWithSyncProducer wraps an existing sync producer. No metadata watcher is
// started; readiness follows publish results.
func NewWithSyncProducer(sp sarama.SyncProducer, logger zerolog.Logger) *Producer {
	p := newProducer(sp, logger)
	p.ready.Store(true)
	return p
}

func newProducer(sp sarama.SyncProducer, logger zerolog.Logger) *Producer {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Producer{
		logger: logger.With().Str("component", "kafka_producer").Logger(),
		sync:   sp,
		stop:   make(chan struct{}),
	}
}

// PublishSync writes one record and waits for all in-sync replicas to
// acknowledge it.
func (p *Producer) PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error {
	if topic == "" {
		return errors.New("kafka producer: topic is required")
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(payload),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}
	for k, v := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(k), Value: v})
	}

	if _, _, err := p.sync.SendMessage(msg); err != nil {
		p.ready.Store(false)
		return fmt.Errorf("kafka producer: send sync: %w", err)
	}
	p.ready.Store(true)
	return nil
}

// IsReady reports whether the last metadata refresh or publish succeeded.
func (p *Producer) IsReady() bool {
	return p.ready.Load()
}

// Close stops the watcher and releases the producer and client.
func (p *Producer) Close() error {
	close(p.stop)
	p.wg.Wait()

	errs := []error{p.sync.Close()}
	if p.client != nil {
		errs = append(errs, p.client.Close())
	}
	return errors.Join(errs...)
}

func (p *Producer) watchMetadata() {
	defer p.wg.Done()
	ticker := time.NewTicker(metadataRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			err := p.client.RefreshMetadata()
			if err != nil {
				p.logger.Error().Err(err).Msg("kafka producer: metadata refresh failed")
			}
			p.ready.Store(err == nil)
		}
	}
}
