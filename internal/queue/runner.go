// Package queue pulls work items from a queue backend and drives them through
// the processor, re-invoking it while the outcome is retryable and reporting
// every item's fate.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/example/email-messenger/internal/config"
	"github.com/example/email-messenger/internal/models"
)

// Config holds the runner's limits and retry policy.
type Config struct {
	MsgMaxBytes int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Concurrency int
}

// ConfigFromQueue converts the queue section of the service configuration.
func ConfigFromQueue(q config.QueueConfig) Config {
	return Config{
		MsgMaxBytes: q.MsgMaxBytes,
		MaxAttempts: q.MaxAttempts,
		BaseBackoff: time.Duration(q.BaseBackoffSeconds) * time.Second,
		MaxBackoff:  time.Duration(q.MaxBackoffSeconds) * time.Second,
		Concurrency: q.WorkerConcurrency,
	}
}

// Processor handles one work item per call.
type Processor interface {
	Process(ctx context.Context, item *models.WorkItem) models.Outcome
}

// Reporter publishes lifecycle events and dead letters.
type Reporter interface {
	PublishStatus(ctx context.Context, event models.StatusEvent) error
	PublishDLQ(ctx context.Context, record models.DLQRecord) error
}

// Observer receives per-attempt and per-item measurements.
type Observer interface {
	ObserveAttempt(outcome models.Outcome, d time.Duration)
	ObserveFinal(outcome models.Outcome, attempts int)
}

// Delivery is one raw entry taken from a queue backend.
type Delivery struct {
	Source     string
	Key        []byte
	Value      []byte
	ReceivedAt time.Time

	commit func(context.Context) error
}

// NewDelivery builds a delivery whose Commit calls commit.
func NewDelivery(source string, key, value []byte, receivedAt time.Time, commit func(context.Context) error) *Delivery {
	return &Delivery{Source: source, Key: key, Value: value, ReceivedAt: receivedAt, commit: commit}
}

// Commit acknowledges the delivery to its backend.
func (d *Delivery) Commit(ctx context.Context) error {
	if d.commit == nil {
		return nil
	}
	return d.commit(ctx)
}

// Dependencies collects the runner's collaborators. Observer may be nil.
type Dependencies struct {
	Processor Processor
	Reporter  Reporter
	Observer  Observer
	Logger    zerolog.Logger
	Now       func() time.Time
}

// Runner dispatches deliveries to the processor with bounded concurrency.
type Runner struct {
	cfg       Config
	processor Processor
	reporter  Reporter
	observer  Observer
	logger    zerolog.Logger
	now       func() time.Time
	sem       *semaphore.Weighted

	randMu sync.Mutex
	rnd    *rand.Rand
}

// NewRunner validates cfg and deps.
func NewRunner(cfg Config, deps Dependencies) (*Runner, error) {
	if cfg.MaxAttempts < 1 {
		return nil, errors.New("queue: max attempts must be >= 1")
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("queue: concurrency must be >= 1")
	}
	if cfg.MsgMaxBytes < 0 {
		return nil, errors.New("queue: msg max bytes cannot be negative")
	}
	if deps.Processor == nil {
		return nil, errors.New("queue: processor dependency is required")
	}
	if deps.Reporter == nil {
		return nil, errors.New("queue: reporter dependency is required")
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Runner{
		cfg:       cfg,
		processor: deps.Processor,
		reporter:  deps.Reporter,
		observer:  observer,
		logger:    logger.With().Str("component", "queue_runner").Logger(),
		now:       now,
		sem:       semaphore.NewWeighted(int64(cfg.Concurrency)),
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only.
	}, nil
}

// Handle decodes d and starts processing it on a worker goroutine. It blocks
// while all workers are busy. Records that cannot be decoded are reported,
// dead-lettered and committed without reaching the processor.
func (r *Runner) Handle(ctx context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}

	item, err := r.decode(d)
	if err != nil {
		now := r.now()
		id := string(d.Key)
		r.logger.Warn().
			Str("source", d.Source).
			Str("work_item_id", id).
			Err(err).
			Msg("queue: record discarded")
		r.publishStatus(ctx, models.StatusEvent{WorkItemID: id, EventType: models.StatusEventFailed, Outcome: models.OutcomeError, Error: err.Error(), Timestamp: now})
		r.publishDLQ(ctx, models.DLQRecord{WorkItemID: id, OriginalItem: string(d.Value), Outcome: models.OutcomeError, LastError: err.Error(), FirstFailedAt: now, LastAttemptAt: now})
		r.commit(ctx, d, id)
		return nil
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("queue: acquire worker slot: %w", err)
	}
	go func() {
		defer r.sem.Release(1)
		r.process(ctx, d, item)
	}()
	return nil
}

// Drain waits until every in-flight item has finished or ctx ends.
func (r *Runner) Drain(ctx context.Context) error {
	if err := r.sem.Acquire(ctx, int64(r.cfg.Concurrency)); err != nil {
		return err
	}
	r.sem.Release(int64(r.cfg.Concurrency))
	return nil
}

func (r *Runner) decode(d *Delivery) (*models.WorkItem, error) {
	if r.cfg.MsgMaxBytes > 0 && len(d.Value) > r.cfg.MsgMaxBytes {
		return nil, fmt.Errorf("payload exceeds maximum size: got %d bytes, limit %d bytes", len(d.Value), r.cfg.MsgMaxBytes)
	}
	var item models.WorkItem
	if err := json.Unmarshal(d.Value, &item); err != nil {
		return nil, fmt.Errorf("decode work item: %w", err)
	}
	if item.ID == "" {
		item.ID = string(d.Key)
	}
	if item.ID == "" {
		return nil, errors.New("work item has no id")
	}
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = d.ReceivedAt
	}
	return &item, nil
}

// process runs item to a final outcome. Attempts, reports and the commit run
// detached from ctx; ctx is only consulted before scheduling another attempt.
func (r *Runner) process(ctx context.Context, d *Delivery, item *models.WorkItem) {
	log := r.logger.With().Str("work_item_id", item.ID).Str("source", d.Source).Logger()
	work := context.WithoutCancel(ctx)
	r.publishStatus(work, models.StatusEvent{WorkItemID: item.ID, EventType: models.StatusEventReceived})

	var firstFailedAt time.Time
	for attempt := 1; ; attempt++ {
		r.publishStatus(work, models.StatusEvent{WorkItemID: item.ID, EventType: models.StatusEventAttempt, Attempt: attempt})

		start := r.now()
		outcome := r.processor.Process(work, item)
		duration := r.now().Sub(start)
		r.observer.ObserveAttempt(outcome, duration)

		if outcome == models.OutcomeSuccess {
			log.Info().Int("attempt", attempt).Dur("duration", duration).Msg("queue: work item processed")
			r.publishStatus(work, models.StatusEvent{WorkItemID: item.ID, EventType: models.StatusEventCompleted, Attempt: attempt, Outcome: outcome, Duration: duration.Milliseconds()})
			r.observer.ObserveFinal(outcome, attempt)
			r.commit(work, d, item.ID)
			return
		}

		now := r.now()
		if firstFailedAt.IsZero() {
			firstFailedAt = now
		}

		if !outcome.Retryable() || attempt >= r.cfg.MaxAttempts {
			log.Warn().Int("attempt", attempt).Str("outcome", outcome.String()).Msg("queue: giving up on work item")
			r.publishStatus(work, models.StatusEvent{WorkItemID: item.ID, EventType: models.StatusEventFailed, Attempt: attempt, Outcome: outcome, Duration: duration.Milliseconds(), Timestamp: now})
			r.publishDLQ(work, models.DLQRecord{WorkItemID: item.ID, OriginalItem: item, Attempts: attempt, Outcome: outcome, FirstFailedAt: firstFailedAt, LastAttemptAt: now})
			r.publishStatus(work, models.StatusEvent{WorkItemID: item.ID, EventType: models.StatusEventDLQ, Attempt: attempt, Outcome: outcome})
			r.observer.ObserveFinal(outcome, attempt)
			r.commit(work, d, item.ID)
			return
		}

		if ctx.Err() != nil {
			log.Warn().Int("attempt", attempt).Str("outcome", outcome.String()).Msg("queue: shutting down before retry; leaving item uncommitted for redelivery")
			return
		}

		backoff := r.backoff(attempt)
		log.Info().Int("attempt", attempt).Dur("backoff", backoff).Msg("queue: retrying work item")
		if !wait(ctx, backoff) {
			log.Warn().Int("attempt", attempt).Msg("queue: shutting down during backoff; leaving item uncommitted")
			return
		}
	}
}

// backoff is exponential in attempt, capped at MaxBackoff, with full jitter.
func (r *Runner) backoff(attempt int) time.Duration {
	if r.cfg.BaseBackoff <= 0 {
		return 0
	}
	exp := float64(r.cfg.BaseBackoff) * math.Pow(2, float64(attempt-1))
	ceiling := time.Duration(math.MaxInt64 - 1)
	if exp < float64(ceiling) {
		ceiling = time.Duration(exp)
	}
	if r.cfg.MaxBackoff > 0 && ceiling > r.cfg.MaxBackoff {
		ceiling = r.cfg.MaxBackoff
	}
	r.randMu.Lock()
	defer r.randMu.Unlock()
	return time.Duration(r.rnd.Int63n(int64(ceiling) + 1))
}

func wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (r *Runner) publishStatus(ctx context.Context, event models.StatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if err := r.reporter.PublishStatus(ctx, event); err != nil {
		r.logger.Error().
			Str("work_item_id", event.WorkItemID).
			Str("event", event.EventType).
			Err(err).
			Msg("queue: failed to publish status event")
	}
}

func (r *Runner) publishDLQ(ctx context.Context, record models.DLQRecord) {
	if err := r.reporter.PublishDLQ(ctx, record); err != nil {
		r.logger.Error().
			Str("work_item_id", record.WorkItemID).
			Err(err).
			Msg("queue: failed to publish dlq record")
	}
}

func (r *Runner) commit(ctx context.Context, d *Delivery, id string) {
	if err := d.Commit(ctx); err != nil {
		r.logger.Error().
			Str("source", d.Source).
			Str("work_item_id", id).
			Err(err).
			Msg("queue: failed to commit delivery")
	}
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(models.Outcome, time.Duration) {}
func (nopObserver) ObserveFinal(models.Outcome, int)            {}
