// Package redisqueue uses a Redis list as the work queue. Items are moved to
// a processing list while in flight and removed from it on commit, so a crash
// leaves them recoverable.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/example/email-messenger/internal/config"
	"github.com/example/email-messenger/internal/models"
	"github.com/example/email-messenger/internal/queue"
)

// Handler receives each dequeued delivery.
type Handler func(ctx context.Context, d *queue.Delivery) error

// Source pops work items from a Redis list.
type Source struct {
	client      redis.UniversalClient
	key         string
	processing  string
	pollTimeout time.Duration
	logger      zerolog.Logger
	now         func() time.Time
}

// NewClient builds a Redis client from configuration.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// New wraps client. key names the pending list; its processing list is
// key + ":processing".
func New(client redis.UniversalClient, key string, pollTimeout time.Duration, logger zerolog.Logger) (*Source, error) {
	if client == nil {
		return nil, errors.New("redisqueue: client is required")
	}
	if key == "" {
		return nil, errors.New("redisqueue: queue key is required")
	}
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Second
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Source{
		client:      client,
		key:         key,
		processing:  key + ":processing",
		pollTimeout: pollTimeout,
		logger:      logger.With().Str("component", "redis_queue").Str("queue", key).Logger(),
		now:         time.Now,
	}, nil
}

// Enqueue appends item to the tail of the pending list.
func (s *Source) Enqueue(ctx context.Context, item *models.WorkItem) error {
	if item == nil {
		return errors.New("redisqueue: work item is nil")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("redisqueue: encode work item: %w", err)
	}
	if err := s.client.RPush(ctx, s.key, data).Err(); err != nil {
		return fmt.Errorf("redisqueue: push: %w", err)
	}
	return nil
}

// Recover moves items stranded in the processing list by a previous run back
// to the head of the pending list and reports how many were moved.
func (s *Source) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := s.client.LMove(ctx, s.processing, s.key, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("redisqueue: recover: %w", err)
		}
		moved++
	}
}

// Run blocks, handing each item to handle, until ctx ends.
func (s *Source) Run(ctx context.Context, handle Handler) error {
	if handle == nil {
		return errors.New("redisqueue: handler is required")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, err := s.client.BLMove(ctx, s.key, s.processing, "LEFT", "RIGHT", s.pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error().Err(err).Msg("redisqueue: pop failed")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		d := queue.NewDelivery("redis", nil, []byte(raw), s.now(), func(c context.Context) error {
			return s.client.LRem(context.WithoutCancel(c), s.processing, 1, raw).Err()
		})
		if err := handle(ctx, d); err != nil {
			s.logger.Error().Err(err).Msg("redisqueue: handler error")
		}
	}
}
