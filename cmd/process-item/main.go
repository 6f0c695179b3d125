package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/email-messenger/internal/app"
	"github.com/example/email-messenger/internal/config"
	"github.com/example/email-messenger/internal/models"
	"github.com/example/email-messenger/internal/queue/redisqueue"
)

// Local runs only need the payload store; the queue settings get harmless
// defaults so config.Load succeeds.
var localDefaults = map[string]string{
	"KAFKA_BROKERS":        "localhost:9092",
	"KAFKA_WORK_TOPIC":     "email-messenger.work",
	"KAFKA_STATUS_TOPIC":   "email-messenger.status",
	"KAFKA_DLQ_TOPIC":      "email-messenger.dlq",
	"KAFKA_CONSUMER_GROUP": "email-messenger",
}

func main() {
	outboxID := flag.Int("outbox-id", 0, "message outbox row to process")
	itemID := flag.String("work-item", "", "work item id for audit entries (default: random)")
	enqueue := flag.Bool("enqueue", false, "push the work item onto the redis queue instead of processing it here")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	if *outboxID <= 0 {
		logger.Fatal().Msg("-outbox-id must be a positive integer")
	}
	for key, value := range localDefaults {
		if _, ok := os.LookupEnv(key); ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			logger.Fatal().Err(err).Str("key", key).Msg("failed to set env value")
		}
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	id := *itemID
	if id == "" {
		id = uuid.NewString()
	}
	slot, err := cfg.Params.Int(config.KeyMessageOutboxParam)
	if err != nil {
		logger.Fatal().Err(err).Msg("message outbox parameter slot is not configured")
	}
	item := &models.WorkItem{
		ID:         id,
		Type:       "email",
		Parameters: models.Parameters{{Slot: slot, Name: "message_outbox_id", Value: strconv.Itoa(*outboxID)}},
		EnqueuedAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *enqueue {
		client := redisqueue.NewClient(cfg.Redis)
		defer client.Close()
		source, err := redisqueue.New(client, cfg.Redis.QueueKey, time.Second, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create redis queue")
		}
		if err := source.Enqueue(ctx, item); err != nil {
			logger.Fatal().Err(err).Msg("failed to enqueue work item")
		}
		logger.Info().Str("work_item_id", item.ID).Str("queue_key", cfg.Redis.QueueKey).Msg("work item enqueued")
		return
	}

	os.Exit(process(ctx, cfg, item, logger))
}

func process(ctx context.Context, cfg *config.Config, item *models.WorkItem, logger zerolog.Logger) int {
	svc, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build processor")
		return 1
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close payload store")
		}
	}()

	outcome := svc.Processor.Process(ctx, item)
	logger.Info().Str("work_item_id", item.ID).Str("outcome", outcome.String()).Msg("work item processed")

	entries, err := svc.Audit.Entries(ctx, item.ID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read audit trail")
		return 1
	}
	for _, e := range entries {
		fmt.Printf("%s  %-5s  %s\n", e.CreatedAt.Format(time.RFC3339), e.Level, e.Message)
	}
	if outcome != models.OutcomeSuccess {
		return 1
	}
	return 0
}
