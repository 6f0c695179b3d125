package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/example/email-messenger/internal/app"
	"github.com/example/email-messenger/internal/config"
	"github.com/example/email-messenger/internal/kafka/consumer"
	"github.com/example/email-messenger/internal/kafka/producer"
	kafkapublisher "github.com/example/email-messenger/internal/kafka/publisher"
	"github.com/example/email-messenger/internal/logger"
	"github.com/example/email-messenger/internal/metrics"
	"github.com/example/email-messenger/internal/queue"
	"github.com/example/email-messenger/internal/queue/redisqueue"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fail("config load", err)
	}

	baseLogger, err := logger.New(cfg.App.Env, cfg.App.LogLevel)
	if err != nil {
		fail("logger init", err)
	}
	log := baseLogger.With().Str("service", "email-messenger").Logger()

	svc, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build processor")
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close payload store")
		}
	}()

	prod, err := producer.New(cfg.Kafka.Brokers, logger.Component(log, "kafka-producer"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	defer func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}()
	reporter := kafkapublisher.New(prod, cfg.Kafka.StatusTopic, cfg.Kafka.DLQTopic)

	var observer queue.Observer
	if cfg.Metrics.Enabled {
		recorder := metrics.NewRecorder(prometheus.DefaultRegisterer)
		if err := recorder.Register(); err != nil {
			log.Fatal().Err(err).Msg("failed to register metrics")
		}
		observer = recorder
		srv := serveMetrics(cfg, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	runner, err := queue.NewRunner(queue.ConfigFromQueue(cfg.Queue), queue.Dependencies{
		Processor: svc.Processor,
		Reporter:  reporter,
		Observer:  observer,
		Logger:    logger.Component(log, "queue-runner"),
		Now:       time.Now,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise queue runner")
	}

	errCh := make(chan error, 1)
	switch cfg.Queue.Backend {
	case config.QueueBackendRedis:
		client := redisqueue.NewClient(cfg.Redis)
		defer func() {
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close redis client")
			}
		}()
		source, err := redisqueue.New(client, cfg.Redis.QueueKey, time.Duration(cfg.Redis.PollTimeoutSeconds)*time.Second, logger.Component(log, "redis-queue"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create redis queue")
		}
		if n, err := source.Recover(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to recover in-flight items")
		} else if n > 0 {
			log.Info().Int("recovered", n).Msg("requeued items left in flight by a previous run")
		}
		go func() {
			errCh <- source.Run(ctx, runner.Handle)
		}()
		log.Info().Str("queue_key", cfg.Redis.QueueKey).Msg("email messenger started")
	default:
		cons, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, cfg.Kafka.CommitOnSuccessOnly, logger.Component(log, "kafka-consumer"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create kafka consumer")
		}
		defer func() {
			if err := cons.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close kafka consumer")
			}
		}()
		go func() {
			errCh <- cons.Consume(ctx, cfg.Kafka.WorkTopic, queue.KafkaHandler(runner))
		}()
		log.Info().Str("work_topic", cfg.Kafka.WorkTopic).Msg("email messenger started")
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("queue source terminated with error")
		}
		stop()
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := runner.Drain(drainCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight work items did not finish before shutdown")
	}
}

func serveMetrics(cfg *config.Config, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
	return srv
}

func fail(stage string, err error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger.Fatal().Err(err).Str("stage", stage).Msg("email messenger init failed")
}
