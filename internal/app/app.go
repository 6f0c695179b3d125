// Package app assembles the messenger's processing chain from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	emailadapter "github.com/example/email-messenger/internal/adapters/email"
	"github.com/example/email-messenger/internal/config"
	"github.com/example/email-messenger/internal/delivery"
	"github.com/example/email-messenger/internal/logger"
	"github.com/example/email-messenger/internal/messenger"
	"github.com/example/email-messenger/internal/providers/factory"
	"github.com/example/email-messenger/internal/store/postgres"
	"github.com/example/email-messenger/internal/tracker"
)

// Services holds the wired processor and the stores behind it.
type Services struct {
	DB        *gorm.DB
	Payloads  *postgres.PayloadRepository
	Audit     *postgres.AuditLog
	Processor *messenger.Processor
}

// Build connects to the payload store, migrates it and wires the delivery
// chain. Close must be called on the result.
func Build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Services, error) {
	db, err := postgres.Connect(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	svc := &Services{DB: db}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.Payloads = postgres.NewPayloadRepository(db)
	svc.Audit = postgres.NewAuditLog(db, time.Now)

	provider, err := factory.Email(cfg.Providers, logger.Component(log, "email-provider"))
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	opts := []emailadapter.Option{emailadapter.WithRawBodyLimit(cfg.Providers.RawBodyLimit)}
	if cfg.Providers.ProviderTimeoutSeconds > 0 {
		opts = append(opts, emailadapter.WithTimeout(time.Duration(cfg.Providers.ProviderTimeoutSeconds)*time.Second))
	}
	adapter, err := emailadapter.NewAdapter(provider, logger.Component(log, "email-adapter"), opts...)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	deps := delivery.Dependencies{
		Direct:    adapter,
		Validator: delivery.NewValidator(delivery.LimitsFromConfig(cfg.Providers)),
		Logger:    logger.Component(log, "delivery-router"),
	}
	if cfg.Tracker.QueueURL != "" {
		sched, err := tracker.NewFromConfig(ctx, cfg.Tracker, logger.Component(log, "tracker"))
		if err != nil {
			_ = svc.Close()
			return nil, err
		}
		deps.Tracker = sched
	} else {
		log.Warn().Msg("app: TRACKER_QUEUE_URL not set; tracked payloads will not be sent")
	}
	router, err := delivery.NewRouter(deps)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	svc.Processor, err = messenger.NewProcessor(messenger.Dependencies{
		Config:   cfg.Params,
		Payloads: svc.Payloads,
		Sender:   router,
		Audit:    svc.Audit,
		Logger:   logger.Component(log, "processor"),
		Now:      time.Now,
	})
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("app: build processor: %w", err)
	}
	return svc, nil
}

// Close releases the database connection.
func (s *Services) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return postgres.Close(s.DB)
}
