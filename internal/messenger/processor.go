// Package messenger implements the per-item processing unit that delivers one
// outbound message referenced by a dequeued work item and records the result.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/email-messenger/internal/config"
	"github.com/example/email-messenger/internal/models"
)

// ConfigKeyMessageOutboxParam names the configured parameter slot that holds
// the message outbox identifier.
const ConfigKeyMessageOutboxParam = config.KeyMessageOutboxParam

// ConfigSource exposes integer configuration values by key.
type ConfigSource interface {
	Int(key string) (int, error)
}

// PayloadRepository loads and persists message payloads. FindFirst reports a
// missing payload through found=false rather than an error.
type PayloadRepository interface {
	FindFirst(ctx context.Context, id int) (payload *models.MessagePayload, found bool, err error)
	SaveExisting(ctx context.Context, payload *models.MessagePayload) error
}

// Sender performs one delivery attempt. false means the message was rejected
// or is undeliverable; an error means the attempt itself faulted.
type Sender interface {
	Send(ctx context.Context, payload *models.MessagePayload) (bool, error)
}

// AuditLog appends formatted entries to a work item's audit trail.
type AuditLog interface {
	AddInfo(ctx context.Context, item *models.WorkItem, format string, args ...any) error
	AddError(ctx context.Context, item *models.WorkItem, format string, args ...any) error
}

// Dependencies collects the collaborators required by the processor.
type Dependencies struct {
	Config   ConfigSource
	Payloads PayloadRepository
	Sender   Sender
	Audit    AuditLog
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Processor handles a single work item per Process call. It keeps no state
// between calls beyond its read-only collaborators and may be shared across
// goroutines.
type Processor struct {
	paramSlot int
	payloads  PayloadRepository
	sender    Sender
	audit     AuditLog
	logger    zerolog.Logger
	now       func() time.Time
}

// NewProcessor validates the dependencies and reads the parameter slot from
// configuration once.
func NewProcessor(deps Dependencies) (*Processor, error) {
	if deps.Config == nil {
		return nil, errors.New("messenger: config source dependency is required")
	}
	if deps.Payloads == nil {
		return nil, errors.New("messenger: payload repository dependency is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("messenger: sender dependency is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("messenger: audit log dependency is required")
	}

	slot, err := deps.Config.Int(ConfigKeyMessageOutboxParam)
	if err != nil {
		return nil, fmt.Errorf("messenger: read %s: %w", ConfigKeyMessageOutboxParam, err)
	}

	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Processor{
		paramSlot: slot,
		payloads:  deps.Payloads,
		sender:    deps.Sender,
		audit:     deps.Audit,
		logger:    logger.With().Str("component", "email_messenger").Logger(),
		now:       now,
	}, nil
}

// Process runs one pass over item and reports the outcome. Faults never
// escape; they are logged to both sinks and classified by the phase reached.
func (p *Processor) Process(ctx context.Context, item *models.WorkItem) models.Outcome {
	if item == nil {
		p.logger.Debug().Msg("messenger: work item is nil; cannot proceed with processing")
		return models.OutcomeError
	}

	reached, err := p.run(ctx, item)
	if err != nil {
		return p.fail(ctx, item, reached, err)
	}
	return models.OutcomeSuccess
}

func (p *Processor) run(ctx context.Context, item *models.WorkItem) (reached Phase, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("messenger: panic during processing: %v", r)
		}
	}()

	if err = p.audit.AddInfo(ctx, item, msgInitializing, item.ID); err != nil {
		return reached, err
	}

	req, err := DecodeSendRequest(item, p.paramSlot)
	if err != nil {
		return reached, err
	}
	reached = PhaseParametersRead

	if err = p.deliver(ctx, item, req); err != nil {
		return reached, err
	}
	reached = PhaseBusinessComplete

	err = p.audit.AddInfo(ctx, item, msgProcessingComplete)
	return reached, err
}

func (p *Processor) deliver(ctx context.Context, item *models.WorkItem, req SendRequest) error {
	payload, found, err := p.payloads.FindFirst(ctx, req.MessageOutboxID)
	if err != nil {
		return fmt.Errorf("messenger: find message %d: %w", req.MessageOutboxID, err)
	}
	if !found || payload == nil {
		return p.audit.AddInfo(ctx, item, msgContentNotFound, req.MessageOutboxID)
	}

	if payload.DeliveryStatus == models.DeliveryStatusSent {
		return fmt.Errorf("%w: message %d is already sent", models.ErrStatusTransition, payload.ID)
	}

	sent, err := p.sender.Send(ctx, payload)
	if err != nil {
		return fmt.Errorf("messenger: send message %d: %w", payload.ID, err)
	}

	if sent {
		if err := payload.MarkSent(p.now()); err != nil {
			return err
		}
		if err := p.audit.AddInfo(ctx, item, pickTemplate(payload.IsTracked, msgTrackedSent, msgDirectSent), payload.ID); err != nil {
			return err
		}
	} else {
		if err := payload.MarkFailed(); err != nil {
			return err
		}
		if err := p.audit.AddInfo(ctx, item, pickTemplate(payload.IsTracked, msgTrackedNotSent, msgDirectNotSent), payload.ID); err != nil {
			return err
		}
	}

	p.logger.Debug().
		Str("work_item_id", item.ID).
		Int("message_id", payload.ID).
		Bool("tracked", payload.IsTracked).
		Str("delivery_status", string(payload.DeliveryStatus)).
		Msg("messenger: dispatch finished")

	if err := p.payloads.SaveExisting(ctx, payload); err != nil {
		return fmt.Errorf("messenger: save message %d: %w", payload.ID, err)
	}
	return nil
}

func (p *Processor) fail(ctx context.Context, item *models.WorkItem, reached Phase, cause error) models.Outcome {
	outcome := reached.FaultOutcome()

	p.logger.Error().
		Str("work_item_id", item.ID).
		Str("phase", reached.String()).
		Str("outcome", outcome.String()).
		Err(cause).
		Msgf("messenger: exception occurred during the processing of work item %q", item.ID)

	if err := p.auditError(ctx, item, cause); err != nil {
		p.logger.Error().
			Str("work_item_id", item.ID).
			Err(err).
			Msg("messenger: failed to write error audit entry")
	}

	return outcome
}

func (p *Processor) auditError(ctx context.Context, item *models.WorkItem, cause error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("messenger: panic writing error audit entry: %v", r)
		}
	}()
	return p.audit.AddError(ctx, item, msgProcessingFailed, item.ID, cause.Error())
}

func pickTemplate(tracked bool, trackedMsg, directMsg string) string {
	if tracked {
		return trackedMsg
	}
	return directMsg
}
