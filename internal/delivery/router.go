// Package delivery decides how a message payload leaves the system: tracked
// payloads are scheduled with the email tracker tool, the rest are sent
// directly through the email adapter.
package delivery

import (
	"context"
	"errors"
	"reflect"

	"github.com/rs/zerolog"

	common "github.com/example/email-messenger/internal/adapters/common"
	"github.com/example/email-messenger/internal/models"
)

// Scheduler accepts tracked payloads on behalf of the tracker tool.
type Scheduler interface {
	Schedule(ctx context.Context, payload *models.MessagePayload) (string, error)
}

// Dependencies collects the collaborators of a Router. Tracker may be nil when
// no tracker queue is configured.
type Dependencies struct {
	Direct    common.Adapter
	Tracker   Scheduler
	Validator *Validator
	Logger    zerolog.Logger
}

// Router performs one delivery attempt per Send.
type Router struct {
	direct    common.Adapter
	tracker   Scheduler
	validator *Validator
	logger    zerolog.Logger
}

// NewRouter validates deps and builds a Router.
func NewRouter(deps Dependencies) (*Router, error) {
	if deps.Direct == nil {
		return nil, errors.New("delivery: direct adapter dependency is required")
	}
	validator := deps.Validator
	if validator == nil {
		validator = NewValidator(Limits{})
	}
	logger := deps.Logger
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	return &Router{
		direct:    deps.Direct,
		tracker:   deps.Tracker,
		validator: validator,
		logger:    logger.With().Str("component", "delivery_router").Logger(),
	}, nil
}

// Send reports true when the message was accepted for delivery. Rejections
// that a retry cannot fix (invalid payload, permanent provider refusal, no
// tracker configured) yield false. Any other failure is returned as an error.
func (r *Router) Send(ctx context.Context, payload *models.MessagePayload) (bool, error) {
	if payload == nil {
		return false, errors.New("delivery: payload is nil")
	}

	normalized, err := r.validator.Validate(payload)
	if err != nil {
		r.reject(payload, "payload failed validation", err)
		return false, nil
	}

	if payload.IsTracked {
		if r.tracker == nil {
			r.reject(payload, "tracked message but no tracker is configured", nil)
			return false, nil
		}
		if _, err := r.tracker.Schedule(ctx, normalized); err != nil {
			return r.classify(payload, err)
		}
		return true, nil
	}

	resp, err := r.direct.Send(ctx, normalized)
	if err != nil {
		return r.classify(payload, err)
	}
	return resp.Accepted(), nil
}

func (r *Router) classify(payload *models.MessagePayload, err error) (bool, error) {
	if common.IsPermanent(err) {
		r.reject(payload, "delivery permanently refused", err)
		return false, nil
	}
	return false, err
}

func (r *Router) reject(payload *models.MessagePayload, reason string, err error) {
	r.logger.Warn().
		Int("message_id", payload.ID).
		Bool("tracked", payload.IsTracked).
		Err(err).
		Msgf("delivery: %s", reason)
}
