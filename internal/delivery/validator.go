package delivery

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/email-messenger/internal/config"
	"github.com/example/email-messenger/internal/models"
	"github.com/example/email-messenger/internal/util"
)

// ErrInvalidPayload marks a payload that cannot be delivered as stored.
var ErrInvalidPayload = errors.New("invalid message payload")

// Limits bounds what a payload may carry.
type Limits struct {
	RecipientsMax int
	SubjectMaxLen int
	BodyMaxBytes  int
}

// LimitsFromConfig extracts delivery limits from provider configuration.
func LimitsFromConfig(cfg config.ProviderConfig) Limits {
	return Limits{
		RecipientsMax: cfg.RecipientsMax,
		SubjectMaxLen: cfg.SubjectMaxLen,
		BodyMaxBytes:  cfg.BodyMaxBytes,
	}
}

// Validator checks a stored payload before dispatch.
type Validator struct {
	limits Limits
}

// NewValidator constructs a Validator enforcing limits.
func NewValidator(limits Limits) *Validator {
	return &Validator{limits: limits}
}

// Validate returns a normalized copy of p ready for dispatch. The stored
// payload is left untouched.
func (v *Validator) Validate(p *models.MessagePayload) (*models.MessagePayload, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: payload is nil", ErrInvalidPayload)
	}
	out := *p

	var err error
	if out.From, err = util.NormalizeEmail(p.From); err != nil {
		return nil, fmt.Errorf("%w: from: %v", ErrInvalidPayload, err)
	}
	if out.To, err = util.NormalizeEmails(p.To, 1, v.limits.RecipientsMax); err != nil {
		return nil, fmt.Errorf("%w: to: %v", ErrInvalidPayload, err)
	}
	if out.CC, err = util.NormalizeEmails(p.CC, 0, v.limits.RecipientsMax); err != nil {
		return nil, fmt.Errorf("%w: cc: %v", ErrInvalidPayload, err)
	}
	if out.BCC, err = util.NormalizeEmails(p.BCC, 0, v.limits.RecipientsMax); err != nil {
		return nil, fmt.Errorf("%w: bcc: %v", ErrInvalidPayload, err)
	}
	if err := util.EnsureMaxRunes("subject", p.Subject, v.limits.SubjectMaxLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := util.EnsureMaxBytes("body", p.Body, v.limits.BodyMaxBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	out.BodyType = strings.ToLower(strings.TrimSpace(p.BodyType))
	if out.BodyType == "" {
		out.BodyType = models.BodyTypeText
	}
	if out.BodyType != models.BodyTypeText && out.BodyType != models.BodyTypeHTML {
		return nil, fmt.Errorf("%w: unsupported body type %q", ErrInvalidPayload, p.BodyType)
	}
	return &out, nil
}
