package email

import (
	"context"
	"errors"
	"net"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	common "github.com/example/email-messenger/internal/adapters/common"
	"github.com/example/email-messenger/internal/models"
	emailprovider "github.com/example/email-messenger/internal/providers/email"
)

var smtpErrPattern = regexp.MustCompile(`smtp\s+(\d{3})`)

// Option customises adapter behaviour.
type Option func(*Adapter)

// WithRawBodyLimit overrides how many characters of the provider answer are
// kept on the response.
func WithRawBodyLimit(limit int) Option {
	return func(a *Adapter) {
		if limit > 0 {
			a.maxRawChars = limit
		}
	}
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithHeaders adds fixed headers to every outgoing message.
func WithHeaders(headers map[string]string) Option {
	return func(a *Adapter) {
		for k, v := range headers {
			a.headers[k] = v
		}
	}
}

// Adapter sends message payloads directly through an email provider and
// classifies the provider's answer.
type Adapter struct {
	logger      zerolog.Logger
	provider    emailprovider.Provider
	maxRawChars int
	timeout     time.Duration
	headers     map[string]string
}

// NewAdapter constructs an email adapter around provider.
func NewAdapter(provider emailprovider.Provider, logger zerolog.Logger, opts ...Option) (*Adapter, error) {
	if provider == nil {
		return nil, errors.New("email adapter: provider dependency is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	a := &Adapter{
		logger:      logger,
		provider:    provider,
		maxRawChars: common.DefaultRawBodyLimit,
		headers:     make(map[string]string),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Send delivers payload. Errors are wrapped with common.ErrPermanent when the
// provider refused the message for good and common.ErrTransient otherwise.
func (a *Adapter) Send(ctx context.Context, payload *models.MessagePayload) (*common.ProviderResponse, error) {
	if payload == nil {
		return nil, common.WrapPermanent(errors.New("email adapter: payload is nil"))
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	messageID := "outbox-" + strconv.Itoa(payload.ID)
	raw, err := a.provider.Send(ctx, a.buildPayload(messageID, payload))
	if err != nil {
		resp := a.errorResponse(raw, err)
		a.logger.Info().
			Int("message_id", payload.ID).
			Str("provider_status", resp.Status).
			Err(err).
			Msg("email adapter send failed")
		if resp.Status == "rejected" {
			return resp, common.WrapPermanent(err)
		}
		return resp, common.WrapTransient(err)
	}

	resp := a.successResponse(raw)
	a.logger.Debug().
		Int("message_id", payload.ID).
		Str("provider_status", resp.Status).
		Str("provider_id", resp.Meta["provider_id"]).
		Msg("email adapter send succeeded")
	return resp, nil
}

func (a *Adapter) buildPayload(messageID string, p *models.MessagePayload) *emailprovider.Payload {
	headers := make(map[string]string, len(a.headers)+1)
	for k, v := range a.headers {
		headers[k] = v
	}
	headers["Message-ID"] = messageID

	return &emailprovider.Payload{
		MessageID: messageID,
		From:      p.From,
		To:        append([]string(nil), p.To...),
		CC:        append([]string(nil), p.CC...),
		BCC:       append([]string(nil), p.BCC...),
		Subject:   p.Subject,
		BodyType:  p.BodyType,
		Body:      p.Body,
		Headers:   headers,
	}
}

func (a *Adapter) successResponse(raw *emailprovider.RawResponse) *common.ProviderResponse {
	resp := &common.ProviderResponse{Status: "ok", Message: "sent"}
	a.fill(resp, raw)
	return resp
}

func (a *Adapter) errorResponse(raw *emailprovider.RawResponse, err error) *common.ProviderResponse {
	resp := &common.ProviderResponse{Message: err.Error()}
	a.fill(resp, raw)
	if resp.Code == nil || *resp.Code == 0 {
		if code, ok := extractSMTPCode(err); ok {
			resp.Code = &code
		}
	}
	resp.Status = classifyStatus(err, resp.Code)
	return resp
}

func (a *Adapter) fill(resp *common.ProviderResponse, raw *emailprovider.RawResponse) {
	if raw == nil {
		return
	}
	code := raw.Code
	resp.Code = &code
	resp.Raw = common.TruncateRaw(raw.Body, a.maxRawChars)
	meta := make(map[string]string, 2)
	if raw.ID != "" {
		meta["provider_id"] = raw.ID
	}
	if !raw.Timestamp.IsZero() {
		meta["provider_timestamp"] = raw.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if len(meta) > 0 {
		resp.Meta = meta
	}
}

func classifyStatus(err error, code *int) string {
	if code != nil {
		switch {
		case isPermanentCode(*code):
			return "rejected"
		case *code >= 400:
			return "rate_limited"
		}
	}
	if isTimeout(err) {
		return "timeout"
	}
	return "unknown"
}

func extractSMTPCode(err error) (int, bool) {
	matches := smtpErrPattern.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0, false
	}
	code, convErr := strconv.Atoi(matches[1])
	if convErr != nil {
		return 0, false
	}
	return code, true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

// isPermanentCode lists the SMTP replies that mean the relay will never take
// this message as addressed.
func isPermanentCode(code int) bool {
	switch code {
	case 501, 530, 535, 550, 551, 552, 553, 554:
		return true
	default:
		return false
	}
}
