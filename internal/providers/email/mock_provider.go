package email

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Scenario selects how the mock provider answers.
type Scenario string

const (
	ScenarioSuccess   Scenario = "success"
	ScenarioTransient Scenario = "transient"
	ScenarioPermanent Scenario = "permanent"
	ScenarioTimeout   Scenario = "timeout"

	// HeaderScenario overrides the scenario for a single payload.
	HeaderScenario = "X-Mock-Provider-Scenario"
)

// MockOption customizes the mock provider.
type MockOption func(*MockProvider)

// WithDefaultScenario sets the answer used when a payload carries no
// scenario header.
func WithDefaultScenario(s Scenario) MockOption {
	return func(p *MockProvider) {
		p.scenario = s
	}
}

// WithLatency makes every send wait for d before answering.
func WithLatency(d time.Duration) MockOption {
	return func(p *MockProvider) {
		if d > 0 {
			p.latency = d
		}
	}
}

// WithClock overrides the clock used for response timestamps.
func WithClock(now func() time.Time) MockOption {
	return func(p *MockProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// MockProvider answers sends locally without touching the network. It is the
// default backend for development and the one-shot tool.
type MockProvider struct {
	logger   zerolog.Logger
	scenario Scenario
	latency  time.Duration
	now      func() time.Time
	seq      atomic.Uint64
}

// NewMockProvider constructs a mock provider that succeeds by default.
func NewMockProvider(logger zerolog.Logger, opts ...MockOption) *MockProvider {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	p := &MockProvider{
		logger:   logger,
		scenario: ScenarioSuccess,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Send simulates a delivery according to the resolved scenario.
func (p *MockProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("mock provider: payload is required")
	}
	if len(payload.Recipients()) == 0 {
		return nil, errors.New("mock provider: at least one recipient is required")
	}
	if err := wait(ctx, p.latency); err != nil {
		return nil, err
	}

	scenario := p.resolve(payload)
	p.logger.Debug().
		Str("provider", "mock_smtp").
		Str("scenario", string(scenario)).
		Str("message_id", payload.MessageID).
		Msg("mock email provider invoked")

	switch scenario {
	case ScenarioPermanent:
		resp := p.respond(payload, 550, "mock: mailbox unavailable")
		return resp, fmt.Errorf("smtp %d: %s", resp.Code, resp.Body)
	case ScenarioTransient:
		resp := p.respond(payload, 451, "mock: requested action aborted, try again later")
		return resp, fmt.Errorf("smtp %d: %s", resp.Code, resp.Body)
	case ScenarioTimeout:
		return nil, context.DeadlineExceeded
	default:
		return p.respond(payload, 250, "mock: message queued"), nil
	}
}

func (p *MockProvider) resolve(payload *Payload) Scenario {
	for k, v := range payload.Headers {
		if strings.EqualFold(k, HeaderScenario) {
			switch s := Scenario(strings.ToLower(strings.TrimSpace(v))); s {
			case ScenarioPermanent, ScenarioTransient, ScenarioTimeout, ScenarioSuccess:
				return s
			}
		}
	}
	return p.scenario
}

func (p *MockProvider) respond(payload *Payload, code int, body string) *RawResponse {
	id := payload.MessageID
	if id == "" {
		id = fmt.Sprintf("mock-%08d", p.seq.Add(1))
	}
	return &RawResponse{ID: id, Code: code, Body: body, Timestamp: p.now()}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
