package email_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	emailprovider "github.com/example/email-messenger/internal/providers/email"
)

func samplePayload(headers map[string]string) *emailprovider.Payload {
	return &emailprovider.Payload{
		MessageID: "outbox-42",
		From:      "noreply@example.com",
		To:        []string{"user@example.com"},
		Headers:   headers,
	}
}

func TestMockProviderSuccess(t *testing.T) {
	fixed := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	provider := emailprovider.NewMockProvider(zerolog.Nop(), emailprovider.WithClock(func() time.Time { return fixed }))

	resp, err := provider.Send(context.Background(), samplePayload(nil))
	if err != nil {
		t.Fatalf("expected success, got error %v", err)
	}
	if resp.Code != 250 || resp.Body != "mock: message queued" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !resp.Timestamp.Equal(fixed) || resp.ID != "outbox-42" {
		t.Fatalf("expected fixed timestamp and message id, got %+v", resp)
	}
}

func TestMockProviderScenarios(t *testing.T) {
	provider := emailprovider.NewMockProvider(zerolog.Nop())

	cases := []struct {
		scenario emailprovider.Scenario
		code     int
	}{
		{emailprovider.ScenarioPermanent, 550},
		{emailprovider.ScenarioTransient, 451},
	}
	for _, tc := range cases {
		resp, err := provider.Send(context.Background(), samplePayload(map[string]string{
			"x-mock-provider-scenario": string(tc.scenario),
		}))
		if err == nil {
			t.Fatalf("%s: expected error", tc.scenario)
		}
		if resp == nil || resp.Code != tc.code {
			t.Fatalf("%s: expected code %d, got %+v", tc.scenario, tc.code, resp)
		}
		if !strings.Contains(err.Error(), "smtp ") {
			t.Fatalf("%s: expected smtp code in error, got %v", tc.scenario, err)
		}
	}

	if _, err := provider.Send(context.Background(), samplePayload(map[string]string{
		emailprovider.HeaderScenario: "timeout",
	})); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMockProviderDefaultScenario(t *testing.T) {
	provider := emailprovider.NewMockProvider(zerolog.Nop(), emailprovider.WithDefaultScenario(emailprovider.ScenarioPermanent))
	if _, err := provider.Send(context.Background(), samplePayload(nil)); err == nil {
		t.Fatalf("expected default permanent scenario to fail")
	}
}

func TestMockProviderRequiresRecipients(t *testing.T) {
	provider := emailprovider.NewMockProvider(zerolog.Nop())
	if _, err := provider.Send(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil payload")
	}
	if _, err := provider.Send(context.Background(), &emailprovider.Payload{MessageID: "x"}); err == nil {
		t.Fatalf("expected error without recipients")
	}
}

func TestMockProviderHonoursContext(t *testing.T) {
	provider := emailprovider.NewMockProvider(zerolog.Nop(), emailprovider.WithLatency(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := provider.Send(ctx, samplePayload(nil)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
