package delivery

import (
	"errors"
	"strings"
	"testing"

	"github.com/example/email-messenger/internal/config"
	"github.com/example/email-messenger/internal/models"
)

func validPayload() *models.MessagePayload {
	return &models.MessagePayload{
		ID:      1,
		From:    "Sender@Example.com",
		To:      []string{"A@example.com"},
		CC:      []string{"c@example.com"},
		Subject: "Subject",
		Body:    "body",
	}
}

func TestValidatorNormalizes(t *testing.T) {
	v := NewValidator(Limits{RecipientsMax: 5, SubjectMaxLen: 20, BodyMaxBytes: 100})
	out, err := v.Validate(validPayload())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.From != "sender@example.com" || out.To[0] != "a@example.com" {
		t.Fatalf("expected normalized addresses, got %+v", out)
	}
	if out.BodyType != models.BodyTypeText {
		t.Fatalf("expected default body type text, got %q", out.BodyType)
	}
}

func TestValidatorRejects(t *testing.T) {
	v := NewValidator(LimitsFromConfig(config.ProviderConfig{RecipientsMax: 1, SubjectMaxLen: 5, BodyMaxBytes: 10}))

	cases := map[string]func(p *models.MessagePayload){
		"bad from":        func(p *models.MessagePayload) { p.From = "nope" },
		"no recipients":   func(p *models.MessagePayload) { p.To = nil },
		"too many to":     func(p *models.MessagePayload) { p.To = []string{"a@x.io", "b@x.io"} },
		"bad bcc":         func(p *models.MessagePayload) { p.BCC = []string{"broken"} },
		"long subject":    func(p *models.MessagePayload) { p.Subject = "subject too long" },
		"large body":      func(p *models.MessagePayload) { p.Body = strings.Repeat("x", 11) },
		"unknown bodytyp": func(p *models.MessagePayload) { p.BodyType = "markdown" },
	}
	for name, mutate := range cases {
		p := validPayload()
		p.Subject = "ok"
		mutate(p)
		if _, err := v.Validate(p); !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("%s: expected ErrInvalidPayload, got %v", name, err)
		}
	}

	if _, err := v.Validate(nil); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload for nil payload, got %v", err)
	}
}
