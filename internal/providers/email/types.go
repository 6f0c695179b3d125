package email

import (
	"context"
	"time"
)

// Payload is the wire-neutral email handed to a provider by the adapter.
type Payload struct {
	MessageID string
	From      string
	To        []string
	CC        []string
	BCC       []string
	Subject   string
	BodyType  string
	Body      string
	Headers   map[string]string
}

// Recipients returns every envelope recipient once, in To, CC, BCC order.
func (p *Payload) Recipients() []string {
	out := make([]string, 0, len(p.To)+len(p.CC)+len(p.BCC))
	seen := make(map[string]struct{})
	for _, group := range [][]string{p.To, p.CC, p.BCC} {
		for _, addr := range group {
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// RawResponse is what the provider reports back for one send.
type RawResponse struct {
	ID        string
	Code      int
	Body      string
	Timestamp time.Time
}

// Provider delivers a payload to the upstream mail system.
type Provider interface {
	Send(ctx context.Context, payload *Payload) (*RawResponse, error)
}
