package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/email-messenger/internal/config"
)

// Dialer opens the TCP connection to the SMTP relay.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SMTPOption configures the SMTP provider.
type SMTPOption func(*SMTPProvider)

// WithSMTPTLSConfig overrides the STARTTLS configuration. nil disables
// STARTTLS.
func WithSMTPTLSConfig(cfg *tls.Config) SMTPOption {
	return func(p *SMTPProvider) {
		p.tlsConfig = cfg
	}
}

// WithSMTPDialer swaps the dialer used to reach the relay.
func WithSMTPDialer(d Dialer) SMTPOption {
	return func(p *SMTPProvider) {
		if d != nil {
			p.dialer = d
		}
	}
}

// WithSMTPClock replaces the clock used for Date headers and timestamps.
func WithSMTPClock(now func() time.Time) SMTPOption {
	return func(p *SMTPProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// SMTPProvider delivers payloads through an SMTP relay.
type SMTPProvider struct {
	logger    zerolog.Logger
	addr      string
	host      string
	from      string
	auth      smtp.Auth
	tlsConfig *tls.Config
	dialer    Dialer
	now       func() time.Time
}

// NewSMTPProvider validates cfg and builds a provider for it.
func NewSMTPProvider(cfg config.SMTPConfig, logger zerolog.Logger, opts ...SMTPOption) (*SMTPProvider, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp provider: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp provider: invalid port %d", cfg.Port)
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, errors.New("smtp provider: from address is required")
	}
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	p := &SMTPProvider{
		logger:    logger,
		addr:      net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		host:      host,
		from:      strings.TrimSpace(cfg.From),
		tlsConfig: &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12},
		dialer:    &net.Dialer{Timeout: 30 * time.Second},
		now:       time.Now,
	}
	if strings.TrimSpace(cfg.User) != "" {
		p.auth = smtp.PlainAuth("", cfg.User, cfg.Pass, host)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Send delivers payload. On a relay rejection the response carries the SMTP
// reply code alongside the error.
func (p *SMTPProvider) Send(ctx context.Context, payload *Payload) (*RawResponse, error) {
	if payload == nil {
		return nil, errors.New("smtp provider: payload is required")
	}

	from := strings.TrimSpace(payload.From)
	if from == "" {
		from = p.from
	}
	envelopeFrom, err := envelopeAddress(from)
	if err != nil {
		return nil, fmt.Errorf("smtp provider: invalid from address: %w", err)
	}

	var rcpts []string
	for _, raw := range payload.Recipients() {
		addr, err := envelopeAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("smtp provider: invalid recipient %q: %w", raw, err)
		}
		rcpts = append(rcpts, addr)
	}
	if len(rcpts) == 0 {
		return nil, errors.New("smtp provider: at least one recipient is required")
	}

	resp := &RawResponse{ID: payload.MessageID, Timestamp: p.now()}
	if err := p.deliver(ctx, envelopeFrom, rcpts, p.render(payload, from)); err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) {
			resp.Code = tpErr.Code
			resp.Body = strings.TrimSpace(tpErr.Msg)
		} else {
			resp.Body = err.Error()
		}
		p.logger.Debug().
			Str("message_id", payload.MessageID).
			Int("smtp_code", resp.Code).
			Err(err).
			Msg("smtp provider: relay rejected message")
		return resp, err
	}

	resp.Code = 250
	resp.Body = "smtp: message accepted"
	return resp, nil
}

func (p *SMTPProvider) deliver(ctx context.Context, from string, rcpts []string, message []byte) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return fmt.Errorf("smtp provider: dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	// Unblock the protocol exchange if ctx ends mid-conversation.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, p.host)
	if err != nil {
		return fmt.Errorf("smtp provider: greeting: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp provider: hello: %w", err)
	}
	if p.tlsConfig != nil {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(p.tlsConfig.Clone()); err != nil {
				return fmt.Errorf("smtp provider: starttls: %w", err)
			}
		}
	}
	if p.auth != nil {
		if ok, _ := client.Extension("AUTH"); ok {
			if err := client.Auth(p.auth); err != nil {
				return fmt.Errorf("smtp provider: auth: %w", err)
			}
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp provider: mail from: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp provider: rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp provider: data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp provider: data write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp provider: data close: %w", err)
	}
	if err := client.Quit(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("smtp provider: quit: %w", err)
	}
	return ctx.Err()
}

// render builds the RFC 5322 message. Caller headers cannot override the
// addressing headers and Bcc never appears in the body.
func (p *SMTPProvider) render(payload *Payload, from string) []byte {
	headers := make(map[string]string, len(payload.Headers)+7)
	for k, v := range payload.Headers {
		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(k))
		if key == "" || strings.TrimSpace(v) == "" {
			continue
		}
		headers[key] = oneLine(v)
	}
	for _, reserved := range []string{"From", "To", "Cc", "Bcc"} {
		delete(headers, reserved)
	}

	headers["From"] = from
	if len(payload.To) > 0 {
		headers["To"] = strings.Join(payload.To, ", ")
	}
	if len(payload.CC) > 0 {
		headers["Cc"] = strings.Join(payload.CC, ", ")
	}
	if payload.Subject != "" {
		headers["Subject"] = oneLine(payload.Subject)
	}
	if _, ok := headers["Date"]; !ok {
		headers["Date"] = p.now().UTC().Format(time.RFC1123Z)
	}
	if _, ok := headers["Message-Id"]; !ok && payload.MessageID != "" {
		headers["Message-Id"] = oneLine(payload.MessageID)
	}
	headers["Mime-Version"] = "1.0"
	headers["Content-Type"] = "text/plain; charset=UTF-8"
	if strings.EqualFold(strings.TrimSpace(payload.BodyType), "html") {
		headers["Content-Type"] = "text/html; charset=UTF-8"
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, headers[k])
	}
	buf.WriteString("\r\n")
	body := strings.ReplaceAll(payload.Body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return buf.Bytes()
}

func oneLine(v string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(v))
}

func envelopeAddress(value string) (string, error) {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return "", err
	}
	return addr.Address, nil
}
