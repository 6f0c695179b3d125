package messenger_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/email-messenger/internal/messenger"
	"github.com/example/email-messenger/internal/models"
)

const testSlot = 7

type configStub map[string]int

func (c configStub) Int(key string) (int, error) {
	v, ok := c[key]
	if !ok {
		return 0, fmt.Errorf("missing key %s", key)
	}
	return v, nil
}

type repoStub struct {
	mu       sync.Mutex
	payloads map[int]*models.MessagePayload
	findErr  error
	saveErr  error
	saved    []models.MessagePayload
}

func (r *repoStub) FindFirst(ctx context.Context, id int) (*models.MessagePayload, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, false, r.findErr
	}
	p, ok := r.payloads[id]
	return p, ok, nil
}

func (r *repoStub) SaveExisting(ctx context.Context, payload *models.MessagePayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, *payload)
	return r.saveErr
}

type senderStub struct {
	sent  bool
	err   error
	panic bool
	calls int
}

func (s *senderStub) Send(ctx context.Context, payload *models.MessagePayload) (bool, error) {
	s.calls++
	if s.panic {
		panic("provider exploded")
	}
	return s.sent, s.err
}

type auditCollector struct {
	mu      sync.Mutex
	entries []models.AuditEntry
	infoErr error
}

func (a *auditCollector) AddInfo(ctx context.Context, item *models.WorkItem, format string, args ...any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, models.AuditEntry{WorkItemID: item.ID, Level: models.AuditLevelInfo, Message: fmt.Sprintf(format, args...)})
	return a.infoErr
}

func (a *auditCollector) AddError(ctx context.Context, item *models.WorkItem, format string, args ...any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, models.AuditEntry{WorkItemID: item.ID, Level: models.AuditLevelError, Message: fmt.Sprintf(format, args...)})
	return nil
}

func (a *auditCollector) matching(level models.AuditLevel, substr string) []models.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range a.entries {
		if e.Level == level && strings.Contains(e.Message, substr) {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	repo   *repoStub
	sender *senderStub
	audit  *auditCollector
	logs   *bytes.Buffer
	now    time.Time
	proc   *messenger.Processor
}

func newFixture(t *testing.T, payloads ...*models.MessagePayload) *fixture {
	t.Helper()
	f := &fixture{
		repo:   &repoStub{payloads: map[int]*models.MessagePayload{}},
		sender: &senderStub{sent: true},
		audit:  &auditCollector{},
		logs:   &bytes.Buffer{},
		now:    time.Date(2026, time.March, 3, 9, 30, 0, 0, time.UTC),
	}
	for _, p := range payloads {
		f.repo.payloads[p.ID] = p
	}

	proc, err := messenger.NewProcessor(messenger.Dependencies{
		Config:   configStub{messenger.ConfigKeyMessageOutboxParam: testSlot},
		Payloads: f.repo,
		Sender:   f.sender,
		Audit:    f.audit,
		Logger:   zerolog.New(f.logs).Level(zerolog.DebugLevel),
		Now:      func() time.Time { return f.now },
	})
	if err != nil {
		t.Fatalf("unexpected processor error: %v", err)
	}
	f.proc = proc
	return f
}

func workItem(id, value string) *models.WorkItem {
	return &models.WorkItem{
		ID: id,
		Parameters: models.Parameters{
			{Slot: 1, Name: "Other", Value: "x"},
			{Slot: testSlot, Name: "MessageOutboxId", Value: value},
		},
	}
}

func pendingPayload(id int, tracked bool) *models.MessagePayload {
	return &models.MessagePayload{
		ID:             id,
		DeliveryStatus: models.DeliveryStatusPending,
		IsTracked:      tracked,
		From:           "noreply@example.com",
		To:             []string{"user@example.com"},
		Subject:        "Claim notification",
		Body:           "hello",
	}
}

func TestNewProcessorRequiresDependencies(t *testing.T) {
	cfg := configStub{messenger.ConfigKeyMessageOutboxParam: 1}
	full := messenger.Dependencies{
		Config:   cfg,
		Payloads: &repoStub{},
		Sender:   &senderStub{},
		Audit:    &auditCollector{},
	}

	cases := map[string]func(d *messenger.Dependencies){
		"config":   func(d *messenger.Dependencies) { d.Config = nil },
		"payloads": func(d *messenger.Dependencies) { d.Payloads = nil },
		"sender":   func(d *messenger.Dependencies) { d.Sender = nil },
		"audit":    func(d *messenger.Dependencies) { d.Audit = nil },
		"slot":     func(d *messenger.Dependencies) { d.Config = configStub{} },
	}

	for name, mutate := range cases {
		name, mutate := name, mutate
		t.Run(name, func(t *testing.T) {
			deps := full
			mutate(&deps)
			if _, err := messenger.NewProcessor(deps); err == nil {
				t.Fatalf("expected error when %s is missing", name)
			}
		})
	}

	if _, err := messenger.NewProcessor(full); err != nil {
		t.Fatalf("unexpected error with full dependencies: %v", err)
	}
}

func TestProcessNilWorkItem(t *testing.T) {
	f := newFixture(t)

	if got := f.proc.Process(context.Background(), nil); got != models.OutcomeError {
		t.Fatalf("expected error outcome, got %s", got)
	}
	if len(f.audit.entries) != 0 {
		t.Fatalf("expected no audit entries, got %+v", f.audit.entries)
	}
	lines := strings.Split(strings.TrimSpace(f.logs.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], `"level":"debug"`) {
		t.Fatalf("expected exactly one debug log line, got %q", f.logs.String())
	}
}

func TestProcessInvalidParameters(t *testing.T) {
	cases := map[string]*models.WorkItem{
		"missing slot": {ID: "q-1", Parameters: models.Parameters{{Slot: 1, Value: "10"}}},
		"non numeric":  workItem("q-2", "ten"),
		"empty value":  workItem("q-3", ""),
	}

	for name, item := range cases {
		name, item := name, item
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, pendingPayload(10, false))

			if got := f.proc.Process(context.Background(), item); got != models.OutcomeInvalidParameterValue {
				t.Fatalf("expected invalid parameter outcome, got %s", got)
			}
			if f.sender.calls != 0 {
				t.Fatalf("sender must not be called")
			}
			if len(f.audit.matching(models.AuditLevelError, item.ID)) != 1 {
				t.Fatalf("expected one error audit entry, got %+v", f.audit.entries)
			}
		})
	}
}

func TestProcessPayloadNotFound(t *testing.T) {
	f := newFixture(t)

	if got := f.proc.Process(context.Background(), workItem("q-4", "42")); got != models.OutcomeSuccess {
		t.Fatalf("expected success, got %s", got)
	}

	notFound := f.audit.matching(models.AuditLevelInfo, "not found")
	if len(notFound) != 1 || !strings.Contains(notFound[0].Message, "42") {
		t.Fatalf("expected one not-found entry mentioning 42, got %+v", f.audit.entries)
	}
	if len(f.repo.saved) != 0 {
		t.Fatalf("SaveExisting must not be called, got %d calls", len(f.repo.saved))
	}
	if f.sender.calls != 0 {
		t.Fatalf("sender must not be called")
	}
}

func TestProcessDispatchSucceeded(t *testing.T) {
	for _, tracked := range []bool{true, false} {
		tracked := tracked
		t.Run(fmt.Sprintf("tracked=%v", tracked), func(t *testing.T) {
			f := newFixture(t, pendingPayload(10, tracked))

			if got := f.proc.Process(context.Background(), workItem("q-5", " 10 ")); got != models.OutcomeSuccess {
				t.Fatalf("expected success, got %s", got)
			}

			if len(f.repo.saved) != 1 {
				t.Fatalf("expected exactly one save, got %d", len(f.repo.saved))
			}
			saved := f.repo.saved[0]
			if saved.DeliveryStatus != models.DeliveryStatusSent {
				t.Fatalf("expected sent status, got %s", saved.DeliveryStatus)
			}
			if saved.SentAt == nil || !saved.SentAt.Equal(f.now) {
				t.Fatalf("expected sent_at %v, got %v", f.now, saved.SentAt)
			}
			if saved.ModifiedAt == nil || !saved.ModifiedAt.Equal(f.now) {
				t.Fatalf("expected modified_at %v, got %v", f.now, saved.ModifiedAt)
			}

			phrase := "sent to all receivers"
			if tracked {
				phrase = "via email tracker tool"
			}
			entries := f.audit.matching(models.AuditLevelInfo, phrase)
			if len(entries) != 1 || !strings.Contains(entries[0].Message, "10") {
				t.Fatalf("expected %q audit entry, got %+v", phrase, f.audit.entries)
			}
			if len(f.audit.matching(models.AuditLevelInfo, "processing is complete")) != 1 {
				t.Fatalf("expected completion entry, got %+v", f.audit.entries)
			}
		})
	}
}

func TestProcessDispatchRejected(t *testing.T) {
	for _, tracked := range []bool{true, false} {
		tracked := tracked
		t.Run(fmt.Sprintf("tracked=%v", tracked), func(t *testing.T) {
			f := newFixture(t, pendingPayload(11, tracked))
			f.sender.sent = false

			if got := f.proc.Process(context.Background(), workItem("q-6", "11")); got != models.OutcomeSuccess {
				t.Fatalf("expected success, got %s", got)
			}

			if len(f.repo.saved) != 1 {
				t.Fatalf("expected exactly one save, got %d", len(f.repo.saved))
			}
			saved := f.repo.saved[0]
			if saved.DeliveryStatus != models.DeliveryStatusError {
				t.Fatalf("expected error status, got %s", saved.DeliveryStatus)
			}
			if saved.SentAt != nil || saved.ModifiedAt != nil {
				t.Fatalf("timestamps must stay unset, got sent=%v modified=%v", saved.SentAt, saved.ModifiedAt)
			}

			phrase := "Could not send email to recipients"
			if tracked {
				phrase = "Could not schedule to send via email tracker tool"
			}
			if len(f.audit.matching(models.AuditLevelInfo, phrase)) != 1 {
				t.Fatalf("expected %q audit entry, got %+v", phrase, f.audit.entries)
			}
		})
	}
}

func TestProcessBusinessFaults(t *testing.T) {
	cases := map[string]func(f *fixture){
		"save fails":   func(f *fixture) { f.repo.saveErr = errors.New("db write timeout") },
		"send fails":   func(f *fixture) { f.sender.err = errors.New("db write timeout") },
		"lookup fails": func(f *fixture) { f.repo.findErr = errors.New("db write timeout") },
		"send panics":  func(f *fixture) { f.sender.panic = true },
	}

	for name, arrange := range cases {
		name, arrange := name, arrange
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, pendingPayload(12, false))
			arrange(f)

			if got := f.proc.Process(context.Background(), workItem("q-7", "12")); got != models.OutcomeBusinessProcessingFailed {
				t.Fatalf("expected business failure, got %s", got)
			}

			errs := f.audit.matching(models.AuditLevelError, "q-7")
			if len(errs) != 1 {
				t.Fatalf("expected one error audit entry, got %+v", f.audit.entries)
			}
			if !strings.Contains(errs[0].Message, "Ocorreu um problema") {
				t.Fatalf("expected localized template, got %q", errs[0].Message)
			}
			logs := f.logs.String()
			if !strings.Contains(logs, `"work_item_id":"q-7"`) || !strings.Contains(logs, `"level":"error"`) {
				t.Fatalf("expected error log with work item id, got %q", logs)
			}
			if name != "send panics" {
				if !strings.Contains(errs[0].Message, "db write timeout") || !strings.Contains(logs, "db write timeout") {
					t.Fatalf("expected fault detail in both sinks, audit=%q logs=%q", errs[0].Message, logs)
				}
			}
		})
	}
}

func TestProcessFaultAfterBusinessCompletion(t *testing.T) {
	f := newFixture(t, pendingPayload(13, false))
	audit := &completionFailingAudit{auditCollector: f.audit}

	proc, err := messenger.NewProcessor(messenger.Dependencies{
		Config:   configStub{messenger.ConfigKeyMessageOutboxParam: testSlot},
		Payloads: f.repo,
		Sender:   f.sender,
		Audit:    audit,
		Logger:   zerolog.New(io.Discard),
	})
	if err != nil {
		t.Fatalf("unexpected processor error: %v", err)
	}

	if got := proc.Process(context.Background(), workItem("q-8", "13")); got != models.OutcomeError {
		t.Fatalf("expected unclassified error outcome, got %s", got)
	}
	if len(f.repo.saved) != 1 {
		t.Fatalf("expected payload to be saved before the fault")
	}
}

func TestProcessDoesNotRevertSentPayload(t *testing.T) {
	payload := pendingPayload(14, false)
	payload.DeliveryStatus = models.DeliveryStatusSent
	f := newFixture(t, payload)
	f.sender.sent = false

	if got := f.proc.Process(context.Background(), workItem("q-9", "14")); got != models.OutcomeBusinessProcessingFailed {
		t.Fatalf("expected business failure, got %s", got)
	}
	if len(f.repo.saved) != 0 {
		t.Fatalf("sent payload must not be persisted as error")
	}
	if f.sender.calls != 0 {
		t.Fatalf("sent payload must not be dispatched again, got %d sends", f.sender.calls)
	}
	if len(f.audit.matching(models.AuditLevelError, models.ErrStatusTransition.Error())) != 1 {
		t.Fatalf("expected status transition fault in audit trail, got %+v", f.audit.entries)
	}
}

type panickingErrorAudit struct {
	*auditCollector
}

func (p *panickingErrorAudit) AddError(context.Context, *models.WorkItem, string, ...any) error {
	panic("queue log driver exploded")
}

func TestProcessSurvivesPanicWhileAuditingFault(t *testing.T) {
	f := newFixture(t, pendingPayload(15, false))
	f.sender.err = errors.New("smtp unreachable")

	proc, err := messenger.NewProcessor(messenger.Dependencies{
		Config:   configStub{messenger.ConfigKeyMessageOutboxParam: testSlot},
		Payloads: f.repo,
		Sender:   f.sender,
		Audit:    &panickingErrorAudit{auditCollector: f.audit},
		Logger:   zerolog.New(f.logs),
	})
	if err != nil {
		t.Fatalf("unexpected processor error: %v", err)
	}

	var got models.Outcome
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic escaped Process: %v", r)
			}
		}()
		got = proc.Process(context.Background(), workItem("q-10", "15"))
	}()

	if got != models.OutcomeBusinessProcessingFailed {
		t.Fatalf("expected business failure, got %s", got)
	}
	if !strings.Contains(f.logs.String(), "queue log driver exploded") {
		t.Fatalf("expected the audit panic to be logged, got %q", f.logs.String())
	}
}

type completionFailingAudit struct {
	*auditCollector
}

func (c *completionFailingAudit) AddInfo(ctx context.Context, item *models.WorkItem, format string, args ...any) error {
	if err := c.auditCollector.AddInfo(ctx, item, format, args...); err != nil {
		return err
	}
	if strings.Contains(format, "processing is complete") {
		return errors.New("queue log unavailable")
	}
	return nil
}
