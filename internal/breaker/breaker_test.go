package breaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/relay-guard/internal/audit"
	"github.com/kursadbilgin/relay-guard/internal/domain"
)

type memHealthRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.ProviderHealth
}

func newMemHealthRepo() *memHealthRepo {
	return &memHealthRepo{rows: make(map[string]*domain.ProviderHealth)}
}

func (r *memHealthRepo) key(tenantID, provider string) string {
	return tenantID + ":" + provider
}

func (r *memHealthRepo) Get(ctx context.Context, tenantID, provider string) (*domain.ProviderHealth, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[r.key(tenantID, provider)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (r *memHealthRepo) Upsert(ctx context.Context, h *domain.ProviderHealth) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	copied := *h
	r.rows[r.key(h.TenantID, h.Provider)] = &copied
	return nil
}

func (r *memHealthRepo) List(ctx context.Context, tenantID string) ([]domain.ProviderHealth, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.ProviderHealth
	for _, row := range r.rows {
		if row.TenantID == tenantID {
			out = append(out, *row)
		}
	}
	return out, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Emit(ctx context.Context, event audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) ofType(eventType string) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []audit.Event
	for _, ev := range s.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func newTestBreaker(t *testing.T, repo *memHealthRepo, sink audit.Sink, cfg Config) *Breaker {
	t.Helper()

	b, err := New(repo, sink, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b
}

func TestCanExecuteNoRecordIsClosed(t *testing.T) {
	t.Parallel()

	b := newTestBreaker(t, newMemHealthRepo(), &recordingSink{}, Config{})

	decision, err := b.CanExecute(context.Background(), "t1", "sendgrid")
	if err != nil {
		t.Fatalf("CanExecute() error = %v", err)
	}
	if !decision.Allowed || decision.State != domain.CircuitClosed {
		t.Fatalf("decision = %+v, want allowed closed", decision)
	}
}

func TestFailureThresholdOpensExactlyOnce(t *testing.T) {
	t.Parallel()

	repo := newMemHealthRepo()
	sink := &recordingSink{}
	b := newTestBreaker(t, repo, sink, Config{FailureThreshold: 5, Cooldown: time.Minute})

	for i := 0; i < 5; i++ {
		if err := b.RecordResult(context.Background(), "t1", "sendgrid", false, nil); err != nil {
			t.Fatalf("RecordResult(#%d) error = %v", i+1, err)
		}
	}

	health, err := repo.Get(context.Background(), "t1", "sendgrid")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if health.CircuitState != domain.CircuitOpen {
		t.Fatalf("CircuitState = %q, want open after 5 failures", health.CircuitState)
	}
	if health.CircuitNextRetryAt == nil {
		t.Fatal("open circuit must have a next-retry timestamp")
	}

	opened := sink.ofType(audit.TypeCircuitOpened)
	if len(opened) != 1 {
		t.Fatalf("circuit.opened events = %d, want exactly 1", len(opened))
	}
	if opened[0].Details["previousState"] != "closed" {
		t.Fatalf("previousState = %v, want closed", opened[0].Details["previousState"])
	}
	if opened[0].Details["reason"] != "failure_threshold" {
		t.Fatalf("reason = %v, want failure_threshold", opened[0].Details["reason"])
	}

	// Straggler results while open do not move the state machine.
	if err := b.RecordResult(context.Background(), "t1", "sendgrid", false, nil); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}
	if got := sink.ofType(audit.TypeCircuitOpened); len(got) != 1 {
		t.Fatalf("circuit.opened events after straggler = %d, want 1", len(got))
	}
}

func TestOpenCircuitRejectsUntilCooldown(t *testing.T) {
	t.Parallel()

	repo := newMemHealthRepo()
	sink := &recordingSink{}
	b := newTestBreaker(t, repo, sink, Config{FailureThreshold: 1, Cooldown: time.Minute})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if err := b.RecordResult(context.Background(), "t1", "twilio", false, nil); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	decision, err := b.CanExecute(context.Background(), "t1", "twilio")
	if err != nil {
		t.Fatalf("CanExecute() error = %v", err)
	}
	if decision.Allowed {
		t.Fatal("open circuit inside cooldown must reject")
	}
	if decision.RetryAt == nil || !decision.RetryAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("RetryAt = %v, want %v", decision.RetryAt, now.Add(time.Minute))
	}

	// Cooldown elapses: the read itself transitions to half_open.
	now = now.Add(time.Minute + time.Second)
	decision, err = b.CanExecute(context.Background(), "t1", "twilio")
	if err != nil {
		t.Fatalf("CanExecute() error = %v", err)
	}
	if !decision.Allowed || decision.State != domain.CircuitHalfOpen {
		t.Fatalf("decision = %+v, want allowed half_open", decision)
	}

	health, err := repo.Get(context.Background(), "t1", "twilio")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if health.CircuitState != domain.CircuitHalfOpen {
		t.Fatalf("CircuitState = %q, want half_open", health.CircuitState)
	}
	if health.CircuitNextRetryAt != nil {
		t.Fatal("half_open must clear next-retry timestamp")
	}
	if got := sink.ofType(audit.TypeCircuitHalfOpen); len(got) != 1 {
		t.Fatalf("circuit.half_open events = %d, want 1", len(got))
	}
}

func TestHalfOpenProbeBudget(t *testing.T) {
	t.Parallel()

	repo := newMemHealthRepo()
	b := newTestBreaker(t, repo, &recordingSink{}, Config{FailureThreshold: 1, Cooldown: time.Minute, HalfOpenMaxProbes: 2})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if err := b.RecordResult(context.Background(), "t1", "slack", false, nil); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}
	now = now.Add(2 * time.Minute)

	// First probe is taken by the open→half_open transition itself.
	decision, err := b.CanExecute(context.Background(), "t1", "slack")
	if err != nil || !decision.Allowed {
		t.Fatalf("probe 1 = %+v, %v", decision, err)
	}

	decision, err = b.CanExecute(context.Background(), "t1", "slack")
	if err != nil || !decision.Allowed {
		t.Fatalf("probe 2 = %+v, %v", decision, err)
	}

	decision, err = b.CanExecute(context.Background(), "t1", "slack")
	if err != nil {
		t.Fatalf("CanExecute() error = %v", err)
	}
	if decision.Allowed {
		t.Fatal("probe budget of 2 must reject the third call")
	}
	if decision.State != domain.CircuitHalfOpen {
		t.Fatalf("State = %q, want half_open", decision.State)
	}
}

func TestHalfOpenProbeSuccessCloses(t *testing.T) {
	t.Parallel()

	repo := newMemHealthRepo()
	sink := &recordingSink{}
	b := newTestBreaker(t, repo, sink, Config{FailureThreshold: 1, Cooldown: time.Minute})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if err := b.RecordResult(context.Background(), "t1", "hubspot", false, nil); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := b.CanExecute(context.Background(), "t1", "hubspot"); err != nil {
		t.Fatalf("CanExecute() error = %v", err)
	}

	if err := b.RecordResult(context.Background(), "t1", "hubspot", true, nil); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	health, err := repo.Get(context.Background(), "t1", "hubspot")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if health.CircuitState != domain.CircuitClosed {
		t.Fatalf("CircuitState = %q, want closed after probe success", health.CircuitState)
	}
	if health.ConsecutiveFailures != 0 {
		t.Fatalf("ConsecutiveFailures = %d, want 0", health.ConsecutiveFailures)
	}

	closed := sink.ofType(audit.TypeCircuitClosed)
	if len(closed) != 1 || closed[0].Details["reason"] != "probe_succeeded" {
		t.Fatalf("circuit.closed events = %+v, want one probe_succeeded", closed)
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	t.Parallel()

	repo := newMemHealthRepo()
	sink := &recordingSink{}
	b := newTestBreaker(t, repo, sink, Config{FailureThreshold: 1, Cooldown: time.Minute})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	if err := b.RecordResult(context.Background(), "t1", "teams", false, nil); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := b.CanExecute(context.Background(), "t1", "teams"); err != nil {
		t.Fatalf("CanExecute() error = %v", err)
	}

	if err := b.RecordResult(context.Background(), "t1", "teams", false, nil); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	health, err := repo.Get(context.Background(), "t1", "teams")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if health.CircuitState != domain.CircuitOpen {
		t.Fatalf("CircuitState = %q, want reopened", health.CircuitState)
	}
	if health.CircuitNextRetryAt == nil || !health.CircuitNextRetryAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("CircuitNextRetryAt = %v, want fresh cooldown", health.CircuitNextRetryAt)
	}

	opened := sink.ofType(audit.TypeCircuitOpened)
	if len(opened) != 2 {
		t.Fatalf("circuit.opened events = %d, want 2", len(opened))
	}
	if opened[1].Details["reason"] != "probe_failed" {
		t.Fatalf("reason = %v, want probe_failed", opened[1].Details["reason"])
	}
}

func TestFailureRateTripsBeforeThreshold(t *testing.T) {
	t.Parallel()

	repo := newMemHealthRepo()
	sink := &recordingSink{}
	b := newTestBreaker(t, repo, sink, Config{
		FailureThreshold:     10,
		FailureRateThreshold: 0.5,
		FailureRateSampleMin: 10,
		Cooldown:             time.Minute,
	})

	stats := &WindowStats{Total: 20, Failures: 12}
	if err := b.RecordResult(context.Background(), "t1", "sendgrid", false, stats); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	health, err := repo.Get(context.Background(), "t1", "sendgrid")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if health.CircuitState != domain.CircuitOpen {
		t.Fatalf("CircuitState = %q, want open on rate breach", health.CircuitState)
	}

	opened := sink.ofType(audit.TypeCircuitOpened)
	if len(opened) != 1 || opened[0].Details["reason"] != "failure_rate" {
		t.Fatalf("circuit.opened = %+v, want one failure_rate", opened)
	}
}

func TestFailureRateNeedsMinimumSample(t *testing.T) {
	t.Parallel()

	repo := newMemHealthRepo()
	b := newTestBreaker(t, repo, &recordingSink{}, Config{
		FailureThreshold:     10,
		FailureRateThreshold: 0.5,
		FailureRateSampleMin: 10,
	})

	stats := &WindowStats{Total: 4, Failures: 4}
	if err := b.RecordResult(context.Background(), "t1", "sendgrid", false, stats); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	health, err := repo.Get(context.Background(), "t1", "sendgrid")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if health.CircuitState != domain.CircuitClosed {
		t.Fatalf("CircuitState = %q, want closed under sample minimum", health.CircuitState)
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	repo := newMemHealthRepo()
	b := newTestBreaker(t, repo, &recordingSink{}, Config{FailureThreshold: 5})

	for i := 0; i < 3; i++ {
		if err := b.RecordResult(context.Background(), "t1", "sendgrid", false, nil); err != nil {
			t.Fatalf("RecordResult() error = %v", err)
		}
	}
	if err := b.RecordResult(context.Background(), "t1", "sendgrid", true, nil); err != nil {
		t.Fatalf("RecordResult() error = %v", err)
	}

	health, err := repo.Get(context.Background(), "t1", "sendgrid")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if health.ConsecutiveFailures != 0 {
		t.Fatalf("ConsecutiveFailures = %d, want 0 after success", health.ConsecutiveFailures)
	}
	if health.CircuitState != domain.CircuitClosed {
		t.Fatalf("CircuitState = %q, want closed", health.CircuitState)
	}
}

func TestManualOverrides(t *testing.T) {
	t.Parallel()

	repo := newMemHealthRepo()
	sink := &recordingSink{}
	b := newTestBreaker(t, repo, sink, Config{Cooldown: time.Minute})

	if err := b.ForceOpen(context.Background(), "t1", "sendgrid"); err != nil {
		t.Fatalf("ForceOpen() error = %v", err)
	}
	health, err := repo.Get(context.Background(), "t1", "sendgrid")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if health.CircuitState != domain.CircuitOpen {
		t.Fatalf("CircuitState = %q, want open", health.CircuitState)
	}

	opened := sink.ofType(audit.TypeCircuitOpened)
	if len(opened) != 1 || opened[0].Details["reason"] != "manual_open" {
		t.Fatalf("circuit.opened = %+v, want one manual_open", opened)
	}

	if err := b.ForceReset(context.Background(), "t1", "sendgrid"); err != nil {
		t.Fatalf("ForceReset() error = %v", err)
	}
	health, err = repo.Get(context.Background(), "t1", "sendgrid")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if health.CircuitState != domain.CircuitClosed {
		t.Fatalf("CircuitState = %q, want closed", health.CircuitState)
	}

	closed := sink.ofType(audit.TypeCircuitClosed)
	if len(closed) != 1 || closed[0].Details["reason"] != "manual_reset" {
		t.Fatalf("circuit.closed = %+v, want one manual_reset", closed)
	}
}
