package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/relay-guard/internal/audit"
	"github.com/kursadbilgin/relay-guard/internal/domain"
	"github.com/kursadbilgin/relay-guard/internal/observability"
	"github.com/kursadbilgin/relay-guard/internal/repository"
)

const (
	defaultFailureThreshold     = 5
	defaultFailureRateThreshold = 0.5
	defaultFailureRateSampleMin = 10
	defaultCooldown             = 60 * time.Second
	defaultHalfOpenMaxProbes    = 3
)

// Config tunes the breaker state machine.
type Config struct {
	FailureThreshold     int
	FailureRateThreshold float64
	FailureRateSampleMin int
	Cooldown             time.Duration
	HalfOpenMaxProbes    int
}

func (c Config) normalized() Config {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.FailureRateThreshold <= 0 || c.FailureRateThreshold > 1 {
		c.FailureRateThreshold = defaultFailureRateThreshold
	}
	if c.FailureRateSampleMin < 1 {
		c.FailureRateSampleMin = defaultFailureRateSampleMin
	}
	if c.Cooldown <= 0 {
		c.Cooldown = defaultCooldown
	}
	if c.HalfOpenMaxProbes < 1 {
		c.HalfOpenMaxProbes = defaultHalfOpenMaxProbes
	}
	return c
}

// Decision is the outcome of a CanExecute gate check.
type Decision struct {
	Allowed bool
	State   domain.CircuitState
	Reason  string
	RetryAt *time.Time
}

// WindowStats is an optional failure-rate sample supplied by the caller,
// letting a low-volume tenant trip faster than the raw count allows.
type WindowStats struct {
	Total    int
	Failures int
}

// Breaker is the per-(tenant, provider) circuit state machine. State is
// persisted through the health repository; the half-open probe budget is
// process-local, so a horizontally scaled deployment allows up to
// HalfOpenMaxProbes probes per process. That looseness is accepted rather
// than coordinated globally.
type Breaker struct {
	health  repository.HealthRepository
	audit   audit.Sink
	logger  *zap.Logger
	metrics *observability.Metrics
	cfg     Config
	now     func() time.Time

	mu     sync.Mutex
	probes map[string]int
}

func New(health repository.HealthRepository, sink audit.Sink, cfg Config, logger *zap.Logger) (*Breaker, error) {
	if health == nil {
		return nil, fmt.Errorf("health repository is required")
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Breaker{
		health: health,
		audit:  sink,
		logger: logger,
		cfg:    cfg.normalized(),
		now:    time.Now,
		probes: make(map[string]int),
	}, nil
}

func (b *Breaker) SetMetrics(metrics *observability.Metrics) {
	if b == nil {
		return
	}
	b.metrics = metrics
}

// CanExecute gates one call attempt. Reading an open circuit whose
// cooldown has elapsed transitions it to half_open as a side effect.
func (b *Breaker) CanExecute(ctx context.Context, tenantID, provider string) (Decision, error) {
	health, err := b.health.Get(ctx, tenantID, provider)
	if errors.Is(err, domain.ErrNotFound) {
		return Decision{Allowed: true, State: domain.CircuitClosed}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("failed to load provider health: %w", err)
	}

	switch health.CircuitState {
	case domain.CircuitClosed, "":
		return Decision{Allowed: true, State: domain.CircuitClosed}, nil

	case domain.CircuitOpen:
		now := b.now().UTC()
		if health.CircuitNextRetryAt != nil && now.Before(*health.CircuitNextRetryAt) {
			retryAt := *health.CircuitNextRetryAt
			return Decision{
				Allowed: false,
				State:   domain.CircuitOpen,
				Reason:  fmt.Sprintf("circuit open, retry after %s", retryAt.Format(time.RFC3339)),
				RetryAt: &retryAt,
			}, nil
		}

		if err := b.transitionToHalfOpen(ctx, health); err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: true, State: domain.CircuitHalfOpen, Reason: "cooldown elapsed, probing"}, nil

	case domain.CircuitHalfOpen:
		if b.takeProbe(tenantID, provider) {
			return Decision{Allowed: true, State: domain.CircuitHalfOpen, Reason: "probe"}, nil
		}
		return Decision{
			Allowed: false,
			State:   domain.CircuitHalfOpen,
			Reason:  "half-open probe budget exhausted",
		}, nil

	default:
		return Decision{}, fmt.Errorf("unknown circuit state %q", health.CircuitState)
	}
}

// RecordResult feeds one attempt outcome into the state machine.
func (b *Breaker) RecordResult(ctx context.Context, tenantID, provider string, success bool, stats *WindowStats) error {
	health, err := b.health.Get(ctx, tenantID, provider)
	if errors.Is(err, domain.ErrNotFound) {
		health = &domain.ProviderHealth{
			TenantID:     tenantID,
			Provider:     provider,
			Status:       domain.HealthOK,
			CircuitState: domain.CircuitClosed,
		}
	} else if err != nil {
		return fmt.Errorf("failed to load provider health: %w", err)
	}

	switch health.CircuitState {
	case domain.CircuitHalfOpen:
		if success {
			return b.close(ctx, health, "probe_succeeded")
		}
		return b.open(ctx, health, "probe_failed")

	case domain.CircuitOpen:
		// Results recorded while open (stragglers from in-flight calls)
		// do not move the state machine.
		return nil

	default: // closed
		if success {
			if health.ConsecutiveFailures == 0 {
				// Repeated successes while closed are a no-op.
				return nil
			}
			health.ConsecutiveFailures = 0
			health.UpdatedAt = b.now().UTC()
			return b.health.Upsert(ctx, health)
		}

		health.ConsecutiveFailures++
		if health.ConsecutiveFailures >= b.cfg.FailureThreshold {
			return b.open(ctx, health, "failure_threshold")
		}
		if rateBreached(stats, b.cfg) {
			return b.open(ctx, health, "failure_rate")
		}

		health.UpdatedAt = b.now().UTC()
		return b.health.Upsert(ctx, health)
	}
}

// ForceOpen is an operator override; it always opens and tags the audit
// trail so manual action is distinguishable from automatic transitions.
func (b *Breaker) ForceOpen(ctx context.Context, tenantID, provider string) error {
	health, err := b.loadOrSeed(ctx, tenantID, provider)
	if err != nil {
		return err
	}
	return b.open(ctx, health, "manual_open")
}

// ForceReset closes the circuit regardless of current state.
func (b *Breaker) ForceReset(ctx context.Context, tenantID, provider string) error {
	health, err := b.loadOrSeed(ctx, tenantID, provider)
	if err != nil {
		return err
	}
	return b.close(ctx, health, "manual_reset")
}

func (b *Breaker) loadOrSeed(ctx context.Context, tenantID, provider string) (*domain.ProviderHealth, error) {
	health, err := b.health.Get(ctx, tenantID, provider)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.ProviderHealth{
			TenantID:     tenantID,
			Provider:     provider,
			Status:       domain.HealthOK,
			CircuitState: domain.CircuitClosed,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load provider health: %w", err)
	}
	return health, nil
}

func (b *Breaker) transitionToHalfOpen(ctx context.Context, health *domain.ProviderHealth) error {
	previous := health.CircuitState
	health.CircuitState = domain.CircuitHalfOpen
	health.CircuitNextRetryAt = nil
	health.UpdatedAt = b.now().UTC()

	if err := b.health.Upsert(ctx, health); err != nil {
		return fmt.Errorf("failed to persist half-open transition: %w", err)
	}

	b.resetProbes(health.TenantID, health.Provider)
	b.takeProbe(health.TenantID, health.Provider)

	b.emitTransition(ctx, health, audit.TypeCircuitHalfOpen, previous, "cooldown_elapsed", nil)
	return nil
}

func (b *Breaker) open(ctx context.Context, health *domain.ProviderHealth, reason string) error {
	previous := health.CircuitState
	now := b.now().UTC()
	nextRetryAt := now.Add(b.cfg.Cooldown)

	health.CircuitState = domain.CircuitOpen
	health.CircuitOpenedAt = &now
	health.CircuitNextRetryAt = &nextRetryAt
	health.UpdatedAt = now

	if err := b.health.Upsert(ctx, health); err != nil {
		return fmt.Errorf("failed to persist open transition: %w", err)
	}

	b.resetProbes(health.TenantID, health.Provider)
	b.emitTransition(ctx, health, audit.TypeCircuitOpened, previous, reason, &nextRetryAt)

	observability.WithDispatchFields(b.logger, health.TenantID, health.Provider).Warn("circuit opened",
		zap.String("previousState", previous.String()),
		zap.String("reason", reason),
		zap.Time("nextRetryAt", nextRetryAt),
	)
	return nil
}

func (b *Breaker) close(ctx context.Context, health *domain.ProviderHealth, reason string) error {
	previous := health.CircuitState
	health.CircuitState = domain.CircuitClosed
	health.ConsecutiveFailures = 0
	health.CircuitNextRetryAt = nil
	health.UpdatedAt = b.now().UTC()

	if err := b.health.Upsert(ctx, health); err != nil {
		return fmt.Errorf("failed to persist closed transition: %w", err)
	}

	b.resetProbes(health.TenantID, health.Provider)
	b.emitTransition(ctx, health, audit.TypeCircuitClosed, previous, reason, nil)
	return nil
}

func (b *Breaker) emitTransition(ctx context.Context, health *domain.ProviderHealth, eventType string, previous domain.CircuitState, reason string, retryAt *time.Time) {
	details := map[string]any{
		"previousState":       previous.String(),
		"reason":              reason,
		"consecutiveFailures": health.ConsecutiveFailures,
	}
	if retryAt != nil {
		details["nextRetryAt"] = retryAt.UTC().Format(time.RFC3339)
	}

	b.audit.Emit(ctx, audit.Event{
		Type:     eventType,
		TenantID: health.TenantID,
		Provider: health.Provider,
		Details:  details,
	})

	if b.metrics != nil {
		b.metrics.IncCircuitTransition(health.Provider, health.CircuitState.String())
	}
}

func (b *Breaker) takeProbe(tenantID, provider string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := probeKey(tenantID, provider)
	if b.probes[key] >= b.cfg.HalfOpenMaxProbes {
		return false
	}
	b.probes[key]++
	return true
}

func (b *Breaker) resetProbes(tenantID, provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.probes, probeKey(tenantID, provider))
}

func probeKey(tenantID, provider string) string {
	return tenantID + ":" + provider
}

func rateBreached(stats *WindowStats, cfg Config) bool {
	if stats == nil || stats.Total < cfg.FailureRateSampleMin {
		return false
	}
	return float64(stats.Failures)/float64(stats.Total) > cfg.FailureRateThreshold
}
