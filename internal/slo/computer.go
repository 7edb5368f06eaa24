package slo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/relay-guard/internal/audit"
	"github.com/kursadbilgin/relay-guard/internal/domain"
	"github.com/kursadbilgin/relay-guard/internal/repository"
)

// Result is the compliance verdict for one (tenant, provider) pair over
// the target's aggregation window.
type Result struct {
	TenantID     string   `json:"tenantId"`
	Provider     string   `json:"provider"`
	Channel      *string  `json:"channel,omitempty"`
	WindowDays   int      `json:"windowDays"`
	SentCount    int      `json:"sentCount"`
	SuccessCount int      `json:"successCount"`
	FailureCount int      `json:"failureCount"`
	Availability float64  `json:"availability"`
	ErrorRate    float64  `json:"errorRate"`
	P95LatencyMs int64    `json:"p95LatencyMs"`
	Target       Target   `json:"target"`
	Compliant    bool     `json:"compliant"`
	Breaches     []string `json:"breaches,omitempty"`
}

type Target struct {
	SuccessRate  float64 `json:"successRate"`
	P95LatencyMs int64   `json:"p95LatencyMs"`
}

// Report is the serializable roster-wide summary.
type Report struct {
	TenantID    string    `json:"tenantId"`
	GeneratedAt time.Time `json:"generatedAt"`
	Results     []Result  `json:"results"`
	BreachCount int       `json:"breachCount"`
	Compliant   bool      `json:"compliant"`
}

const (
	breachAvailability = "availability"
	breachLatency      = "p95_latency"
)

// Roster enumerates the providers a roster-wide computation covers.
// The adapter registry satisfies it.
type Roster interface {
	Names() []string
}

type Computer struct {
	targets repository.SLOTargetRepository
	metrics repository.MetricsRepository
	roster  Roster
	audit   audit.Sink
	logger  *zap.Logger
	now     func() time.Time
}

func New(targets repository.SLOTargetRepository, metrics repository.MetricsRepository, roster Roster, sink audit.Sink, logger *zap.Logger) (*Computer, error) {
	if targets == nil {
		return nil, fmt.Errorf("slo target repository is required")
	}
	if metrics == nil {
		return nil, fmt.Errorf("metrics repository is required")
	}
	if roster == nil {
		return nil, fmt.Errorf("provider roster is required")
	}
	if sink == nil {
		sink = audit.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Computer{
		targets: targets,
		metrics: metrics,
		roster:  roster,
		audit:   sink,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Compute aggregates the flushed metric windows for one (tenant,
// provider) against the resolved target and emits one sla.breach audit
// event per unmet dimension.
func (c *Computer) Compute(ctx context.Context, tenantID, provider string, channel *string) (*Result, error) {
	target, err := c.resolveTarget(ctx, tenantID, provider, channel)
	if err != nil {
		return nil, err
	}

	since := c.now().UTC().Add(-target.Window())
	windows, err := c.metrics.ListSince(ctx, tenantID, provider, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list metric windows: %w", err)
	}

	result := &Result{
		TenantID:   tenantID,
		Provider:   provider,
		Channel:    channel,
		WindowDays: windowDays(target),
		Target: Target{
			SuccessRate:  target.SuccessRateTarget,
			P95LatencyMs: target.P95LatencyTargetMs,
		},
	}

	for _, w := range windows {
		result.SentCount += w.SentCount
		result.SuccessCount += w.SuccessCount
		result.FailureCount += w.FailureCount
		if w.P95LatencyMs > result.P95LatencyMs {
			result.P95LatencyMs = w.P95LatencyMs
		}
	}

	if result.SentCount == 0 {
		// No traffic is vacuously compliant.
		result.Availability = 1
		result.ErrorRate = 0
	} else {
		result.Availability = float64(result.SuccessCount) / float64(result.SentCount)
		result.ErrorRate = float64(result.FailureCount) / float64(result.SentCount)
	}

	if result.Availability < target.SuccessRateTarget {
		result.Breaches = append(result.Breaches, breachAvailability)
	}
	if result.P95LatencyMs > target.P95LatencyTargetMs {
		result.Breaches = append(result.Breaches, breachLatency)
	}
	result.Compliant = len(result.Breaches) == 0

	for _, dimension := range result.Breaches {
		c.audit.Emit(ctx, audit.Event{
			Type:     audit.TypeSLABreach,
			TenantID: tenantID,
			Provider: provider,
			Details: map[string]any{
				"dimension":    dimension,
				"availability": result.Availability,
				"p95LatencyMs": result.P95LatencyMs,
				"targetRate":   target.SuccessRateTarget,
				"targetP95Ms":  target.P95LatencyTargetMs,
				"windowDays":   result.WindowDays,
			},
		})
		c.logger.Warn("slo breach",
			zap.String("tenantId", tenantID),
			zap.String("provider", provider),
			zap.String("dimension", dimension),
		)
	}

	return result, nil
}

// ComputeAll evaluates every registered provider for one tenant.
// Providers without a configured target are skipped.
func (c *Computer) ComputeAll(ctx context.Context, tenantID string) ([]Result, error) {
	var results []Result
	for _, provider := range c.roster.Names() {
		result, err := c.Compute(ctx, tenantID, provider, nil)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}
	return results, nil
}

// ExportReport wraps ComputeAll into a serializable summary.
func (c *Computer) ExportReport(ctx context.Context, tenantID string) (*Report, error) {
	results, err := c.ComputeAll(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		TenantID:    tenantID,
		GeneratedAt: c.now().UTC(),
		Results:     results,
		Compliant:   true,
	}
	for _, r := range results {
		report.BreachCount += len(r.Breaches)
		if !r.Compliant {
			report.Compliant = false
		}
	}
	return report, nil
}

func (c *Computer) resolveTarget(ctx context.Context, tenantID, provider string, channel *string) (*domain.SLOTarget, error) {
	target, err := c.targets.FindForTenant(ctx, tenantID, provider, channel)
	if err == nil {
		return target, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to resolve tenant slo target: %w", err)
	}

	target, err = c.targets.FindDefault(ctx, provider, channel)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: no slo target for provider %q", domain.ErrNotFound, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve default slo target: %w", err)
	}
	return target, nil
}

func windowDays(target *domain.SLOTarget) int {
	if target.WindowDays > 0 {
		return target.WindowDays
	}
	return domain.DefaultSLOWindowDays
}
