package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/relay-guard/internal/adapter"
	"github.com/kursadbilgin/relay-guard/internal/domain"
	"github.com/kursadbilgin/relay-guard/internal/repository"
)

// PlatformReport is the roster-wide verdict: down beats degraded beats ok.
type PlatformReport struct {
	Status    domain.HealthStatus         `json:"status"`
	CheckedAt time.Time                   `json:"checkedAt"`
	Providers []adapter.HealthCheckResult `json:"providers"`
}

// Checker runs every registered adapter's self-test.
type Checker struct {
	registry *adapter.Registry
	configs  repository.ChannelConfigRepository
	logger   *zap.Logger
	now      func() time.Time
}

func New(registry *adapter.Registry, configs repository.ChannelConfigRepository, logger *zap.Logger) (*Checker, error) {
	if registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if configs == nil {
		return nil, fmt.Errorf("channel config repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Checker{
		registry: registry,
		configs:  configs,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// CheckAll self-tests every registered adapter. A provider whose check
// panics or errors is reported down; the sweep itself never fails.
func (c *Checker) CheckAll(ctx context.Context) *PlatformReport {
	report := &PlatformReport{
		Status:    domain.HealthOK,
		CheckedAt: c.now().UTC(),
	}

	for _, name := range c.registry.Names() {
		result := c.checkOne(ctx, name)
		report.Providers = append(report.Providers, result)

		switch result.Status {
		case domain.HealthDown:
			report.Status = domain.HealthDown
		case domain.HealthDegraded:
			if report.Status != domain.HealthDown {
				report.Status = domain.HealthDegraded
			}
		}
	}

	return report
}

func (c *Checker) checkOne(ctx context.Context, provider string) (result adapter.HealthCheckResult) {
	checkedAt := c.now().UTC()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("health check panicked",
				zap.String("provider", provider),
				zap.Any("panic", r),
			)
			result = adapter.HealthCheckResult{
				Provider:  provider,
				Status:    domain.HealthDown,
				Details:   fmt.Sprintf("health check panicked: %v", r),
				CheckedAt: checkedAt,
			}
		}
	}()

	adp, ok := c.registry.Get(provider)
	if !ok {
		return adapter.HealthCheckResult{
			Provider:  provider,
			Status:    domain.HealthDown,
			Details:   "adapter is not registered",
			CheckedAt: checkedAt,
		}
	}

	creds, err := c.resolveCredentials(ctx, provider)
	if err != nil {
		return adapter.HealthCheckResult{
			Provider:  provider,
			Status:    domain.HealthDown,
			Details:   fmt.Sprintf("failed to resolve credentials: %v", err),
			CheckedAt: checkedAt,
		}
	}

	checked, err := adp.HealthCheck(ctx, creds)
	if err != nil || checked == nil {
		details := "health check returned no result"
		if err != nil {
			details = err.Error()
		}
		return adapter.HealthCheckResult{
			Provider:  provider,
			Status:    domain.HealthDown,
			Details:   details,
			CheckedAt: checkedAt,
		}
	}

	if checked.Provider == "" {
		checked.Provider = provider
	}
	if checked.CheckedAt.IsZero() {
		checked.CheckedAt = checkedAt
	}
	return *checked
}

func (c *Checker) resolveCredentials(ctx context.Context, provider string) (adapter.Credentials, error) {
	cfg, err := c.configs.FindAnyForProvider(ctx, provider)
	if errors.Is(err, domain.ErrNotFound) {
		// No tenant is bound to this provider; self-test without secrets.
		return adapter.Credentials{}, nil
	}
	if err != nil {
		return nil, err
	}

	creds, err := c.configs.GetCredentials(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}
	return adapter.Credentials(creds), nil
}
