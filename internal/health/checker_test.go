package health

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/relay-guard/internal/adapter"
	"github.com/kursadbilgin/relay-guard/internal/domain"
)

type fakeAdapter struct {
	name          string
	sendFn        func(ctx context.Context, req domain.SendRequest, creds adapter.Credentials) (*adapter.SendResult, error)
	healthCheckFn func(ctx context.Context, creds adapter.Credentials) (*adapter.HealthCheckResult, error)
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Send(ctx context.Context, req domain.SendRequest, creds adapter.Credentials) (*adapter.SendResult, error) {
	if f.sendFn == nil {
		return &adapter.SendResult{OK: true}, nil
	}
	return f.sendFn(ctx, req, creds)
}

func (f *fakeAdapter) HealthCheck(ctx context.Context, creds adapter.Credentials) (*adapter.HealthCheckResult, error) {
	if f.healthCheckFn == nil {
		return &adapter.HealthCheckResult{Provider: f.name, Status: domain.HealthOK}, nil
	}
	return f.healthCheckFn(ctx, creds)
}

type fakeConfigRepo struct {
	findAnyForProviderFn func(ctx context.Context, provider string) (*domain.ChannelConfig, error)
	getCredentialsFn     func(ctx context.Context, configID string) (map[string]any, error)
}

func (f *fakeConfigRepo) ResolveActive(ctx context.Context, tenantID string, channel domain.Channel) (*domain.ChannelConfig, error) {
	return nil, domain.ErrNoProviderConfig
}

func (f *fakeConfigRepo) GetCredentials(ctx context.Context, configID string) (map[string]any, error) {
	if f.getCredentialsFn == nil {
		return map[string]any{}, nil
	}
	return f.getCredentialsFn(ctx, configID)
}

func (f *fakeConfigRepo) FindAnyForProvider(ctx context.Context, provider string) (*domain.ChannelConfig, error) {
	if f.findAnyForProviderFn == nil {
		return nil, domain.ErrNotFound
	}
	return f.findAnyForProviderFn(ctx, provider)
}

func newTestChecker(t *testing.T, registry *adapter.Registry, configs *fakeConfigRepo) *Checker {
	t.Helper()

	c, err := New(registry, configs, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func mustRegister(t *testing.T, registry *adapter.Registry, a adapter.Adapter) {
	t.Helper()
	if err := registry.Register(a); err != nil {
		t.Fatalf("Register(%s) error = %v", a.Name(), err)
	}
}

func TestCheckAllAggregatesWorstStatus(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	mustRegister(t, registry, &fakeAdapter{name: "sendgrid"})
	mustRegister(t, registry, &fakeAdapter{
		name: "slack",
		healthCheckFn: func(ctx context.Context, creds adapter.Credentials) (*adapter.HealthCheckResult, error) {
			return &adapter.HealthCheckResult{Provider: "slack", Status: domain.HealthDegraded, LatencyMs: 1500}, nil
		},
	})

	checker := newTestChecker(t, registry, &fakeConfigRepo{})
	report := checker.CheckAll(context.Background())

	if report.Status != domain.HealthDegraded {
		t.Fatalf("Status = %q, want degraded", report.Status)
	}
	if len(report.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(report.Providers))
	}
}

func TestCheckAllDownBeatsDegraded(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	mustRegister(t, registry, &fakeAdapter{
		name: "sendgrid",
		healthCheckFn: func(ctx context.Context, creds adapter.Credentials) (*adapter.HealthCheckResult, error) {
			return &adapter.HealthCheckResult{Provider: "sendgrid", Status: domain.HealthDegraded}, nil
		},
	})
	mustRegister(t, registry, &fakeAdapter{
		name: "twilio",
		healthCheckFn: func(ctx context.Context, creds adapter.Credentials) (*adapter.HealthCheckResult, error) {
			return &adapter.HealthCheckResult{Provider: "twilio", Status: domain.HealthDown}, nil
		},
	})

	checker := newTestChecker(t, registry, &fakeConfigRepo{})
	report := checker.CheckAll(context.Background())

	if report.Status != domain.HealthDown {
		t.Fatalf("Status = %q, want down", report.Status)
	}
}

func TestCheckAllAllHealthy(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	mustRegister(t, registry, &fakeAdapter{name: "sendgrid"})
	mustRegister(t, registry, &fakeAdapter{name: "twilio"})

	checker := newTestChecker(t, registry, &fakeConfigRepo{})
	report := checker.CheckAll(context.Background())

	if report.Status != domain.HealthOK {
		t.Fatalf("Status = %q, want ok", report.Status)
	}
}

func TestCheckOnePanicMapsToDown(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	mustRegister(t, registry, &fakeAdapter{
		name: "hubspot",
		healthCheckFn: func(ctx context.Context, creds adapter.Credentials) (*adapter.HealthCheckResult, error) {
			panic("boom")
		},
	})

	checker := newTestChecker(t, registry, &fakeConfigRepo{})
	report := checker.CheckAll(context.Background())

	if report.Status != domain.HealthDown {
		t.Fatalf("Status = %q, want down after panic", report.Status)
	}
	if len(report.Providers) != 1 || report.Providers[0].Status != domain.HealthDown {
		t.Fatalf("provider verdict = %+v, want down", report.Providers)
	}
}

func TestCheckOneErrorMapsToDown(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	mustRegister(t, registry, &fakeAdapter{
		name: "teams",
		healthCheckFn: func(ctx context.Context, creds adapter.Credentials) (*adapter.HealthCheckResult, error) {
			return nil, context.DeadlineExceeded
		},
	})

	checker := newTestChecker(t, registry, &fakeConfigRepo{})
	report := checker.CheckAll(context.Background())

	if report.Status != domain.HealthDown {
		t.Fatalf("Status = %q, want down", report.Status)
	}
}

func TestCheckOneResolvesBoundCredentials(t *testing.T) {
	t.Parallel()

	var seen adapter.Credentials
	registry := adapter.NewRegistry()
	mustRegister(t, registry, &fakeAdapter{
		name: "sendgrid",
		healthCheckFn: func(ctx context.Context, creds adapter.Credentials) (*adapter.HealthCheckResult, error) {
			seen = creds
			return &adapter.HealthCheckResult{Provider: "sendgrid", Status: domain.HealthOK}, nil
		},
	})

	configs := &fakeConfigRepo{
		findAnyForProviderFn: func(ctx context.Context, provider string) (*domain.ChannelConfig, error) {
			return &domain.ChannelConfig{ID: "cfg-1", Provider: provider, Active: true}, nil
		},
		getCredentialsFn: func(ctx context.Context, configID string) (map[string]any, error) {
			if configID != "cfg-1" {
				t.Fatalf("configID = %q, want cfg-1", configID)
			}
			return map[string]any{"api_key": "secret"}, nil
		},
	}

	checker := newTestChecker(t, registry, configs)
	report := checker.CheckAll(context.Background())

	if report.Status != domain.HealthOK {
		t.Fatalf("Status = %q, want ok", report.Status)
	}
	if seen["api_key"] != "secret" {
		t.Fatalf("credentials = %v, want resolved secret", seen)
	}
}

func TestCheckAllStampsCheckedAt(t *testing.T) {
	t.Parallel()

	registry := adapter.NewRegistry()
	mustRegister(t, registry, &fakeAdapter{
		name: "sendgrid",
		healthCheckFn: func(ctx context.Context, creds adapter.Credentials) (*adapter.HealthCheckResult, error) {
			return &adapter.HealthCheckResult{Provider: "sendgrid", Status: domain.HealthOK}, nil
		},
	})

	checker := newTestChecker(t, registry, &fakeConfigRepo{})
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	checker.now = func() time.Time { return fixed }

	report := checker.CheckAll(context.Background())
	if !report.CheckedAt.Equal(fixed) {
		t.Fatalf("CheckedAt = %v, want %v", report.CheckedAt, fixed)
	}
	if !report.Providers[0].CheckedAt.Equal(fixed) {
		t.Fatalf("provider CheckedAt = %v, want %v", report.Providers[0].CheckedAt, fixed)
	}
}
