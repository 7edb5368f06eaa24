package adapter

import (
	"context"
	"time"

	"github.com/kursadbilgin/relay-guard/internal/domain"
	"github.com/kursadbilgin/relay-guard/internal/ratelimit"
)

// Credentials is the opaque secrets map resolved for a provider config.
type Credentials map[string]any

// SendResult is the uniform outcome of one adapter invocation. Adapters
// map provider-specific transport errors into this shape and enforce
// their own per-call timeout.
type SendResult struct {
	OK           bool
	MessageID    string
	ErrorMessage string
	RateLimit    *ratelimit.Info
}

// HealthCheckResult is one adapter's self-test verdict.
type HealthCheckResult struct {
	Provider  string              `json:"provider"`
	Status    domain.HealthStatus `json:"status"`
	LatencyMs int64               `json:"latencyMs"`
	Details   string              `json:"details,omitempty"`
	CheckedAt time.Time           `json:"checkedAt"`
}

// Adapter is the outbound provider port consumed by the dispatcher and
// the health checker.
type Adapter interface {
	Name() string
	Send(ctx context.Context, req domain.SendRequest, creds Credentials) (*SendResult, error)
	HealthCheck(ctx context.Context, creds Credentials) (*HealthCheckResult, error)
}
