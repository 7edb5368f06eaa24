package ratelimit

import "context"

// RateLimiter controls outbound call throughput per provider. The
// dispatcher waits on it before every real adapter call so a burst of
// tenants cannot exceed a provider's contracted rate.
type RateLimiter interface {
	Allow(ctx context.Context, provider string) (bool, error)
	Wait(ctx context.Context, provider string) error
}
