package domain

import "time"

// MetricsWindow is an immutable flushed snapshot per (tenant, provider,
// window bounds). Never updated after creation.
type MetricsWindow struct {
	ID               string
	TenantID         string
	Provider         string
	WindowLabel      string // "5m" or "1h"
	WindowStart      time.Time
	WindowEnd        time.Time
	SentCount        int
	SuccessCount     int
	FailureCount     int
	RateLimitedCount int
	TimeoutCount     int
	P50LatencyMs     int64
	P95LatencyMs     int64
	P99LatencyMs     int64
	CreatedAt        time.Time
}

// SLOTarget is the configured objective for a provider, optionally
// tenant- and channel-scoped. A nil TenantID row is the provider default.
type SLOTarget struct {
	ID                 string
	Provider           string
	TenantID           *string
	Channel            *string
	SuccessRateTarget  float64
	P95LatencyTargetMs int64
	WindowDays         int
}

const DefaultSLOWindowDays = 30

// Window returns the aggregation window, falling back to the default.
func (t *SLOTarget) Window() time.Duration {
	days := DefaultSLOWindowDays
	if t != nil && t.WindowDays > 0 {
		days = t.WindowDays
	}
	return time.Duration(days) * 24 * time.Hour
}
