package domain

import (
	"fmt"
	"strings"
	"time"
)

// CircuitState is the breaker state persisted per (tenant, provider).
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

func (s CircuitState) String() string { return string(s) }

func (s CircuitState) IsValid() bool {
	switch s {
	case CircuitClosed, CircuitOpen, CircuitHalfOpen:
		return true
	}
	return false
}

// HealthStatus is the coarse provider status derived from recent outcomes.
type HealthStatus string

const (
	HealthOK       HealthStatus = "ok"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

func (s HealthStatus) String() string { return string(s) }

func (s HealthStatus) IsValid() bool {
	switch s {
	case HealthOK, HealthDegraded, HealthDown:
		return true
	}
	return false
}

func ParseHealthStatusFromString(s string) (HealthStatus, error) {
	st := HealthStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid health status %q", ErrValidation, s)
	}
	return st, nil
}

// ProviderHealth is one row per (tenant, provider). The circuit fields are
// written only by the breaker; status/failure fields only by the collector.
// Invariant: CircuitNextRetryAt is set iff CircuitState == open.
type ProviderHealth struct {
	ID                  string
	TenantID            string
	Provider            string
	Status              HealthStatus
	ConsecutiveFailures int
	CircuitState        CircuitState
	LastErrorCode       *string
	LastErrorMessage    *string
	CircuitOpenedAt     *time.Time
	CircuitNextRetryAt  *time.Time
	UpdatedAt           time.Time
}

func (h *ProviderHealth) Validate() error {
	if h == nil {
		return fmt.Errorf("%w: provider health is required", ErrValidation)
	}
	if strings.TrimSpace(h.TenantID) == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if strings.TrimSpace(h.Provider) == "" {
		return fmt.Errorf("%w: provider is required", ErrValidation)
	}
	open := h.CircuitState == CircuitOpen
	if open && h.CircuitNextRetryAt == nil {
		return fmt.Errorf("%w: open circuit requires next retry timestamp", ErrValidation)
	}
	if !open && h.CircuitNextRetryAt != nil {
		return fmt.Errorf("%w: next retry timestamp requires an open circuit", ErrValidation)
	}
	return nil
}
