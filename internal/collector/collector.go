package collector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/relay-guard/internal/domain"
	"github.com/kursadbilgin/relay-guard/internal/repository"
)

const (
	WindowLabelShort = "5m"
	WindowLabelLong  = "1h"

	degradedThreshold = 2
	downThreshold     = 5
)

var windowSpecs = []struct {
	label string
	size  time.Duration
}{
	{WindowLabelShort, 5 * time.Minute},
	{WindowLabelLong, time.Hour},
}

// Event is one attempt outcome fed into the rolling windows.
type Event struct {
	TenantID    string
	Provider    string
	Success     bool
	LatencyMs   int64
	RateLimited bool
	Timeout     bool
}

type buffer struct {
	windowStart time.Time
	windowEnd   time.Time
	sent        int
	success     int
	failure     int
	rateLimited int
	timeout     int
	latencies   []int64
}

// Collector accumulates attempt outcomes into two process-local rolling
// windows (5m and 1h) per (tenant, provider) and flushes each window as
// an immutable snapshot when a newer event crosses its boundary. Flushes
// are pull-triggered: an idle pair only flushes on its next event or on
// an explicit FlushAll.
type Collector struct {
	metrics repository.MetricsRepository
	health  repository.HealthRepository
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	buffers map[string]*buffer
}

func New(metrics repository.MetricsRepository, health repository.HealthRepository, logger *zap.Logger) (*Collector, error) {
	if metrics == nil {
		return nil, fmt.Errorf("metrics repository is required")
	}
	if health == nil {
		return nil, fmt.Errorf("health repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Collector{
		metrics: metrics,
		health:  health,
		logger:  logger,
		now:     time.Now,
		buffers: make(map[string]*buffer),
	}, nil
}

// Record appends one outcome to both rolling windows, flushing any
// window whose boundary the event has crossed.
func (c *Collector) Record(ctx context.Context, ev Event) error {
	if ev.TenantID == "" || ev.Provider == "" {
		return fmt.Errorf("%w: tenant id and provider are required", domain.ErrValidation)
	}

	now := c.now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, spec := range windowSpecs {
		key := bufferKey(ev.TenantID, ev.Provider, spec.label)
		windowStart := now.Truncate(spec.size)

		buf, ok := c.buffers[key]
		if ok && !buf.windowStart.Equal(windowStart) {
			if err := c.flushLocked(ctx, ev.TenantID, ev.Provider, spec.label, buf); err != nil {
				return err
			}
			ok = false
		}
		if !ok {
			buf = &buffer{
				windowStart: windowStart,
				windowEnd:   windowStart.Add(spec.size),
			}
			c.buffers[key] = buf
		}

		buf.sent++
		if ev.Success {
			buf.success++
		} else {
			buf.failure++
		}
		if ev.RateLimited {
			buf.rateLimited++
		}
		if ev.Timeout {
			buf.timeout++
		}
		buf.latencies = append(buf.latencies, ev.LatencyMs)
	}

	return nil
}

// FlushAll drains every non-empty buffer, for shutdown or a scheduled
// sweep. Flush failures are logged and the remaining buffers still
// drain; the first error is returned.
func (c *Collector) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for key, buf := range c.buffers {
		tenantID, provider, label, ok := splitBufferKey(key)
		if !ok {
			delete(c.buffers, key)
			continue
		}
		if err := c.flushLocked(ctx, tenantID, provider, label, buf); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(c.buffers, key)
	}
	return firstErr
}

func (c *Collector) flushLocked(ctx context.Context, tenantID, provider, label string, buf *buffer) error {
	if buf == nil || buf.sent == 0 {
		return nil
	}

	sorted := make([]int64, len(buf.latencies))
	copy(sorted, buf.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	window := &domain.MetricsWindow{
		TenantID:         tenantID,
		Provider:         provider,
		WindowLabel:      label,
		WindowStart:      buf.windowStart,
		WindowEnd:        buf.windowEnd,
		SentCount:        buf.sent,
		SuccessCount:     buf.success,
		FailureCount:     buf.failure,
		RateLimitedCount: buf.rateLimited,
		TimeoutCount:     buf.timeout,
		P50LatencyMs:     Percentile(sorted, 50),
		P95LatencyMs:     Percentile(sorted, 95),
		P99LatencyMs:     Percentile(sorted, 99),
	}

	if err := c.metrics.Create(ctx, window); err != nil {
		c.logger.Error("failed to flush metrics window",
			zap.String("tenantId", tenantID),
			zap.String("provider", provider),
			zap.String("window", label),
			zap.Error(err),
		)
		return fmt.Errorf("failed to flush metrics window: %w", err)
	}

	c.logger.Debug("flushed metrics window",
		zap.String("tenantId", tenantID),
		zap.String("provider", provider),
		zap.String("window", label),
		zap.Int("sent", buf.sent),
	)
	return nil
}

// UpdateHealthSnapshot derives the coarse provider status from the
// stored consecutive-failure count. The circuit fields and the failure
// counter itself belong to the breaker and are written back unchanged.
func (c *Collector) UpdateHealthSnapshot(ctx context.Context, tenantID, provider string, success bool, errorCode, errorMessage *string) error {
	health, err := c.health.Get(ctx, tenantID, provider)
	if errors.Is(err, domain.ErrNotFound) {
		health = &domain.ProviderHealth{
			TenantID:     tenantID,
			Provider:     provider,
			CircuitState: domain.CircuitClosed,
		}
	} else if err != nil {
		return fmt.Errorf("failed to load provider health: %w", err)
	}

	health.Status = statusFor(health.ConsecutiveFailures)
	if success {
		health.LastErrorCode = nil
		health.LastErrorMessage = nil
	} else {
		health.LastErrorCode = errorCode
		health.LastErrorMessage = errorMessage
	}
	health.UpdatedAt = c.now().UTC()

	return c.health.Upsert(ctx, health)
}

func statusFor(consecutiveFailures int) domain.HealthStatus {
	switch {
	case consecutiveFailures >= downThreshold:
		return domain.HealthDown
	case consecutiveFailures >= degradedThreshold:
		return domain.HealthDegraded
	default:
		return domain.HealthOK
	}
}

// Percentile returns the nearest-rank percentile of a sorted ascending
// sample: the element at index ceil(p/100*n)-1, clamped. Zero for an
// empty sample.
func Percentile(sorted []int64, p float64) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}

	idx := int(math.Ceil(p/100*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

func bufferKey(tenantID, provider, label string) string {
	return tenantID + "\x00" + provider + "\x00" + label
}

func splitBufferKey(key string) (tenantID, provider, label string, ok bool) {
	first := -1
	second := -1
	for i := 0; i < len(key); i++ {
		if key[i] != '\x00' {
			continue
		}
		if first == -1 {
			first = i
		} else {
			second = i
			break
		}
	}
	if first == -1 || second == -1 {
		return "", "", "", false
	}
	return key[:first], key[first+1 : second], key[second+1:], true
}
