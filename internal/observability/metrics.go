package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and dispatch flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	dispatchTotal           *prometheus.CounterVec
	dispatchAttemptDuration *prometheus.HistogramVec
	circuitTransitionsTotal *prometheus.CounterVec
	circuitRejectionsTotal  *prometheus.CounterVec
	chaosInterceptionsTotal *prometheus.CounterVec
	dlqEnqueuedTotal        *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay_guard",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relay_guard",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay_guard",
				Name:      "dispatch_total",
				Help:      "Total dispatched deliveries by provider, channel, and terminal status.",
			},
			[]string{"provider", "channel", "status"},
		),
		dispatchAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "relay_guard",
				Name:      "dispatch_attempt_duration_seconds",
				Help:      "Provider send attempt duration in seconds grouped by provider.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider"},
		),
		circuitTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay_guard",
				Name:      "circuit_transitions_total",
				Help:      "Total circuit breaker transitions by provider and resulting state.",
			},
			[]string{"provider", "state"},
		),
		circuitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay_guard",
				Name:      "circuit_rejections_total",
				Help:      "Total attempts rejected by an open or probing circuit.",
			},
			[]string{"provider"},
		),
		chaosInterceptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay_guard",
				Name:      "chaos_interceptions_total",
				Help:      "Total adapter calls intercepted by the chaos simulator by scenario.",
			},
			[]string{"scenario"},
		),
		dlqEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relay_guard",
				Name:      "dlq_enqueued_total",
				Help:      "Total deliveries routed to the dead-letter queue.",
			},
			[]string{"provider", "channel"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchTotal,
		m.dispatchAttemptDuration,
		m.circuitTransitionsTotal,
		m.circuitRejectionsTotal,
		m.chaosInterceptionsTotal,
		m.dlqEnqueuedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDispatch(provider, channel, status string) {
	if m == nil {
		return
	}
	m.dispatchTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(channel), normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveAttemptDuration(provider string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.dispatchAttemptDuration.WithLabelValues(normalizeLabel(provider)).Observe(seconds)
}

func (m *Metrics) IncCircuitTransition(provider, state string) {
	if m == nil {
		return
	}
	m.circuitTransitionsTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(state)).Inc()
}

func (m *Metrics) IncCircuitRejection(provider string) {
	if m == nil {
		return
	}
	m.circuitRejectionsTotal.WithLabelValues(normalizeLabel(provider)).Inc()
}

func (m *Metrics) IncChaosInterception(scenario string) {
	if m == nil {
		return
	}
	m.chaosInterceptionsTotal.WithLabelValues(normalizeLabel(scenario)).Inc()
}

func (m *Metrics) IncDLQEnqueued(provider, channel string) {
	if m == nil {
		return
	}
	m.dlqEnqueuedTotal.WithLabelValues(normalizeLabel(provider), normalizeLabel(channel)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
