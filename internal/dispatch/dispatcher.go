package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kursadbilgin/relay-guard/internal/adapter"
	"github.com/kursadbilgin/relay-guard/internal/audit"
	"github.com/kursadbilgin/relay-guard/internal/breaker"
	"github.com/kursadbilgin/relay-guard/internal/chaos"
	"github.com/kursadbilgin/relay-guard/internal/collector"
	"github.com/kursadbilgin/relay-guard/internal/domain"
	"github.com/kursadbilgin/relay-guard/internal/observability"
	"github.com/kursadbilgin/relay-guard/internal/queue"
	"github.com/kursadbilgin/relay-guard/internal/ratelimit"
	"github.com/kursadbilgin/relay-guard/internal/repository"
	"github.com/kursadbilgin/relay-guard/internal/retry"
)

// CircuitGate gates and observes individual attempts.
type CircuitGate interface {
	CanExecute(ctx context.Context, tenantID, provider string) (breaker.Decision, error)
	RecordResult(ctx context.Context, tenantID, provider string, success bool, stats *breaker.WindowStats) error
}

// OutcomeRecorder feeds attempt outcomes into the rolling metrics and
// the coarse health snapshot.
type OutcomeRecorder interface {
	Record(ctx context.Context, ev collector.Event) error
	UpdateHealthSnapshot(ctx context.Context, tenantID, provider string, success bool, errorCode, errorMessage *string) error
}

// ChaosInterceptor is consulted before every real adapter call.
type ChaosInterceptor interface {
	Intercept(tenantID, provider string) *chaos.Interception
}

// Result is the well-formed outcome of one dispatch. Adapter errors
// never escape as Go errors; they surface here as a dlq status with a
// classified ErrorCode. RetryAt is set when an open circuit caused the
// exhaustion, so callers can tell a breaker rejection from a provider
// failure.
type Result struct {
	DeliveryID        string                `json:"deliveryId"`
	Status            domain.DeliveryStatus `json:"status"`
	Provider          string                `json:"provider"`
	ProviderMessageID string                `json:"providerMessageId,omitempty"`
	Attempts          int                   `json:"attempts"`
	Error             string                `json:"error,omitempty"`
	ErrorCode         string                `json:"errorCode,omitempty"`
	RetryAt           *time.Time            `json:"retryAt,omitempty"`
}

const circuitOpenCode = "CIRCUIT_OPEN"

// CircuitOpenError reports an attempt rejected by the breaker, keeping
// the moment the circuit admits a probe again.
type CircuitOpenError struct {
	Reason  string
	RetryAt *time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.Reason == "" {
		return domain.ErrCircuitOpen.Error()
	}
	return fmt.Sprintf("%s: %s", domain.ErrCircuitOpen.Error(), e.Reason)
}

func (e *CircuitOpenError) Unwrap() error { return domain.ErrCircuitOpen }

// Dispatcher orchestrates the delivery lifecycle: resolve config, create
// the queued record, run the adapter under retry with the breaker, rate
// limiter and chaos simulator wrapped around every attempt, then
// finalize as sent or dlq.
type Dispatcher struct {
	configs    repository.ChannelConfigRepository
	deliveries repository.DeliveryRepository
	registry   *adapter.Registry
	gate       CircuitGate
	recorder   OutcomeRecorder
	chaos      ChaosInterceptor
	limiter    ratelimit.RateLimiter
	dlq        queue.DeadLetterSink
	audit      audit.Sink
	metrics    *observability.Metrics
	logger     *zap.Logger

	retryOpts retry.Options
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

type Deps struct {
	Configs    repository.ChannelConfigRepository
	Deliveries repository.DeliveryRepository
	Registry   *adapter.Registry
	Gate       CircuitGate
	Recorder   OutcomeRecorder
	Chaos      ChaosInterceptor
	Limiter    ratelimit.RateLimiter
	DLQ        queue.DeadLetterSink
	Audit      audit.Sink
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	RetryOpts  retry.Options
}

func New(deps Deps) (*Dispatcher, error) {
	if deps.Configs == nil {
		return nil, fmt.Errorf("channel config repository is required")
	}
	if deps.Deliveries == nil {
		return nil, fmt.Errorf("delivery repository is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if deps.Gate == nil {
		return nil, fmt.Errorf("circuit gate is required")
	}
	if deps.Recorder == nil {
		return nil, fmt.Errorf("outcome recorder is required")
	}
	if deps.DLQ == nil {
		return nil, fmt.Errorf("dead-letter sink is required")
	}
	if deps.Audit == nil {
		deps.Audit = audit.NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &Dispatcher{
		configs:    deps.Configs,
		deliveries: deps.Deliveries,
		registry:   deps.Registry,
		gate:       deps.Gate,
		recorder:   deps.Recorder,
		chaos:      deps.Chaos,
		limiter:    deps.Limiter,
		dlq:        deps.DLQ,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		retryOpts:  deps.RetryOpts,
		now:        time.Now,
		sleep:      sleepWithContext,
	}, nil
}

// Dispatch runs the full lifecycle for one request. A missing provider
// config is fatal and returns before any delivery record exists; once
// the record is created the call always returns a well-formed Result.
func (d *Dispatcher) Dispatch(ctx context.Context, req domain.SendRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cfg, err := d.configs.ResolveActive(ctx, req.TenantID, req.Channel)
	if err != nil {
		return nil, err
	}

	adp, ok := d.registry.Get(cfg.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: no adapter registered for provider %q", domain.ErrNoProviderConfig, cfg.Provider)
	}

	rawCreds, err := d.configs.GetCredentials(ctx, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials: %w", err)
	}
	creds := adapter.Credentials(rawCreds)

	delivery := &domain.Delivery{
		TenantID:      req.TenantID,
		Provider:      cfg.Provider,
		Channel:       req.Channel,
		ConfigID:      cfg.ID,
		Recipient:     req.Recipient,
		TemplateID:    req.TemplateID,
		Payload:       req.Payload,
		CorrelationID: req.CorrelationID,
		Status:        domain.DeliveryQueued,
	}
	if err := d.deliveries.Create(ctx, delivery); err != nil {
		return nil, fmt.Errorf("failed to create delivery: %w", err)
	}

	d.emit(ctx, audit.TypeDeliveryQueued, delivery, nil)

	outcome := retry.Do(ctx, d.retryOpts, func(ctx context.Context) (*adapter.SendResult, error) {
		return d.attempt(ctx, adp, req, cfg.Provider, creds)
	})

	if outcome.OK {
		return d.finalizeSent(ctx, delivery, outcome.Data, outcome.Attempts)
	}
	return d.finalizeDLQ(ctx, delivery, outcome.Err, outcome.Attempts)
}

// attempt is one gated adapter call: breaker, chaos, rate limit, send,
// then outcome bookkeeping.
func (d *Dispatcher) attempt(ctx context.Context, adp adapter.Adapter, req domain.SendRequest, provider string, creds adapter.Credentials) (*adapter.SendResult, error) {
	decision, err := d.gate.CanExecute(ctx, req.TenantID, provider)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		if d.metrics != nil {
			d.metrics.IncCircuitRejection(provider)
		}
		// The adapter is not called and the breaker not fed: a rejected
		// attempt says nothing new about the provider.
		return nil, &CircuitOpenError{Reason: decision.Reason, RetryAt: decision.RetryAt}
	}

	if d.chaos != nil {
		if verdict := d.chaos.Intercept(req.TenantID, provider); verdict != nil {
			if d.metrics != nil {
				d.metrics.IncChaosInterception(string(verdict.Scenario))
			}
			if verdict.Intercepted {
				return nil, d.recordSynthetic(ctx, req.TenantID, provider, verdict)
			}
			if verdict.DelayMs > 0 {
				if err := d.sleep(ctx, time.Duration(verdict.DelayMs)*time.Millisecond); err != nil {
					return nil, err
				}
			}
		}
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx, provider); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	start := d.now()
	result, sendErr := adp.Send(ctx, req, creds)
	latency := d.now().Sub(start)

	if d.metrics != nil {
		d.metrics.ObserveAttemptDuration(provider, latency)
	}

	success := sendErr == nil && result != nil && result.OK
	d.observe(ctx, req.TenantID, provider, success, latency, result, sendErr)

	if success {
		return result, nil
	}

	failure := sendErr
	if failure == nil {
		failure = fmt.Errorf("provider %s rejected the request: %s", provider, result.ErrorMessage)
	}
	if result != nil && result.RateLimit != nil && result.RateLimit.IsRateLimited && result.RateLimit.RetryAfterMs > 0 {
		// The provider said when to come back; pace the next attempt
		// with the larger of that hint and the backoff curve.
		return nil, retry.RetryAfter(failure, time.Duration(result.RateLimit.RetryAfterMs)*time.Millisecond)
	}
	var adapterErr *adapter.AdapterError
	if errors.As(sendErr, &adapterErr) && !adapter.IsTransient(sendErr) {
		// A permanent rejection will not heal on the backoff curve.
		return nil, retry.Permanent(failure)
	}
	return nil, failure
}

// recordSynthetic books a chaos interception as a real failed attempt.
func (d *Dispatcher) recordSynthetic(ctx context.Context, tenantID, provider string, verdict *chaos.Interception) error {
	code := "CHAOS"
	d.feedOutcome(ctx, tenantID, provider, false, collector.Event{
		TenantID:    tenantID,
		Provider:    provider,
		Success:     false,
		RateLimited: verdict.RateLimit != nil && verdict.RateLimit.IsRateLimited,
	}, &code, &verdict.ErrorMsg)

	err := fmt.Errorf("chaos interception (%s): %s", verdict.Scenario, verdict.ErrorMsg)
	if verdict.RateLimit != nil && verdict.RateLimit.IsRateLimited && verdict.RateLimit.RetryAfterMs > 0 {
		return retry.RetryAfter(err, time.Duration(verdict.RateLimit.RetryAfterMs)*time.Millisecond)
	}
	return err
}

func (d *Dispatcher) observe(ctx context.Context, tenantID, provider string, success bool, latency time.Duration, result *adapter.SendResult, sendErr error) {
	ev := collector.Event{
		TenantID:  tenantID,
		Provider:  provider,
		Success:   success,
		LatencyMs: latency.Milliseconds(),
		Timeout:   adapter.IsTimeout(sendErr),
	}
	if result != nil && result.RateLimit != nil && result.RateLimit.IsRateLimited {
		ev.RateLimited = true
	}

	var code, message *string
	if !success {
		c, m := classifyFailure(result, sendErr)
		code, message = &c, &m
	}

	d.feedOutcome(ctx, tenantID, provider, success, ev, code, message)
}

// feedOutcome keeps the bookkeeping order fixed: the breaker moves the
// failure counter first, then the collector derives status from it.
func (d *Dispatcher) feedOutcome(ctx context.Context, tenantID, provider string, success bool, ev collector.Event, code, message *string) {
	logger := observability.WithDispatchFields(d.logger, tenantID, provider)
	if err := d.gate.RecordResult(ctx, tenantID, provider, success, nil); err != nil {
		logger.Error("failed to record breaker result", zap.Error(err))
	}
	if err := d.recorder.Record(ctx, ev); err != nil {
		logger.Error("failed to record metrics event", zap.Error(err))
	}
	if err := d.recorder.UpdateHealthSnapshot(ctx, tenantID, provider, success, code, message); err != nil {
		logger.Error("failed to update health snapshot", zap.Error(err))
	}
}

func (d *Dispatcher) finalizeSent(ctx context.Context, delivery *domain.Delivery, result *adapter.SendResult, attempts int) (*Result, error) {
	patch := repository.DeliveryPatch{AttemptCount: &attempts}
	if result.MessageID != "" {
		patch.ProviderMessageID = &result.MessageID
	}
	if err := d.deliveries.UpdateStatus(ctx, delivery.ID, domain.DeliverySent, patch); err != nil {
		d.logger.Error("failed to mark delivery sent",
			zap.String("deliveryId", delivery.ID),
			zap.Error(err),
		)
	}

	d.emit(ctx, audit.TypeDeliverySent, delivery, map[string]any{
		"providerMessageId": result.MessageID,
		"attempts":          attempts,
	})
	if d.metrics != nil {
		d.metrics.IncDispatch(delivery.Provider, delivery.Channel.String(), "sent")
	}

	return &Result{
		DeliveryID:        delivery.ID,
		Status:            domain.DeliverySent,
		Provider:          delivery.Provider,
		ProviderMessageID: result.MessageID,
		Attempts:          attempts,
	}, nil
}

func (d *Dispatcher) finalizeDLQ(ctx context.Context, delivery *domain.Delivery, lastErr error, attempts int) (*Result, error) {
	errMsg := "delivery failed"
	if lastErr != nil {
		errMsg = lastErr.Error()
	}

	patch := repository.DeliveryPatch{AttemptCount: &attempts, LastError: &errMsg}
	if err := d.deliveries.UpdateStatus(ctx, delivery.ID, domain.DeliveryDLQ, patch); err != nil {
		d.logger.Error("failed to mark delivery dlq",
			zap.String("deliveryId", delivery.ID),
			zap.Error(err),
		)
	}

	d.emit(ctx, audit.TypeDeliveryFailed, delivery, map[string]any{
		"error":    errMsg,
		"attempts": attempts,
	})

	dlqErr := d.dlq.EnqueueDLQ(ctx, queue.DeadLetterMessage{
		DeliveryID:    delivery.ID,
		TenantID:      delivery.TenantID,
		Provider:      delivery.Provider,
		Channel:       delivery.Channel,
		CorrelationID: delivery.CorrelationID,
		AttemptCount:  attempts,
		LastError:     errMsg,
		Payload:       delivery.Payload,
	})
	if dlqErr != nil {
		d.logger.Error("failed to enqueue dead letter",
			zap.String("deliveryId", delivery.ID),
			zap.Error(dlqErr),
		)
	} else if d.metrics != nil {
		d.metrics.IncDLQEnqueued(delivery.Provider, delivery.Channel.String())
	}

	d.emit(ctx, audit.TypeDeliveryDLQ, delivery, map[string]any{
		"error":    errMsg,
		"attempts": attempts,
	})
	if d.metrics != nil {
		d.metrics.IncDispatch(delivery.Provider, delivery.Channel.String(), "dlq")
	}

	observability.WithContextLogger(d.logger, ctx).Warn("delivery exhausted retries",
		zap.String("deliveryId", delivery.ID),
		zap.String("tenantId", delivery.TenantID),
		zap.String("provider", delivery.Provider),
		zap.Int("attempts", attempts),
		zap.String("error", errMsg),
	)

	res := &Result{
		DeliveryID: delivery.ID,
		Status:     domain.DeliveryDLQ,
		Provider:   delivery.Provider,
		Attempts:   attempts,
		Error:      errMsg,
	}
	var open *CircuitOpenError
	switch {
	case errors.As(lastErr, &open):
		res.ErrorCode = circuitOpenCode
		res.RetryAt = open.RetryAt
	case lastErr != nil:
		code, _ := classifyFailure(nil, lastErr)
		res.ErrorCode = code
	}
	return res, nil
}

func (d *Dispatcher) emit(ctx context.Context, eventType string, delivery *domain.Delivery, details map[string]any) {
	d.audit.Emit(ctx, audit.Event{
		Type:          eventType,
		TenantID:      delivery.TenantID,
		Provider:      delivery.Provider,
		Channel:       delivery.Channel.String(),
		DeliveryID:    delivery.ID,
		CorrelationID: delivery.CorrelationID,
		Details:       details,
	})
}

func classifyFailure(result *adapter.SendResult, sendErr error) (code, message string) {
	var adapterErr *adapter.AdapterError
	switch {
	case errors.As(sendErr, &adapterErr) && adapterErr.StatusCode > 0:
		return fmt.Sprintf("HTTP_%d", adapterErr.StatusCode), adapterErr.Message
	case adapter.IsTimeout(sendErr):
		return "TIMEOUT", sendErr.Error()
	case sendErr != nil:
		return "TRANSPORT", sendErr.Error()
	case result != nil:
		return "PROVIDER_REJECTED", result.ErrorMessage
	default:
		return "UNKNOWN", "unknown failure"
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
