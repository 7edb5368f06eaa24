package audit

import "context"

// Event types emitted by the runtime.
const (
	TypeDeliveryQueued  = "delivery.queued"
	TypeDeliverySent    = "delivery.sent"
	TypeDeliveryFailed  = "delivery.failed"
	TypeDeliveryDLQ     = "delivery.dlq"
	TypeCircuitOpened   = "circuit.opened"
	TypeCircuitHalfOpen = "circuit.half_open"
	TypeCircuitClosed   = "circuit.closed"
	TypeSLABreach       = "sla.breach"
)

// Event is one audit trail entry.
type Event struct {
	Type          string         `json:"type"`
	TenantID      string         `json:"tenantId"`
	Provider      string         `json:"provider"`
	Channel       string         `json:"channel,omitempty"`
	DeliveryID    string         `json:"deliveryId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Sink receives audit events. Implementations are fire-and-forget: they
// must never block or fail the dispatch path.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(ctx context.Context, event Event) {}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}
