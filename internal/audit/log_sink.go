package audit

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes audit events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.logger == nil {
		return
	}

	s.logger.Info("audit event",
		zap.String("type", event.Type),
		zap.String("tenantId", event.TenantID),
		zap.String("provider", event.Provider),
		zap.String("channel", event.Channel),
		zap.String("deliveryId", event.DeliveryID),
		zap.String("correlationId", event.CorrelationID),
		zap.Any("details", event.Details),
	)
}
