package audit

import (
	"context"

	"go.uber.org/zap"
)

// Store persists audit events. Implemented by the repository layer.
type Store interface {
	SaveEvent(ctx context.Context, event Event) error
}

// StoreSink persists events best-effort. Persistence failures are logged
// and swallowed so the dispatch path is never blocked by the audit trail.
type StoreSink struct {
	store  Store
	logger *zap.Logger
}

func NewStoreSink(store Store, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{store: store, logger: logger}
}

func (s *StoreSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.store == nil {
		return
	}

	if err := s.store.SaveEvent(ctx, event); err != nil {
		s.logger.Warn("failed to persist audit event",
			zap.String("type", event.Type),
			zap.String("tenantId", event.TenantID),
			zap.String("provider", event.Provider),
			zap.Error(err),
		)
	}
}
