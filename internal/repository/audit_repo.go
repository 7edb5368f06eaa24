package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kursadbilgin/relay-guard/internal/audit"
)

// GormAuditRepo persists audit events. It implements audit.Store.
type GormAuditRepo struct {
	db *gorm.DB
}

func NewGormAuditRepo(db *gorm.DB) *GormAuditRepo {
	return &GormAuditRepo{db: db}
}

func (r *GormAuditRepo) SaveEvent(ctx context.Context, event audit.Event) error {
	model := &AuditEventModel{
		ID:        uuid.NewString(),
		Type:      event.Type,
		TenantID:  event.TenantID,
		Provider:  event.Provider,
		Details:   datatypes.JSONMap(event.Details),
		CreatedAt: time.Now().UTC(),
	}
	if event.Channel != "" {
		model.Channel = &event.Channel
	}
	if event.DeliveryID != "" {
		model.DeliveryID = &event.DeliveryID
	}
	if event.CorrelationID != "" {
		model.CorrelationID = &event.CorrelationID
	}

	return r.db.WithContext(ctx).Create(model).Error
}
