package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kursadbilgin/relay-guard/internal/domain"
)

// DeliveryPatch carries the optional fields updated alongside a status
// transition.
type DeliveryPatch struct {
	ProviderMessageID *string
	LastError         *string
	AttemptCount      *int
}

type DeliveryRepository interface {
	Create(ctx context.Context, d *domain.Delivery) error
	GetByID(ctx context.Context, id string) (*domain.Delivery, error)
	UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, patch DeliveryPatch) error
}

type GormDeliveryRepo struct {
	db *gorm.DB
}

func NewGormDeliveryRepo(db *gorm.DB) *GormDeliveryRepo {
	return &GormDeliveryRepo{db: db}
}

func (r *GormDeliveryRepo) Create(ctx context.Context, d *domain.Delivery) error {
	model := deliveryModelFromDomain(d)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if d != nil {
		*d = *deliveryModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryRepo) GetByID(ctx context.Context, id string) (*domain.Delivery, error) {
	var model DeliveryModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryModelToDomain(&model), nil
}

func (r *GormDeliveryRepo) UpdateStatus(ctx context.Context, id string, status domain.DeliveryStatus, patch DeliveryPatch) error {
	updates := map[string]any{"status": status}
	if patch.ProviderMessageID != nil {
		updates["provider_message_id"] = *patch.ProviderMessageID
	}
	if patch.LastError != nil {
		updates["last_error"] = *patch.LastError
	}
	if patch.AttemptCount != nil {
		updates["attempt_count"] = *patch.AttemptCount
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
