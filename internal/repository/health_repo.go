package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kursadbilgin/relay-guard/internal/domain"
)

type HealthRepository interface {
	Get(ctx context.Context, tenantID, provider string) (*domain.ProviderHealth, error)
	Upsert(ctx context.Context, h *domain.ProviderHealth) error
	List(ctx context.Context, tenantID string) ([]domain.ProviderHealth, error)
}

type GormHealthRepo struct {
	db *gorm.DB
}

func NewGormHealthRepo(db *gorm.DB) *GormHealthRepo {
	return &GormHealthRepo{db: db}
}

func (r *GormHealthRepo) Get(ctx context.Context, tenantID, provider string) (*domain.ProviderHealth, error) {
	var model ProviderHealthModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return healthModelToDomain(&model), nil
}

// Upsert writes the whole row atomically keyed on (tenant, provider).
func (r *GormHealthRepo) Upsert(ctx context.Context, h *domain.ProviderHealth) error {
	if err := h.Validate(); err != nil {
		return err
	}

	model := healthModelFromDomain(h)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "provider"}},
			UpdateAll: true,
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	*h = *healthModelToDomain(model)
	return nil
}

func (r *GormHealthRepo) List(ctx context.Context, tenantID string) ([]domain.ProviderHealth, error) {
	query := r.db.WithContext(ctx).Model(&ProviderHealthModel{})
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}

	var models []ProviderHealthModel
	if err := query.Order("tenant_id, provider").Find(&models).Error; err != nil {
		return nil, err
	}

	healths := make([]domain.ProviderHealth, 0, len(models))
	for i := range models {
		healths = append(healths, *healthModelToDomain(&models[i]))
	}
	return healths, nil
}
