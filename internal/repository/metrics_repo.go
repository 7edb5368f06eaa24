package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/kursadbilgin/relay-guard/internal/domain"
)

type MetricsRepository interface {
	Create(ctx context.Context, w *domain.MetricsWindow) error
	ListSince(ctx context.Context, tenantID, provider string, since time.Time) ([]domain.MetricsWindow, error)
}

type GormMetricsRepo struct {
	db *gorm.DB
}

func NewGormMetricsRepo(db *gorm.DB) *GormMetricsRepo {
	return &GormMetricsRepo{db: db}
}

func (r *GormMetricsRepo) Create(ctx context.Context, w *domain.MetricsWindow) error {
	model := metricsWindowModelFromDomain(w)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if w != nil {
		*w = *metricsWindowModelToDomain(model)
	}
	return nil
}

func (r *GormMetricsRepo) ListSince(ctx context.Context, tenantID, provider string, since time.Time) ([]domain.MetricsWindow, error) {
	var models []MetricsWindowModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ? AND window_start >= ?", tenantID, provider, since).
		Order("window_start ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	windows := make([]domain.MetricsWindow, 0, len(models))
	for i := range models {
		windows = append(windows, *metricsWindowModelToDomain(&models[i]))
	}
	return windows, nil
}
