package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/kursadbilgin/relay-guard/internal/domain"
)

type SLOTargetRepository interface {
	// FindForTenant returns the tenant-scoped override, or ErrNotFound.
	FindForTenant(ctx context.Context, tenantID, provider string, channel *string) (*domain.SLOTarget, error)
	// FindDefault returns the provider-level default, or ErrNotFound.
	FindDefault(ctx context.Context, provider string, channel *string) (*domain.SLOTarget, error)
}

type GormSLOTargetRepo struct {
	db *gorm.DB
}

func NewGormSLOTargetRepo(db *gorm.DB) *GormSLOTargetRepo {
	return &GormSLOTargetRepo{db: db}
}

func (r *GormSLOTargetRepo) FindForTenant(ctx context.Context, tenantID, provider string, channel *string) (*domain.SLOTarget, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND provider = ?", tenantID, provider)
	query = scopeChannel(query, channel)

	var model SLOTargetModel
	err := query.First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sloTargetModelToDomain(&model), nil
}

func (r *GormSLOTargetRepo) FindDefault(ctx context.Context, provider string, channel *string) (*domain.SLOTarget, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id IS NULL AND provider = ?", provider)
	query = scopeChannel(query, channel)

	var model SLOTargetModel
	err := query.First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sloTargetModelToDomain(&model), nil
}

func scopeChannel(query *gorm.DB, channel *string) *gorm.DB {
	if channel == nil {
		return query.Where("channel IS NULL")
	}
	return query.Where("channel = ?", *channel)
}
