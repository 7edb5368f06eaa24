package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kursadbilgin/relay-guard/internal/domain"
)

// ChannelConfigRepository resolves the active provider binding and its
// credentials for a tenant+channel. Credential lifecycle management is
// out of scope; rows are consumed as-is.
type ChannelConfigRepository interface {
	ResolveActive(ctx context.Context, tenantID string, channel domain.Channel) (*domain.ChannelConfig, error)
	GetCredentials(ctx context.Context, configID string) (map[string]any, error)
	// FindAnyForProvider returns any active config bound to a provider,
	// used by the health checker to self-test with real credentials.
	FindAnyForProvider(ctx context.Context, provider string) (*domain.ChannelConfig, error)
}

type GormChannelConfigRepo struct {
	db *gorm.DB
}

func NewGormChannelConfigRepo(db *gorm.DB) *GormChannelConfigRepo {
	return &GormChannelConfigRepo{db: db}
}

func (r *GormChannelConfigRepo) ResolveActive(ctx context.Context, tenantID string, channel domain.Channel) (*domain.ChannelConfig, error) {
	var model ChannelConfigModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND channel = ? AND active = ?", tenantID, channel, true).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: tenant %q channel %q", domain.ErrNoProviderConfig, tenantID, channel)
	}
	if err != nil {
		return nil, err
	}
	return channelConfigModelToDomain(&model), nil
}

func (r *GormChannelConfigRepo) GetCredentials(ctx context.Context, configID string) (map[string]any, error) {
	var model ChannelConfigModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", configID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return map[string]any(model.Credentials), nil
}

func (r *GormChannelConfigRepo) FindAnyForProvider(ctx context.Context, provider string) (*domain.ChannelConfig, error) {
	var model ChannelConfigModel
	err := r.db.WithContext(ctx).
		Where("provider = ? AND active = ?", provider, true).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return channelConfigModelToDomain(&model), nil
}
