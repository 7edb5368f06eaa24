package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kursadbilgin/relay-guard/internal/domain"
)

// newModelID fills uuid primary keys before insert; the schema has no
// database-side default.
func newModelID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// DeliveryModel is the persistence model for the deliveries table.
type DeliveryModel struct {
	ID                string            `gorm:"type:uuid;primaryKey"`
	TenantID          string            `gorm:"type:varchar(64);not null;index:idx_deliveries_tenant_provider"`
	Provider          string            `gorm:"type:varchar(64);not null;index:idx_deliveries_tenant_provider"`
	Channel           domain.Channel    `gorm:"type:varchar(10);not null"`
	ConfigID          string            `gorm:"type:uuid;not null"`
	Recipient         string            `gorm:"type:varchar(255);not null"`
	TemplateID        *string           `gorm:"type:varchar(128)"`
	Payload           datatypes.JSONMap `gorm:"type:jsonb"`
	CorrelationID     string            `gorm:"type:varchar(64);not null;index"`
	Status            domain.DeliveryStatus `gorm:"type:varchar(10);not null"`
	ProviderMessageID *string           `gorm:"type:varchar(255)"`
	LastError         *string           `gorm:"type:text"`
	AttemptCount      int               `gorm:"not null;default:0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (DeliveryModel) TableName() string { return "deliveries" }

func (m *DeliveryModel) BeforeCreate(*gorm.DB) error {
	m.ID = newModelID(m.ID)
	return nil
}

// ProviderHealthModel is the persistence model for provider_health.
type ProviderHealthModel struct {
	ID                  string              `gorm:"type:uuid;primaryKey"`
	TenantID            string              `gorm:"type:varchar(64);not null;uniqueIndex:idx_provider_health_tenant_provider"`
	Provider            string              `gorm:"type:varchar(64);not null;uniqueIndex:idx_provider_health_tenant_provider"`
	Status              domain.HealthStatus `gorm:"type:varchar(10);not null"`
	ConsecutiveFailures int                 `gorm:"not null;default:0"`
	CircuitState        domain.CircuitState `gorm:"type:varchar(10);not null"`
	LastErrorCode       *string             `gorm:"type:varchar(64)"`
	LastErrorMessage    *string             `gorm:"type:text"`
	CircuitOpenedAt     *time.Time
	CircuitNextRetryAt  *time.Time
	UpdatedAt           time.Time
}

func (ProviderHealthModel) TableName() string { return "provider_health" }

func (m *ProviderHealthModel) BeforeCreate(*gorm.DB) error {
	m.ID = newModelID(m.ID)
	return nil
}

// MetricsWindowModel is the persistence model for metrics_windows.
// Rows are immutable once flushed.
type MetricsWindowModel struct {
	ID               string    `gorm:"type:uuid;primaryKey"`
	TenantID         string    `gorm:"type:varchar(64);not null;index:idx_metrics_windows_scope"`
	Provider         string    `gorm:"type:varchar(64);not null;index:idx_metrics_windows_scope"`
	WindowLabel      string    `gorm:"type:varchar(4);not null"`
	WindowStart      time.Time `gorm:"not null;index:idx_metrics_windows_scope"`
	WindowEnd        time.Time `gorm:"not null"`
	SentCount        int       `gorm:"not null"`
	SuccessCount     int       `gorm:"not null"`
	FailureCount     int       `gorm:"not null"`
	RateLimitedCount int       `gorm:"not null"`
	TimeoutCount     int       `gorm:"not null"`
	P50LatencyMs     int64     `gorm:"not null"`
	P95LatencyMs     int64     `gorm:"not null"`
	P99LatencyMs     int64     `gorm:"not null"`
	CreatedAt        time.Time
}

func (MetricsWindowModel) TableName() string { return "metrics_windows" }

func (m *MetricsWindowModel) BeforeCreate(*gorm.DB) error {
	m.ID = newModelID(m.ID)
	return nil
}

// SLOTargetModel is the persistence model for slo_targets.
type SLOTargetModel struct {
	ID                 string  `gorm:"type:uuid;primaryKey"`
	Provider           string  `gorm:"type:varchar(64);not null;index"`
	TenantID           *string `gorm:"type:varchar(64);index"`
	Channel            *string `gorm:"type:varchar(10)"`
	SuccessRateTarget  float64 `gorm:"not null"`
	P95LatencyTargetMs int64   `gorm:"not null"`
	WindowDays         int     `gorm:"not null;default:30"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (SLOTargetModel) TableName() string { return "slo_targets" }

func (m *SLOTargetModel) BeforeCreate(*gorm.DB) error {
	m.ID = newModelID(m.ID)
	return nil
}

// ChannelConfigModel is the persistence model for channel_configs.
type ChannelConfigModel struct {
	ID          string            `gorm:"type:uuid;primaryKey"`
	TenantID    string            `gorm:"type:varchar(64);not null;index:idx_channel_configs_tenant_channel"`
	Channel     domain.Channel    `gorm:"type:varchar(10);not null;index:idx_channel_configs_tenant_channel"`
	Provider    string            `gorm:"type:varchar(64);not null"`
	Active      bool              `gorm:"not null;default:true"`
	Credentials datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ChannelConfigModel) TableName() string { return "channel_configs" }

func (m *ChannelConfigModel) BeforeCreate(*gorm.DB) error {
	m.ID = newModelID(m.ID)
	return nil
}

// AuditEventModel is the persistence model for audit_events.
type AuditEventModel struct {
	ID            string            `gorm:"type:uuid;primaryKey"`
	Type          string            `gorm:"type:varchar(32);not null;index"`
	TenantID      string            `gorm:"type:varchar(64);not null;index"`
	Provider      string            `gorm:"type:varchar(64);not null"`
	Channel       *string           `gorm:"type:varchar(10)"`
	DeliveryID    *string           `gorm:"type:uuid"`
	CorrelationID *string           `gorm:"type:varchar(64)"`
	Details       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time
}

func (AuditEventModel) TableName() string { return "audit_events" }

func (m *AuditEventModel) BeforeCreate(*gorm.DB) error {
	m.ID = newModelID(m.ID)
	return nil
}

func deliveryModelFromDomain(d *domain.Delivery) *DeliveryModel {
	if d == nil {
		return nil
	}

	return &DeliveryModel{
		ID:                d.ID,
		TenantID:          d.TenantID,
		Provider:          d.Provider,
		Channel:           d.Channel,
		ConfigID:          d.ConfigID,
		Recipient:         d.Recipient,
		TemplateID:        d.TemplateID,
		Payload:           datatypes.JSONMap(d.Payload),
		CorrelationID:     d.CorrelationID,
		Status:            d.Status,
		ProviderMessageID: d.ProviderMessageID,
		LastError:         d.LastError,
		AttemptCount:      d.AttemptCount,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

func deliveryModelToDomain(m *DeliveryModel) *domain.Delivery {
	if m == nil {
		return nil
	}

	return &domain.Delivery{
		ID:                m.ID,
		TenantID:          m.TenantID,
		Provider:          m.Provider,
		Channel:           m.Channel,
		ConfigID:          m.ConfigID,
		Recipient:         m.Recipient,
		TemplateID:        m.TemplateID,
		Payload:           map[string]any(m.Payload),
		CorrelationID:     m.CorrelationID,
		Status:            m.Status,
		ProviderMessageID: m.ProviderMessageID,
		LastError:         m.LastError,
		AttemptCount:      m.AttemptCount,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func healthModelFromDomain(h *domain.ProviderHealth) *ProviderHealthModel {
	if h == nil {
		return nil
	}

	return &ProviderHealthModel{
		ID:                  h.ID,
		TenantID:            h.TenantID,
		Provider:            h.Provider,
		Status:              h.Status,
		ConsecutiveFailures: h.ConsecutiveFailures,
		CircuitState:        h.CircuitState,
		LastErrorCode:       h.LastErrorCode,
		LastErrorMessage:    h.LastErrorMessage,
		CircuitOpenedAt:     h.CircuitOpenedAt,
		CircuitNextRetryAt:  h.CircuitNextRetryAt,
		UpdatedAt:           h.UpdatedAt,
	}
}

func healthModelToDomain(m *ProviderHealthModel) *domain.ProviderHealth {
	if m == nil {
		return nil
	}

	return &domain.ProviderHealth{
		ID:                  m.ID,
		TenantID:            m.TenantID,
		Provider:            m.Provider,
		Status:              m.Status,
		ConsecutiveFailures: m.ConsecutiveFailures,
		CircuitState:        m.CircuitState,
		LastErrorCode:       m.LastErrorCode,
		LastErrorMessage:    m.LastErrorMessage,
		CircuitOpenedAt:     m.CircuitOpenedAt,
		CircuitNextRetryAt:  m.CircuitNextRetryAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func metricsWindowModelFromDomain(w *domain.MetricsWindow) *MetricsWindowModel {
	if w == nil {
		return nil
	}

	return &MetricsWindowModel{
		ID:               w.ID,
		TenantID:         w.TenantID,
		Provider:         w.Provider,
		WindowLabel:      w.WindowLabel,
		WindowStart:      w.WindowStart,
		WindowEnd:        w.WindowEnd,
		SentCount:        w.SentCount,
		SuccessCount:     w.SuccessCount,
		FailureCount:     w.FailureCount,
		RateLimitedCount: w.RateLimitedCount,
		TimeoutCount:     w.TimeoutCount,
		P50LatencyMs:     w.P50LatencyMs,
		P95LatencyMs:     w.P95LatencyMs,
		P99LatencyMs:     w.P99LatencyMs,
		CreatedAt:        w.CreatedAt,
	}
}

func metricsWindowModelToDomain(m *MetricsWindowModel) *domain.MetricsWindow {
	if m == nil {
		return nil
	}

	return &domain.MetricsWindow{
		ID:               m.ID,
		TenantID:         m.TenantID,
		Provider:         m.Provider,
		WindowLabel:      m.WindowLabel,
		WindowStart:      m.WindowStart,
		WindowEnd:        m.WindowEnd,
		SentCount:        m.SentCount,
		SuccessCount:     m.SuccessCount,
		FailureCount:     m.FailureCount,
		RateLimitedCount: m.RateLimitedCount,
		TimeoutCount:     m.TimeoutCount,
		P50LatencyMs:     m.P50LatencyMs,
		P95LatencyMs:     m.P95LatencyMs,
		P99LatencyMs:     m.P99LatencyMs,
		CreatedAt:        m.CreatedAt,
	}
}

func sloTargetModelToDomain(m *SLOTargetModel) *domain.SLOTarget {
	if m == nil {
		return nil
	}

	return &domain.SLOTarget{
		ID:                 m.ID,
		Provider:           m.Provider,
		TenantID:           m.TenantID,
		Channel:            m.Channel,
		SuccessRateTarget:  m.SuccessRateTarget,
		P95LatencyTargetMs: m.P95LatencyTargetMs,
		WindowDays:         m.WindowDays,
	}
}

func channelConfigModelToDomain(m *ChannelConfigModel) *domain.ChannelConfig {
	if m == nil {
		return nil
	}

	return &domain.ChannelConfig{
		ID:       m.ID,
		TenantID: m.TenantID,
		Channel:  m.Channel,
		Provider: m.Provider,
		Active:   m.Active,
	}
}
