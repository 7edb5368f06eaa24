package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/kursadbilgin/relay-guard/internal/repository"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_deliveries",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeliveryModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_deliveries_tenant_provider_created ON deliveries (tenant_id, provider, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries (status)`,
					`CREATE INDEX IF NOT EXISTS idx_deliveries_correlation_id ON deliveries (correlation_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeliveryModel{})
			},
		},
		{
			ID: "000002_create_provider_health",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&repository.ProviderHealthModel{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.ProviderHealthModel{})
			},
		},
		{
			ID: "000003_create_metrics_windows",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.MetricsWindowModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_metrics_windows_tenant_provider_start ON metrics_windows (tenant_id, provider, window_start)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.MetricsWindowModel{})
			},
		},
		{
			ID: "000004_create_slo_targets",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.SLOTargetModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_slo_targets_provider ON slo_targets (provider)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.SLOTargetModel{})
			},
		},
		{
			ID: "000005_create_channel_configs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.ChannelConfigModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_channel_configs_tenant_channel ON channel_configs (tenant_id, channel) WHERE active`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.ChannelConfigModel{})
			},
		},
		{
			ID: "000006_create_audit_events",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.AuditEventModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_audit_events_tenant_type_created ON audit_events (tenant_id, type, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_audit_events_delivery_id ON audit_events (delivery_id) WHERE delivery_id IS NOT NULL`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.AuditEventModel{})
			},
		},
	})

	return m.Migrate()
}
