package migration

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/vettedhq/entitlement-engine/internal/config"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		// Managed migrations target postgres; other dialects are provisioned
		// out of band (tests create their schema directly).
		if cfg.DBType != "postgres" {
			log.Named("migrations").Info("skipping managed migrations",
				zap.String("driver", cfg.DBType),
			)
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
