package migrate

import (
	"context"
	"fmt"

	"github.com/subradar/subradar-backend/pkg/config"
	"github.com/subradar/subradar-backend/pkg/db"
	"github.com/subradar/subradar-backend/pkg/db/models"
	"github.com/subradar/subradar-backend/pkg/logger"
)

// MaybeRunDev applies the schema automatically when the app runs in dev mode with the
// auto-migrate flag set. Postgres gets the goose migrations; the local sqlite mode gets
// gorm AutoMigrate since the SQL files use Postgres-only syntax.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	if !client.IsPostgres() {
		logg.Info(ctx, "running gorm auto-migrate (sqlite)")
		if err := client.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	runner, err := NewRunner(sqlDB, DefaultDir)
	if err != nil {
		return err
	}
	applied, err := runner.Up(ctx)
	if err != nil {
		return err
	}

	logg.Info(logg.WithField(ctx, "applied", applied), "embedded goose migrations applied")
	return nil
}
