package migration

import (
	"context"

	catalogdomain "github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	"github.com/smallbiznis/pixelcredit/internal/config"
	"github.com/smallbiznis/pixelcredit/internal/seed"
	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates the schema and seeds bootstrap data before the server starts.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, store catalogdomain.Store, users userdomain.Service, defaults *config.CatalogDefaultsHolder, log *zap.Logger) error {
		if err := Migrate(conn, cfg.DBType); err != nil {
			return err
		}
		return seed.Run(context.Background(), seed.Params{
			Config:   cfg,
			Catalog:  store,
			Users:    users,
			Defaults: defaults.Get(),
			Log:      log,
		})
	}),
)
