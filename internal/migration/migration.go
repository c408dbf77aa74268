package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
	authdomain "github.com/smallbiznis/pixelcredit/internal/auth/domain"
	catalogdomain "github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	generationdomain "github.com/smallbiznis/pixelcredit/internal/generation/domain"
	ledgerdomain "github.com/smallbiznis/pixelcredit/internal/ledger/domain"
	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
	pkgdb "github.com/smallbiznis/pixelcredit/pkg/db"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// Models lists every table owned by the application, in dependency order.
func Models() []any {
	return []any{
		&userdomain.User{},
		&authdomain.Session{},
		&catalogdomain.Service{},
		&catalogdomain.SystemSettings{},
		&catalogdomain.Promotion{},
		&catalogdomain.SettingsVersion{},
		&ledgerdomain.Reservation{},
		&ledgerdomain.Entry{},
		&generationdomain.Record{},
		&auditdomain.AuditLog{},
	}
}

// Migrate brings the schema up to date. Postgres uses the versioned SQL files;
// mysql and sqlite fall back to gorm AutoMigrate.
func Migrate(conn *gorm.DB, dbType string) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if dbType != pkgdb.TypePostgres {
		return conn.AutoMigrate(Models()...)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// migrator.Close would close the shared *sql.DB

	return nil
}
