package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/pixelcredit/internal/auth/password"
	catalogdomain "github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	"github.com/smallbiznis/pixelcredit/internal/config"
	userdomain "github.com/smallbiznis/pixelcredit/internal/user/domain"
	"go.uber.org/zap"
)

const defaultAdminDisplay = "PixelCredit Admin"

type Params struct {
	Config   config.Config
	Catalog  catalogdomain.Store
	Users    userdomain.Service
	Defaults config.CatalogDefaults
	Log      *zap.Logger
}

// Run seeds catalog defaults and, when enabled, the bootstrap admin account.
func Run(ctx context.Context, p Params) error {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("seed")

	if err := EnsureCatalog(ctx, p.Catalog, p.Defaults); err != nil {
		return err
	}
	if !p.Config.Bootstrap.EnsureAdmin {
		return nil
	}
	admin, created, err := EnsureAdmin(ctx, p.Catalog, p.Users, p.Config.Bootstrap)
	if err != nil {
		return err
	}
	if created {
		log.Info("bootstrap admin created", zap.String("user_id", admin.ID.String()), zap.String("email", admin.Email))
	} else if !admin.IsAdmin {
		log.Warn("bootstrap email belongs to a non-admin account", zap.String("user_id", admin.ID.String()))
	}
	return nil
}

// EnsureCatalog seeds services, settings and promotions into an empty database.
func EnsureCatalog(ctx context.Context, store catalogdomain.Store, defaults config.CatalogDefaults) error {
	if store == nil {
		return errors.New("seed catalog store is required")
	}
	if err := config.ValidateCatalogDefaults(defaults); err != nil {
		return err
	}
	return store.EnsureDefaults(ctx, defaults)
}

// EnsureAdmin creates the bootstrap admin once. An existing account with the
// same email is returned untouched.
func EnsureAdmin(ctx context.Context, store catalogdomain.Store, users userdomain.Service, cfg config.BootstrapConfig) (userdomain.User, bool, error) {
	if users == nil || store == nil {
		return userdomain.User{}, false, errors.New("seed user service is required")
	}
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if email == "" || cfg.AdminPassword == "" {
		return userdomain.User{}, false, errors.New("bootstrap admin email and password are required")
	}

	existing, err := users.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, userdomain.ErrNotFound) {
		return userdomain.User{}, false, err
	}

	settings, err := store.GetSettings(ctx)
	if err != nil {
		return userdomain.User{}, false, err
	}
	hashed, err := password.Hash(cfg.AdminPassword)
	if err != nil {
		return userdomain.User{}, false, err
	}

	admin, err := users.Create(ctx, userdomain.CreateUserRequest{
		Email:        email,
		PasswordHash: hashed,
		DisplayName:  defaultAdminDisplay,
		InitialGrant: settings.InitialCredits,
		IsAdmin:      true,
	})
	if errors.Is(err, userdomain.ErrEmailTaken) {
		// Lost a race with another instance.
		existing, getErr := users.GetByEmail(ctx, email)
		return existing, false, getErr
	}
	if err != nil {
		return userdomain.User{}, false, err
	}
	return admin, true, nil
}
