package service

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
	"github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	"github.com/smallbiznis/pixelcredit/internal/config"
	"github.com/smallbiznis/pixelcredit/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultVersionsLimit = 20
	maxVersionsLimit     = 100
	maxNameLength        = 120
	maxVariantLength     = 32
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Cache    domain.Cache
	AuditSvc auditdomain.Service `optional:"true"`
}

type Store struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	cache    domain.Cache
	auditSvc auditdomain.Service
}

func NewStore(p Params) domain.Store {
	c := p.Clock
	if c == nil {
		c = clock.New()
	}
	return &Store{
		db:       p.DB,
		log:      p.Log.Named("catalog.service"),
		genID:    p.GenID,
		clock:    c,
		repo:     p.Repo,
		cache:    p.Cache,
		auditSvc: p.AuditSvc,
	}
}

func (s *Store) GetCatalog(ctx context.Context) (domain.Catalog, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx); ok {
			return cached, nil
		}
	}

	catalog, err := s.load(ctx)
	if err != nil {
		return domain.Catalog{}, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, catalog)
	}
	return catalog, nil
}

func (s *Store) load(ctx context.Context) (domain.Catalog, error) {
	settings, err := s.repo.GetSettings(ctx, s.db)
	if err != nil {
		return domain.Catalog{}, err
	}
	if settings == nil {
		return domain.Catalog{}, domain.ErrSettingsMissing
	}
	services, err := s.repo.ListServices(ctx, s.db)
	if err != nil {
		return domain.Catalog{}, err
	}
	promotions, err := s.repo.ListPromotions(ctx, s.db)
	if err != nil {
		return domain.Catalog{}, err
	}
	return domain.Catalog{Settings: *settings, Services: services, Promotions: promotions}, nil
}

func (s *Store) ListServices(ctx context.Context) ([]domain.Service, error) {
	catalog, err := s.GetCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Services, nil
}

func (s *Store) GetSettings(ctx context.Context) (domain.SystemSettings, error) {
	catalog, err := s.GetCatalog(ctx)
	if err != nil {
		return domain.SystemSettings{}, err
	}
	return catalog.Settings, nil
}

func (s *Store) ListSettingsVersions(ctx context.Context, limit int) ([]domain.SettingsVersion, error) {
	if limit <= 0 {
		limit = defaultVersionsLimit
	}
	if limit > maxVersionsLimit {
		limit = maxVersionsLimit
	}
	return s.repo.ListSettingsVersions(ctx, s.db, limit)
}

func (s *Store) CreateService(ctx context.Context, actorID snowflake.ID, req domain.CreateServiceRequest) (domain.Service, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || utf8.RuneCountInString(name) > maxNameLength {
		return domain.Service{}, domain.ErrInvalidName
	}
	code, err := serviceCode(req.Code, name)
	if err != nil {
		return domain.Service{}, err
	}
	variant, err := normalizeVariant(req.Variant)
	if err != nil {
		return domain.Service{}, err
	}
	if err := validateCosts(req.SupplierCost, req.CustomerCost); err != nil {
		return domain.Service{}, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now()
	svc := domain.Service{
		ID:           s.genID.Generate(),
		Code:         code,
		Name:         name,
		Variant:      variant,
		SupplierCost: req.SupplierCost,
		CustomerCost: req.CustomerCost,
		IsActive:     active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if svc.IsActive {
			if err := s.ensureVariantFree(ctx, tx, svc.Variant, svc.ID); err != nil {
				return err
			}
		}
		if err := s.repo.InsertService(ctx, tx, &svc); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateCode
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Service{}, err
	}

	s.invalidate(ctx)
	s.audit(ctx, actorID, auditdomain.ActionServiceCreated, auditdomain.TargetTypeService, svc.ID.String(), map[string]any{
		"after": serviceSnapshot(svc),
	})
	return svc, nil
}

func (s *Store) UpdateService(ctx context.Context, actorID, id snowflake.ID, req domain.UpdateServiceRequest) (domain.Service, error) {
	var before, after domain.Service
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindServiceByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrServiceNotFound
		}
		before = *current
		after = *current

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" || utf8.RuneCountInString(name) > maxNameLength {
				return domain.ErrInvalidName
			}
			after.Name = name
		}
		if req.Variant != nil {
			variant, err := normalizeVariant(*req.Variant)
			if err != nil {
				return err
			}
			after.Variant = variant
		}
		if req.SupplierCost != nil {
			after.SupplierCost = *req.SupplierCost
		}
		if req.CustomerCost != nil {
			after.CustomerCost = *req.CustomerCost
		}
		if err := validateCosts(after.SupplierCost, after.CustomerCost); err != nil {
			return err
		}
		if after.IsActive && after.Variant != before.Variant {
			if err := s.ensureVariantFree(ctx, tx, after.Variant, after.ID); err != nil {
				return err
			}
		}

		after.UpdatedAt = s.clock.Now()
		return s.repo.UpdateService(ctx, tx, &after)
	})
	if err != nil {
		return domain.Service{}, err
	}

	s.invalidate(ctx)
	s.audit(ctx, actorID, auditdomain.ActionServiceUpdated, auditdomain.TargetTypeService, after.ID.String(), map[string]any{
		"before": serviceSnapshot(before),
		"after":  serviceSnapshot(after),
	})
	return after, nil
}

func (s *Store) SetServiceActive(ctx context.Context, actorID, id snowflake.ID, active bool) (domain.Service, error) {
	var svc domain.Service
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindServiceByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrServiceNotFound
		}
		svc = *current
		if svc.IsActive == active {
			return nil
		}
		if active {
			if err := s.ensureVariantFree(ctx, tx, svc.Variant, svc.ID); err != nil {
				return err
			}
		}
		svc.IsActive = active
		svc.UpdatedAt = s.clock.Now()
		changed = true
		return s.repo.UpdateService(ctx, tx, &svc)
	})
	if err != nil {
		return domain.Service{}, err
	}
	if !changed {
		return svc, nil
	}

	s.invalidate(ctx)
	s.audit(ctx, actorID, auditdomain.ActionServiceToggled, auditdomain.TargetTypeService, svc.ID.String(), map[string]any{
		"before": map[string]any{"is_active": !active},
		"after":  map[string]any{"is_active": active},
	})
	return svc, nil
}

// UpdateSettings bumps the version and snapshots it. Reservations already made keep the price they locked.
func (s *Store) UpdateSettings(ctx context.Context, actorID snowflake.ID, req domain.UpdateSettingsRequest) (domain.SystemSettings, error) {
	if req.ConversionRate <= 0 {
		return domain.SystemSettings{}, domain.ErrInvalidRate
	}
	if req.InitialCredits < 0 {
		return domain.SystemSettings{}, domain.ErrInvalidInitial
	}

	var before, after domain.SystemSettings
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.GetSettings(ctx, tx)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrSettingsMissing
		}
		before = *current
		after = *current
		after.ConversionRate = req.ConversionRate
		after.InitialCredits = req.InitialCredits

		promotions, err := s.repo.ListPromotions(ctx, tx)
		if err != nil {
			return err
		}
		return s.bumpVersion(ctx, tx, actorID, &after, promotions)
	})
	if err != nil {
		return domain.SystemSettings{}, err
	}

	s.invalidate(ctx)
	s.audit(ctx, actorID, auditdomain.ActionSettingsUpdated, auditdomain.TargetTypeSettings, "system", map[string]any{
		"before": settingsSnapshot(before),
		"after":  settingsSnapshot(after),
	})
	return after, nil
}

func (s *Store) ReplacePromotions(ctx context.Context, actorID snowflake.ID, inputs []domain.PromotionInput) ([]domain.Promotion, error) {
	seen := make(map[float64]struct{}, len(inputs))
	now := s.clock.Now()
	promotions := make([]domain.Promotion, 0, len(inputs))
	for _, input := range inputs {
		if input.MinSpend < 0 || input.BonusCredits <= 0 {
			return nil, domain.ErrInvalidPromotion
		}
		if _, dup := seen[input.MinSpend]; dup {
			return nil, domain.ErrDuplicatePromotion
		}
		seen[input.MinSpend] = struct{}{}
		promotions = append(promotions, domain.Promotion{
			ID:           s.genID.Generate(),
			MinSpend:     input.MinSpend,
			BonusCredits: input.BonusCredits,
			IsActive:     true,
			CreatedAt:    now,
		})
	}

	var before []domain.Promotion
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.GetSettings(ctx, tx)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrSettingsMissing
		}
		before, err = s.repo.ListPromotions(ctx, tx)
		if err != nil {
			return err
		}
		if err := s.repo.ReplacePromotions(ctx, tx, promotions); err != nil {
			return err
		}
		settings := *current
		return s.bumpVersion(ctx, tx, actorID, &settings, promotions)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx)
	s.audit(ctx, actorID, auditdomain.ActionPromotionsReplaced, auditdomain.TargetTypeSettings, "promotions", map[string]any{
		"before": promotionsSnapshot(before),
		"after":  promotionsSnapshot(promotions),
	})
	return promotions, nil
}

// EnsureDefaults seeds an empty database. Existing rows are never overwritten.
func (s *Store) EnsureDefaults(ctx context.Context, defaults config.CatalogDefaults) error {
	if err := config.ValidateCatalogDefaults(defaults); err != nil {
		return err
	}

	seeded := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		settings, err := s.repo.GetSettings(ctx, tx)
		if err != nil {
			return err
		}
		if settings == nil {
			promotions := make([]domain.Promotion, 0, len(defaults.Promotions))
			for _, promo := range defaults.Promotions {
				promotions = append(promotions, domain.Promotion{
					ID:           s.genID.Generate(),
					MinSpend:     promo.MinSpend,
					BonusCredits: promo.BonusCredits,
					IsActive:     true,
					CreatedAt:    now,
				})
			}
			if err := s.repo.ReplacePromotions(ctx, tx, promotions); err != nil {
				return err
			}
			created := domain.SystemSettings{
				ID:             domain.SettingsRowID,
				ConversionRate: defaults.ConversionRate,
				InitialCredits: defaults.InitialCredits,
				Version:        1,
				UpdatedAt:      now,
			}
			if err := s.repo.SaveSettings(ctx, tx, &created); err != nil {
				return err
			}
			if err := s.snapshotVersion(ctx, tx, nil, created, promotions); err != nil {
				return err
			}
			seeded = true
		}

		services, err := s.repo.ListServices(ctx, tx)
		if err != nil {
			return err
		}
		if len(services) > 0 {
			return nil
		}
		for _, def := range defaults.Services {
			svc := domain.Service{
				ID:           s.genID.Generate(),
				Code:         def.Code,
				Name:         def.Name,
				Variant:      def.Variant,
				SupplierCost: def.SupplierCost,
				CustomerCost: def.CustomerCost,
				IsActive:     def.Active,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := s.repo.InsertService(ctx, tx, &svc); err != nil {
				return err
			}
		}
		seeded = true
		return nil
	})
	if err != nil {
		return err
	}
	if seeded {
		s.invalidate(ctx)
		s.log.Info("catalog defaults seeded",
			zap.Float64("conversion_rate", defaults.ConversionRate),
			zap.Int("services", len(defaults.Services)),
		)
	}
	return nil
}

func (s *Store) bumpVersion(ctx context.Context, tx *gorm.DB, actorID snowflake.ID, settings *domain.SystemSettings, promotions []domain.Promotion) error {
	expected := settings.Version
	settings.UpdatedAt = s.clock.Now()
	settings.UpdatedBy = actorPtr(actorID)
	ok, err := s.repo.BumpSettingsVersion(ctx, tx, expected, settings)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrConcurrentUpdate
	}
	return s.snapshotVersion(ctx, tx, settings.UpdatedBy, *settings, promotions)
}

func (s *Store) snapshotVersion(ctx context.Context, tx *gorm.DB, actor *snowflake.ID, settings domain.SystemSettings, promotions []domain.Promotion) error {
	raw, err := json.Marshal(promotionsSnapshot(promotions))
	if err != nil {
		return err
	}
	return s.repo.InsertSettingsVersion(ctx, tx, &domain.SettingsVersion{
		ID:             s.genID.Generate(),
		Version:        settings.Version,
		ConversionRate: settings.ConversionRate,
		InitialCredits: settings.InitialCredits,
		Promotions:     datatypes.JSON(raw),
		ChangedBy:      actor,
		CreatedAt:      s.clock.Now(),
	})
}

func (s *Store) ensureVariantFree(ctx context.Context, tx *gorm.DB, variant string, id snowflake.ID) error {
	count, err := s.repo.CountActiveByVariant(ctx, tx, variant, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return domain.ErrVariantConflict
	}
	return nil
}

func (s *Store) invalidate(ctx context.Context) {
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

func (s *Store) audit(ctx context.Context, actorID snowflake.ID, action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	var actor *string
	if actorID != 0 {
		value := actorID.String()
		actor = &value
	}
	if err := s.auditSvc.AuditLog(ctx, string(auditdomain.ActorTypeAdmin), actor, action, targetType, &targetID, metadata); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", action), zap.Error(err))
	}
}

func serviceCode(code, name string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		code = strings.ReplaceAll(slug.Make(name), "-", "_")
	}
	if code == "" || len(code) > 64 || !slug.IsSlug(code) {
		return "", domain.ErrInvalidCode
	}
	return code, nil
}

func normalizeVariant(variant string) (string, error) {
	variant = strings.ToLower(strings.TrimSpace(variant))
	if variant == "" || len(variant) > maxVariantLength || strings.ContainsAny(variant, " \t") {
		return "", domain.ErrInvalidVariant
	}
	return variant, nil
}

// A zero customer cost would price a generation at zero credits, so it is rejected.
func validateCosts(supplier, customer float64) error {
	if supplier < 0 || customer <= 0 {
		return domain.ErrInvalidCost
	}
	return nil
}

func actorPtr(actorID snowflake.ID) *snowflake.ID {
	if actorID == 0 {
		return nil
	}
	return &actorID
}

func serviceSnapshot(svc domain.Service) map[string]any {
	return map[string]any{
		"code":          svc.Code,
		"name":          svc.Name,
		"variant":       svc.Variant,
		"supplier_cost": svc.SupplierCost,
		"customer_cost": svc.CustomerCost,
		"is_active":     svc.IsActive,
	}
}

func settingsSnapshot(settings domain.SystemSettings) map[string]any {
	return map[string]any{
		"conversion_rate": settings.ConversionRate,
		"initial_credits": settings.InitialCredits,
		"version":         settings.Version,
	}
}

func promotionsSnapshot(promotions []domain.Promotion) []any {
	out := make([]any, 0, len(promotions))
	for _, promo := range promotions {
		out = append(out, map[string]any{
			"min_spend":     promo.MinSpend,
			"bonus_credits": promo.BonusCredits,
		})
	}
	return out
}
