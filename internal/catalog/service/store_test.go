package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pixelcredit/internal/audit/audittest"
	auditdomain "github.com/smallbiznis/pixelcredit/internal/audit/domain"
	"github.com/smallbiznis/pixelcredit/internal/cache"
	"github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	"github.com/smallbiznis/pixelcredit/internal/catalog/repository"
	"github.com/smallbiznis/pixelcredit/internal/clock"
	"github.com/smallbiznis/pixelcredit/internal/config"
	"github.com/smallbiznis/pixelcredit/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const adminID = snowflake.ID(99)

func newTestStore(t *testing.T) (domain.Store, *audittest.Recorder) {
	t.Helper()

	dbConn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&domain.Service{},
		&domain.SystemSettings{},
		&domain.Promotion{},
		&domain.SettingsVersion{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	recorder := &audittest.Recorder{}
	store := NewStore(Params{
		DB:       dbConn,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		Repo:     repository.Provide(),
		Cache:    cache.NewMemoryCatalogCache(time.Hour),
		AuditSvc: recorder,
	})
	require.NoError(t, store.EnsureDefaults(context.Background(), config.DefaultCatalogDefaults()))
	return store, recorder
}

func TestEnsureDefaultsSeedsOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	catalog, err := store.GetCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(50), catalog.Settings.ConversionRate)
	assert.Equal(t, int64(100), catalog.Settings.InitialCredits)
	assert.Equal(t, int64(1), catalog.Settings.Version)
	assert.Len(t, catalog.Services, 2)
	assert.Empty(t, catalog.Promotions)

	custom := config.DefaultCatalogDefaults()
	custom.ConversionRate = 10
	require.NoError(t, store.EnsureDefaults(ctx, custom))

	settings, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(50), settings.ConversionRate)

	versions, err := store.ListSettingsVersions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, int64(1), versions[0].Version)
}

func TestUpdateSettingsInvalidatesCacheAndVersions(t *testing.T) {
	store, recorder := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetCatalog(ctx)
	require.NoError(t, err)

	updated, err := store.UpdateSettings(ctx, adminID, domain.UpdateSettingsRequest{ConversionRate: 40, InitialCredits: 25})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	catalog, err := store.GetCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(40), catalog.Settings.ConversionRate)
	assert.Equal(t, int64(25), catalog.Settings.InitialCredits)
	require.NotNil(t, catalog.Settings.UpdatedBy)
	assert.Equal(t, adminID, *catalog.Settings.UpdatedBy)

	versions, err := store.ListSettingsVersions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, int64(2), versions[0].Version)
	assert.Equal(t, float64(40), versions[0].ConversionRate)

	entries := recorder.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, auditdomain.ActionSettingsUpdated, entries[0].Action)
	assert.Equal(t, adminID.String(), entries[0].ActorID)
	assert.Contains(t, entries[0].Metadata, "before")
	assert.Contains(t, entries[0].Metadata, "after")
}

func TestUpdateSettingsValidation(t *testing.T) {
	store, recorder := newTestStore(t)
	ctx := context.Background()

	_, err := store.UpdateSettings(ctx, adminID, domain.UpdateSettingsRequest{ConversionRate: 0, InitialCredits: 10})
	assert.ErrorIs(t, err, domain.ErrInvalidRate)
	_, err = store.UpdateSettings(ctx, adminID, domain.UpdateSettingsRequest{ConversionRate: 5, InitialCredits: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidInitial)
	assert.Empty(t, recorder.Entries())
}

func TestReplacePromotions(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.ReplacePromotions(ctx, adminID, []domain.PromotionInput{{MinSpend: 10, BonusCredits: 0}})
	assert.ErrorIs(t, err, domain.ErrInvalidPromotion)
	_, err = store.ReplacePromotions(ctx, adminID, []domain.PromotionInput{{MinSpend: 10, BonusCredits: 5}, {MinSpend: 10, BonusCredits: 7}})
	assert.ErrorIs(t, err, domain.ErrDuplicatePromotion)

	promos, err := store.ReplacePromotions(ctx, adminID, []domain.PromotionInput{
		{MinSpend: 10, BonusCredits: 50},
		{MinSpend: 25, BonusCredits: 150},
	})
	require.NoError(t, err)
	assert.Len(t, promos, 2)

	catalog, err := store.GetCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, catalog.Promotions, 2)
	assert.Equal(t, int64(2), catalog.Settings.Version)

	promo, ok := catalog.PromotionFor(30)
	require.True(t, ok)
	assert.Equal(t, int64(150), promo.BonusCredits)

	_, err = store.ReplacePromotions(ctx, adminID, nil)
	require.NoError(t, err)
	catalog, err = store.GetCatalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, catalog.Promotions)
	assert.Equal(t, int64(3), catalog.Settings.Version)
}

func TestCreateServiceDerivesCodeAndGuardsVariant(t *testing.T) {
	store, recorder := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreateService(ctx, adminID, domain.CreateServiceRequest{
		Name: "HD Square", Variant: "1024x1024", SupplierCost: 0.1, CustomerCost: 0.2,
	})
	assert.ErrorIs(t, err, domain.ErrVariantConflict)

	inactive := false
	svc, err := store.CreateService(ctx, adminID, domain.CreateServiceRequest{
		Name: "HD Square", Variant: "1024x1024", SupplierCost: 0.1, CustomerCost: 0.2, Active: &inactive,
	})
	require.NoError(t, err)
	assert.Equal(t, "hd_square", svc.Code)
	assert.False(t, svc.IsActive)

	_, err = store.CreateService(ctx, adminID, domain.CreateServiceRequest{
		Code: "hd_square", Name: "Dup", Variant: "512x512", CustomerCost: 0.1,
	})
	assert.ErrorIs(t, err, domain.ErrDuplicateCode)

	_, err = store.CreateService(ctx, adminID, domain.CreateServiceRequest{Name: "Free", Variant: "256x256", CustomerCost: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidCost)

	_, err = store.SetServiceActive(ctx, adminID, svc.ID, true)
	assert.ErrorIs(t, err, domain.ErrVariantConflict)

	assert.Equal(t, []string{auditdomain.ActionServiceCreated}, recorder.Actions())
}

func TestServiceWritesAreVisibleToNextRead(t *testing.T) {
	store, recorder := newTestStore(t)
	ctx := context.Background()

	catalog, err := store.GetCatalog(ctx)
	require.NoError(t, err)
	target, ok := catalog.ActiveServiceFor("1024x1024")
	require.True(t, ok)

	cost := 0.2
	_, err = store.UpdateService(ctx, adminID, target.ID, domain.UpdateServiceRequest{CustomerCost: &cost})
	require.NoError(t, err)

	catalog, err = store.GetCatalog(ctx)
	require.NoError(t, err)
	updated, ok := catalog.ActiveServiceFor("1024x1024")
	require.True(t, ok)
	assert.Equal(t, 0.2, updated.CustomerCost)

	_, err = store.SetServiceActive(ctx, adminID, target.ID, false)
	require.NoError(t, err)
	catalog, err = store.GetCatalog(ctx)
	require.NoError(t, err)
	_, ok = catalog.ActiveServiceFor("1024x1024")
	assert.False(t, ok)

	_, err = store.SetServiceActive(ctx, adminID, 12345, false)
	assert.ErrorIs(t, err, domain.ErrServiceNotFound)

	assert.Equal(t, []string{auditdomain.ActionServiceUpdated, auditdomain.ActionServiceToggled}, recorder.Actions())
}
