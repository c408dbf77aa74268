package pricing

import (
	"context"
	"testing"

	catalogdomain "github.com/smallbiznis/pixelcredit/internal/catalog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticCatalog struct {
	catalog catalogdomain.Catalog
	err     error
}

func (s staticCatalog) GetCatalog(context.Context) (catalogdomain.Catalog, error) {
	return s.catalog, s.err
}

func defaultCatalog() catalogdomain.Catalog {
	return catalogdomain.Catalog{
		Settings: catalogdomain.SystemSettings{ConversionRate: 50, InitialCredits: 100, Version: 4},
		Services: []catalogdomain.Service{
			{Code: "image_1024", Name: "Standard", Variant: "1024x1024", SupplierCost: 0.08, CustomerCost: 0.16, IsActive: true},
			{Code: "image_2048", Name: "Large", Variant: "2048x2048", SupplierCost: 0.16, CustomerCost: 0.32, IsActive: true},
			{Code: "image_512", Name: "Small", Variant: "512x512", CustomerCost: 0.04, IsActive: false},
		},
		Promotions: []catalogdomain.Promotion{
			{MinSpend: 10, BonusCredits: 50, IsActive: true},
		},
	}
}

func TestCreditsRoundsHalfUp(t *testing.T) {
	tests := []struct {
		cost float64
		rate float64
		want int64
	}{
		{cost: 0.16, rate: 50, want: 8},
		{cost: 0.32, rate: 50, want: 16},
		{cost: 0.05, rate: 50, want: 3},
		{cost: 0.01, rate: 50, want: 1},
		{cost: 0.009, rate: 50, want: 0},
		{cost: 0.03, rate: 50, want: 2},
		{cost: 0.1, rate: 3, want: 0},
		{cost: 0.5, rate: 3, want: 2},
		{cost: 0.16, rate: 0, want: 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Credits(tt.cost, tt.rate), "cost %v rate %v", tt.cost, tt.rate)
	}
}

func TestPriceFor(t *testing.T) {
	r := New(staticCatalog{catalog: defaultCatalog()}, zap.NewNop())
	ctx := context.Background()

	q, err := r.PriceFor(ctx, "1024x1024")
	require.NoError(t, err)
	assert.Equal(t, int64(8), q.Credits)
	assert.Equal(t, "image_1024", q.ServiceCode)
	assert.Equal(t, int64(4), q.SettingsVersion)
	assert.Equal(t, float64(50), q.ConversionRate)

	q, err = r.PriceFor(ctx, "2048x2048")
	require.NoError(t, err)
	assert.Equal(t, int64(16), q.Credits)

	q, err = r.PriceFor(ctx, " 1024X1024 ")
	require.NoError(t, err)
	assert.Equal(t, int64(8), q.Credits)

	_, err = r.PriceFor(ctx, "512x512")
	assert.ErrorIs(t, err, ErrServiceUnavailable)

	_, err = r.PriceFor(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidVariant)
}

func TestPriceForRateChangeAndMissingCatalog(t *testing.T) {
	catalog := defaultCatalog()
	catalog.Settings.ConversionRate = 100
	r := New(staticCatalog{catalog: catalog}, zap.NewNop())

	q, err := r.PriceFor(context.Background(), "1024x1024")
	require.NoError(t, err)
	assert.Equal(t, int64(16), q.Credits)

	missing := New(staticCatalog{err: catalogdomain.ErrSettingsMissing}, zap.NewNop())
	_, err = missing.PriceFor(context.Background(), "1024x1024")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestQuotesSkipsInactive(t *testing.T) {
	r := New(staticCatalog{catalog: defaultCatalog()}, zap.NewNop())
	quotes, err := r.Quotes(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.Equal(t, "image_1024", quotes[0].ServiceCode)
}

func TestPromotionAndCurrency(t *testing.T) {
	r := New(staticCatalog{catalog: defaultCatalog()}, zap.NewNop())
	ctx := context.Background()

	bonus, ok, err := r.PromotionFor(ctx, 12)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(50), bonus.BonusCredits)

	_, ok, err = r.PromotionFor(ctx, 9.99)
	require.NoError(t, err)
	assert.False(t, ok)

	amount, err := r.CreditsToCurrency(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, float64(10), amount)

	_, err = r.CreditsToCurrency(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
