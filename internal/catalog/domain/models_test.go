package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPromotionForPicksHighestThreshold(t *testing.T) {
	catalog := Catalog{Promotions: []Promotion{
		{MinSpend: 10, BonusCredits: 50, IsActive: true},
		{MinSpend: 50, BonusCredits: 400, IsActive: true},
		{MinSpend: 25, BonusCredits: 150, IsActive: true},
		{MinSpend: 40, BonusCredits: 999, IsActive: false},
	}}

	tests := []struct {
		spend float64
		bonus int64
		found bool
	}{
		{spend: 5, found: false},
		{spend: 10, bonus: 50, found: true},
		{spend: 30, bonus: 150, found: true},
		{spend: 45, bonus: 150, found: true},
		{spend: 500, bonus: 400, found: true},
	}
	for _, tt := range tests {
		promo, ok := catalog.PromotionFor(tt.spend)
		assert.Equal(t, tt.found, ok, "spend %v", tt.spend)
		if tt.found {
			assert.Equal(t, tt.bonus, promo.BonusCredits, "spend %v", tt.spend)
		}
	}
}

func TestActiveServiceForMatchesExactVariant(t *testing.T) {
	catalog := Catalog{Services: []Service{
		{Code: "old", Variant: "1024x1024", IsActive: false},
		{Code: "image_1024", Variant: "1024x1024", IsActive: true},
	}}

	svc, ok := catalog.ActiveServiceFor("1024x1024")
	assert.True(t, ok)
	assert.Equal(t, "image_1024", svc.Code)

	_, ok = catalog.ActiveServiceFor("1024X1024 ")
	assert.False(t, ok)
}
