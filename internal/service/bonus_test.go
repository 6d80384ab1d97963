package service_test

import (
	"testing"

	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/domain"
	"fulfillment-backend-trusted/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBonusCalculator(t *testing.T) {
	calc, err := service.NewBonusCalculator(config.BonusConfig{Enabled: true, Percent: "2.5", MinInstallments: 3})
	require.NoError(t, err)

	payment := domain.Payment{Amount: 10_001}
	tests := []struct {
		name string
		sub  *domain.Subscription
		want int64
	}{
		{"NoSubscription", nil, 0},
		{"BelowMinimum", &domain.Subscription{InstallmentsPaid: 2}, 0},
		{"AtMinimum", &domain.Subscription{InstallmentsPaid: 3}, 250},
		{"AboveMinimum", &domain.Subscription{InstallmentsPaid: 12}, 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Compute(domain.BonusContext{Payment: payment, Subscription: tt.sub})
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("Disabled", func(t *testing.T) {
		off, err := service.NewBonusCalculator(config.BonusConfig{Percent: "50"})
		require.NoError(t, err)
		assert.Zero(t, off.Compute(domain.BonusContext{Payment: payment, Subscription: &domain.Subscription{InstallmentsPaid: 99}}))
	})

	t.Run("InvalidPercent", func(t *testing.T) {
		_, err := service.NewBonusCalculator(config.BonusConfig{Enabled: true, Percent: "abc"})
		assert.Error(t, err)
		_, err = service.NewBonusCalculator(config.BonusConfig{Enabled: true, Percent: "150"})
		assert.Error(t, err)
	})
}

func TestTdsLookup(t *testing.T) {
	tds, err := service.NewTdsLookup(config.TDSConfig{Rates: map[string]config.TDSRate{
		"bonus":    {PanVerified: "10", NoPan: "20"},
		"dividend": {PanVerified: "-4", NoPan: "45"},
	}})
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(10).Equal(tds.Rate("bonus", true)))
	assert.True(t, decimal.NewFromInt(20).Equal(tds.Rate("bonus", false)))
	assert.True(t, decimal.Zero.Equal(tds.Rate("dividend", true)), "clamped to 0")
	assert.True(t, decimal.NewFromInt(30).Equal(tds.Rate("dividend", false)), "clamped to 30")
	assert.True(t, decimal.Zero.Equal(tds.Rate("unknown", false)))

	_, err = service.NewTdsLookup(config.TDSConfig{Rates: map[string]config.TDSRate{"bonus": {PanVerified: "ten"}}})
	assert.Error(t, err)
}
