package service

import (
	"fmt"

	"fulfillment-backend-trusted/internal/config"
	"fulfillment-backend-trusted/internal/domain"

	"github.com/shopspring/decimal"
)

// IncomeTypeBonus is the TDS income type applied to installment bonuses.
const IncomeTypeBonus = "bonus"

var (
	hundred = decimal.NewFromInt(100)
	maxTds  = decimal.NewFromInt(30)
)

type installmentBonus struct {
	enabled         bool
	percent         decimal.Decimal
	minInstallments int32
}

// NewBonusCalculator builds the installment bonus rule. A disabled rule
// always computes zero.
func NewBonusCalculator(cfg config.BonusConfig) (BonusCalculator, error) {
	b := &installmentBonus{enabled: cfg.Enabled, minInstallments: cfg.MinInstallments}
	if !cfg.Enabled {
		return b, nil
	}
	pct, err := decimal.NewFromString(cfg.Percent)
	if err != nil {
		return nil, fmt.Errorf("invalid bonus percent %q: %w", cfg.Percent, err)
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return nil, fmt.Errorf("bonus percent %s out of range [0,100]", pct)
	}
	b.percent = pct
	return b, nil
}

func (b *installmentBonus) Compute(bctx domain.BonusContext) int64 {
	if !b.enabled || bctx.Subscription == nil {
		return 0
	}
	if bctx.Subscription.InstallmentsPaid < b.minInstallments {
		return 0
	}
	return decimal.NewFromInt(bctx.Payment.Amount).
		Mul(b.percent).
		Div(hundred).
		RoundBank(0).
		IntPart()
}

type tdsRate struct {
	panVerified decimal.Decimal
	noPan       decimal.Decimal
}

type tdsTable struct {
	rates map[string]tdsRate
}

// NewTdsLookup parses the configured rates. Rates outside [0,30] are clamped
// rather than rejected.
func NewTdsLookup(cfg config.TDSConfig) (TdsLookup, error) {
	t := &tdsTable{rates: make(map[string]tdsRate, len(cfg.Rates))}
	for incomeType, r := range cfg.Rates {
		pan, err := parseRate(r.PanVerified)
		if err != nil {
			return nil, fmt.Errorf("tds %s pan_verified: %w", incomeType, err)
		}
		noPan, err := parseRate(r.NoPan)
		if err != nil {
			return nil, fmt.Errorf("tds %s no_pan: %w", incomeType, err)
		}
		t.rates[incomeType] = tdsRate{panVerified: pan, noPan: noPan}
	}
	return t, nil
}

func parseRate(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func clampRate(r decimal.Decimal) decimal.Decimal {
	if r.IsNegative() {
		return decimal.Zero
	}
	if r.GreaterThan(maxTds) {
		return maxTds
	}
	return r
}

// Rate returns zero for income types without a configured rate.
func (t *tdsTable) Rate(incomeType string, panVerified bool) decimal.Decimal {
	r, ok := t.rates[incomeType]
	if !ok {
		return decimal.Zero
	}
	if panVerified {
		return clampRate(r.panVerified)
	}
	return clampRate(r.noPan)
}

// withhold splits gross into the tax withheld at rate percent and the net
// paid out, rounded to whole minor units.
func withhold(gross int64, rate decimal.Decimal) (tds, net int64) {
	tds = decimal.NewFromInt(gross).Mul(rate).Div(hundred).RoundBank(0).IntPart()
	return tds, gross - tds
}
