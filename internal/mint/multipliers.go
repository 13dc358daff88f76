package mint

import (
	"github.com/shopspring/decimal"

	"github.com/camly/backend/internal/models"
)

var (
	one       = decimal.NewFromInt(1)
	hundred   = decimal.NewFromInt(100)
	unitySpan = decimal.NewFromInt(200)
)

// ComputeMultipliers derives k, q, i and ux for a grant.
//
//	k  = reputation weight (unset means 1, negative means 0)
//	q  = lightScore / 100
//	i  = clamp(1 - 0.1*suspicionScore, 0, 1)
//	ux = 1 + unityScore / 200
func ComputeMultipliers(reputationWeight float64, lightScore, suspicionScore, unityScore int) models.Multipliers {
	k := decimal.NewFromFloat(reputationWeight)
	switch {
	case reputationWeight == 0:
		k = one
	case reputationWeight < 0:
		k = decimal.Zero
	}

	q := clampDecimal(decimal.NewFromInt(int64(lightScore)).Div(hundred), decimal.Zero, one)
	i := clampDecimal(one.Sub(decimal.New(int64(suspicionScore), -1)), decimal.Zero, one)
	ux := one.Add(decimal.NewFromInt(int64(max(unityScore, 0))).Div(unitySpan))

	return models.Multipliers{K: k, Q: q, I: i, UX: ux}
}

// BaseRewardAtomic converts mintable FUN to token atomic units.
func BaseRewardAtomic(mintableFun int64, decimals int32, funPerToken int64) decimal.Decimal {
	if mintableFun <= 0 {
		return decimal.Zero
	}
	if funPerToken <= 0 {
		funPerToken = 1
	}
	return decimal.NewFromInt(mintableFun).Shift(decimals).Div(decimal.NewFromInt(funPerToken)).Truncate(0)
}

// CalculatedAmount applies the multipliers to base, truncated to whole atomic units.
func CalculatedAmount(base decimal.Decimal, m models.Multipliers) decimal.Decimal {
	return base.Mul(m.Product()).Truncate(0)
}

// FormatTokens renders an atomic amount in token units with four decimals.
func FormatTokens(atomic decimal.Decimal, decimals int32) string {
	return atomic.Shift(-decimals).Truncate(4).StringFixed(4)
}

func clampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}
