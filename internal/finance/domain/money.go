package domain

import "github.com/shopspring/decimal"

// Currency amounts carry 2 decimal places, unit quantities 6. Every
// arithmetic step rounds immediately so drift cannot compound across
// repeated buy/sell operations.
const (
	MoneyPlaces    = 2
	QuantityPlaces = 6
)

var (
	// MoneyTolerance is the threshold under which a currency residue is
	// treated as zero (waterfall pool, realized P&L booking).
	MoneyTolerance = decimal.New(1, -2) // 0.01

	// PercentTolerance absorbs rounding noise when checking that bucket
	// distribution percentages sum to at most 100.
	PercentTolerance = decimal.New(1, -3) // 0.001

	Hundred = decimal.NewFromInt(100)
)

func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

func RoundQuantity(d decimal.Decimal) decimal.Decimal {
	return d.Round(QuantityPlaces)
}

// MaxZero clamps a value at zero from below. Invested amounts and
// remaining space in a bucket must never go negative.
func MaxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
