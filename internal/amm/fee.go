package amm

import "github.com/shopspring/decimal"

// Fee is a pool fee tier expressed in hundredths of a basis point
// (parts per million), matching the on-chain representation.
type Fee int64

const (
	FeeLowest Fee = 100
	FeeLow200 Fee = 200
	FeeLow300 Fee = 300
	FeeLow400 Fee = 400
	FeeLow    Fee = 500
	FeeMedium Fee = 3000
	FeeHigh   Fee = 10000

	// FeeMaximum is the denominator of the fee representation (100%).
	FeeMaximum Fee = 1_000_000
)

var tickSpacings = map[Fee]int{
	FeeLowest: 1,
	FeeLow200: 4,
	FeeLow300: 6,
	FeeLow400: 8,
	FeeLow:    10,
	FeeMedium: 60,
	FeeHigh:   200,
}

// TickSpacing returns the tick spacing for the fee tier, or 0 if the tier is
// not a standard one.
func (f Fee) TickSpacing() int {
	return tickSpacings[f]
}

// Ratio converts the fee tier to a decimal ratio (e.g. 3000 -> 0.003).
func (f Fee) Ratio() decimal.Decimal {
	return decimal.New(int64(f), -6)
}
