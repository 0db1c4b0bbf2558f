package amm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token identifies an ERC-20 token by chain address. Decimals is the token's
// declared precision; all whole-token amounts passing through pricing and
// solving are quantized to it.
type Token struct {
	Address  common.Address
	Symbol   string
	Decimals int32
}

// Quantize truncates an amount to the token's decimal precision.
func (t Token) Quantize(amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(t.Decimals)
}

// ToBaseUnits converts a whole-token amount into the token's smallest
// denomination, truncating any sub-unit remainder.
func (t Token) ToBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(t.Decimals).Truncate(0).BigInt()
}

// FromBaseUnits converts an integer amount in the smallest denomination back
// into whole-token units.
func (t Token) FromBaseUnits(units *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(units, -t.Decimals)
}

func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}
