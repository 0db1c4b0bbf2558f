package amm

import (
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// priceScale is the number of decimal places carried through price and
// liquidity divisions. Token precision never exceeds 18 places, so 38 places
// keeps two full token precisions of headroom before quantization.
const priceScale = 38

var (
	// ErrUninitializedPool means one or both reserves are zero, so no price
	// exists. Routing treats this as "skip the route", not a failure.
	ErrUninitializedPool = errors.New("pool has no liquidity")

	// ErrSizeOutOfBounds means a trade size is not in (0, liquidity).
	ErrSizeOutOfBounds = errors.New("trade size out of bounds")

	// ErrTokenNotInPool means the supplied token is neither side of the pool.
	ErrTokenNotInPool = errors.New("token not in pool")
)

// Protocol distinguishes pool pricing models.
type Protocol int

const (
	ProtocolConstantProduct Protocol = iota + 1
	ProtocolConcentrated
)

func (p Protocol) String() string {
	switch p {
	case ProtocolConstantProduct:
		return "v2"
	case ProtocolConcentrated:
		return "v3"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// Pool is the pricing and liquidity model for a single on-chain pool.
// All four pricing operations must read from the same reserve snapshot;
// supplying a consistent snapshot is the reserve source's responsibility.
type Pool interface {
	// Address is the pool's identity. Pools compare equal iff addresses match.
	Address() common.Address

	Protocol() Protocol
	Token0() Token
	Token1() Token
	Fee() Fee

	// Key disambiguates parallel pools for the same token pair. For
	// constant-product protocols there is one pool per pair; for fee-tiered
	// protocols the key is the fee tier.
	Key() int64

	// Other returns the pool token that is not the argument.
	Other(token Token) (Token, error)

	// Price is the spot exchange rate of token in terms of the other pool
	// token. Fails with ErrUninitializedPool if either reserve is zero.
	Price(token Token) (decimal.Decimal, error)

	// Liquidity is the maximum balance of token obtainable from the pool,
	// an upper bound for routing capacity.
	Liquidity(token Token) (decimal.Decimal, error)

	// Depth is the maximum amount of token that can be supplied while the
	// realized price change stays below slippage (a ratio in (0,1)).
	Depth(token Token, slippage decimal.Decimal) (decimal.Decimal, error)

	// Reflexivity is the realized relative price change from trading size
	// of token into the pool. Fails with ErrSizeOutOfBounds unless
	// 0 < size < Liquidity(token).
	Reflexivity(token Token, size decimal.Decimal) (decimal.Decimal, error)
}

// depthFromReserve computes the largest input of a token that keeps the
// realized price move under the slippage ratio, derived from the
// constant-product invariant with the fee taken off the input:
//
//	depth = (reserve / (1 - fee)) * (1/sqrt(1 - slippage) - 1)
func depthFromReserve(reserve decimal.Decimal, fee Fee, slippage decimal.Decimal) (decimal.Decimal, error) {
	if slippage.Sign() <= 0 || slippage.Cmp(decimal.New(1, 0)) >= 0 {
		return decimal.Zero, fmt.Errorf("slippage %s not in (0,1): %w", slippage, ErrSizeOutOfBounds)
	}
	if reserve.Sign() <= 0 {
		return decimal.Zero, ErrUninitializedPool
	}

	one := decimal.New(1, 0)
	// The square root has no closed decimal form; float64 precision is far
	// below the quantization applied downstream.
	s, _ := slippage.Float64()
	mult := decimal.NewFromFloat(1/math.Sqrt(1-s) - 1)

	return reserve.DivRound(one.Sub(fee.Ratio()), priceScale).Mul(mult), nil
}

// reflexivityFromLiquidity computes the relative price change caused by
// trading size into a pool holding liquidity of that token:
//
//	1 - (L / (L + (1-fee)*size))^2
func reflexivityFromLiquidity(liquidity decimal.Decimal, fee Fee, size decimal.Decimal) (decimal.Decimal, error) {
	if size.Sign() <= 0 || size.Cmp(liquidity) >= 0 {
		return decimal.Zero, fmt.Errorf("size %s outside (0, %s): %w", size, liquidity, ErrSizeOutOfBounds)
	}

	one := decimal.New(1, 0)
	effective := one.Sub(fee.Ratio()).Mul(size)
	ratio := liquidity.DivRound(liquidity.Add(effective), priceScale)
	return one.Sub(ratio.Mul(ratio)), nil
}
