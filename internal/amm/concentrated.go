package amm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// q192 is 2^192, the denominator of the squared Q64.96 sqrt price.
var q192 = new(big.Int).Lsh(big.NewInt(1), 192)

// ConcentratedPool models a tick-based pool. Spot price comes from the
// pool's sqrt price; depth and reflexivity reuse the constant-product
// formulas over the pool's whole token balances.
//
// This is an approximation: real depth depends on the liquidity placed in
// each tick, and the whole-balance figures overstate what is available near
// the current price. Kept as-is deliberately; a tick-accurate model would
// need the tick bitmap and per-tick net liquidity.
type ConcentratedPool struct {
	address     common.Address
	token0      Token
	token1      Token
	fee         Fee
	tickSpacing int
	source      SlotSource
}

// NewConcentrated builds a concentrated-liquidity pool model. Token order is
// canonicalized so token0 < token1 by address.
func NewConcentrated(address common.Address, tokenA, tokenB Token, fee Fee, source SlotSource) *ConcentratedPool {
	token0, token1 := SortTokens(tokenA, tokenB)
	return &ConcentratedPool{
		address:     address,
		token0:      token0,
		token1:      token1,
		fee:         fee,
		tickSpacing: fee.TickSpacing(),
		source:      source,
	}
}

func (p *ConcentratedPool) Address() common.Address { return p.address }
func (p *ConcentratedPool) Protocol() Protocol      { return ProtocolConcentrated }
func (p *ConcentratedPool) Token0() Token           { return p.token0 }
func (p *ConcentratedPool) Token1() Token           { return p.token1 }
func (p *ConcentratedPool) Fee() Fee                { return p.fee }
func (p *ConcentratedPool) Key() int64              { return int64(p.fee) }
func (p *ConcentratedPool) TickSpacing() int        { return p.tickSpacing }

func (p *ConcentratedPool) String() string {
	return fmt.Sprintf("v3 %s/%s fee=%d %s", p.token0, p.token1, p.fee, p.address.Hex())
}

func (p *ConcentratedPool) Other(token Token) (Token, error) {
	switch token.Address {
	case p.token0.Address:
		return p.token1, nil
	case p.token1.Address:
		return p.token0, nil
	}
	return Token{}, fmt.Errorf("%s: %w", token, ErrTokenNotInPool)
}

// Price derives the spot rate from the current sqrt price:
// price(token0) = sqrtPriceX96^2 / 2^192, adjusted for decimal difference.
func (p *ConcentratedPool) Price(token Token) (decimal.Decimal, error) {
	sqrtP, err := p.source.SqrtPriceX96()
	if err != nil {
		return decimal.Zero, err
	}
	if sqrtP == nil || sqrtP.Sign() == 0 {
		return decimal.Zero, fmt.Errorf("%s: %w", p.address.Hex(), ErrUninitializedPool)
	}

	num := decimal.NewFromBigInt(new(big.Int).Mul(sqrtP, sqrtP), 0)
	raw := num.DivRound(decimal.NewFromBigInt(q192, 0), priceScale)

	// raw is the token0 price in base-unit terms; rescale to whole tokens.
	token0Price := raw.Shift(p.token0.Decimals - p.token1.Decimals)

	switch token.Address {
	case p.token0.Address:
		return token0Price, nil
	case p.token1.Address:
		if token0Price.Sign() == 0 {
			return decimal.Zero, fmt.Errorf("%s: %w", p.address.Hex(), ErrUninitializedPool)
		}
		return decimal.New(1, 0).DivRound(token0Price, priceScale), nil
	}
	return decimal.Zero, fmt.Errorf("%s: %w", token, ErrTokenNotInPool)
}

func (p *ConcentratedPool) balanceOf(token Token) (decimal.Decimal, error) {
	r0, r1, err := p.source.Reserves()
	if err != nil {
		return decimal.Zero, err
	}
	switch token.Address {
	case p.token0.Address:
		return p.token0.FromBaseUnits(r0), nil
	case p.token1.Address:
		return p.token1.FromBaseUnits(r1), nil
	}
	return decimal.Zero, fmt.Errorf("%s: %w", token, ErrTokenNotInPool)
}

func (p *ConcentratedPool) Liquidity(token Token) (decimal.Decimal, error) {
	return p.balanceOf(token)
}

func (p *ConcentratedPool) Depth(token Token, slippage decimal.Decimal) (decimal.Decimal, error) {
	balance, err := p.balanceOf(token)
	if err != nil {
		return decimal.Zero, err
	}
	return depthFromReserve(balance, p.fee, slippage)
}

func (p *ConcentratedPool) Reflexivity(token Token, size decimal.Decimal) (decimal.Decimal, error) {
	balance, err := p.balanceOf(token)
	if err != nil {
		return decimal.Zero, err
	}
	if balance.Sign() == 0 {
		return decimal.Zero, fmt.Errorf("%s: %w", p.address.Hex(), ErrUninitializedPool)
	}
	return reflexivityFromLiquidity(balance, p.fee, size)
}
