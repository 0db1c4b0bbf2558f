package amm

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// SortTokens returns the two tokens in canonical pool order (ascending by
// address), the order in which every pool stores them.
func SortTokens(a, b Token) (Token, Token) {
	if bytes.Compare(a.Address.Bytes(), b.Address.Bytes()) < 0 {
		return a, b
	}
	return b, a
}

// ConstantProductPool models an x*y=k pair with the fee taken off the input
// amount. One pool exists per token pair.
type ConstantProductPool struct {
	address common.Address
	token0  Token
	token1  Token
	fee     Fee
	source  ReserveSource
}

// NewConstantProduct builds a constant-product pool model. Token order is
// canonicalized so token0 < token1 by address.
func NewConstantProduct(address common.Address, tokenA, tokenB Token, fee Fee, source ReserveSource) *ConstantProductPool {
	token0, token1 := SortTokens(tokenA, tokenB)
	return &ConstantProductPool{
		address: address,
		token0:  token0,
		token1:  token1,
		fee:     fee,
		source:  source,
	}
}

func (p *ConstantProductPool) Address() common.Address { return p.address }
func (p *ConstantProductPool) Protocol() Protocol      { return ProtocolConstantProduct }
func (p *ConstantProductPool) Token0() Token           { return p.token0 }
func (p *ConstantProductPool) Token1() Token           { return p.token1 }
func (p *ConstantProductPool) Fee() Fee                { return p.fee }
func (p *ConstantProductPool) Key() int64              { return int64(p.fee) }

func (p *ConstantProductPool) String() string {
	return fmt.Sprintf("v2 %s/%s %s", p.token0, p.token1, p.address.Hex())
}

func (p *ConstantProductPool) Other(token Token) (Token, error) {
	switch token.Address {
	case p.token0.Address:
		return p.token1, nil
	case p.token1.Address:
		return p.token0, nil
	}
	return Token{}, fmt.Errorf("%s: %w", token, ErrTokenNotInPool)
}

// reserveOf returns both reserves in whole-token units along with the side
// of the requested token.
func (p *ConstantProductPool) reserveOf(token Token) (own, other decimal.Decimal, err error) {
	r0, r1, err := p.source.Reserves()
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	d0 := p.token0.FromBaseUnits(r0)
	d1 := p.token1.FromBaseUnits(r1)

	switch token.Address {
	case p.token0.Address:
		return d0, d1, nil
	case p.token1.Address:
		return d1, d0, nil
	}
	return decimal.Zero, decimal.Zero, fmt.Errorf("%s: %w", token, ErrTokenNotInPool)
}

func (p *ConstantProductPool) Price(token Token) (decimal.Decimal, error) {
	own, other, err := p.reserveOf(token)
	if err != nil {
		return decimal.Zero, err
	}
	if own.Sign() == 0 || other.Sign() == 0 {
		return decimal.Zero, fmt.Errorf("%s: %w", p.address.Hex(), ErrUninitializedPool)
	}
	return other.DivRound(own, priceScale), nil
}

func (p *ConstantProductPool) Liquidity(token Token) (decimal.Decimal, error) {
	own, _, err := p.reserveOf(token)
	if err != nil {
		return decimal.Zero, err
	}
	return own, nil
}

func (p *ConstantProductPool) Depth(token Token, slippage decimal.Decimal) (decimal.Decimal, error) {
	own, _, err := p.reserveOf(token)
	if err != nil {
		return decimal.Zero, err
	}
	return depthFromReserve(own, p.fee, slippage)
}

func (p *ConstantProductPool) Reflexivity(token Token, size decimal.Decimal) (decimal.Decimal, error) {
	own, _, err := p.reserveOf(token)
	if err != nil {
		return decimal.Zero, err
	}
	if own.Sign() == 0 {
		return decimal.Zero, fmt.Errorf("%s: %w", p.address.Hex(), ErrUninitializedPool)
	}
	return reflexivityFromLiquidity(own, p.fee, size)
}
