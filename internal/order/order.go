package order

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"swapsolver/internal/amm"
)

var (
	// ErrAmbiguousAmount means neither or both of AmountIn and AmountOut
	// were set; exactly one side fixes the order.
	ErrAmbiguousAmount = errors.New("exactly one of amount in or amount out must be set")

	// ErrConflictingBound means both an explicit limit amount and a slippage
	// ratio were given; each determines the other, so only one may be set.
	ErrConflictingBound = errors.New("limit amount and slippage are mutually exclusive")

	// ErrNonPositiveAmount means an amount is zero or negative after
	// quantization to its token's precision.
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// ErrSlippageOutOfRange means the slippage ratio, given or derived from
	// the limit amount, is not in (0, 1).
	ErrSlippageOutOfRange = errors.New("slippage not in (0,1)")

	// ErrSameToken means the order trades a token against itself.
	ErrSameToken = errors.New("input and output tokens are identical")
)

// DefaultSlippage is applied when neither a limit amount nor a slippage
// ratio is given.
var DefaultSlippage = decimal.RequireFromString("0.005")

// Kind says which side of the order the user fixed.
type Kind int

const (
	// ExactIn fixes the amount sold; the amount bought floats above a
	// minimum.
	ExactIn Kind = iota + 1
	// ExactOut fixes the amount bought; the amount sold floats below a
	// maximum.
	ExactOut
)

func (k Kind) String() string {
	switch k {
	case ExactIn:
		return "exact-in"
	case ExactOut:
		return "exact-out"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Order is a fully resolved swap request. Both amounts are always populated:
// for ExactIn, AmountOut is the protective minimum; for ExactOut, AmountIn is
// the protective maximum. Amounts are in whole-token units quantized to their
// token's precision.
type Order struct {
	Kind      Kind
	TokenIn   amm.Token
	TokenOut  amm.Token
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal
	Slippage  decimal.Decimal
}

// Fixed is the user-fixed amount: AmountIn for ExactIn, AmountOut for
// ExactOut.
func (o *Order) Fixed() decimal.Decimal {
	if o.Kind == ExactIn {
		return o.AmountIn
	}
	return o.AmountOut
}

// Bound is the protective limit: the minimum received for ExactIn, the
// maximum spent for ExactOut.
func (o *Order) Bound() decimal.Decimal {
	if o.Kind == ExactIn {
		return o.AmountOut
	}
	return o.AmountIn
}

func (o *Order) String() string {
	return fmt.Sprintf("%s %s %s -> %s %s", o.Kind, o.AmountIn, o.TokenIn, o.AmountOut, o.TokenOut)
}

// Params are the raw inputs to Create. Zero decimals mean "unset".
type Params struct {
	TokenIn  amm.Token
	TokenOut amm.Token

	// Exactly one of these must be set.
	AmountIn  decimal.Decimal
	AmountOut decimal.Decimal

	// At most one of the matching limit and Slippage may be set. The limit
	// for an exact-in order is MinAmountOut; for exact-out it is MaxAmountIn.
	MinAmountOut decimal.Decimal
	MaxAmountIn  decimal.Decimal
	Slippage     decimal.Decimal
}

// PriceFunc supplies the current market price of tokenIn in tokenOut units,
// used to translate between a limit amount and a slippage ratio.
type PriceFunc func(tokenIn, tokenOut amm.Token) (decimal.Decimal, error)

// Create validates the parameters and resolves the floating side. When a
// slippage ratio is given (or defaulted) the limit amount is derived from the
// market price; when a limit amount is given the slippage it implies is
// derived instead and must land in (0, 1).
func Create(p Params, price PriceFunc) (*Order, error) {
	if p.TokenIn.Address == p.TokenOut.Address {
		return nil, ErrSameToken
	}
	if p.AmountIn.Sign() != 0 && p.AmountOut.Sign() != 0 {
		return nil, ErrAmbiguousAmount
	}
	if p.AmountIn.Sign() == 0 && p.AmountOut.Sign() == 0 {
		return nil, ErrAmbiguousAmount
	}

	one := decimal.New(1, 0)
	market, err := price(p.TokenIn, p.TokenOut)
	if err != nil {
		return nil, fmt.Errorf("market price: %w", err)
	}
	if market.Sign() <= 0 {
		return nil, fmt.Errorf("market price %s: %w", market, ErrNonPositiveAmount)
	}

	if p.AmountIn.Sign() != 0 {
		if p.MaxAmountIn.Sign() != 0 {
			return nil, fmt.Errorf("max amount in on an exact-in order: %w", ErrConflictingBound)
		}
		amountIn := p.TokenIn.Quantize(p.AmountIn)
		if amountIn.Sign() <= 0 {
			return nil, fmt.Errorf("amount in %s: %w", p.AmountIn, ErrNonPositiveAmount)
		}

		marketOut := amountIn.Mul(market)
		slippage, minOut := p.Slippage, p.MinAmountOut
		switch {
		case minOut.Sign() != 0 && slippage.Sign() != 0:
			return nil, ErrConflictingBound
		case minOut.Sign() != 0:
			// slippage implied by the limit: 1 - minOut/marketOut
			slippage = one.Sub(minOut.DivRound(marketOut, 28))
		default:
			if slippage.Sign() == 0 {
				slippage = DefaultSlippage
			}
			minOut = marketOut.Mul(one.Sub(slippage))
		}

		if err := checkSlippage(slippage); err != nil {
			return nil, err
		}
		minOut = p.TokenOut.Quantize(minOut)
		if minOut.Sign() <= 0 {
			return nil, fmt.Errorf("min amount out %s: %w", minOut, ErrNonPositiveAmount)
		}
		return &Order{
			Kind:      ExactIn,
			TokenIn:   p.TokenIn,
			TokenOut:  p.TokenOut,
			AmountIn:  amountIn,
			AmountOut: minOut,
			Slippage:  slippage,
		}, nil
	}

	if p.MinAmountOut.Sign() != 0 {
		return nil, fmt.Errorf("min amount out on an exact-out order: %w", ErrConflictingBound)
	}
	amountOut := p.TokenOut.Quantize(p.AmountOut)
	if amountOut.Sign() <= 0 {
		return nil, fmt.Errorf("amount out %s: %w", p.AmountOut, ErrNonPositiveAmount)
	}

	marketIn := amountOut.DivRound(market, 28)
	slippage, maxIn := p.Slippage, p.MaxAmountIn
	switch {
	case maxIn.Sign() != 0 && slippage.Sign() != 0:
		return nil, ErrConflictingBound
	case maxIn.Sign() != 0:
		// slippage implied by the limit: 1 - marketIn/maxIn
		slippage = one.Sub(marketIn.DivRound(maxIn, 28))
	default:
		if slippage.Sign() == 0 {
			slippage = DefaultSlippage
		}
		maxIn = marketIn.DivRound(one.Sub(slippage), 28)
	}

	if err := checkSlippage(slippage); err != nil {
		return nil, err
	}
	maxIn = p.TokenIn.Quantize(maxIn)
	if maxIn.Sign() <= 0 {
		return nil, fmt.Errorf("max amount in %s: %w", maxIn, ErrNonPositiveAmount)
	}
	return &Order{
		Kind:      ExactOut,
		TokenIn:   p.TokenIn,
		TokenOut:  p.TokenOut,
		AmountIn:  maxIn,
		AmountOut: amountOut,
		Slippage:  slippage,
	}, nil
}

func checkSlippage(slippage decimal.Decimal) error {
	if slippage.Sign() <= 0 || slippage.Cmp(decimal.New(1, 0)) >= 0 {
		return fmt.Errorf("slippage %s: %w", slippage, ErrSlippageOutOfRange)
	}
	return nil
}
