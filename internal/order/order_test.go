package order

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"swapsolver/internal/amm"
)

var (
	weth = amm.Token{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Symbol: "WETH", Decimals: 18}
	usdc = amm.Token{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6}
)

// marketAt returns a price function quoting a fixed WETH/USDC market.
func marketAt(price string) PriceFunc {
	return func(tokenIn, tokenOut amm.Token) (decimal.Decimal, error) {
		p := decimal.RequireFromString(price)
		if tokenIn.Address == weth.Address {
			return p, nil
		}
		return decimal.New(1, 0).DivRound(p, 28), nil
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestExactInDerivesMinOutFromSlippage(t *testing.T) {
	o, err := Create(Params{
		TokenIn:  weth,
		TokenOut: usdc,
		AmountIn: dec("2"),
		Slippage: dec("0.01"),
	}, marketAt("2000"))
	require.NoError(t, err)

	require.Equal(t, ExactIn, o.Kind)
	require.True(t, o.AmountIn.Equal(dec("2")))
	// 2 * 2000 * 0.99 = 3960
	require.True(t, o.AmountOut.Equal(dec("3960")), "got %s", o.AmountOut)
	require.True(t, o.Fixed().Equal(o.AmountIn))
	require.True(t, o.Bound().Equal(o.AmountOut))
}

func TestExactInDerivesSlippageFromMinOut(t *testing.T) {
	o, err := Create(Params{
		TokenIn:      weth,
		TokenOut:     usdc,
		AmountIn:     dec("2"),
		MinAmountOut: dec("3800"),
	}, marketAt("2000"))
	require.NoError(t, err)

	// 1 - 3800/4000 = 0.05
	require.True(t, o.Slippage.Equal(dec("0.05")), "got %s", o.Slippage)
	require.True(t, o.AmountOut.Equal(dec("3800")))
}

func TestExactInDefaultSlippage(t *testing.T) {
	o, err := Create(Params{
		TokenIn:  weth,
		TokenOut: usdc,
		AmountIn: dec("1"),
	}, marketAt("2000"))
	require.NoError(t, err)

	require.True(t, o.Slippage.Equal(DefaultSlippage))
	// 2000 * 0.995 = 1990
	require.True(t, o.AmountOut.Equal(dec("1990")), "got %s", o.AmountOut)
}

func TestExactOutDerivesMaxInFromSlippage(t *testing.T) {
	o, err := Create(Params{
		TokenIn:   weth,
		TokenOut:  usdc,
		AmountOut: dec("1990"),
		Slippage:  dec("0.005"),
	}, marketAt("2000"))
	require.NoError(t, err)

	require.Equal(t, ExactOut, o.Kind)
	require.True(t, o.AmountOut.Equal(dec("1990")))
	// 1990/2000 / 0.995 = 1
	require.True(t, o.AmountIn.Equal(dec("1")), "got %s", o.AmountIn)
	require.True(t, o.Fixed().Equal(o.AmountOut))
	require.True(t, o.Bound().Equal(o.AmountIn))
}

func TestExactOutDerivesSlippageFromMaxIn(t *testing.T) {
	o, err := Create(Params{
		TokenIn:     weth,
		TokenOut:    usdc,
		AmountOut:   dec("2000"),
		MaxAmountIn: dec("1.25"),
	}, marketAt("2000"))
	require.NoError(t, err)

	// market needs 1 WETH; allowing 1.25 implies 1 - 1/1.25 = 0.2
	require.True(t, o.Slippage.Equal(dec("0.2")), "got %s", o.Slippage)
	require.True(t, o.AmountIn.Equal(dec("1.25")))
}

func TestAmbiguousAmount(t *testing.T) {
	_, err := Create(Params{TokenIn: weth, TokenOut: usdc}, marketAt("2000"))
	require.ErrorIs(t, err, ErrAmbiguousAmount)

	_, err = Create(Params{
		TokenIn:   weth,
		TokenOut:  usdc,
		AmountIn:  dec("1"),
		AmountOut: dec("2000"),
	}, marketAt("2000"))
	require.ErrorIs(t, err, ErrAmbiguousAmount)
}

func TestConflictingBound(t *testing.T) {
	_, err := Create(Params{
		TokenIn:      weth,
		TokenOut:     usdc,
		AmountIn:     dec("1"),
		MinAmountOut: dec("1990"),
		Slippage:     dec("0.005"),
	}, marketAt("2000"))
	require.ErrorIs(t, err, ErrConflictingBound)

	// A max-in limit makes no sense when the input amount is fixed.
	_, err = Create(Params{
		TokenIn:     weth,
		TokenOut:    usdc,
		AmountIn:    dec("1"),
		MaxAmountIn: dec("1.1"),
	}, marketAt("2000"))
	require.ErrorIs(t, err, ErrConflictingBound)

	_, err = Create(Params{
		TokenIn:      weth,
		TokenOut:     usdc,
		AmountOut:    dec("2000"),
		MinAmountOut: dec("1990"),
	}, marketAt("2000"))
	require.ErrorIs(t, err, ErrConflictingBound)
}

func TestSlippageOutOfRange(t *testing.T) {
	for _, s := range []string{"1", "1.5", "-0.05"} {
		_, err := Create(Params{
			TokenIn:  weth,
			TokenOut: usdc,
			AmountIn: dec("1"),
			Slippage: dec(s),
		}, marketAt("2000"))
		require.ErrorIs(t, err, ErrSlippageOutOfRange, "slippage %s", s)
	}

	// A limit at or above the market amount implies non-positive slippage.
	_, err := Create(Params{
		TokenIn:      weth,
		TokenOut:     usdc,
		AmountIn:     dec("1"),
		MinAmountOut: dec("2000"),
	}, marketAt("2000"))
	require.ErrorIs(t, err, ErrSlippageOutOfRange)

	// Allowing less input than the market requires is likewise impossible.
	_, err = Create(Params{
		TokenIn:     weth,
		TokenOut:    usdc,
		AmountOut:   dec("2000"),
		MaxAmountIn: dec("0.9"),
	}, marketAt("2000"))
	require.ErrorIs(t, err, ErrSlippageOutOfRange)
}

func TestNonPositiveAmount(t *testing.T) {
	_, err := Create(Params{
		TokenIn:  weth,
		TokenOut: usdc,
		AmountIn: dec("-1"),
	}, marketAt("2000"))
	require.ErrorIs(t, err, ErrNonPositiveAmount)

	// 1e-19 WETH quantizes to zero at 18 decimals.
	_, err = Create(Params{
		TokenIn:  weth,
		TokenOut: usdc,
		AmountIn: dec("0.0000000000000000001"),
	}, marketAt("2000"))
	require.ErrorIs(t, err, ErrNonPositiveAmount)
}

func TestSameToken(t *testing.T) {
	_, err := Create(Params{
		TokenIn:  weth,
		TokenOut: weth,
		AmountIn: dec("1"),
	}, marketAt("1"))
	require.ErrorIs(t, err, ErrSameToken)
}

func TestAmountsAreQuantized(t *testing.T) {
	o, err := Create(Params{
		TokenIn:  weth,
		TokenOut: usdc,
		AmountIn: dec("1.0000000000000000019"),
		Slippage: dec("0.3333"),
	}, marketAt("2000"))
	require.NoError(t, err)

	require.True(t, o.AmountIn.Equal(dec("1.000000000000000001")), "got %s", o.AmountIn)
	// The derived minimum is cut to USDC's six decimal places.
	require.True(t, o.AmountOut.Equal(dec("1333.4")), "got %s", o.AmountOut)
}
