package internal

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"swapsolver/internal/amm"
	"swapsolver/internal/execution"
	"swapsolver/internal/index"
	"swapsolver/internal/order"
	"swapsolver/internal/solver"
	"swapsolver/internal/urouter"
)

var (
	weth = amm.Token{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Symbol: "WETH", Decimals: 18}
	usdc = amm.Token{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6}
	dai  = amm.Token{Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Symbol: "DAI", Decimals: 18}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// baseUnits returns sorted reserves for a pair funded with the given
// whole-token amounts.
func baseUnits(a, b amm.Token, amountA, amountB string) (*big.Int, *big.Int) {
	r0 := a.ToBaseUnits(dec(amountA))
	r1 := b.ToBaseUnits(dec(amountB))
	t0, _ := amm.SortTokens(a, b)
	if t0.Address != a.Address {
		r0, r1 = r1, r0
	}
	return r0, r1
}

// TestQuotePipeline runs the full solve path against a static snapshot:
// index -> order -> solver -> router plan -> execute() calldata round trip.
func TestQuotePipeline(t *testing.T) {
	deepR0, deepR1 := baseUnits(weth, usdc, "100", "200000")
	thinR0, thinR1 := baseUnits(weth, usdc, "10", "18000")
	bridgeAR0, bridgeAR1 := baseUnits(weth, dai, "50", "100000")
	bridgeBR0, bridgeBR1 := baseUnits(dai, usdc, "500000", "500000")

	ix := index.New()
	ix.AddPool(amm.NewConstantProduct(
		common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"),
		weth, usdc, amm.FeeMedium,
		amm.StaticReserves{Reserve0: deepR0, Reserve1: deepR1}))
	ix.AddPool(amm.NewConstantProduct(
		common.HexToAddress("0x397FF1542f962076d0BFE58eA045FfA2d347ACa0"),
		weth, usdc, amm.FeeMedium,
		amm.StaticReserves{Reserve0: thinR0, Reserve1: thinR1}))
	ix.AddPool(amm.NewConstantProduct(
		common.HexToAddress("0xA478c2975Ab1Ea89e8196811F51A7B7Ade33eB11"),
		weth, dai, amm.FeeMedium,
		amm.StaticReserves{Reserve0: bridgeAR0, Reserve1: bridgeAR1}))
	ix.AddPool(amm.NewConstantProduct(
		common.HexToAddress("0xAE461cA67B15dc8dc81CE7615e0320dA1A9aB8D5"),
		dai, usdc, amm.FeeMedium,
		amm.StaticReserves{Reserve0: bridgeBR0, Reserve1: bridgeBR1}))

	ord, err := order.Create(order.Params{
		TokenIn:  weth,
		TokenOut: usdc,
		AmountIn: dec("5"),
		Slippage: dec("0.01"),
	}, func(tokenIn, tokenOut amm.Token) (decimal.Decimal, error) {
		return ix.MidPrice(tokenIn, tokenOut, 3, decimal.Zero)
	})
	require.NoError(t, err)
	require.Equal(t, order.ExactIn, ord.Kind)
	// Mid price is near 2000 USDC/WETH across the direct pools.
	require.True(t, ord.AmountOut.GreaterThan(dec("9000")), "amount out %s", ord.AmountOut)
	require.True(t, ord.AmountOut.LessThan(dec("10100")), "amount out %s", ord.AmountOut)

	routes := ix.FindRoutes(weth, usdc, 3)
	require.NotEmpty(t, routes)

	sol, err := solver.Solve(ord, routes)
	require.NoError(t, err)
	require.NotEmpty(t, sol.Allocations)

	total := decimal.Zero
	for _, alloc := range sol.Allocations {
		total = total.Add(alloc.Amount)
	}
	require.True(t, total.Equal(ord.AmountIn), "allocations sum to %s, want %s", total, ord.AmountIn)

	plan, err := urouter.Compile(sol, urouter.CompileOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, plan.Commands)

	deadline := big.NewInt(1_700_000_000)
	calldata, err := execution.EncodeExecute(plan, deadline)
	require.NoError(t, err)

	decoded, gotDeadline, err := execution.DecodeExecute(calldata)
	require.NoError(t, err)
	require.Equal(t, deadline, gotDeadline)
	require.Equal(t, plan.EncodedInputs(), decoded.EncodedInputs())
}

// TestLiveReservesReprice covers the streaming path: a reserve update through
// the shared ManagedReserves shifts the price the next solve observes.
func TestLiveReservesReprice(t *testing.T) {
	r0, r1 := baseUnits(weth, usdc, "100", "200000")
	reserves := amm.NewManagedReserves(r0, r1)

	ix := index.New()
	ix.AddPool(amm.NewConstantProduct(
		common.HexToAddress("0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc"),
		weth, usdc, amm.FeeMedium, reserves))

	before, err := ix.MidPrice(weth, usdc, 1, decimal.Zero)
	require.NoError(t, err)

	// A Sync-style update halves the quote reserve.
	newR0, newR1 := baseUnits(weth, usdc, "100", "100000")
	reserves.Set(newR0, newR1)

	after, err := ix.MidPrice(weth, usdc, 1, decimal.Zero)
	require.NoError(t, err)
	require.True(t, after.LessThan(before), "price %s should drop below %s", after, before)
	require.True(t, after.Div(before).Sub(dec("0.5")).Abs().LessThan(dec("0.01")),
		"price should roughly halve, got ratio %s", after.Div(before))

	ord, err := order.Create(order.Params{
		TokenIn:  weth,
		TokenOut: usdc,
		AmountIn: dec("1"),
		Slippage: dec("0.05"),
	}, func(tokenIn, tokenOut amm.Token) (decimal.Decimal, error) {
		return ix.MidPrice(tokenIn, tokenOut, 1, decimal.Zero)
	})
	require.NoError(t, err)

	sol, err := solver.Solve(ord, ix.FindRoutes(weth, usdc, 1))
	require.NoError(t, err)
	require.Len(t, sol.Allocations, 1)
	require.True(t, sol.Allocations[0].Fraction.Equal(dec("1")))
}
