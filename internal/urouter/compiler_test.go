package urouter

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"swapsolver/internal/amm"
	"swapsolver/internal/order"
	"swapsolver/internal/routing"
	"swapsolver/internal/solver"
)

var (
	weth = amm.Token{Address: wethAddr, Symbol: "WETH", Decimals: 18}
	usdc = amm.Token{Address: usdcAddr, Symbol: "USDC", Decimals: 6}
	yfi  = amm.Token{Address: yfiAddr, Symbol: "YFI", Decimals: 18}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func v2Pool(t *testing.T, addr string, a, b amm.Token, reserveA, reserveB string) amm.Pool {
	t.Helper()
	t0, _ := amm.SortTokens(a, b)
	r0 := a.ToBaseUnits(dec(reserveA))
	r1 := b.ToBaseUnits(dec(reserveB))
	if t0.Address != a.Address {
		r0, r1 = r1, r0
	}
	return amm.NewConstantProduct(
		common.HexToAddress(addr), a, b, amm.FeeMedium,
		amm.StaticReserves{Reserve0: r0, Reserve1: r1},
	)
}

func v3Pool(t *testing.T, addr string, a, b amm.Token, fee amm.Fee) amm.Pool {
	t.Helper()
	return amm.NewConcentrated(
		common.HexToAddress(addr), a, b, fee,
		amm.StaticReserves{
			Reserve0: big.NewInt(1),
			Reserve1: big.NewInt(1),
			SqrtP:    new(big.Int).Lsh(big.NewInt(1), 96),
		},
	)
}

func singleRouteSolution(t *testing.T, ord *order.Order, pools ...amm.Pool) *solver.Solution {
	t.Helper()
	r, err := routing.New(ord.TokenIn, pools...)
	require.NoError(t, err)
	return &solver.Solution{
		Order: ord,
		Allocations: []solver.Allocation{
			{Route: r, Amount: ord.Fixed(), Fraction: dec("1")},
		},
	}
}

func TestCompileExactInV2(t *testing.T) {
	ord := &order.Order{
		Kind:      order.ExactIn,
		TokenIn:   weth,
		TokenOut:  usdc,
		AmountIn:  dec("1"),
		AmountOut: dec("1990"),
		Slippage:  dec("0.005"),
	}
	pool := v2Pool(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", weth, usdc, "100", "200000")

	plan, err := Compile(singleRouteSolution(t, ord, pool), CompileOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte{byte(V2SwapExactIn)}, plan.EncodedCommands())

	vals, err := plan.Commands[0].Args()
	require.NoError(t, err)
	require.Equal(t, MsgSender, vals[0])
	require.Equal(t, "1000000000000000000", vals[1].(*big.Int).String())
	// 1990 * (1 - 0.003) = 1984.03 USDC
	require.Equal(t, "1984030000", vals[2].(*big.Int).String())
	require.Equal(t, []common.Address{wethAddr, usdcAddr}, vals[3])
	require.Equal(t, true, vals[4])
}

func TestCompileTwoHopV2Path(t *testing.T) {
	ord := &order.Order{
		Kind:      order.ExactIn,
		TokenIn:   weth,
		TokenOut:  yfi,
		AmountIn:  dec("1"),
		AmountOut: dec("0.39"),
		Slippage:  dec("0.01"),
	}
	wethUSDC := v2Pool(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", weth, usdc, "100", "200000")
	usdcYFI := v2Pool(t, "0x2fDbAdf3C4D5A8666Bc06645B8358ab803996E28", usdc, yfi, "200000", "40")

	plan, err := Compile(singleRouteSolution(t, ord, wethUSDC, usdcYFI), CompileOptions{})
	require.NoError(t, err)
	require.Len(t, plan.Commands, 1)

	vals, err := plan.Commands[0].Args()
	require.NoError(t, err)
	require.Equal(t, []common.Address{wethAddr, usdcAddr, yfiAddr}, vals[3])
}

func TestCompileExactInV3(t *testing.T) {
	ord := &order.Order{
		Kind:      order.ExactIn,
		TokenIn:   weth,
		TokenOut:  usdc,
		AmountIn:  dec("1"),
		AmountOut: dec("1990"),
		Slippage:  dec("0.005"),
	}
	pool := v3Pool(t, "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640", weth, usdc, amm.FeeLow)

	plan, err := Compile(singleRouteSolution(t, ord, pool), CompileOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte{byte(V3SwapExactIn)}, plan.EncodedCommands())

	vals, err := plan.Commands[0].Args()
	require.NoError(t, err)

	tokens, fees, err := DecodePath(vals[3].([]byte))
	require.NoError(t, err)
	require.Equal(t, []common.Address{wethAddr, usdcAddr}, tokens)
	require.Equal(t, []amm.Fee{amm.FeeLow}, fees)
}

func TestCompileExactOutV3ReversesPath(t *testing.T) {
	ord := &order.Order{
		Kind:      order.ExactOut,
		TokenIn:   weth,
		TokenOut:  usdc,
		AmountIn:  dec("1.01"),
		AmountOut: dec("2000"),
		Slippage:  dec("0.005"),
	}
	pool := v3Pool(t, "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640", weth, usdc, amm.FeeMedium)

	plan, err := Compile(singleRouteSolution(t, ord, pool), CompileOptions{})
	require.NoError(t, err)
	require.Equal(t, []byte{byte(V3SwapExactOut)}, plan.EncodedCommands())

	vals, err := plan.Commands[0].Args()
	require.NoError(t, err)
	require.Equal(t, "2000000000", vals[1].(*big.Int).String())

	// Output token leads the packed path for exact-out.
	tokens, _, err := DecodePath(vals[3].([]byte))
	require.NoError(t, err)
	require.Equal(t, []common.Address{usdcAddr, wethAddr}, tokens)
}

func TestCompileExactOutV2KeepsForwardPath(t *testing.T) {
	ord := &order.Order{
		Kind:      order.ExactOut,
		TokenIn:   weth,
		TokenOut:  usdc,
		AmountIn:  dec("1.01"),
		AmountOut: dec("2000"),
		Slippage:  dec("0.005"),
	}
	pool := v2Pool(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", weth, usdc, "100", "200000")

	plan, err := Compile(singleRouteSolution(t, ord, pool), CompileOptions{})
	require.NoError(t, err)

	vals, err := plan.Commands[0].Args()
	require.NoError(t, err)
	require.Equal(t, "2000000000", vals[1].(*big.Int).String())
	require.Equal(t, []common.Address{wethAddr, usdcAddr}, vals[3])

	// The input cap is grossed up for the route fee, so it exceeds the
	// order's market-derived maximum.
	maxIn := vals[2].(*big.Int)
	require.True(t, maxIn.Cmp(weth.ToBaseUnits(dec("1.01"))) > 0)
}

func TestCompileHeterogeneousRoute(t *testing.T) {
	ord := &order.Order{
		Kind:      order.ExactIn,
		TokenIn:   weth,
		TokenOut:  yfi,
		AmountIn:  dec("1"),
		AmountOut: dec("0.39"),
		Slippage:  dec("0.01"),
	}
	wethUSDC := v2Pool(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", weth, usdc, "100", "200000")
	usdcYFI := v3Pool(t, "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640", usdc, yfi, amm.FeeMedium)

	_, err := Compile(singleRouteSolution(t, ord, wethUSDC, usdcYFI), CompileOptions{})
	require.ErrorIs(t, err, ErrHeterogeneousRoute)
}

func TestCompileWrapAndUnwrap(t *testing.T) {
	ord := &order.Order{
		Kind:      order.ExactIn,
		TokenIn:   weth,
		TokenOut:  usdc,
		AmountIn:  dec("1"),
		AmountOut: dec("1990"),
		Slippage:  dec("0.005"),
	}
	pool := v2Pool(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", weth, usdc, "100", "200000")

	plan, err := Compile(singleRouteSolution(t, ord, pool), CompileOptions{WrapInput: true})
	require.NoError(t, err)
	require.Equal(t, []byte{byte(WrapETH), byte(V2SwapExactIn)}, plan.EncodedCommands())

	wrapVals, err := plan.Commands[0].Args()
	require.NoError(t, err)
	require.Equal(t, AddressThis, wrapVals[0])
	require.Equal(t, "1000000000000000000", wrapVals[1].(*big.Int).String())

	// Wrapped funds sit in the router, so the swap pays from there.
	swapVals, err := plan.Commands[1].Args()
	require.NoError(t, err)
	require.Equal(t, false, swapVals[4])
}

func TestCompileUnwrapOutput(t *testing.T) {
	ord := &order.Order{
		Kind:      order.ExactIn,
		TokenIn:   usdc,
		TokenOut:  weth,
		AmountIn:  dec("2000"),
		AmountOut: dec("0.99"),
		Slippage:  dec("0.005"),
	}
	pool := v2Pool(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", usdc, weth, "200000", "100")

	recipient := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	plan, err := Compile(singleRouteSolution(t, ord, pool), CompileOptions{
		Recipient:    recipient,
		UnwrapOutput: true,
	})
	require.NoError(t, err)
	require.Equal(t, []byte{byte(V2SwapExactIn), byte(UnwrapWETH)}, plan.EncodedCommands())

	swapVals, err := plan.Commands[0].Args()
	require.NoError(t, err)
	require.Equal(t, AddressThis, swapVals[0])

	unwrapVals, err := plan.Commands[1].Args()
	require.NoError(t, err)
	require.Equal(t, recipient, unwrapVals[0])
	require.Equal(t, weth.ToBaseUnits(dec("0.99")).String(), unwrapVals[1].(*big.Int).String())
}

func TestCompilePrependsPermit(t *testing.T) {
	ord := &order.Order{
		Kind:      order.ExactIn,
		TokenIn:   weth,
		TokenOut:  usdc,
		AmountIn:  dec("1"),
		AmountOut: dec("1990"),
		Slippage:  dec("0.005"),
	}
	pool := v2Pool(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", weth, usdc, "100", "200000")

	permit, err := New(Permit2Permit, PermitSingle{
		Details: PermitDetails{
			Token:      wethAddr,
			Amount:     big.NewInt(1_000_000),
			Expiration: big.NewInt(1_700_000_000),
			Nonce:      big.NewInt(3),
		},
		Spender:     usdcAddr,
		SigDeadline: big.NewInt(1_700_000_600),
	}, make([]byte, 65))
	require.NoError(t, err)

	plan, err := Compile(singleRouteSolution(t, ord, pool), CompileOptions{Permit: &permit})
	require.NoError(t, err)
	require.Equal(t, []byte{byte(Permit2Permit), byte(V2SwapExactIn)}, plan.EncodedCommands())

	sweep, err := New(Sweep, wethAddr, MsgSender, big.NewInt(0))
	require.NoError(t, err)
	_, err = Compile(singleRouteSolution(t, ord, pool), CompileOptions{Permit: &sweep})
	require.ErrorIs(t, err, ErrInvalidPermit)
}

func TestCompileExactOutRefundsWrappedInput(t *testing.T) {
	ord := &order.Order{
		Kind:      order.ExactOut,
		TokenIn:   weth,
		TokenOut:  usdc,
		AmountIn:  dec("1.01"),
		AmountOut: dec("2000"),
		Slippage:  dec("0.005"),
	}
	pool := v2Pool(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", weth, usdc, "100", "200000")

	plan, err := Compile(singleRouteSolution(t, ord, pool), CompileOptions{WrapInput: true})
	require.NoError(t, err)
	require.Equal(t,
		[]byte{byte(WrapETH), byte(V2SwapExactOut), byte(UnwrapWETH)},
		plan.EncodedCommands(),
	)

	refundVals, err := plan.Commands[2].Args()
	require.NoError(t, err)
	require.Equal(t, MsgSender, refundVals[0])
	require.Equal(t, "0", refundVals[1].(*big.Int).String())
}
