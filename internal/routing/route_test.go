package routing

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"swapsolver/internal/amm"
)

var (
	weth = amm.Token{Address: common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"), Symbol: "WETH", Decimals: 18}
	usdc = amm.Token{Address: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Symbol: "USDC", Decimals: 6}
	yfi  = amm.Token{Address: common.HexToAddress("0x0bc529c00C6401aEF6D220BE8C6Ea1667F6Ad93e"), Symbol: "YFI", Decimals: 18}
	dai  = amm.Token{Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Symbol: "DAI", Decimals: 18}
)

func units(t *testing.T, token amm.Token, whole string) *big.Int {
	t.Helper()
	return token.ToBaseUnits(decimal.RequireFromString(whole))
}

func pair(t *testing.T, addr string, a, b amm.Token, reserveA, reserveB string) amm.Pool {
	t.Helper()
	t0, _ := amm.SortTokens(a, b)
	r0, r1 := units(t, a, reserveA), units(t, b, reserveB)
	if t0.Address != a.Address {
		r0, r1 = r1, r0
	}
	return amm.NewConstantProduct(
		common.HexToAddress(addr), a, b, amm.FeeMedium,
		amm.StaticReserves{Reserve0: r0, Reserve1: r1},
	)
}

func TestNewRejectsDiscontiguousChain(t *testing.T) {
	wethUSDC := pair(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", usdc, weth, "200000", "100")
	daiYFI := pair(t, "0x2fDbAdf3C4D5A8666Bc06645B8358ab803996E28", dai, yfi, "100000", "40")

	_, err := New(weth, wethUSDC, daiYFI)
	require.ErrorIs(t, err, ErrDiscontiguousRoute)

	_, err = New(yfi, wethUSDC)
	require.ErrorIs(t, err, ErrDiscontiguousRoute)

	_, err = New(weth)
	require.ErrorIs(t, err, ErrEmptyRoute)
}

func TestTokenSequence(t *testing.T) {
	wethUSDC := pair(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", usdc, weth, "200000", "100")
	usdcYFI := pair(t, "0x2fDbAdf3C4D5A8666Bc06645B8358ab803996E28", usdc, yfi, "200000", "40")

	route, err := New(weth, wethUSDC, usdcYFI)
	require.NoError(t, err)

	require.Equal(t, weth, route.Start())
	require.Equal(t, yfi, route.End())
	require.Equal(t, []amm.Token{weth, usdc, yfi}, route.Tokens())
	require.Equal(t, 2, route.Len())
}

func TestRoutePrice(t *testing.T) {
	// 1 WETH = 2000 USDC, 1 USDC = 0.0002 YFI, so 1 WETH = 0.4 YFI.
	wethUSDC := pair(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", usdc, weth, "200000", "100")
	usdcYFI := pair(t, "0x2fDbAdf3C4D5A8666Bc06645B8358ab803996E28", usdc, yfi, "200000", "40")

	route, err := New(weth, wethUSDC, usdcYFI)
	require.NoError(t, err)

	price, err := route.Price()
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.RequireFromString("0.4")), "got %s", price)
}

func TestRouteLiquidityIsBindingHop(t *testing.T) {
	// Second hop holds 50,000 USDC, worth 25 WETH at the first hop's price,
	// below the first hop's own 100 WETH.
	wethUSDC := pair(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", usdc, weth, "200000", "100")
	usdcYFI := pair(t, "0x2fDbAdf3C4D5A8666Bc06645B8358ab803996E28", usdc, yfi, "50000", "10")

	route, err := New(weth, wethUSDC, usdcYFI)
	require.NoError(t, err)

	liquidity, err := route.Liquidity()
	require.NoError(t, err)
	require.True(t, liquidity.Equal(decimal.NewFromInt(25)), "got %s", liquidity)
}

func TestCumulativeFeeCompounds(t *testing.T) {
	wethUSDC := pair(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", usdc, weth, "200000", "100")
	usdcYFI := pair(t, "0x2fDbAdf3C4D5A8666Bc06645B8358ab803996E28", usdc, yfi, "200000", "40")

	route, err := New(weth, wethUSDC, usdcYFI)
	require.NoError(t, err)

	// 1 - 0.997^2, not 0.006.
	require.True(t, route.CumulativeFee().Equal(decimal.RequireFromString("0.005991")),
		"got %s", route.CumulativeFee())
}

func TestReverse(t *testing.T) {
	wethUSDC := pair(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", usdc, weth, "200000", "100")
	usdcYFI := pair(t, "0x2fDbAdf3C4D5A8666Bc06645B8358ab803996E28", usdc, yfi, "200000", "40")

	route, err := New(weth, wethUSDC, usdcYFI)
	require.NoError(t, err)

	reversed := route.Reverse()
	require.Equal(t, yfi, reversed.Start())
	require.Equal(t, weth, reversed.End())
	require.Equal(t, []amm.Token{yfi, usdc, weth}, reversed.Tokens())
	require.Equal(t, route.Key(), reversed.Reverse().Key())

	// Reversed price is the reciprocal: 1 YFI = 2.5 WETH.
	price, err := reversed.Price()
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.RequireFromString("2.5")), "got %s", price)
}

func TestProtocolSignature(t *testing.T) {
	wethUSDC := pair(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", usdc, weth, "200000", "100")
	usdcYFIv3 := amm.NewConcentrated(
		common.HexToAddress("0x2fDbAdf3C4D5A8666Bc06645B8358ab803996E28"),
		usdc, yfi, amm.FeeMedium,
		amm.StaticReserves{
			Reserve0: units(t, usdc, "200000"),
			Reserve1: units(t, yfi, "40"),
			SqrtP:    new(big.Int).Lsh(big.NewInt(1), 96),
		},
	)

	pure, err := New(weth, wethUSDC)
	require.NoError(t, err)
	proto, ok := pure.Protocol()
	require.True(t, ok)
	require.Equal(t, amm.ProtocolConstantProduct, proto)

	mixed, err := New(weth, wethUSDC, usdcYFIv3)
	require.NoError(t, err)
	_, ok = mixed.Protocol()
	require.False(t, ok)
}

func TestVisits(t *testing.T) {
	wethUSDC := pair(t, "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc", usdc, weth, "200000", "100")
	usdcYFI := pair(t, "0x2fDbAdf3C4D5A8666Bc06645B8358ab803996E28", usdc, yfi, "200000", "40")
	daiYFI := pair(t, "0x8d9443E0E21Df1b2B6dE5BbF80a7d2b3a4F13a5c", dai, yfi, "100000", "40")

	route, err := New(weth, wethUSDC, usdcYFI)
	require.NoError(t, err)

	require.True(t, route.Visits(wethUSDC))
	require.False(t, route.Visits(daiYFI))
}
