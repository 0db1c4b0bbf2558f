package persistence

import (
	"context"
	"math/big"
	"path/filepath"
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

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedPair(t *testing.T, store *Store) PoolRecord {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.BulkUpsertTokens(ctx, []TokenRecord{
		NewTokenRecord(weth),
		NewTokenRecord(usdc),
	}))

	record := PoolRecord{
		Address:  "0xB4e16d0168e52d35CaCD2c6185b44281Ec28C9Dc",
		Token0:   usdc.Address.Hex(),
		Token1:   weth.Address.Hex(),
		FeePPM:   3000,
		Protocol: int(amm.ProtocolConstantProduct),
		Reserve0: "200000000000",          // 200k USDC
		Reserve1: "100000000000000000000", // 100 WETH
	}
	require.NoError(t, store.UpsertPool(ctx, record))
	return record
}

func TestTokenRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertToken(ctx, NewTokenRecord(weth)))

	got, err := store.GetToken(ctx, weth.Address.Hex())
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "WETH", got.Symbol)
	require.Equal(t, 18, got.Decimals)

	missing, err := store.GetToken(ctx, usdc.Address.Hex())
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestPoolUpsertUpdatesReserves(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := seedPair(t, store)

	require.NoError(t, store.UpdatePoolReserves(ctx, record.Address,
		big.NewInt(300_000_000_000), big.NewInt(150), nil))

	got, err := store.GetPoolByAddress(ctx, record.Address)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "300000000000", got.Reserve0)
	require.Equal(t, "150", got.Reserve1)
	require.Equal(t, int64(3000), got.FeePPM)

	count, err := store.GetPoolCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestTrackedPools(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetTrackedPools(ctx, []string{"0xaaa", "0xbbb"}))

	tracked, err := store.GetTrackedPools(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"0xaaa", "0xbbb"}, tracked)

	// Replacement clears the previous set.
	require.NoError(t, store.SetTrackedPools(ctx, []string{"0xccc"}))
	tracked, err = store.GetTrackedPools(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"0xccc"}, tracked)
}

func TestSystemState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	missing, err := store.GetSystemState(ctx, "last_block")
	require.NoError(t, err)
	require.Equal(t, "", missing)

	require.NoError(t, store.SetSystemState(ctx, "last_block", "123456"))
	require.NoError(t, store.SetSystemState(ctx, "last_block", "123999"))

	got, err := store.GetSystemState(ctx, "last_block")
	require.NoError(t, err)
	require.Equal(t, "123999", got)
}

func TestLoadIndexRebuildsPools(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	record := seedPair(t, store)

	boot, err := store.LoadIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, boot.Index.NumPools())
	require.Equal(t, 2, boot.Index.NumTokens())

	pool, ok := boot.Index.Pool(common.HexToAddress(record.Address))
	require.True(t, ok)
	require.Equal(t, amm.ProtocolConstantProduct, pool.Protocol())

	price, err := pool.Price(weth)
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.RequireFromString("2000")), "got %s", price)

	// Ingestion can mutate what solves read through the pool.
	reserves := boot.Reserves[pool.Address()]
	require.NotNil(t, reserves)
	wethReserve, ok := new(big.Int).SetString("100000000000000000000", 10) // 100 WETH
	require.True(t, ok)
	reserves.Set(big.NewInt(400_000_000_000), wethReserve) // 400k USDC
	price, err = pool.Price(weth)
	require.NoError(t, err)
	require.True(t, price.Equal(decimal.RequireFromString("4000")), "got %s", price)
}

func TestLoadIndexSkipsBadRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedPair(t, store)

	// Pool referencing a token never stored.
	require.NoError(t, store.UpsertPool(ctx, PoolRecord{
		Address:  "0x1111111111111111111111111111111111111111",
		Token0:   "0x2222222222222222222222222222222222222222",
		Token1:   weth.Address.Hex(),
		FeePPM:   3000,
		Protocol: int(amm.ProtocolConstantProduct),
		Reserve0: "1",
		Reserve1: "1",
	}))

	boot, err := store.LoadIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, boot.Index.NumPools())
}

func TestLoadIndexConcentratedPool(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedPair(t, store)

	sqrtP := new(big.Int).Lsh(big.NewInt(1), 96)
	require.NoError(t, store.UpsertPool(ctx, PoolRecord{
		Address:   "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640",
		Token0:    usdc.Address.Hex(),
		Token1:    weth.Address.Hex(),
		FeePPM:    500,
		Protocol:  int(amm.ProtocolConcentrated),
		Reserve0:  "200000000000",
		Reserve1:  "100000000000000000000",
		SqrtPrice: sqrtP.String(),
	}))

	boot, err := store.LoadIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, boot.Index.NumPools())

	pool, ok := boot.Index.Pool(common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"))
	require.True(t, ok)
	require.Equal(t, amm.ProtocolConcentrated, pool.Protocol())
	require.Equal(t, int64(500), pool.Key())

	_, err = pool.Price(usdc)
	require.NoError(t, err)
}

func TestNewPoolRecordRoundTrip(t *testing.T) {
	source := amm.StaticReserves{
		Reserve0: big.NewInt(123),
		Reserve1: big.NewInt(456),
		SqrtP:    new(big.Int).Lsh(big.NewInt(1), 96),
	}
	pool := amm.NewConcentrated(
		common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"),
		weth, usdc, amm.FeeLow, source,
	)

	record, err := NewPoolRecord(pool, source)
	require.NoError(t, err)
	require.Equal(t, pool.Address().Hex(), record.Address)
	require.Equal(t, int(amm.ProtocolConcentrated), record.Protocol)
	require.Equal(t, int64(500), record.FeePPM)
	require.Equal(t, "123", record.Reserve0)
	require.Equal(t, "456", record.Reserve1)
	require.Equal(t, source.SqrtP.String(), record.SqrtPrice)
}
