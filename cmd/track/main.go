// Command track adds a token pair's pools to the persisted universe: it
// discovers the v2 pair and v3 fee-tier pools from the factories, snapshots
// their state, and stores tokens and pools for syncd to stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"swapsolver/internal/amm"
	"swapsolver/internal/chain"
	"swapsolver/internal/config"
	"swapsolver/internal/persistence"
)

var v3FeeTiers = []amm.Fee{amm.FeeLowest, amm.FeeLow, amm.FeeMedium, amm.FeeHigh}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	tokenA := flag.String("token-a", "", "First token address")
	tokenB := flag.String("token-b", "", "Second token address")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.Logging)

	if *tokenA == "" || *tokenB == "" {
		log.Fatal().Msg("Both -token-a and -token-b are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	added, err := run(ctx, cfg, common.HexToAddress(*tokenA), common.HexToAddress(*tokenB))
	if err != nil {
		log.Fatal().Err(err).Msg("Tracking failed")
	}
	log.Info().Int("pools", added).Msg("Pair tracked")
}

func run(ctx context.Context, cfg *config.Config, addrA, addrB common.Address) (int, error) {
	client, err := chain.NewClient(cfg.Chain.RPCURL)
	if err != nil {
		return 0, err
	}
	defer client.Close()

	store, err := persistence.NewStore(cfg.Persistence.SQLitePath)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetching head block: %w", err)
	}
	block := new(big.Int).SetUint64(head)

	info, err := client.TokenMetadata(ctx, []common.Address{addrA, addrB}, block)
	if err != nil {
		return 0, fmt.Errorf("fetching token metadata: %w", err)
	}
	metaA, okA := info[addrA]
	metaB, okB := info[addrB]
	if !okA || !okB {
		return 0, fmt.Errorf("missing ERC-20 metadata for pair")
	}
	tokenA := amm.Token{Address: addrA, Symbol: metaA.Symbol, Decimals: int32(metaA.Decimals)}
	tokenB := amm.Token{Address: addrB, Symbol: metaB.Symbol, Decimals: int32(metaB.Decimals)}

	if err := store.BulkUpsertTokens(ctx, []persistence.TokenRecord{
		persistence.NewTokenRecord(tokenA),
		persistence.NewTokenRecord(tokenB),
	}); err != nil {
		return 0, fmt.Errorf("storing tokens: %w", err)
	}

	records, err := discoverPools(ctx, client, cfg, block, tokenA, tokenB)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, fmt.Errorf("no pools exist for %s/%s", metaA.Symbol, metaB.Symbol)
	}

	if err := store.BulkUpsertPools(ctx, records); err != nil {
		return 0, fmt.Errorf("storing pools: %w", err)
	}

	// Refresh the tracked set to cover everything now stored.
	all, err := store.GetAllPools(ctx)
	if err != nil {
		return 0, err
	}
	addresses := make([]string, len(all))
	for i, record := range all {
		addresses[i] = record.Address
	}
	if err := store.SetTrackedPools(ctx, addresses); err != nil {
		return 0, fmt.Errorf("updating tracked pools: %w", err)
	}

	return len(records), nil
}

func discoverPools(ctx context.Context, client *chain.Client, cfg *config.Config, block *big.Int, tokenA, tokenB amm.Token) ([]persistence.PoolRecord, error) {
	var records []persistence.PoolRecord
	token0, token1 := amm.SortTokens(tokenA, tokenB)

	v2Factory := common.HexToAddress(cfg.Contracts.V2Factory)
	pairAddr, err := client.V2PairFor(ctx, v2Factory, tokenA.Address, tokenB.Address, block)
	if err != nil {
		return nil, fmt.Errorf("querying v2 factory: %w", err)
	}
	if pairAddr != (common.Address{}) {
		states, err := client.Reserves(ctx, []common.Address{pairAddr}, block)
		if err != nil {
			return nil, fmt.Errorf("reading pair reserves: %w", err)
		}
		if state, ok := states[pairAddr]; ok {
			pool := amm.NewConstantProduct(pairAddr, tokenA, tokenB, amm.FeeMedium, state.Static())
			record, err := persistence.NewPoolRecord(pool, state.Static())
			if err != nil {
				return nil, err
			}
			records = append(records, record)
			log.Info().Str("pool", pairAddr.Hex()).Msg("Found v2 pair")
		}
	}

	v3Factory := common.HexToAddress(cfg.Contracts.V3Factory)
	pools, err := client.V3PoolsFor(ctx, v3Factory, tokenA.Address, tokenB.Address, v3FeeTiers, block)
	if err != nil {
		return nil, fmt.Errorf("querying v3 factory: %w", err)
	}

	refs := make([]chain.PoolRef, 0, len(pools))
	fees := make(map[common.Address]amm.Fee, len(pools))
	for fee, addr := range pools {
		refs = append(refs, chain.PoolRef{Address: addr, Token0: token0.Address, Token1: token1.Address})
		fees[addr] = fee
	}
	states, err := client.SlotStates(ctx, refs, block)
	if err != nil {
		return nil, fmt.Errorf("reading pool slots: %w", err)
	}
	for addr, state := range states {
		pool := amm.NewConcentrated(addr, tokenA, tokenB, fees[addr], state.Static())
		record, err := persistence.NewPoolRecord(pool, state.Static())
		if err != nil {
			return nil, err
		}
		records = append(records, record)
		log.Info().Str("pool", addr.Hex()).Int64("fee_ppm", int64(fees[addr])).Msg("Found v3 pool")
	}

	return records, nil
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}
