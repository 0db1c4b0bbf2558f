// Command quote prices a swap against on-chain pool state and prints the
// compiled Universal Router calldata.
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
	"github.com/shopspring/decimal"

	"swapsolver/internal/amm"
	"swapsolver/internal/chain"
	"swapsolver/internal/config"
	"swapsolver/internal/execution"
	"swapsolver/internal/index"
	"swapsolver/internal/order"
	"swapsolver/internal/solver"
	"swapsolver/internal/urouter"
)

var v3FeeTiers = []amm.Fee{amm.FeeLowest, amm.FeeLow, amm.FeeMedium, amm.FeeHigh}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	tokenIn := flag.String("token-in", "", "Input token address")
	tokenOut := flag.String("token-out", "", "Output token address")
	amountIn := flag.String("amount-in", "", "Exact input amount (whole tokens)")
	amountOut := flag.String("amount-out", "", "Exact output amount (whole tokens)")
	slippage := flag.String("slippage", "", "Slippage tolerance as a ratio, e.g. 0.005")
	recipient := flag.String("recipient", "", "Swap output recipient (default: transaction sender)")
	wrapInput := flag.Bool("wrap", false, "Fund the swap with native ether, wrapping first")
	unwrapOutput := flag.Bool("unwrap", false, "Unwrap WETH output to native ether")
	deadline := flag.Duration("deadline", 20*time.Minute, "Transaction validity window")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogging(cfg.Logging)

	if *tokenIn == "" || *tokenOut == "" {
		log.Fatal().Msg("Both -token-in and -token-out are required")
	}
	if (*amountIn == "") == (*amountOut == "") {
		log.Fatal().Msg("Exactly one of -amount-in and -amount-out is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := run(ctx, cfg, quoteRequest{
		TokenIn:      common.HexToAddress(*tokenIn),
		TokenOut:     common.HexToAddress(*tokenOut),
		AmountIn:     *amountIn,
		AmountOut:    *amountOut,
		Slippage:     *slippage,
		Recipient:    *recipient,
		WrapInput:    *wrapInput,
		UnwrapOutput: *unwrapOutput,
		Deadline:     *deadline,
	}); err != nil {
		log.Fatal().Err(err).Msg("Quote failed")
	}
}

type quoteRequest struct {
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     string
	AmountOut    string
	Slippage     string
	Recipient    string
	WrapInput    bool
	UnwrapOutput bool
	Deadline     time.Duration
}

func run(ctx context.Context, cfg *config.Config, req quoteRequest) error {
	client, err := chain.NewClient(cfg.Chain.RPCURL)
	if err != nil {
		return err
	}
	defer client.Close()

	// Pin every read to one block so the solve prices a coherent snapshot.
	head, err := client.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetching head block: %w", err)
	}
	block := new(big.Int).SetUint64(head)
	log.Info().Uint64("block", head).Msg("Pinned snapshot block")

	weth := common.HexToAddress(cfg.Contracts.WETH)
	tokens, err := loadTokens(ctx, client, block, req.TokenIn, req.TokenOut, weth)
	if err != nil {
		return err
	}
	have, want := tokens[req.TokenIn], tokens[req.TokenOut]

	ix, err := buildIndex(ctx, client, cfg, block, tokens, req.TokenIn, req.TokenOut, weth)
	if err != nil {
		return err
	}
	log.Info().Int("pools", ix.NumPools()).Msg("Loaded pool snapshot")

	params := order.Params{TokenIn: have, TokenOut: want}
	if req.AmountIn != "" {
		params.AmountIn, err = decimal.NewFromString(req.AmountIn)
	} else {
		params.AmountOut, err = decimal.NewFromString(req.AmountOut)
	}
	if err != nil {
		return fmt.Errorf("parsing amount: %w", err)
	}
	if req.Slippage != "" {
		params.Slippage, err = decimal.NewFromString(req.Slippage)
		if err != nil {
			return fmt.Errorf("parsing slippage: %w", err)
		}
	}

	minLiquidity := decimal.NewFromFloat(cfg.Solver.MinLiquidity)
	ord, err := order.Create(params, func(tokenIn, tokenOut amm.Token) (decimal.Decimal, error) {
		return ix.MidPrice(tokenIn, tokenOut, cfg.Solver.MaxHops, minLiquidity)
	})
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}

	routes := ix.FindRoutes(have, want, cfg.Solver.MaxHops)
	sol, err := solver.Solve(ord, routes)
	if err != nil {
		return fmt.Errorf("solving order: %w", err)
	}

	opts := urouter.CompileOptions{
		WrapInput:    req.WrapInput,
		UnwrapOutput: req.UnwrapOutput,
	}
	if req.Recipient != "" {
		opts.Recipient = common.HexToAddress(req.Recipient)
	}
	plan, err := urouter.Compile(sol, opts)
	if err != nil {
		return fmt.Errorf("compiling plan: %w", err)
	}

	calldata, err := execution.EncodeExecute(plan, execution.Deadline(req.Deadline))
	if err != nil {
		return fmt.Errorf("encoding calldata: %w", err)
	}

	printSolution(sol, plan, cfg.Contracts.UniversalRouter, calldata)
	return nil
}

// loadTokens reads metadata for the swap tokens plus WETH (the routing
// intermediate) in one multicall.
func loadTokens(ctx context.Context, client *chain.Client, block *big.Int, addrs ...common.Address) (map[common.Address]amm.Token, error) {
	unique := make([]common.Address, 0, len(addrs))
	seen := make(map[common.Address]bool)
	for _, addr := range addrs {
		if !seen[addr] {
			seen[addr] = true
			unique = append(unique, addr)
		}
	}

	info, err := client.TokenMetadata(ctx, unique, block)
	if err != nil {
		return nil, fmt.Errorf("fetching token metadata: %w", err)
	}

	tokens := make(map[common.Address]amm.Token, len(info))
	for _, addr := range unique {
		meta, ok := info[addr]
		if !ok {
			return nil, fmt.Errorf("no ERC-20 metadata at %s", addr.Hex())
		}
		tokens[addr] = amm.Token{Address: addr, Symbol: meta.Symbol, Decimals: int32(meta.Decimals)}
	}
	return tokens, nil
}

// buildIndex discovers the direct pools for the pair plus the WETH-bridged
// pools, reads their state at the pinned block, and indexes them.
func buildIndex(ctx context.Context, client *chain.Client, cfg *config.Config, block *big.Int, tokens map[common.Address]amm.Token, tokenIn, tokenOut, weth common.Address) (*index.Index, error) {
	pairs := [][2]common.Address{{tokenIn, tokenOut}}
	if tokenIn != weth && tokenOut != weth {
		pairs = append(pairs, [2]common.Address{tokenIn, weth}, [2]common.Address{weth, tokenOut})
	}

	v2Factory := common.HexToAddress(cfg.Contracts.V2Factory)
	v3Factory := common.HexToAddress(cfg.Contracts.V3Factory)

	var (
		v2Pairs []common.Address
		v2Metas []candidate
		v3Refs  []chain.PoolRef
		v3Metas []candidate
	)
	for _, pair := range pairs {
		tokenA, tokenB := tokens[pair[0]], tokens[pair[1]]

		addr, err := client.V2PairFor(ctx, v2Factory, pair[0], pair[1], block)
		if err != nil {
			return nil, fmt.Errorf("querying v2 factory: %w", err)
		}
		if addr != (common.Address{}) {
			v2Pairs = append(v2Pairs, addr)
			v2Metas = append(v2Metas, candidate{addr, tokenA, tokenB, amm.FeeMedium})
		}

		pools, err := client.V3PoolsFor(ctx, v3Factory, pair[0], pair[1], v3FeeTiers, block)
		if err != nil {
			return nil, fmt.Errorf("querying v3 factory: %w", err)
		}
		token0, token1 := amm.SortTokens(tokenA, tokenB)
		for fee, poolAddr := range pools {
			v3Refs = append(v3Refs, chain.PoolRef{
				Address: poolAddr,
				Token0:  token0.Address,
				Token1:  token1.Address,
			})
			v3Metas = append(v3Metas, candidate{poolAddr, tokenA, tokenB, fee})
		}
	}

	pairStates, err := client.Reserves(ctx, v2Pairs, block)
	if err != nil {
		return nil, fmt.Errorf("reading pair reserves: %w", err)
	}
	slotStates, err := client.SlotStates(ctx, v3Refs, block)
	if err != nil {
		return nil, fmt.Errorf("reading pool slots: %w", err)
	}

	ix := index.New()
	for _, c := range v2Metas {
		state, ok := pairStates[c.addr]
		if !ok {
			continue
		}
		ix.AddPool(amm.NewConstantProduct(c.addr, c.tokenA, c.tokenB, c.fee, state.Static()))
	}
	for _, c := range v3Metas {
		state, ok := slotStates[c.addr]
		if !ok {
			continue
		}
		ix.AddPool(amm.NewConcentrated(c.addr, c.tokenA, c.tokenB, c.fee, state.Static()))
	}
	return ix, nil
}

type candidate struct {
	addr   common.Address
	tokenA amm.Token
	tokenB amm.Token
	fee    amm.Fee
}

func printSolution(sol *solver.Solution, plan *urouter.Plan, router string, calldata []byte) {
	ord := sol.Order
	fmt.Printf("order:    %s %s %s -> %s %s (slippage %s)\n",
		ord.Kind, ord.AmountIn, ord.TokenIn.Symbol, ord.AmountOut, ord.TokenOut.Symbol, ord.Slippage)
	for _, alloc := range sol.Allocations {
		fmt.Printf("route:    %s  amount=%s  fraction=%s\n",
			alloc.Route, alloc.Amount, alloc.Fraction)
	}
	fmt.Printf("plan:     %s\n", plan)
	fmt.Printf("router:   %s\n", router)
	fmt.Printf("calldata: 0x%x\n", calldata)
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
