package persistence

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"swapsolver/internal/amm"
	"swapsolver/internal/index"
)

// Bootstrap is the in-memory state rebuilt from the store: the pool graph
// plus the managed reserve snapshot behind each pool, keyed by pool address
// so ingestion can keep them current.
type Bootstrap struct {
	Index    *index.Index
	Reserves map[common.Address]*amm.ManagedReserves
}

// LoadIndex rebuilds the pool graph from stored tokens and pools. Rows that
// reference unknown tokens or carry unparsable reserves are skipped with a
// warning; one bad row must not block startup.
func (s *Store) LoadIndex(ctx context.Context) (*Bootstrap, error) {
	tokenRecords, err := s.GetAllTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading tokens: %w", err)
	}

	tokens := make(map[common.Address]amm.Token, len(tokenRecords))
	for _, record := range tokenRecords {
		addr := common.HexToAddress(record.Address)
		tokens[addr] = amm.Token{
			Address:  addr,
			Symbol:   record.Symbol,
			Decimals: int32(record.Decimals),
		}
	}

	poolRecords, err := s.GetAllPools(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading pools: %w", err)
	}

	boot := &Bootstrap{
		Index:    index.New(),
		Reserves: make(map[common.Address]*amm.ManagedReserves, len(poolRecords)),
	}

	for _, record := range poolRecords {
		pool, reserves, err := buildPool(record, tokens)
		if err != nil {
			log.Warn().Err(err).Str("pool", record.Address).Msg("Skipping stored pool")
			continue
		}
		boot.Index.AddPool(pool)
		boot.Reserves[pool.Address()] = reserves
	}

	log.Info().
		Int("tokens", boot.Index.NumTokens()).
		Int("pools", boot.Index.NumPools()).
		Msg("Bootstrapped index from store")

	return boot, nil
}

func buildPool(record PoolRecord, tokens map[common.Address]amm.Token) (amm.Pool, *amm.ManagedReserves, error) {
	token0, ok := tokens[common.HexToAddress(record.Token0)]
	if !ok {
		return nil, nil, fmt.Errorf("unknown token0 %s", record.Token0)
	}
	token1, ok := tokens[common.HexToAddress(record.Token1)]
	if !ok {
		return nil, nil, fmt.Errorf("unknown token1 %s", record.Token1)
	}

	reserve0, ok := new(big.Int).SetString(record.Reserve0, 10)
	if !ok {
		return nil, nil, fmt.Errorf("unparsable reserve0 %q", record.Reserve0)
	}
	reserve1, ok := new(big.Int).SetString(record.Reserve1, 10)
	if !ok {
		return nil, nil, fmt.Errorf("unparsable reserve1 %q", record.Reserve1)
	}

	reserves := amm.NewManagedReserves(reserve0, reserve1)
	address := common.HexToAddress(record.Address)
	fee := amm.Fee(record.FeePPM)

	switch amm.Protocol(record.Protocol) {
	case amm.ProtocolConstantProduct:
		return amm.NewConstantProduct(address, token0, token1, fee, reserves), reserves, nil

	case amm.ProtocolConcentrated:
		if record.SqrtPrice != "" {
			sqrtP, ok := new(big.Int).SetString(record.SqrtPrice, 10)
			if !ok {
				return nil, nil, fmt.Errorf("unparsable sqrt_price %q", record.SqrtPrice)
			}
			reserves.SetSqrtPriceX96(sqrtP)
		}
		return amm.NewConcentrated(address, token0, token1, fee, reserves), reserves, nil
	}

	return nil, nil, fmt.Errorf("unknown protocol %d", record.Protocol)
}

// NewPoolRecord builds the storable record for a pool from its current
// reserve snapshot.
func NewPoolRecord(pool amm.Pool, source amm.ReserveSource) (PoolRecord, error) {
	reserve0, reserve1, err := source.Reserves()
	if err != nil {
		return PoolRecord{}, err
	}

	record := PoolRecord{
		Address:  pool.Address().Hex(),
		Token0:   pool.Token0().Address.Hex(),
		Token1:   pool.Token1().Address.Hex(),
		FeePPM:   int64(pool.Fee()),
		Protocol: int(pool.Protocol()),
		Reserve0: reserve0.String(),
		Reserve1: reserve1.String(),
	}
	if slot, ok := source.(amm.SlotSource); ok {
		if sqrtP, err := slot.SqrtPriceX96(); err == nil {
			record.SqrtPrice = sqrtP.String()
		}
	}
	return record, nil
}

// NewTokenRecord builds the storable record for a token.
func NewTokenRecord(token amm.Token) TokenRecord {
	return TokenRecord{
		Address:  token.Address.Hex(),
		Symbol:   token.Symbol,
		Decimals: int(token.Decimals),
	}
}
