package ingestion

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"swapsolver/internal/amm"
	"swapsolver/internal/chain"
)

// maxBlockRange limits the number of blocks per getLogs call to avoid RPC
// timeouts on large ranges.
const maxBlockRange = 1000

// Reconciler replays historical events to fill the gap between a bootstrap
// snapshot and the start of WebSocket streaming.
type Reconciler struct {
	client  *chain.Client
	decoder *Decoder
	tracked map[common.Address]*amm.ManagedReserves
}

// NewReconciler creates a new reconciler.
func NewReconciler(client *chain.Client) *Reconciler {
	return &Reconciler{
		client:  client,
		decoder: NewDecoder(),
		tracked: make(map[common.Address]*amm.ManagedReserves),
	}
}

// Track registers a pool's managed reserves to reconcile. Not safe to call
// concurrently with Reconcile.
func (r *Reconciler) Track(pool common.Address, reserves *amm.ManagedReserves) {
	r.tracked[pool] = reserves
}

// ReconcileResult contains statistics from reconciliation.
type ReconcileResult struct {
	FromBlock     uint64
	ToBlock       uint64
	EventsFound   int
	EventsApplied int
	PoolsUpdated  int
	Duration      time.Duration
}

// Reconcile fetches Sync and Swap events from fromBlock to toBlock and
// applies them in log order. Events replay the same mutations the live
// stream would have made.
func (r *Reconciler) Reconcile(ctx context.Context, fromBlock, toBlock uint64) (*ReconcileResult, error) {
	if fromBlock > toBlock {
		return &ReconcileResult{FromBlock: fromBlock, ToBlock: toBlock}, nil
	}

	startTime := time.Now()
	result := &ReconcileResult{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
	}

	log.Info().
		Uint64("from_block", fromBlock).
		Uint64("to_block", toBlock).
		Int("tracked_pools", len(r.tracked)).
		Msg("Starting reconciliation")

	addresses := make([]common.Address, 0, len(r.tracked))
	for addr := range r.tracked {
		addresses = append(addresses, addr)
	}
	if len(addresses) == 0 {
		log.Warn().Msg("No tracked pools for reconciliation")
		return result, nil
	}

	poolsUpdated := make(map[common.Address]struct{})

	for chunkStart := fromBlock; chunkStart <= toBlock; chunkStart += maxBlockRange {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		chunkEnd := chunkStart + maxBlockRange - 1
		if chunkEnd > toBlock {
			chunkEnd = toBlock
		}

		logs, err := r.fetchLogs(ctx, addresses, chunkStart, chunkEnd)
		if err != nil {
			log.Warn().
				Err(err).
				Uint64("from", chunkStart).
				Uint64("to", chunkEnd).
				Msg("Failed to fetch events for block range, continuing")
			continue
		}

		result.EventsFound += len(logs)

		for i := range logs {
			if r.applyLog(&logs[i]) {
				result.EventsApplied++
				poolsUpdated[logs[i].Address] = struct{}{}
			}
		}

		if chunkEnd < toBlock {
			log.Debug().
				Uint64("chunk_end", chunkEnd).
				Int("events_so_far", result.EventsFound).
				Msg("Reconciliation progress")
		}
	}

	result.PoolsUpdated = len(poolsUpdated)
	result.Duration = time.Since(startTime)

	log.Info().
		Uint64("from_block", fromBlock).
		Uint64("to_block", toBlock).
		Int("events_found", result.EventsFound).
		Int("events_applied", result.EventsApplied).
		Int("pools_updated", result.PoolsUpdated).
		Dur("duration", result.Duration).
		Msg("Reconciliation complete")

	return result, nil
}

// fetchLogs pulls Sync and Swap logs for the tracked pools in one query.
func (r *Reconciler) fetchLogs(ctx context.Context, addresses []common.Address, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addresses,
		Topics:    [][]common.Hash{{SyncEventTopic, SwapEventTopic}},
	}

	logs, err := r.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filtering logs: %w", err)
	}
	return logs, nil
}

// applyLog decodes one historical log and applies it to the pool's managed
// reserves. Returns true if a mutation was made.
func (r *Reconciler) applyLog(ethLog *types.Log) bool {
	if ethLog.Removed {
		return false
	}
	reserves, tracked := r.tracked[ethLog.Address]
	if !tracked {
		return false
	}

	entry := toLogEntry(ethLog)

	switch {
	case IsSyncEvent(entry):
		event, err := r.decoder.DecodeSyncEvent(entry)
		if err != nil {
			log.Debug().Err(err).Str("pool", entry.Address).Msg("Undecodable Sync event during reconciliation")
			return false
		}
		reserves.Set(event.Reserve0, event.Reserve1)
		return true

	case IsSwapEvent(entry):
		event, err := r.decoder.DecodeSwapEvent(entry)
		if err != nil {
			log.Debug().Err(err).Str("pool", entry.Address).Msg("Undecodable Swap event during reconciliation")
			return false
		}
		reserves.Apply(event.Amount0, event.Amount1)
		reserves.SetSqrtPriceX96(event.SqrtPriceX96)
		return true
	}
	return false
}

func toLogEntry(ethLog *types.Log) *LogEntry {
	entry := &LogEntry{
		Address:         ethLog.Address.Hex(),
		Topics:          make([]string, len(ethLog.Topics)),
		Data:            fmt.Sprintf("0x%x", ethLog.Data),
		BlockNumber:     fmt.Sprintf("0x%x", ethLog.BlockNumber),
		TransactionHash: ethLog.TxHash.Hex(),
		LogIndex:        fmt.Sprintf("0x%x", ethLog.Index),
		Removed:         ethLog.Removed,
	}
	for i, topic := range ethLog.Topics {
		entry.Topics[i] = topic.Hex()
	}
	return entry
}

// CurrentBlock returns the current head block from the RPC.
func (r *Reconciler) CurrentBlock(ctx context.Context) (uint64, error) {
	return r.client.BlockNumber(ctx)
}
