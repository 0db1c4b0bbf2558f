package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"swapsolver/internal/amm"
	"swapsolver/internal/metrics"
)

const (
	maxReconnectAttempts = 10
	initialBackoff       = 1 * time.Second
	maxBackoff           = 30 * time.Second
)

// Service streams Sync and Swap events for tracked pools and applies them to
// each pool's managed reserve snapshot, so solves always price against the
// latest observed state.
type Service struct {
	wsURL   string
	decoder *Decoder
	metrics *metrics.Metrics

	mu      sync.RWMutex
	stream  *LogStream
	tracked map[common.Address]*amm.ManagedReserves

	syncEvents chan *SyncEvent
	swapEvents chan *SwapEvent

	lastBlock atomic.Uint64
}

// NewService creates a new ingestion service.
func NewService(wsURL string, m *metrics.Metrics) *Service {
	return &Service{
		wsURL:      wsURL,
		decoder:    NewDecoder(),
		metrics:    m,
		tracked:    make(map[common.Address]*amm.ManagedReserves),
		syncEvents: make(chan *SyncEvent, 1000),
		swapEvents: make(chan *SwapEvent, 1000),
	}
}

// SyncEvents returns the channel for observing applied Sync events.
func (s *Service) SyncEvents() <-chan *SyncEvent {
	return s.syncEvents
}

// SwapEvents returns the channel for observing applied Swap events.
func (s *Service) SwapEvents() <-chan *SwapEvent {
	return s.swapEvents
}

// Track registers a pool's managed reserves to receive event updates.
// Takes effect on the next (re)connection.
func (s *Service) Track(pool common.Address, reserves *amm.ManagedReserves) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked[pool] = reserves

	if s.metrics != nil {
		s.metrics.SetTrackedPools(len(s.tracked))
	}
}

// IsTracked returns true if the pool is being tracked.
func (s *Service) IsTracked(pool common.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.tracked[pool]
	return exists
}

// TrackedPoolCount returns the number of tracked pools.
func (s *Service) TrackedPoolCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracked)
}

func (s *Service) reservesFor(pool common.Address) *amm.ManagedReserves {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracked[pool]
}

// Run starts the ingestion service with automatic reconnection.
func (s *Service) Run(ctx context.Context) error {
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(attempt)
			log.Info().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Reconnecting to WebSocket")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrStreamClosed) {
			// Orderly close, e.g. Resubscribe wanting a fresh filter.
			// Reconnect immediately without burning an attempt.
			attempt = -1
			continue
		}

		log.Error().Err(err).Msg("WebSocket connection error")

		if s.metrics != nil {
			s.metrics.SetWebSocketConnected(false)
		}
	}

	return fmt.Errorf("max reconnection attempts reached")
}

// runOnce dials one log stream for the current tracked set and applies its
// entries until the stream fails or the context ends.
func (s *Service) runOnce(ctx context.Context) error {
	s.mu.RLock()
	addresses := make([]common.Address, 0, len(s.tracked))
	for addr := range s.tracked {
		addresses = append(addresses, addr)
	}
	s.mu.RUnlock()

	stream, err := DialLogStream(ctx, s.wsURL, addresses,
		[]common.Hash{SyncEventTopic, SwapEventTopic})
	if err != nil {
		return err
	}
	defer stream.Close()

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetWebSocketConnected(true)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- stream.Listen(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errCh:
			return err

		case entry := <-stream.Logs():
			s.apply(entry)
		}
	}
}

// Resubscribe closes the active stream so the run loop reconnects with the
// current tracked set.
func (s *Service) Resubscribe() error {
	s.mu.RLock()
	stream := s.stream
	s.mu.RUnlock()

	if stream == nil {
		return fmt.Errorf("not connected")
	}
	return stream.Close()
}

// apply routes one delivered log entry to its event handler.
func (s *Service) apply(entry LogEntry) {
	// Removed logs come from chain reorgs; reconciliation repairs the state.
	if entry.Removed {
		log.Debug().
			Str("tx", entry.TransactionHash).
			Msg("Skipping removed log")
		return
	}

	if IsSyncEvent(&entry) {
		s.processSyncEvent(&entry)
	} else if IsSwapEvent(&entry) {
		s.processSwapEvent(&entry)
	}
}

// processSyncEvent applies a v2 Sync event: absolute reserves replace the
// snapshot.
func (s *Service) processSyncEvent(logEntry *LogEntry) {
	pool := common.HexToAddress(logEntry.Address)
	reserves := s.reservesFor(pool)
	if reserves == nil {
		return
	}

	event, err := s.decoder.DecodeSyncEvent(logEntry)
	if err != nil {
		log.Warn().Err(err).Str("pool", pool.Hex()).Msg("Failed to decode Sync event")
		return
	}

	reserves.Set(event.Reserve0, event.Reserve1)
	s.recordBlock(event.BlockNumber)

	if s.metrics != nil {
		s.metrics.RecordEventReceived("sync")
	}

	select {
	case s.syncEvents <- event:
	default:
	}

	log.Trace().
		Str("pool", pool.Hex()).
		Uint64("block", event.BlockNumber).
		Str("reserve0", event.Reserve0.String()).
		Str("reserve1", event.Reserve1.String()).
		Msg("Applied Sync event")
}

// processSwapEvent applies a v3 Swap event: signed deltas adjust balances
// and the post-swap sqrt price replaces the slot.
func (s *Service) processSwapEvent(logEntry *LogEntry) {
	pool := common.HexToAddress(logEntry.Address)
	reserves := s.reservesFor(pool)
	if reserves == nil {
		return
	}

	event, err := s.decoder.DecodeSwapEvent(logEntry)
	if err != nil {
		log.Warn().Err(err).Str("pool", pool.Hex()).Msg("Failed to decode Swap event")
		return
	}

	reserves.Apply(event.Amount0, event.Amount1)
	reserves.SetSqrtPriceX96(event.SqrtPriceX96)
	s.recordBlock(event.BlockNumber)

	if s.metrics != nil {
		s.metrics.RecordEventReceived("swap")
	}

	select {
	case s.swapEvents <- event:
	default:
	}

	log.Trace().
		Str("pool", pool.Hex()).
		Uint64("block", event.BlockNumber).
		Str("sqrt_price", event.SqrtPriceX96.String()).
		Msg("Applied Swap event")
}

func (s *Service) recordBlock(block uint64) {
	for {
		last := s.lastBlock.Load()
		if block <= last {
			return
		}
		if s.lastBlock.CompareAndSwap(last, block) {
			if s.metrics != nil {
				s.metrics.SetLastBlock(block)
			}
			return
		}
	}
}

// LastBlockNumber returns the highest block any applied event came from.
func (s *Service) LastBlockNumber() uint64 {
	return s.lastBlock.Load()
}

func calculateBackoff(attempt int) time.Duration {
	backoff := initialBackoff * (1 << uint(attempt))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}
	return backoff
}
