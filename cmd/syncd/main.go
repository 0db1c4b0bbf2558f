// Command syncd keeps the persisted pool universe current: it bootstraps the
// index from SQLite, replays missed events, then streams live updates and
// checkpoints state back to the store.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"swapsolver/internal/amm"
	"swapsolver/internal/chain"
	"swapsolver/internal/config"
	"swapsolver/internal/index"
	"swapsolver/internal/ingestion"
	"swapsolver/internal/metrics"
	"swapsolver/internal/persistence"
)

const (
	lastBlockKey       = "last_block"
	checkpointInterval = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.RequireStreaming(); err != nil {
		log.Fatal().Err(err).Msg("Incomplete streaming configuration")
	}

	setupLogging(cfg.Logging)
	log.Info().Msg("Starting swap pool sync daemon")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("Application error")
	}

	log.Info().Msg("Sync daemon shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()
	if cfg.Metrics.Enabled {
		if err := m.StartServer(cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.Shutdown(shutdownCtx)
		}()
		log.Info().Int("port", cfg.Metrics.Port).Msg("Metrics server started")
	}

	store, err := persistence.NewStore(cfg.Persistence.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("path", cfg.Persistence.SQLitePath).Msg("SQLite initialized")

	boot, err := store.LoadIndex(ctx)
	if err != nil {
		return err
	}

	client, err := chain.NewClient(cfg.Chain.RPCURL)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := reconcile(ctx, client, store, boot); err != nil {
		return err
	}

	svc := ingestion.NewService(cfg.Chain.WSURL, m)
	for addr, reserves := range boot.Reserves {
		svc.Track(addr, reserves)
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Int("pools", svc.TrackedPoolCount()).Msg("Starting ingestion service")
		return svc.Run(gCtx)
	})

	g.Go(func() error {
		return checkpointLoop(gCtx, store, boot, svc)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// reconcile replays events between the last checkpoint and the current head
// so streaming starts from consistent reserves.
func reconcile(ctx context.Context, client *chain.Client, store *persistence.Store, boot *persistence.Bootstrap) error {
	stored, err := store.GetSystemState(ctx, lastBlockKey)
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}
	if stored == "" {
		log.Info().Msg("No checkpoint, skipping reconciliation")
		return nil
	}
	fromBlock, err := strconv.ParseUint(stored, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing checkpoint %q: %w", stored, err)
	}

	reconciler := ingestion.NewReconciler(client)
	for addr, reserves := range boot.Reserves {
		reconciler.Track(addr, reserves)
	}

	head, err := reconciler.CurrentBlock(ctx)
	if err != nil {
		return fmt.Errorf("fetching head block: %w", err)
	}

	_, err = reconciler.Reconcile(ctx, fromBlock+1, head)
	return err
}

// checkpointLoop periodically writes reserves and the last applied block back
// to the store, so a restart resumes close to the head.
func checkpointLoop(ctx context.Context, store *persistence.Store, boot *persistence.Bootstrap, svc *ingestion.Service) error {
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := checkpoint(ctx, store, boot, svc); err != nil {
				log.Warn().Err(err).Msg("Checkpoint failed")
			}
		}
	}
}

func checkpoint(ctx context.Context, store *persistence.Store, boot *persistence.Bootstrap, svc *ingestion.Service) error {
	for addr, reserves := range boot.Reserves {
		reserve0, reserve1, err := reserves.Reserves()
		if err != nil {
			continue
		}
		sqrtP, _ := sqrtPriceOf(boot.Index, addr, reserves)
		if err := store.UpdatePoolReserves(ctx, addr.Hex(), reserve0, reserve1, sqrtP); err != nil {
			return err
		}
	}

	if block := svc.LastBlockNumber(); block > 0 {
		if err := store.SetSystemState(ctx, lastBlockKey, strconv.FormatUint(block, 10)); err != nil {
			return err
		}
		log.Debug().Uint64("block", block).Msg("Checkpointed state")
	}
	return nil
}

// sqrtPriceOf returns the pool's sqrt price when it tracks one.
func sqrtPriceOf(ix *index.Index, addr common.Address, reserves *amm.ManagedReserves) (*big.Int, bool) {
	pool, found := ix.Pool(addr)
	if !found || pool.Protocol() != amm.ProtocolConcentrated {
		return nil, false
	}
	sqrtP, err := reserves.SqrtPriceX96()
	if err != nil {
		return nil, false
	}
	return sqrtP, true
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}
