package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/arjunm-dev/wheelhouse/clients/tronscan"
	"github.com/arjunm-dev/wheelhouse/internal/broadcast"
	"github.com/arjunm-dev/wheelhouse/internal/engine"
	"github.com/arjunm-dev/wheelhouse/internal/ledger"
	"github.com/arjunm-dev/wheelhouse/internal/rooms"
	"github.com/arjunm-dev/wheelhouse/internal/scheduler"
	"github.com/arjunm-dev/wheelhouse/internal/store"
	"github.com/arjunm-dev/wheelhouse/internal/verifier"
)

// Services holds every long-lived component the scheduler binary wires up.
type Services struct {
	Catalog   *rooms.Catalog
	Pool      *pgxpool.Pool
	NATS      *nats.Conn
	Store     *store.KVStore
	Scheduler *scheduler.Scheduler
	ResetJob  *scheduler.ResetJob
	Verifier  *verifier.Pool
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	clock := clockwork.NewRealClock()

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().Str("host", cfg.DBHost).Str("database", cfg.DBName).Msg("connected to database")

	nc, err := connectNATS(cfg.NATSURL)
	if err != nil {
		pool.Close()
		return nil, err
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		pool.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	kv, err := store.NewKVStore(ctx, js, store.Config{
		SnapshotTTL: catalog.MaxDuration() + time.Minute,
		LockTTL:     cfg.LockTTL,
	})
	if err != nil {
		nc.Close()
		pool.Close()
		return nil, fmt.Errorf("create KV store: %w", err)
	}

	proofSource := tronscan.NewClient(cfg.ProofSourceURL)
	proofPool := verifier.New(proofSource, catalog.Durations(), clock)
	// Warm the pools; failure is tolerable, settlement synthesizes proofs.
	for _, d := range catalog.Durations() {
		if err := proofPool.Replenish(ctx, d); err != nil {
			log.Warn().Err(err).Int("duration", d).Msg("initial proof pool fill failed")
			break
		}
	}

	bets := ledger.NewBetRepository(pool)
	results := ledger.NewResultRepository(pool)
	eng := engine.New(bets, results, proofPool, engine.Config{
		GenerationTimeout:  cfg.GenerationTimeout,
		LiquidityThreshold: cfg.LiquidityThreshold,
	}, clock)

	events := broadcast.New(nc, cfg.DedupTTL, clock)
	sched := scheduler.New(catalog.Rooms(), kv, kv, kv, eng, events, clock, scheduler.Config{
		LockTTL: cfg.LockTTL,
	})
	reset := scheduler.NewResetJob(kv, kv, clock)

	return &Services{
		Catalog:   catalog,
		Pool:      pool,
		NATS:      nc,
		Store:     kv,
		Scheduler: sched,
		ResetJob:  reset,
		Verifier:  proofPool,
	}, nil
}

func loadCatalog(cfg *Config) (*rooms.Catalog, error) {
	if cfg.RoomsConfigPath == "" {
		return rooms.Default(), nil
	}
	catalog, err := rooms.Load(cfg.RoomsConfigPath)
	if err != nil {
		return nil, err
	}
	return catalog, nil
}

func connectNATS(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

func (s *Services) Close() {
	if s.NATS != nil {
		s.NATS.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
