package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// .env is a development convenience; real deployments set the
	// environment directly.
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	defer services.Close()

	log.Info().
		Str("instance_id", services.Scheduler.InstanceID()).
		Int("rooms", len(services.Catalog.Rooms())).
		Msg("starting period scheduler")

	go func() {
		if err := services.Scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("scheduler stopped")
			cancel()
		}
	}()

	go services.ResetJob.Run(ctx)

	sub, err := services.Scheduler.ServeSnapshotRequests(ctx, services.NATS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to snapshot requests")
	}
	defer func() { _ = sub.Unsubscribe() }()

	opsSrv := setupOpsServer(cfg, services)
	go runOpsServer(ctx, opsSrv)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}
	cancel()

	// Give in-flight settlements a moment to release their locks.
	time.Sleep(500 * time.Millisecond)
	log.Info().Msg("scheduler stopped cleanly")
}

func setupLogging(cfg *Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
