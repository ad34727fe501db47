package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/arjunm-dev/wheelhouse/internal/gateway"
	"github.com/arjunm-dev/wheelhouse/internal/rooms"
	"github.com/arjunm-dev/wheelhouse/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found")
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	natsURL := getEnv("NATS_URL", nats.DefaultURL)
	port := getEnv("GATEWAY_PORT", "8090")

	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("NATS connect failed")
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		log.Fatal().Err(err).Msg("JetStream init failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	catalog := rooms.Default()
	kv, err := store.NewKVStore(ctx, js, store.Config{
		SnapshotTTL: catalog.MaxDuration() + time.Minute,
		LockTTL:     30 * time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("KV store init failed")
	}

	gw := gateway.New(nc, kv)
	if err := gw.Start(); err != nil {
		log.Fatal().Err(err).Msg("gateway start failed")
	}
	defer gw.Close(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: gw.Handler(),
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("gateway server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("gateway shutdown failed")
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
