package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/arjunm-dev/wheelhouse/internal/models"
)

// setupOpsServer builds the operational HTTP surface: health, metrics, and
// a read-only view of the room catalog with live snapshots. This is not a
// betting API.
func setupOpsServer(cfg *Config, services *Services) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/rooms", func(w http.ResponseWriter, req *http.Request) {
		type roomView struct {
			Room     string                 `json:"room"`
			Snapshot *models.PeriodSnapshot `json:"snapshot,omitempty"`
		}
		views := make([]roomView, 0, len(services.Catalog.Rooms()))
		for _, room := range services.Catalog.Rooms() {
			snap, err := services.Store.ReadSnapshot(req.Context(), room)
			if err != nil {
				log.Warn().Err(err).Str("room", room.Key()).Msg("snapshot read failed for ops view")
			}
			views = append(views, roomView{Room: room.Key(), Snapshot: snap})
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(views); err != nil {
			log.Warn().Err(err).Msg("rooms response encode failed")
		}
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.OpsPort),
		Handler: r,
	}
}

func runOpsServer(ctx context.Context, srv *http.Server) {
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	log.Info().Str("addr", srv.Addr).Msg("ops server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("ops server failed")
	}
}
