package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openmart/marketplace/internal/config"
	"github.com/openmart/marketplace/internal/inventory/application"
	invhttp "github.com/openmart/marketplace/internal/inventory/infrastructure/http"
	invkafka "github.com/openmart/marketplace/internal/inventory/infrastructure/kafka"
	invpg "github.com/openmart/marketplace/internal/inventory/infrastructure/postgres"
	"github.com/openmart/marketplace/pkg/logging"
	"github.com/openmart/marketplace/pkg/outbox"
	"github.com/openmart/marketplace/pkg/shutdown"
	"github.com/openmart/marketplace/pkg/tracing"
)

func main() {
	log := logging.New("inventory-service")

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg := config.LoadInventory()

	tp, err := tracing.Init(ctx, "inventory-service", cfg.JaegerURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(ctx) }()

	pool, err := pgxpool.New(ctx, cfg.PGURL)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	writer := invkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	repo := invpg.NewRepository(log, pool)
	store := outbox.NewPGStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
	relay := outbox.NewRelay(log, store, dispatch, "inventory-service-relay")

	svc := application.NewService(log, repo).WithMaxRetries(cfg.ReserveRetries)
	handler := invhttp.NewHandler(log, svc)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("inventory-service shutdown complete")
}
