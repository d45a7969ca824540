package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	cartapp "github.com/openmart/marketplace/internal/cart/application"
	carthttp "github.com/openmart/marketplace/internal/cart/infrastructure/http"
	cartpg "github.com/openmart/marketplace/internal/cart/infrastructure/postgres"
	"github.com/openmart/marketplace/internal/config"
	"github.com/openmart/marketplace/internal/order/application"
	"github.com/openmart/marketplace/internal/order/infrastructure/catalog"
	orderhttp "github.com/openmart/marketplace/internal/order/infrastructure/http"
	"github.com/openmart/marketplace/internal/order/infrastructure/inventoryhttp"
	orderkafka "github.com/openmart/marketplace/internal/order/infrastructure/kafka"
	orderpg "github.com/openmart/marketplace/internal/order/infrastructure/postgres"
	"github.com/openmart/marketplace/pkg/idempotency"
	"github.com/openmart/marketplace/pkg/logging"
	"github.com/openmart/marketplace/pkg/outbox"
	"github.com/openmart/marketplace/pkg/shutdown"
	"github.com/openmart/marketplace/pkg/tracing"
)

func main() {
	log := logging.New("checkout-service")

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg := config.LoadCheckout()

	tp, err := tracing.Init(ctx, "checkout-service", cfg.JaegerURL, log)
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

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	writer := orderkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()

	orderRepo := orderpg.NewRepository(log, pool)
	cartRepo := cartpg.NewRepository(log, pool)
	store := outbox.NewPGStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
	relay := outbox.NewRelay(log, store, dispatch, "checkout-service-relay")

	inv := inventoryhttp.NewClient(cfg.InventoryURL, cfg.ClientTimeout)
	names := catalog.NewClient(cfg.CatalogURL, cfg.ClientTimeout)
	idem := idempotency.NewStore(rdb, cfg.IdempotencyTTL)

	checkoutSvc := application.NewCheckoutService(log, orderRepo, cartRepo, inv, names)
	cartSvc := cartapp.NewService(log, cartRepo)

	orderHandler := orderhttp.NewHandler(log, checkoutSvc, idem)
	cartHandler := carthttp.NewHandler(log, cartSvc)

	r := chi.NewRouter()
	r.Mount("/", orderHandler.Routes())
	r.Mount("/cart", cartHandler.Routes())
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
	log.Info("checkout-service shutdown complete")
}
