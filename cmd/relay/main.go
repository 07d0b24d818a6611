// Command relay publishes outbox events to Kafka and expires abandoned
// pending orders.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/storefront-checkout/internal/config"
	"github.com/joao-fontenele/storefront-checkout/internal/messaging"
	"github.com/joao-fontenele/storefront-checkout/internal/orders"
	"github.com/joao-fontenele/storefront-checkout/internal/outbox"
	"github.com/joao-fontenele/storefront-checkout/internal/sweeper"
	"github.com/joao-fontenele/storefront-checkout/internal/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Require("POSTGRES_URL", "KAFKA_BROKERS"); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "relay", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	db, err := telemetry.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	producer := messaging.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic)
	defer func() { _ = producer.Close() }()

	relay := outbox.NewRelay(outbox.NewStore(db), producer, cfg.OutboxInterval, logger)

	sw, err := sweeper.New(orders.NewOrderRepository(db), cfg.PendingOrderTTL, cfg.SweepInterval, logger)
	if err != nil {
		logger.Error("failed to create sweeper", "error", err)
		os.Exit(1)
	}

	logger.Info("starting relay",
		"topic", cfg.OrderEventsTopic,
		"outbox_interval", cfg.OutboxInterval,
		"pending_order_ttl", cfg.PendingOrderTTL,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error { return sw.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}
