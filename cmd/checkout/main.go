package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/storefront-checkout/internal/config"
	"github.com/joao-fontenele/storefront-checkout/internal/idempotency"
	"github.com/joao-fontenele/storefront-checkout/internal/identity"
	"github.com/joao-fontenele/storefront-checkout/internal/inventory"
	"github.com/joao-fontenele/storefront-checkout/internal/orders"
	"github.com/joao-fontenele/storefront-checkout/internal/payment"
	"github.com/joao-fontenele/storefront-checkout/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8081")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Require("POSTGRES_URL", "MP_ACCESS_TOKEN", "SITE_URL", "IDENTITY_URL", "IDENTITY_API_KEY"); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "checkout", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("checkout", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var idem orders.IdempotencyStore
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		idem = idempotency.NewStore(rdb, time.Minute, 24*time.Hour)
	} else {
		logger.Warn("REDIS_URL not set, Idempotency-Key header will be ignored")
	}

	httpClient := &http.Client{
		Timeout:   cfg.MercadoPago.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	gateway := payment.NewBreakerGateway(
		payment.NewMercadoPagoClient(cfg.MercadoPago.BaseURL, cfg.MercadoPago.AccessToken, httpClient),
		payment.BreakerSettings{Name: "mercadopago", ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second},
		logger,
	)

	repo := orders.NewOrderRepository(db)
	catalog := inventory.NewInventoryRepository(db)

	service, err := orders.NewService(catalog, repo, cfg.Currency)
	if err != nil {
		logger.Error("failed to create order service", "error", err)
		os.Exit(1)
	}

	builder, err := payment.NewBuilder(gateway, repo, payment.CallbackURLsFor(cfg.SiteURL), cfg.MercadoPago.Timeout, cfg.PendingOrderTTL, logger)
	if err != nil {
		logger.Error("failed to create payment builder", "error", err)
		os.Exit(1)
	}

	reconciler, err := payment.NewReconciler(gateway, repo, cfg.MercadoPago.Timeout, logger)
	if err != nil {
		logger.Error("failed to create reconciler", "error", err)
		os.Exit(1)
	}
	if cfg.MercadoPago.WebhookSecret == "" {
		logger.Warn("MP_WEBHOOK_SECRET not set, webhook signatures will not be verified")
	}

	handler := orders.NewHandler(service, repo, builder, idem, logger)
	webhook := payment.NewWebhookHandler(reconciler, cfg.MercadoPago.WebhookSecret, logger)
	resolver := identity.NewHTTPResolver(cfg.Identity.URL, cfg.Identity.APIKey, &http.Client{
		Timeout:   5 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(telemetry.ChiRoute)

	r.Handle("/metrics", metricsHandler)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodPost, "/api/checkout/payment-webhook", webhook)
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(resolver, logger))
		handler.Routes(r)
	})

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(r, "checkout",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting checkout service", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
