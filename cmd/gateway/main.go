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

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/storefront-checkout/internal/config"
	"github.com/joao-fontenele/storefront-checkout/internal/gateway"
	"github.com/joao-fontenele/storefront-checkout/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load("8080")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Require("CHECKOUT_SERVICE_URL", "INVENTORY_SERVICE_URL"); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	checkoutProxy := gateway.NewServiceProxy(cfg.CheckoutServiceURL, httpClient)
	inventoryProxy := gateway.NewServiceProxy(cfg.InventoryServiceURL, httpClient)
	handler := gateway.NewHandler(checkoutProxy, inventoryProxy, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/checkout/create-order", telemetry.WithHTTPRoute(handler.HandleCheckout))
	mux.HandleFunc("POST /api/checkout/confirm-payment", telemetry.WithHTTPRoute(handler.HandleCheckout))
	mux.HandleFunc("POST /api/checkout/payment-webhook", telemetry.WithHTTPRoute(handler.HandleCheckout))
	mux.HandleFunc("GET /api/orders", telemetry.WithHTTPRoute(handler.HandleCheckout))
	mux.HandleFunc("GET /api/orders/{id}", telemetry.WithHTTPRoute(handler.HandleCheckout))
	mux.HandleFunc("POST /api/orders/{id}/payment", telemetry.WithHTTPRoute(handler.HandleCheckout))
	mux.HandleFunc("GET /api/admin/orders", telemetry.WithHTTPRoute(handler.HandleCheckout))
	mux.HandleFunc("GET /inventory/products", telemetry.WithHTTPRoute(handler.HandleInventory))
	mux.HandleFunc("GET /inventory/products/{productId}/stock", telemetry.WithHTTPRoute(handler.HandleInventory))
	mux.HandleFunc("POST /inventory/products/{productId}/restock", telemetry.WithHTTPRoute(handler.HandleInventory))

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(mux, "gateway",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", cfg.Port)
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
