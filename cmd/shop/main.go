package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/joao-fontenele/storefront/internal/accounts"
	"github.com/joao-fontenele/storefront/internal/cart"
	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/config"
	"github.com/joao-fontenele/storefront/internal/messaging"
	"github.com/joao-fontenele/storefront/internal/orders"
	"github.com/joao-fontenele/storefront/internal/pagseguro"
	"github.com/joao-fontenele/storefront/internal/session"
	"github.com/joao-fontenele/storefront/internal/telemetry"
)

const (
	serviceName    = "shop"
	serviceVersion = "0.1.0"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	for _, check := range []func() error{cfg.RequireDatabase, cfg.RequireSession} {
		if err := check(); err != nil {
			logger.Error("invalid configuration", "error", err)
			os.Exit(1)
		}
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	shopMetrics, err := telemetry.NewShopMetrics(otel.Meter(telemetry.MeterName))
	if err != nil {
		logger.Error("failed to create shop metrics", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenPostgres(cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	orderOpts := []orders.Option{orders.WithMetrics(shopMetrics), orders.WithBaseURL(cfg.BaseURL)}

	if len(cfg.KafkaBrokers) > 0 {
		orderCreated := messaging.NewProducer(cfg.KafkaBrokers, messaging.TopicOrderCreated)
		defer func() { _ = orderCreated.Close() }()
		paymentChanged := messaging.NewProducer(cfg.KafkaBrokers, messaging.TopicPaymentStatusChanged)
		defer func() { _ = paymentChanged.Close() }()

		orderOpts = append(orderOpts, orders.WithPublishers(orderCreated, paymentChanged))
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events will not be published")
	}

	var gateway orders.Gateway
	if cfg.PagSeguroEnabled() {
		gateway = pagseguro.NewClient(cfg.PagSeguroEmail, cfg.PagSeguroToken, cfg.PagSeguroSandbox)
	} else {
		logger.Warn("PagSeguro credentials not set, online payment is disabled")
	}

	userRepo := accounts.NewUserRepository(db)
	sessions := session.NewManager(cfg.SessionSecret,
		session.WithSecureCookie(cfg.SessionCookieSecure),
		session.WithCredentials(userRepo.Credential),
	)

	productRepo := catalog.NewProductRepository(db)
	cartRepo := cart.NewCartRepository(db)
	orderRepo := orders.NewOrderRepository(db)

	router := newRouter(handlers{
		accounts: accounts.NewHandler(userRepo, sessions, logger),
		catalog:  catalog.NewHandler(productRepo, logger),
		cart:     cart.NewHandler(cartRepo, productRepo, sessions, shopMetrics, logger),
		orders:   orders.NewHandler(orderRepo, userRepo, gateway, sessions, logger, orderOpts...),
	}, sessions, metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(router, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting shop service", "port", cfg.Port, "pagseguro_sandbox", cfg.PagSeguroSandbox)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
