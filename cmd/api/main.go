package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bazarika/bazarika-backend/api/routes"
	"github.com/bazarika/bazarika-backend/internal/cart"
	"github.com/bazarika/bazarika-backend/internal/checkout"
	"github.com/bazarika/bazarika-backend/internal/inventory"
	"github.com/bazarika/bazarika-backend/internal/notifications"
	"github.com/bazarika/bazarika-backend/internal/orders"
	"github.com/bazarika/bazarika-backend/internal/payments"
	"github.com/bazarika/bazarika-backend/internal/payouts"
	"github.com/bazarika/bazarika-backend/internal/products"
	"github.com/bazarika/bazarika-backend/internal/users"
	"github.com/bazarika/bazarika-backend/pkg/config"
	"github.com/bazarika/bazarika-backend/pkg/db"
	"github.com/bazarika/bazarika-backend/pkg/logger"
	"github.com/bazarika/bazarika-backend/pkg/metrics"
	"github.com/bazarika/bazarika-backend/pkg/migrate"
	"github.com/bazarika/bazarika-backend/pkg/outbox"
	"github.com/bazarika/bazarika-backend/pkg/redis"
	"github.com/bazarika/bazarika-backend/pkg/sslcommerz"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	gateway, err := sslcommerz.NewClient(cfg.Gateway, sslcommerz.WithMetrics(paymentMetrics))
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway client", err)
		os.Exit(1)
	}

	gormDB := dbClient.DB()
	ordersRepo := orders.NewRepository(gormDB)
	productsRepo := products.NewRepository(gormDB)
	cartRepo := cart.NewRepository(gormDB)
	notificationsRepo := notifications.NewRepository(gormDB)
	payoutsRepo := payouts.NewRepository(gormDB)
	usersRepo := users.NewRepository(gormDB)
	outboxRepo := outbox.NewRepository(gormDB)

	outboxSvc := outbox.NewService(outboxRepo, logg)
	inventorySvc := inventory.NewService()

	cartSvc, err := cart.NewService(cartRepo, productsRepo)
	requireService(logg, "cart service", err)

	notificationsSvc, err := notifications.NewService(notificationsRepo)
	requireService(logg, "notifications service", err)

	checkoutSvc, err := checkout.NewService(ordersRepo, dbClient, cartSvc, productsRepo, notificationsSvc, usersRepo, outboxSvc)
	requireService(logg, "checkout service", err)

	ordersSvc, err := orders.NewService(ordersRepo, dbClient, inventorySvc, notificationsSvc, usersRepo, outboxSvc, gateway)
	requireService(logg, "orders service", err)

	paymentsSvc, err := payments.NewService(ordersRepo, dbClient, gateway)
	requireService(logg, "payments service", err)

	reconciler, err := payments.NewReconciler(ordersRepo, dbClient, gormDB, inventorySvc, payoutsRepo, cartSvc, notificationsSvc, usersRepo, outboxSvc, gateway, paymentMetrics)
	requireService(logg, "payment reconciler", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	handler := routes.NewRouter(routes.Params{
		Config:               cfg,
		Logger:               logg,
		Registry:             registry,
		DB:                   dbClient,
		Cache:                redisClient,
		IdempotencyStore:     redisClient,
		CartService:          cartSvc,
		CheckoutService:      checkoutSvc,
		OrdersService:        ordersSvc,
		OrdersRepo:           ordersRepo,
		PaymentsService:      paymentsSvc,
		PaymentReconciler:    reconciler,
		NotificationsService: notificationsSvc,
		PayoutsRepo:          payoutsRepo,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}

func requireService(logg *logger.Logger, name string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+name, err)
	os.Exit(1)
}
