package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/himpar21/medisync/internal/cache"
	"github.com/himpar21/medisync/internal/checkout"
	"github.com/himpar21/medisync/internal/config"
	"github.com/himpar21/medisync/internal/events"
	h "github.com/himpar21/medisync/internal/http"
	"github.com/himpar21/medisync/internal/inventory"
	"github.com/himpar21/medisync/internal/ledger"
	"github.com/himpar21/medisync/internal/metrics"
	"github.com/himpar21/medisync/internal/observability"
	"github.com/himpar21/medisync/internal/repository"
	"github.com/himpar21/medisync/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTELEndpoint)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	// Cart store
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		logger.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	cartRepo := repository.NewMongoRepository(mongoDB)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		logger.Fatal("failed to create cart indexes", zap.Error(err))
	}
	logger.Info("connected to MongoDB", zap.String("database", cfg.MongoDBName))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}

	// Order ledger
	creds := &ledger.Credentials{
		Host:              cfg.DB.Host,
		Port:              cfg.DB.Port,
		User:              cfg.DB.User,
		Password:          cfg.DB.Password,
		DBName:            cfg.DB.DBName,
		MigrationsDirPath: cfg.DB.MigrationsDirPath,
	}
	orders, err := ledger.NewRepository(creds)
	if err != nil {
		logger.Fatal("failed to open order ledger", zap.Error(err))
	}
	defer orders.Close()
	if err := orders.RunMigrations(creds); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	m := metrics.New(prometheus.NewRegistry())

	gateway := inventory.NewGateway(
		inventory.NewClient(cfg.InventoryURL, cfg.InventoryTimeout),
		inventory.NewLocalCatalog(),
		inventory.WithLogger(logger.Named("inventory")),
		inventory.WithFallbackCounter(m.InventoryFallbacks),
	)

	carts := service.NewCartService(cartRepo, cache.NewRedisCache(redisClient), gateway,
		service.WithLogger(logger.Named("cart")),
		service.WithRetryCounter(m.CartConflictRetries),
	)

	var sinks []events.Sink
	if cfg.PaymentEventURL != "" {
		sinks = append(sinks, events.NewWebhookSink("payment", cfg.PaymentEventURL))
	}
	if cfg.AnalyticsEventURL != "" {
		sinks = append(sinks, events.NewWebhookSink("analytics", cfg.AnalyticsEventURL))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := events.NewKafkaSink(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}
	publisher := events.NewPublisher(logger.Named("events"), cfg.EventTimeout, sinks...)

	checkouts := checkout.NewService(carts, gateway, orders, publisher,
		checkout.WithLogger(logger.Named("checkout")),
		checkout.WithOutcomeCounter(m.Checkouts),
	)

	router := h.NewRouter(
		h.RouterConfig{
			JWTSecret:      []byte(cfg.JWTSecret),
			RequestTimeout: cfg.RequestTimeout,
			Metrics:        m,
			Ledger:         orders,
		},
		h.NewMedicinesHandler(gateway, cfg.RequestTimeout),
		h.NewCartHandler(carts, logger, cfg.RequestTimeout),
		h.NewCheckoutHandler(checkouts, logger, cfg.RequestTimeout),
		h.NewOrdersHandler(checkouts, logger, cfg.RequestTimeout),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("order service listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down order service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("failed to flush traces", zap.Error(err))
	}
	if err := mongoDB.Client().Disconnect(shutdownCtx); err != nil {
		logger.Error("failed to disconnect MongoDB", zap.Error(err))
	}
	logger.Info("order service stopped")
}
