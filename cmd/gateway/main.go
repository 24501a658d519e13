package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/broadcast"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/gateway"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/quotes"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/price-broadcast/pkg/config"
	"github.com/shubham-shewale/price-broadcast/pkg/quotestore"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		// Not fatal: the breaker reports the outage per symbol until Redis is back.
		logger.Warn("Redis not reachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	clock := clockwork.NewRealClock()
	store := quotestore.New(rdb, cfg.Processor.SnapshotTTL)

	resolver := quotes.NewBreakerResolver(
		quotes.NewStoreResolver(store, cfg.Resolver.MaxQuoteAge, clock),
		quotes.BreakerConfig{
			Name:        "redis-quotes",
			MaxFailures: cfg.Resolver.BreakerMaxFailures,
			OpenTimeout: cfg.Resolver.BreakerOpenTimeout,
		},
		logger,
	)

	reg := registry.New(logger)

	engine, err := broadcast.NewEngine(reg, resolver, broadcast.Config{
		Interval:              cfg.Broadcast.Interval,
		PingInterval:          cfg.Broadcast.PingInterval,
		ResolveTimeout:        cfg.Broadcast.ResolveTimeout,
		MaxConcurrentResolves: cfg.Broadcast.MaxConcurrentResolves,
		BatchUpdates:          cfg.Broadcast.BatchUpdates,
	}, clock, logger)
	if err != nil {
		logger.Fatal("Invalid broadcast config", zap.Error(err))
	}

	wsHub := hub.NewHub(reg, hub.Options{
		ValidTickers:        cfg.Gateway.ValidTickers,
		MaxSymbolsPerClient: cfg.Gateway.MaxSymbolsPerClient,
	}, clock, logger)

	var limiter gateway.RateLimiter
	if cfg.Gateway.ConnectionsPerSecond > 0 {
		limiter = gateway.NewIPRateLimiter(cfg.Gateway.ConnectionsPerSecond, int(cfg.Gateway.ConnectionsPerSecond)+1, clock)
	}

	wsHandler := gateway.NewHandler(wsHub, gateway.Options{
		SendBuffer:        cfg.Gateway.SendBuffer,
		WriteWait:         cfg.Gateway.WriteWait,
		PongWait:          cfg.Gateway.PongWait,
		PingPeriod:        cfg.Gateway.WSPingPeriod,
		MessagesPerSecond: cfg.Gateway.MessagesPerSecond,
		MessageBurst:      cfg.Gateway.MessageBurst,
	}, limiter, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle(cfg.App.MetricsPath, promhttp.Handler())
	mux.HandleFunc("/healthz", gateway.HealthHandler(store, reg.Len))

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Start(ctx); err != nil {
		logger.Fatal("Failed to start broadcast engine", zap.Error(err))
	}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port), zap.String("env", cfg.App.Env))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	// Stop producing frames before tearing down the connections they go to.
	engine.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	closed := wsHub.CloseAll()

	logger.Info("Shutdown Complete", zap.Int("connections_closed", closed))
}
