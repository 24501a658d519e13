package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-broadcast/cmd/generator/internal/generator"
	"github.com/shubham-shewale/price-broadcast/pkg/config"
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

	clock := clockwork.NewRealClock()

	// Ensure the topic exists before producing
	dialer := &generator.RealKafkaDialer{Dialer: &kafka.Dialer{Timeout: 10 * time.Second}}
	topicCtx, cancelTopic := context.WithTimeout(context.Background(), 30*time.Second)
	err = generator.NewTopicCreator(logger, dialer, clock).Create(topicCtx, cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Generator.Partitions)
	cancelTopic()
	if err != nil {
		// Brokers with auto-create enabled still accept writes.
		logger.Warn("Topic setup incomplete", zap.Error(err))
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{}, // same symbol, same partition
		// Optimization: Send batches to reduce network IO
		BatchSize:    100,                   // Send after 100 messages
		BatchTimeout: 10 * time.Millisecond, // OR send after 10ms
		Async:        true,                  // Write non-blocking (fire and forget handled by buffer)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	rnd := generator.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	gen := generator.NewStockGenerator(logger, writer, cfg.Generator.Tickers, cfg.Generator.BasePrices, rnd, clock, cfg.Generator.TickInterval)

	gen.Run(ctx)
	logger.Info("Shutdown signal received")

	// Flush Kafka Buffer (CRITICAL)
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	} else {
		logger.Info("Kafka writer closed cleanly")
	}
}
