// Package quotestore keeps the latest tick per symbol in Redis.
//
// The processor writes one snapshot per symbol; the gateway reads them back when it
// resolves quotes for a broadcast cycle.
package quotestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shubham-shewale/price-broadcast/pkg/models"
)

const keyPrefix = "stock:"

var (
	// ErrNotFound is returned when no snapshot exists for a symbol.
	ErrNotFound = errors.New("quote not found")
	// ErrMalformed is returned when the stored snapshot cannot be decoded.
	ErrMalformed = errors.New("malformed quote")
)

// Key returns the Redis key holding the snapshot for symbol.
func Key(symbol string) string {
	return keyPrefix + symbol
}

// RedisStore is the Redis-backed snapshot store.
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New creates a store. ttl bounds how long a snapshot survives without fresh ticks;
// zero keeps snapshots forever.
func New(client redis.Cmdable, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Put overwrites the snapshot for update.Symbol.
func (s *RedisStore) Put(ctx context.Context, update models.StockUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encode %s: %w", update.Symbol, err)
	}
	if err := s.client.Set(ctx, Key(update.Symbol), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", update.Symbol, err)
	}
	return nil
}

// Get fetches the latest snapshot for symbol.
func (s *RedisStore) Get(ctx context.Context, symbol string) (models.StockUpdate, error) {
	raw, err := s.client.Get(ctx, Key(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.StockUpdate{}, fmt.Errorf("%s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return models.StockUpdate{}, fmt.Errorf("get %s: %w", symbol, err)
	}

	var update models.StockUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return models.StockUpdate{}, fmt.Errorf("%s: %w: %v", symbol, ErrMalformed, err)
	}
	if update.Symbol != symbol || update.Price <= 0 {
		return models.StockUpdate{}, fmt.Errorf("%s: %w: symbol=%q price=%v", symbol, ErrMalformed, update.Symbol, update.Price)
	}
	return update, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
