package tests

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-broadcast/cmd/generator/internal/generator"
	"github.com/shubham-shewale/price-broadcast/cmd/generator/internal/testutils"
	"github.com/shubham-shewale/price-broadcast/pkg/config"
	"github.com/shubham-shewale/price-broadcast/pkg/models"
)

func TestGenerator_ComponentWiring(t *testing.T) {
	// Defaults as the service loads them: lower-cased base price keys.
	var cfg config.GeneratorConfig
	cfg.Tickers = []string{"MSFT", "GOOG"}
	cfg.BasePrices = map[string]float64{"msft": 300.0, "goog": 2000.0}

	mockWriter := &testutils.MockKafkaWriter{}
	mockClock := &testutils.MockClock{CurrentTime: time.Now()}
	mockRand := &testutils.MockRand{ValInt: 0, ValFloat: 0.9}

	gen := generator.NewStockGenerator(zap.NewNop(), mockWriter, cfg.Tickers, cfg.BasePrices, mockRand, mockClock, 100*time.Millisecond)

	// Since MockClock.Sleep just advances time, the loop runs as fast as CPU allows
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond) // Let it generate a few
		cancel()
	}()

	gen.Run(ctx)

	sent := mockWriter.Sent()
	require.NotEmpty(t, sent, "Generator failed to produce any messages in component test")

	// MockRand returns 0 -> Index 0 -> MSFT, and 0.9 moves the price up every tick.
	prev := 300.0
	for i, msg := range sent {
		require.Equal(t, "MSFT", string(msg.Key))

		var u models.StockUpdate
		require.NoError(t, json.Unmarshal(msg.Value, &u))
		assert.Equal(t, int64(i+1), u.SeqID)
		assert.Greater(t, u.Price, prev)
		prev = u.Price
	}
}

func TestGenerator_WriteFailureKeepsRunning(t *testing.T) {
	mockWriter := &testutils.MockKafkaWriter{ShouldFail: true}
	gen := generator.NewStockGenerator(zap.NewNop(), mockWriter, []string{"AAPL"}, nil,
		&testutils.MockRand{}, &testutils.MockClock{}, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	gen.Run(ctx)
	assert.Empty(t, mockWriter.Sent())
}
