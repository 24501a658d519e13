package generator_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-broadcast/cmd/generator/internal/generator"
	"github.com/shubham-shewale/price-broadcast/cmd/generator/internal/testutils"
	"github.com/shubham-shewale/price-broadcast/pkg/models"
)

func TestGenerator_Logic(t *testing.T) {
	mockWriter := &testutils.MockKafkaWriter{}

	// Fix Randomness: Always pick Index 0 (AAPL), 0.5 means no price move
	mockRand := &testutils.MockRand{ValInt: 0, ValFloat: 0.5}

	// Fix Time: Start at Epoch
	mockClock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}

	gen := generator.NewStockGenerator(zap.NewNop(), mockWriter,
		[]string{"AAPL"}, map[string]float64{"AAPL": 100.0}, mockRand, mockClock, 100*time.Millisecond)

	// Since MockClock.Sleep advances time instantly, cancel quickly
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	gen.Run(ctx)

	sent := mockWriter.Sent()
	require.NotEmpty(t, sent, "Expected messages to be generated")

	var update models.StockUpdate
	require.NoError(t, json.Unmarshal(sent[0].Value, &update), "Generated invalid JSON")

	assert.Equal(t, "AAPL", update.Symbol)
	assert.Equal(t, int64(1), update.SeqID)
	assert.Equal(t, 100.0, update.Price)
	assert.Equal(t, int64(0), update.Timestamp)

	if len(sent) > 1 {
		var second models.StockUpdate
		require.NoError(t, json.Unmarshal(sent[1].Value, &second))
		assert.Equal(t, int64(2), second.SeqID)
		assert.Equal(t, (100 * time.Millisecond).Microseconds(), second.Timestamp)
	}
}

func TestGenerator_RandomWalk(t *testing.T) {
	mockRand := &testutils.MockRand{ValInt: 0, ValFloat: 1.0}
	gen := generator.NewStockGenerator(zap.NewNop(), &testutils.MockKafkaWriter{},
		[]string{"msft"}, map[string]float64{"msft": 300.0}, mockRand, &testutils.MockClock{}, time.Millisecond)

	// +0.5% per tick, rounded to cents.
	first := gen.Next()
	assert.Equal(t, "MSFT", first.Symbol)
	assert.Equal(t, 301.5, first.Price)

	second := gen.Next()
	assert.Equal(t, 303.01, second.Price)
	assert.Equal(t, int64(2), second.SeqID)

	mockRand.ValFloat = 0.0
	third := gen.Next()
	assert.Equal(t, 301.49, third.Price)
}

func TestGenerator_PriceFloor(t *testing.T) {
	mockRand := &testutils.MockRand{ValInt: 0, ValFloat: 0.0}
	gen := generator.NewStockGenerator(zap.NewNop(), &testutils.MockKafkaWriter{},
		[]string{"PENNY"}, map[string]float64{"PENNY": 0.01}, mockRand, &testutils.MockClock{}, time.Millisecond)

	for i := 0; i < 5; i++ {
		assert.Equal(t, 0.01, gen.Next().Price)
	}
}

func TestGenerator_DefaultsAndDedup(t *testing.T) {
	mockRand := &testutils.MockRand{ValInt: 1, ValFloat: 0.5}
	gen := generator.NewStockGenerator(zap.NewNop(), &testutils.MockKafkaWriter{},
		[]string{"AAPL", "aapl", " ", "NEWCO"}, map[string]float64{"AAPL": 150}, mockRand, &testutils.MockClock{}, 0)

	// Index 1 is NEWCO after dedup; it has no base price.
	u := gen.Next()
	assert.Equal(t, "NEWCO", u.Symbol)
	assert.Equal(t, 100.0, u.Price)
}

func TestTopicCreator_Flow(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{} // Will auto-create ConnSpy
	tc := generator.NewTopicCreator(zap.NewNop(), mockDialer, &testutils.MockClock{})

	require.NoError(t, tc.Create(context.Background(), []string{"broker:9092"}, "my-topic", 4))

	require.NotNil(t, mockDialer.ConnSpy, "Dialer was never called")
	require.NotEmpty(t, mockDialer.ConnSpy.CreatedTopics, "No topics created")
	assert.Equal(t, "my-topic", mockDialer.ConnSpy.CreatedTopics[0])
	assert.Equal(t, []string{"broker:9092", "localhost:9092"}, mockDialer.Dialed)
}

func TestTopicCreator_FallsBackToNextBroker(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{Unreachable: map[string]bool{"down:9092": true}}
	tc := generator.NewTopicCreator(zap.NewNop(), mockDialer, &testutils.MockClock{})

	require.NoError(t, tc.Create(context.Background(), []string{"down:9092", "up:9092"}, "ticks", 1))
	assert.Equal(t, "up:9092", mockDialer.Dialed[1])
}

func TestTopicCreator_AlreadyExists(t *testing.T) {
	mockDialer := &testutils.MockKafkaDialer{ConnSpy: &testutils.MockKafkaConn{CreateErr: kafka.TopicAlreadyExists}}
	tc := generator.NewTopicCreator(zap.NewNop(), mockDialer, &testutils.MockClock{})

	assert.NoError(t, tc.Create(context.Background(), []string{"broker:9092"}, "ticks", 1))
}

func TestTopicCreator_Errors(t *testing.T) {
	t.Run("no reachable broker", func(t *testing.T) {
		mockDialer := &testutils.MockKafkaDialer{Unreachable: map[string]bool{"a:9092": true}}
		tc := generator.NewTopicCreator(zap.NewNop(), mockDialer, &testutils.MockClock{})
		assert.ErrorContains(t, tc.Create(context.Background(), []string{"a:9092"}, "ticks", 1), "connection refused")
	})

	t.Run("topic never ready", func(t *testing.T) {
		conn := &testutils.MockKafkaConn{NotReadyReads: 100}
		clock := &testutils.MockClock{CurrentTime: time.Unix(0, 0)}
		tc := generator.NewTopicCreator(zap.NewNop(), &testutils.MockKafkaDialer{ConnSpy: conn}, clock)

		err := tc.Create(context.Background(), []string{"broker:9092"}, "ticks", 1)
		assert.ErrorIs(t, err, generator.ErrTopicNotReady)
		assert.Equal(t, 5, conn.Reads)
		assert.Equal(t, time.Unix(1, 0), clock.Now())
	})

	t.Run("ready after retries", func(t *testing.T) {
		conn := &testutils.MockKafkaConn{NotReadyReads: 2}
		tc := generator.NewTopicCreator(zap.NewNop(), &testutils.MockKafkaDialer{ConnSpy: conn}, &testutils.MockClock{})

		assert.NoError(t, tc.Create(context.Background(), []string{"broker:9092"}, "ticks", 1))
		assert.Equal(t, 3, conn.Reads)
	})
}
