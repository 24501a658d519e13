package testutils

import (
	"context"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/shubham-shewale/price-broadcast/pkg/models"
)

type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	// Closed simulates a closed connection or end of stream
	Closed bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if m.Closed {
		return kafka.Message{}, io.EOF
	}

	if m.Index >= len(m.Messages) {
		// Returning DeadlineExceeded is a clean way to stop the processor loop in tests
		return kafka.Message{}, context.DeadlineExceeded
	}

	msg := m.Messages[m.Index]
	m.Index++
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

// MockSnapshotWriter records every stored tick.
type MockSnapshotWriter struct {
	Mu      sync.Mutex
	Updates []models.StockUpdate
	Err     error
}

func (m *MockSnapshotWriter) Put(ctx context.Context, update models.StockUpdate) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Updates = append(m.Updates, update)
	return nil
}

func (m *MockSnapshotWriter) Stored() []models.StockUpdate {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return append([]models.StockUpdate(nil), m.Updates...)
}
