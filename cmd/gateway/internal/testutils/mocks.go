package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/price-broadcast/pkg/models"
)

// MockConn simulates a connected websocket client
type MockConn struct {
	IDVal    string
	Frames   [][]byte // raw frames in send order
	Closed   bool
	NotReady bool
	SendErr  error
	Mu       sync.Mutex

	// OnSend runs before the frame is recorded, outside the lock.
	OnSend func()
}

func NewMockConn(id string) *MockConn {
	return &MockConn{IDVal: id}
}

func (m *MockConn) ID() string { return m.IDVal }

func (m *MockConn) Ready() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return !m.Closed && !m.NotReady
}

func (m *MockConn) Send(frame []byte) error {
	if m.OnSend != nil {
		m.OnSend()
	}

	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Closed || m.NotReady {
		return registry.ErrNotReady
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	m.Frames = append(m.Frames, cp)
	return nil
}

func (m *MockConn) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockConn) IsClosed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Closed
}

// Decoded returns every frame decoded as Frame.
func (m *MockConn) Decoded() []Frame {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	out := make([]Frame, 0, len(m.Frames))
	for _, raw := range m.Frames {
		var f Frame
		if err := json.Unmarshal(raw, &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}

// FramesOfType returns decoded frames whose type matches.
func (m *MockConn) FramesOfType(typ string) []Frame {
	var out []Frame
	for _, f := range m.Decoded() {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

// LastFrame returns the most recent decoded frame, or a zero Frame.
func (m *MockConn) LastFrame() Frame {
	frames := m.Decoded()
	if len(frames) == 0 {
		return Frame{}
	}
	return frames[len(frames)-1]
}

func (m *MockConn) Reset() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Frames = nil
}

// Frame is a loose decoding of every outbound frame type.
type Frame struct {
	Type      string   `json:"type"`
	ID        string   `json:"id"`
	Action    string   `json:"action"`
	Symbols   []string `json:"symbols"`
	Symbol    string   `json:"symbol"`
	Price     float64  `json:"price"`
	Timestamp int64    `json:"timestamp"`
	Message   string   `json:"message"`
	Entries   []Frame  `json:"entries"`
}

// EntryMap flattens a batched frame into symbol -> entry.
func (f Frame) EntryMap() map[string]Frame {
	out := make(map[string]Frame, len(f.Entries))
	for _, e := range f.Entries {
		out[e.Symbol] = e
	}
	return out
}

// ErrUnknownSymbol is returned by MockResolver for symbols without a price.
var ErrUnknownSymbol = errors.New("unknown symbol")

// MockResolver simulates the quote source
type MockResolver struct {
	Prices map[string]float64
	Errors map[string]error
	// Delays per symbol; the resolver honours ctx while waiting.
	Delays map[string]time.Duration
	// Block, when set, is waited on before every lookup.
	Block chan struct{}
	// IgnoreContext makes delays ignore cancellation.
	IgnoreContext bool

	Mu    sync.Mutex
	Calls map[string]int
}

func NewMockResolver(prices map[string]float64) *MockResolver {
	return &MockResolver{
		Prices: prices,
		Errors: make(map[string]error),
		Delays: make(map[string]time.Duration),
		Calls:  make(map[string]int),
	}
}

func (m *MockResolver) Resolve(ctx context.Context, symbol string) (models.Quote, error) {
	m.Mu.Lock()
	m.Calls[symbol]++
	delay := m.Delays[symbol]
	block := m.Block
	err := m.Errors[symbol]
	price, ok := m.Prices[symbol]
	m.Mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return models.Quote{}, ctx.Err()
		}
	}

	if delay > 0 {
		if m.IgnoreContext {
			time.Sleep(delay)
		} else {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return models.Quote{}, ctx.Err()
			}
		}
	}

	if err != nil {
		return models.Quote{}, err
	}
	if !ok {
		return models.Quote{}, ErrUnknownSymbol
	}
	return models.Quote{Symbol: symbol, Price: price, Timestamp: time.Unix(1_700_000_000, 0)}, nil
}

func (m *MockResolver) CallCount(symbol string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Calls[symbol]
}

func (m *MockResolver) TotalCalls() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	total := 0
	for _, n := range m.Calls {
		total += n
	}
	return total
}
