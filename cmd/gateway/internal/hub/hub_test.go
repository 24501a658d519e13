package hub_test

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/testutils"
)

func setup(opts hub.Options) (*hub.Hub, *registry.Registry) {
	reg := registry.New(zap.NewNop())
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	return hub.NewHub(reg, opts, clock, zap.NewNop()), reg
}

var validTickers = []string{"AAPL", "TSLA", "GOOG"}

func TestHub_Connect(t *testing.T) {
	h, reg := setup(hub.Options{})
	client := testutils.NewMockConn("c1")

	s := h.Connect(client)
	assert.Equal(t, 1, reg.Len())
	assert.Empty(t, reg.Interests(s.ID()))

	again := h.Connect(client)
	assert.Same(t, s, again)
	assert.Equal(t, 1, reg.Len())
}

func TestHub_Connect_DuplicateKeepsGaugeBalanced(t *testing.T) {
	h, reg := setup(hub.Options{})
	client := testutils.NewMockConn("c1")
	before := promtest.ToFloat64(metrics.Conns)

	first := h.Connect(client)
	second := h.Connect(client)
	assert.Equal(t, before+1, promtest.ToFloat64(metrics.Conns))

	h.Disconnect(second, "read_error")
	h.Disconnect(first, "read_error")

	assert.Equal(t, before, promtest.ToFloat64(metrics.Conns))
	assert.Equal(t, 0, reg.Len())
	assert.True(t, client.IsClosed())

	// A fresh connect after disconnect is a new session.
	third := h.Connect(client)
	assert.NotSame(t, first, third)
	h.Disconnect(third, "shutdown")
	assert.Equal(t, before, promtest.ToFloat64(metrics.Conns))
}

func TestHub_Subscribe_Success(t *testing.T) {
	h, reg := setup(hub.Options{ValidTickers: validTickers})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	h.HandleMessage(s, []byte(`{"type":"subscribe","symbols":[" aapl "],"id":"req-1"}`))

	ack := client.LastFrame()
	assert.Equal(t, protocol.TypeAck, ack.Type)
	assert.Equal(t, "req-1", ack.ID)
	assert.Equal(t, protocol.TypeSubscribe, ack.Action)
	assert.Equal(t, []string{"AAPL"}, ack.Symbols)
	assert.Equal(t, []string{"AAPL"}, reg.Interests(s.ID()))
}

func TestHub_Subscribe_MixedValidity(t *testing.T) {
	h, reg := setup(hub.Options{ValidTickers: validTickers})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	h.HandleMessage(s, []byte(`{"type":"subscribe","symbols":["AAPL","INVALID_STOCK"],"id":"req-2"}`))

	ack := client.LastFrame()
	assert.Equal(t, protocol.TypeAck, ack.Type)
	assert.Equal(t, []string{"AAPL"}, ack.Symbols)
	assert.Equal(t, []string{"AAPL"}, reg.Interests(s.ID()))
}

func TestHub_Subscribe_NoValidSymbols(t *testing.T) {
	h, reg := setup(hub.Options{ValidTickers: validTickers})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	h.HandleMessage(s, []byte(`{"type":"subscribe","symbols":["NOPE"],"id":"bad"}`))

	errFrame := client.LastFrame()
	assert.Equal(t, protocol.TypeError, errFrame.Type)
	assert.Equal(t, "bad", errFrame.ID)
	assert.Empty(t, reg.Interests(s.ID()))
	assert.False(t, client.IsClosed())
}

func TestHub_Subscribe_AnySymbolWithoutAllowList(t *testing.T) {
	h, reg := setup(hub.Options{})
	s := h.Connect(testutils.NewMockConn("c1"))

	h.HandleMessage(s, []byte(`{"type":"subscribe","symbols":["zzz","AAPL"]}`))
	assert.Equal(t, []string{"AAPL", "ZZZ"}, reg.Interests(s.ID()))
}

func TestHub_Subscribe_Idempotency(t *testing.T) {
	h, reg := setup(hub.Options{ValidTickers: validTickers})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	msg := []byte(`{"type":"subscribe","symbols":["AAPL"]}`)
	h.HandleMessage(s, msg)
	h.HandleMessage(s, msg)

	assert.Equal(t, []string{"AAPL"}, reg.Interests(s.ID()))
	ack := client.LastFrame()
	assert.Equal(t, protocol.TypeAck, ack.Type)
	assert.Empty(t, ack.Symbols)
}

func TestHub_Subscribe_Limit(t *testing.T) {
	h, reg := setup(hub.Options{MaxSymbolsPerClient: 2})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	h.HandleMessage(s, []byte(`{"type":"subscribe","symbols":["AAPL","MSFT","TSLA"]}`))
	assert.Equal(t, []string{"AAPL", "MSFT"}, client.LastFrame().Symbols)

	h.HandleMessage(s, []byte(`{"type":"subscribe","symbols":["GOOG"]}`))
	assert.Equal(t, protocol.TypeError, client.LastFrame().Type)
	assert.Contains(t, client.LastFrame().Message, "limit of 2")
	assert.Len(t, reg.Interests(s.ID()), 2)
}

func TestHub_Unsubscribe_Logic(t *testing.T) {
	h, reg := setup(hub.Options{ValidTickers: validTickers})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	h.HandleMessage(s, []byte(`{"type":"subscribe","symbols":["AAPL","TSLA"]}`))
	h.HandleMessage(s, []byte(`{"type":"unsubscribe","symbols":["aapl"],"id":"u1"}`))

	ack := client.LastFrame()
	assert.Equal(t, protocol.TypeUnsubscribe, ack.Action)
	assert.Equal(t, []string{"AAPL"}, ack.Symbols)
	assert.Equal(t, []string{"TSLA"}, reg.Interests(s.ID()))
}

func TestHub_Unsubscribe_NotSubscribed(t *testing.T) {
	h, _ := setup(hub.Options{ValidTickers: validTickers})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	h.HandleMessage(s, []byte(`{"type":"unsubscribe","symbols":["GOOG"],"id":"noop"}`))

	ack := client.LastFrame()
	assert.Equal(t, protocol.TypeAck, ack.Type)
	assert.Equal(t, "noop", ack.ID)
	assert.Empty(t, ack.Symbols)
}

func TestHub_UnsubscribeAll(t *testing.T) {
	h, reg := setup(hub.Options{ValidTickers: validTickers})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	h.HandleMessage(s, []byte(`{"type":"subscribe","symbols":["AAPL","TSLA"]}`))
	h.HandleMessage(s, []byte(`{"type":"unsubscribe_all"}`))

	assert.Empty(t, reg.Interests(s.ID()))
	assert.Equal(t, 1, reg.Len())
	assert.ElementsMatch(t, []string{"AAPL", "TSLA"}, client.LastFrame().Symbols)
}

func TestHub_MissingSymbols(t *testing.T) {
	h, _ := setup(hub.Options{})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	h.HandleMessage(s, []byte(`{"type":"subscribe"}`))
	assert.Equal(t, protocol.TypeError, client.LastFrame().Type)

	h.HandleMessage(s, []byte(`{"type":"unsubscribe","symbols":[]}`))
	assert.Equal(t, protocol.TypeError, client.LastFrame().Type)
}

func TestHub_PingPong(t *testing.T) {
	h, _ := setup(hub.Options{})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	h.HandleMessage(s, []byte(`{"type":"ping"}`))
	pong := client.LastFrame()
	assert.Equal(t, protocol.TypePong, pong.Type)
	assert.Equal(t, int64(1_700_000_000_000), pong.Timestamp)

	client.Reset()
	h.HandleMessage(s, []byte(`{"type":"pong"}`))
	assert.Empty(t, client.Decoded())
}

func TestHub_InvalidInputKeepsConnectionOpen(t *testing.T) {
	h, reg := setup(hub.Options{})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	for _, payload := range []string{
		`{ "type": "subsc`,
		`not json at all`,
		`{"symbols":["AAPL"]}`,
		`{"type":"teleport","id":"x"}`,
		``,
	} {
		client.Reset()
		h.HandleMessage(s, []byte(payload))
		assert.Equal(t, protocol.TypeError, client.LastFrame().Type, "payload %q", payload)
	}

	assert.False(t, client.IsClosed())
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, "unknown message type: teleport", func() string {
		h.HandleMessage(s, []byte(`{"type":"teleport"}`))
		return client.LastFrame().Message
	}())
}

func TestHub_Disconnect_ExactlyOnce(t *testing.T) {
	h, reg := setup(hub.Options{})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)
	h.HandleMessage(s, []byte(`{"type":"subscribe","symbols":["AAPL"]}`))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Disconnect(s, "read_error")
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len())
	assert.True(t, client.IsClosed())
	assert.Empty(t, reg.SnapshotInterests())
}

func TestHub_CloseAll(t *testing.T) {
	h, reg := setup(hub.Options{})
	a, b := testutils.NewMockConn("a"), testutils.NewMockConn("b")
	h.Connect(a)
	h.Connect(b)

	require.Equal(t, 2, h.CloseAll())
	assert.Equal(t, 0, reg.Len())
	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())
}

func TestHub_RaceCondition(t *testing.T) {
	// Run with `go test -race ./...`
	h, _ := setup(hub.Options{})
	client := testutils.NewMockConn("c1")
	s := h.Connect(client)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		h.HandleMessage(s, []byte(`{"type":"subscribe","symbols":["AAPL"]}`))
	}()
	go func() {
		defer wg.Done()
		h.HandleMessage(s, []byte(`{"type":"unsubscribe","symbols":["AAPL"]}`))
	}()
	go func() {
		defer wg.Done()
		h.Disconnect(s, "test")
	}()
	wg.Wait()
}
