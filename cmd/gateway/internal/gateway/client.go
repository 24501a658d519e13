package gateway

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/registry"
)

const (
	maxMessageSize = 512 * 1024
)

type Options struct {
	SendBuffer        int
	WriteWait         time.Duration
	PongWait          time.Duration
	PingPeriod        time.Duration
	MessagesPerSecond float64 // <= 0 disables inbound rate limiting
	MessageBurst      int
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MessageBurst < 1 {
		o.MessageBurst = 1
	}
	return o
}

// Compile-time check to ensure ClientAdapter implements registry.Conn
var _ registry.Conn = (*ClientAdapter)(nil)

// ClientAdapter owns one websocket connection: a read pump feeding the hub and
// a write pump draining the outbound buffer.
//
// Bad control messages are answered with error frames and keep the connection
// open. Transport violations do not: a frame larger than 512 KiB or a
// fragmented frame closes the connection.
type ClientAdapter struct {
	id      string
	conn    net.Conn
	hub     *hub.Hub
	session *hub.Session
	logger  *zap.Logger
	opts    Options
	limiter *rate.Limiter

	wmu       sync.Mutex // readPump answers pings, writePump does the rest
	send      chan []byte
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewClient(conn net.Conn, h *hub.Hub, opts Options, logger *zap.Logger) *ClientAdapter {
	opts = opts.withDefaults()
	id := uuid.NewString()

	c := &ClientAdapter{
		id:     id,
		conn:   conn,
		hub:    h,
		opts:   opts,
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		logger: logger.With(zap.String("conn_id", id), zap.String("remote", conn.RemoteAddr().String())),
	}
	if opts.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MessagesPerSecond), opts.MessageBurst)
	}
	return c
}

// Start registers the client with the hub and launches both pumps.
func (c *ClientAdapter) Start() {
	c.session = c.hub.Connect(c)
	go c.writePump()
	go c.readPump()
}

func (c *ClientAdapter) ID() string { return c.id }

func (c *ClientAdapter) Ready() bool { return !c.closed.Load() }

// Send enqueues a frame. It never blocks: a full buffer is reported as
// ErrSlowConsumer so the caller can evict.
func (c *ClientAdapter) Send(frame []byte) error {
	if c.closed.Load() {
		return registry.ErrNotReady
	}
	select {
	case <-c.done:
		return registry.ErrNotReady
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return registry.ErrSlowConsumer
	}
}

// Close stops the write pump, which sends a close frame and drops the socket.
// Safe to call from any goroutine, any number of times.
func (c *ClientAdapter) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
	})
}

func (c *ClientAdapter) readPump() {
	reason := "client_closed"
	defer func() {
		c.hub.Disconnect(c.session, reason)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

	for {
		header, err := ws.ReadHeader(c.conn)
		if err != nil {
			reason = "read_error"
			return
		}

		if header.Length > int64(maxMessageSize) {
			c.logger.Warn("Msg too big", zap.Int64("size", header.Length))
			reason = "message_too_big"
			return
		}

		if !header.Fin {
			c.logger.Warn("Client sent fragmented message (not supported)")
			reason = "fragmented"
			return
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			reason = "read_error"
			return
		}

		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		// Any inbound frame proves the peer is alive.
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		switch header.OpCode {
		case ws.OpClose:
			return
		case ws.OpPing:
			c.writeFrame(ws.OpPong, payload)
		case ws.OpPong:
		case ws.OpText:
			if c.limiter != nil && !c.limiter.Allow() {
				metrics.ControlMsgsTotal.WithLabelValues("rate_limited").Inc()
				c.reply(protocol.NewError("", "rate limit exceeded"))
				continue
			}
			c.hub.HandleMessage(c.session, payload)
		default:
			c.reply(protocol.NewError("", "binary frames are not supported"))
		}
	}
}

func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.wmu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			c.conn.Write(ws.CompiledClose)
			c.wmu.Unlock()
			return

		case msg := <-c.send:
			if err := c.writeFrame(ws.OpText, msg); err != nil {
				c.logger.Debug("Write failed", zap.Error(err))
				c.Close()
				return
			}

		case <-ticker.C:
			if err := c.writeFrame(ws.OpPing, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *ClientAdapter) writeFrame(op ws.OpCode, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
	return wsutil.WriteServerMessage(c.conn, op, payload)
}

func (c *ClientAdapter) reply(v any) {
	b, err := protocol.Encode(v)
	if err != nil {
		return
	}
	_ = c.Send(b)
}
