package hub

import (
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/price-broadcast/pkg/models"
)

// Session is one accepted connection and its registry entry.
type Session struct {
	conn registry.Conn
	id   registry.SubscriberID
	once sync.Once
}

func (s *Session) ID() registry.SubscriberID { return s.id }
func (s *Session) Conn() registry.Conn        { return s.conn }

type Options struct {
	ValidTickers        []string // empty accepts any symbol
	MaxSymbolsPerClient int      // 0 = unlimited
}

// Hub applies client control messages to the registry.
type Hub struct {
	registry     *registry.Registry
	validTickers map[string]bool
	maxSymbols   int
	clock        clockwork.Clock
	logger       *zap.Logger

	mu       sync.Mutex
	sessions map[registry.Conn]*Session
}

func NewHub(reg *registry.Registry, opts Options, clock clockwork.Clock, logger *zap.Logger) *Hub {
	var valid map[string]bool
	if len(opts.ValidTickers) > 0 {
		valid = make(map[string]bool, len(opts.ValidTickers))
		for _, t := range opts.ValidTickers {
			valid[models.NormalizeSymbol(t)] = true
		}
	}
	return &Hub{
		registry:     reg,
		validTickers: valid,
		maxSymbols:   opts.MaxSymbolsPerClient,
		clock:        clock,
		logger:       logger.With(zap.String("component", "hub")),
		sessions:     make(map[registry.Conn]*Session),
	}
}

// Connect registers conn with an empty interest set. Connecting the same conn
// again returns its existing session.
func (h *Hub) Connect(conn registry.Conn) *Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[conn]; ok {
		return s
	}

	id, _ := h.registry.Register(conn)
	s := &Session{conn: conn, id: id}
	h.sessions[conn] = s
	metrics.OnOpen()
	metrics.Subscribers.Set(float64(h.registry.Len()))
	h.logger.Debug("Client connected", zap.String("conn_id", conn.ID()), zap.Uint64("subscriber_id", uint64(id)))
	return s
}

// Disconnect removes the session and closes its connection. Only the first
// call has any effect.
func (h *Hub) Disconnect(s *Session, reason string) {
	s.once.Do(func() {
		h.mu.Lock()
		if h.sessions[s.conn] == s {
			delete(h.sessions, s.conn)
		}
		h.mu.Unlock()

		h.registry.Remove(s.id)
		s.conn.Close()
		metrics.OnClose(reason)
		metrics.Subscribers.Set(float64(h.registry.Len()))
		h.logger.Debug("Client disconnected",
			zap.String("conn_id", s.conn.ID()),
			zap.Uint64("subscriber_id", uint64(s.id)),
			zap.String("reason", reason))
	})
}

// CloseAll closes every registered connection. Used on shutdown.
func (h *Hub) CloseAll() int {
	n := 0
	h.registry.ForEach(func(s registry.Subscriber) {
		if h.registry.Remove(s.ID) {
			s.Conn.Close()
			n++
		}
	})
	return n
}

// HandleMessage applies one inbound text frame. Bad input is answered with an
// error frame; it never closes the connection.
func (h *Hub) HandleMessage(s *Session, payload []byte) {
	req, err := protocol.DecodeRequest(payload)
	if err != nil {
		metrics.ControlMsgsTotal.WithLabelValues("invalid").Inc()
		h.sendError(s, "", err.Error())
		return
	}

	switch req.Type {
	case protocol.TypeSubscribe:
		h.handleSubscribe(s, req)
	case protocol.TypeUnsubscribe:
		h.handleUnsubscribe(s, req)
	case protocol.TypeUnsubscribeAll:
		h.handleUnsubscribeAll(s, req)
	case protocol.TypePing:
		h.send(s, protocol.NewPong(h.clock.Now()))
	case protocol.TypePong:
		// Heartbeat reply, nothing to do.
	default:
		metrics.ControlMsgsTotal.WithLabelValues("invalid").Inc()
		h.sendError(s, req.ID, "unknown message type: "+req.Type)
		return
	}
	metrics.ControlMsgsTotal.WithLabelValues(req.Type).Inc()
}

func (h *Hub) handleSubscribe(s *Session, req protocol.Request) {
	if len(req.Symbols) == 0 {
		h.sendError(s, req.ID, "symbols required")
		return
	}

	current := len(h.registry.Interests(s.id))
	var added []string
	valid, limited := 0, false
	for _, raw := range req.Symbols {
		sym := models.NormalizeSymbol(raw)
		if !h.isValid(sym) {
			continue
		}
		valid++
		if h.maxSymbols > 0 && current >= h.maxSymbols {
			limited = true
			continue
		}
		if h.registry.AddInterest(s.id, sym) {
			added = append(added, sym)
			current++
		}
	}

	if valid == 0 {
		h.sendError(s, req.ID, "no valid symbols provided")
		return
	}
	if limited && len(added) == 0 {
		h.sendError(s, req.ID, fmt.Sprintf("subscription limit of %d symbols reached", h.maxSymbols))
		return
	}
	h.send(s, protocol.NewAck(req.ID, protocol.TypeSubscribe, added))
}

func (h *Hub) handleUnsubscribe(s *Session, req protocol.Request) {
	if len(req.Symbols) == 0 {
		h.sendError(s, req.ID, "symbols required")
		return
	}

	var removed []string
	for _, raw := range req.Symbols {
		sym := models.NormalizeSymbol(raw)
		if h.registry.RemoveInterest(s.id, sym) {
			removed = append(removed, sym)
		}
	}
	h.send(s, protocol.NewAck(req.ID, protocol.TypeUnsubscribe, removed))
}

func (h *Hub) handleUnsubscribeAll(s *Session, req protocol.Request) {
	before := h.registry.Interests(s.id)
	h.registry.RemoveAll(s.id)
	h.send(s, protocol.NewAck(req.ID, protocol.TypeUnsubscribeAll, before))
}

func (h *Hub) isValid(sym string) bool {
	if sym == "" {
		return false
	}
	return h.validTickers == nil || h.validTickers[sym]
}

func (h *Hub) send(s *Session, v any) {
	b, err := protocol.Encode(v)
	if err != nil {
		h.logger.Error("Failed to encode reply", zap.Error(err))
		return
	}
	// A failed reply is left to the broadcast engine, which evicts on its next send.
	if err := s.conn.Send(b); err != nil {
		h.logger.Debug("Reply dropped", zap.String("conn_id", s.conn.ID()), zap.Error(err))
	}
}

func (h *Hub) sendError(s *Session, id, msg string) {
	h.send(s, protocol.NewError(id, msg))
}
