package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/hub"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/metrics"
)

// Handler upgrades HTTP requests to websocket clients.
type Handler struct {
	hub     *hub.Hub
	opts    Options
	limiter RateLimiter
	logger  *zap.Logger
}

// NewHandler creates the /ws handler. limiter may be nil.
func NewHandler(h *hub.Hub, opts Options, limiter RateLimiter, logger *zap.Logger) *Handler {
	return &Handler{hub: h, opts: opts, limiter: limiter, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if h.limiter != nil && !h.limiter.Allow(ip) {
		metrics.ConnRejectedTotal.WithLabelValues("rate_limit").Inc()
		h.logger.Debug("Connection rate limited", zap.String("ip", ip))
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		metrics.ConnRejectedTotal.WithLabelValues("upgrade_failed").Inc()
		h.logger.Debug("Websocket upgrade failed", zap.String("ip", ip), zap.Error(err))
		return
	}

	NewClient(conn, h.hub, h.opts, h.logger).Start()
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports 200 when the quote store answers, 503 otherwise.
func HealthHandler(store Pinger, subscribers func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := store.Ping(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      status,
			"subscribers": subscribers(),
		})
	}
}
