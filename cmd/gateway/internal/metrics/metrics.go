package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	Conns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ws_conns",
		Help: "Active websocket connections",
	})
	ConnOpenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ws_conn_open_total",
		Help: "Total websocket connections opened",
	})
	ConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_conn_close_total",
		Help: "Total websocket connections closed, partitioned by reason",
	}, []string{"reason"})
	ConnRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_conn_rejected_total",
		Help: "Websocket upgrades rejected before registration",
	}, []string{"reason"})

	ControlMsgsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ws_control_messages_total",
		Help: "Inbound control messages by type",
	}, []string{"type"}) // subscribe/unsubscribe/unsubscribe_all/ping/pong/invalid/rate_limited

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broadcast_subscribers",
		Help: "Registered subscribers",
	})
	SubscribedSymbols = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broadcast_subscribed_symbols",
		Help: "Distinct symbols in the last cycle snapshot",
	})
)

// Broadcast cycle metrics
var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_cycles_total",
		Help: "Broadcast cycles by outcome",
	}, []string{"outcome"}) // completed/empty/skipped

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "broadcast_cycle_duration_seconds",
		Help:    "Duration of a full snapshot/resolve/deliver cycle",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms -> ~8s
	})

	ResolvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quote_resolves_total",
		Help: "Quote resolver calls by result",
	}, []string{"result"}) // ok/error/timeout

	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quote_resolve_duration_seconds",
		Help:    "Latency of a single quote resolver call",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_deliveries_total",
		Help: "Outbound updates by result",
	}, []string{"result"}) // ok/failed

	PingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_pings_total",
		Help: "Liveness frames by result",
	}, []string{"result"})

	EvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "broadcast_evictions_total",
		Help: "Subscribers removed after a failed send",
	}, []string{"phase"}) // deliver/ping

	// BreakerState is 0=closed, 1=half-open, 2=open.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quote_breaker_state",
		Help: "Quote source circuit breaker state (0=closed, 1=half-open, 2=open)",
	}, []string{"name"})
)

func OnOpen() {
	Conns.Inc()
	ConnOpenTotal.Inc()
}

func OnClose(reason string) {
	Conns.Dec()
	ConnCloseTotal.WithLabelValues(reason).Inc()
}

func ObserveResolve(dur time.Duration, result string) {
	ResolvesTotal.WithLabelValues(result).Inc()
	ResolveDuration.Observe(dur.Seconds())
}

func SetBreakerState(name string, state int) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}
