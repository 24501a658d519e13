package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/protocol"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/quotes"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/registry"
)

var ErrAlreadyStarted = errors.New("engine already started")

type Config struct {
	Interval              time.Duration
	PingInterval          time.Duration
	ResolveTimeout        time.Duration
	MaxConcurrentResolves int // 0 = one goroutine per distinct symbol
	BatchUpdates          bool
}

func (c Config) validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("broadcast interval must be positive, got %s", c.Interval)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive, got %s", c.PingInterval)
	}
	if c.ResolveTimeout <= 0 {
		return fmt.Errorf("resolve timeout must be positive, got %s", c.ResolveTimeout)
	}
	return nil
}

// CycleStats summarizes one broadcast cycle.
type CycleStats struct {
	Skipped       bool // another cycle was still running
	Symbols       int
	ResolverCalls int
	Failures      int
	Delivered     int
	Evicted       int
	Duration      time.Duration
}

// Engine periodically resolves the union of all subscribers' interests and
// delivers each subscriber its own update. Cycles never overlap: a tick that
// fires while a cycle is still running is skipped.
type Engine struct {
	cfg      Config
	registry *registry.Registry
	resolver quotes.Resolver
	clock    clockwork.Clock
	logger   *zap.Logger

	inFlight atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	loopWg  sync.WaitGroup
	cycleWg sync.WaitGroup
}

func NewEngine(reg *registry.Registry, resolver quotes.Resolver, cfg Config, clock clockwork.Clock, logger *zap.Logger) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:      cfg,
		registry: reg,
		resolver: resolver,
		clock:    clock,
		logger:   logger.With(zap.String("component", "broadcast")),
	}, nil
}

// Start launches the broadcast and heartbeat loops. They run until Stop is
// called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.loopWg.Add(1)
	go e.run(ctx)

	e.logger.Info("Broadcast engine started",
		zap.Duration("interval", e.cfg.Interval),
		zap.Duration("ping_interval", e.cfg.PingInterval),
		zap.Duration("resolve_timeout", e.cfg.ResolveTimeout))
	return nil
}

// Stop cancels the loops and waits for a running cycle to finish or abandon.
// A stopped engine can be started again.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cancel == nil {
		return
	}
	e.cancel()
	e.loopWg.Wait()
	e.cycleWg.Wait()
	e.cancel = nil
	e.logger.Info("Broadcast engine stopped")
}

func (e *Engine) run(ctx context.Context) {
	defer e.loopWg.Done()

	cycleTicker := e.clock.NewTicker(e.cfg.Interval)
	defer cycleTicker.Stop()
	pingTicker := e.clock.NewTicker(e.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cycleTicker.Chan():
			e.trigger(ctx)
		case <-pingTicker.Chan():
			e.Heartbeat()
		}
	}
}

// trigger starts a cycle in the background unless one is already running.
func (e *Engine) trigger(ctx context.Context) bool {
	if !e.inFlight.CompareAndSwap(false, true) {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		e.logger.Warn("Previous cycle still running, skipping tick")
		return false
	}

	e.cycleWg.Add(1)
	go func() {
		defer e.cycleWg.Done()
		defer e.inFlight.Store(false)
		e.runCycle(ctx)
	}()
	return true
}

// RunCycle runs one cycle synchronously. It returns Skipped if a cycle is
// already in progress.
func (e *Engine) RunCycle(ctx context.Context) CycleStats {
	if !e.inFlight.CompareAndSwap(false, true) {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		return CycleStats{Skipped: true}
	}
	defer e.inFlight.Store(false)
	return e.runCycle(ctx)
}

func (e *Engine) runCycle(ctx context.Context) (stats CycleStats) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("Broadcast cycle panic recovered", zap.Any("panic", p))
		}
	}()

	start := e.clock.Now()
	defer func() {
		stats.Duration = e.clock.Since(start)
		metrics.CycleDuration.Observe(stats.Duration.Seconds())
	}()

	metrics.Subscribers.Set(float64(e.registry.Len()))

	symbols := e.registry.SnapshotInterests()
	stats.Symbols = len(symbols)
	metrics.SubscribedSymbols.Set(float64(len(symbols)))
	if len(symbols) == 0 {
		metrics.CyclesTotal.WithLabelValues("empty").Inc()
		return stats
	}

	cache := NewUpdateCache(e.resolver, e.cfg.ResolveTimeout)
	e.resolveAll(ctx, cache, symbols)
	stats.ResolverCalls = cache.Calls()
	for _, sym := range symbols {
		if r, ok := cache.Lookup(sym); ok && !r.OK() {
			stats.Failures++
			e.logger.Debug("Quote resolution failed", zap.String("symbol", sym), zap.Error(r.Err))
		}
	}

	if ctx.Err() != nil {
		metrics.CyclesTotal.WithLabelValues("abandoned").Inc()
		return stats
	}

	at := e.clock.Now()
	e.registry.ForEach(func(s registry.Subscriber) {
		if len(s.Interests) == 0 {
			return
		}
		// Removed after the snapshot was taken: receives nothing.
		if id, ok := e.registry.Lookup(s.Conn); !ok || id != s.ID {
			return
		}

		update := BuildUpdate(s, cache, at)
		if err := e.deliver(s, update); err != nil {
			e.evict(s, "deliver", err)
			stats.Evicted++
			metrics.DeliveriesTotal.WithLabelValues("failed").Inc()
			return
		}
		stats.Delivered++
		metrics.DeliveriesTotal.WithLabelValues("ok").Inc()
	})

	metrics.CyclesTotal.WithLabelValues("completed").Inc()
	e.logger.Debug("Broadcast cycle completed",
		zap.Int("symbols", stats.Symbols),
		zap.Int("resolver_calls", stats.ResolverCalls),
		zap.Int("failures", stats.Failures),
		zap.Int("delivered", stats.Delivered),
		zap.Int("evicted", stats.Evicted))
	return stats
}

func (e *Engine) resolveAll(ctx context.Context, cache *UpdateCache, symbols []string) {
	var g errgroup.Group
	if e.cfg.MaxConcurrentResolves > 0 {
		g.SetLimit(e.cfg.MaxConcurrentResolves)
	}
	for _, sym := range symbols {
		g.Go(func() error {
			cache.Resolve(ctx, sym)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) deliver(s registry.Subscriber, u OutboundUpdate) error {
	if !s.Conn.Ready() {
		return registry.ErrNotReady
	}
	frames, err := u.Frames(e.cfg.BatchUpdates)
	if err != nil {
		return fmt.Errorf("encode update: %w", err)
	}
	for _, f := range frames {
		if err := s.Conn.Send(f); err != nil {
			return err
		}
	}
	return nil
}

// Heartbeat sends a liveness frame to every subscriber and prunes those that
// cannot take it. Returns the number of frames sent.
func (e *Engine) Heartbeat() int {
	frame, err := protocol.Encode(protocol.NewPing(e.clock.Now()))
	if err != nil {
		e.logger.Error("Failed to encode ping", zap.Error(err))
		return 0
	}

	sent := 0
	e.registry.ForEach(func(s registry.Subscriber) {
		err := registry.ErrNotReady
		if s.Conn.Ready() {
			err = s.Conn.Send(frame)
		}
		if err != nil {
			metrics.PingsTotal.WithLabelValues("failed").Inc()
			e.evict(s, "ping", err)
			return
		}
		sent++
		metrics.PingsTotal.WithLabelValues("ok").Inc()
	})
	return sent
}

func (e *Engine) evict(s registry.Subscriber, phase string, cause error) {
	if !e.registry.Remove(s.ID) {
		return
	}
	s.Conn.Close()
	metrics.EvictionsTotal.WithLabelValues(phase).Inc()
	e.logger.Info("Subscriber evicted after failed send",
		zap.Uint64("subscriber_id", uint64(s.ID)),
		zap.String("conn_id", s.Conn.ID()),
		zap.String("phase", phase),
		zap.Error(cause))
}
