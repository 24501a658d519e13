package broadcast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/quotes"
	"github.com/shubham-shewale/price-broadcast/pkg/models"
)

var ErrResolveTimeout = errors.New("quote lookup timed out")

// Result is the outcome of resolving one symbol within a cycle.
type Result struct {
	Symbol string
	Quote  models.Quote
	Err    error
}

func (r Result) OK() bool { return r.Err == nil }

// UpdateCache deduplicates quote lookups inside a single broadcast cycle.
// Each symbol hits the resolver at most once; concurrent callers for the same
// symbol share the in-flight call. A cache must not outlive its cycle.
type UpdateCache struct {
	resolver quotes.Resolver
	timeout  time.Duration

	group   singleflight.Group
	mu      sync.RWMutex
	results map[string]Result
	calls   atomic.Int64
}

// NewUpdateCache creates an empty cache. Every resolver call is bounded by timeout.
func NewUpdateCache(resolver quotes.Resolver, timeout time.Duration) *UpdateCache {
	return &UpdateCache{
		resolver: resolver,
		timeout:  timeout,
		results:  make(map[string]Result),
	}
}

// Resolve returns the cycle's outcome for symbol, calling the resolver only if
// no outcome has been recorded yet. Failures are recorded too and never retried.
func (c *UpdateCache) Resolve(ctx context.Context, symbol string) Result {
	if r, ok := c.Lookup(symbol); ok {
		return r
	}

	v, _, _ := c.group.Do(symbol, func() (any, error) {
		// A flight for this symbol may have completed between Lookup and Do.
		if r, ok := c.Lookup(symbol); ok {
			return r, nil
		}

		r := c.fetch(ctx, symbol)

		c.mu.Lock()
		c.results[symbol] = r
		c.mu.Unlock()
		return r, nil
	})
	return v.(Result)
}

// Lookup returns a recorded outcome without resolving.
func (c *UpdateCache) Lookup(symbol string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[symbol]
	return r, ok
}

// Len returns the number of recorded outcomes.
func (c *UpdateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}

// Calls returns how many resolver calls this cache issued.
func (c *UpdateCache) Calls() int {
	return int(c.calls.Load())
}

// fetch runs one bounded resolver call. The resolver runs in its own goroutine
// so a resolver that ignores ctx still cannot stall the cycle past the timeout.
func (c *UpdateCache) fetch(ctx context.Context, symbol string) Result {
	c.calls.Add(1)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- Result{Symbol: symbol, Err: fmt.Errorf("resolver panic: %v", p)}
			}
		}()
		q, err := c.resolver.Resolve(ctx, symbol)
		done <- Result{Symbol: symbol, Quote: q, Err: err}
	}()

	var r Result
	select {
	case r = <-done:
	case <-ctx.Done():
		r = Result{Symbol: symbol, Err: ctx.Err()}
	}

	if errors.Is(r.Err, context.DeadlineExceeded) {
		r.Err = fmt.Errorf("%w after %s", ErrResolveTimeout, c.timeout)
	}
	if r.Err == nil && !validPrice(r.Quote.Price) {
		r = Result{Symbol: symbol, Err: fmt.Errorf("%w for %s", quotes.ErrMalformedQuote, symbol)}
	}

	switch {
	case r.Err == nil:
		metrics.ObserveResolve(time.Since(start), "ok")
	case errors.Is(r.Err, ErrResolveTimeout):
		metrics.ObserveResolve(time.Since(start), "timeout")
	default:
		metrics.ObserveResolve(time.Since(start), "error")
	}
	return r
}

// validPrice rejects prices that cannot be encoded or shown to a client.
func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}
