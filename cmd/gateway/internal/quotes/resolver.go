// Package quotes turns a ticker symbol into a current price.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/shubham-shewale/price-broadcast/pkg/models"
	"github.com/shubham-shewale/price-broadcast/pkg/quotestore"
)

var (
	ErrNoQuote        = errors.New("no quote available")
	ErrStaleQuote     = errors.New("stale quote")
	ErrMalformedQuote = errors.New("malformed quote")
)

// Resolver fetches the current price of one symbol. Implementations may be slow
// or fail; callers bound every call with ctx.
type Resolver interface {
	Resolve(ctx context.Context, symbol string) (models.Quote, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, symbol string) (models.Quote, error)

func (f ResolverFunc) Resolve(ctx context.Context, symbol string) (models.Quote, error) {
	return f(ctx, symbol)
}

// SnapshotReader is the read side of the quote store.
type SnapshotReader interface {
	Get(ctx context.Context, symbol string) (models.StockUpdate, error)
}

// Compile-time check to ensure StoreResolver implements Resolver
var _ Resolver = (*StoreResolver)(nil)

// StoreResolver reads the latest tick written by the processor.
type StoreResolver struct {
	store  SnapshotReader
	maxAge time.Duration
	clock  clockwork.Clock
}

// NewStoreResolver creates a resolver over store. Ticks older than maxAge are
// rejected as stale; maxAge <= 0 disables the check.
func NewStoreResolver(store SnapshotReader, maxAge time.Duration, clock clockwork.Clock) *StoreResolver {
	return &StoreResolver{store: store, maxAge: maxAge, clock: clock}
}

func (r *StoreResolver) Resolve(ctx context.Context, symbol string) (models.Quote, error) {
	update, err := r.store.Get(ctx, symbol)
	switch {
	case errors.Is(err, quotestore.ErrNotFound):
		return models.Quote{}, fmt.Errorf("%w for %s", ErrNoQuote, symbol)
	case errors.Is(err, quotestore.ErrMalformed):
		return models.Quote{}, fmt.Errorf("%w for %s", ErrMalformedQuote, symbol)
	case err != nil:
		return models.Quote{}, err
	}

	quote := models.QuoteFromUpdate(update)
	if r.maxAge > 0 {
		if age := r.clock.Since(quote.Timestamp); age > r.maxAge {
			return models.Quote{}, fmt.Errorf("%w for %s: last tick %s ago", ErrStaleQuote, symbol, age.Truncate(time.Second))
		}
	}
	return quote, nil
}

// IsSymbolError reports whether err describes the symbol's data rather than
// the health of the quote source.
func IsSymbolError(err error) bool {
	return errors.Is(err, ErrNoQuote) || errors.Is(err, ErrStaleQuote) || errors.Is(err, ErrMalformedQuote)
}
