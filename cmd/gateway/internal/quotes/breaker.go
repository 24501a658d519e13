package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/shubham-shewale/price-broadcast/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/price-broadcast/pkg/models"
)

type BreakerConfig struct {
	Name        string
	MaxFailures uint32        // consecutive source failures before opening
	OpenTimeout time.Duration // time spent open before a half-open probe
}

// BreakerResolver stops hammering a failing quote source. Symbol-level errors
// (missing, stale, malformed) do not count against the source.
type BreakerResolver struct {
	next Resolver
	cb   *gobreaker.CircuitBreaker[models.Quote]
}

func NewBreakerResolver(next Resolver, cfg BreakerConfig, logger *zap.Logger) *BreakerResolver {
	if cfg.Name == "" {
		cfg.Name = "quote-source"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}

	metrics.SetBreakerState(cfg.Name, int(gobreaker.StateClosed))

	st := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsSymbolError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Quote source breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			metrics.SetBreakerState(name, int(to))
		},
	}

	return &BreakerResolver{next: next, cb: gobreaker.NewCircuitBreaker[models.Quote](st)}
}

func (b *BreakerResolver) Resolve(ctx context.Context, symbol string) (models.Quote, error) {
	q, err := b.cb.Execute(func() (models.Quote, error) {
		return b.next.Resolve(ctx, symbol)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return models.Quote{}, fmt.Errorf("quote source unavailable: %w", err)
	}
	return q, err
}

// State exposes the breaker state for health reporting.
func (b *BreakerResolver) State() gobreaker.State {
	return b.cb.State()
}
