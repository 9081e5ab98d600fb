package catalog

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	logx "listingbot/pkg/logx"
)

// BreakerConfig configures the circuit breaker guarding catalog reads.
type BreakerConfig struct {
	MaxRequests      uint32        // allowed in half-open state
	Interval         time.Duration // closed-state count reset period
	Timeout          time.Duration // open-state duration before half-open
	FailureThreshold float64       // failure ratio to trip
	MinRequests      uint32        // requests before the ratio is considered
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         10 * time.Minute,
		Timeout:          5 * time.Minute,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// breakerBrowser fails fast with gobreaker.ErrOpenState while the catalog is
// consistently failing. Listing and detail reads trip separate breakers so a
// few broken detail pages do not block listing.
type breakerBrowser struct {
	next   Browser
	list   *gobreaker.CircuitBreaker
	detail *gobreaker.CircuitBreaker
}

// WithBreaker wraps b with circuit breakers.
func WithBreaker(b Browser, cfg BreakerConfig, log logx.Logger) Browser {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &breakerBrowser{
		next:   b,
		list:   newBreaker("catalog-list", cfg, log),
		detail: newBreaker("catalog-detail", cfg, log),
	}
}

func newBreaker(name string, cfg BreakerConfig, log logx.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				logx.String("circuit", name),
				logx.String("from", from.String()),
				logx.String("to", to.String()))
		},
	})
}

func (b *breakerBrowser) ListObjects(ctx context.Context, s Session, c Category) ([]Link, error) {
	v, err := b.list.Execute(func() (interface{}, error) {
		return b.next.ListObjects(ctx, s, c)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Link), nil
}

func (b *breakerBrowser) FetchDetail(ctx context.Context, s Session, l Link) (Record, error) {
	v, err := b.detail.Execute(func() (interface{}, error) {
		return b.next.FetchDetail(ctx, s, l)
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}
