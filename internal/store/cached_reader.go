package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"fleet-monitor/asset-tracking/internal/domain"
	"fleet-monitor/asset-tracking/internal/logging"
	"fleet-monitor/asset-tracking/internal/metrics"
)

type LiveStateReader interface {
	LiveState(ctx context.Context, assetID string) (domain.LocationFix, error)
}

type FixReader interface {
	LatestFix(ctx context.Context, assetID string) (domain.LocationFix, error)
}

// DefaultStaleWindow matches the default live-state TTL.
const DefaultStaleWindow = 30 * time.Second

// CachedFixReader serves latest fixes from the live-state cache and falls
// back to the primary store on a cache miss or while the cache breaker is open.
// Assets marked stale read the primary store until their mark expires.
type CachedFixReader struct {
	cache   LiveStateReader
	primary FixReader
	cb      *gobreaker.CircuitBreaker[domain.LocationFix]

	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	stale map[string]time.Time
}

type CachedReaderOption func(*CachedFixReader)

// WithStaleWindow sets how long a MarkStale call keeps an asset off the cache.
// It should be at least the live-state TTL, after which the cached entry is
// either replaced by a newer write or gone.
func WithStaleWindow(d time.Duration) CachedReaderOption {
	return func(r *CachedFixReader) {
		if d > 0 {
			r.window = d
		}
	}
}

func NewCachedFixReader(cache LiveStateReader, primary FixReader, opts ...CachedReaderOption) *CachedFixReader {
	const name = "redis-live-state"
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker[domain.LocationFix](gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// a cache miss is a healthy answer
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNoLocation)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	r := &CachedFixReader{
		cache:   cache,
		primary: primary,
		cb:      cb,
		window:  DefaultStaleWindow,
		now:     time.Now,
		stale:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MarkStale records that a stored fix for assetID never reached the cache.
func (r *CachedFixReader) MarkStale(assetID string) {
	r.mu.Lock()
	r.stale[assetID] = r.now().Add(r.window)
	r.mu.Unlock()
	metrics.LiveStateBypasses.Inc()
}

func (r *CachedFixReader) isStale(assetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.stale[assetID]
	if !ok {
		return false
	}
	if !r.now().Before(until) {
		delete(r.stale, assetID)
		return false
	}
	return true
}

func (r *CachedFixReader) LatestFix(ctx context.Context, assetID string) (domain.LocationFix, error) {
	if r.isStale(assetID) {
		return r.primary.LatestFix(ctx, assetID)
	}
	fix, err := r.cb.Execute(func() (domain.LocationFix, error) {
		return r.cache.LiveState(ctx, assetID)
	})
	if err == nil {
		return fix, nil
	}
	if !errors.Is(err, domain.ErrNoLocation) {
		logging.Debug().Err(err).Str("asset_id", assetID).Msg("live state unavailable, reading primary store")
	}
	return r.primary.LatestFix(ctx, assetID)
}
