// rate.go caches the BTC/USDT reference rate used for cross-pair conversion.
//
// The cache is refreshed on a 300 s timer and on demand when no rate is
// present. When a refresh fails the previous rate is kept and reused with a
// warning; conversion NEVER falls back to a hardcoded estimate — a missing
// rate means the affected trades are dropped upstream.
package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"xbt-alerts/internal/metrics"
)

// RefreshInterval is how often the reference rate is re-fetched.
const RefreshInterval = 300 * time.Second

// RateCache holds the last known reference rate and its fetch time.
type RateCache struct {
	client *Client
	logger *slog.Logger

	mu        sync.RWMutex
	rate      decimal.Decimal
	fetchedAt time.Time
}

// NewRateCache creates an empty cache backed by the given venue client.
func NewRateCache(client *Client, logger *slog.Logger) *RateCache {
	return &RateCache{
		client: client,
		logger: logger.With("component", "rate_cache"),
	}
}

// Get returns the cached rate; ok is false when no rate has ever been fetched.
func (rc *RateCache) Get() (decimal.Decimal, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.rate, !rc.fetchedAt.IsZero()
}

// Age returns how long ago the rate was fetched, or false if never.
func (rc *RateCache) Age() (time.Duration, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.fetchedAt.IsZero() {
		return 0, false
	}
	return time.Since(rc.fetchedAt), true
}

// Refresh fetches a fresh rate. On failure the previous value stays in place.
func (rc *RateCache) Refresh(ctx context.Context) error {
	rate, err := rc.client.ReferenceRate(ctx)
	if err != nil {
		rc.mu.RLock()
		stale := !rc.fetchedAt.IsZero()
		rc.mu.RUnlock()
		if stale {
			rc.logger.Warn("reference rate refresh failed, reusing stale value", "error", err)
		} else {
			rc.logger.Warn("reference rate unavailable", "error", err)
		}
		return err
	}

	rc.mu.Lock()
	rc.rate = rate
	rc.fetchedAt = time.Now()
	rc.mu.Unlock()

	f, _ := rate.Float64()
	metrics.SetReferenceRate(f)

	rc.logger.Debug("reference rate refreshed", "rate", rate)
	return nil
}

// Run refreshes immediately and then on every tick until ctx is cancelled.
func (rc *RateCache) Run(ctx context.Context) {
	_ = rc.Refresh(ctx)

	ticker := time.NewTicker(RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = rc.Refresh(ctx)
		}
	}
}
