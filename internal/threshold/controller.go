// Package threshold adjusts the alert floor to market activity.
//
// Every price_check_interval the controller recomputes
//
//	clamp(base_value + volume24h × volume_multiplier, min, max)
//
// rounded to a whole quote unit and persists it as the effective threshold.
// A failed volume fetch keeps the previous threshold in force.
package threshold

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"xbt-alerts/internal/config"
	"xbt-alerts/internal/marketdata"
	"xbt-alerts/internal/metrics"
)

// disabledRecheck is how often the controller re-reads config while the
// dynamic threshold is switched off.
const disabledRecheck = 60 * time.Second

// Controller recomputes the threshold from 24 h venue volume.
type Controller struct {
	cfg    *config.Store
	client *marketdata.Client
	pair   string
	logger *slog.Logger
}

func New(cfg *config.Store, client *marketdata.Client, pair string, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:    cfg,
		client: client,
		pair:   pair,
		logger: logger.With("component", "threshold"),
	}
}

// Run recomputes immediately and then on the configured interval until ctx
// is cancelled. Interval changes take effect on the next cycle.
func (c *Controller) Run(ctx context.Context) {
	for {
		dyn := c.cfg.Get().DynamicThreshold

		wait := disabledRecheck
		if dyn.Enabled {
			c.recompute(ctx, dyn)
			wait = time.Duration(dyn.PriceCheckInterval) * time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (c *Controller) recompute(ctx context.Context, dyn config.DynamicThresholdConfig) {
	volume, err := c.client.Volume24h(ctx, c.pair)
	if err != nil {
		c.logger.Warn("volume fetch failed, keeping previous threshold", "error", err)
		return
	}

	target := Compute(dyn, volume)
	current := c.cfg.Threshold()
	if target.Equal(current) {
		return
	}

	v, _ := target.Float64()
	if err := c.cfg.SetThreshold(v); err != nil {
		c.logger.Warn("threshold update rejected", "error", err, "target", target)
		return
	}
	metrics.SetThresholdValue(v)
	c.logger.Info("threshold adjusted",
		"previous", current,
		"threshold", target,
		"volume_24h", volume,
	)
}

// Compute returns the clamped, whole-unit threshold for a 24 h volume.
func Compute(dyn config.DynamicThresholdConfig, volume24h decimal.Decimal) decimal.Decimal {
	base := decimal.NewFromFloat(dyn.BaseValue)
	mult := decimal.NewFromFloat(dyn.VolumeMultiplier)
	minT := decimal.NewFromFloat(dyn.MinThreshold)
	maxT := decimal.NewFromFloat(dyn.MaxThreshold)

	target := base.Add(volume24h.Mul(mult))
	if target.LessThan(minT) {
		target = minT
	}
	if target.GreaterThan(maxT) {
		target = maxT
	}
	return target.Round(0)
}
