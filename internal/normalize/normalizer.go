// Package normalize converts venue trade events into the canonical quote.
//
// USDT-quoted trades pass through untouched. Cross-quoted trades (XBT/BTC)
// are converted with the cached BTC/USDT reference rate; when no rate has
// ever been fetched the trade is dropped with a warning rather than priced
// off a guess.
package normalize

import (
	"context"
	"log/slog"

	"xbt-alerts/internal/marketdata"
	"xbt-alerts/internal/metrics"
	"xbt-alerts/pkg/types"
)

// Normalizer bridges the adapter output channel to the aggregation engine.
type Normalizer struct {
	rates  *marketdata.RateCache
	in     <-chan types.TradeEvent
	out    chan<- types.NormalizedTrade
	logger *slog.Logger
}

func New(rates *marketdata.RateCache, in <-chan types.TradeEvent, out chan<- types.NormalizedTrade, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		rates:  rates,
		in:     in,
		out:    out,
		logger: logger.With("component", "normalizer"),
	}
}

// Run consumes trade events until ctx is cancelled.
func (n *Normalizer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-n.in:
			nt, ok := n.Normalize(ev)
			if !ok {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case n.out <- nt:
			}
		}
	}
}

// Normalize converts one event. ok is false when the trade must be dropped
// because a cross-quote conversion has no reference rate.
func (n *Normalizer) Normalize(ev types.TradeEvent) (types.NormalizedTrade, bool) {
	quote := types.QuoteOf(ev.Pair)
	if quote == types.CanonicalQuote {
		return types.NormalizedTrade{
			TradeEvent:     ev,
			CanonicalPrice: ev.Price,
			CanonicalGross: ev.Gross,
		}, true
	}

	rate, ok := n.rates.Get()
	if !ok {
		n.logger.Warn("dropping cross-quote trade, no reference rate",
			"venue", ev.Venue,
			"pair", ev.Pair,
			"gross", ev.Gross,
		)
		metrics.IncTradesDropped("missing_rate")
		return types.NormalizedTrade{}, false
	}

	scale := types.PriceScale(types.CanonicalQuote)
	return types.NormalizedTrade{
		TradeEvent:     ev,
		CanonicalPrice: ev.Price.Mul(rate).Round(scale),
		CanonicalGross: ev.Gross.Mul(rate).Round(scale),
		ReferenceRate:  &rate,
	}, true
}
