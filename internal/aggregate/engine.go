// Package aggregate coalesces normalized trades into per-(venue,pair)
// time-aligned windows and decides which cross the alert threshold.
//
// Buckets are aligned to event time: bucket_id = ⌊event_time/window⌋, so a
// burst of fills from one market order lands in at most two windows
// regardless of arrival jitter. The engine goroutine owns all bucket state;
// a 1 s sweeper closes each bucket once a full window has elapsed on the
// local clock since the receive time of its first member, so a venue event
// clock lagging the wall clock never shortens collection.
// Sells are recorded in buckets for audit but never contribute to the
// totals; unknown sides count as buys.
package aggregate

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"xbt-alerts/internal/config"
	"xbt-alerts/internal/metrics"
	"xbt-alerts/pkg/types"
)

// sweepInterval is how often elapsed windows are checked.
const sweepInterval = time.Second

// breakdownLimit caps the individual trades listed on an aggregated alert.
const breakdownLimit = 5

// Dispatcher receives alert records that crossed the threshold.
type Dispatcher interface {
	Dispatch(types.AlertRecord)
}

type bucketKey struct {
	venue string
	pair  string
	id    int64
}

type bucket struct {
	members  []types.NormalizedTrade
	window   int       // seconds, fixed at open so config changes don't reshape it
	openedAt time.Time // local receive time of the first member
}

// Engine owns the bucket map. All state is touched only from Run's goroutine;
// tests drive process/sweep directly.
type Engine struct {
	cfg    *config.Store
	disp   Dispatcher
	in     chan types.NormalizedTrade
	logger *slog.Logger
	now    func() time.Time

	buckets    map[bucketKey]*bucket
	lastClosed map[string]int64 // venue|pair → highest closed bucket id
	lastEvent  map[string]int64 // venue|pair → last seen event time
}

func New(cfg *config.Store, disp Dispatcher, in chan types.NormalizedTrade, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		disp:       disp,
		in:         in,
		logger:     logger.With("component", "aggregate"),
		now:        time.Now,
		buckets:    make(map[bucketKey]*bucket),
		lastClosed: make(map[string]int64),
		lastEvent:  make(map[string]int64),
	}
}

// Run consumes trades until ctx is cancelled, then flushes open buckets so a
// shutdown never silently discards a qualifying burst.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.flush()
			return
		case nt := <-e.in:
			e.process(nt)
		case <-ticker.C:
			e.sweep()
		}
	}
}

func streamKey(venue, pair string) string { return venue + "|" + pair }

// Inject feeds one synthetic trade into the aggregation inbox, exactly as
// the normalizer would. The admin test operation uses it to exercise the
// full alert path.
func (e *Engine) Inject(ctx context.Context, nt types.NormalizedTrade) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case e.in <- nt:
		return nil
	}
}

// process routes one normalized trade: straight to an alert when
// aggregation is off, into its aligned bucket when on.
func (e *Engine) process(nt types.NormalizedTrade) {
	cfg := e.cfg.Get()
	threshold := decimal.NewFromFloat(cfg.ValueRequire)

	sk := streamKey(nt.Venue, nt.Pair)
	if last, ok := e.lastEvent[sk]; ok && nt.EventTime <= last {
		// Ordering contract broken upstream. Processed anyway; totals stay
		// correct, only window assignment may be off.
		e.logger.Error("event time regression on stream",
			"venue", nt.Venue,
			"pair", nt.Pair,
			"event_time", nt.EventTime,
			"last", last,
		)
	} else {
		e.lastEvent[sk] = nt.EventTime
	}

	if !cfg.TradeAggregation.Enabled {
		if nt.Side.CountsAsBuy() && nt.CanonicalGross.GreaterThanOrEqual(threshold) {
			e.emit([]types.NormalizedTrade{nt}, nt.CanonicalGross, types.AlertSingle)
		}
		return
	}

	id := types.BucketID(nt.EventTime, cfg.TradeAggregation.WindowSeconds)
	if id <= e.lastClosed[sk] {
		e.logger.Warn("dropping trade for already-closed window",
			"venue", nt.Venue,
			"pair", nt.Pair,
			"bucket", id,
		)
		metrics.IncTradesDropped("late_bucket")
		return
	}

	key := bucketKey{venue: nt.Venue, pair: nt.Pair, id: id}
	b, ok := e.buckets[key]
	if !ok {
		b = &bucket{
			window:   cfg.TradeAggregation.WindowSeconds,
			openedAt: e.now(),
		}
		e.buckets[key] = b
		metrics.SetOpenBuckets(len(e.buckets))
	}
	b.members = append(b.members, nt)
}

// sweep closes every bucket that has been open for a full window.
func (e *Engine) sweep() {
	now := e.now()
	for key, b := range e.buckets {
		if now.Sub(b.openedAt) >= time.Duration(b.window)*time.Second {
			e.close(key, b)
		}
	}
}

// flush force-closes everything still open, used on shutdown.
func (e *Engine) flush() {
	for key, b := range e.buckets {
		e.close(key, b)
	}
}

// close evaluates one bucket against the current threshold and removes it.
func (e *Engine) close(key bucketKey, b *bucket) {
	delete(e.buckets, key)
	defer metrics.SetOpenBuckets(len(e.buckets))

	sk := streamKey(key.venue, key.pair)
	if key.id > e.lastClosed[sk] {
		e.lastClosed[sk] = key.id
	}

	var contributors []types.NormalizedTrade
	var buyGross decimal.Decimal
	for _, m := range b.members {
		if m.Side.CountsAsBuy() {
			contributors = append(contributors, m)
			buyGross = buyGross.Add(m.CanonicalGross)
		}
	}

	if len(contributors) == 0 {
		metrics.IncBucketsClosed("discarded")
		return
	}

	threshold := e.cfg.Threshold()
	if buyGross.LessThan(threshold) {
		metrics.IncBucketsClosed("discarded")
		return
	}

	metrics.IncBucketsClosed("alerted")
	// Windowed closes are always aggregated alerts, even over one trade;
	// the count on the record tells the two apart.
	e.emit(contributors, buyGross, types.AlertAggregated)
}

// emit builds the alert record from the contributing trades and hands it to
// the dispatcher. Totals cover contributors only.
func (e *Engine) emit(contributors []types.NormalizedTrade, buyGross decimal.Decimal, kind types.AlertKind) {
	canonScale := types.PriceScale(types.CanonicalQuote)
	quote := types.QuoteOf(contributors[0].Pair)
	quoteScale := types.PriceScale(quote)

	var totalQty, quoteGross decimal.Decimal
	latest := contributors[0].EventTime
	var refRate *decimal.Decimal
	for _, m := range contributors {
		totalQty = totalQty.Add(m.Quantity)
		quoteGross = quoteGross.Add(m.Gross)
		if m.EventTime > latest {
			latest = m.EventTime
		}
		if m.ReferenceRate != nil {
			refRate = m.ReferenceRate
		}
	}

	wap := contributors[0].CanonicalPrice
	quotePrice := contributors[0].Price
	if totalQty.IsPositive() {
		wap = buyGross.Div(totalQty).Round(canonScale)
		quotePrice = quoteGross.Div(totalQty).Round(quoteScale)
	}

	// Cross-check: the average price must reproduce the summed gross.
	// The sum stays authoritative on disagreement.
	if diff := wap.Mul(totalQty).Sub(buyGross).Abs(); diff.GreaterThan(types.GrossTolerance(types.CanonicalQuote, buyGross)) {
		e.logger.Error("aggregate arithmetic outside tolerance",
			"pair", contributors[0].Pair,
			"gross", buyGross,
			"wap", wap,
			"quantity", totalQty,
			"diff", diff,
		)
	}

	breakdown := contributors
	if len(breakdown) > breakdownLimit {
		sorted := append([]types.NormalizedTrade(nil), contributors...)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].CanonicalGross.GreaterThan(sorted[j].CanonicalGross)
		})
		breakdown = sorted[:breakdownLimit]
	}

	rec := types.AlertRecord{
		Pair:             contributors[0].Pair,
		Side:             types.SideBuy,
		Kind:             kind,
		CanonicalGross:   buyGross.Round(canonScale),
		Quantity:         totalQty.Round(types.QuantityScale),
		WeightedAvgPrice: wap,
		QuotePrice:       quotePrice,
		VenueLabel:       types.VenueLabel(contributors[0].Venue),
		VenueURL:         contributors[0].VenueURL,
		NumTrades:        len(contributors),
		Breakdown:        breakdown,
		RemainderCount:   len(contributors) - len(breakdown),
		ReferenceRate:    refRate,
		LatestEventTime:  latest,
	}

	metrics.IncAlerts(string(kind))
	e.disp.Dispatch(rec)
}
