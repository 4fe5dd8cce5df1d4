// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — trade events, their
// normalized (canonical-quote) form, alert payloads, and the helpers that
// enforce the monetary precision rules. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums and constants
// ————————————————————————————————————————————————————————————————————————

// Side is the taker direction of an observed trade.
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideUnknown Side = "unknown"
)

// CanonicalQuote is the unit thresholds and alerts are expressed in.
const CanonicalQuote = "USDT"

// QuantityScale is the number of fractional digits kept on trade quantities.
const QuantityScale = 4

// NormalizeSide maps venue-reported side strings onto the canonical set.
// Venues abbreviate inconsistently; anything unrecognized is unknown.
func NormalizeSide(s string) Side {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b":
		return SideBuy
	case "sell", "s":
		return SideSell
	default:
		return SideUnknown
	}
}

// SideFromMakerBuyer maps a maker-buyer flag to the taker side.
// If the maker was the buyer, the aggressor sold into the book.
func SideFromMakerBuyer(makerIsBuyer bool) Side {
	if makerIsBuyer {
		return SideSell
	}
	return SideBuy
}

// CountsAsBuy reports whether a side contributes to buy-volume totals.
// Unknown sides count: the venues that omit side report taker buys there.
func (s Side) CountsAsBuy() bool {
	return s == SideBuy || s == SideUnknown
}

// QuoteOf extracts the quote currency from a pair like "XBT/USDT".
func QuoteOf(pair string) string {
	if i := strings.LastIndex(pair, "/"); i >= 0 {
		return pair[i+1:]
	}
	return pair
}

// PriceScale returns the number of fractional digits for prices in the
// given quote currency: 6 for USDT, 8 for BTC.
func PriceScale(quote string) int32 {
	if quote == "BTC" {
		return 8
	}
	return 6
}

// QuoteUlp is the smallest representable increment of the quote currency.
func QuoteUlp(quote string) decimal.Decimal {
	return decimal.New(1, -PriceScale(quote))
}

// GrossTolerance is the allowed discrepancy between a reported gross value
// and price×quantity: max(one ulp of the quote, 0.1% of the gross).
func GrossTolerance(quote string, gross decimal.Decimal) decimal.Decimal {
	ulp := QuoteUlp(quote)
	rel := gross.Abs().Mul(decimal.NewFromFloat(0.001))
	if rel.GreaterThan(ulp) {
		return rel
	}
	return ulp
}

// BucketID maps an event time to its aligned aggregation window.
func BucketID(eventTimeMs int64, windowSeconds int) int64 {
	return eventTimeMs / 1000 / int64(windowSeconds)
}

// VenueLabel returns the display name for a venue identifier.
func VenueLabel(venue string) string {
	switch venue {
	case "nonkyc", "nonkyc-sweep":
		return "NonKYC"
	case "coinex":
		return "CoinEx"
	case "ascendex":
		return "AscendEX"
	default:
		return venue
	}
}

// ————————————————————————————————————————————————————————————————————————
// Trade events
// ————————————————————————————————————————————————————————————————————————

// TradeEvent is a single observed trade on one venue, already parsed out of
// the venue's wire format. Price carries the pair's quote precision, Quantity
// four fractional digits, Gross = Price×Quantity in the quote currency.
type TradeEvent struct {
	Venue       string
	Pair        string // e.g. "XBT/USDT", "XBT/BTC"
	Side        Side
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Gross       decimal.Decimal
	EventTime   int64  // ms since epoch, venue clock, monotonic per venue
	ReceiveTime int64  // ms since epoch, local clock
	VenueURL    string // presentation link for the market page
}

// ComputedGross returns Price×Quantity at the pair's quote precision.
func (t TradeEvent) ComputedGross() decimal.Decimal {
	return t.Price.Mul(t.Quantity).Round(PriceScale(QuoteOf(t.Pair)))
}

// Validate checks the trade-level invariants: positive price and quantity,
// and gross within tolerance of price×quantity.
func (t TradeEvent) Validate() error {
	if !t.Price.IsPositive() {
		return fmt.Errorf("price must be > 0, got %s", t.Price)
	}
	if !t.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be > 0, got %s", t.Quantity)
	}
	quote := QuoteOf(t.Pair)
	diff := t.Gross.Sub(t.ComputedGross()).Abs()
	if diff.GreaterThan(GrossTolerance(quote, t.Gross)) {
		return fmt.Errorf("gross %s deviates from price×quantity %s by %s",
			t.Gross, t.ComputedGross(), diff)
	}
	return nil
}

// NormalizedTrade is a TradeEvent augmented with canonical-quote values.
// For native-quote pairs the canonical fields equal the originals and
// ReferenceRate is nil.
type NormalizedTrade struct {
	TradeEvent
	CanonicalPrice decimal.Decimal
	CanonicalGross decimal.Decimal
	ReferenceRate  *decimal.Decimal // rate used for the conversion, nil if native
}

// IsCrossQuote reports whether the trade was converted from a non-canonical
// quote currency.
func (n NormalizedTrade) IsCrossQuote() bool {
	return n.ReferenceRate != nil
}

// ————————————————————————————————————————————————————————————————————————
// Alerts
// ————————————————————————————————————————————————————————————————————————

// AlertKind distinguishes single-trade alerts from window aggregates.
type AlertKind string

const (
	AlertSingle     AlertKind = "single"
	AlertAggregated AlertKind = "aggregated"
)

// MarketContext is the market snapshot attached to an alert footer.
type MarketContext struct {
	LastPrice decimal.Decimal
	MarketCap decimal.Decimal // zero when unknown
	Volume15m decimal.Decimal
	Volume1h  decimal.Decimal
	Volume4h  decimal.Decimal
	Volume24h decimal.Decimal
	Links     [2]string
}

// AlertRecord is the payload handed to the dispatcher. All monetary values
// are in the canonical quote unless noted.
type AlertRecord struct {
	Pair             string
	Side             Side // always buy in this pipeline
	Kind             AlertKind
	CanonicalGross   decimal.Decimal
	Quantity         decimal.Decimal
	WeightedAvgPrice decimal.Decimal // canonical quote
	QuotePrice       decimal.Decimal // original quote, differs for cross pairs
	VenueLabel       string
	VenueURL         string
	NumTrades        int
	Breakdown        []NormalizedTrade // up to 5 individual members
	RemainderCount   int               // trades beyond the breakdown
	ReferenceRate    *decimal.Decimal  // cross-rate context, nil if native
	LatestEventTime  int64             // ms since epoch
	Market           *MarketContext    // nil when enrichment failed
}

// EventTimeUTC renders the latest event time for display.
func (a AlertRecord) EventTimeUTC() string {
	return time.UnixMilli(a.LatestEventTime).UTC().Format("2006-01-02 15:04:05 UTC")
}
