// format.go renders alert records as Telegram HTML.
package alert

import (
	"fmt"
	"strings"

	"xbt-alerts/pkg/types"
)

// baseOf extracts the base asset from a pair like "XBT/USDT".
func baseOf(pair string) string {
	if i := strings.Index(pair, "/"); i >= 0 {
		return pair[:i]
	}
	return pair
}

// Format renders the full alert message. The caption doubles as the photo
// caption when image delivery is in use.
func Format(rec types.AlertRecord) string {
	var b strings.Builder
	base := baseOf(rec.Pair)
	quote := types.QuoteOf(rec.Pair)

	if rec.Kind == types.AlertAggregated && rec.NumTrades > 1 {
		fmt.Fprintf(&b, "🟢 <b>%s Buy</b> — %d trades on %s\n\n", base, rec.NumTrades, rec.VenueLabel)
	} else {
		fmt.Fprintf(&b, "🟢 <b>%s Buy</b> on %s\n\n", base, rec.VenueLabel)
	}

	fmt.Fprintf(&b, "💰 Value: <b>%s %s</b>\n", rec.CanonicalGross.StringFixed(2), types.CanonicalQuote)
	fmt.Fprintf(&b, "📦 Amount: %s %s\n", rec.Quantity.String(), base)
	fmt.Fprintf(&b, "📈 Avg price: %s %s\n", rec.WeightedAvgPrice.String(), types.CanonicalQuote)

	if rec.ReferenceRate != nil {
		fmt.Fprintf(&b, "↔️ Quote price: %s %s (1 BTC = %s %s)\n",
			rec.QuotePrice.String(), quote,
			rec.ReferenceRate.String(), types.CanonicalQuote)
	}

	fmt.Fprintf(&b, "🕒 %s\n", rec.EventTimeUTC())

	if rec.Kind == types.AlertAggregated && len(rec.Breakdown) > 0 {
		b.WriteString("\n")
		for _, t := range rec.Breakdown {
			fmt.Fprintf(&b, "  • %s @ %s = %s %s\n",
				t.Quantity.String(),
				t.CanonicalPrice.String(),
				t.CanonicalGross.StringFixed(2),
				types.CanonicalQuote)
		}
		if rec.RemainderCount > 0 {
			fmt.Fprintf(&b, "  …and %d more\n", rec.RemainderCount)
		}
	}

	if m := rec.Market; m != nil {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Last: %s %s", m.LastPrice.String(), types.CanonicalQuote)
		if m.MarketCap.IsPositive() {
			fmt.Fprintf(&b, " | MCap: %s %s", m.MarketCap.StringFixed(0), types.CanonicalQuote)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "Vol 15m: %s | 1h: %s | 4h: %s | 24h: %s\n",
			m.Volume15m.StringFixed(0),
			m.Volume1h.StringFixed(0),
			m.Volume4h.StringFixed(0),
			m.Volume24h.StringFixed(0))
		if m.Links[0] != "" || m.Links[1] != "" {
			fmt.Fprintf(&b, "<a href=\"%s\">%s</a> | <a href=\"%s\">CoinGecko</a>\n",
				m.Links[0], rec.VenueLabel, m.Links[1])
		}
	} else if rec.VenueURL != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">%s</a>\n", rec.VenueURL, rec.VenueLabel)
	}

	return strings.TrimRight(b.String(), "\n")
}
