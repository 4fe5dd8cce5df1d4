// sweep.go — detects large single-shot order-book sweeps on NonKYC.
//
// The dialect subscribes to the L2 book instead of the trade tape and keeps
// an incremental local copy keyed by price level. When one update clears
// several ask levels at once — a market buy walking the book — it emits a
// synthetic buy trade priced at the VWAP of the cleared liquidity. A sequence
// gap invalidates the local book; the adapter reconnects for a fresh
// snapshot.
package venue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"xbt-alerts/pkg/types"
)

// SweepSettings is read per update so runtime config changes apply without a
// reconnect.
type SweepSettings struct {
	Enabled         bool
	MinValue        decimal.Decimal // quote units; alert floor for a sweep
	MinOrdersFilled int             // ask levels cleared in one update
	Cooldown        time.Duration   // minimum spacing between sweep emits
}

// NonKYCSweep watches the NonKYC order book for ask-side sweeps.
type NonKYCSweep struct {
	inner    *NonKYC // reuses the request/ping framing
	settings func() SweepSettings

	asks      map[string]decimal.Decimal // price string → size
	sequence  int64
	synced    bool
	lastEmit  time.Time
	now       func() time.Time // test hook
}

// NewNonKYCSweep creates the sweep dialect for a canonical pair. settings is
// consulted on every book update.
func NewNonKYCSweep(pair string, settings func() SweepSettings) *NonKYCSweep {
	return &NonKYCSweep{
		inner:    NewNonKYC(pair),
		settings: settings,
		asks:     make(map[string]decimal.Decimal),
		now:      time.Now,
	}
}

// Venue is distinct from the trade feed so the two streams keep separate
// dedupe and monotonicity state downstream.
func (d *NonKYCSweep) Venue() string { return "nonkyc-sweep" }
func (d *NonKYCSweep) Pair() string  { return d.inner.Pair() }
func (d *NonKYCSweep) URL() string   { return d.inner.URL() }

func (d *NonKYCSweep) PingFrame() ([]byte, error) { return d.inner.PingFrame() }

func (d *NonKYCSweep) SubscribeFrames() ([][]byte, error) {
	frame, err := json.Marshal(nonkycRequest{
		Method: "subscribeOrderbook",
		Params: map[string]string{"symbol": d.inner.symbol},
		ID:     d.inner.reqID.Add(1),
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

type nonkycBookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type nonkycBook struct {
	Symbol   string            `json:"symbol"`
	Sequence int64             `json:"sequence"`
	Ask      []nonkycBookLevel `json:"ask"`
	Bid      []nonkycBookLevel `json:"bid"`
}

// Parse maintains the local book and emits a synthetic buy when an update
// clears enough ask levels worth enough quote value.
func (d *NonKYCSweep) Parse(raw []byte) ([]types.TradeEvent, error) {
	var env nonkycEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("nonkyc book envelope: %w", err)
	}

	switch env.Method {
	case "snapshotOrderbook":
		var book nonkycBook
		if err := json.Unmarshal(env.Params, &book); err != nil {
			return nil, fmt.Errorf("nonkyc book snapshot: %w", err)
		}
		d.asks = make(map[string]decimal.Decimal, len(book.Ask))
		for _, lvl := range book.Ask {
			size, err := decimal.NewFromString(lvl.Size)
			if err != nil {
				return nil, fmt.Errorf("nonkyc snapshot size %q: %w", lvl.Size, err)
			}
			if size.IsPositive() {
				d.asks[lvl.Price] = size
			}
		}
		d.sequence = book.Sequence
		d.synced = true
		return nil, nil

	case "updateOrderbook":
		var book nonkycBook
		if err := json.Unmarshal(env.Params, &book); err != nil {
			return nil, fmt.Errorf("nonkyc book update: %w", err)
		}
		if !d.synced {
			return nil, nil // updates before the snapshot carry no base state
		}
		if book.Sequence != d.sequence+1 {
			d.synced = false
			return nil, fmt.Errorf("book sequence gap: have %d, got %d: %w",
				d.sequence, book.Sequence, ErrResync)
		}
		d.sequence = book.Sequence
		return d.applyUpdate(book)

	default:
		return nil, nil
	}
}

// applyUpdate folds one delta into the book and returns the synthetic sweep
// trade, if any.
func (d *NonKYCSweep) applyUpdate(book nonkycBook) ([]types.TradeEvent, error) {
	type cleared struct {
		price decimal.Decimal
		size  decimal.Decimal
	}
	var swept []cleared

	for _, lvl := range book.Ask {
		size, err := decimal.NewFromString(lvl.Size)
		if err != nil {
			return nil, fmt.Errorf("nonkyc update size %q: %w", lvl.Size, err)
		}
		if size.IsPositive() {
			d.asks[lvl.Price] = size
			continue
		}
		prev, had := d.asks[lvl.Price]
		delete(d.asks, lvl.Price)
		if had && prev.IsPositive() {
			price, err := decimal.NewFromString(lvl.Price)
			if err != nil {
				return nil, fmt.Errorf("nonkyc update price %q: %w", lvl.Price, err)
			}
			swept = append(swept, cleared{price: price, size: prev})
		}
	}

	cfg := d.settings()
	if !cfg.Enabled || len(swept) < cfg.MinOrdersFilled {
		return nil, nil
	}

	var qty, gross decimal.Decimal
	for _, c := range swept {
		qty = qty.Add(c.size)
		gross = gross.Add(c.price.Mul(c.size))
	}
	if gross.LessThan(cfg.MinValue) {
		return nil, nil
	}

	now := d.now()
	if cfg.Cooldown > 0 && now.Sub(d.lastEmit) < cfg.Cooldown {
		return nil, nil
	}
	d.lastEmit = now

	scale := types.PriceScale(types.QuoteOf(d.inner.pair))
	ev := types.TradeEvent{
		Venue:       d.Venue(),
		Pair:        d.inner.pair,
		Side:        types.SideBuy,
		Price:       gross.Div(qty).Round(scale),
		Quantity:    qty.Round(types.QuantityScale),
		Gross:       gross.Round(scale),
		EventTime:   now.UnixMilli(),
		ReceiveTime: now.UnixMilli(),
		VenueURL:    d.inner.MarketPage(),
	}
	return []types.TradeEvent{ev}, nil
}
