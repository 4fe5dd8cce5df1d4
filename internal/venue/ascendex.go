// ascendex.go — streaming dialect for AscendEX's trades channel.
//
// AscendEX reports the maker-buyer flag (bm) instead of a taker side: bm=true
// means the maker bought, so the aggressor sold.
package venue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"xbt-alerts/pkg/types"
)

const ascendexWSURL = "wss://ascendex.com/api/pro/v1/stream"

// AscendEX streams public trades for one market.
type AscendEX struct {
	pair string // AscendEX uses the slash form directly, e.g. "XBT/USDT"
}

func NewAscendEX(pair string) *AscendEX {
	return &AscendEX{pair: pair}
}

func (d *AscendEX) Venue() string { return "ascendex" }
func (d *AscendEX) Pair() string  { return d.pair }
func (d *AscendEX) URL() string   { return ascendexWSURL }

func (d *AscendEX) MarketPage() string {
	return "https://ascendex.com/en/cashtrade-spottrading/" + d.pair
}

func (d *AscendEX) SubscribeFrames() ([][]byte, error) {
	frame, err := json.Marshal(map[string]string{
		"op": "sub",
		"ch": "trades:" + d.pair,
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

func (d *AscendEX) PingFrame() ([]byte, error) {
	return json.Marshal(map[string]string{"op": "ping"})
}

type ascendexEnvelope struct {
	M      string          `json:"m"`
	Symbol string          `json:"symbol"`
	Data   json.RawMessage `json:"data"`
}

type ascendexTrade struct {
	P  string `json:"p"`  // price
	Q  string `json:"q"`  // quantity
	Ts int64  `json:"ts"` // ms since epoch
	BM bool   `json:"bm"` // maker was the buyer
}

// Parse handles trades messages; pongs and subscription acks yield no events.
func (d *AscendEX) Parse(raw []byte) ([]types.TradeEvent, error) {
	var env ascendexEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("ascendex envelope: %w", err)
	}
	if env.M != "trades" {
		return nil, nil
	}

	var trades []ascendexTrade
	if err := json.Unmarshal(env.Data, &trades); err != nil {
		return nil, fmt.Errorf("ascendex trades: %w", err)
	}

	now := time.Now().UnixMilli()
	events := make([]types.TradeEvent, 0, len(trades))
	for _, t := range trades {
		price, err := decimal.NewFromString(t.P)
		if err != nil {
			return nil, fmt.Errorf("ascendex price %q: %w", t.P, err)
		}
		qty, err := decimal.NewFromString(t.Q)
		if err != nil {
			return nil, fmt.Errorf("ascendex quantity %q: %w", t.Q, err)
		}

		ev := types.TradeEvent{
			Venue:       d.Venue(),
			Pair:        d.pair,
			Side:        types.SideFromMakerBuyer(t.BM),
			Price:       price,
			Quantity:    qty,
			EventTime:   t.Ts,
			ReceiveTime: now,
			VenueURL:    d.MarketPage(),
		}
		ev.Gross = ev.ComputedGross()
		events = append(events, ev)
	}
	return events, nil
}
