// coinex.go — streaming dialect for CoinEx's deals WebSocket channel.
//
// Requests follow the same JSON-RPC shape as NonKYC but notification params
// are positional: ["MARKET", [deal, ...]].
package venue

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"xbt-alerts/pkg/types"
)

const coinexWSURL = "wss://socket.coinex.com/"

// CoinEx streams public deals for one market.
type CoinEx struct {
	pair   string
	symbol string // e.g. "XBTUSDT"
	reqID  atomic.Int64
}

func NewCoinEx(pair string) *CoinEx {
	return &CoinEx{
		pair:   pair,
		symbol: strings.ReplaceAll(pair, "/", ""),
	}
}

func (d *CoinEx) Venue() string { return "coinex" }
func (d *CoinEx) Pair() string  { return d.pair }
func (d *CoinEx) URL() string   { return coinexWSURL }

func (d *CoinEx) MarketPage() string {
	return "https://www.coinex.com/exchange/" + strings.ToLower(strings.ReplaceAll(d.pair, "/", "-"))
}

type coinexRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
	ID     int64  `json:"id"`
}

func (d *CoinEx) SubscribeFrames() ([][]byte, error) {
	frame, err := json.Marshal(coinexRequest{
		Method: "deals.subscribe",
		Params: []any{d.symbol},
		ID:     d.reqID.Add(1),
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

func (d *CoinEx) PingFrame() ([]byte, error) {
	return json.Marshal(coinexRequest{
		Method: "server.ping",
		Params: []any{},
		ID:     d.reqID.Add(1),
	})
}

type coinexEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type coinexDeal struct {
	Type   string `json:"type"` // "buy" | "sell"
	Price  string `json:"price"`
	Amount string `json:"amount"`
	DateMs int64  `json:"date_ms"`
}

// Parse handles deals.update notifications; anything else yields no events.
func (d *CoinEx) Parse(raw []byte) ([]types.TradeEvent, error) {
	var env coinexEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("coinex envelope: %w", err)
	}
	if env.Method != "deals.update" {
		return nil, nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(env.Params, &parts); err != nil || len(parts) < 2 {
		return nil, fmt.Errorf("coinex params: %w", err)
	}
	var deals []coinexDeal
	if err := json.Unmarshal(parts[1], &deals); err != nil {
		return nil, fmt.Errorf("coinex deals: %w", err)
	}

	now := time.Now().UnixMilli()
	events := make([]types.TradeEvent, 0, len(deals))
	for _, deal := range deals {
		price, err := decimal.NewFromString(deal.Price)
		if err != nil {
			return nil, fmt.Errorf("coinex price %q: %w", deal.Price, err)
		}
		qty, err := decimal.NewFromString(deal.Amount)
		if err != nil {
			return nil, fmt.Errorf("coinex amount %q: %w", deal.Amount, err)
		}

		ev := types.TradeEvent{
			Venue:       d.Venue(),
			Pair:        d.pair,
			Side:        types.NormalizeSide(deal.Type),
			Price:       price,
			Quantity:    qty,
			EventTime:   deal.DateMs,
			ReceiveTime: now,
			VenueURL:    d.MarketPage(),
		}
		ev.Gross = ev.ComputedGross()
		events = append(events, ev)
	}
	return events, nil
}
