// nonkyc.go — streaming dialect for NonKYC's JSON-RPC WebSocket API.
//
// Trades arrive via subscribeTrades → snapshotTrades/updateTrades
// notifications. The snapshot replays recent history, so the adapter's
// monotonic event-time dedupe is what keeps reconnects idempotent.
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

const nonkycWSURL = "wss://api.nonkyc.io/ws"

// NonKYC streams public trades for one market.
type NonKYC struct {
	pair   string // canonical, e.g. "XBT/USDT"
	symbol string // venue symbol, e.g. "XBT_USDT"
	reqID  atomic.Int64
}

// NewNonKYC creates the dialect for a canonical pair like "XBT/USDT".
func NewNonKYC(pair string) *NonKYC {
	return &NonKYC{
		pair:   pair,
		symbol: strings.ReplaceAll(pair, "/", "_"),
	}
}

func (d *NonKYC) Venue() string { return "nonkyc" }
func (d *NonKYC) Pair() string  { return d.pair }
func (d *NonKYC) URL() string   { return nonkycWSURL }

// MarketPage is the public market URL shown on alerts.
func (d *NonKYC) MarketPage() string {
	return "https://nonkyc.io/market/" + d.symbol
}

type nonkycRequest struct {
	Method string `json:"method"`
	Params any    `json:"params"`
	ID     int64  `json:"id"`
}

func (d *NonKYC) SubscribeFrames() ([][]byte, error) {
	frame, err := json.Marshal(nonkycRequest{
		Method: "subscribeTrades",
		Params: map[string]string{"symbol": d.symbol},
		ID:     d.reqID.Add(1),
	})
	if err != nil {
		return nil, err
	}
	return [][]byte{frame}, nil
}

func (d *NonKYC) PingFrame() ([]byte, error) {
	return json.Marshal(nonkycRequest{
		Method: "ping",
		Params: map[string]string{},
		ID:     d.reqID.Add(1),
	})
}

type nonkycEnvelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type nonkycTradeBatch struct {
	Symbol string        `json:"symbol"`
	Data   []nonkycTrade `json:"data"`
}

type nonkycTrade struct {
	ID        int64  `json:"id"`
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"` // RFC 3339
}

// Parse handles trade notifications; acks and pongs yield no events.
func (d *NonKYC) Parse(raw []byte) ([]types.TradeEvent, error) {
	var env nonkycEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("nonkyc envelope: %w", err)
	}
	if env.Method != "updateTrades" && env.Method != "snapshotTrades" {
		return nil, nil
	}

	var batch nonkycTradeBatch
	if err := json.Unmarshal(env.Params, &batch); err != nil {
		return nil, fmt.Errorf("nonkyc trades: %w", err)
	}

	now := time.Now().UnixMilli()
	events := make([]types.TradeEvent, 0, len(batch.Data))
	for _, t := range batch.Data {
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return nil, fmt.Errorf("nonkyc price %q: %w", t.Price, err)
		}
		qty, err := decimal.NewFromString(t.Quantity)
		if err != nil {
			return nil, fmt.Errorf("nonkyc quantity %q: %w", t.Quantity, err)
		}
		ts, err := time.Parse(time.RFC3339, t.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("nonkyc timestamp %q: %w", t.Timestamp, err)
		}

		ev := types.TradeEvent{
			Venue:       d.Venue(),
			Pair:        d.pair,
			Side:        types.NormalizeSide(t.Side),
			Price:       price,
			Quantity:    qty,
			EventTime:   ts.UnixMilli(),
			ReceiveTime: now,
			VenueURL:    d.MarketPage(),
		}
		ev.Gross = ev.ComputedGross()
		events = append(events, ev)
	}
	return events, nil
}
