// Package marketdata provides read-only access to venue REST endpoints:
// ticker snapshots, recent-trades history, and the BTC/USDT reference
// ticker used for cross-pair conversion.
//
// Each Client talks to one venue. Calls have a bounded 10 s timeout and are
// classified into the error taxonomy in errors.go; there are NO retries at
// this layer — adapters and controllers decide their own recovery policy.
// Alert enrichment goes through a circuit breaker so a failing venue API
// cannot stall the dispatch path.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"xbt-alerts/internal/config"
	"xbt-alerts/pkg/types"
)

const requestTimeout = 10 * time.Second

// ReferencePair is the cross-rate pair used to convert BTC-quoted trades.
const ReferencePair = "BTC/USDT"

// Ticker is a venue ticker snapshot.
type Ticker struct {
	LastPrice decimal.Decimal
	Volume24h decimal.Decimal // trailing 24 h volume in the quote currency
}

// PublicTrade is one entry of a venue's recent-trades history.
type PublicTrade struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp int64 // ms since epoch
	Side      types.Side
}

// restDialect captures how one venue shapes its public REST API.
type restDialect struct {
	baseURL     string
	symbol      func(pair string) string
	tickerPath  func(symbol string) string
	tradesPath  func(symbol string, limit int) string
	parseTicker func(data []byte) (*Ticker, error)
	parseTrades func(data []byte) ([]PublicTrade, error)
	marketURL   func(symbol string) string
}

// Client is a read-only REST client for one venue.
type Client struct {
	venue   string
	d       restDialect
	http    *resty.Client
	rl      *RateLimiter
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// Option customizes a Client (tests point baseURL at an httptest server).
type Option func(*Client)

// WithBaseURL overrides the venue's default REST endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.http.SetBaseURL(u) }
}

// NewClient creates a market data client for the named venue.
// Credentials are optional; when present they ride along as an API key header.
func NewClient(venue string, creds config.VenueCredentials, logger *slog.Logger, opts ...Option) (*Client, error) {
	d, ok := dialects[venue]
	if !ok {
		return nil, fmt.Errorf("unknown venue %q", venue)
	}

	httpClient := resty.New().
		SetBaseURL(d.baseURL).
		SetTimeout(requestTimeout).
		SetHeader("Accept", "application/json")
	if creds.APIKey != "" {
		httpClient.SetHeader("X-API-KEY", creds.APIKey)
	}

	c := &Client{
		venue: venue,
		d:     d,
		http:  httpClient,
		rl:    NewRateLimiter(),
		logger: logger.With(
			"component", "marketdata",
			"venue", venue,
		),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    venue + "-enrichment",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			c.logger.Warn("enrichment breaker state change", "from", from.String(), "to", to.String())
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Venue returns the venue name this client talks to.
func (c *Client) Venue() string { return c.venue }

// MarketURL returns the venue's presentation link for a pair.
func (c *Client) MarketURL(pair string) string {
	return c.d.marketURL(c.d.symbol(pair))
}

// Ticker fetches a ticker snapshot for the pair.
func (c *Client) Ticker(ctx context.Context, pair string) (*Ticker, error) {
	if err := c.rl.Ticker.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := c.get(ctx, "ticker", c.d.tickerPath(c.d.symbol(pair)))
	if err != nil {
		return nil, err
	}
	return c.d.parseTicker(body)
}

// RecentTrades fetches up to limit recent public trades for the pair,
// newest last.
func (c *Client) RecentTrades(ctx context.Context, pair string, limit int) ([]PublicTrade, error) {
	if err := c.rl.Trades.Wait(ctx); err != nil {
		return nil, err
	}
	body, err := c.get(ctx, "trades", c.d.tradesPath(c.d.symbol(pair), limit))
	if err != nil {
		return nil, err
	}
	return c.d.parseTrades(body)
}

// ReferenceRate fetches the current BTC/USDT rate.
func (c *Client) ReferenceRate(ctx context.Context) (decimal.Decimal, error) {
	t, err := c.Ticker(ctx, ReferencePair)
	if err != nil {
		return decimal.Zero, err
	}
	if !t.LastPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("reference ticker returned non-positive price %s", t.LastPrice)
	}
	return t.LastPrice, nil
}

// Volume24h fetches the trailing 24 h quote-currency volume for the pair.
func (c *Client) Volume24h(ctx context.Context, pair string) (decimal.Decimal, error) {
	t, err := c.Ticker(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	return t.Volume24h, nil
}

// Probe reports whether the asset is currently tradable on this venue.
func (c *Client) Probe(ctx context.Context, pair string) bool {
	t, err := c.Ticker(ctx, pair)
	if err != nil {
		c.logger.Warn("availability probe failed", "pair", pair, "error", err)
		return false
	}
	return t.LastPrice.IsPositive()
}

// MarketContext assembles the alert footer snapshot: last price, optional
// market cap, and rolling buy+sell volumes over 15m/1h/4h/24h. The whole
// fetch runs behind a circuit breaker; callers treat a nil result as
// "enrichment unavailable" and send the alert without a footer.
func (c *Client) MarketContext(ctx context.Context, pair string, circulatingSupply float64) (*types.MarketContext, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.buildContext(ctx, pair, circulatingSupply)
	})
	if err != nil {
		return nil, err
	}
	return out.(*types.MarketContext), nil
}

func (c *Client) buildContext(ctx context.Context, pair string, circulatingSupply float64) (*types.MarketContext, error) {
	ticker, err := c.Ticker(ctx, pair)
	if err != nil {
		return nil, err
	}

	mc := &types.MarketContext{
		LastPrice: ticker.LastPrice,
		Volume24h: ticker.Volume24h,
		Links: [2]string{
			c.MarketURL(pair),
			"https://www.coingecko.com/en/coins/xbt",
		},
	}
	if circulatingSupply > 0 {
		mc.MarketCap = ticker.LastPrice.Mul(decimal.NewFromFloat(circulatingSupply)).Round(0)
	}

	// Rolling sub-day volumes come from the recent-trades history; the
	// window sums are best-effort if the history doesn't reach back 4 h.
	trades, err := c.RecentTrades(ctx, pair, 1000)
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	for _, tr := range trades {
		gross := tr.Price.Mul(tr.Quantity)
		age := now - tr.Timestamp
		if age <= 15*60*1000 {
			mc.Volume15m = mc.Volume15m.Add(gross)
		}
		if age <= 60*60*1000 {
			mc.Volume1h = mc.Volume1h.Add(gross)
		}
		if age <= 4*60*60*1000 {
			mc.Volume4h = mc.Volume4h.Add(gross)
		}
	}
	return mc, nil
}

// get performs one GET and classifies any failure.
func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err != nil {
		return nil, classifyTransport(c.venue+" "+op, err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return nil, classifyStatus(c.venue+" "+op, resp.StatusCode())
	}
	return resp.Body(), nil
}

// ————————————————————————————————————————————————————————————————————————
// Venue dialects
// ————————————————————————————————————————————————————————————————————————

var dialects = map[string]restDialect{
	"nonkyc": {
		baseURL: "https://api.nonkyc.io/api/v2",
		symbol:  func(pair string) string { return strings.ReplaceAll(pair, "/", "_") },
		tickerPath: func(sym string) string {
			return "/ticker/" + sym
		},
		tradesPath: func(sym string, limit int) string {
			return fmt.Sprintf("/trades/%s?limit=%d", sym, limit)
		},
		parseTicker: parseNonKYCTicker,
		parseTrades: parseNonKYCTrades,
		marketURL: func(sym string) string {
			return "https://nonkyc.io/market/" + sym
		},
	},
	"coinex": {
		baseURL: "https://api.coinex.com/v1",
		symbol:  func(pair string) string { return strings.ReplaceAll(pair, "/", "") },
		tickerPath: func(sym string) string {
			return "/market/ticker?market=" + sym
		},
		tradesPath: func(sym string, limit int) string {
			return fmt.Sprintf("/market/deals?market=%s&limit=%d", sym, limit)
		},
		parseTicker: parseCoinExTicker,
		parseTrades: parseCoinExTrades,
		marketURL: func(sym string) string {
			return "https://www.coinex.com/exchange/" + strings.ToLower(sym)
		},
	},
	"ascendex": {
		baseURL: "https://ascendex.com/api/pro/v1",
		symbol:  func(pair string) string { return pair },
		tickerPath: func(sym string) string {
			return "/ticker?symbol=" + sym
		},
		tradesPath: func(sym string, limit int) string {
			return fmt.Sprintf("/trades?symbol=%s&n=%d", sym, limit)
		},
		parseTicker: parseAscendEXTicker,
		parseTrades: parseAscendEXTrades,
		marketURL: func(sym string) string {
			return "https://ascendex.com/en/cashtrade-spottrading/" + strings.ToLower(strings.ReplaceAll(sym, "/", "-"))
		},
	},
}

// Venues lists the venues this client knows how to talk to.
func Venues() []string {
	return []string{"nonkyc", "coinex", "ascendex"}
}

func parseNonKYCTicker(data []byte) (*Ticker, error) {
	var raw struct {
		Last        string `json:"last"`
		VolumeQuote string `json:"volumeQuote"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("nonkyc ticker: %w", err)
	}
	last, err := decimal.NewFromString(raw.Last)
	if err != nil {
		return nil, fmt.Errorf("nonkyc ticker last %q: %w", raw.Last, err)
	}
	vol, err := decimal.NewFromString(raw.VolumeQuote)
	if err != nil {
		return nil, fmt.Errorf("nonkyc ticker volumeQuote %q: %w", raw.VolumeQuote, err)
	}
	return &Ticker{LastPrice: last, Volume24h: vol}, nil
}

func parseNonKYCTrades(data []byte) ([]PublicTrade, error) {
	var raw []struct {
		Price     string `json:"price"`
		Quantity  string `json:"quantity"`
		Side      string `json:"side"`
		Timestamp string `json:"timestamp"` // RFC3339
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("nonkyc trades: %w", err)
	}
	out := make([]PublicTrade, 0, len(raw))
	for _, r := range raw {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("nonkyc trade price %q: %w", r.Price, err)
		}
		qty, err := decimal.NewFromString(r.Quantity)
		if err != nil {
			return nil, fmt.Errorf("nonkyc trade quantity %q: %w", r.Quantity, err)
		}
		ts, err := time.Parse(time.RFC3339, r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("nonkyc trade timestamp %q: %w", r.Timestamp, err)
		}
		out = append(out, PublicTrade{
			Price:     price,
			Quantity:  qty,
			Timestamp: ts.UnixMilli(),
			Side:      types.NormalizeSide(r.Side),
		})
	}
	return out, nil
}

func parseCoinExTicker(data []byte) (*Ticker, error) {
	var raw struct {
		Code int `json:"code"`
		Data struct {
			Ticker struct {
				Last string `json:"last"`
				Vol  string `json:"vol"` // base-currency volume
			} `json:"ticker"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("coinex ticker: %w", err)
	}
	if raw.Code != 0 {
		return nil, fmt.Errorf("coinex ticker: code %d", raw.Code)
	}
	last, err := decimal.NewFromString(raw.Data.Ticker.Last)
	if err != nil {
		return nil, fmt.Errorf("coinex ticker last %q: %w", raw.Data.Ticker.Last, err)
	}
	vol, err := decimal.NewFromString(raw.Data.Ticker.Vol)
	if err != nil {
		return nil, fmt.Errorf("coinex ticker vol %q: %w", raw.Data.Ticker.Vol, err)
	}
	// CoinEx reports base volume; approximate the quote volume at last price.
	return &Ticker{LastPrice: last, Volume24h: vol.Mul(last)}, nil
}

func parseCoinExTrades(data []byte) ([]PublicTrade, error) {
	var raw struct {
		Code int `json:"code"`
		Data []struct {
			Type   string `json:"type"`
			Price  string `json:"price"`
			Amount string `json:"amount"`
			DateMs int64  `json:"date_ms"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("coinex trades: %w", err)
	}
	if raw.Code != 0 {
		return nil, fmt.Errorf("coinex trades: code %d", raw.Code)
	}
	out := make([]PublicTrade, 0, len(raw.Data))
	for _, r := range raw.Data {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("coinex trade price %q: %w", r.Price, err)
		}
		qty, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("coinex trade amount %q: %w", r.Amount, err)
		}
		out = append(out, PublicTrade{
			Price:     price,
			Quantity:  qty,
			Timestamp: r.DateMs,
			Side:      types.NormalizeSide(r.Type),
		})
	}
	return out, nil
}

func parseAscendEXTicker(data []byte) (*Ticker, error) {
	var raw struct {
		Code int `json:"code"`
		Data struct {
			Close  string `json:"close"`
			Volume string `json:"volume"` // base-currency volume
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ascendex ticker: %w", err)
	}
	if raw.Code != 0 {
		return nil, fmt.Errorf("ascendex ticker: code %d", raw.Code)
	}
	last, err := decimal.NewFromString(raw.Data.Close)
	if err != nil {
		return nil, fmt.Errorf("ascendex ticker close %q: %w", raw.Data.Close, err)
	}
	vol, err := decimal.NewFromString(raw.Data.Volume)
	if err != nil {
		return nil, fmt.Errorf("ascendex ticker volume %q: %w", raw.Data.Volume, err)
	}
	return &Ticker{LastPrice: last, Volume24h: vol.Mul(last)}, nil
}

func parseAscendEXTrades(data []byte) ([]PublicTrade, error) {
	var raw struct {
		Code int `json:"code"`
		Data struct {
			Data []struct {
				P  string `json:"p"`
				Q  string `json:"q"`
				Ts int64  `json:"ts"`
				Bm bool   `json:"bm"`
			} `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("ascendex trades: %w", err)
	}
	if raw.Code != 0 {
		return nil, fmt.Errorf("ascendex trades: code %d", raw.Code)
	}
	out := make([]PublicTrade, 0, len(raw.Data.Data))
	for _, r := range raw.Data.Data {
		price, err := decimal.NewFromString(r.P)
		if err != nil {
			return nil, fmt.Errorf("ascendex trade price %q: %w", r.P, err)
		}
		qty, err := decimal.NewFromString(r.Q)
		if err != nil {
			return nil, fmt.Errorf("ascendex trade quantity %q: %w", r.Q, err)
		}
		out = append(out, PublicTrade{
			Price:     price,
			Quantity:  qty,
			Timestamp: r.Ts,
			Side:      types.SideFromMakerBuyer(r.Bm),
		})
	}
	return out, nil
}
