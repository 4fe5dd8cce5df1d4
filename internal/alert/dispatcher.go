// Package alert turns qualifying trade activity into Telegram deliveries.
//
// The dispatcher runs its own goroutine so slow Telegram calls never stall
// the aggregation engine; its inbox is bounded and overflow drops the alert
// with a warning. Each alert is enriched with a best-effort market snapshot,
// rendered once, and delivered at most once per destination chat — image
// first, plain text as fallback, no retries. One chat failing never blocks
// the others.
package alert

import (
	"context"
	"log/slog"
	"os"
	"time"

	"xbt-alerts/internal/config"
	"xbt-alerts/internal/marketdata"
	"xbt-alerts/internal/metrics"
	"xbt-alerts/internal/telegram"
	"xbt-alerts/pkg/types"
)

const (
	inboxSize     = 64
	enrichTimeout = 10 * time.Second
	sendTimeout   = 30 * time.Second
)

// Dispatcher consumes alert records and delivers them to the active chats.
type Dispatcher struct {
	cfg     *config.Store
	tg      *telegram.Client
	context *marketdata.Client // venue used for footer enrichment
	logger  *slog.Logger
	inbox   chan types.AlertRecord
}

func NewDispatcher(cfg *config.Store, tg *telegram.Client, contextClient *marketdata.Client, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:     cfg,
		tg:      tg,
		context: contextClient,
		logger:  logger.With("component", "dispatcher"),
		inbox:   make(chan types.AlertRecord, inboxSize),
	}
}

// Dispatch enqueues an alert without blocking the caller. A full inbox drops
// the alert; the pipeline never stalls on Telegram.
func (d *Dispatcher) Dispatch(rec types.AlertRecord) {
	select {
	case d.inbox <- rec:
	default:
		d.logger.Warn("alert inbox full, dropping alert",
			"pair", rec.Pair,
			"gross", rec.CanonicalGross,
		)
		metrics.IncTradesDropped("queue_full")
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-d.inbox:
			d.deliver(ctx, rec)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, rec types.AlertRecord) {
	cfg := d.cfg.Get()

	rec.Market = d.enrich(ctx, rec.Pair, cfg.CirculatingSupply)
	text := Format(rec)

	imagePath := cfg.ImagePath
	if imagePath != "" {
		if _, err := os.Stat(imagePath); err != nil {
			d.logger.Warn("alert image missing, using text only", "path", imagePath, "error", err)
			imagePath = ""
		}
	}

	for _, chatID := range cfg.ActiveChatIDs {
		d.deliverTo(ctx, chatID, imagePath, text, rec)
	}
}

// deliverTo makes at most one successful delivery to a chat: photo with
// caption when an image is configured, text on any photo failure.
func (d *Dispatcher) deliverTo(ctx context.Context, chatID int64, imagePath, text string, rec types.AlertRecord) {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if imagePath != "" {
		err := d.tg.SendPhoto(sendCtx, chatID, imagePath, text)
		if err == nil {
			return
		}
		d.logger.Warn("photo delivery failed, falling back to text",
			"chat_id", chatID,
			"error", err,
		)
	}

	if err := d.tg.SendMessage(sendCtx, chatID, text); err != nil {
		d.logger.Error("alert delivery failed",
			"chat_id", chatID,
			"pair", rec.Pair,
			"gross", rec.CanonicalGross,
			"error", err,
		)
		metrics.IncDeliveriesFailed()
	}
}

// enrich fetches the market-context footer. Failures degrade the alert, not
// the delivery.
func (d *Dispatcher) enrich(ctx context.Context, pair string, circulatingSupply float64) *types.MarketContext {
	if d.context == nil {
		return nil
	}
	enrichCtx, cancel := context.WithTimeout(ctx, enrichTimeout)
	defer cancel()

	m, err := d.context.MarketContext(enrichCtx, pair, circulatingSupply)
	if err != nil {
		d.logger.Warn("market context unavailable", "pair", pair, "error", err)
		return nil
	}
	return m
}
