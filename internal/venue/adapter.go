// Package venue maintains the streaming ingestion layer: one persistent
// WebSocket subscription per (venue, pair), an availability probe that gates
// connections, and the order-book sweep feed.
//
// Each Adapter runs a venue Dialect through a shared connection loop:
//
//	Idle → (availability true) → Connecting → Streaming → Backoff → Connecting
//
// Reconnects back off exponentially (5 s doubling to 60 s; ×3 capped at
// 300 s under rate limiting) and reset after a successful subscribe.
// Liveness: if nothing arrives for 5 s an application-level ping goes out;
// a failed ping or a second silent interval forces a reconnect. Duplicate
// events re-broadcast on reconnect are suppressed by requiring strictly
// increasing event times. Emission applies backpressure: when the
// downstream queue is full the read loop pauses instead of dropping.
package venue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"xbt-alerts/internal/metrics"
	"xbt-alerts/pkg/types"
)

const (
	initialBackoff      = 5 * time.Second
	maxBackoff          = 60 * time.Second
	rateLimitFactor     = 3
	maxRateLimitBackoff = 300 * time.Second
	idleRecheck         = 60 * time.Second // availability recheck while Idle
	silenceBeforePing   = 5 * time.Second
	silenceBeforeDrop   = 15 * time.Second // ping went unanswered, give up
	writeTimeout        = 10 * time.Second
)

// ErrResync signals that the dialect's stream state is unrecoverable (e.g.
// an order-book sequence gap) and the connection must be re-established to
// obtain a fresh snapshot.
var ErrResync = errors.New("stream resync required")

// Dialect captures one venue's streaming wire protocol. Parse may return
// zero events (acks, heartbeats, snapshots) and is free to keep internal
// stream state; returning ErrResync forces a reconnect.
type Dialect interface {
	Venue() string
	Pair() string
	URL() string
	SubscribeFrames() ([][]byte, error)
	PingFrame() ([]byte, error)
	Parse(raw []byte) ([]types.TradeEvent, error)
}

// Adapter runs one venue stream and emits canonical trade events.
type Adapter struct {
	d      Dialect
	probe  *Probe
	out    chan<- types.TradeEvent
	logger *slog.Logger

	lastEventTime int64 // dedupe watermark, adapter goroutine only
}

// NewAdapter creates an adapter for the given dialect. Events are emitted
// into out, which the aggregation side owns.
func NewAdapter(d Dialect, probe *Probe, out chan<- types.TradeEvent, logger *slog.Logger) *Adapter {
	return &Adapter{
		d:     d,
		probe: probe,
		out:   out,
		logger: logger.With(
			"component", "adapter",
			"venue", d.Venue(),
			"pair", d.Pair(),
		),
	}
}

// nextBackoff computes the reconnect delay following prev. Rate-limited
// failures grow faster and tolerate a higher cap.
func nextBackoff(prev time.Duration, rateLimited bool) time.Duration {
	if rateLimited {
		d := prev * rateLimitFactor
		if d > maxRateLimitBackoff {
			d = maxRateLimitBackoff
		}
		return d
	}
	d := prev * 2
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// Run maintains the subscription until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) {
	delay := initialBackoff
	wasLimited := false

	for {
		if ctx.Err() != nil {
			return
		}

		if !a.probe.Available(a.d.Venue()) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleRecheck):
			}
			continue
		}

		subscribed, rateLimited, err := a.connectAndStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if subscribed {
			delay = initialBackoff
		}

		metrics.IncWSReconnects(a.d.Venue(), a.d.Pair())
		if rateLimited && !wasLimited {
			a.logger.Warn("venue is rate limiting us, backing off harder")
		}
		wasLimited = rateLimited

		a.logger.Warn("stream disconnected, reconnecting",
			"error", err,
			"backoff", delay,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = nextBackoff(delay, rateLimited)
	}
}

// connectAndStream dials, subscribes, and reads until the connection dies.
// subscribed reports whether the handshake-and-subscribe completed (resets
// the backoff); rateLimited reports an HTTP-429-like rejection.
func (a *Adapter) connectAndStream(ctx context.Context) (subscribed, rateLimited bool, err error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, a.d.URL(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, true, fmt.Errorf("dial: rate limited: %w", err)
		}
		return false, false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	frames, err := a.d.SubscribeFrames()
	if err != nil {
		return false, false, fmt.Errorf("build subscribe: %w", err)
	}
	for _, frame := range frames {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return false, false, fmt.Errorf("subscribe: %w", err)
		}
	}

	a.logger.Info("stream connected")

	// lastMsg tracks receive times for the liveness goroutine.
	var lastMsg atomic.Int64
	lastMsg.Store(time.Now().UnixNano())

	liveCtx, liveCancel := context.WithCancel(ctx)
	defer liveCancel()
	go a.livenessLoop(liveCtx, conn, &lastMsg)

	for {
		if ctx.Err() != nil {
			return true, false, ctx.Err()
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, false, fmt.Errorf("read: %w", err)
		}
		lastMsg.Store(time.Now().UnixNano())

		events, err := a.d.Parse(msg)
		if err != nil {
			if errors.Is(err, ErrResync) {
				return true, false, err
			}
			a.logger.Warn("unparseable stream message", "error", err)
			continue
		}
		for _, ev := range events {
			if !a.emit(ctx, ev) {
				return true, false, ctx.Err()
			}
		}
	}
}

// livenessLoop sends an application-level ping after 5 s of silence and
// closes the connection (forcing a reconnect) when the ping fails or goes
// unanswered for another interval.
func (a *Adapter) livenessLoop(ctx context.Context, conn *websocket.Conn, lastMsg *atomic.Int64) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	pinged := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			silent := time.Since(time.Unix(0, lastMsg.Load()))
			switch {
			case silent >= silenceBeforeDrop:
				a.logger.Warn("stream silent past ping window, dropping connection")
				conn.Close()
				return
			case silent >= silenceBeforePing && !pinged:
				frame, err := a.d.PingFrame()
				if err != nil {
					conn.Close()
					return
				}
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					a.logger.Warn("ping failed, dropping connection", "error", err)
					conn.Close()
					return
				}
				pinged = true
			case silent < silenceBeforePing:
				pinged = false
			}
		}
	}
}

// emit validates, dedupes, and pushes one event downstream. A full queue
// blocks (backpressure); returns false only when ctx is cancelled.
func (a *Adapter) emit(ctx context.Context, ev types.TradeEvent) bool {
	if err := ev.Validate(); err != nil {
		if !ev.Price.IsPositive() || !ev.Quantity.IsPositive() {
			a.logger.Error("discarding trade with non-positive fields", "error", err)
			return true
		}
		// Gross disagrees with price×quantity: the computed value wins.
		a.logger.Error("trade gross outside tolerance, substituting computed value",
			"error", err,
			"reported", ev.Gross,
		)
		ev.Gross = ev.ComputedGross()
	}

	if ev.EventTime <= a.lastEventTime {
		metrics.IncTradesDeduped(a.d.Venue(), a.d.Pair())
		return true
	}
	a.lastEventTime = ev.EventTime

	select {
	case <-ctx.Done():
		return false
	case a.out <- ev:
		metrics.IncTradesIngested(a.d.Venue(), a.d.Pair())
		return true
	}
}
