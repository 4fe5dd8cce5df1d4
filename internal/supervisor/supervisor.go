// Package supervisor owns the lifecycle of the whole pipeline: it builds
// every component, validates external prerequisites, launches the goroutines,
// and tears them down in order on shutdown.
//
//	adapters → tradeCh → normalizer → normCh → engine → dispatcher → Telegram
//
// Channels are bounded; a stalled downstream backpressures ingestion instead
// of growing memory.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"xbt-alerts/internal/aggregate"
	"xbt-alerts/internal/alert"
	"xbt-alerts/internal/config"
	"xbt-alerts/internal/marketdata"
	"xbt-alerts/internal/normalize"
	"xbt-alerts/internal/telegram"
	"xbt-alerts/internal/threshold"
	"xbt-alerts/internal/venue"
	"xbt-alerts/pkg/types"
)

const (
	tradeQueueSize    = 256
	normQueueSize     = 256
	heartbeatInterval = 60 * time.Second
	stopGrace         = 10 * time.Second
)

// primaryPair is the market every venue streams; primaryVenue backs the
// reference rate, threshold volume, and alert enrichment.
const (
	primaryPair  = "XBT/USDT"
	crossPair    = "XBT/BTC"
	primaryVenue = "nonkyc"
)

// Supervisor builds and runs the alert pipeline.
type Supervisor struct {
	cfg    *config.Store
	tg     *telegram.Client
	logger *slog.Logger

	clients    map[string]*marketdata.Client
	rates      *marketdata.RateCache
	probe      *venue.Probe
	adapters   []*venue.Adapter
	normalizer *normalize.Normalizer
	engine     *aggregate.Engine
	dispatcher *alert.Dispatcher
	controller *threshold.Controller

	tradeCh chan types.TradeEvent

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	running   bool
}

// New wires all components from the config document. Nothing is started yet.
func New(cfg *config.Store, logger *slog.Logger) (*Supervisor, error) {
	doc := cfg.Get()

	clients := make(map[string]*marketdata.Client)
	for _, v := range marketdata.Venues() {
		client, err := marketdata.NewClient(v, doc.Venues[v], logger)
		if err != nil {
			return nil, fmt.Errorf("venue client %s: %w", v, err)
		}
		clients[v] = client
	}

	primary := clients[primaryVenue]
	rates := marketdata.NewRateCache(primary, logger)

	// The sweep feed probes through the same venue as the trade feed but
	// keeps its own availability key.
	probeClients := make(map[string]*marketdata.Client, len(clients)+1)
	probePairs := make(map[string]string, len(clients)+1)
	for v, client := range clients {
		probeClients[v] = client
		probePairs[v] = primaryPair
	}
	probeClients["nonkyc-sweep"] = primary
	probePairs["nonkyc-sweep"] = primaryPair
	probe := venue.NewProbe(probeClients, probePairs, logger)

	tradeCh := make(chan types.TradeEvent, tradeQueueSize)
	normCh := make(chan types.NormalizedTrade, normQueueSize)

	tg := telegram.NewClient(doc.BotToken)
	dispatcher := alert.NewDispatcher(cfg, tg, primary, logger)
	engine := aggregate.New(cfg, dispatcher, normCh, logger)
	normalizer := normalize.New(rates, tradeCh, normCh, logger)
	controller := threshold.New(cfg, primary, primaryPair, logger)

	s := &Supervisor{
		cfg:        cfg,
		tg:         tg,
		logger:     logger.With("component", "supervisor"),
		clients:    clients,
		rates:      rates,
		probe:      probe,
		normalizer: normalizer,
		engine:     engine,
		dispatcher: dispatcher,
		controller: controller,
		tradeCh:    tradeCh,
	}
	s.buildAdapters(doc, logger)
	return s, nil
}

func (s *Supervisor) buildAdapters(doc config.Config, logger *slog.Logger) {
	dialects := []venue.Dialect{
		venue.NewNonKYC(primaryPair),
		venue.NewNonKYC(crossPair),
		venue.NewCoinEx(primaryPair),
		venue.NewAscendEX(primaryPair),
	}
	if doc.SweepOrders.Enabled {
		dialects = append(dialects, venue.NewNonKYCSweep(primaryPair, s.sweepSettings))
	}
	for _, d := range dialects {
		s.adapters = append(s.adapters, venue.NewAdapter(d, s.probe, s.tradeCh, logger))
	}
}

// sweepSettings snapshots the live sweep config for the book dialect.
func (s *Supervisor) sweepSettings() venue.SweepSettings {
	so := s.cfg.Get().SweepOrders
	return venue.SweepSettings{
		Enabled:         so.Enabled,
		MinValue:        decimal.NewFromFloat(so.MinValue),
		MinOrdersFilled: so.MinOrdersFilled,
		Cooldown:        time.Duration(so.CheckInterval) * time.Second,
	}
}

// Start validates the bot token and launches the pipeline. A rejected token
// aborts startup before any venue connection is made.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("already running")
	}

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 15*time.Second)
	username, err := s.tg.GetMe(checkCtx)
	checkCancel()
	if err != nil {
		return fmt.Errorf("telegram token check: %w", err)
	}
	s.logger.Info("telegram token validated", "bot", username)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.startedAt = time.Now()
	s.running = true

	var wg sync.WaitGroup
	run := func(f func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(ctx)
		}()
	}

	run(s.probe.Run)
	run(s.rates.Run)
	run(s.normalizer.Run)
	run(s.engine.Run)
	run(s.dispatcher.Run)
	run(s.controller.Run)
	for _, a := range s.adapters {
		run(a.Run)
	}
	run(s.watchAvailability)
	run(s.heartbeat)

	go func() {
		wg.Wait()
		close(s.done)
	}()

	s.logger.Info("pipeline started", "adapters", len(s.adapters))
	return nil
}

// Stop cancels the pipeline and waits a bounded grace period for goroutines
// to drain.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		s.logger.Info("pipeline stopped")
	case <-time.After(stopGrace):
		s.logger.Warn("pipeline stop timed out, exiting anyway")
	}
}

// watchAvailability logs venue availability transitions.
func (s *Supervisor) watchAvailability(ctx context.Context) {
	transitions := s.probe.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-transitions:
			s.logger.Info("venue availability changed",
				"venue", t.Venue,
				"available", t.Available,
			)
		}
	}
}

// heartbeat periodically logs a one-line liveness summary.
func (s *Supervisor) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rate, _ := s.rates.Get()
			s.logger.Info("heartbeat",
				"threshold", s.cfg.Threshold(),
				"reference_rate", rate,
				"uptime", time.Since(s.startedAt).Round(time.Second),
			)
		}
	}
}

// Running reports whether the pipeline is active.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetThreshold updates the static alert threshold at runtime.
func (s *Supervisor) SetThreshold(v float64) error {
	return s.cfg.SetThreshold(v)
}

// ToggleAggregation flips windowed aggregation and reports the new state.
func (s *Supervisor) ToggleAggregation() (bool, error) {
	return s.cfg.ToggleAggregation()
}

// Test injects one synthetic threshold-crossing trade into the aggregation
// engine, exercising bucketing, the threshold check, enrichment, formatting,
// and delivery end to end.
func (s *Supervisor) Test() error {
	doc := s.cfg.Get()
	price := decimal.NewFromFloat(0.1)
	gross := decimal.NewFromFloat(doc.ValueRequire)
	now := time.Now()

	ev := types.TradeEvent{
		Venue:       primaryVenue,
		Pair:        primaryPair,
		Side:        types.SideBuy,
		Price:       price,
		Quantity:    gross.Div(price).Round(types.QuantityScale),
		EventTime:   now.UnixMilli(),
		ReceiveTime: now.UnixMilli(),
		VenueURL:    s.clients[primaryVenue].MarketURL(primaryPair),
	}
	ev.Gross = ev.ComputedGross()

	nt := types.NormalizedTrade{
		TradeEvent:     ev,
		CanonicalPrice: ev.Price,
		CanonicalGross: ev.Gross,
	}
	return s.engine.Inject(context.Background(), nt)
}

// Debug is the /status snapshot.
func (s *Supervisor) Debug() map[string]any {
	doc := s.cfg.Get()
	rate, haveRate := s.rates.Get()

	s.mu.Lock()
	running := s.running
	startedAt := s.startedAt
	s.mu.Unlock()

	out := map[string]any{
		"running":             running,
		"threshold":           doc.ValueRequire,
		"destinations":        len(doc.ActiveChatIDs),
		"aggregation_enabled": doc.TradeAggregation.Enabled,
		"window_seconds":      doc.TradeAggregation.WindowSeconds,
		"dynamic_threshold":   doc.DynamicThreshold.Enabled,
		"sweep_orders":        doc.SweepOrders.Enabled,
		"image_configured":    doc.ImagePath != "",
		"time_utc":            time.Now().UTC().Format(time.RFC3339),
	}
	if running {
		out["uptime"] = time.Since(startedAt).Round(time.Second).String()
	}
	if haveRate {
		out["reference_rate"] = rate.String()
	}
	return out
}
