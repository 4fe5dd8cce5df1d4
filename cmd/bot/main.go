// XBT Alerts — a Telegram bot that watches XBT spot markets across several
// exchanges and reports large buys in real time.
//
// Architecture:
//
//	main.go                  — entry point: loads config, starts the supervisor, waits for SIGINT/SIGTERM
//	supervisor/supervisor.go — orchestrator: wires adapters → normalizer → engine → dispatcher
//	venue/adapter.go         — WebSocket trade feeds with availability gating and auto-reconnect
//	venue/sweep.go           — order-book mirror that reports multi-level ask sweeps
//	normalize/normalizer.go  — converts cross-quoted trades to USDT via the BTC/USDT rate
//	aggregate/engine.go      — event-time windows; coalesces bursts and applies the threshold
//	threshold/controller.go  — recomputes the alert floor from 24 h venue volume
//	alert/dispatcher.go      — enriches, formats, and delivers alerts to Telegram chats
//	marketdata/client.go     — per-venue REST clients (tickers, trades, market context)
//	config/store.go          — validated, atomically persisted runtime configuration
//	api/server.go            — ops endpoints: /healthz, /status, /metrics
//
// What it reports:
//
//	Every buy (or burst of buys within one aggregation window) whose gross
//	value in USDT crosses the threshold produces one Telegram alert with the
//	trade details and a market snapshot. XBT/BTC trades are converted with
//	the live BTC/USDT rate. The threshold can track 24 h volume so quiet
//	markets alert on smaller prints than busy ones.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"xbt-alerts/internal/api"
	"xbt-alerts/internal/config"
	"xbt-alerts/internal/supervisor"
)

func main() {
	// Load config
	cfgPath := "configs/config.json"
	if p := os.Getenv("XBT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	store := config.NewStore(cfgPath, *cfg)

	sup, err := supervisor.New(store, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	// Start ops server if enabled
	var opsServer *api.Server
	if cfg.Ops.Enabled {
		opsServer = api.NewServer(cfg.Ops, sup, logger)
		go func() {
			if err := opsServer.Start(); err != nil {
				logger.Error("ops server failed", "error", err)
			}
		}()
		logger.Info("ops server started", "url", fmt.Sprintf("http://localhost:%d", cfg.Ops.Port))
	}

	if err := sup.Start(); err != nil {
		logger.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}

	logger.Info("xbt alerts started",
		"threshold", cfg.ValueRequire,
		"destinations", len(cfg.ActiveChatIDs),
		"aggregation", cfg.TradeAggregation.Enabled,
		"window_seconds", cfg.TradeAggregation.WindowSeconds,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if opsServer != nil {
		if err := opsServer.Stop(); err != nil {
			logger.Error("failed to stop ops server", "error", err)
		}
	}

	sup.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
