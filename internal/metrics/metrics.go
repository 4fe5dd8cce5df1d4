// Package metrics — Prometheus instrumentation for the alert pipeline.
//
// Exposes the primary counters and gauges the bot updates during operation:
//   - xbt_trades_ingested_total{venue,pair}  – canonical trades emitted by adapters
//   - xbt_trades_deduped_total{venue,pair}   – duplicate events skipped on reconnect
//   - xbt_trades_dropped_total{reason}       – drops (missing rate, late for closed bucket)
//   - xbt_ws_reconnects_total{venue,pair}    – stream reconnect attempts
//   - xbt_buckets_closed_total{result}       – closed buckets by outcome (alerted|discarded)
//   - xbt_alerts_total{kind}                 – alerts dispatched (single|aggregated)
//   - xbt_deliveries_failed_total            – per-destination delivery failures
//   - xbt_threshold_value                    – effective alert threshold (gauge)
//   - xbt_reference_rate                     – cached BTC/USDT rate (gauge)
//   - xbt_open_buckets                       – currently open aggregation buckets (gauge)
//
// These are registered in init() and served by the ops HTTP server at
// /metrics (Prometheus text exposition format).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	tradesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbt_trades_ingested_total",
			Help: "Canonical trade events emitted by venue adapters",
		},
		[]string{"venue", "pair"},
	)

	tradesDeduped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbt_trades_deduped_total",
			Help: "Duplicate trade events skipped by adapters",
		},
		[]string{"venue", "pair"},
	)

	tradesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbt_trades_dropped_total",
			Help: "Trades dropped before aggregation, by reason",
		},
		[]string{"reason"}, // missing_rate | late_bucket | queue_full
	)

	wsReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbt_ws_reconnects_total",
			Help: "Venue stream reconnect attempts",
		},
		[]string{"venue", "pair"},
	)

	bucketsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbt_buckets_closed_total",
			Help: "Aggregation buckets closed, by outcome",
		},
		[]string{"result"}, // alerted | discarded
	)

	alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xbt_alerts_total",
			Help: "Alerts dispatched, by kind",
		},
		[]string{"kind"}, // single | aggregated
	)

	deliveriesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "xbt_deliveries_failed_total",
			Help: "Per-destination chat delivery failures",
		},
	)

	thresholdValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xbt_threshold_value",
			Help: "Effective alert threshold in the canonical quote",
		},
	)

	referenceRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xbt_reference_rate",
			Help: "Cached BTC/USDT reference rate",
		},
	)

	openBuckets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "xbt_open_buckets",
			Help: "Currently open aggregation buckets",
		},
	)
)

func init() {
	prometheus.MustRegister(tradesIngested, tradesDeduped, tradesDropped)
	prometheus.MustRegister(wsReconnects, bucketsClosed, alerts, deliveriesFailed)
	prometheus.MustRegister(thresholdValue, referenceRate, openBuckets)
}

func IncTradesIngested(venue, pair string) { tradesIngested.WithLabelValues(venue, pair).Inc() }
func IncTradesDeduped(venue, pair string)  { tradesDeduped.WithLabelValues(venue, pair).Inc() }
func IncTradesDropped(reason string)       { tradesDropped.WithLabelValues(reason).Inc() }
func IncWSReconnects(venue, pair string)   { wsReconnects.WithLabelValues(venue, pair).Inc() }
func IncBucketsClosed(result string)       { bucketsClosed.WithLabelValues(result).Inc() }
func IncAlerts(kind string)                { alerts.WithLabelValues(kind).Inc() }
func IncDeliveriesFailed()                 { deliveriesFailed.Inc() }
func SetThresholdValue(v float64)          { thresholdValue.Set(v) }
func SetReferenceRate(v float64)           { referenceRate.Set(v) }
func SetOpenBuckets(n int)                 { openBuckets.Set(float64(n)) }
