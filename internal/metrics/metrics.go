// Package metrics – Prometheus metrics for observability.
//
// Exposes the primary series the engine updates while running:
//   - flipbot_ticks_total                 – engine tick cycles completed
//   - flipbot_tick_errors_total           – tick cycles that recovered from a fault
//   - flipbot_entries_total{mode,side}    – entries placed (mode: paper|live)
//   - flipbot_entry_rejections_total{stage} – entries rejected before the venue (sizing|executor)
//   - flipbot_exits_total{reason,side}    – exits split by reason and side
//   - flipbot_open_positions              – current open position count (gauge)
//   - flipbot_realized_pnl_usdt           – cumulative realized PnL (gauge)
//   - flipbot_stale_orders_canceled_total – orders swept by the TTL reaper
//
// Served at /metrics by the HTTP listener started from main.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ticks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flipbot_ticks_total",
		Help: "Engine tick cycles completed",
	})

	tickErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flipbot_tick_errors_total",
		Help: "Tick cycles that recovered from a fault",
	})

	entries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flipbot_entries_total",
			Help: "Entries placed",
		},
		[]string{"mode", "side"},
	)

	entryRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flipbot_entry_rejections_total",
			Help: "Entries rejected before reaching the venue",
		},
		[]string{"stage"}, // sizing|executor
	)

	exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flipbot_exits_total",
			Help: "Exits split by reason and side",
		},
		[]string{"reason", "side"},
	)

	openPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flipbot_open_positions",
		Help: "Current open position count",
	})

	realizedPnL = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flipbot_realized_pnl_usdt",
		Help: "Cumulative realized PnL in USDT since start",
	})

	staleOrdersCanceled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flipbot_stale_orders_canceled_total",
		Help: "Orders swept by the stale-order TTL reaper",
	})
)

func init() {
	prometheus.MustRegister(ticks, tickErrors, entries, entryRejections)
	prometheus.MustRegister(exits, openPositions, realizedPnL, staleOrdersCanceled)
}

func IncTick()                       { ticks.Inc() }
func IncTickError()                  { tickErrors.Inc() }
func IncEntry(mode, side string)     { entries.WithLabelValues(mode, side).Inc() }
func IncEntryRejection(stage string) { entryRejections.WithLabelValues(stage).Inc() }
func IncExit(reason, side string)    { exits.WithLabelValues(reason, side).Inc() }
func SetOpenPositions(n int)         { openPositions.Set(float64(n)) }
func AddRealizedPnL(v float64)       { realizedPnL.Add(v) }
func AddStaleOrdersCanceled(n int)   { staleOrdersCanceled.Add(float64(n)) }

// Serve starts the metrics listener. It blocks, so callers run it in a
// goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
