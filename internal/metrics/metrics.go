// Package metrics — prometheus-метрики бота, отдаются на /metrics health-сервера.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc_bot_cycles_total",
			Help: "Polling cycles by outcome (ok, price_error, balance_error).",
		},
		[]string{"outcome"},
	)

	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc_bot_decisions_total",
			Help: "Decisions by action (buy, sell, hold).",
		},
		[]string{"action"},
	)

	Trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc_bot_trades_total",
			Help: "Executed trades by side and mode (live, dry_run).",
		},
		[]string{"side", "mode"},
	)

	GateDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btc_bot_gate_denials_total",
			Help: "Actions denied by the timing gate, by reason.",
		},
		[]string{"reason"},
	)

	Price = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "btc_bot_price",
			Help: "Last observed BTC price.",
		},
	)

	Profit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "btc_bot_profit",
			Help: "Portfolio profit versus baseline, fiat.",
		},
	)

	OpenLots = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "btc_bot_open_lots",
			Help: "Active and partial lots in the ledger.",
		},
	)
)

func init() {
	prometheus.MustRegister(Cycles, Decisions, Trades, GateDenials)
	prometheus.MustRegister(Price, Profit, OpenLots)
}
