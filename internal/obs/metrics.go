// Package obs exposes the Prometheus metrics surface. Counters answer
// "is the pipeline healthy"; gauges answer "what is the fleet worth".
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the registered metric set. One instance per process.
type Metrics struct {
	OrdersTotal *prometheus.CounterVec
	FillsTotal  *prometheus.CounterVec
	TripsTotal  *prometheus.CounterVec
	Quarantines *prometheus.CounterVec
	Equity      *prometheus.GaugeVec
	DrawdownBps *prometheus.GaugeVec
}

// NewMetrics registers the metric set on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amarktai_orders_total",
			Help: "Order submissions by terminal status and rejection reason.",
		}, []string{"status", "reason"}),
		FillsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amarktai_fills_total",
			Help: "Recorded fills by source (paper or live).",
		}, []string{"source"}),
		TripsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amarktai_circuit_trips_total",
			Help: "Circuit breaker trips by reason.",
		}, []string{"reason"}),
		Quarantines: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "amarktai_quarantines_total",
			Help: "Quarantine transitions by action.",
		}, []string{"action"}),
		Equity: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amarktai_bot_equity_micros",
			Help: "Current bot equity in micro-units of quote currency.",
		}, []string{"bot_id"}),
		DrawdownBps: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "amarktai_bot_drawdown_bps",
			Help: "Current bot drawdown from peak equity, in basis points.",
		}, []string{"bot_id"}),
	}
}

// Nop returns a metric set backed by a throwaway registry, for tests and
// tools that do not scrape.
func Nop() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ForgetBot removes a deleted bot's gauge series so dashboards do not
// show a dead bot's last equity forever.
func (m *Metrics) ForgetBot(botID string) {
	m.Equity.DeleteLabelValues(botID)
	m.DrawdownBps.DeleteLabelValues(botID)
}
