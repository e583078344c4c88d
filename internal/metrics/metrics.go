package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GoPolymarket/weather-trader/internal/engine"
)

// Recorder exports engine activity to Prometheus.
type Recorder struct {
	signals      *prometheus.CounterVec
	orders       *prometheus.CounterVec
	sourceErrors *prometheus.CounterVec
	guardLocked  *prometheus.GaugeVec
	riskySources *prometheus.GaugeVec
	divergence   *prometheus.GaugeVec
	available    *prometheus.GaugeVec
	consensus    *prometheus.GaugeVec
	resonance    *prometheus.GaugeVec
	tickDuration *prometheus.HistogramVec
	settlements  *prometheus.CounterVec
	realizedPnL  *prometheus.GaugeVec
}

// New registers the collectors on reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Recorder{
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_trader_signals_total",
			Help: "Signals emitted per market and type",
		}, []string{"market", "type"}),
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_trader_orders_total",
			Help: "Order submissions per market and result",
		}, []string{"market", "result"}),
		sourceErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_trader_source_errors_total",
			Help: "Failed source polls and forecast fetches",
		}, []string{"market", "source", "op"}),
		guardLocked: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weather_trader_guard_locked",
			Help: "1 while the forecast guard is locked",
		}, []string{"market"}),
		riskySources: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weather_trader_guard_risky_sources",
			Help: "Forecast sources classified risky at the last recompute",
		}, []string{"market"}),
		divergence: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weather_trader_consensus_divergence_celsius",
			Help: "Spread between the highest and lowest current reading",
		}, []string{"market"}),
		available: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weather_trader_sources_available",
			Help: "Sources that reported on the last tick",
		}, []string{"market"}),
		consensus: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weather_trader_consensus_actual_celsius",
			Help: "Consensus actual temperature",
		}, []string{"market"}),
		resonance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weather_trader_resonance",
			Help: "Resonance count of the active phase",
		}, []string{"market"}),
		tickDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "weather_trader_tick_duration_seconds",
			Help:    "Wall time of one market tick including I/O",
			Buckets: prometheus.DefBuckets,
		}, []string{"market"}),
		settlements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "weather_trader_settlements_total",
			Help: "Resolved positions per market and outcome",
		}, []string{"market", "outcome"}),
		realizedPnL: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "weather_trader_realized_pnl_usdc",
			Help: "Realized PnL of resolved positions",
		}, []string{"market"}),
	}
}

// RecordDecision updates every per-tick series from a decision.
func (r *Recorder) RecordDecision(d engine.Decision) {
	m := d.Market
	r.signals.WithLabelValues(m, string(d.Signal.Type)).Inc()
	if d.Guard.Locked {
		r.guardLocked.WithLabelValues(m).Set(1)
	} else {
		r.guardLocked.WithLabelValues(m).Set(0)
	}
	r.riskySources.WithLabelValues(m).Set(float64(d.Guard.RiskyCount))
	r.available.WithLabelValues(m).Set(float64(d.Snapshot.AvailableCount))
	if d.Snapshot.Divergence.OK {
		r.divergence.WithLabelValues(m).Set(d.Snapshot.Divergence.C)
	}
	if d.Snapshot.Actual.OK {
		r.consensus.WithLabelValues(m).Set(d.Snapshot.Actual.C)
	}
	r.resonance.WithLabelValues(m).Set(float64(d.Signal.Resonance))
	if d.Order.Submitted {
		result := "acked"
		if d.Order.Err != "" {
			result = "failed"
		}
		r.orders.WithLabelValues(m, result).Inc()
	}
}

func (r *Recorder) RecordSourceError(market, source, op string) {
	r.sourceErrors.WithLabelValues(market, source, op).Inc()
}

func (r *Recorder) RecordTick(market string, seconds float64) {
	r.tickDuration.WithLabelValues(market).Observe(seconds)
}

// RecordSettlement counts a resolved position and adds its PnL.
func (r *Recorder) RecordSettlement(market, outcome string, pnl float64) {
	r.settlements.WithLabelValues(market, outcome).Inc()
	r.realizedPnL.WithLabelValues(market).Add(pnl)
}
