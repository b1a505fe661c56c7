package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"VPScalp/internal/domain/models"
	domrepo "VPScalp/internal/domain/repository"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	cycles          *prometheus.HistogramVec
	signals         *prometheus.CounterVec
	skips           *prometheus.CounterVec
	riskState       *prometheus.GaugeVec
	openPositions   prometheus.Gauge
	positionsClosed *prometheus.CounterVec
	realizedPnL     prometheus.Counter
	realizedLoss    prometheus.Counter
	errorsTotal     *prometheus.CounterVec
	lastPrice       *prometheus.GaugeVec
	latency         *prometheus.HistogramVec
}

var _ domrepo.Metrics = (*Recorder)(nil)

var gateStates = []models.GateState{models.GateActive, models.GateHaltedLoss, models.GateHaltedMinBalance, models.GateReviewGain}

// New registers the recorder's collectors on reg (prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		cycles: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vpscalp_cycle_duration_seconds",
			Help:    "Duration of engine cycles by outcome",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		signals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vpscalp_signals_total",
			Help: "Signals emitted by symbol, direction and quality",
		}, []string{"symbol", "direction", "quality"}),
		skips: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vpscalp_skips_total",
			Help: "Detection skips by reason",
		}, []string{"reason"}),
		riskState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vpscalp_risk_state",
			Help: "1 for the current risk gate state, 0 otherwise",
		}, []string{"state"}),
		openPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "vpscalp_open_positions",
			Help: "Positions currently managed",
		}),
		positionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vpscalp_positions_closed_total",
			Help: "Closed positions by exit reason",
		}, []string{"reason"}),
		realizedPnL: f.NewCounter(prometheus.CounterOpts{
			Name: "vpscalp_realized_profit_usd_total",
			Help: "Sum of positive realized pnl",
		}),
		realizedLoss: f.NewCounter(prometheus.CounterOpts{
			Name: "vpscalp_realized_loss_usd_total",
			Help: "Sum of absolute negative realized pnl",
		}),
		errorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vpscalp_errors_total",
			Help: "Errors by kind",
		}, []string{"type"}),
		lastPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vpscalp_last_price",
			Help: "Last observed close per symbol",
		}, []string{"symbol"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vpscalp_operation_duration_seconds",
			Help:    "Duration of operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (r *Recorder) RecordCycle(outcome string, seconds float64) {
	r.cycles.WithLabelValues(outcome).Observe(seconds)
}

func (r *Recorder) RecordSignal(symbol, direction string, lowQuality bool) {
	q := "ok"
	if lowQuality {
		q = "low"
	}
	r.signals.WithLabelValues(symbol, direction, q).Inc()
}

func (r *Recorder) RecordSkip(reason string) {
	r.skips.WithLabelValues(reason).Inc()
}

// RecordRiskState sets the gauge of the given state to 1 and every other state to 0.
func (r *Recorder) RecordRiskState(state string) {
	for _, s := range gateStates {
		v := 0.0
		if string(s) == state {
			v = 1
		}
		r.riskState.WithLabelValues(string(s)).Set(v)
	}
}

func (r *Recorder) RecordOpenPositions(n int) {
	r.openPositions.Set(float64(n))
}

func (r *Recorder) RecordPositionClosed(reason string, pnl float64) {
	r.positionsClosed.WithLabelValues(reason).Inc()
	if pnl >= 0 {
		r.realizedPnL.Add(pnl)
	} else {
		r.realizedLoss.Add(-pnl)
	}
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLastPrice records the last price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every observation.
type Nop struct{}

var _ domrepo.Metrics = Nop{}

func (Nop) RecordCycle(string, float64)          {}
func (Nop) RecordSignal(string, string, bool)    {}
func (Nop) RecordSkip(string)                    {}
func (Nop) RecordRiskState(string)               {}
func (Nop) RecordOpenPositions(int)              {}
func (Nop) RecordPositionClosed(string, float64) {}
func (Nop) RecordError(string)                   {}
func (Nop) RecordLastPrice(string, float64)      {}
func (Nop) RecordLatency(string, float64)        {}
