package metrics

import (
	"net/http"
	"time"

	"github.com/gregtusar/pairs/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements trader.Metrics using Prometheus.
type Recorder struct {
	registry *prometheus.Registry

	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	signals      *prometheus.CounterVec
	zScore       *prometheus.GaugeVec
	orders       *prometheus.CounterVec
	backtests    *prometheus.CounterVec
	btDuration   prometheus.Histogram
}

// New registers the pipeline collectors on a private registry, alongside the
// Go runtime and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		ticks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairs_pipeline_runs_total",
				Help: "Pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		tickDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pairs_pipeline_duration_seconds",
				Help:    "Duration of one pipeline run",
				Buckets: prometheus.DefBuckets,
			},
		),
		signals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairs_signals_total",
				Help: "Signals produced by the signal engine",
			},
			[]string{"pair", "signal"},
		),
		zScore: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pairs_zscore",
				Help: "Latest spread z-score per pair",
			},
			[]string{"pair"},
		),
		orders: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairs_orders_total",
				Help: "Leg orders by symbol, side and result",
			},
			[]string{"symbol", "side", "result"},
		),
		backtests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pairs_backtests_total",
				Help: "Backtests by result",
			},
			[]string{"result"},
		),
		btDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pairs_backtest_duration_seconds",
				Help:    "Duration of a single-pair backtest",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
	}
}

func (r *Recorder) ObserveTick(outcome string, d time.Duration) {
	r.ticks.WithLabelValues(outcome).Inc()
	r.tickDuration.Observe(d.Seconds())
}

func (r *Recorder) ObserveSignal(pair string, signal models.Signal, zScore float64) {
	r.signals.WithLabelValues(pair, string(signal)).Inc()
	r.zScore.WithLabelValues(pair).Set(zScore)
}

func (r *Recorder) ObserveOrder(symbol string, side models.OrderSide, err error) {
	r.orders.WithLabelValues(symbol, string(side), result(err)).Inc()
}

// ObserveBacktest counts per result; pair is not a label to keep batch
// cardinality bounded.
func (r *Recorder) ObserveBacktest(_ string, err error, d time.Duration) {
	r.backtests.WithLabelValues(result(err)).Inc()
	r.btDuration.Observe(d.Seconds())
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
