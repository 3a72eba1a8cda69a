// Package metrics exposes per-role Prometheus collectors over HTTP,
// wiring the client_golang dependency the teacher's go.mod declares but
// never uses (the library is reused here for its stated purpose, not
// reimplemented on the standard library).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the counters and gauges every role increments.
type Registry struct {
	reg *prometheus.Registry

	GeneratorCandidatesEmitted *prometheus.CounterVec
	ValidatorDecisions         *prometheus.CounterVec
	BacktestsRun               *prometheus.CounterVec
	ClassifierPromotions       prometheus.Counter
	ClassifierRetirements      *prometheus.CounterVec
	DeploysSucceeded           prometheus.Counter
	DeploysFailed              prometheus.Counter
	TradesOpened               *prometheus.CounterVec
	TradesClosed               *prometheus.CounterVec
	EmergencyStopsTriggered    *prometheus.CounterVec
	LivePoolSize               prometheus.Gauge
	QueueDepth                 *prometheus.GaugeVec
}

// New builds a Registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		GeneratorCandidatesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_generator_candidates_emitted_total",
			Help: "Candidate strategies emitted by the generator, by source family.",
		}, []string{"source"}),
		ValidatorDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_validator_decisions_total",
			Help: "Validator pass/fail decisions, by stage and outcome.",
		}, []string{"stage", "outcome"}),
		BacktestsRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_backtests_run_total",
			Help: "Backtest evaluations run, by period (full or recent).",
		}, []string{"period"}),
		ClassifierPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_classifier_promotions_total",
			Help: "Strategies promoted from tested to selected.",
		}),
		ClassifierRetirements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_classifier_retirements_total",
			Help: "Live strategies retired, by reason.",
		}, []string{"reason"}),
		DeploysSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_deploys_succeeded_total",
			Help: "Successful strategy deployments to a live subaccount.",
		}),
		DeploysFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_deploys_failed_total",
			Help: "Failed strategy deployment attempts.",
		}),
		TradesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_trades_opened_total",
			Help: "Trades opened by the executor, by direction.",
		}, []string{"direction"}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_trades_closed_total",
			Help: "Trades closed by the executor, by exit reason.",
		}, []string{"reason"}),
		EmergencyStopsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_emergency_stops_triggered_total",
			Help: "Emergency stops triggered, by scope.",
		}, []string{"scope"}),
		LivePoolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_live_pool_size",
			Help: "Number of strategies currently in the live pool.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Depth of an internal work queue, by queue name.",
		}, []string{"queue"}),
	}

	reg.MustRegister(
		m.GeneratorCandidatesEmitted, m.ValidatorDecisions, m.BacktestsRun,
		m.ClassifierPromotions, m.ClassifierRetirements,
		m.DeploysSucceeded, m.DeploysFailed,
		m.TradesOpened, m.TradesClosed, m.EmergencyStopsTriggered,
		m.LivePoolSize, m.QueueDepth,
	)
	return m
}

// Handler returns the HTTP handler exporting every registered collector.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
