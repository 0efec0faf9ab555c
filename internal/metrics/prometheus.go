package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region collector

// Collector exports engine activity to Prometheus. A nil *Collector is a
// valid no-op, so the engine can run without a registry.
type Collector struct {
	steps        *prometheus.CounterVec
	verdicts     *prometheus.CounterVec
	sources      *prometheus.CounterVec
	forks        prometheus.Counter
	stepDuration prometheus.Histogram
	theta        prometheus.Gauge
	mode         *prometheus.GaugeVec
	difficulty   *prometheus.GaugeVec
	debt         prometheus.Gauge
	stagnation   prometheus.Gauge
}

// NewCollector registers every metric on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		steps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "steps_total",
			Help:      "Engine steps by decision (commit, escape_commit, reject)",
		}, []string{"decision"}),
		verdicts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "verdicts_total",
			Help:      "Verifier verdicts by verifier, verdict and level",
		}, []string{"verifier", "verdict", "level"}),
		sources: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "candidates_total",
			Help:      "Candidates by producer and generation source",
		}, []string{"producer", "source"}),
		forks: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "forks_total",
			Help:      "Branches forked",
		}),
		stepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time of one engine step",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		theta: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "controller",
			Name:      "theta",
			Help:      "Current acceptance threshold",
		}),
		mode: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "controller",
			Name:      "mode",
			Help:      "1 for the active controller mode, 0 otherwise",
		}, []string{"mode"}),
		difficulty: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "controller",
			Name:      "difficulty",
			Help:      "Current difficulty by field",
		}, []string{"field"}),
		debt: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "semantic_debt",
			Help:      "Mean semantic debt across branches",
		}),
		stagnation: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "stagnation_score",
			Help:      "Ontological stagnation score of the last worked branch",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// #endregion collector

// #region record

// ObserveStep records one finished step.
func (c *Collector) ObserveStep(decision string, took time.Duration) {
	if c == nil {
		return
	}
	c.steps.WithLabelValues(decision).Inc()
	c.stepDuration.Observe(took.Seconds())
}

// ObserveCandidate records where a candidate's text came from.
func (c *Collector) ObserveCandidate(cand world.Candidate) {
	if c == nil {
		return
	}
	c.sources.WithLabelValues(cand.ProducerID, cand.Source).Inc()
}

// ObserveResults records every verdict.
func (c *Collector) ObserveResults(results []world.VerificationResult) {
	if c == nil {
		return
	}
	for _, r := range results {
		c.verdicts.WithLabelValues(r.VerifierID, string(r.Verdict), string(r.Level)).Inc()
	}
}

// ObserveFork records one fork.
func (c *Collector) ObserveFork() {
	if c == nil {
		return
	}
	c.forks.Inc()
}

// ObserveController publishes the controller state.
func (c *Collector) ObserveController(cs world.ControllerState) {
	if c == nil {
		return
	}
	c.theta.Set(cs.Theta)
	for _, m := range []world.Mode{world.ModeDiversify, world.ModeConsolidate, world.ModeMaintenance, world.ModeFalseConvergence, world.ModeDeferredTension} {
		v := 0.0
		if m == cs.Mode {
			v = 1
		}
		c.mode.WithLabelValues(string(m)).Set(v)
	}
	d := cs.Difficulty
	c.difficulty.WithLabelValues("dependency_depth").Set(float64(d.DependencyDepth))
	c.difficulty.WithLabelValues("constraint_density").Set(d.ConstraintDensity)
	c.difficulty.WithLabelValues("underspecification_level").Set(d.UnderspecificationLevel)
	c.difficulty.WithLabelValues("future_fragility").Set(d.FutureFragility)
	c.difficulty.WithLabelValues("novelty_budget").Set(d.NoveltyBudget)
}

// ObserveWorld publishes debt and stagnation levels.
func (c *Collector) ObserveWorld(debt, stagnation float64) {
	if c == nil {
		return
	}
	c.debt.Set(debt)
	c.stagnation.Set(stagnation)
}

// #endregion record
