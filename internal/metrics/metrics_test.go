package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

func result(verifier string, verdict world.Verdict, level world.Level, score float64) world.VerificationResult {
	return world.VerificationResult{VerifierID: verifier, Verdict: verdict, Level: level, Score: score}
}

// #region runtime-tests

func TestRuntime_Rates(t *testing.T) {
	r := NewRuntime()
	assert.Equal(t, 0.0, r.AcceptRate())
	assert.Equal(t, 0.0, r.ForkRate())

	r.RecordStep(true, false)
	r.RecordStep(true, true)
	r.RecordStep(false, false)
	r.RecordStep(true, false)
	r.RecordFork()

	assert.Equal(t, 0.75, r.AcceptRate())
	assert.InDelta(t, 1.0/3, r.ForkRate(), 1e-9)

	s := r.Summarize(nil, world.ControllerState{Theta: 0.6})
	assert.Equal(t, 4, s.Attempted)
	assert.Equal(t, 3, s.Accepted)
	assert.Equal(t, 1, s.Rejected)
	assert.Equal(t, 1, s.EscapeCommits)
	assert.Equal(t, 0.333, s.ForkRate)
	assert.Equal(t, 0.6, s.Controller.Theta)
}

func TestRuntime_ValidatorVarianceIsPopulationStdDev(t *testing.T) {
	r := NewRuntime()
	assert.Equal(t, 0.0, r.ValidatorVariance())

	r.ObserveResults([]world.VerificationResult{
		result("a", world.VerdictAccept, world.LevelL2, 2),
		result("b", world.VerdictAccept, world.LevelL2, 4),
		result("c", world.VerdictAccept, world.LevelL2, 4),
		result("d", world.VerdictAccept, world.LevelL2, 4),
	})
	r.ObserveResults([]world.VerificationResult{
		result("a", world.VerdictAccept, world.LevelL2, 5),
		result("b", world.VerdictAccept, world.LevelL2, 5),
		result("c", world.VerdictAccept, world.LevelL2, 7),
		result("d", world.VerdictAccept, world.LevelL2, 9),
	})
	assert.InDelta(t, 2.0, r.ValidatorVariance(), 1e-9)
}

func TestRuntime_RejectByLevel(t *testing.T) {
	r := NewRuntime()
	r.ObserveResults([]world.VerificationResult{
		result("a", world.VerdictReject, world.LevelL0, 0),
		result("b", world.VerdictReject, world.LevelL2, 0.3),
		result("c", world.VerdictAccept, world.LevelL2, 0.7),
		result("d", world.VerdictEscalate, world.LevelL3, 0.5),
	})
	s := r.Summarize(nil, world.ControllerState{})
	assert.Equal(t, map[world.Level]int{world.LevelL0: 1, world.LevelL1: 0, world.LevelL2: 1, world.LevelL3: 0}, s.RejectByLevel)
}

func TestRuntime_DebtTrend(t *testing.T) {
	r := NewRuntime()
	r.ObserveDebt(0.5)
	assert.Equal(t, 0.0, r.DebtTrend())
	r.ObserveDebt(0.3)
	r.ObserveDebt(0.7)
	assert.InDelta(t, 0.3, r.DebtTrend(), 1e-9)
}

func TestRuntime_Signals(t *testing.T) {
	r := NewRuntime()
	r.RecordStep(true, false)
	branches := []world.Branch{{SemanticDebt: 0.4}, {SemanticDebt: 0.6}}
	b := world.Branch{ClosurePressure: 0.7, ChaosPressure: 0.2, Uncertainty: 0.5}

	s := r.Signals(branches, b, 1.4, 0.25)
	assert.Equal(t, 1.0, s.AcceptRate)
	assert.Equal(t, 0.5, s.DebtLevel)
	assert.Equal(t, 1.0, s.Novelty)
	assert.Equal(t, 0.25, s.Stagnation)
	assert.Equal(t, 1.0, s.Stability)
	assert.Equal(t, 0.7, s.ClosurePressure)
	assert.Equal(t, 0.5, s.Uncertainty)
}

func TestMeanDebt(t *testing.T) {
	assert.Equal(t, 0.0, MeanDebt(nil))
	assert.InDelta(t, 0.3, MeanDebt([]world.Branch{{SemanticDebt: 0.2}, {SemanticDebt: 0.4}}), 1e-9)
}

// #endregion runtime-tests

// #region collector-tests

func scrape(t *testing.T, reg *prometheus.Registry) string {
	t.Helper()
	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollector_Exports(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveStep("commit", 20*time.Millisecond)
	c.ObserveStep("reject", 10*time.Millisecond)
	c.ObserveStep("commit", 30*time.Millisecond)
	c.ObserveCandidate(world.Candidate{ProducerID: "producer-aggressive", Source: "template"})
	c.ObserveResults([]world.VerificationResult{result("verifier-a", world.VerdictReject, world.LevelL0, 0)})
	c.ObserveFork()
	c.ObserveController(world.ControllerState{Difficulty: world.DefaultDifficulty(), Mode: world.ModeMaintenance, Theta: 0.61})
	c.ObserveWorld(0.42, 0.8)

	body := scrape(t, reg)
	assert.Contains(t, body, `worldledger_steps_total{decision="commit"} 2`)
	assert.Contains(t, body, `worldledger_steps_total{decision="reject"} 1`)
	assert.Contains(t, body, `worldledger_candidates_total{producer="producer-aggressive",source="template"} 1`)
	assert.Contains(t, body, `worldledger_verdicts_total{level="L0",verdict="REJECT",verifier="verifier-a"} 1`)
	assert.Contains(t, body, `worldledger_forks_total 1`)
	assert.Contains(t, body, `worldledger_controller_theta 0.61`)
	assert.Contains(t, body, `worldledger_controller_mode{mode="maintenance"} 1`)
	assert.Contains(t, body, `worldledger_controller_mode{mode="diversify"} 0`)
	assert.Contains(t, body, `worldledger_controller_difficulty{field="dependency_depth"} 2`)
	assert.Contains(t, body, `worldledger_semantic_debt 0.42`)
	assert.Contains(t, body, `worldledger_step_duration_seconds_count 3`)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ObserveStep("commit", time.Second)
		c.ObserveCandidate(world.Candidate{})
		c.ObserveResults(nil)
		c.ObserveFork()
		c.ObserveController(world.ControllerState{})
		c.ObserveWorld(0, 0)
	})
}

// #endregion collector-tests
