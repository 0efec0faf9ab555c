package metrics

import (
	"math"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region runtime

// Runtime accumulates per-run statistics. It is owned by the engine's step
// loop and is not safe for concurrent use.
type Runtime struct {
	attempted int
	accepted  int
	rejected  int
	forks     int
	escapes   int

	rejectByLevel map[world.Level]int

	// Welford accumulators over every verifier score.
	n    int
	mean float64
	m2   float64

	debt []float64
}

// NewRuntime creates an empty Runtime.
func NewRuntime() *Runtime {
	return &Runtime{rejectByLevel: map[world.Level]int{
		world.LevelL0: 0, world.LevelL1: 0, world.LevelL2: 0, world.LevelL3: 0,
	}}
}

// RecordStep counts one challenge and whether it committed a state.
func (r *Runtime) RecordStep(accepted, escape bool) {
	r.attempted++
	if accepted {
		r.accepted++
		if escape {
			r.escapes++
		}
		return
	}
	r.rejected++
}

// RecordFork counts one fork.
func (r *Runtime) RecordFork() { r.forks++ }

// ObserveResults folds verifier scores into the variance estimate and
// counts rejections by the level they were reached at.
func (r *Runtime) ObserveResults(results []world.VerificationResult) {
	for _, res := range results {
		r.n++
		d := res.Score - r.mean
		r.mean += d / float64(r.n)
		r.m2 += d * (res.Score - r.mean)
		if res.Verdict == world.VerdictReject {
			r.rejectByLevel[res.Level]++
		}
	}
}

// ObserveDebt appends the semantic debt of a committed state.
func (r *Runtime) ObserveDebt(d float64) { r.debt = append(r.debt, d) }

// #endregion runtime

// #region derived

// AcceptRate is accepted / max(1, attempted).
func (r *Runtime) AcceptRate() float64 {
	return float64(r.accepted) / float64(max(1, r.attempted))
}

// ForkRate is forks / max(1, accepted).
func (r *Runtime) ForkRate() float64 {
	return float64(r.forks) / float64(max(1, r.accepted))
}

// ValidatorVariance is the population standard deviation of every
// verifier score seen so far.
func (r *Runtime) ValidatorVariance() float64 {
	if r.n < 2 {
		return 0
	}
	return math.Sqrt(r.m2 / float64(r.n))
}

// DebtTrend is the last debt minus the mean of the earlier ones.
func (r *Runtime) DebtTrend() float64 {
	if len(r.debt) < 2 {
		return 0
	}
	prev := r.debt[:len(r.debt)-1]
	sum := 0.0
	for _, d := range prev {
		sum += d
	}
	return r.debt[len(r.debt)-1] - sum/float64(len(prev))
}

// Signals derives the controller inputs for one step from the run totals,
// the branch that was worked on, and the step's novelty and stagnation.
func (r *Runtime) Signals(branches []world.Branch, branch world.Branch, novelty, stagnation float64) world.Signals {
	variance := r.ValidatorVariance()
	return world.Signals{
		AcceptRate:      round(r.AcceptRate(), 3),
		ForkRate:        round(r.ForkRate(), 3),
		Variance:        round(variance, 4),
		DebtLevel:       round(MeanDebt(branches), 3),
		DebtTrend:       round(r.DebtTrend(), 4),
		Novelty:         world.Clamp01(novelty),
		Stability:       1 - math.Min(1, 2*variance),
		Stagnation:      world.Clamp01(stagnation),
		ClosurePressure: branch.ClosurePressure,
		ChaosPressure:   branch.ChaosPressure,
		Uncertainty:     branch.Uncertainty,
	}
}

// Summarize builds the run summary.
func (r *Runtime) Summarize(branches []world.Branch, cs world.ControllerState) Summary {
	levels := make(map[world.Level]int, len(r.rejectByLevel))
	for k, v := range r.rejectByLevel {
		levels[k] = v
	}
	return Summary{
		Attempted:         r.attempted,
		Accepted:          r.accepted,
		Rejected:          r.rejected,
		Forks:             r.forks,
		EscapeCommits:     r.escapes,
		AcceptRate:        round(r.AcceptRate(), 3),
		ForkRate:          round(r.ForkRate(), 3),
		RejectByLevel:     levels,
		ValidatorVariance: round(r.ValidatorVariance(), 4),
		SemanticDebt:      round(MeanDebt(branches), 3),
		DebtTrend:         round(r.DebtTrend(), 4),
		Branches:          len(branches),
		Controller:        cs,
	}
}

// MeanDebt averages semantic debt over branches; zero without branches.
func MeanDebt(branches []world.Branch) float64 {
	if len(branches) == 0 {
		return 0
	}
	sum := 0.0
	for _, b := range branches {
		sum += b.SemanticDebt
	}
	return sum / float64(len(branches))
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

// #endregion derived
