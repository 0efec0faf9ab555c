package verify

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/worldledger/internal/invariant"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region general-verifier

// GeneralVerifier scores narrative risk: invariants first, then closure,
// chaos, and fragility blended into a composite with bounded noise.
type GeneralVerifier struct {
	spec      GeneralSpec
	config    Config
	checker   *invariant.Checker
	estimator RiskEstimator
	logger    *zap.Logger
}

// NewGeneralVerifier creates a GeneralVerifier. estimator may be nil.
func NewGeneralVerifier(spec GeneralSpec, config Config, checker *invariant.Checker, estimator RiskEstimator, logger *zap.Logger) *GeneralVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeneralVerifier{
		spec:      spec,
		config:    config,
		checker:   checker,
		estimator: estimator,
		logger:    logger.Named(spec.ID),
	}
}

// ID returns the verifier id.
func (v *GeneralVerifier) ID() string { return v.spec.ID }

// Evaluate runs the L0 invariant pass and the L2/L3 risk scoring.
func (v *GeneralVerifier) Evaluate(ctx context.Context, ch world.Challenge, cand world.Candidate, rng *rand.Rand) world.VerificationResult {
	// --- L0: world invariants ---
	if inv := v.checker.Check(cand); !inv.Passed {
		details := make([]string, 0, len(inv.Violations))
		for _, viol := range inv.Violations {
			details = append(details, viol.Detail)
		}
		return world.VerificationResult{
			CandidateID: cand.ID,
			VerifierID:  v.spec.ID,
			Level:       world.LevelL0,
			Verdict:     world.VerdictReject,
			Score:       0,
			Signals: map[string]float64{
				world.SignalClosureRisk: 1.0,
				world.SignalChaosRisk:   0.0,
				world.SignalFragility:   0.9,
			},
			ReasonCodes: inv.Codes(),
			Notes:       strings.Join(details, "; "),
		}
	}

	// --- Risk signals ---
	closure := world.Clamp01(cand.Metadata.ClosureRiskHint)
	chaos := world.Clamp01(ch.Difficulty.UnderspecificationLevel*0.5 + uniform(rng, -v.config.ChaosNoise, v.config.ChaosNoise))
	fragility := world.Clamp01(ch.Difficulty.FutureFragility*0.7 + closure*0.3)

	if v.estimator != nil {
		if ext, err := v.estimator.EstimateRisk(ctx, ch, cand); err != nil {
			v.logger.Debug("external risk estimate unavailable", zap.Error(err))
		} else {
			w := v.config.ExternalRiskWeight
			closure = (1-w)*closure + w*world.Clamp01(ext.Closure)
			chaos = (1-w)*chaos + w*world.Clamp01(ext.Chaos)
			fragility = (1-w)*fragility + w*world.Clamp01(ext.Fragility)
		}
	}

	// --- L2 score ---
	base := 1.0 - (0.45*closure + 0.35*chaos + 0.20*fragility)
	score := world.Clamp01(base - v.spec.Sensitivity*v.config.SensitivityWeight + uniform(rng, -v.config.ScoreNoise, v.config.ScoreNoise))

	level, verdict := world.LevelL2, world.VerdictReject
	switch {
	case score >= v.config.AcceptScore:
		verdict = world.VerdictAccept
	case score >= v.config.EscalateScore:
		// ESCALATE is transient: L3 settles it.
		level = world.LevelL3
		score = world.Clamp01(score + uniform(rng, v.config.L3AdjustLow, v.config.L3AdjustHigh))
		if score >= v.config.L3AcceptScore {
			verdict = world.VerdictAccept
		}
	}

	return world.VerificationResult{
		CandidateID: cand.ID,
		VerifierID:  v.spec.ID,
		Level:       level,
		Verdict:     verdict,
		Score:       round3(score),
		Signals: map[string]float64{
			world.SignalClosureRisk: round3(closure),
			world.SignalChaosRisk:   round3(chaos),
			world.SignalFragility:   round3(fragility),
		},
		Notes: fmt.Sprintf("evaluated at %s", level),
	}
}

// #endregion general-verifier

// #region helpers

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

// #endregion helpers
