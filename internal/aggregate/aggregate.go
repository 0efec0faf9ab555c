package aggregate

import (
	"math"
	"sort"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region aggregator

// Aggregator turns per-verifier results into one decision. Pure.
type Aggregator struct {
	config Config
}

// New creates an Aggregator.
func New(config Config) *Aggregator {
	return &Aggregator{config: config}
}

// Decide applies the precedence rule: hard fail, progress gate, reject
// quorum, then composite threshold with enough accepts.
func (a *Aggregator) Decide(in Input) world.AggregateDecision {
	if len(in.Results) == 0 {
		return world.AggregateDecision{
			Verdict:     world.VerdictReject,
			Score:       0,
			Reasons:     []string{ReasonNoResults},
			LevelCounts: map[world.Level]int{},
		}
	}

	composite := Composite(TrimmedMean(in.Results), in.Novelty, in.TensionProgress, in.RepetitionPenalty)

	accepts, rejects := 0, 0
	levels := make(map[world.Level]int)
	for _, r := range in.Results {
		switch r.Verdict {
		case world.VerdictAccept:
			accepts++
		case world.VerdictReject:
			rejects++
		}
		levels[r.Level]++
	}

	threshold := a.config.AcceptThreshold
	if in.Threshold > 0 {
		threshold = in.Threshold
	}

	verdict, reason := world.VerdictReject, ReasonLowConfidence
	switch {
	case in.HardFail:
		reason = ReasonHardFail
	case !in.ProgressGate:
		reason = ReasonProgressGate
	case rejects >= a.config.RejectQuorum:
		reason = ReasonRejectQuorum
	case composite >= threshold && accepts >= a.config.MinAccepts:
		verdict, reason = world.VerdictAccept, ReasonThresholdMet
	}

	return world.AggregateDecision{
		Verdict:     verdict,
		Score:       math.Round(composite*1000) / 1000,
		Reasons:     []string{reason},
		LevelCounts: levels,
	}
}

// #endregion aggregator

// #region scoring

// TrimmedMean drops the lowest and highest score when there are at least
// three results and averages the rest.
func TrimmedMean(results []world.VerificationResult) float64 {
	if len(results) == 0 {
		return 0
	}
	scores := make([]float64, len(results))
	for i, r := range results {
		scores[i] = r.Score
	}
	sort.Float64s(scores)
	if len(scores) >= 3 {
		scores = scores[1 : len(scores)-1]
	}
	sum := 0.0
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// Composite blends verifier consensus with novelty, tension progress, and
// the repetition penalty, clamped to [0,1].
func Composite(trimmed, novelty, tension, penalty float64) float64 {
	return world.Clamp01(0.50*trimmed + 0.30*novelty + 0.20*tension - 0.25*penalty)
}

// #endregion scoring
