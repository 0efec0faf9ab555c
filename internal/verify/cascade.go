package verify

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/worldledger/internal/aggregate"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region outcome

// Outcome is the full cascade result for one Candidate.
type Outcome struct {
	CandidateID       string
	Gate              world.VerificationResult
	General           []world.VerificationResult
	Report            GateReport
	RepetitionPenalty float64
	TensionProgress   float64
}

// Results returns the gate result followed by the general results.
func (o Outcome) Results() []world.VerificationResult {
	out := make([]world.VerificationResult, 0, len(o.General)+1)
	out = append(out, o.Gate)
	return append(out, o.General...)
}

// AggregateInput builds the aggregator input. Only the general verifiers
// vote; the gate acts through HardFail, ProgressGate, and Novelty.
func (o Outcome) AggregateInput(threshold float64) aggregate.Input {
	return aggregate.Input{
		Results:           o.General,
		Novelty:           o.Report.Novelty,
		TensionProgress:   o.TensionProgress,
		RepetitionPenalty: o.RepetitionPenalty,
		HardFail:          o.Report.HardFail,
		ProgressGate:      o.Report.ProgressGate,
		Threshold:         threshold,
	}
}

// GeneralAccepts counts ACCEPT verdicts among the general verifiers.
func (o Outcome) GeneralAccepts() int {
	n := 0
	for _, r := range o.General {
		if r.Verdict == world.VerdictAccept {
			n++
		}
	}
	return n
}

// GeneralRejects counts REJECT verdicts among the general verifiers.
func (o Outcome) GeneralRejects() int {
	n := 0
	for _, r := range o.General {
		if r.Verdict == world.VerdictReject {
			n++
		}
	}
	return n
}

// Risk averages closure, chaos, and fragility over the general verifiers.
func (o Outcome) Risk() Risk {
	var r Risk
	if len(o.General) == 0 {
		return r
	}
	for _, res := range o.General {
		r.Closure += res.Signals[world.SignalClosureRisk]
		r.Chaos += res.Signals[world.SignalChaosRisk]
		r.Fragility += res.Signals[world.SignalFragility]
	}
	n := float64(len(o.General))
	return Risk{Closure: r.Closure / n, Chaos: r.Chaos / n, Fragility: r.Fragility / n}
}

// #endregion outcome

// #region cascade

// Cascade runs the novelty gate and every general verifier on a Candidate.
type Cascade struct {
	config  Config
	gate    *NoveltyGate
	general []*GeneralVerifier
	logger  *zap.Logger
}

// NewCascade wires a gate and a fixed list of general verifiers.
func NewCascade(config Config, gate *NoveltyGate, general []*GeneralVerifier, logger *zap.Logger) *Cascade {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cascade{
		config:  config,
		gate:    gate,
		general: general,
		logger:  logger.Named("cascade"),
	}
}

// Verifiers lists the gate followed by the general verifiers.
func (c *Cascade) Verifiers() []Verifier {
	out := make([]Verifier, 0, len(c.general)+1)
	out = append(out, c.gate)
	for _, g := range c.general {
		out = append(out, g)
	}
	return out
}

// Evaluate scores cand. Every general verifier draws from its own
// generator seeded from seed, so results do not depend on call order.
func (c *Cascade) Evaluate(ctx context.Context, ch world.Challenge, cand world.Candidate, seed int64) Outcome {
	report := c.gate.Inspect(ctx, ch, cand)
	out := Outcome{
		CandidateID:       cand.ID,
		Gate:              c.gate.result(cand.ID, report),
		Report:            report,
		RepetitionPenalty: c.RepetitionPenalty(report.SceneSimilarity),
		TensionProgress:   world.Clamp01(cand.Metadata.TensionProgress),
	}

	seeds := rand.New(rand.NewSource(seed))
	for _, v := range c.general {
		rng := rand.New(rand.NewSource(seeds.Int63()))
		out.General = append(out.General, v.Evaluate(ctx, ch, cand, rng))
	}

	c.logger.Debug("candidate evaluated",
		zap.String("candidate", cand.ID),
		zap.Float64("novelty", report.Novelty),
		zap.Bool("hard_fail", report.HardFail),
		zap.Bool("progress_gate", report.ProgressGate),
		zap.Strings("codes", report.Codes()),
	)
	return out
}

// SeedFor derives the verifier seed of a candidate from its id.
func SeedFor(candidateID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(candidateID))
	return int64(h.Sum64() & math.MaxInt64)
}

// RepetitionPenalty maps scene similarity above the floor onto [0,1].
func (c *Cascade) RepetitionPenalty(sceneSimilarity float64) float64 {
	span := 1 - c.config.PenaltyFloor
	if span <= 0 {
		return 0
	}
	return world.Clamp01((sceneSimilarity - c.config.PenaltyFloor) / span)
}

// #endregion cascade
