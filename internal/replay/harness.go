package replay

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/worldledger/internal/aggregate"
	"github.com/danielpatrickdp/worldledger/internal/facts"
	"github.com/danielpatrickdp/worldledger/internal/invariant"
	"github.com/danielpatrickdp/worldledger/internal/logging"
	"github.com/danielpatrickdp/worldledger/internal/policy"
	"github.com/danielpatrickdp/worldledger/internal/similarity"
	"github.com/danielpatrickdp/worldledger/internal/verify"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// scoreTolerance absorbs float formatting drift through JSON.
const scoreTolerance = 1e-9

// #region harness

// Harness re-judges recorded candidates with the verifier cascade and the
// aggregator, offline: similarity is lexical and no external estimators run.
type Harness struct {
	cascade *verify.Cascade
	agg     *aggregate.Aggregator
	logger  *zap.Logger
}

// NewHarness wires a cascade and aggregator from p.
func NewHarness(p policy.Policy, logger *zap.Logger) (*Harness, error) {
	logger = logging.OrNop(logger)
	validator, err := facts.NewValidator(p.Facts)
	if err != nil {
		return nil, &policy.ConfigError{Source: "replay", Field: "facts", Err: err}
	}
	checker, err := invariant.NewChecker(p.Invariants)
	if err != nil {
		return nil, &policy.ConfigError{Source: "replay", Field: "invariants", Err: err}
	}
	sim := similarity.New(nil, p.Similarity, logger)
	gate := verify.NewNoveltyGate(p.Verifiers, validator, p.Specificity, sim, nil, logger)
	general := make([]*verify.GeneralVerifier, 0, len(p.Verifiers.General))
	for _, spec := range p.Verifiers.General {
		general = append(general, verify.NewGeneralVerifier(spec, p.Verifiers, checker, nil, logger))
	}
	return &Harness{
		cascade: verify.NewCascade(p.Verifiers, gate, general, logger),
		agg:     aggregate.New(p.Aggregator),
		logger:  logger.Named("replay"),
	}, nil
}

// Judge runs one candidate through the cascade and the aggregator.
func (h *Harness) Judge(ctx context.Context, ch world.Challenge, cand world.Candidate, threshold float64) Result {
	out := h.cascade.Evaluate(ctx, ch, cand, verify.SeedFor(cand.ID))
	d := h.agg.Decide(out.AggregateInput(threshold))
	return Result{
		ChallengeID: ch.ID,
		CandidateID: cand.ID,
		Verdict:     d.Verdict,
		Score:       d.Score,
		HardFail:    out.Report.HardFail,
		GateCodes:   out.Report.Codes(),
		Reasons:     d.Reasons,
	}
}

// Replay re-judges every step and compares each candidate against its
// expectation. Candidates without an expectation are judged but not compared.
func (h *Harness) Replay(ctx context.Context, steps []FixtureStep) Report {
	rep := Report{Verdicts: make(map[world.Verdict]int)}
	for _, st := range steps {
		rep.Steps++
		want := make(map[string]Expectation, len(st.Expected))
		for _, e := range st.Expected {
			want[e.CandidateID] = e
		}
		seen := make(map[string]bool, len(st.Candidates))
		for _, cand := range st.Candidates {
			res := h.Judge(ctx, st.Challenge, cand, st.Threshold)
			rep.Candidates++
			rep.Verdicts[res.Verdict]++
			rep.Results = append(rep.Results, res)
			seen[cand.ID] = true
			if e, ok := want[cand.ID]; ok {
				rep.Mismatches = append(rep.Mismatches, compare(e, res)...)
			}
		}
		for _, e := range st.Expected {
			if !seen[e.CandidateID] {
				rep.Mismatches = append(rep.Mismatches, Mismatch{
					ChallengeID: st.Challenge.ID,
					CandidateID: e.CandidateID,
					Field:       "candidate",
					Want:        "present",
					Got:         "missing",
				})
			}
		}
	}
	h.logger.Info("replay finished",
		zap.Int("steps", rep.Steps),
		zap.Int("candidates", rep.Candidates),
		zap.Int("mismatches", len(rep.Mismatches)),
	)
	return rep
}

// Run resolves the fixture's policy and replays its steps.
func Run(ctx context.Context, f *Fixture, source string, logger *zap.Logger) (Report, error) {
	p, err := f.ResolvePolicy(source)
	if err != nil {
		return Report{}, err
	}
	h, err := NewHarness(p, logger)
	if err != nil {
		return Report{}, err
	}
	return h.Replay(ctx, f.Steps), nil
}

func compare(e Expectation, r Result) []Mismatch {
	var out []Mismatch
	add := func(field, want, got string) {
		out = append(out, Mismatch{ChallengeID: r.ChallengeID, CandidateID: r.CandidateID, Field: field, Want: want, Got: got})
	}
	if e.Verdict != r.Verdict {
		add("verdict", string(e.Verdict), string(r.Verdict))
	}
	if math.Abs(e.Score-r.Score) > scoreTolerance {
		add("score", formatScore(e.Score), formatScore(r.Score))
	}
	if e.HardFail != r.HardFail {
		add("hard_fail", strconv.FormatBool(e.HardFail), strconv.FormatBool(r.HardFail))
	}
	if !slices.Equal(e.GateCodes, r.GateCodes) {
		add("gate_codes", strings.Join(e.GateCodes, ","), strings.Join(r.GateCodes, ","))
	}
	return out
}

func formatScore(x float64) string { return strconv.FormatFloat(x, 'f', 6, 64) }

// #endregion harness

// String renders a mismatch as one report line.
func (m Mismatch) String() string {
	return fmt.Sprintf("%s/%s %s: want %s, got %s", m.ChallengeID, m.CandidateID, m.Field, m.Want, m.Got)
}
