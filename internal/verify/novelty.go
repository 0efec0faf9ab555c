package verify

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/worldledger/internal/facts"
	"github.com/danielpatrickdp/worldledger/internal/similarity"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region gate-report

// GateReport is the full breakdown of one novelty gate evaluation.
type GateReport struct {
	Violations      []Violation
	Facts           []world.Fact
	Novelty         float64
	NoveltyMin      float64
	NovelFact       float64
	NovelType       float64
	NovelRefs       float64
	FactSimilarity  float64
	SceneSimilarity float64
	EquivalentSim   float64
	RefsQuality     float64
	RefsCount       int
	NewFacts        int
	Specificity     int
	HardFail        bool
	ProgressGate    bool
}

// Codes returns the violation codes in detection order.
func (r GateReport) Codes() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Code)
	}
	return out
}

// Has reports whether code was raised.
func (r GateReport) Has(code string) bool {
	for _, v := range r.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// #endregion gate-report

// #region novelty-gate

// NoveltyGate enforces fact schema, novelty, and reference accumulation.
// Any violation rejects the candidate regardless of its novelty score.
type NoveltyGate struct {
	config      Config
	validator   *facts.Validator
	specificity facts.SpecificityRules
	sim         *similarity.Service
	estimator   NoveltyEstimator
	logger      *zap.Logger
}

// NewNoveltyGate creates the gate. estimator may be nil.
func NewNoveltyGate(config Config, validator *facts.Validator, specificity facts.SpecificityRules, sim *similarity.Service, estimator NoveltyEstimator, logger *zap.Logger) *NoveltyGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sim == nil {
		sim = similarity.Lexical()
	}
	return &NoveltyGate{
		config:      config,
		validator:   validator,
		specificity: specificity,
		sim:         sim,
		estimator:   estimator,
		logger:      logger.Named(config.GateID),
	}
}

// ID returns the gate's verifier id.
func (g *NoveltyGate) ID() string { return g.config.GateID }

// Evaluate runs Inspect and reports it as a VerificationResult.
func (g *NoveltyGate) Evaluate(ctx context.Context, ch world.Challenge, cand world.Candidate, _ *rand.Rand) world.VerificationResult {
	return g.result(cand.ID, g.Inspect(ctx, ch, cand))
}

func (g *NoveltyGate) result(candidateID string, r GateReport) world.VerificationResult {
	verdict := world.VerdictAccept
	notes := "novelty gate passed"
	if len(r.Violations) > 0 {
		verdict = world.VerdictReject
		details := make([]string, 0, len(r.Violations))
		for _, v := range r.Violations {
			details = append(details, v.Code+": "+v.Detail)
		}
		notes = strings.Join(details, "; ")
	}

	return world.VerificationResult{
		CandidateID: candidateID,
		VerifierID:  g.config.GateID,
		Level:       world.LevelL2,
		Verdict:     verdict,
		Score:       round3(r.Novelty),
		Signals: map[string]float64{
			world.SignalNovelty:         round3(r.Novelty),
			world.SignalFactSimilarity:  round3(r.FactSimilarity),
			world.SignalSceneSimilarity: round3(r.SceneSimilarity),
			world.SignalRefsQuality:     round3(r.RefsQuality),
			world.SignalSpecificity:     float64(r.Specificity),
			world.SignalHardFail:        boolSignal(r.HardFail),
			world.SignalProgressGate:    boolSignal(r.ProgressGate),
			"novelty_min":               round3(r.NoveltyMin),
			"novel_fact":                round3(r.NovelFact),
			"novel_type":                r.NovelType,
			"novel_refs":                round3(r.NovelRefs),
			"reference_count":           float64(r.RefsCount),
			"new_fact_count":            float64(r.NewFacts),
		},
		ReasonCodes: r.Codes(),
		Notes:       notes,
	}
}

// Inspect evaluates every gate rule and returns the full breakdown.
func (g *NoveltyGate) Inspect(ctx context.Context, ch world.Challenge, cand world.Candidate) GateReport {
	th := ch.Policy.Thresholds
	bc := ch.Policy.Context
	height := bc.CurrentHeight
	if height < 1 {
		height = 1
	}

	var r GateReport
	flag := func(code, format string, args ...any) {
		if !r.Has(code) {
			r.Violations = append(r.Violations, Violation{Code: code, Detail: fmt.Sprintf(format, args...)})
		}
	}

	recentTexts := make([]string, 0, len(bc.RecentFacts))
	for _, f := range bc.RecentFacts {
		recentTexts = append(recentTexts, f.Text)
	}
	anchorHeight := make(map[string]int, len(bc.Anchors))
	anchorTexts := make([]string, 0, len(bc.Anchors))
	for _, a := range bc.Anchors {
		anchorHeight[a.ID] = a.Height
		anchorTexts = append(anchorTexts, a.Text)
	}

	// --- Schema ---
	if len(cand.Metadata.Facts) == 0 {
		flag(CodeSchemaInvalid, "no fact object")
		r.Novelty = 0
		r.HardFail = true
		r.ProgressGate = true
		if strings.TrimSpace(cand.Metadata.WhatChanged) == "" {
			flag(CodeMissingChange, "what_changed is empty")
		}
		return r
	}
	ids := make(map[string]bool, len(cand.Metadata.Facts))
	for i, raw := range cand.Metadata.Facts {
		res := g.validator.Validate(raw, facts.Options{Height: height})
		r.Facts = append(r.Facts, res.Fact)
		if res.Has("type", facts.CodeEnum) {
			flag(CodeTypeNotInEnum, "fact[%d] type %q", i, res.Fact.Type)
		}
		if !res.OnlyTypeEnum() && !res.Valid() {
			e := res.Errors[0]
			flag(CodeSchemaInvalid, "fact[%d].%s %s", i, e.Path, e.Message)
		}
		if res.Fact.ID != "" && ids[res.Fact.ID] {
			flag(CodeStructuralMismatch, "duplicate fact id %s in one candidate", res.Fact.ID)
		}
		ids[res.Fact.ID] = true
	}
	primary := r.Facts[0]

	if fid := strings.ToUpper(strings.TrimSpace(cand.Metadata.Bundle.FactID)); fid != "" && fid != primary.ID {
		flag(CodeStructuralMismatch, "bundle dramatizes %s but fact object is %s", fid, primary.ID)
	}

	// --- Directive contract and specificity ---
	if want, ok := th.DirectiveContracts[ch.Directive]; ok && primary.Type != want {
		flag(CodeDirectiveContract, "%s requires %s, got %s", ch.Directive, want, primary.Type)
	}
	r.Specificity = facts.Specificity(primary, g.specificity)
	if g.specificity.Applies(primary.Type) && r.Specificity < g.specificity.MinScore {
		flag(CodeSpecificityBelowMin, "specificity %d below %d", r.Specificity, g.specificity.MinScore)
	}

	// --- Structural novelty ---
	canonical := primary.Canonical()
	r.FactSimilarity = g.sim.Max(ctx, canonical, recentTexts)
	r.NovelFact = world.Clamp01(1 - r.FactSimilarity)

	window := bc.RecentTypes
	if th.TypeWindow > 0 && len(window) > th.TypeWindow {
		window = window[len(window)-th.TypeWindow:]
	}
	r.NovelType = 1
	if primary.Type == "" {
		r.NovelType = 0
	}
	for _, t := range window {
		if t == primary.Type {
			r.NovelType = 0
			break
		}
	}

	for _, ref := range primary.References {
		h, ok := anchorHeight[ref]
		if !ok {
			continue
		}
		r.RefsCount++
		age := height - h
		if age < 0 {
			age = 0
		}
		r.RefsQuality += math.Exp(-th.QualityAlpha * float64(age))
	}
	if th.QualityCap > 0 && r.RefsQuality > th.QualityCap {
		r.RefsQuality = th.QualityCap
	}
	target := th.RefsTarget
	if target < 1 {
		target = 1
	}
	r.NovelRefs = math.Min(1, float64(r.RefsCount)/float64(target))

	r.Novelty = 0.65*r.NovelFact + 0.15*r.NovelType + 0.20*r.NovelRefs
	if g.estimator != nil {
		if ext, err := g.estimator.EstimateNovelty(ctx, ch, cand); err != nil {
			g.logger.Debug("external novelty estimate unavailable", zap.Error(err))
		} else {
			w := g.config.ExternalNovelty
			r.Novelty = (1-w)*r.Novelty + w*world.Clamp01(ext)
		}
	}
	r.Novelty = world.Clamp01(r.Novelty)
	r.NoveltyMin = th.NoveltyMinimum(height)

	// --- Hard gates ---
	for _, f := range r.Facts {
		if _, known := anchorHeight[f.ID]; known {
			continue
		}
		if g.sim.Max(ctx, f.Canonical(), recentTexts) < th.HardFactSimilarity {
			r.NewFacts++
		}
	}
	if r.NewFacts > th.MaxNewFactsPerStep {
		flag(CodeTooManyNewFacts, "%d new facts, max %d", r.NewFacts, th.MaxNewFactsPerStep)
	}
	if r.Novelty < r.NoveltyMin {
		flag(CodeNoveltyBelowMin, "novelty %.3f below %.3f at height %d", r.Novelty, r.NoveltyMin, height)
	}
	if r.FactSimilarity > th.HardFactSimilarity {
		flag(CodeFactRepetition, "fact similarity %.3f above %.3f", r.FactSimilarity, th.HardFactSimilarity)
	}

	r.SceneSimilarity = g.sim.Max(ctx, cand.Metadata.Bundle.Scene, bc.RecentScenes)
	if r.SceneSimilarity > th.SceneRepeatThreshold && r.NewFacts == 0 {
		flag(CodeSceneRepeat, "scene similarity %.3f with no new fact", r.SceneSimilarity)
	}
	if strings.TrimSpace(cand.Metadata.WhatChanged) == "" {
		flag(CodeMissingChange, "what_changed is empty")
	}

	band := th.ReferenceBandFor(height)
	minAnchors := band.MinRefs
	if minAnchors < 1 {
		minAnchors = 1
	}
	if r.RefsCount < band.MinRefs && r.RefsQuality < band.QualityMin && len(bc.Anchors) >= minAnchors {
		flag(CodeProgressGateFail, "%d references (quality %.2f) at height %d, need %d or quality %.2f",
			r.RefsCount, r.RefsQuality, height, band.MinRefs, band.QualityMin)
	}
	if th.EnforceDependency && th.RequiredReferenceCount > 0 &&
		ch.Difficulty.DependencyDepth < th.DependencyTargetDepth &&
		len(bc.Anchors) >= th.RequiredReferenceCount &&
		r.RefsCount < th.RequiredReferenceCount {
		flag(CodeProgressGateFail, "%d references to prior anchors, need %d", r.RefsCount, th.RequiredReferenceCount)
	}

	r.EquivalentSim = g.sim.Max(ctx, canonical, anchorTexts)
	if r.EquivalentSim >= th.EquivalentSimilarity {
		flag(CodeFactEquivalent, "equivalent to an existing anchor (%.3f)", r.EquivalentSim)
	}

	r.ProgressGate = !r.Has(CodeProgressGateFail)
	for _, v := range r.Violations {
		if v.Code != CodeProgressGateFail {
			r.HardFail = true
			break
		}
	}
	return r
}

// #endregion novelty-gate

// #region helpers

func boolSignal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
