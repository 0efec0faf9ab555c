package producer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/worldledger/internal/backend"
	"github.com/danielpatrickdp/worldledger/internal/facts"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region producer

// Producer builds one Candidate per Challenge. With a generator it asks the
// backend first and falls back to templates when the answer cannot be used.
type Producer struct {
	spec      Spec
	config    Config
	gen       backend.Generator
	validator *facts.Validator
	logger    *zap.Logger
}

// New creates a Producer. gen may be nil for template-only generation.
func New(spec Spec, config Config, gen backend.Generator, validator *facts.Validator, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		spec:      spec,
		config:    config,
		gen:       gen,
		validator: validator,
		logger:    logger.Named(spec.ID),
	}
}

// NewSet creates one Producer per configured spec, in order.
func NewSet(config Config, gen backend.Generator, validator *facts.Validator, logger *zap.Logger) []*Producer {
	out := make([]*Producer, 0, len(config.Producers))
	for _, spec := range config.Producers {
		out = append(out, New(spec, config, gen, validator, logger))
	}
	return out
}

// ID returns the producer id.
func (p *Producer) ID() string { return p.spec.ID }

// Style returns the producer style.
func (p *Producer) Style() Style { return p.spec.Style }

// #endregion producer

// #region produce

// Produce builds a Candidate for ch. rng must be owned by this call; it is
// the only source of randomness so equal seeds give equal candidates.
func (p *Producer) Produce(ctx context.Context, ch world.Challenge, rng *rand.Rand) world.Candidate {
	strengths := p.strengths(rng)
	tmpl := p.template(ch, strengths, rng)

	cand := world.Candidate{
		ID:          p.candidateID(ch, rng),
		ChallengeID: ch.ID,
		ProducerID:  p.spec.ID,
		Status:      world.CandidatePending,
	}

	if p.gen != nil {
		if meta, artifact, source, ok := p.fromBackend(ctx, ch, strengths, tmpl); ok {
			cand.Artifact = artifact
			cand.Metadata = meta
			cand.Source = source
			return cand
		}
	}
	cand.Artifact = tmpl.artifact
	cand.Metadata = tmpl.meta
	cand.Source = SourceTemplate
	return cand
}

// candidateID names a candidate under its challenge. Challenge ids are
// unique within a ledger, so a resumed run that repeats a seed cannot reuse
// an id.
func (p *Producer) candidateID(ch world.Challenge, rng *rand.Rand) string {
	var salt [16]byte
	rng.Read(salt[:])
	name := fmt.Sprintf("%s/%s/%x", ch.ID, p.spec.ID, salt)
	return "cand-" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// #endregion produce

// #region strengths

// strengths draws the style-perturbed interpretation simplex. The first
// key (sorted) is the leading reading, the second its main rival.
func (p *Producer) strengths(rng *rand.Rand) map[string]float64 {
	keys := make([]string, 0, len(p.config.BaseStrength))
	for k := range p.config.BaseStrength {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	raw := make(map[string]float64, len(keys))
	for _, k := range keys {
		raw[k] = round3(p.config.BaseStrength[k] + p.config.Jitter*(2*rng.Float64()-1))
	}
	switch p.spec.Style {
	case StyleConservative:
		raw[keys[0]] += 0.04
	case StyleAggressive:
		raw[keys[0]] += 0.12
		if len(keys) > 1 {
			raw[keys[1]] -= 0.04
		}
	case StyleMaintenance:
		for k, v := range raw {
			raw[k] = round3(v * 0.98)
		}
	}

	total := 0.0
	for _, v := range raw {
		total += math.Max(v, 0)
	}
	out := make(map[string]float64, len(raw))
	for _, k := range keys {
		if total <= 0 {
			out[k] = round3(1 / float64(len(keys)))
			continue
		}
		out[k] = round3(math.Max(raw[k], 0) / total)
	}
	return out
}

// #endregion strengths

// #region backend

func (p *Producer) request(ch world.Challenge) backend.Request {
	return backend.Request{
		Directive:    ch.Directive,
		Projection:   ch.Projection,
		Difficulty:   ch.Difficulty,
		Style:        string(p.spec.Style),
		ExpectedType: ch.Policy.Thresholds.DirectiveContracts[ch.Directive],
		RecentFacts:  ch.Policy.Context.RecentFacts,
		Anchors:      ch.Policy.Context.Anchors,
	}
}

// fromBackend asks the generator once and salvages what it can. A
// placeholder artifact is rebuilt from the bundle; a missing or invalid
// fact object rejects the whole payload.
func (p *Producer) fromBackend(ctx context.Context, ch world.Challenge, strengths map[string]float64, tmpl generated) (world.CandidateMetadata, string, string, bool) {
	payload, err := p.gen.Generate(ctx, p.request(ch))
	if err != nil {
		p.logger.Debug("backend unavailable, using template", zap.String("challenge", ch.ID), zap.Error(err))
		return world.CandidateMetadata{}, "", "", false
	}
	if len(payload.Fact) == 0 {
		p.logger.Debug("backend payload has no fact object", zap.String("challenge", ch.ID))
		return world.CandidateMetadata{}, "", "", false
	}

	height := ch.Policy.Context.CurrentHeight + 1
	res := p.validator.Decode(payload.Fact, facts.Options{
		AllowCoercion: true,
		ExpectedType:  ch.Policy.Thresholds.DirectiveContracts[ch.Directive],
		IntroducedBy:  p.spec.ID,
		Height:        height,
	})
	if !res.Valid() {
		p.logger.Debug("backend fact unusable",
			zap.String("challenge", ch.ID),
			zap.String("path", res.Errors[0].Path),
			zap.String("error", res.Errors[0].Message),
		)
		return world.CandidateMetadata{}, "", "", false
	}
	fact := res.Fact

	bundle := payload.Bundle
	if strings.TrimSpace(bundle.FactID) == "" {
		bundle.FactID = fact.ID
	}

	artifact, source := payload.Artifact, SourceBackend
	if !p.Informative(artifact) {
		rebuilt := bundle.Text()
		if title := strings.TrimSpace(bundle.Title); title != "" {
			rebuilt = strings.TrimRight(title, ".") + ". " + rebuilt
		}
		if !p.Informative(rebuilt) {
			p.logger.Debug("backend text not informative", zap.String("challenge", ch.ID))
			return world.CandidateMetadata{}, "", "", false
		}
		artifact, source = rebuilt, SourceBundleRebuilt
	}

	whatChanged := strings.TrimSpace(payload.WhatChanged)
	if whatChanged == "" {
		whatChanged = fmt.Sprintf("%s introduced %s (%s)", p.spec.ID, fact.ID, fact.Type)
	}

	meta := world.CandidateMetadata{
		Bundle:                 bundle,
		Facts:                  []world.Fact{fact},
		WhatChanged:            whatChanged,
		TensionProgress:        round3(world.Clamp01(payload.TensionProgress)),
		InterpretationStrength: strengths,
		ClosureRiskHint:        spread(strengths),
		Entities:               tmpl.meta.Entities,
		Threads:                tmpl.meta.Threads,
	}
	if len(res.Coercions) > 0 {
		meta.Extensions = map[string]any{"coercions": res.Coercions}
	}
	return meta, artifact, source, true
}

// Informative reports whether text is long enough to use and is not a
// known placeholder.
func (p *Producer) Informative(text string) bool {
	t := strings.TrimSpace(text)
	if len([]rune(t)) < p.config.MinChars || len(strings.Fields(t)) < p.config.MinWords {
		return false
	}
	norm := strings.ToLower(strings.Trim(t, " .!?:;\"'`"))
	for _, ph := range p.config.Placeholders {
		if norm == strings.ToLower(ph) {
			return false
		}
	}
	return true
}

// #endregion backend

// #region template

type generated struct {
	artifact string
	meta     world.CandidateMetadata
}

// template builds a concrete fact and scene from the configured vocabulary.
// The fact type follows the directive contract, else a random allowed type
// absent from the recent type window.
func (p *Producer) template(ch world.Challenge, strengths map[string]float64, rng *rand.Rand) generated {
	t := p.config.Templates
	bc := ch.Policy.Context
	height := bc.CurrentHeight + 1

	factType := p.pickType(ch, rng)
	n := 10 + rng.Intn(990)
	factID := fmt.Sprintf("F_%s_%d", typeTag(factType), 10000+rng.Intn(90000))
	vars := map[string]string{
		"{actor}":     pick(rng, t.Actors),
		"{place}":     pick(rng, t.Places),
		"{artifact}":  pick(rng, t.Artifacts),
		"{n}":         strconv.Itoa(n),
		"{directive}": string(ch.Directive),
		"{lead}":      lead(strengths),
		"{fact_id}":   factID,
		"{type}":      string(factType),
	}
	pairs := make([]string, 0, 2*len(vars))
	for _, k := range placeholders {
		pairs = append(pairs, k, vars[k])
	}
	fill := strings.NewReplacer(pairs...).Replace

	content := t.Facts[factType]
	if content == "" {
		content = "{actor} recorded {n} new entries in the {artifact} kept at the {place}"
	}
	evidence := make([]string, 0, 2)
	for _, i := range rng.Perm(len(t.Evidence))[:2] {
		evidence = append(evidence, fill(t.Evidence[i]))
	}

	fact := world.Fact{
		ID:                     factID,
		Type:                   factType,
		Content:                fill(content),
		IntroducedBy:           p.spec.ID,
		Time:                   fmt.Sprintf("day %d", height),
		Evidence:               evidence,
		InterpretationAffinity: strengths,
		References:             references(ch),
		IntroducedHeight:       height,
	}
	if factType == world.FactPublicArtifact && p.validator != nil {
		kinds := p.validator.Rules().ArtifactKinds
		fact.ArtifactKind = kinds[rng.Intn(len(kinds))]
		fact.ArtifactLocator = fill("{place} shelf {n}")
		fact.ArtifactIdentifier = fmt.Sprintf("DOC-%d", 1000+rng.Intn(9000))
	}

	alts := make([]string, 0, 2)
	for _, i := range rng.Perm(len(t.Alternatives)) {
		if len(alts) == 2 {
			break
		}
		alts = append(alts, fill(t.Alternatives[i]))
	}
	bundle := world.NarrativeBundle{
		Title:                    fill(pick(rng, t.Titles)),
		Scene:                    fill(pick(rng, t.Scenes)) + " " + capitalize(fact.Content) + ".",
		SurfaceConfirmation:      fill(t.Surface),
		AlternativeCompatibility: alts,
		SocialEffect:             fill(pick(rng, t.Social)),
		DeferredTension:          fill(pick(rng, t.Deferred)),
		FactID:                   fact.ID,
	}

	return generated{
		artifact: strings.TrimSpace(fill(t.Artifact) + " " + bundle.Text()),
		meta: world.CandidateMetadata{
			Bundle:                 bundle,
			Facts:                  []world.Fact{fact},
			WhatChanged:            fill(t.WhatChanged),
			TensionProgress:        round3(0.4 + 0.4*rng.Float64()),
			InterpretationStrength: strengths,
			ClosureRiskHint:        spread(strengths),
			Entities:               []string{vars["{actor}"], vars["{place}"]},
			Threads:                append([]string(nil), t.Threads...),
		},
	}
}

func (p *Producer) pickType(ch world.Challenge, rng *rand.Rand) world.FactType {
	if want, ok := ch.Policy.Thresholds.DirectiveContracts[ch.Directive]; ok {
		return want
	}
	allowed := world.AllFactTypes
	if p.validator != nil {
		allowed = p.validator.Rules().AllowedTypes
	}
	recent := make(map[world.FactType]bool)
	window := ch.Policy.Context.RecentTypes
	if w := ch.Policy.Thresholds.TypeWindow; w > 0 && len(window) > w {
		window = window[len(window)-w:]
	}
	for _, t := range window {
		recent[t] = true
	}
	var fresh []world.FactType
	for _, t := range allowed {
		if !recent[t] {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		fresh = allowed
	}
	return fresh[rng.Intn(len(fresh))]
}

// references cites the newest anchors, as many as the progress gate asks for.
func references(ch world.Challenge) []string {
	th := ch.Policy.Thresholds
	anchors := ch.Policy.Context.Anchors
	want := th.RefsTarget
	if th.RequiredReferenceCount > want {
		want = th.RequiredReferenceCount
	}
	if b := th.ReferenceBandFor(ch.Policy.Context.CurrentHeight + 1); b.MinRefs > want {
		want = b.MinRefs
	}
	if want > len(anchors) {
		want = len(anchors)
	}
	out := make([]string, 0, want)
	for i := len(anchors) - 1; i >= 0 && len(out) < want; i-- {
		out = append(out, anchors[i].ID)
	}
	return out
}

// #endregion template

// #region helpers

var placeholders = []string{"{actor}", "{place}", "{artifact}", "{n}", "{directive}", "{lead}", "{fact_id}", "{type}"}

var typeTags = map[world.FactType]string{
	world.FactPublicArtifact:      "ART",
	world.FactWitness:             "WIT",
	world.FactMeasurement:         "MEA",
	world.FactInstitutionalAction: "INS",
	world.FactResourceChange:      "RES",
	world.FactAgentCommitment:     "COM",
}

func typeTag(t world.FactType) string {
	if tag, ok := typeTags[t]; ok {
		return tag
	}
	return "GEN"
}

func pick(rng *rand.Rand, items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[rng.Intn(len(items))]
}

func lead(strengths map[string]float64) string {
	best, bestV := "", -1.0
	for k, v := range strengths {
		if v > bestV || (v == bestV && k < best) {
			best, bestV = k, v
		}
	}
	return best
}

func spread(strengths map[string]float64) float64 {
	if len(strengths) == 0 {
		return 0
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range strengths {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return round3(hi - lo)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

// #endregion helpers
