package world

import "strings"

// #region fact-types

// FactType is the closed enum of ledger fact kinds.
type FactType string

const (
	FactPublicArtifact      FactType = "public_artifact"
	FactWitness             FactType = "witness"
	FactMeasurement         FactType = "measurement"
	FactInstitutionalAction FactType = "institutional_action"
	FactResourceChange      FactType = "resource_change"
	FactAgentCommitment     FactType = "agent_commitment"
)

// AllFactTypes lists every fact type in canonical order.
var AllFactTypes = []FactType{
	FactPublicArtifact,
	FactWitness,
	FactMeasurement,
	FactInstitutionalAction,
	FactResourceChange,
	FactAgentCommitment,
}

// #endregion fact-types

// #region directives

// Directive names the kind of change a Challenge asks for.
type Directive string

const (
	DirectiveIntroduceAmbiguousFact        Directive = "IntroduceAmbiguousFact"
	DirectiveAgentActionDivergence         Directive = "AgentActionDivergence"
	DirectiveDelayedEffect                 Directive = "DelayedEffect"
	DirectiveFalseConvergence              Directive = "FalseConvergence"
	DirectiveRetrospectiveReinterpretation Directive = "RetrospectiveReinterpretation"
	DirectiveMaintenanceEpoch              Directive = "MaintenanceEpoch"
	DirectiveInstitutionalAction           Directive = "InstitutionalAction"
	DirectiveAgentCommitment               Directive = "AgentCommitment"
	DirectiveResourceConstraint            Directive = "ResourceConstraint"
)

// AllDirectives lists every directive in canonical order.
var AllDirectives = []Directive{
	DirectiveIntroduceAmbiguousFact,
	DirectiveAgentActionDivergence,
	DirectiveDelayedEffect,
	DirectiveFalseConvergence,
	DirectiveRetrospectiveReinterpretation,
	DirectiveMaintenanceEpoch,
	DirectiveInstitutionalAction,
	DirectiveAgentCommitment,
	DirectiveResourceConstraint,
}

// #endregion directives

// #region fact

// Fact is an atomic claim committed to a branch's fact ledger.
type Fact struct {
	ID                     string             `json:"id" yaml:"id"`
	Type                   FactType           `json:"type" yaml:"type"`
	Content                string             `json:"content" yaml:"content"`
	IntroducedBy           string             `json:"introduced_by" yaml:"introduced_by"`
	Time                   string             `json:"time" yaml:"time"`
	Evidence               []string           `json:"evidence" yaml:"evidence"`
	InterpretationAffinity map[string]float64 `json:"interpretation_affinity" yaml:"interpretation_affinity"`
	References             []string           `json:"references" yaml:"references"`
	ArtifactKind           string             `json:"artifact_kind,omitempty" yaml:"artifact_kind,omitempty"`
	ArtifactLocator        string             `json:"artifact_locator,omitempty" yaml:"artifact_locator,omitempty"`
	ArtifactIdentifier     string             `json:"artifact_identifier,omitempty" yaml:"artifact_identifier,omitempty"`
	IntroducedHeight       int                `json:"introduced_height" yaml:"introduced_height"`
}

// Canonical is the text used for similarity comparisons between facts.
func (f Fact) Canonical() string {
	var b strings.Builder
	b.WriteString(string(f.Type))
	b.WriteString(": ")
	b.WriteString(strings.TrimSpace(f.Content))
	if len(f.Evidence) > 0 {
		b.WriteString(" | ")
		b.WriteString(strings.Join(f.Evidence, " ; "))
	}
	return b.String()
}

// Ref projects the fact into the view verifiers compare against.
func (f Fact) Ref() FactRef {
	return FactRef{ID: f.ID, Type: f.Type, Text: f.Canonical(), Height: f.IntroducedHeight}
}

// #endregion fact

// #region gate-thresholds

// ReferenceBand sets the minimum references required from a given height on.
type ReferenceBand struct {
	MinHeight  int     `json:"min_height" yaml:"min_height" validate:"gte=0"`
	MinRefs    int     `json:"min_refs" yaml:"min_refs" validate:"gte=0"`
	QualityMin float64 `json:"quality_min" yaml:"quality_min" validate:"gte=0"`
}

// GateThresholds configures the novelty/progress gate.
type GateThresholds struct {
	MaxNewFactsPerStep     int                    `json:"max_new_facts_per_step" yaml:"max_new_facts_per_step" validate:"gte=1"`
	DependencyTargetDepth  int                    `json:"dependency_target_depth" yaml:"dependency_target_depth" validate:"gte=1,lte=8"`
	RequiredReferenceCount int                    `json:"required_reference_count" yaml:"required_reference_count" validate:"gte=0"`
	EnforceDependency      bool                   `json:"enforce_dependency" yaml:"enforce_dependency"`
	ReferenceBands         []ReferenceBand        `json:"reference_bands" yaml:"reference_bands" validate:"dive"`
	QualityAlpha           float64                `json:"quality_alpha" yaml:"quality_alpha" validate:"gte=0"`
	QualityCap             float64                `json:"quality_cap" yaml:"quality_cap" validate:"gt=0"`
	NoveltyEarly           float64                `json:"novelty_min_early" yaml:"novelty_min_early" validate:"gte=0,lte=1"`
	NoveltyMid             float64                `json:"novelty_min_mid" yaml:"novelty_min_mid" validate:"gte=0,lte=1"`
	NoveltyLate            float64                `json:"novelty_min_late" yaml:"novelty_min_late" validate:"gte=0,lte=1"`
	EarlyPhaseEnd          int                    `json:"early_phase_end" yaml:"early_phase_end" validate:"gte=0"`
	MidPhaseEnd            int                    `json:"mid_phase_end" yaml:"mid_phase_end" validate:"gtefield=EarlyPhaseEnd"`
	MinNoveltyScore        float64                `json:"min_novelty_score" yaml:"min_novelty_score" validate:"gte=0,lte=1"`
	TypeWindow             int                    `json:"type_window" yaml:"type_window" validate:"gte=1"`
	HardFactSimilarity     float64                `json:"hard_fact_similarity" yaml:"hard_fact_similarity" validate:"gt=0,lte=1"`
	EquivalentSimilarity   float64                `json:"equivalent_similarity" yaml:"equivalent_similarity" validate:"gt=0,lte=1"`
	SceneRepeatThreshold   float64                `json:"scene_repeat_threshold" yaml:"scene_repeat_threshold" validate:"gt=0,lte=1"`
	RefsTarget             int                    `json:"refs_target" yaml:"refs_target" validate:"gte=1"`
	DirectiveContracts     map[Directive]FactType `json:"directive_contracts" yaml:"directive_contracts"`
}

// DefaultGateThresholds returns the built-in gate policy.
func DefaultGateThresholds() GateThresholds {
	return GateThresholds{
		MaxNewFactsPerStep:     1,
		DependencyTargetDepth:  4,
		RequiredReferenceCount: 2,
		EnforceDependency:      true,
		ReferenceBands: []ReferenceBand{
			{MinHeight: 0, MinRefs: 0, QualityMin: 0},
			{MinHeight: 2, MinRefs: 1, QualityMin: 0.8},
			{MinHeight: 5, MinRefs: 2, QualityMin: 1.2},
		},
		QualityAlpha:         0.18,
		QualityCap:           2.0,
		NoveltyEarly:         0.45,
		NoveltyMid:           0.55,
		NoveltyLate:          0.60,
		EarlyPhaseEnd:        5,
		MidPhaseEnd:          20,
		MinNoveltyScore:      0.30,
		TypeWindow:           7,
		HardFactSimilarity:   0.92,
		EquivalentSimilarity: 0.93,
		SceneRepeatThreshold: 0.97,
		RefsTarget:           2,
		DirectiveContracts: map[Directive]FactType{
			DirectiveIntroduceAmbiguousFact: FactPublicArtifact,
			DirectiveInstitutionalAction:    FactInstitutionalAction,
			DirectiveAgentCommitment:        FactAgentCommitment,
			DirectiveResourceConstraint:     FactResourceChange,
		},
	}
}

// NoveltyMinimum returns the novelty floor for a proposed state at height.
func (g GateThresholds) NoveltyMinimum(height int) float64 {
	floor := g.NoveltyLate
	switch {
	case height < g.EarlyPhaseEnd:
		floor = g.NoveltyEarly
	case height < g.MidPhaseEnd:
		floor = g.NoveltyMid
	}
	if floor < g.MinNoveltyScore {
		return g.MinNoveltyScore
	}
	return floor
}

// ReferenceBandFor returns the strictest band whose MinHeight is at or below height.
func (g GateThresholds) ReferenceBandFor(height int) ReferenceBand {
	var best ReferenceBand
	for _, b := range g.ReferenceBands {
		if height >= b.MinHeight && b.MinHeight >= best.MinHeight {
			best = b
		}
	}
	return best
}

// #endregion gate-thresholds
