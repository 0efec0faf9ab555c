package taskgen

import "github.com/danielpatrickdp/worldledger/internal/world"

// #region config

// Pools are the mode- and pressure-dependent directive pools.
type Pools struct {
	Maintenance []world.Directive `yaml:"maintenance" validate:"min=1"`
	Diversify   []world.Directive `yaml:"diversify" validate:"min=1"`
	Closure     []world.Directive `yaml:"closure" validate:"min=1"`
	Chaos       []world.Directive `yaml:"chaos" validate:"min=1"`
	Convergence []world.Directive `yaml:"convergence" validate:"min=1"`
	Default     []world.Directive `yaml:"default" validate:"min=1"`
}

// Pressure thresholds select among the pressure-driven pools.
type Pressure struct {
	Closure                float64 `yaml:"closure" validate:"gte=0,lte=1"`
	Chaos                  float64 `yaml:"chaos" validate:"gte=0,lte=1"`
	ConvergenceAccept      float64 `yaml:"convergence_accept" validate:"gte=0,lte=1"`
	ConvergenceUncertainty float64 `yaml:"convergence_uncertainty" validate:"gte=0,lte=1"`
}

// Escape configures the forced-concreteness override.
type Escape struct {
	RejectStreak    int               `yaml:"reject_streak" validate:"gte=1"`
	Directives      []world.Directive `yaml:"directives" validate:"min=2"`
	ConstraintBoost float64           `yaml:"constraint_boost" validate:"gte=0,lte=1"`
	NoveltyBoost    float64           `yaml:"novelty_boost" validate:"gte=0,lte=1"`
	UnderspecDrop   float64           `yaml:"underspec_drop" validate:"gte=0,lte=1"`
	UnderspecCap    float64           `yaml:"underspec_cap" validate:"gte=0.1,lte=1"`
	MaxRetries      int               `yaml:"max_retries" validate:"gte=0,lte=3"`
	RelaxMargin     float64           `yaml:"relax_margin" validate:"gte=0,lte=0.1"`
	Instructions    string            `yaml:"instructions"`
}

// Config holds everything the generator needs.
type Config struct {
	Families             map[world.Directive]string `yaml:"families" validate:"min=1"`
	RequiredFamilies     []string                   `yaml:"required_families"`
	FamilyWindow         int                        `yaml:"family_window" validate:"gte=1"`
	MaxStreak            int                        `yaml:"max_streak" validate:"gte=1"`
	FactPreview          int                        `yaml:"fact_preview" validate:"gte=0"`
	Pools                Pools                      `yaml:"pools"`
	Pressure             Pressure                   `yaml:"pressure"`
	Escape               Escape                     `yaml:"escape"`
	StagnationDirectives []world.Directive          `yaml:"stagnation_directives" validate:"min=2"`
}

// DefaultConfig returns the built-in directive policy.
func DefaultConfig() Config {
	return Config{
		Families: map[world.Directive]string{
			world.DirectiveIntroduceAmbiguousFact:        "evidence",
			world.DirectiveDelayedEffect:                 "evidence",
			world.DirectiveAgentActionDivergence:         "agency",
			world.DirectiveAgentCommitment:               "agency",
			world.DirectiveInstitutionalAction:           "institution",
			world.DirectiveResourceConstraint:            "institution",
			world.DirectiveRetrospectiveReinterpretation: "reinterpretation",
			world.DirectiveFalseConvergence:              "reinterpretation",
			world.DirectiveMaintenanceEpoch:              "maintenance",
		},
		RequiredFamilies: []string{"agency", "institution"},
		FamilyWindow:     6,
		MaxStreak:        2,
		FactPreview:      5,
		Pools: Pools{
			Maintenance: []world.Directive{world.DirectiveMaintenanceEpoch, world.DirectiveInstitutionalAction},
			Diversify: []world.Directive{
				world.DirectiveIntroduceAmbiguousFact,
				world.DirectiveAgentActionDivergence,
				world.DirectiveDelayedEffect,
				world.DirectiveRetrospectiveReinterpretation,
				world.DirectiveInstitutionalAction,
				world.DirectiveAgentCommitment,
				world.DirectiveResourceConstraint,
			},
			Closure:     []world.Directive{world.DirectiveAgentActionDivergence, world.DirectiveRetrospectiveReinterpretation},
			Chaos:       []world.Directive{world.DirectiveMaintenanceEpoch, world.DirectiveInstitutionalAction},
			Convergence: []world.Directive{world.DirectiveFalseConvergence, world.DirectiveAgentCommitment},
			Default:     append([]world.Directive(nil), world.AllDirectives...),
		},
		Pressure: Pressure{
			Closure:                0.65,
			Chaos:                  0.65,
			ConvergenceAccept:      0.8,
			ConvergenceUncertainty: 0.25,
		},
		Escape: Escape{
			RejectStreak: 2,
			Directives: []world.Directive{
				world.DirectiveIntroduceAmbiguousFact,
				world.DirectiveInstitutionalAction,
				world.DirectiveAgentCommitment,
			},
			ConstraintBoost: 0.15,
			NoveltyBoost:    0.10,
			UnderspecDrop:   0.25,
			UnderspecCap:    0.35,
			MaxRetries:      1,
			RelaxMargin:     0.04,
			Instructions: "Produce exactly one new fact with a concrete place, a number, and two evidence items. " +
				"Reference at least one active anchor id. State plainly what changed since the previous step.",
		},
		StagnationDirectives: []world.Directive{
			world.DirectiveAgentCommitment,
			world.DirectiveResourceConstraint,
			world.DirectiveInstitutionalAction,
		},
	}
}

// #endregion config

// #region pick

// PickInput is what directive selection depends on.
type PickInput struct {
	Signals    world.Signals
	Mode       world.Mode
	Recent     []world.Directive // this branch, oldest first
	Escape     bool
	Stagnation bool
}

// Pick sources.
const (
	SourceMode       = "mode"
	SourceFamily     = "family"
	SourceEscape     = "escape"
	SourceStagnation = "stagnation"
)

// Pick is a chosen directive and how it was chosen.
type Pick struct {
	Directive world.Directive
	Source    string
	Pool      []world.Directive
}

// #endregion pick
