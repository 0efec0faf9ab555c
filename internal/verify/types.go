package verify

import (
	"context"
	"math/rand"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region verifier-interface

// Verifier scores one Candidate against its Challenge. The set of
// implementations is closed: GeneralVerifier and NoveltyGate.
type Verifier interface {
	ID() string
	Evaluate(ctx context.Context, ch world.Challenge, cand world.Candidate, rng *rand.Rand) world.VerificationResult
}

// #endregion verifier-interface

// #region estimators

// Risk is an external semantic risk estimate.
type Risk struct {
	Closure   float64 `json:"closure_risk"`
	Chaos     float64 `json:"chaos_risk"`
	Fragility float64 `json:"fragility_score"`
}

// RiskEstimator asks an external model for narrative risk signals.
type RiskEstimator interface {
	EstimateRisk(ctx context.Context, ch world.Challenge, cand world.Candidate) (Risk, error)
}

// NoveltyEstimator asks an external model how much a candidate progresses the world.
type NoveltyEstimator interface {
	EstimateNovelty(ctx context.Context, ch world.Challenge, cand world.Candidate) (float64, error)
}

// #endregion estimators

// #region reason-codes

// Gate reason codes, one per hard-fail rule.
const (
	CodeSchemaInvalid       = "FACT_SCHEMA_INVALID"
	CodeTypeNotInEnum       = "TYPE_NOT_IN_ENUM"
	CodeDirectiveContract   = "DIRECTIVE_CONTRACT_FAIL"
	CodeSpecificityBelowMin = "FACT_SPECIFICITY_BELOW_MIN"
	CodeTooManyNewFacts     = "TOO_MANY_NEW_FACTS"
	CodeNoveltyBelowMin     = "NOVELTY_BELOW_MIN"
	CodeFactRepetition      = "FACT_REPETITION"
	CodeSceneRepeat         = "SCENE_REPEAT"
	CodeMissingChange       = "MISSING_CHANGE_ANNOTATION"
	CodeProgressGateFail    = "PROGRESS_GATE_FAIL"
	CodeFactEquivalent      = "FACT_EQUIVALENT"
	CodeStructuralMismatch  = "STRUCTURAL_INCONSISTENCY"
)

// Violation is one hard-fail condition the gate detected.
type Violation struct {
	Code   string
	Detail string
}

// #endregion reason-codes

// #region config

// GeneralSpec names one general verifier and its sensitivity.
type GeneralSpec struct {
	ID          string  `yaml:"id" validate:"required"`
	Sensitivity float64 `yaml:"sensitivity" validate:"gte=0,lte=2"`
}

// Config holds verifier identities and scoring constants.
type Config struct {
	GateID             string        `yaml:"gate_id" validate:"required"`
	General            []GeneralSpec `yaml:"general" validate:"min=1,dive"`
	AcceptScore        float64       `yaml:"accept_score" validate:"gte=0,lte=1"`
	EscalateScore      float64       `yaml:"escalate_score" validate:"gte=0,ltefield=AcceptScore"`
	L3AcceptScore      float64       `yaml:"l3_accept_score" validate:"gte=0,lte=1"`
	SensitivityWeight  float64       `yaml:"sensitivity_weight" validate:"gte=0"`
	ScoreNoise         float64       `yaml:"score_noise" validate:"gte=0,lte=0.5"`
	ChaosNoise         float64       `yaml:"chaos_noise" validate:"gte=0,lte=0.5"`
	L3AdjustLow        float64       `yaml:"l3_adjust_low" validate:"lte=0"`
	L3AdjustHigh       float64       `yaml:"l3_adjust_high" validate:"gte=0"`
	ExternalRiskWeight float64       `yaml:"external_risk_weight" validate:"gte=0,lte=1"`
	ExternalNovelty    float64       `yaml:"external_novelty_weight" validate:"gte=0,lte=1"`
	PenaltyFloor       float64       `yaml:"penalty_floor" validate:"gte=0,lt=1"`
}

// DefaultConfig returns one novelty gate and three general verifiers.
func DefaultConfig() Config {
	return Config{
		GateID: "verifier-novelty",
		General: []GeneralSpec{
			{ID: "verifier-a", Sensitivity: 0.95},
			{ID: "verifier-b", Sensitivity: 1.00},
			{ID: "verifier-c", Sensitivity: 1.05},
		},
		AcceptScore:        0.58,
		EscalateScore:      0.45,
		L3AcceptScore:      0.55,
		SensitivityWeight:  0.08,
		ScoreNoise:         0.05,
		ChaosNoise:         0.10,
		L3AdjustLow:        -0.08,
		L3AdjustHigh:       0.10,
		ExternalRiskWeight: 0.5,
		ExternalNovelty:    0.2,
		PenaltyFloor:       0.60,
	}
}

// #endregion config
