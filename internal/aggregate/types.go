package aggregate

import "github.com/danielpatrickdp/worldledger/internal/world"

// #region config

// Config holds the quorum and acceptance threshold.
type Config struct {
	RejectQuorum    int     `yaml:"reject_quorum" validate:"gte=1"`
	MinAccepts      int     `yaml:"min_accepts" validate:"gte=1"`
	AcceptThreshold float64 `yaml:"accept_threshold" validate:"gte=0,lte=1"`
}

// DefaultConfig returns quorum 2, two accepts, threshold 0.57.
func DefaultConfig() Config {
	return Config{
		RejectQuorum:    2,
		MinAccepts:      2,
		AcceptThreshold: 0.57,
	}
}

// #endregion config

// #region input

// Input is everything the aggregator needs about one Candidate.
type Input struct {
	Results           []world.VerificationResult
	Novelty           float64
	TensionProgress   float64
	RepetitionPenalty float64
	HardFail          bool
	ProgressGate      bool
	// Threshold overrides Config.AcceptThreshold when positive.
	Threshold float64
}

// #endregion input

// Decision reasons.
const (
	ReasonNoResults     = "no verification results"
	ReasonHardFail      = "hard fail: novelty gate"
	ReasonProgressGate  = "hard fail: progress gate"
	ReasonRejectQuorum  = "reject quorum reached"
	ReasonThresholdMet  = "composite threshold satisfied"
	ReasonLowConfidence = "insufficient confidence"
)
