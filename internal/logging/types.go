package logging

import (
	"time"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region step-record
// StepRecord captures the complete decision context of one engine step.
// Serialized as JSON into step_log.record_json for inspection and replay.
type StepRecord struct {
	Step          int              `json:"step"`
	BranchID      string           `json:"branch_id"`
	ChallengeID   string           `json:"challenge_id"`
	ParentStateID string           `json:"parent_state_id"`
	Directive     world.Directive  `json:"directive"`
	Difficulty    world.Difficulty `json:"difficulty"`
	Mode          world.Mode       `json:"mode"`
	Theta         float64          `json:"theta"`
	Escape        bool             `json:"escape"`
	Stagnation    bool             `json:"stagnation_override"`
	Retries       int              `json:"retries"`

	Candidates []CandidateTrace `json:"candidates"`

	// Decision is "commit", "reject" or "escape_commit".
	Decision    string `json:"decision"`
	AcceptedID  string `json:"accepted_candidate_id,omitempty"`
	StateID     string `json:"state_id,omitempty"`
	ForkStateID string `json:"fork_state_id,omitempty"`
	Stalled     bool   `json:"branch_stalled,omitempty"`

	StagnationScore  float64 `json:"stagnation_score"`
	StagnationStreak int     `json:"stagnation_streak"`
	ActiveAnchors    int     `json:"active_anchors"`

	CreatedAt time.Time `json:"created_at"`
}

// CandidateTrace is the per-candidate part of a StepRecord.
type CandidateTrace struct {
	CandidateID string        `json:"candidate_id"`
	ProducerID  string        `json:"producer_id"`
	Source      string        `json:"source"`
	Verdict     world.Verdict `json:"verdict"`
	// RawScore is the trimmed verifier mean; Score is the composite.
	RawScore       float64  `json:"raw_score"`
	Score          float64  `json:"score"`
	FactSimilarity float64  `json:"fact_similarity"`
	Penalty        float64  `json:"repetition_penalty"`
	Reasons        []string `json:"reasons,omitempty"`
	GateCodes      []string `json:"gate_codes,omitempty"`
	Novelty        float64  `json:"novelty"`
	HardFail       bool     `json:"hard_fail"`
	ProgressGate   bool     `json:"progress_gate"`
	Round          int      `json:"round"`
	// Threshold is the acceptance threshold the candidate was judged against.
	Threshold float64 `json:"threshold"`
}

// #endregion step-record

// #region step-log-row
// StepLogRow is a StepRecord read back together with its row metadata.
type StepLogRow struct {
	ID     int64
	Record StepRecord
}

// #endregion step-log-row
