package replay

import (
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture: a policy
// snapshot plus recorded steps with the verdicts they produced.
type Fixture struct {
	Description string `json:"description"`
	// Policy is a policy document merged over the defaults. Empty means
	// the defaults.
	Policy map[string]any `json:"policy,omitempty"`
	Steps  []FixtureStep  `json:"steps"`
}

// FixtureStep is one recorded challenge with its candidates.
type FixtureStep struct {
	Step       int               `json:"step"`
	Challenge  world.Challenge   `json:"challenge"`
	Threshold  float64           `json:"threshold"`
	Candidates []world.Candidate `json:"candidates"`
	Expected   []Expectation     `json:"expected"`
}

// Expectation is the recorded aggregate outcome of one candidate.
type Expectation struct {
	CandidateID string        `json:"candidate_id"`
	Verdict     world.Verdict `json:"verdict"`
	Score       float64       `json:"score"`
	HardFail    bool          `json:"hard_fail"`
	GateCodes   []string      `json:"gate_codes,omitempty"`
}

// #endregion fixture-types

// #region results

// Result is the replayed outcome of one candidate.
type Result struct {
	ChallengeID string
	CandidateID string
	Verdict     world.Verdict
	Score       float64
	HardFail    bool
	GateCodes   []string
	Reasons     []string
}

// Mismatch is one disagreement between a recorded and a replayed outcome.
type Mismatch struct {
	ChallengeID string
	CandidateID string
	Field       string
	Want        string
	Got         string
}

// Report summarizes a replay run.
type Report struct {
	Steps      int
	Candidates int
	Verdicts   map[world.Verdict]int
	Results    []Result
	Mismatches []Mismatch
}

// OK reports whether every replayed outcome matched its recording.
func (r Report) OK() bool { return len(r.Mismatches) == 0 }

// #endregion results
