package metrics

import "github.com/danielpatrickdp/worldledger/internal/world"

// #region summary

// Summary is the run-level statistics block returned by the engine.
type Summary struct {
	Attempted         int                   `json:"attempted_challenges"`
	Accepted          int                   `json:"accepted_candidates"`
	Rejected          int                   `json:"rejected_candidates"`
	Forks             int                   `json:"forks_created"`
	EscapeCommits     int                   `json:"escape_commits"`
	AcceptRate        float64               `json:"accept_rate"`
	ForkRate          float64               `json:"fork_rate"`
	RejectByLevel     map[world.Level]int   `json:"reject_by_level"`
	ValidatorVariance float64               `json:"validator_variance"`
	SemanticDebt      float64               `json:"semantic_debt_est"`
	DebtTrend         float64               `json:"debt_trend"`
	Branches          int                   `json:"branches"`
	Controller        world.ControllerState `json:"controller"`
}

// #endregion summary

// #region namespace

// Namespace prefixes every exported Prometheus metric.
const Namespace = "worldledger"

// #endregion namespace
