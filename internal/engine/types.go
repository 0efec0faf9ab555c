package engine

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/worldledger/internal/backend"
	"github.com/danielpatrickdp/worldledger/internal/ledger"
	"github.com/danielpatrickdp/worldledger/internal/logging"
	"github.com/danielpatrickdp/worldledger/internal/metrics"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region store

// Store is the persistence the engine writes through: the ledger
// repository plus the raw handle the step log is written to.
type Store interface {
	ledger.Repository
	DB() *sql.DB
}

// #endregion store

// #region options

// Options are the run-time collaborators of an Engine. Every field is
// optional.
type Options struct {
	Seed int64
	// Backend feeds producers, risk and novelty estimation, and embeddings.
	// Nil runs fully on templates and lexical similarity.
	Backend   backend.Backend
	Collector *metrics.Collector
	Logger    *zap.Logger
	// OnStep is called once per completed step, on the caller's goroutine.
	OnStep func(StepEvent)
}

// #endregion options

// #region decisions

// Step decisions, as recorded in the step log and the steps_total metric.
const (
	DecisionCommit       = "commit"
	DecisionEscapeCommit = "escape_commit"
	DecisionReject       = "reject"
)

// Acceptance routes recorded on a committed State.
const (
	AcceptedViaQuorum = "quorum"
	AcceptedViaEscape = "escape_relaxation"
)

// #endregion decisions

// #region step-event

// StepEvent is the observability record of one completed step.
type StepEvent struct {
	Step          int
	BranchID      string
	ChallengeID   string
	ParentStateID string
	Directive     world.Directive
	Difficulty    world.Difficulty
	Escape        bool
	Stagnation    bool
	Retries       int

	Decision    string
	AcceptedID  string
	StateID     string
	ForkStateID string
	Stalled     bool

	Accepted int
	Rejected int
	Forks    int

	Controller world.ControllerState
	Debt       float64
	Variance   float64

	Candidates []logging.CandidateTrace

	StagnationStreak int
	StagnationScore  float64
	ActiveAnchors    int
}

// Record converts the event into its step-log form.
func (e StepEvent) Record() logging.StepRecord {
	return logging.StepRecord{
		Step:             e.Step,
		BranchID:         e.BranchID,
		ChallengeID:      e.ChallengeID,
		ParentStateID:    e.ParentStateID,
		Directive:        e.Directive,
		Difficulty:       e.Difficulty,
		Mode:             e.Controller.Mode,
		Theta:            e.Controller.Theta,
		Escape:           e.Escape,
		Stagnation:       e.Stagnation,
		Retries:          e.Retries,
		Candidates:       e.Candidates,
		Decision:         e.Decision,
		AcceptedID:       e.AcceptedID,
		StateID:          e.StateID,
		ForkStateID:      e.ForkStateID,
		Stalled:          e.Stalled,
		StagnationScore:  e.StagnationScore,
		StagnationStreak: e.StagnationStreak,
		ActiveAnchors:    e.ActiveAnchors,
	}
}

// #endregion step-event
