package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielpatrickdp/worldledger/internal/projection"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region repository

// Repository is the persistence surface of the ledger and the engine.
// Implementations must make every write durable before returning.
type Repository interface {
	CountBranches(ctx context.Context) (int, error)
	GetBranch(ctx context.Context, id string) (world.Branch, error)
	// ListBranches returns branches with the given status, or all when status is empty.
	ListBranches(ctx context.Context, status world.BranchStatus) ([]world.Branch, error)
	UpdateBranchStatus(ctx context.Context, id string, status world.BranchStatus) error

	GetState(ctx context.Context, id string) (world.State, error)
	// ListStates returns a branch's states ordered by height. limit > 0 keeps the last limit.
	ListStates(ctx context.Context, branchID string, limit int) ([]world.State, error)

	InsertChallenge(ctx context.Context, ch world.Challenge) error
	CountChallenges(ctx context.Context) (int, error)
	InsertCandidate(ctx context.Context, cand world.Candidate) error
	UpdateCandidateStatus(ctx context.Context, id string, status world.CandidateStatus) error
	InsertResults(ctx context.Context, results []world.VerificationResult) error

	InsertEpoch(ctx context.Context, e world.ControllerEpoch) error
	// LatestEpoch returns false when no epoch was recorded yet.
	LatestEpoch(ctx context.Context) (world.ControllerEpoch, bool, error)

	// RecentFacts returns the last limit facts of a branch in commit order.
	RecentFacts(ctx context.Context, branchID string, limit int) ([]world.Fact, error)
	// ActiveFacts returns every fact of a branch, one per id, in commit order.
	ActiveFacts(ctx context.Context, branchID string) ([]world.Fact, error)
	GetContinuity(ctx context.Context, branchID string) (world.Continuity, bool, error)

	// Commit applies a CommitRecord in one transaction and returns
	// rec.Facts under the ids the fact ledger stored them with.
	Commit(ctx context.Context, rec CommitRecord) ([]world.Fact, error)
}

// CommitRecord is everything one accepted State changes.
type CommitRecord struct {
	// NewBranch inserts Branch instead of updating it.
	NewBranch bool
	Branch    world.Branch
	State     world.State
	Facts     []world.Fact
	// CopyFactsFrom copies that branch's facts introduced at or below
	// CopyMaxHeight before Facts are appended.
	CopyFactsFrom string
	CopyMaxHeight int
	Continuity    world.Continuity
}

// ErrNotFound is returned by repositories for a missing row.
var ErrNotFound = errors.New("not found")

// #endregion repository

// #region errors

// ErrNoBranches means neither an active nor a stalled branch exists.
var ErrNoBranches = errors.New("no active or stalled branch available")

// StateConsistencyError means the ledger is already broken: a commit
// referenced a parent state or branch that does not exist.
type StateConsistencyError struct {
	ChallengeID string
	Missing     string
	Err         error
}

func (e *StateConsistencyError) Error() string {
	return fmt.Sprintf("state consistency: challenge %s: missing %s: %v", e.ChallengeID, e.Missing, e.Err)
}

func (e *StateConsistencyError) Unwrap() error { return e.Err }

// #endregion errors

// #region config

// BranchMetrics seeds the pressures of the genesis branch.
type BranchMetrics struct {
	SemanticDebt    float64 `yaml:"semantic_debt_est" validate:"gte=0,lte=1"`
	Uncertainty     float64 `yaml:"uncertainty" validate:"gte=0,lte=1"`
	ClosurePressure float64 `yaml:"closure_pressure" validate:"gte=0,lte=1"`
	ChaosPressure   float64 `yaml:"chaos_pressure" validate:"gte=0,lte=1"`
}

// GenesisMemory seeds the genesis branch continuity.
type GenesisMemory struct {
	Summary    string   `yaml:"summary"`
	Entities   []string `yaml:"known_entities"`
	Tensions   []string `yaml:"unresolved_tensions"`
	Highlights []string `yaml:"timeline_highlights"`
}

// GenesisConfig describes the world's first state.
type GenesisConfig struct {
	WorldID                string                `yaml:"world_id" validate:"required"`
	BranchID               string                `yaml:"main_branch_id" validate:"required"`
	StateID                string                `yaml:"state_id" validate:"required"`
	Artifact               string                `yaml:"artifact" validate:"required"`
	Entities               []string              `yaml:"entities"`
	Threads                []string              `yaml:"threads"`
	InterpretationStrength map[string]float64    `yaml:"interpretation_strength" validate:"min=1"`
	Bundle                 world.NarrativeBundle `yaml:"bundle"`
	Metrics                BranchMetrics         `yaml:"branch_metrics"`
	Memory                 GenesisMemory         `yaml:"memory"`
}

// Config holds fork and stall policy plus the genesis world.
type Config struct {
	MaxForks         int                         `yaml:"max_forks" validate:"gte=0"`
	ForkProbability  float64                     `yaml:"fork_probability" validate:"gte=0,lte=1"`
	StallProbability float64                     `yaml:"stall_probability" validate:"gte=0,lte=1"`
	ForkSuffix       string                      `yaml:"fork_suffix"`
	Genesis          GenesisConfig               `yaml:"genesis"`
	Continuity       projection.ContinuityConfig `yaml:"continuity"`
}

// DefaultConfig returns two forks per run at 12%, stalls at 15%, and the
// built-in world.
func DefaultConfig() Config {
	return Config{
		MaxForks:         2,
		ForkProbability:  0.12,
		StallProbability: 0.15,
		ForkSuffix:       "Fork continuation accepted from shared parent.",
		Genesis:          DefaultGenesis(),
		Continuity:       projection.DefaultContinuityConfig(),
	}
}

// DefaultGenesis returns the built-in world of competing interpretations.
func DefaultGenesis() GenesisConfig {
	return GenesisConfig{
		WorldID:  "alice-competing-interpretations",
		BranchID: "branch-main",
		StateID:  "state-0",
		Artifact: "In Alice's city, a foundational event happened years ago, yet no one can state what truly happened. " +
			"Some call it an accident, others an experiment, others a cumulative drift. " +
			"Every new fact shifts plausibility, but no interpretation settles the matter.",
		Entities:               []string{"E0", "Alice", "I1", "I2", "I3"},
		Threads:                []string{"origin ambiguity", "institutional trust", "memory reliability"},
		InterpretationStrength: map[string]float64{"I1": 0.34, "I2": 0.33, "I3": 0.33},
		Bundle: world.NarrativeBundle{
			Title:               "Genesis: The City After E0",
			Scene:               "Alice lives in a city changed by an unnamed event from years ago.",
			SurfaceConfirmation: "No single interpretation can claim certainty.",
			AlternativeCompatibility: []string{
				"Some describe the event as an accident hidden by institutions.",
				"Others describe it as an intentional experiment or a long drift of choices.",
			},
			SocialEffect:    "Public discourse fragments into stable but conflicting narratives.",
			DeferredTension: "Alice remembers life as simpler but cannot prove what changed.",
		},
		Metrics: BranchMetrics{SemanticDebt: 0.5, Uncertainty: 0.5, ClosurePressure: 0.5, ChaosPressure: 0.5},
		Memory: GenesisMemory{
			Summary:    "Alice's world begins with one unresolved event and three competing interpretations.",
			Entities:   []string{"E0", "Alice", "city archive"},
			Tensions:   []string{"What happened at E0", "Whether records reflect truth or process noise"},
			Highlights: []string{"Genesis uncertainty is stable and no interpretation is settled."},
		},
	}
}

// #endregion config

// #region snapshot

// Snapshot is the recent history of one branch used to build a Challenge.
type Snapshot struct {
	Branch      world.Branch
	Head        world.State
	Recent      []world.State
	RecentFacts []world.Fact
	Anchors     []world.Fact
	Continuity  world.Continuity
}

// Pressure is the averaged verifier risk a commit applies to its branch.
type Pressure struct {
	Closure   float64
	Chaos     float64
	Fragility float64
}

// #endregion snapshot
