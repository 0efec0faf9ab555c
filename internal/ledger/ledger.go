package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/worldledger/internal/projection"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region ledger

// Ledger owns the branching state tree: genesis, branch choice, commits,
// forks, and stalls. It is the single writer of a Repository.
type Ledger struct {
	repo   Repository
	config Config
	logger *zap.Logger
	now    func() time.Time
	forks  int
}

// New creates a Ledger over repo.
func New(repo Repository, config Config, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		repo:   repo,
		config: config,
		logger: logger.Named("ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Repository returns the underlying repository.
func (l *Ledger) Repository() Repository { return l.repo }

// Forks returns how many forks this Ledger created.
func (l *Ledger) Forks() int { return l.forks }

// #endregion ledger

// #region genesis

// SeedGenesis creates the genesis branch and state when the ledger is
// empty. It reports whether anything was written.
func (l *Ledger) SeedGenesis(ctx context.Context) (bool, error) {
	n, err := l.repo.CountBranches(ctx)
	if err != nil {
		return false, fmt.Errorf("count branches: %w", err)
	}
	if n > 0 {
		return false, nil
	}

	g := l.config.Genesis
	now := l.now()
	state := world.State{
		ID:       g.StateID,
		BranchID: g.BranchID,
		Height:   0,
		Artifact: g.Artifact,
		Metadata: world.StateMetadata{
			Entities:               append([]string(nil), g.Entities...),
			Threads:                append([]string(nil), g.Threads...),
			InterpretationStrength: copyStrengths(g.InterpretationStrength),
			Bundle:                 g.Bundle,
		},
		Acceptance: world.AcceptanceSummary{Score: 1, Reasons: []string{"genesis"}},
		CreatedAt:  now,
	}
	branch := world.Branch{
		ID:              g.BranchID,
		HeadStateID:     state.ID,
		Status:          world.BranchActive,
		SemanticDebt:    g.Metrics.SemanticDebt,
		Uncertainty:     g.Metrics.Uncertainty,
		ClosurePressure: g.Metrics.ClosurePressure,
		ChaosPressure:   g.Metrics.ChaosPressure,
		CreatedAt:       now,
	}
	memory := world.Continuity{
		BranchID:   g.BranchID,
		Summary:    g.Memory.Summary,
		Entities:   append([]string(nil), g.Memory.Entities...),
		Tensions:   append([]string(nil), g.Memory.Tensions...),
		Highlights: append([]string(nil), g.Memory.Highlights...),
		UpdatedAt:  now,
	}

	if _, err := l.repo.Commit(ctx, CommitRecord{NewBranch: true, Branch: branch, State: state, Continuity: memory}); err != nil {
		return false, fmt.Errorf("seed genesis: %w", err)
	}
	l.logger.Info("genesis seeded", zap.String("world", g.WorldID), zap.String("branch", branch.ID), zap.String("state", state.ID))
	return true, nil
}

// #endregion genesis

// #region choose-branch

// ChooseBranch picks an active branch uniformly. With none active, one
// stalled branch is resurrected at random. ErrNoBranches otherwise.
func (l *Ledger) ChooseBranch(ctx context.Context, rng *rand.Rand) (world.Branch, error) {
	active, err := l.repo.ListBranches(ctx, world.BranchActive)
	if err != nil {
		return world.Branch{}, fmt.Errorf("list active branches: %w", err)
	}
	if len(active) > 0 {
		return active[rng.Intn(len(active))], nil
	}

	stalled, err := l.repo.ListBranches(ctx, world.BranchStalled)
	if err != nil {
		return world.Branch{}, fmt.Errorf("list stalled branches: %w", err)
	}
	if len(stalled) == 0 {
		return world.Branch{}, ErrNoBranches
	}
	b := stalled[rng.Intn(len(stalled))]
	if err := l.repo.UpdateBranchStatus(ctx, b.ID, world.BranchActive); err != nil {
		return world.Branch{}, fmt.Errorf("resurrect branch %s: %w", b.ID, err)
	}
	b.Status = world.BranchActive
	l.logger.Info("branch resurrected", zap.String("branch", b.ID))
	return b, nil
}

// #endregion choose-branch

// #region snapshot

// Snapshot gathers the head lineage (up to depth states, oldest first),
// the last factWindow facts, every active anchor, and the continuity memory.
func (l *Ledger) Snapshot(ctx context.Context, branch world.Branch, depth, factWindow int) (Snapshot, error) {
	recent, err := l.Lineage(ctx, branch.HeadStateID, depth)
	if err != nil {
		return Snapshot{}, err
	}
	if len(recent) == 0 {
		return Snapshot{}, &StateConsistencyError{Missing: "head state " + branch.HeadStateID, Err: ErrNotFound}
	}
	recentFacts, err := l.repo.RecentFacts(ctx, branch.ID, factWindow)
	if err != nil {
		return Snapshot{}, fmt.Errorf("recent facts: %w", err)
	}
	anchors, err := l.repo.ActiveFacts(ctx, branch.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("active facts: %w", err)
	}
	memory, _, err := l.repo.GetContinuity(ctx, branch.ID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("continuity: %w", err)
	}
	return Snapshot{
		Branch:      branch,
		Head:        recent[len(recent)-1],
		Recent:      recent,
		RecentFacts: recentFacts,
		Anchors:     anchors,
		Continuity:  memory,
	}, nil
}

// Lineage walks parent links from stateID and returns up to limit states,
// oldest first. A fork's lineage continues into its parent branch.
func (l *Ledger) Lineage(ctx context.Context, stateID string, limit int) ([]world.State, error) {
	var out []world.State
	for id := stateID; id != "" && (limit <= 0 || len(out) < limit); {
		s, err := l.repo.GetState(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lineage %s: %w", id, err)
		}
		out = append(out, s)
		id = s.ParentID
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// #endregion snapshot

// #region commit

// Commit appends cand as the next State on the challenge's branch, moves
// the head, refreshes pressures and debt, and records its facts.
func (l *Ledger) Commit(ctx context.Context, ch world.Challenge, cand world.Candidate, acc world.AcceptanceSummary, p Pressure) (world.State, error) {
	parent, branch, err := l.resolve(ctx, ch)
	if err != nil {
		return world.State{}, err
	}

	now := l.now()
	state := world.State{
		ID:          "state-" + ch.ID,
		BranchID:    branch.ID,
		ParentID:    parent.ID,
		Height:      parent.Height + 1,
		Artifact:    cand.Artifact,
		Metadata:    stateMetadata(ch, cand, parent.Height+1),
		ChallengeID: ch.ID,
		Acceptance:  acc,
		CreatedAt:   now,
	}
	debt := SemanticDebt(cand.Metadata.InterpretationStrength, p.Fragility, branch.Uncertainty)

	branch.HeadStateID = state.ID
	branch.Status = world.BranchActive
	branch.SemanticDebt = round3(debt)
	branch.ClosurePressure = round3(world.Clamp01(p.Closure))
	branch.ChaosPressure = round3(world.Clamp01(p.Chaos))
	branch.Uncertainty = round3(math.Abs(branch.ClosurePressure - branch.ChaosPressure))

	prev, _, err := l.repo.GetContinuity(ctx, branch.ID)
	if err != nil {
		return world.State{}, fmt.Errorf("continuity: %w", err)
	}
	rec := CommitRecord{
		Branch:     branch,
		State:      state,
		Facts:      state.Metadata.Facts,
		Continuity: projection.UpdateContinuity(prev, state, l.config.Continuity, now),
	}
	stored, err := l.repo.Commit(ctx, rec)
	if err != nil {
		return world.State{}, fmt.Errorf("commit %s: %w", state.ID, err)
	}
	state.Metadata = state.Metadata.WithStoredFacts(stored)

	l.logger.Info("state committed",
		zap.String("branch", branch.ID),
		zap.String("state", state.ID),
		zap.Int("height", state.Height),
		zap.Float64("score", acc.Score),
		zap.Float64("debt", branch.SemanticDebt),
	)
	return state, nil
}

// MaybeFork creates, at most MaxForks times per Ledger and with
// ForkProbability, a sibling branch rooted at the challenge's parent and
// advanced by one State derived from cand.
func (l *Ledger) MaybeFork(ctx context.Context, ch world.Challenge, cand world.Candidate, acc world.AcceptanceSummary, rng *rand.Rand) (world.State, bool, error) {
	if l.forks >= l.config.MaxForks {
		return world.State{}, false, nil
	}
	if rng.Float64() > l.config.ForkProbability {
		return world.State{}, false, nil
	}

	parent, source, err := l.resolve(ctx, ch)
	if err != nil {
		return world.State{}, false, err
	}
	total, err := l.repo.CountBranches(ctx)
	if err != nil {
		return world.State{}, false, fmt.Errorf("count branches: %w", err)
	}
	memory, _, err := l.repo.GetContinuity(ctx, source.ID)
	if err != nil {
		return world.State{}, false, fmt.Errorf("continuity: %w", err)
	}

	now := l.now()
	forkID := fmt.Sprintf("branch-fork-%d", total)
	artifact := cand.Artifact
	if l.config.ForkSuffix != "" {
		artifact += " " + l.config.ForkSuffix
	}
	state := world.State{
		ID:          fmt.Sprintf("state-fork-%d-%s", total, ch.ID),
		BranchID:    forkID,
		ParentID:    parent.ID,
		Height:      parent.Height + 1,
		Artifact:    artifact,
		Metadata:    stateMetadata(ch, cand, parent.Height+1),
		ChallengeID: ch.ID,
		Acceptance: world.AcceptanceSummary{
			Score:       acc.Score,
			Reasons:     []string{"fork branch accepted"},
			ProducerID:  acc.ProducerID,
			CandidateID: acc.CandidateID,
			Forked:      true,
		},
		CreatedAt: now,
	}
	branch := world.Branch{
		ID:              forkID,
		HeadStateID:     state.ID,
		Status:          world.BranchActive,
		SemanticDebt:    source.SemanticDebt,
		Uncertainty:     source.Uncertainty,
		ClosurePressure: source.ClosurePressure,
		ChaosPressure:   source.ChaosPressure,
		CreatedAt:       now,
	}
	memory.BranchID = forkID
	memory.UpdatedAt = now

	rec := CommitRecord{
		NewBranch:     true,
		Branch:        branch,
		State:         state,
		Facts:         state.Metadata.Facts,
		CopyFactsFrom: source.ID,
		CopyMaxHeight: parent.Height,
		Continuity:    memory,
	}
	stored, err := l.repo.Commit(ctx, rec)
	if err != nil {
		return world.State{}, false, fmt.Errorf("fork %s: %w", forkID, err)
	}
	state.Metadata = state.Metadata.WithStoredFacts(stored)
	l.forks++
	l.logger.Info("branch forked",
		zap.String("from", source.ID),
		zap.String("branch", forkID),
		zap.String("parent", parent.ID),
		zap.Int("height", state.Height),
	)
	return state, true, nil
}

// MarkRejected stalls the branch with StallProbability after a step in
// which every candidate was rejected.
func (l *Ledger) MarkRejected(ctx context.Context, branchID string, rng *rand.Rand) (bool, error) {
	if rng.Float64() >= l.config.StallProbability {
		return false, nil
	}
	if err := l.repo.UpdateBranchStatus(ctx, branchID, world.BranchStalled); err != nil {
		return false, fmt.Errorf("stall branch %s: %w", branchID, err)
	}
	l.logger.Info("branch stalled", zap.String("branch", branchID))
	return true, nil
}

// resolve loads the challenge's parent state and branch. A missing row is
// a StateConsistencyError.
func (l *Ledger) resolve(ctx context.Context, ch world.Challenge) (world.State, world.Branch, error) {
	parent, err := l.repo.GetState(ctx, ch.ParentStateID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return world.State{}, world.Branch{}, &StateConsistencyError{ChallengeID: ch.ID, Missing: "parent state " + ch.ParentStateID, Err: err}
		}
		return world.State{}, world.Branch{}, fmt.Errorf("get parent state: %w", err)
	}
	branch, err := l.repo.GetBranch(ctx, ch.BranchID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return world.State{}, world.Branch{}, &StateConsistencyError{ChallengeID: ch.ID, Missing: "branch " + ch.BranchID, Err: err}
		}
		return world.State{}, world.Branch{}, fmt.Errorf("get branch: %w", err)
	}
	return parent, branch, nil
}

// #endregion commit

// #region debt

// SemanticDebt estimates unresolved interpretive load in [0,1]:
// 0.45 coexistence (1 - strength spread) + 0.35 fragility + 0.20 uncertainty.
func SemanticDebt(strengths map[string]float64, fragility, uncertainty float64) float64 {
	if len(strengths) == 0 {
		return 0.5
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range strengths {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	coexistence := 1 - (hi - lo)
	return world.Clamp01(0.45*coexistence + 0.35*fragility + 0.20*uncertainty)
}

// #endregion debt

// #region helpers

// stateMetadata stamps every fact with the height it is committed at.
func stateMetadata(ch world.Challenge, cand world.Candidate, height int) world.StateMetadata {
	m := cand.Metadata
	facts := make([]world.Fact, 0, len(m.Facts))
	for _, f := range m.Facts {
		f.IntroducedHeight = height
		facts = append(facts, f)
	}
	return world.StateMetadata{
		Entities:               append([]string(nil), m.Entities...),
		Threads:                append([]string(nil), m.Threads...),
		InterpretationStrength: copyStrengths(m.InterpretationStrength),
		Bundle:                 m.Bundle,
		Facts:                  facts,
		WhatChanged:            m.WhatChanged,
		Directive:              ch.Directive,
		Extensions:             m.Extensions,
	}
}

func copyStrengths(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}

// #endregion helpers
