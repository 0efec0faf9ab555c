package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/worldledger/internal/ledger"
	"github.com/danielpatrickdp/worldledger/internal/state"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

func newLedger(t *testing.T, mutate func(*ledger.Config)) (*ledger.Ledger, *state.Store) {
	t.Helper()
	s, err := state.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	cfg := ledger.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	l := ledger.New(s, cfg, nil)
	_, err = l.SeedGenesis(context.Background())
	require.NoError(t, err)
	return l, s
}

func issue(t *testing.T, s *state.Store, id string, branch world.Branch) world.Challenge {
	t.Helper()
	ch := world.Challenge{
		ID:            id,
		BranchID:      branch.ID,
		ParentStateID: branch.HeadStateID,
		Projection:    "projection",
		Directive:     world.DirectiveInstitutionalAction,
		Difficulty:    world.DefaultDifficulty(),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.InsertChallenge(context.Background(), ch))
	return ch
}

func candidate(id string, facts ...world.Fact) world.Candidate {
	return world.Candidate{
		ID:       id,
		Artifact: "The council archive released record " + id + ".",
		Metadata: world.CandidateMetadata{
			Bundle:                 world.NarrativeBundle{Title: "Step " + id, Scene: "Scene " + id, DeferredTension: "open " + id},
			Facts:                  facts,
			WhatChanged:            "a record surfaced",
			InterpretationStrength: map[string]float64{"I1": 0.4, "I2": 0.3, "I3": 0.3},
		},
	}
}

func acceptance(id string) world.AcceptanceSummary {
	return world.AcceptanceSummary{Score: 0.7, Reasons: []string{"quorum accept"}, CandidateID: id}
}

func head(t *testing.T, s *state.Store, id string) world.Branch {
	t.Helper()
	b, err := s.GetBranch(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestSeedGenesisIsIdempotent(t *testing.T) {
	l, s := newLedger(t, nil)
	ctx := context.Background()

	wrote, err := l.SeedGenesis(ctx)
	require.NoError(t, err)
	assert.False(t, wrote)

	n, err := s.CountBranches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	g := ledger.DefaultGenesis()
	st, err := s.GetState(ctx, g.StateID)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Height)
	assert.Equal(t, "", st.ParentID)
	assert.Equal(t, []string{"genesis"}, st.Acceptance.Reasons)

	memory, ok, err := s.GetContinuity(ctx, g.BranchID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, g.Memory.Summary, memory.Summary)
}

func TestCommitExtendsHeadByOne(t *testing.T) {
	l, s := newLedger(t, nil)
	ctx := context.Background()
	main := ledger.DefaultGenesis().BranchID

	for i := 1; i <= 5; i++ {
		b := head(t, s, main)
		ch := issue(t, s, fmt.Sprintf("ch-%d", i), b)
		st, err := l.Commit(ctx, ch, candidate(ch.ID), acceptance(ch.ID), ledger.Pressure{Closure: 0.4, Chaos: 0.3, Fragility: 0.2})
		require.NoError(t, err)
		assert.Equal(t, i, st.Height)
		assert.Equal(t, b.HeadStateID, st.ParentID)
		assert.Equal(t, "state-"+ch.ID, st.ID)
		assert.Equal(t, st.ID, head(t, s, main).HeadStateID)
	}

	b := head(t, s, main)
	assert.InDelta(t, 0.1, b.Uncertainty, 1e-9)
	assert.Equal(t, world.BranchActive, b.Status)

	lineage, err := l.Lineage(ctx, b.HeadStateID, 0)
	require.NoError(t, err)
	require.Len(t, lineage, 6)
	for h, st := range lineage {
		assert.Equal(t, h, st.Height)
		if h > 0 {
			assert.Equal(t, lineage[h-1].ID, st.ParentID)
		}
	}

	snap, err := l.Snapshot(ctx, b, 3, 10)
	require.NoError(t, err)
	assert.Len(t, snap.Recent, 3)
	assert.Equal(t, b.HeadStateID, snap.Head.ID)
	assert.Contains(t, snap.Continuity.Summary, "height 5")
}

func TestCommitStampsFactHeight(t *testing.T) {
	l, s := newLedger(t, nil)
	ctx := context.Background()
	b := head(t, s, ledger.DefaultGenesis().BranchID)
	ch := issue(t, s, "ch-1", b)

	f := world.Fact{ID: "F_NEW_1", Type: world.FactWitness, Content: "a porter saw the lamp at pier 4"}
	st, err := l.Commit(ctx, ch, candidate(ch.ID, f), acceptance(ch.ID), ledger.Pressure{})
	require.NoError(t, err)
	require.Len(t, st.Metadata.Facts, 1)
	assert.Equal(t, 1, st.Metadata.Facts[0].IntroducedHeight)
	assert.Equal(t, world.DirectiveInstitutionalAction, st.Metadata.Directive)

	anchors, err := s.ActiveFacts(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Equal(t, 1, anchors[0].IntroducedHeight)
}

func TestRepeatedFactIsNotDuplicated(t *testing.T) {
	l, s := newLedger(t, nil)
	ctx := context.Background()
	main := ledger.DefaultGenesis().BranchID
	repeat := world.Fact{ID: "F_REPEAT", Type: world.FactMeasurement, Content: "tide gauge 7 read 3.2 meters"}

	for i := 1; i <= 2; i++ {
		ch := issue(t, s, fmt.Sprintf("ch-%d", i), head(t, s, main))
		_, err := l.Commit(ctx, ch, candidate(ch.ID, repeat), acceptance(ch.ID), ledger.Pressure{})
		require.NoError(t, err)
	}

	anchors, err := s.ActiveFacts(ctx, main)
	require.NoError(t, err)
	count := 0
	for _, f := range anchors {
		if f.ID == "F_REPEAT" {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, anchors, 1)
}

func TestCommitMissingParentIsConsistencyError(t *testing.T) {
	l, s := newLedger(t, nil)
	ctx := context.Background()
	b := head(t, s, ledger.DefaultGenesis().BranchID)
	ch := issue(t, s, "ch-1", b)
	ch.ParentStateID = "state-ghost"

	_, err := l.Commit(ctx, ch, candidate(ch.ID), acceptance(ch.ID), ledger.Pressure{})
	var sce *ledger.StateConsistencyError
	require.True(t, errors.As(err, &sce), "got %v", err)
	assert.Equal(t, "ch-1", sce.ChallengeID)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	ch.ParentStateID = b.HeadStateID
	ch.BranchID = "branch-ghost"
	_, err = l.Commit(ctx, ch, candidate(ch.ID), acceptance(ch.ID), ledger.Pressure{})
	require.True(t, errors.As(err, &sce), "got %v", err)
	assert.Contains(t, sce.Missing, "branch-ghost")
}

func TestForkCapAndFactCopy(t *testing.T) {
	l, s := newLedger(t, func(c *ledger.Config) {
		c.MaxForks = 1
		c.ForkProbability = 1
	})
	ctx := context.Background()
	main := ledger.DefaultGenesis().BranchID
	rng := rand.New(rand.NewSource(1))

	ch1 := issue(t, s, "ch-1", head(t, s, main))
	_, err := l.Commit(ctx, ch1, candidate(ch1.ID, world.Fact{ID: "F1", Type: world.FactWitness, Content: "one"}), acceptance(ch1.ID), ledger.Pressure{})
	require.NoError(t, err)

	ch2 := issue(t, s, "ch-2", head(t, s, main))
	cand := candidate(ch2.ID, world.Fact{ID: "F2", Type: world.FactWitness, Content: "two"})
	_, err = l.Commit(ctx, ch2, cand, acceptance(ch2.ID), ledger.Pressure{})
	require.NoError(t, err)

	fork, ok, err := l.MaybeFork(ctx, ch2, cand, acceptance(ch2.ID), rng)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "branch-fork-1", fork.BranchID)
	assert.Equal(t, 2, fork.Height)
	assert.Equal(t, "state-ch-1", fork.ParentID)
	assert.True(t, fork.Acceptance.Forked)
	assert.Equal(t, []string{"fork branch accepted"}, fork.Acceptance.Reasons)
	assert.Equal(t, 1, l.Forks())

	facts, err := s.ActiveFacts(ctx, fork.BranchID)
	require.NoError(t, err)
	require.Len(t, facts, 2)
	assert.Equal(t, "F1", facts[0].ID)
	assert.Equal(t, "F2", facts[1].ID)

	memory, ok, err := s.GetContinuity(ctx, fork.BranchID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, fork.BranchID, memory.BranchID)

	_, ok, err = l.MaybeFork(ctx, ch2, cand, acceptance(ch2.ID), rng)
	require.NoError(t, err)
	assert.False(t, ok, "fork cap must hold")
}

func TestMarkRejected(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	never, s := newLedger(t, func(c *ledger.Config) { c.StallProbability = 0 })
	stalled, err := never.MarkRejected(ctx, ledger.DefaultGenesis().BranchID, rng)
	require.NoError(t, err)
	assert.False(t, stalled)
	assert.Equal(t, world.BranchActive, head(t, s, ledger.DefaultGenesis().BranchID).Status)

	always, s2 := newLedger(t, func(c *ledger.Config) { c.StallProbability = 1 })
	stalled, err = always.MarkRejected(ctx, ledger.DefaultGenesis().BranchID, rng)
	require.NoError(t, err)
	assert.True(t, stalled)
	assert.Equal(t, world.BranchStalled, head(t, s2, ledger.DefaultGenesis().BranchID).Status)
}

func TestChooseBranchResurrectsStalled(t *testing.T) {
	l, s := newLedger(t, nil)
	ctx := context.Background()
	main := ledger.DefaultGenesis().BranchID
	require.NoError(t, s.UpdateBranchStatus(ctx, main, world.BranchStalled))

	b, err := l.ChooseBranch(ctx, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	assert.Equal(t, main, b.ID)
	assert.Equal(t, world.BranchActive, head(t, s, main).Status)
}

func TestChooseBranchEmptyLedger(t *testing.T) {
	s, err := state.NewStore(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	l := ledger.New(s, ledger.DefaultConfig(), nil)
	_, err = l.ChooseBranch(context.Background(), rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, ledger.ErrNoBranches)
}

func TestSemanticDebt(t *testing.T) {
	assert.Equal(t, 0.5, ledger.SemanticDebt(nil, 0.9, 0.9))

	even := map[string]float64{"I1": 0.34, "I2": 0.33, "I3": 0.33}
	assert.InDelta(t, 0.45*0.99, ledger.SemanticDebt(even, 0, 0), 1e-9)
	assert.InDelta(t, 0.45*0.99+0.35*0.5+0.2*0.5, ledger.SemanticDebt(even, 0.5, 0.5), 1e-9)

	settled := map[string]float64{"I1": 1, "I2": 0}
	assert.InDelta(t, 0.35+0.2, ledger.SemanticDebt(settled, 1, 1), 1e-9)
	assert.LessOrEqual(t, ledger.SemanticDebt(even, 5, 5), 1.0)
}
