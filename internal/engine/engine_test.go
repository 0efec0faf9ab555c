package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/danielpatrickdp/worldledger/internal/logging"
	"github.com/danielpatrickdp/worldledger/internal/policy"
	"github.com/danielpatrickdp/worldledger/internal/state"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// #region helpers

func tempStore(t *testing.T) *state.Store {
	t.Helper()
	s, err := state.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newEngine(t *testing.T, p policy.Policy, store *state.Store, seed int64, events *[]StepEvent) *Engine {
	t.Helper()
	opts := Options{Seed: seed}
	if events != nil {
		opts.OnStep = func(ev StepEvent) { *events = append(*events, ev) }
	}
	e, err := New(context.Background(), p, store, opts)
	require.NoError(t, err)
	return e
}

// rejectingPolicy makes every candidate fail the novelty floor.
func rejectingPolicy() policy.Policy {
	p := policy.Default()
	p.Gate.NoveltyEarly = 1
	p.Gate.NoveltyMid = 1
	p.Gate.NoveltyLate = 1
	return p
}

// #endregion helpers

func TestEngine_SeedsGenesisOnce(t *testing.T) {
	ctx := context.Background()
	store := tempStore(t)
	newEngine(t, policy.Default(), store, 1, nil)
	newEngine(t, policy.Default(), store, 1, nil)

	branches, err := store.ListBranches(ctx, "")
	require.NoError(t, err)
	require.Len(t, branches, 1)
	head, err := store.GetState(ctx, branches[0].HeadStateID)
	require.NoError(t, err)
	assert.Equal(t, 0, head.Height)
}

func TestEngine_RunKeepsHeightsContiguous(t *testing.T) {
	ctx := context.Background()
	p := policy.Default()
	p.Ledger.ForkProbability = 0.5
	store := tempStore(t)
	e := newEngine(t, p, store, 7, nil)

	summary, err := e.Run(ctx, 15)
	require.NoError(t, err)
	assert.Equal(t, 15, summary.Attempted)
	assert.Equal(t, summary.Attempted, summary.Accepted+summary.Rejected)
	require.Positive(t, summary.Accepted)

	branches, err := store.ListBranches(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, len(branches), summary.Branches)
	for _, b := range branches {
		lineage, err := e.Ledger().Lineage(ctx, b.HeadStateID, 0)
		require.NoError(t, err)
		for i, s := range lineage {
			assert.Equal(t, i, s.Height, "branch %s state %s", b.ID, s.ID)
			if i > 0 {
				assert.Equal(t, lineage[i-1].ID, s.ParentID)
			}
		}
	}
}

func TestEngine_DirectiveStreakBounded(t *testing.T) {
	var events []StepEvent
	p := policy.Default()
	e := newEngine(t, p, tempStore(t), 11, &events)

	_, err := e.Run(context.Background(), 30)
	require.NoError(t, err)
	require.Len(t, events, 30)

	last := map[string]world.Directive{}
	run := map[string]int{}
	for _, ev := range events {
		if last[ev.BranchID] == ev.Directive {
			run[ev.BranchID]++
		} else {
			last[ev.BranchID], run[ev.BranchID] = ev.Directive, 1
		}
		assert.LessOrEqual(t, run[ev.BranchID], p.Directives.MaxStreak,
			"step %d: %s repeated on %s", ev.Step, ev.Directive, ev.BranchID)
	}
}

func TestEngine_EscapeAfterRejectStreak(t *testing.T) {
	var events []StepEvent
	p := rejectingPolicy()
	e := newEngine(t, p, tempStore(t), 3, &events)

	summary, err := e.Run(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Zero(t, summary.Accepted)

	for _, ev := range events[:2] {
		assert.False(t, ev.Escape)
		assert.Equal(t, DecisionReject, ev.Decision)
	}

	esc := events[2]
	require.True(t, esc.Escape)
	assert.Contains(t, p.Directives.Escape.Directives, esc.Directive)
	assert.Less(t, esc.Difficulty.UnderspecificationLevel, events[1].Difficulty.UnderspecificationLevel)
	assert.LessOrEqual(t, esc.Difficulty.UnderspecificationLevel, p.Directives.Escape.UnderspecCap)

	// Hard failures are never relaxed into a commit.
	assert.Equal(t, DecisionReject, esc.Decision)
	assert.Equal(t, p.Directives.Escape.MaxRetries, esc.Retries)
	assert.Len(t, esc.Candidates, (1+esc.Retries)*len(p.Producers.Producers))
	for _, c := range esc.Candidates {
		assert.True(t, c.HardFail)
		assert.Contains(t, c.GateCodes, "NOVELTY_BELOW_MIN")
	}
}

func TestEngine_DeterministicForSeed(t *testing.T) {
	type step struct {
		Branch, Directive, Decision, State, Accepted, Fork string
	}
	collect := func() []step {
		var events []StepEvent
		p := policy.Default()
		p.Ledger.ForkProbability = 0.5
		e := newEngine(t, p, tempStore(t), 42, &events)
		_, err := e.Run(context.Background(), 12)
		require.NoError(t, err)
		out := make([]step, 0, len(events))
		for _, ev := range events {
			out = append(out, step{ev.BranchID, string(ev.Directive), ev.Decision, ev.StateID, ev.AcceptedID, ev.ForkStateID})
		}
		return out
	}

	first, second := collect(), collect()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("same seed diverged (-first +second):\n%s", diff)
	}
}

func TestEngine_ResumesFromStore(t *testing.T) {
	ctx := context.Background()
	p := policy.Default()
	store := tempStore(t)

	first := newEngine(t, p, store, 5, nil)
	_, err := first.Run(ctx, p.Controller.Epoch)
	require.NoError(t, err)

	epoch, ok, err := store.LatestEpoch(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p.Controller.Epoch, epoch.Step)

	second := newEngine(t, p, store, 5, nil)
	assert.Equal(t, p.Controller.Epoch, second.Steps())
	if diff := cmp.Diff(epoch.State, second.Controller()); diff != "" {
		t.Fatalf("controller not resumed (-want +got):\n%s", diff)
	}

	ev, err := second.Step(ctx)
	require.NoError(t, err)
	assert.Equal(t, p.Controller.Epoch+1, ev.Step)
}

func TestEngine_ResumedRunWithSameSeed(t *testing.T) {
	ctx := context.Background()
	p := policy.Default()
	store := tempStore(t)

	_, err := newEngine(t, p, store, 42, nil).Run(ctx, 3)
	require.NoError(t, err)

	var events []StepEvent
	summary, err := newEngine(t, p, store, 42, &events).Run(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempted)
	require.Len(t, events, 2)
	assert.Equal(t, "ch-000004", events[0].ChallengeID)

	seen := map[string]string{}
	ids, err := store.ListChallengeIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 5)
	for _, chID := range ids {
		cands, err := store.ListCandidates(ctx, chID)
		require.NoError(t, err)
		require.NotEmpty(t, cands)
		for _, c := range cands {
			prev, dup := seen[c.ID]
			assert.False(t, dup, "candidate %s reused by %s and %s", c.ID, prev, chID)
			seen[c.ID] = chID
		}
	}
}

func TestEngine_StepLogMatchesEvents(t *testing.T) {
	var events []StepEvent
	store := tempStore(t)
	e := newEngine(t, policy.Default(), store, 9, &events)

	_, err := e.Run(context.Background(), 6)
	require.NoError(t, err)

	rows, err := logging.RecentSteps(store.DB(), 0)
	require.NoError(t, err)
	require.Len(t, rows, len(events))
	for i, row := range rows {
		ev := events[i]
		assert.Equal(t, ev.Step, row.Record.Step)
		assert.Equal(t, ev.ChallengeID, row.Record.ChallengeID)
		assert.Equal(t, ev.Decision, row.Record.Decision)
		assert.Equal(t, ev.StateID, row.Record.StateID)
		assert.Len(t, row.Record.Candidates, len(ev.Candidates))
	}

	for _, ev := range events {
		cands, err := store.ListCandidates(context.Background(), ev.ChallengeID)
		require.NoError(t, err)
		accepted := 0
		for _, c := range cands {
			assert.NotEqual(t, world.CandidatePending, c.Status)
			if c.Status == world.CandidateAccepted {
				accepted++
				assert.Equal(t, ev.AcceptedID, c.ID)
			}
		}
		if ev.StateID != "" {
			assert.Equal(t, 1, accepted)
		} else {
			assert.Zero(t, accepted)
		}
	}
}

func TestEngine_CommittedStateCarriesNormalizedFacts(t *testing.T) {
	ctx := context.Background()
	var events []StepEvent
	store := tempStore(t)
	e := newEngine(t, policy.Default(), store, 21, &events)

	_, err := e.Run(ctx, 6)
	require.NoError(t, err)

	for _, ev := range events {
		if ev.StateID == "" {
			continue
		}
		s, err := store.GetState(ctx, ev.StateID)
		require.NoError(t, err)
		assert.Equal(t, "state-"+ev.ChallengeID, s.ID)
		require.NotEmpty(t, s.Metadata.Facts)
		for _, f := range s.Metadata.Facts {
			assert.Equal(t, s.Height, f.IntroducedHeight)
			edges, err := e.refs.References(ctx, s.BranchID, f.ID)
			require.NoError(t, err)
			assert.Len(t, edges, len(f.References), "fact %s", f.ID)
		}
		assert.Equal(t, ev.Directive, s.Metadata.Directive)
	}
}
