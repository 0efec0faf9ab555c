package taskgen

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/worldledger/internal/projection"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region pick-tests

func TestPickDirective_StreakBound(t *testing.T) {
	g := New(DefaultConfig())
	rng := rand.New(rand.NewSource(11))
	modes := []world.Mode{world.ModeMaintenance, world.ModeDiversify, world.ModeConsolidate, world.ModeFalseConvergence}
	var recent []world.Directive
	for i := 0; i < 2000; i++ {
		in := PickInput{
			Mode:       modes[(i/50)%len(modes)],
			Signals:    world.Signals{ChaosPressure: 0.9},
			Recent:     recent,
			Escape:     i%97 < 10,
			Stagnation: i%61 < 8,
		}
		recent = append(recent, g.PickDirective(in, rng).Directive)
	}
	run := 1
	for i := 1; i < len(recent); i++ {
		if recent[i] == recent[i-1] {
			run++
		} else {
			run = 1
		}
		require.LessOrEqual(t, run, 2, "directive %s repeated at %d", recent[i], i)
	}
}

func TestPickDirective_SingletonPoolFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pools.Maintenance = []world.Directive{world.DirectiveMaintenanceEpoch}
	g := New(cfg)
	rng := rand.New(rand.NewSource(1))
	p := g.PickDirective(PickInput{
		Mode:   world.ModeMaintenance,
		Recent: []world.Directive{world.DirectiveMaintenanceEpoch, world.DirectiveMaintenanceEpoch},
	}, rng)
	assert.NotEqual(t, world.DirectiveMaintenanceEpoch, p.Directive)
	assert.Len(t, p.Pool, len(world.AllDirectives)-1)
}

func TestPickDirective_EscapeOverrides(t *testing.T) {
	g := New(DefaultConfig())
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		p := g.PickDirective(PickInput{Mode: world.ModeMaintenance, Escape: true, Stagnation: true}, rng)
		assert.Equal(t, SourceEscape, p.Source)
		assert.Contains(t, DefaultConfig().Escape.Directives, p.Directive)
	}
}

func TestPickDirective_StagnationOverride(t *testing.T) {
	g := New(DefaultConfig())
	rng := rand.New(rand.NewSource(5))
	p := g.PickDirective(PickInput{Mode: world.ModeMaintenance, Stagnation: true}, rng)
	assert.Equal(t, SourceStagnation, p.Source)
	assert.Contains(t, DefaultConfig().StagnationDirectives, p.Directive)
}

func TestPickDirective_RequiredFamilies(t *testing.T) {
	g := New(DefaultConfig())
	rng := rand.New(rand.NewSource(9))
	recent := []world.Directive{
		world.DirectiveIntroduceAmbiguousFact,
		world.DirectiveDelayedEffect,
		world.DirectiveIntroduceAmbiguousFact,
		world.DirectiveAgentActionDivergence,
		world.DirectiveDelayedEffect,
		world.DirectiveRetrospectiveReinterpretation,
	}
	p := g.PickDirective(PickInput{Mode: world.ModeDiversify, Recent: recent}, rng)
	assert.Equal(t, SourceFamily, p.Source)
	assert.ElementsMatch(t, []world.Directive{world.DirectiveInstitutionalAction, world.DirectiveResourceConstraint}, p.Pool)
}

func TestPickDirective_RequiredFamiliesOnShortHistory(t *testing.T) {
	g := New(DefaultConfig())
	rng := rand.New(rand.NewSource(4))

	p := g.PickDirective(PickInput{Mode: world.ModeDiversify}, rng)
	assert.Equal(t, SourceFamily, p.Source)
	for _, d := range p.Pool {
		assert.Contains(t, []string{"agency", "institution"}, DefaultConfig().Families[d])
	}

	p = g.PickDirective(PickInput{
		Mode:   world.ModeDiversify,
		Recent: []world.Directive{world.DirectiveAgentCommitment, world.DirectiveInstitutionalAction},
	}, rng)
	assert.Equal(t, SourceMode, p.Source)
}

func TestModePool_Pressure(t *testing.T) {
	cfg := DefaultConfig()
	g := New(cfg)
	assert.Equal(t, cfg.Pools.Closure, g.modePool(world.Signals{ClosurePressure: 0.7}, world.ModeConsolidate))
	assert.Equal(t, cfg.Pools.Chaos, g.modePool(world.Signals{ChaosPressure: 0.7}, world.ModeConsolidate))
	assert.Equal(t, cfg.Pools.Convergence, g.modePool(world.Signals{AcceptRate: 0.9, Uncertainty: 0.1}, world.ModeDeferredTension))
	assert.Equal(t, cfg.Pools.Default, g.modePool(world.Signals{}, world.ModeFalseConvergence))
}

// #endregion pick-tests

// #region difficulty-tests

func TestBuildDifficulty_Diversify(t *testing.T) {
	g := New(DefaultConfig())
	d := g.BuildDifficulty(world.DefaultDifficulty(), world.Signals{}, world.ModeDiversify)
	assert.InDelta(t, 0.44, d.ConstraintDensity, 1e-9)
	assert.InDelta(t, 0.62, d.UnderspecificationLevel, 1e-9)
	assert.InDelta(t, 0.58, d.FutureFragility, 1e-9)
	assert.InDelta(t, 0.68, d.NoveltyBudget, 1e-9)
}

func TestBuildDifficulty_HighAcceptAndClamp(t *testing.T) {
	g := New(DefaultConfig())
	base := world.Difficulty{DependencyDepth: 8, ConstraintDensity: 1, UnderspecificationLevel: 1, FutureFragility: 1, NoveltyBudget: 0.1}
	d := g.BuildDifficulty(base, world.Signals{AcceptRate: 0.95, ClosurePressure: 0.9, ChaosPressure: 0.9}, world.ModeConsolidate)
	assert.Equal(t, 8, d.DependencyDepth)
	assert.Equal(t, 1.0, d.UnderspecificationLevel)
	assert.Equal(t, 0.1, d.NoveltyBudget)
}

func TestTighten_LowersUnderspecification(t *testing.T) {
	g := New(DefaultConfig())
	before := g.BuildDifficulty(world.DefaultDifficulty(), world.Signals{}, world.ModeDiversify)
	after := g.Tighten(before)
	assert.Less(t, after.UnderspecificationLevel, before.UnderspecificationLevel)
	assert.Greater(t, after.ConstraintDensity, before.ConstraintDensity)
	assert.Greater(t, after.NoveltyBudget, before.NoveltyBudget)
	assert.LessOrEqual(t, after.UnderspecificationLevel, 0.35)
}

// #endregion difficulty-tests

// #region build-tests

func TestBuild_EscapeChallenge(t *testing.T) {
	g := New(DefaultConfig())
	rng := rand.New(rand.NewSource(2))
	ch, pick := g.Build(BuildInput{
		ID:            "challenge-0003-branch-main",
		BranchID:      "branch-main",
		ParentStateID: "state-0",
		Base:          world.DefaultDifficulty(),
		Pick:          PickInput{Mode: world.ModeDiversify, Escape: true},
		History:       projection.Input{Artifacts: []string{"genesis"}, AnchorIDs: []string{"F_BASE"}},
		Context:       world.BranchContext{CurrentHeight: 3},
	}, rng)
	assert.True(t, ch.Escape)
	assert.True(t, ch.Policy.Context.Escape)
	assert.Equal(t, pick.Directive, ch.Directive)
	assert.Contains(t, ch.Projection, "[ESCAPE]")
	assert.Contains(t, ch.Projection, "F_BASE")
	assert.Equal(t, 3, ch.Policy.Context.CurrentHeight)
	assert.Equal(t, world.ModeDiversify, ch.Policy.Context.Mode)
}

// #endregion build-tests
