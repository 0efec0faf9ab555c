package controller

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

func neutral() world.Signals {
	return world.Signals{
		AcceptRate: 0.6,
		ForkRate:   0.1,
		Variance:   0.05,
		DebtLevel:  0.5,
		Novelty:    0.6,
		Stability:  0.9,
		Stagnation: 0.2,
	}
}

// #region epoch-tests

func TestUpdate_NoOpOffEpoch(t *testing.T) {
	cfg := DefaultConfig()
	cur := cfg.Initial()
	for _, step := range []int{0, 1, 4, 6, 9} {
		got := Update(step, cur, world.Signals{DebtLevel: 0.1, AcceptRate: 0.99}, cfg)
		if diff := cmp.Diff(cur, got); diff != "" {
			t.Fatalf("step %d changed state (-want +got):\n%s", step, diff)
		}
	}
}

func TestUpdate_NeutralEpochOnlyNudgesTheta(t *testing.T) {
	cfg := DefaultConfig()
	cur := cfg.Initial()
	got := Update(5, cur, neutral(), cfg)
	want := cur
	want.Theta = 0.56
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("unexpected state (-want +got):\n%s", diff)
	}
}

func TestIsEpoch(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, IsEpoch(0, cfg))
	assert.False(t, IsEpoch(3, cfg))
	assert.True(t, IsEpoch(10, cfg))
}

// #endregion epoch-tests

// #region difficulty-tests

func TestUpdate_LowDebtDeepens(t *testing.T) {
	cfg := DefaultConfig()
	cur := cfg.Initial()
	m := neutral()
	m.DebtLevel = 0.2
	got := Update(5, cur, m, cfg)
	assert.Equal(t, 3, got.Difficulty.DependencyDepth)
	assert.InDelta(t, 0.58, got.Difficulty.UnderspecificationLevel, 1e-9)
	assert.InDelta(t, 0.56, got.Difficulty.FutureFragility, 1e-9)
}

func TestUpdate_LowDebtAndStagnationDeepenOnce(t *testing.T) {
	cfg := DefaultConfig()
	m := neutral()
	m.DebtLevel = 0.2
	m.Stagnation = 0.9
	got := Update(5, cfg.Initial(), m, cfg)
	assert.Equal(t, 3, got.Difficulty.DependencyDepth)
	assert.InDelta(t, 0.6, got.Difficulty.NoveltyBudget, 1e-9)
}

func TestUpdate_HighDebt(t *testing.T) {
	cfg := DefaultConfig()
	m := neutral()
	m.DebtLevel = 0.9
	m.Stability = 0.4
	got := Update(5, cfg.Initial(), m, cfg)
	assert.InDelta(t, 0.42, got.Difficulty.UnderspecificationLevel, 1e-9)
	assert.InDelta(t, 0.44, got.Difficulty.FutureFragility, 1e-9)
	assert.InDelta(t, 0.37, got.Difficulty.NoveltyBudget, 1e-9)
	assert.InDelta(t, 0.46, got.Difficulty.ConstraintDensity, 1e-9)
	assert.Equal(t, world.ModeMaintenance, got.Mode)
}

func TestUpdate_ClampsUnderAdversarialSequences(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Epoch = 1
	rng := rand.New(rand.NewSource(7))
	extremes := []world.Signals{
		{DebtLevel: 0, Variance: 0, Novelty: 0, Stagnation: 1, Stability: 1, AcceptRate: 1},
		{DebtLevel: 1, ForkRate: 1, Stability: 0, Novelty: 1, Variance: 1},
	}
	cur := cfg.Initial()
	for step := 1; step <= 1000; step++ {
		var m world.Signals
		switch {
		case step < 300:
			m = extremes[0]
		case step < 600:
			m = extremes[1]
		default:
			m = world.Signals{
				AcceptRate: rng.Float64(),
				ForkRate:   rng.Float64(),
				Variance:   rng.Float64() * 0.1,
				DebtLevel:  rng.Float64(),
				Novelty:    rng.Float64(),
				Stability:  rng.Float64(),
				Stagnation: rng.Float64(),
			}
		}
		cur = Update(step, cur, m, cfg)
		d := cur.Difficulty
		require.GreaterOrEqual(t, d.DependencyDepth, 1)
		require.LessOrEqual(t, d.DependencyDepth, 8)
		for _, v := range []float64{d.ConstraintDensity, d.UnderspecificationLevel, d.FutureFragility, d.NoveltyBudget} {
			require.GreaterOrEqual(t, v, 0.1)
			require.LessOrEqual(t, v, 1.0)
		}
		require.GreaterOrEqual(t, cur.Theta, 0.5)
		require.LessOrEqual(t, cur.Theta, 0.7)
		require.True(t, cur.Mode.Valid())
	}
}

// #endregion difficulty-tests

// #region mode-tests

func TestNextMode_Priority(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name string
		m    world.Signals
		want world.Mode
	}{
		{"maintenance", world.Signals{DebtLevel: 0.8, Stability: 0.3, ForkRate: 0.9}, world.ModeMaintenance},
		{"false-convergence", world.Signals{DebtLevel: 0.2, AcceptRate: 0.95, Variance: 0.01, ForkRate: 0.9, Stability: 1}, world.ModeFalseConvergence},
		{"consolidate", world.Signals{DebtLevel: 0.5, ForkRate: 0.5, Stability: 1, Novelty: 0.1}, world.ModeConsolidate},
		{"diversify-stagnation", world.Signals{DebtLevel: 0.5, Stagnation: 0.9, Novelty: 1, Stability: 1}, world.ModeDiversify},
		{"default", world.Signals{DebtLevel: 0.5, Novelty: 1, Stability: 1}, world.ModeDiversify},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextMode(tt.m, cfg))
		})
	}
}

func TestNextTheta(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 0.585, nextTheta(0.57, world.ModeConsolidate, world.Signals{AcceptRate: 0.95}, cfg), 1e-9)
	assert.InDelta(t, 0.54, nextTheta(0.57, world.ModeDiversify, world.Signals{AcceptRate: 0.2}, cfg), 1e-9)
	assert.InDelta(t, 0.5, nextTheta(0.5, world.ModeDiversify, world.Signals{AcceptRate: 0.1}, cfg), 1e-9)
	assert.InDelta(t, 0.7, nextTheta(0.7, world.ModeConsolidate, world.Signals{AcceptRate: 0.99}, cfg), 1e-9)
}

// #endregion mode-tests
