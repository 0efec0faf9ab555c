package controller

import (
	"math"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region update

// Update is a pure function returning the controller state for the next
// steps. It is a no-op except on non-zero multiples of the epoch, so mode
// and theta only move at epoch boundaries.
func Update(step int, cur world.ControllerState, m world.Signals, config Config) world.ControllerState {
	if step == 0 || config.Epoch <= 0 || step%config.Epoch != 0 {
		return cur
	}
	mode := nextMode(m, config)
	return world.ControllerState{
		Difficulty: nextDifficulty(cur.Difficulty, m, config),
		Mode:       mode,
		Theta:      nextTheta(cur.Theta, mode, m, config),
	}
}

// IsEpoch reports whether Update would act on step.
func IsEpoch(step int, config Config) bool {
	return step != 0 && config.Epoch > 0 && step%config.Epoch == 0
}

// #endregion update

// #region difficulty

func nextDifficulty(d world.Difficulty, m world.Signals, c Config) world.Difficulty {
	debtLow := m.DebtLevel < c.DebtLow
	debtHigh := m.DebtLevel > c.DebtHigh
	stagnant := m.Stagnation > c.HighStagnation

	if debtLow || stagnant {
		d.DependencyDepth++
	}

	if debtLow {
		d.UnderspecificationLevel += 0.08
		d.FutureFragility += 0.06
	}
	if debtHigh {
		d.UnderspecificationLevel -= 0.08
		d.FutureFragility -= 0.06
		d.NoveltyBudget -= 0.07
	}
	if m.ForkRate > c.HighForkRate {
		d.UnderspecificationLevel -= 0.05
		d.NoveltyBudget -= 0.05
	}
	if m.Variance < c.LowVariance {
		d.UnderspecificationLevel += 0.06
	}
	if m.Stability < c.LowStability {
		d.NoveltyBudget -= 0.06
		d.ConstraintDensity -= 0.04
	}
	if m.Novelty < c.LowNovelty {
		d.UnderspecificationLevel += 0.08
		d.NoveltyBudget += 0.12
	}
	if stagnant {
		d.UnderspecificationLevel += 0.06
		d.NoveltyBudget += 0.10
	}
	return d.Clamp()
}

// #endregion difficulty

// #region mode

func nextMode(m world.Signals, c Config) world.Mode {
	debtLow := m.DebtLevel < c.DebtLow
	debtHigh := m.DebtLevel > c.DebtHigh
	switch {
	case debtHigh && m.Stability < c.MaintenanceStab:
		return world.ModeMaintenance
	case debtLow && m.AcceptRate > c.ConvergenceAccept && m.Variance < c.ConvergenceVar:
		return world.ModeFalseConvergence
	case m.ForkRate > c.ConsolidateForks:
		return world.ModeConsolidate
	case m.Stagnation > c.HighStagnation, m.Novelty < c.DiversifyNovelty, m.AcceptRate > c.DiversifyAccept:
		return world.ModeDiversify
	default:
		return world.ModeDiversify
	}
}

// #endregion mode

// #region theta

func nextTheta(theta float64, mode world.Mode, m world.Signals, c Config) float64 {
	switch {
	case m.AcceptRate > c.ThetaRaiseAccept:
		theta += 0.015
	case m.AcceptRate < c.ThetaLowerAccept:
		theta -= 0.02
	}
	if mode == world.ModeDiversify {
		theta -= 0.01
	}
	theta = world.Clamp(theta, c.ThetaMin, c.ThetaMax)
	return math.Round(theta*1000) / 1000
}

// #endregion theta
