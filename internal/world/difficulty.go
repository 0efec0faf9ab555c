package world

// #region difficulty

// Difficulty bounds.
const (
	MinDependencyDepth = 1
	MaxDependencyDepth = 8
	MinDifficultyReal  = 0.1
	MaxDifficultyReal  = 1.0
)

// Difficulty shapes how demanding a Challenge is.
type Difficulty struct {
	DependencyDepth         int     `json:"dependency_depth" yaml:"dependency_depth" validate:"gte=1,lte=8"`
	ConstraintDensity       float64 `json:"constraint_density" yaml:"constraint_density" validate:"gte=0.1,lte=1"`
	UnderspecificationLevel float64 `json:"underspecification_level" yaml:"underspecification_level" validate:"gte=0.1,lte=1"`
	FutureFragility         float64 `json:"future_fragility" yaml:"future_fragility" validate:"gte=0.1,lte=1"`
	NoveltyBudget           float64 `json:"novelty_budget" yaml:"novelty_budget" validate:"gte=0.1,lte=1"`
}

// DefaultDifficulty is the difficulty a fresh run starts from.
func DefaultDifficulty() Difficulty {
	return Difficulty{
		DependencyDepth:         2,
		ConstraintDensity:       0.5,
		UnderspecificationLevel: 0.5,
		FutureFragility:         0.5,
		NoveltyBudget:           0.5,
	}
}

// Clamp returns d with every field forced into its range.
func (d Difficulty) Clamp() Difficulty {
	if d.DependencyDepth < MinDependencyDepth {
		d.DependencyDepth = MinDependencyDepth
	}
	if d.DependencyDepth > MaxDependencyDepth {
		d.DependencyDepth = MaxDependencyDepth
	}
	d.ConstraintDensity = Clamp(d.ConstraintDensity, MinDifficultyReal, MaxDifficultyReal)
	d.UnderspecificationLevel = Clamp(d.UnderspecificationLevel, MinDifficultyReal, MaxDifficultyReal)
	d.FutureFragility = Clamp(d.FutureFragility, MinDifficultyReal, MaxDifficultyReal)
	d.NoveltyBudget = Clamp(d.NoveltyBudget, MinDifficultyReal, MaxDifficultyReal)
	return d
}

// #endregion difficulty

// #region clamp

// Clamp bounds x to [lo, hi]. NaN maps to lo.
func Clamp(x, lo, hi float64) float64 {
	if x != x || x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Clamp01 bounds x to [0, 1].
func Clamp01(x float64) float64 {
	return Clamp(x, 0, 1)
}

// #endregion clamp
