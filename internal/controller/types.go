package controller

import "github.com/danielpatrickdp/worldledger/internal/world"

// #region config

// Config holds the controller's epoch length, starting state, and thresholds.
type Config struct {
	Epoch             int              `yaml:"epoch" validate:"gte=1"`
	InitialDifficulty world.Difficulty `yaml:"initial_difficulty"`
	InitialMode       world.Mode       `yaml:"initial_mode" validate:"required"`
	InitialTheta      float64          `yaml:"initial_theta" validate:"gte=0.5,lte=0.7"`
	ThetaMin          float64          `yaml:"theta_min" validate:"gte=0,lte=1"`
	ThetaMax          float64          `yaml:"theta_max" validate:"gtefield=ThetaMin,lte=1"`

	DebtLow            float64 `yaml:"debt_low" validate:"gte=0,lte=1"`
	DebtHigh           float64 `yaml:"debt_high" validate:"gtefield=DebtLow,lte=1"`
	HighForkRate       float64 `yaml:"high_fork_rate" validate:"gte=0,lte=1"`
	LowVariance        float64 `yaml:"low_variance" validate:"gte=0"`
	LowStability       float64 `yaml:"low_stability" validate:"gte=0,lte=1"`
	LowNovelty         float64 `yaml:"low_novelty" validate:"gte=0,lte=1"`
	HighStagnation     float64 `yaml:"high_stagnation" validate:"gte=0,lte=1"`
	MaintenanceStab    float64 `yaml:"maintenance_stability" validate:"gte=0,lte=1"`
	ConvergenceAccept  float64 `yaml:"convergence_accept" validate:"gte=0,lte=1"`
	ConvergenceVar     float64 `yaml:"convergence_variance" validate:"gte=0"`
	ConsolidateForks   float64 `yaml:"consolidate_fork_rate" validate:"gte=0,lte=1"`
	DiversifyNovelty   float64 `yaml:"diversify_novelty" validate:"gte=0,lte=1"`
	DiversifyAccept    float64 `yaml:"diversify_accept" validate:"gte=0,lte=1"`
	ThetaRaiseAccept   float64 `yaml:"theta_raise_accept" validate:"gte=0,lte=1"`
	ThetaLowerAccept   float64 `yaml:"theta_lower_accept" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the built-in controller tuning.
func DefaultConfig() Config {
	return Config{
		Epoch:             5,
		InitialDifficulty: world.DefaultDifficulty(),
		InitialMode:       world.ModeDiversify,
		InitialTheta:      0.57,
		ThetaMin:          0.50,
		ThetaMax:          0.70,
		DebtLow:           0.38,
		DebtHigh:          0.72,
		HighForkRate:      0.45,
		LowVariance:       0.02,
		LowStability:      0.45,
		LowNovelty:        0.45,
		HighStagnation:    0.66,
		MaintenanceStab:   0.50,
		ConvergenceAccept: 0.88,
		ConvergenceVar:    0.03,
		ConsolidateForks:  0.40,
		DiversifyNovelty:  0.55,
		DiversifyAccept:   0.75,
		ThetaRaiseAccept:  0.90,
		ThetaLowerAccept:  0.45,
	}
}

// Initial returns the controller state a fresh run starts from.
func (c Config) Initial() world.ControllerState {
	return world.ControllerState{
		Difficulty: c.InitialDifficulty.Clamp(),
		Mode:       c.InitialMode,
		Theta:      world.Clamp(c.InitialTheta, c.ThetaMin, c.ThetaMax),
	}
}

// #endregion config
