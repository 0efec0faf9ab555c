package invariant

// #region config

// Config holds the world rules every accepted narrative must respect.
type Config struct {
	FinalityPatterns     []string `yaml:"finality_patterns" validate:"min=1"`
	ContradictionMarkers []string `yaml:"contradiction_markers"`
	CollapseFloor        float64  `yaml:"collapse_floor" validate:"gte=0,lt=1"`
	MinLiveReadings      int      `yaml:"min_live_readings" validate:"gte=1"`
}

// DefaultConfig returns the built-in world rules.
func DefaultConfig() Config {
	return Config{
		FinalityPatterns: []string{
			`final\s+truth`,
			`ultimate\s+proof`,
			`case\s+closed`,
			`revealed\s+what\s+really\s+happened`,
		},
		ContradictionMarkers: []string{"contradiction:"},
		CollapseFloor:        0.05,
		MinLiveReadings:      2,
	}
}

// #endregion config

// #region result

// Rule codes.
const (
	RuleFinality      = "INVARIANT_FINALITY"
	RuleCollapse      = "INVARIANT_COLLAPSE"
	RuleContradiction = "INVARIANT_CONTRADICTION"
)

// Violation is one broken world rule.
type Violation struct {
	Code   string
	Detail string
}

// Result is the outcome of checking one narrative.
type Result struct {
	Passed     bool
	Violations []Violation
}

// Codes returns the violation codes in check order.
func (r Result) Codes() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, v.Code)
	}
	return out
}

// #endregion result
