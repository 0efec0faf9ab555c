package stagnation

import (
	"math"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region config

// Config holds the window and thresholds of the detector.
type Config struct {
	Window         int     `yaml:"window" validate:"gte=2"`
	MinShift       float64 `yaml:"min_shift" validate:"gte=0"`
	StagnantScore  float64 `yaml:"stagnant_score" validate:"gte=0,lte=1"`
	OverrideStreak int     `yaml:"override_streak" validate:"gte=1"`
}

// DefaultConfig returns a six-state window and a two-step override streak.
func DefaultConfig() Config {
	return Config{
		Window:         6,
		MinShift:       0.08,
		StagnantScore:  0.6,
		OverrideStreak: 2,
	}
}

// #endregion config

// #region report

// Report is the detector output for one branch.
type Report struct {
	Score           float64 `json:"score"`
	NoNewFacts      bool    `json:"no_new_facts"`
	NoEntityGrowth  bool    `json:"no_entity_growth"`
	NoCommitment    bool    `json:"no_commitment"`
	NoTypeDiversity bool    `json:"no_type_diversity"`
	FlatReadings    bool    `json:"flat_readings"`
}

// #endregion report

// #region detect

// Detect scores how much the world stopped growing over the last Window
// states, oldest first. Growth is measured against the first state of the
// window. Fewer than two states is maximal stagnation.
func Detect(states []world.State, config Config) Report {
	if len(states) > config.Window {
		states = states[len(states)-config.Window:]
	}
	if len(states) < 2 {
		return Report{Score: 1, NoNewFacts: true, NoEntityGrowth: true, NoCommitment: true, NoTypeDiversity: true, FlatReadings: true}
	}
	first, last := states[0], states[len(states)-1]

	seenIDs := make(map[string]bool)
	for _, f := range first.Metadata.Facts {
		seenIDs[f.ID] = true
	}
	baseEntities := make(map[string]bool)
	for _, e := range first.Metadata.Entities {
		baseEntities[e] = true
	}
	baseTypes := make(map[world.FactType]bool)
	for _, f := range first.Metadata.Facts {
		baseTypes[f.Type] = true
	}

	r := Report{NoNewFacts: true, NoEntityGrowth: true, NoCommitment: true, NoTypeDiversity: true}
	for i, s := range states {
		for _, f := range s.Metadata.Facts {
			if f.Type == world.FactAgentCommitment {
				r.NoCommitment = false
			}
			if i > 0 && !seenIDs[f.ID] {
				r.NoNewFacts = false
			}
			if i > 0 && !baseTypes[f.Type] {
				r.NoTypeDiversity = false
			}
			seenIDs[f.ID] = true
		}
		if i == 0 {
			continue
		}
		for _, e := range s.Metadata.Entities {
			if !baseEntities[e] {
				r.NoEntityGrowth = false
			}
		}
	}
	r.FlatReadings = l1Shift(first.Metadata.InterpretationStrength, last.Metadata.InterpretationStrength) < config.MinShift

	hits := 0
	for _, b := range []bool{r.NoNewFacts, r.NoEntityGrowth, r.NoCommitment, r.NoTypeDiversity, r.FlatReadings} {
		if b {
			hits++
		}
	}
	r.Score = float64(hits) / 5
	return r
}

func l1Shift(a, b map[string]float64) float64 {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	total := 0.0
	for k := range keys {
		total += math.Abs(a[k] - b[k])
	}
	return total
}

// #endregion detect

// #region tracker

// Tracker counts consecutive stagnant observations.
type Tracker struct {
	config Config
	streak int
	last   float64
}

// NewTracker creates a Tracker.
func NewTracker(config Config) *Tracker {
	return &Tracker{config: config}
}

// Observe records one score and returns the current streak.
func (t *Tracker) Observe(score float64) int {
	t.last = score
	if score >= t.config.StagnantScore {
		t.streak++
	} else {
		t.streak = 0
	}
	return t.streak
}

// Streak returns the number of consecutive stagnant observations.
func (t *Tracker) Streak() int { return t.streak }

// Last returns the most recently observed score.
func (t *Tracker) Last() float64 { return t.last }

// Override reports whether the streak forces a progression directive.
func (t *Tracker) Override() bool {
	return t.streak >= t.config.OverrideStreak
}

// #endregion tracker
