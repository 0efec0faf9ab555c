package producer

import "github.com/danielpatrickdp/worldledger/internal/world"

// #region style

// Style perturbs the starting interpretation-strength simplex.
type Style string

const (
	StyleConservative Style = "conservative"
	StyleAggressive   Style = "aggressive"
	StyleMaintenance  Style = "maintenance"
)

// Candidate sources.
const (
	SourceTemplate      = "template"
	SourceBackend       = "backend"
	SourceBundleRebuilt = "backend_bundle_rebuilt"
)

// #endregion style

// #region templates

// Templates drive the deterministic fallback generator. Text fields use
// {actor}, {place}, {artifact}, {n}, {directive}, {lead}, {fact_id} and
// {type} placeholders.
type Templates struct {
	Actors       []string                  `yaml:"actors" validate:"min=1"`
	Places       []string                  `yaml:"places" validate:"min=1"`
	Artifacts    []string                  `yaml:"artifacts" validate:"min=1"`
	Facts        map[world.FactType]string `yaml:"facts" validate:"min=1"`
	Evidence     []string                  `yaml:"evidence" validate:"min=2"`
	Titles       []string                  `yaml:"titles" validate:"min=1"`
	Scenes       []string                  `yaml:"scenes" validate:"min=1"`
	Surface      string                    `yaml:"surface" validate:"required"`
	Alternatives []string                  `yaml:"alternatives" validate:"min=1"`
	Social       []string                  `yaml:"social" validate:"min=1"`
	Deferred     []string                  `yaml:"deferred" validate:"min=1"`
	WhatChanged  string                    `yaml:"what_changed" validate:"required"`
	Artifact     string                    `yaml:"artifact" validate:"required"`
	Threads      []string                  `yaml:"threads"`
}

// DefaultTemplates returns the built-in fallback vocabulary.
func DefaultTemplates() Templates {
	return Templates{
		Actors:    []string{"Alice", "archivist Tomas", "inspector Vey", "harbor clerk Mirela", "ferry captain Oren", "councillor Ines"},
		Places:    []string{"north archive wing", "harbor office", "market square", "records hall", "river bridge checkpoint", "signal tower", "east district depot", "tram station"},
		Artifacts: []string{"registry", "ledger", "bulletin", "manifest", "permit", "receipt", "notice", "logbook", "map", "photo"},
		Facts: map[world.FactType]string{
			world.FactPublicArtifact:      "{actor} found a {artifact} at the {place} recording {n} entries dated to the week of E0",
			world.FactWitness:             "{actor} states at the {place} that {n} people saw the {artifact} moved before dawn",
			world.FactMeasurement:         "a survey at the {place} logged {n} units of residue beside the sealed {artifact} cabinet",
			world.FactInstitutionalAction: "the council ordered the {place} closed for {n} days and impounded the {artifact}",
			world.FactResourceChange:      "the {place} lost {n} percent of its fuel allotment after the {artifact} was revised",
			world.FactAgentCommitment:     "{actor} publicly pledged at the {place} to reopen {artifact} case {n} within a month",
		},
		Evidence: []string{
			"{artifact} copy filed at the {place}",
			"statement from {actor} dated day {n}",
			"stamp impression number {n} on the {artifact}",
		},
		Titles: []string{"{directive} at the {place}", "The {artifact} of the {place}", "{actor} and the {artifact}"},
		Scenes: []string{
			"{actor} returns to the {place} as the {artifact} changes hands.",
			"At the {place}, {actor} compares the {artifact} with older copies.",
			"{actor} waits outside the {place} while clerks argue over the {artifact}.",
		},
		Surface: "On the surface the {artifact} favors reading {lead}.",
		Alternatives: []string{
			"The same {artifact} fits a clerical error at the {place}.",
			"It also fits a deliberate cover-up by whoever kept the {artifact}.",
			"A slow drift of small decisions would leave the same {artifact} behind.",
		},
		Social: []string{
			"Talk about the {place} splits the neighborhood into camps.",
			"Clerks at the {place} start refusing questions about the {artifact}.",
		},
		Deferred: []string{
			"Nobody can yet say who handled the {artifact} on day {n}.",
			"{actor} suspects the {artifact} was copied before it was found.",
		},
		WhatChanged: "{actor} added {fact_id} ({type}) at the {place}",
		Artifact:    "Directive: {directive}.",
		Threads:     []string{"origin ambiguity", "institutional trust", "memory reliability"},
	}
}

// #endregion templates

// #region config

// Spec names one producer and its style.
type Spec struct {
	ID    string `yaml:"id" validate:"required"`
	Style Style  `yaml:"style" validate:"oneof=conservative aggressive maintenance"`
}

// Config holds the producer roster, the informativeness check, and the
// fallback templates.
type Config struct {
	Producers    []Spec             `yaml:"producers" validate:"min=1,dive"`
	BaseStrength map[string]float64 `yaml:"base_strength" validate:"min=1"`
	Jitter       float64            `yaml:"jitter" validate:"gte=0,lte=0.3"`
	MinChars     int                `yaml:"min_chars" validate:"gte=0"`
	MinWords     int                `yaml:"min_words" validate:"gte=0"`
	Placeholders []string           `yaml:"placeholders"`
	Templates    Templates          `yaml:"templates"`
}

// DefaultConfig returns three producers, one per style.
func DefaultConfig() Config {
	return Config{
		Producers: []Spec{
			{ID: "producer-conservative", Style: StyleConservative},
			{ID: "producer-aggressive", Style: StyleAggressive},
			{ID: "producer-maintenance", Style: StyleMaintenance},
		},
		BaseStrength: map[string]float64{"I1": 0.34, "I2": 0.33, "I3": 0.33},
		Jitter:       0.08,
		MinChars:     80,
		MinWords:     12,
		Placeholders: []string{"artifact_x", "артефакт_х", "artifact", "placeholder", "lorem ipsum"},
		Templates:    DefaultTemplates(),
	}
}

// #endregion config
