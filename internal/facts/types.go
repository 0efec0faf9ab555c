package facts

import "github.com/danielpatrickdp/worldledger/internal/world"

// #region field-errors

// Field error codes.
const (
	CodeRequired    = "required"
	CodeEnum        = "enum"
	CodeMinWords    = "min_words"
	CodeRange       = "range"
	CodeSum         = "sum"
	CodeFormat      = "format"
	CodeType        = "type"
	CodeUnknownKey  = "unknown_key"
	CodeMinEvidence = "min_evidence"
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Result is the normalized fact, its field errors, and any coercions applied.
type Result struct {
	Fact      world.Fact   `json:"fact"`
	Errors    []FieldError `json:"errors,omitempty"`
	Coercions []string     `json:"coercions,omitempty"`
}

// Valid reports whether no field errors were found.
func (r Result) Valid() bool {
	return len(r.Errors) == 0
}

// Has reports whether an error with the given path and code exists.
func (r Result) Has(path, code string) bool {
	for _, e := range r.Errors {
		if e.Path == path && e.Code == code {
			return true
		}
	}
	return false
}

// OnlyTypeEnum reports whether the only problem is a type outside the enum.
func (r Result) OnlyTypeEnum() bool {
	return len(r.Errors) == 1 && r.Has("type", CodeEnum)
}

// #endregion field-errors

// #region options

// Options controls normalization of a single fact.
type Options struct {
	AllowCoercion bool
	ExpectedType  world.FactType
	IntroducedBy  string
	Height        int
}

// #endregion options

// #region rules

// Rules configures the fact schema.
type Rules struct {
	AllowedTypes              []world.FactType `yaml:"allowed_types" validate:"min=1"`
	InterpretationKeys        []string         `yaml:"interpretation_keys" validate:"min=1"`
	ArtifactKinds             []string         `yaml:"artifact_kinds" validate:"min=1"`
	ArtifactIdentifierPattern string           `yaml:"artifact_identifier_pattern" validate:"required"`
	MinContentWords           int              `yaml:"min_content_words" validate:"gte=1"`
	AffinityTolerance         float64          `yaml:"affinity_tolerance" validate:"gte=0,lte=0.5"`
	PublicArtifactMinEvidence int              `yaml:"public_artifact_min_evidence" validate:"gte=1"`
}

// DefaultRules returns the built-in schema.
func DefaultRules() Rules {
	return Rules{
		AllowedTypes:              append([]world.FactType(nil), world.AllFactTypes...),
		InterpretationKeys:        []string{"I1", "I2", "I3"},
		ArtifactKinds:             []string{"registry_record", "evidence_card", "bulletin", "report", "photo", "map"},
		ArtifactIdentifierPattern: `^[A-Z]+-\d{2,6}$`,
		MinContentWords:           4,
		AffinityTolerance:         0.08,
		PublicArtifactMinEvidence: 2,
	}
}

// SpecificityRules configures the concreteness heuristic.
type SpecificityRules struct {
	MinScore      int              `yaml:"min_score" validate:"gte=0"`
	RequiredTypes []world.FactType `yaml:"required_types"`
	Places        []string         `yaml:"places"`
	Artifacts     []string         `yaml:"artifacts"`
	Banned        []string         `yaml:"banned"`
}

// DefaultSpecificityRules returns the built-in vocabulary.
func DefaultSpecificityRules() SpecificityRules {
	return SpecificityRules{
		MinScore: 3,
		RequiredTypes: []world.FactType{
			world.FactPublicArtifact,
			world.FactMeasurement,
			world.FactInstitutionalAction,
			world.FactResourceChange,
		},
		Places: []string{
			"archive", "wing", "district", "checkpoint", "harbor", "dock", "station",
			"square", "hall", "office", "market", "bridge", "street", "tower", "depot",
		},
		Artifacts: []string{
			"registry", "card", "ledger", "bulletin", "report", "photo", "map", "seal",
			"permit", "manifest", "receipt", "notice", "logbook", "stamp",
		},
		Banned: []string{"something", "some", "perhaps", "unknown", "somehow", "maybe"},
	}
}

// #endregion rules
