package facts

import (
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

var referencePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_\-]*$`)

// typeAliases maps loose type names onto the enum.
var typeAliases = map[string]world.FactType{
	"artifact":             world.FactPublicArtifact,
	"public_record":        world.FactPublicArtifact,
	"document":             world.FactPublicArtifact,
	"record":               world.FactPublicArtifact,
	"testimony":            world.FactWitness,
	"witness_statement":    world.FactWitness,
	"observation":          world.FactWitness,
	"reading":              world.FactMeasurement,
	"metric":               world.FactMeasurement,
	"institution":          world.FactInstitutionalAction,
	"institutional":        world.FactInstitutionalAction,
	"official_action":      world.FactInstitutionalAction,
	"resource":             world.FactResourceChange,
	"resource_constraint":  world.FactResourceChange,
	"commitment":           world.FactAgentCommitment,
	"agent_action":         world.FactAgentCommitment,
	"promise":              world.FactAgentCommitment,
}

// #region validator

// Validator checks and normalizes Fact objects against Rules.
type Validator struct {
	rules     Rules
	idPattern *regexp.Regexp
	types     map[world.FactType]bool
	keys      map[string]bool
	kinds     map[string]bool
}

// NewValidator compiles rules into a Validator.
func NewValidator(rules Rules) (*Validator, error) {
	re, err := regexp.Compile(rules.ArtifactIdentifierPattern)
	if err != nil {
		return nil, fmt.Errorf("compile artifact identifier pattern: %w", err)
	}
	v := &Validator{
		rules:     rules,
		idPattern: re,
		types:     make(map[world.FactType]bool, len(rules.AllowedTypes)),
		keys:      make(map[string]bool, len(rules.InterpretationKeys)),
		kinds:     make(map[string]bool, len(rules.ArtifactKinds)),
	}
	for _, t := range rules.AllowedTypes {
		v.types[t] = true
	}
	for _, k := range rules.InterpretationKeys {
		v.keys[k] = true
	}
	for _, k := range rules.ArtifactKinds {
		v.kinds[k] = true
	}
	return v, nil
}

// Rules returns the rules the validator was built with.
func (v *Validator) Rules() Rules {
	return v.rules
}

// AllowsType reports whether t is in the configured enum.
func (v *Validator) AllowsType(t world.FactType) bool {
	return v.types[t]
}

// Validate normalizes f and reports every field-level problem. With
// AllowCoercion, missing optional structure is filled in and recorded.
func (v *Validator) Validate(f world.Fact, opts Options) Result {
	r := Result{}
	f = v.normalize(f, opts, &r)

	requireString := func(path, val string) {
		if val == "" {
			r.Errors = append(r.Errors, FieldError{Path: path, Message: "must be non-empty", Code: CodeRequired})
		}
	}
	requireString("id", f.ID)
	requireString("content", f.Content)
	requireString("introduced_by", f.IntroducedBy)
	requireString("time", f.Time)

	switch {
	case f.Type == "":
		r.Errors = append(r.Errors, FieldError{Path: "type", Message: "must be non-empty", Code: CodeRequired})
	case !v.types[f.Type]:
		r.Errors = append(r.Errors, FieldError{Path: "type", Message: fmt.Sprintf("%q is not an allowed fact type", f.Type), Code: CodeEnum})
	}

	if f.Content != "" {
		if n := len(strings.Fields(f.Content)); n < v.rules.MinContentWords {
			r.Errors = append(r.Errors, FieldError{
				Path:    "content",
				Message: fmt.Sprintf("has %d words, need at least %d", n, v.rules.MinContentWords),
				Code:    CodeMinWords,
			})
		}
	}

	if len(f.Evidence) == 0 {
		r.Errors = append(r.Errors, FieldError{Path: "evidence", Message: "must contain at least one item", Code: CodeRequired})
	}

	v.checkAffinity(f, &r)

	for i, ref := range f.References {
		if !referencePattern.MatchString(ref) {
			r.Errors = append(r.Errors, FieldError{
				Path:    fmt.Sprintf("references[%d]", i),
				Message: fmt.Sprintf("%q is not a fact id", ref),
				Code:    CodeFormat,
			})
		}
	}

	if f.Type == world.FactPublicArtifact {
		v.checkPublicArtifact(f, &r)
	}

	r.Fact = f
	return r
}

// #endregion validator

// #region normalize

func (v *Validator) normalize(f world.Fact, opts Options, r *Result) world.Fact {
	f.ID = strings.ToUpper(strings.TrimSpace(f.ID))
	f.Type = NormalizeType(string(f.Type))
	f.Content = strings.TrimSpace(f.Content)
	f.IntroducedBy = strings.TrimSpace(f.IntroducedBy)
	f.Time = strings.TrimSpace(f.Time)
	f.ArtifactKind = strings.ToLower(strings.TrimSpace(f.ArtifactKind))
	f.ArtifactLocator = strings.TrimSpace(f.ArtifactLocator)
	f.ArtifactIdentifier = strings.ToUpper(strings.TrimSpace(f.ArtifactIdentifier))
	if opts.Height > 0 && f.IntroducedHeight == 0 {
		f.IntroducedHeight = opts.Height
	}

	evidence := make([]string, 0, len(f.Evidence))
	for _, e := range f.Evidence {
		if e = strings.TrimSpace(e); e != "" {
			evidence = append(evidence, e)
		}
	}
	f.Evidence = evidence

	seen := make(map[string]bool, len(f.References))
	refs := make([]string, 0, len(f.References))
	for _, ref := range f.References {
		ref = strings.ToUpper(strings.TrimSpace(ref))
		if ref == "" || ref == f.ID || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	f.References = refs

	if !opts.AllowCoercion {
		return f
	}

	coerce := func(format string, args ...any) {
		r.Coercions = append(r.Coercions, fmt.Sprintf(format, args...))
	}
	if opts.ExpectedType != "" && f.Type != opts.ExpectedType {
		coerce("type: %q -> %q", f.Type, opts.ExpectedType)
		f.Type = opts.ExpectedType
	}
	if f.ID == "" {
		f.ID = fmt.Sprintf("F_%04d", fnvMod(f.Content, 10000))
		coerce("id: generated %s", f.ID)
	}
	if f.IntroducedBy == "" && opts.IntroducedBy != "" {
		f.IntroducedBy = opts.IntroducedBy
		coerce("introduced_by: defaulted to %s", f.IntroducedBy)
	}
	if f.Time == "" {
		f.Time = "unspecified"
		coerce("time: defaulted")
	}
	if aff, changed := v.coerceAffinity(f.InterpretationAffinity); changed {
		f.InterpretationAffinity = aff
		coerce("interpretation_affinity: renormalized")
	}
	if f.Type == world.FactPublicArtifact {
		if !v.kinds[f.ArtifactKind] {
			f.ArtifactKind = v.rules.ArtifactKinds[0]
			coerce("artifact_kind: defaulted to %s", f.ArtifactKind)
		}
		if f.ArtifactLocator == "" {
			f.ArtifactLocator = "public registry"
			coerce("artifact_locator: defaulted")
		}
		if !v.idPattern.MatchString(f.ArtifactIdentifier) {
			f.ArtifactIdentifier = fmt.Sprintf("DOC-%04d", fnvMod(f.ID+f.Content, 9000)+1000)
			coerce("artifact_identifier: generated %s", f.ArtifactIdentifier)
		}
	}
	return f
}

// coerceAffinity drops unknown keys, clamps values, and renormalizes.
func (v *Validator) coerceAffinity(aff map[string]float64) (map[string]float64, bool) {
	out := make(map[string]float64, len(v.rules.InterpretationKeys))
	changed := false
	sum := 0.0
	for k, val := range aff {
		if !v.keys[k] {
			changed = true
			continue
		}
		c := world.Clamp01(val)
		if c != val {
			changed = true
		}
		out[k] = c
		sum += c
	}
	if sum <= 0 {
		for _, k := range v.rules.InterpretationKeys {
			out[k] = 1 / float64(len(v.rules.InterpretationKeys))
		}
		return out, true
	}
	if math.Abs(sum-1) > v.rules.AffinityTolerance {
		changed = true
	}
	if changed {
		for k := range out {
			out[k] /= sum
		}
	}
	return out, changed
}

// NormalizeType lowercases, joins words with underscores, and applies aliases.
func NormalizeType(raw string) world.FactType {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if t, ok := typeAliases[s]; ok {
		return t
	}
	return world.FactType(s)
}

// #endregion normalize

// #region checks

func (v *Validator) checkAffinity(f world.Fact, r *Result) {
	if len(f.InterpretationAffinity) == 0 {
		r.Errors = append(r.Errors, FieldError{Path: "interpretation_affinity", Message: "must be non-empty", Code: CodeRequired})
		return
	}
	keys := make([]string, 0, len(f.InterpretationAffinity))
	for k := range f.InterpretationAffinity {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sum := 0.0
	for _, k := range keys {
		val := f.InterpretationAffinity[k]
		path := "interpretation_affinity." + k
		if !v.keys[k] {
			r.Errors = append(r.Errors, FieldError{Path: path, Message: "unknown interpretation key", Code: CodeUnknownKey})
		}
		if math.IsNaN(val) || val < 0 || val > 1 {
			r.Errors = append(r.Errors, FieldError{Path: path, Message: "must be within [0,1]", Code: CodeRange})
		}
		sum += val
	}
	if math.Abs(sum-1) > v.rules.AffinityTolerance {
		r.Errors = append(r.Errors, FieldError{
			Path:    "interpretation_affinity",
			Message: fmt.Sprintf("sums to %.3f, need 1±%.2f", sum, v.rules.AffinityTolerance),
			Code:    CodeSum,
		})
	}
}

func (v *Validator) checkPublicArtifact(f world.Fact, r *Result) {
	if f.ArtifactKind == "" {
		r.Errors = append(r.Errors, FieldError{Path: "artifact_kind", Message: "required for public_artifact", Code: CodeRequired})
	} else if !v.kinds[f.ArtifactKind] {
		r.Errors = append(r.Errors, FieldError{Path: "artifact_kind", Message: fmt.Sprintf("%q is not an allowed artifact kind", f.ArtifactKind), Code: CodeEnum})
	}
	if f.ArtifactLocator == "" {
		r.Errors = append(r.Errors, FieldError{Path: "artifact_locator", Message: "required for public_artifact", Code: CodeRequired})
	}
	if f.ArtifactIdentifier == "" {
		r.Errors = append(r.Errors, FieldError{Path: "artifact_identifier", Message: "required for public_artifact", Code: CodeRequired})
	} else if !v.idPattern.MatchString(f.ArtifactIdentifier) {
		r.Errors = append(r.Errors, FieldError{
			Path:    "artifact_identifier",
			Message: fmt.Sprintf("%q does not match %s", f.ArtifactIdentifier, v.rules.ArtifactIdentifierPattern),
			Code:    CodeFormat,
		})
	}
	if len(f.Evidence) > 0 && len(f.Evidence) < v.rules.PublicArtifactMinEvidence {
		r.Errors = append(r.Errors, FieldError{
			Path:    "evidence",
			Message: fmt.Sprintf("public_artifact needs %d evidence items", v.rules.PublicArtifactMinEvidence),
			Code:    CodeMinEvidence,
		})
	}
}

// #endregion checks

// #region helpers

func fnvMod(s string, mod uint32) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32() % mod
}

// #endregion helpers
