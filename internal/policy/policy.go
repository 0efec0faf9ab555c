package policy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region load

// Load reads a policy document from path. An empty path returns the
// validated defaults.
func Load(path string) (Policy, error) {
	if path == "" {
		p := Default()
		if err := Validate(p, "defaults"); err != nil {
			return Policy{}, err
		}
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, &ConfigError{Source: path, Err: err}
	}
	return Parse(data, path)
}

// Parse deep-merges a YAML (or JSON) document over Default, decodes the
// result strictly, and validates it. source names the document in errors.
func Parse(data []byte, source string) (Policy, error) {
	base, err := toTree(Default())
	if err != nil {
		return Policy{}, &ConfigError{Source: source, Err: err}
	}

	var overlay map[string]any
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return Policy{}, &ConfigError{Source: source, Err: fmt.Errorf("parse: %w", err)}
	}

	merged, err := yaml.Marshal(merge(base, overlay))
	if err != nil {
		return Policy{}, &ConfigError{Source: source, Err: fmt.Errorf("re-encode: %w", err)}
	}

	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(merged))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Policy{}, &ConfigError{Source: source, Err: fmt.Errorf("decode: %w", err)}
	}
	if err := Validate(p, source); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func toTree(p Policy) (map[string]any, error) {
	raw, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode defaults: %w", err)
	}
	return tree, nil
}

// merge overlays src onto dst. Mappings merge key by key; scalars and
// sequences in src replace those in dst.
func merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, sv := range src {
		sm, sok := sv.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if sok && dok {
			dst[k] = merge(dm, sm)
			continue
		}
		dst[k] = sv
	}
	return dst
}

// #endregion load

// #region validate

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate runs the struct tags and the cross-section checks.
func Validate(p Policy, source string) error {
	if err := validate.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ConfigError{
				Source: source,
				Field:  strings.TrimPrefix(fe.Namespace(), "Policy."),
				Err:    fmt.Errorf("failed %q (%s)", fe.Tag(), fe.Param()),
			}
		}
		return &ConfigError{Source: source, Err: err}
	}
	for _, check := range []func(Policy) (string, error){
		checkDirectives,
		checkFactTypes,
		checkInterpretationKeys,
		checkPatterns,
		checkController,
	} {
		if field, err := check(p); err != nil {
			return &ConfigError{Source: source, Field: field, Err: err}
		}
	}
	return nil
}

func checkDirectives(p Policy) (string, error) {
	known := make(map[world.Directive]bool, len(world.AllDirectives))
	for _, d := range world.AllDirectives {
		known[d] = true
	}
	sets := map[string][]world.Directive{
		"directives.pools.maintenance":     p.Directives.Pools.Maintenance,
		"directives.pools.diversify":       p.Directives.Pools.Diversify,
		"directives.pools.closure":         p.Directives.Pools.Closure,
		"directives.pools.chaos":           p.Directives.Pools.Chaos,
		"directives.pools.convergence":     p.Directives.Pools.Convergence,
		"directives.pools.default":         p.Directives.Pools.Default,
		"directives.escape.directives":     p.Directives.Escape.Directives,
		"directives.stagnation_directives": p.Directives.StagnationDirectives,
	}
	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, d := range sets[name] {
			if !known[d] {
				return name, fmt.Errorf("unknown directive %q", d)
			}
		}
	}
	for d := range p.Directives.Families {
		if !known[d] {
			return "directives.families", fmt.Errorf("unknown directive %q", d)
		}
	}
	families := make(map[string]bool)
	for _, f := range p.Directives.Families {
		families[f] = true
	}
	for _, f := range p.Directives.RequiredFamilies {
		if !families[f] {
			return "directives.required_families", fmt.Errorf("family %q has no directive", f)
		}
	}
	return "", nil
}

func checkFactTypes(p Policy) (string, error) {
	allowed := make(map[world.FactType]bool, len(p.Facts.AllowedTypes))
	for _, t := range p.Facts.AllowedTypes {
		allowed[t] = true
	}
	for d, t := range p.Gate.DirectiveContracts {
		if !allowed[t] {
			return "gate.directive_contracts." + string(d), fmt.Errorf("fact type %q is not allowed", t)
		}
	}
	for _, t := range p.Specificity.RequiredTypes {
		if !allowed[t] {
			return "specificity.required_types", fmt.Errorf("fact type %q is not allowed", t)
		}
	}
	return "", nil
}

func checkInterpretationKeys(p Policy) (string, error) {
	keys := make(map[string]bool, len(p.Facts.InterpretationKeys))
	for _, k := range p.Facts.InterpretationKeys {
		keys[k] = true
	}
	for k := range p.Ledger.Genesis.InterpretationStrength {
		if !keys[k] {
			return "ledger.genesis.interpretation_strength", fmt.Errorf("unknown interpretation key %q", k)
		}
	}
	for k := range p.Producers.BaseStrength {
		if !keys[k] {
			return "producers.base_strength", fmt.Errorf("unknown interpretation key %q", k)
		}
	}
	return "", nil
}

func checkPatterns(p Policy) (string, error) {
	if _, err := regexp.Compile(p.Facts.ArtifactIdentifierPattern); err != nil {
		return "facts.artifact_identifier_pattern", err
	}
	for _, pat := range p.Invariants.FinalityPatterns {
		if _, err := regexp.Compile(`(?i)` + pat); err != nil {
			return "invariants.finality_patterns", err
		}
	}
	return "", nil
}

func checkController(p Policy) (string, error) {
	if !p.Controller.InitialMode.Valid() {
		return "controller.initial_mode", fmt.Errorf("unknown mode %q", p.Controller.InitialMode)
	}
	if p.Aggregator.RejectQuorum > len(p.Verifiers.General) {
		return "aggregator.reject_quorum", fmt.Errorf("quorum %d exceeds %d general verifiers", p.Aggregator.RejectQuorum, len(p.Verifiers.General))
	}
	return "", nil
}

// #endregion validate
