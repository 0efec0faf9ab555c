package facts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region decode

// Decode reads a loosely-typed wire payload into a Fact and validates it.
// Wrong-kind fields become field errors; with AllowCoercion they are
// dropped instead and left to Validate's coercion pass.
func (v *Validator) Decode(raw map[string]any, opts Options) Result {
	var wireErrs []FieldError
	fail := func(path, msg string) {
		wireErrs = append(wireErrs, FieldError{Path: path, Message: msg, Code: CodeType})
	}

	str := func(key string) string {
		val, ok := raw[key]
		if !ok || val == nil {
			return ""
		}
		switch x := val.(type) {
		case string:
			return x
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		default:
			fail(key, "must be a string")
			return ""
		}
	}
	list := func(key string) []string {
		val, ok := raw[key]
		if !ok || val == nil {
			return nil
		}
		switch x := val.(type) {
		case string:
			return []string{x}
		case []string:
			return x
		case []any:
			out := make([]string, 0, len(x))
			for i, item := range x {
				s, ok := item.(string)
				if !ok {
					fail(fmt.Sprintf("%s[%d]", key, i), "must be a string")
					continue
				}
				out = append(out, s)
			}
			return out
		default:
			fail(key, "must be a list of strings")
			return nil
		}
	}

	f := world.Fact{
		ID:                 str("id"),
		Type:               world.FactType(str("type")),
		Content:            str("content"),
		IntroducedBy:       str("introduced_by"),
		Time:               str("time"),
		Evidence:           list("evidence"),
		References:         list("references"),
		ArtifactKind:       str("artifact_kind"),
		ArtifactLocator:    str("artifact_locator"),
		ArtifactIdentifier: str("artifact_identifier"),
	}

	if val, ok := raw["interpretation_affinity"]; ok && val != nil {
		m, ok := val.(map[string]any)
		if !ok {
			fail("interpretation_affinity", "must be an object")
		} else {
			f.InterpretationAffinity = make(map[string]float64, len(m))
			for k, item := range m {
				n, ok := number(item)
				if !ok {
					fail("interpretation_affinity."+k, "must be numeric")
					continue
				}
				f.InterpretationAffinity[strings.TrimSpace(k)] = n
			}
		}
	}

	r := v.Validate(f, opts)
	if !opts.AllowCoercion {
		r.Errors = append(wireErrs, r.Errors...)
	} else {
		for _, e := range wireErrs {
			r.Coercions = append(r.Coercions, fmt.Sprintf("%s: dropped (%s)", e.Path, e.Message))
		}
	}
	return r
}

// DecodeJSON parses a JSON object and decodes it as a fact.
func (v *Validator) DecodeJSON(data []byte, opts Options) (Result, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, fmt.Errorf("unmarshal fact: %w", err)
	}
	return v.Decode(raw, opts), nil
}

// #endregion decode

// #region helpers

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// #endregion helpers
