package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/worldledger/internal/verify"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region parse

var errNoObject = errors.New("no JSON object in model output")

// ParseObject extracts the first JSON object from model output, tolerating
// code fences and surrounding prose.
func ParseObject(content string) (map[string]any, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, errNoObject
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	return out, nil
}

// PayloadFromMap reads a loosely-shaped generator answer. It accepts
// "artifact" or "artifact_x", "fact" or the first of "facts", and numeric
// fields given as strings.
func PayloadFromMap(m map[string]any) Payload {
	p := Payload{
		Artifact:        firstString(m, "artifact", "artifact_x", "text"),
		WhatChanged:     firstString(m, "what_changed", "change", "what_changed_since_previous_step"),
		TensionProgress: world.Clamp01(number(m["tension_progress"], 0.5)),
	}
	if b, ok := m["bundle"].(map[string]any); ok {
		p.Bundle = bundleFromMap(b)
	} else if b, ok := m["story_bundle"].(map[string]any); ok {
		p.Bundle = bundleFromMap(b)
	}
	switch f := m["fact"].(type) {
	case map[string]any:
		p.Fact = f
	default:
		if list, ok := m["facts"].([]any); ok && len(list) > 0 {
			if first, ok := list[0].(map[string]any); ok {
				p.Fact = first
			}
		}
	}
	if p.Bundle.FactID == "" && p.Fact != nil {
		if id, ok := p.Fact["id"].(string); ok {
			p.Bundle.FactID = strings.ToUpper(strings.TrimSpace(id))
		}
	}
	return p
}

// RiskFromMap reads a risk estimate, defaulting missing fields to 0.5.
func RiskFromMap(m map[string]any) verify.Risk {
	return verify.Risk{
		Closure:   world.Clamp01(number(m["closure_risk"], 0.5)),
		Chaos:     world.Clamp01(number(m["chaos_risk"], 0.5)),
		Fragility: world.Clamp01(number(m["fragility_score"], 0.5)),
	}
}

// NoveltyFromMap reads a novelty estimate, defaulting to 0.5.
func NoveltyFromMap(m map[string]any) float64 {
	return world.Clamp01(number(m["novelty_score"], 0.5))
}

// #endregion parse

// #region helpers

func bundleFromMap(m map[string]any) world.NarrativeBundle {
	b := world.NarrativeBundle{
		Title:               firstString(m, "title"),
		Scene:               firstString(m, "scene"),
		SurfaceConfirmation: firstString(m, "surface_confirmation"),
		SocialEffect:        firstString(m, "social_effect"),
		DeferredTension:     firstString(m, "deferred_tension"),
		FactID:              strings.ToUpper(firstString(m, "fact_id")),
	}
	switch alt := m["alternative_compatibility"].(type) {
	case []any:
		for _, item := range alt {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				b.AlternativeCompatibility = append(b.AlternativeCompatibility, strings.TrimSpace(s))
			}
		}
	case string:
		if s := strings.TrimSpace(alt); s != "" {
			b.AlternativeCompatibility = []string{s}
		}
	}
	return b
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func number(v any, fallback float64) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	}
	return fallback
}

// #endregion helpers
