package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

const generateSystem = `You write one step of a branching world chronicle where no interpretation of the founding event may ever be settled.
Return JSON only with keys: artifact, bundle {title, scene, surface_confirmation, alternative_compatibility[], social_effect, deferred_tension, fact_id},
fact {id, type, content, introduced_by, time, evidence[], interpretation_affinity{I1,I2,I3}, references[], artifact_kind, artifact_locator, artifact_identifier},
what_changed, tension_progress (0..1).
Introduce exactly one new concrete fact. Never claim final truth.`

const riskSystem = `You evaluate narrative coherence. Return JSON only with closure_risk, chaos_risk, fragility_score in [0,1].`

const noveltySystem = `You evaluate semantic novelty progression. Return JSON only: {"novelty_score": float in [0,1]}.`

func generatePrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Directive: %s\n", req.Directive)
	if req.ExpectedType != "" {
		fmt.Fprintf(&b, "Required fact type: %s\n", req.ExpectedType)
	}
	fmt.Fprintf(&b, "Style: %s\n", req.Style)
	fmt.Fprintf(&b, "Write in: %s\n", req.Language)
	diff, _ := json.Marshal(req.Difficulty)
	fmt.Fprintf(&b, "Difficulty: %s\n", diff)
	if len(req.Anchors) > 0 {
		b.WriteString("Active anchors you may reference:\n")
		for _, a := range req.Anchors {
			fmt.Fprintf(&b, "- %s (%s): %s\n", a.ID, a.Type, a.Text)
		}
	}
	if len(req.RecentFacts) > 0 {
		b.WriteString("Recent facts, do not repeat them:\n")
		for _, f := range req.RecentFacts {
			fmt.Fprintf(&b, "- %s\n", f.Text)
		}
	}
	b.WriteString("Projection:\n")
	b.WriteString(req.Projection)
	return b.String()
}

func riskPrompt(ch world.Challenge, cand world.Candidate) string {
	return fmt.Sprintf("Directive: %s\nProjection: %s\nCandidate artifact: %s\n"+
		"Evaluate risks: closure_risk (premature finality), chaos_risk (incoherent drift), fragility_score (single-point narrative support).",
		ch.Directive, ch.Projection, cand.Artifact)
}

func noveltyPrompt(ch world.Challenge, cand world.Candidate) string {
	fact, _ := cand.Metadata.PrimaryFact()
	body, _ := json.Marshal(fact)
	scenes := ch.Policy.Context.RecentScenes
	if len(scenes) > 5 {
		scenes = scenes[len(scenes)-5:]
	}
	return fmt.Sprintf("Directive: %s\nRecent narratives: %q\nCandidate scene: %s\nCandidate fact object: %s\n"+
		"Score novelty considering factual progression, not wording.",
		ch.Directive, scenes, cand.Metadata.Bundle.Scene, body)
}
