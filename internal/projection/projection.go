package projection

import (
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region types

// Input is the branch history a projection is assembled from.
type Input struct {
	Artifacts   []string // accepted artifacts, oldest first
	Continuity  world.Continuity
	RecentFacts []world.Fact // newest last
	AnchorIDs   []string
}

// Options bound the projection.
type Options struct {
	Depth              int
	FactPreview        int
	Escape             bool
	EscapeInstructions string
}

// #endregion types

// #region project

// Build assembles the bounded context window for a Challenge: the last Depth
// artifacts, the continuity summary, a preview of recent facts, the ids of
// active anchors, and the escape instructions when escape mode is on.
func Build(in Input, opts Options) string {
	var b strings.Builder

	depth := opts.Depth
	if depth < 1 {
		depth = 1
	}
	tail := in.Artifacts
	if len(tail) > depth {
		tail = tail[len(tail)-depth:]
	}
	if len(tail) > 0 {
		b.WriteString("[RECENT STATES]\n")
		b.WriteString(strings.Join(tail, "\n\n"))
		b.WriteString("\n")
	}

	if c := in.Continuity; c.Summary != "" {
		b.WriteString("[CONTINUITY]\n")
		b.WriteString(c.Summary)
		b.WriteString("\n")
		if len(c.Entities) > 0 {
			fmt.Fprintf(&b, "Known entities: %s\n", strings.Join(c.Entities, ", "))
		}
		if len(c.Tensions) > 0 {
			fmt.Fprintf(&b, "Unresolved: %s\n", strings.Join(c.Tensions, " / "))
		}
	}

	facts := in.RecentFacts
	if opts.FactPreview > 0 && len(facts) > opts.FactPreview {
		facts = facts[len(facts)-opts.FactPreview:]
	}
	if len(facts) > 0 {
		b.WriteString("[RECENT FACTS]\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s (%s): %s\n", f.ID, f.Type, f.Content)
		}
	}

	if len(in.AnchorIDs) > 0 {
		fmt.Fprintf(&b, "[ACTIVE ANCHORS]\n%s\n", strings.Join(in.AnchorIDs, ", "))
	}

	if opts.Escape && opts.EscapeInstructions != "" {
		b.WriteString("[ESCAPE]\n")
		b.WriteString(opts.EscapeInstructions)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// #endregion project

// #region continuity

// ContinuityConfig controls how branch memory is summarized.
type ContinuityConfig struct {
	Template      string `yaml:"template" validate:"required"`
	Anchor        string `yaml:"anchor" validate:"required"`
	MaxTensions   int    `yaml:"max_tensions" validate:"gte=1"`
	MaxHighlights int    `yaml:"max_highlights" validate:"gte=1"`
	MaxEntities   int    `yaml:"max_entities" validate:"gte=1"`
}

// DefaultContinuityConfig returns the built-in template.
func DefaultContinuityConfig() ContinuityConfig {
	return ContinuityConfig{
		Template:      "{anchor} continuity at height {height}: {scene}",
		Anchor:        "Alice",
		MaxTensions:   3,
		MaxHighlights: 5,
		MaxEntities:   12,
	}
}

// UpdateContinuity folds an accepted state into the branch memory.
func UpdateContinuity(prev world.Continuity, s world.State, cfg ContinuityConfig, now time.Time) world.Continuity {
	scene := s.Metadata.Bundle.Scene
	if scene == "" {
		scene = s.Artifact
	}
	next := world.Continuity{
		BranchID: s.BranchID,
		Summary: strings.NewReplacer(
			"{anchor}", cfg.Anchor,
			"{height}", fmt.Sprintf("%d", s.Height),
			"{scene}", excerpt(scene, 160),
		).Replace(cfg.Template),
		Entities:   mergeUnique(prev.Entities, s.Metadata.Entities, cfg.MaxEntities),
		Tensions:   appendBounded(prev.Tensions, s.Metadata.Bundle.DeferredTension, cfg.MaxTensions),
		Highlights: appendBounded(prev.Highlights, s.Metadata.Bundle.Title, cfg.MaxHighlights),
		UpdatedAt:  now,
	}
	return next
}

// #endregion continuity

// #region helpers

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

func mergeUnique(a, b []string, limit int) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func appendBounded(list []string, item string, limit int) []string {
	out := append([]string{}, list...)
	if item = strings.TrimSpace(item); item != "" {
		out = append(out, item)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// #endregion helpers
