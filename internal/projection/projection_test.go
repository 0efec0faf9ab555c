package projection

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

func TestBuild_DepthBoundsArtifacts(t *testing.T) {
	out := Build(Input{Artifacts: []string{"one", "two", "three"}}, Options{Depth: 2})
	assert.NotContains(t, out, "one")
	assert.Contains(t, out, "two\n\nthree")
}

func TestBuild_ZeroDepthKeepsLast(t *testing.T) {
	out := Build(Input{Artifacts: []string{"one", "two"}}, Options{})
	assert.Equal(t, "[RECENT STATES]\ntwo", out)
}

func TestBuild_AllSections(t *testing.T) {
	in := Input{
		Artifacts: []string{"Alice reads the registry."},
		Continuity: world.Continuity{
			Summary:  "Alice continuity at height 1: registry",
			Entities: []string{"Alice", "Clerk"},
			Tensions: []string{"who stamped the card"},
		},
		RecentFacts: []world.Fact{
			{ID: "F1", Type: world.FactWitness, Content: "old"},
			{ID: "F2", Type: world.FactPublicArtifact, Content: "registry card 221 filed"},
		},
		AnchorIDs: []string{"F1", "F2"},
	}
	out := Build(in, Options{Depth: 3, FactPreview: 1, Escape: true, EscapeInstructions: "Name one concrete artifact."})
	for _, want := range []string{"[RECENT STATES]", "[CONTINUITY]", "Known entities: Alice, Clerk", "[RECENT FACTS]", "- F2 (public_artifact)", "[ACTIVE ANCHORS]\nF1, F2", "[ESCAPE]\nName one concrete artifact."} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, "- F1")
}

func TestBuild_NoEscapeWithoutFlag(t *testing.T) {
	out := Build(Input{Artifacts: []string{"a"}}, Options{Depth: 1, EscapeInstructions: "be concrete"})
	assert.False(t, strings.Contains(out, "[ESCAPE]"))
}

func TestUpdateContinuity(t *testing.T) {
	cfg := DefaultContinuityConfig()
	cfg.MaxHighlights = 2
	prev := world.Continuity{Entities: []string{"Alice"}, Highlights: []string{"h0", "h1"}}
	s := world.State{
		BranchID: "branch-main",
		Height:   3,
		Metadata: world.StateMetadata{
			Entities: []string{"Alice", "Porter"},
			Bundle: world.NarrativeBundle{
				Title:           "Pier count",
				Scene:           "Porter recounts crates at pier 4.",
				DeferredTension: "two crates unaccounted",
			},
		},
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	got := UpdateContinuity(prev, s, cfg, now)
	assert.Equal(t, "Alice continuity at height 3: Porter recounts crates at pier 4.", got.Summary)
	assert.Equal(t, []string{"Alice", "Porter"}, got.Entities)
	assert.Equal(t, []string{"h1", "Pier count"}, got.Highlights)
	assert.Equal(t, []string{"two crates unaccounted"}, got.Tensions)
	assert.Equal(t, now, got.UpdatedAt)
}
