package world

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestDifficulty_Clamp(t *testing.T) {
	got := Difficulty{
		DependencyDepth:         12,
		ConstraintDensity:       1.4,
		UnderspecificationLevel: 0.02,
		FutureFragility:         math.NaN(),
		NoveltyBudget:           0.6,
	}.Clamp()
	want := Difficulty{
		DependencyDepth:         MaxDependencyDepth,
		ConstraintDensity:       MaxDifficultyReal,
		UnderspecificationLevel: MinDifficultyReal,
		FutureFragility:         MinDifficultyReal,
		NoveltyBudget:           0.6,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Clamp mismatch (-want +got):\n%s", diff)
	}

	low := Difficulty{DependencyDepth: 0}.Clamp()
	assert.Equal(t, MinDependencyDepth, low.DependencyDepth)
	assert.Equal(t, DefaultDifficulty(), DefaultDifficulty().Clamp())
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.3))
	assert.Equal(t, 1.0, Clamp01(7))
	assert.Equal(t, 0.25, Clamp01(0.25))
	assert.Equal(t, 0.0, Clamp01(math.NaN()))
}

func TestGateThresholds_NoveltyMinimum(t *testing.T) {
	g := DefaultGateThresholds()
	assert.Equal(t, g.NoveltyEarly, g.NoveltyMinimum(0))
	assert.Equal(t, g.NoveltyEarly, g.NoveltyMinimum(g.EarlyPhaseEnd-1))
	assert.Equal(t, g.NoveltyMid, g.NoveltyMinimum(g.EarlyPhaseEnd))
	assert.Equal(t, g.NoveltyLate, g.NoveltyMinimum(g.MidPhaseEnd))

	g.NoveltyLate = 0.1
	assert.Equal(t, g.MinNoveltyScore, g.NoveltyMinimum(g.MidPhaseEnd+3))
}

func TestGateThresholds_ReferenceBandFor(t *testing.T) {
	g := DefaultGateThresholds()
	assert.Equal(t, 0, g.ReferenceBandFor(1).MinRefs)
	assert.Equal(t, 1, g.ReferenceBandFor(2).MinRefs)
	assert.Equal(t, 1, g.ReferenceBandFor(4).MinRefs)
	assert.Equal(t, 2, g.ReferenceBandFor(50).MinRefs)
}

func TestFact_Canonical(t *testing.T) {
	f := Fact{
		ID:               "F3",
		Type:             FactPublicArtifact,
		Content:          "  The harbor ledger lists a seized cargo.  ",
		Evidence:         []string{"stamp on page 4", "clerk testimony"},
		IntroducedHeight: 3,
	}
	assert.Equal(t, "public_artifact: The harbor ledger lists a seized cargo. | stamp on page 4 ; clerk testimony", f.Canonical())

	ref := f.Ref()
	assert.Equal(t, "F3", ref.ID)
	assert.Equal(t, 3, ref.Height)
	assert.Equal(t, f.Canonical(), ref.Text)
}

func TestNarrativeBundle_TextSkipsEmptyParts(t *testing.T) {
	b := NarrativeBundle{Title: "ignored", Scene: " Rain on the quay. ", SocialEffect: "", DeferredTension: "Who paid the clerk?"}
	assert.Equal(t, "Rain on the quay. Who paid the clerk?", b.Text())
}

func TestMode_Valid(t *testing.T) {
	for _, m := range []Mode{ModeDiversify, ModeConsolidate, ModeMaintenance, ModeFalseConvergence, ModeDeferredTension} {
		assert.True(t, m.Valid(), m)
	}
	assert.False(t, Mode("sideways").Valid())
}

func TestCandidateMetadata_PrimaryFact(t *testing.T) {
	_, ok := CandidateMetadata{}.PrimaryFact()
	assert.False(t, ok)

	f, ok := CandidateMetadata{Facts: []Fact{{ID: "F1"}, {ID: "F2"}}}.PrimaryFact()
	assert.True(t, ok)
	assert.Equal(t, "F1", f.ID)
}

func TestStateMetadata_WithStoredFacts(t *testing.T) {
	m := StateMetadata{
		Facts: []Fact{
			{ID: "F_LAMP", Type: FactWitness, Content: "a lamp"},
			{ID: "F_DOOR", Type: FactWitness, Content: "a door"},
		},
		Bundle: NarrativeBundle{Title: "dark", FactID: "F_LAMP"},
	}
	stored := []Fact{
		{ID: "F_LAMP-2", Type: FactWitness, Content: "a lamp"},
		{ID: "F_DOOR", Type: FactWitness, Content: "a door"},
	}

	got := m.WithStoredFacts(stored)
	assert.Equal(t, "F_LAMP-2", got.Bundle.FactID)
	if diff := cmp.Diff(stored, got.Facts); diff != "" {
		t.Errorf("facts mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "F_LAMP", m.Facts[0].ID, "receiver facts must not change")

	short := m.WithStoredFacts(stored[:1])
	assert.Equal(t, "F_LAMP", short.Bundle.FactID)
	assert.Len(t, short.Facts, 2)
}
