package aggregate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

func result(id string, verdict world.Verdict, score float64) world.VerificationResult {
	return world.VerificationResult{CandidateID: "c1", VerifierID: id, Level: world.LevelL2, Verdict: verdict, Score: score}
}

func TestTrimmedMean(t *testing.T) {
	rs := []world.VerificationResult{
		result("a", world.VerdictAccept, 0.87),
		result("b", world.VerdictAccept, 0.88),
		result("c", world.VerdictAccept, 0.90),
	}
	assert.InDelta(t, 0.88, TrimmedMean(rs), 1e-9)
	assert.InDelta(t, 0.875, TrimmedMean(rs[:2]), 1e-9)
	assert.Equal(t, 0.0, TrimmedMean(nil))
}

func TestDecide_ProgressGateBeatsHighComposite(t *testing.T) {
	a := New(DefaultConfig())
	d := a.Decide(Input{
		Results: []world.VerificationResult{
			result("a", world.VerdictAccept, 0.87),
			result("b", world.VerdictAccept, 0.88),
			result("c", world.VerdictAccept, 0.90),
		},
		Novelty:         0.9,
		TensionProgress: 0.8,
		ProgressGate:    false,
	})
	assert.Equal(t, world.VerdictReject, d.Verdict)
	assert.Contains(t, d.Reasons[0], "progress gate")
	assert.InDelta(t, 0.87, d.Score, 1e-9)
}

func TestDecide_HardFailFirst(t *testing.T) {
	d := New(DefaultConfig()).Decide(Input{
		Results:      []world.VerificationResult{result("a", world.VerdictAccept, 0.9)},
		HardFail:     true,
		ProgressGate: false,
	})
	assert.Equal(t, []string{ReasonHardFail}, d.Reasons)
}

func TestDecide_RejectQuorum(t *testing.T) {
	d := New(DefaultConfig()).Decide(Input{
		Results: []world.VerificationResult{
			result("a", world.VerdictReject, 0.40),
			result("b", world.VerdictReject, 0.42),
			result("c", world.VerdictAccept, 0.95),
		},
		Novelty:         1,
		TensionProgress: 1,
		ProgressGate:    true,
	})
	assert.Equal(t, world.VerdictReject, d.Verdict)
	assert.Equal(t, []string{ReasonRejectQuorum}, d.Reasons)
}

func TestDecide_Accept(t *testing.T) {
	d := New(DefaultConfig()).Decide(Input{
		Results: []world.VerificationResult{
			result("a", world.VerdictAccept, 0.66),
			result("b", world.VerdictAccept, 0.70),
			result("c", world.VerdictReject, 0.50),
		},
		Novelty:         0.6,
		TensionProgress: 0.6,
		ProgressGate:    true,
	})
	assert.Equal(t, world.VerdictAccept, d.Verdict)
	assert.Equal(t, map[world.Level]int{world.LevelL2: 3}, d.LevelCounts)
}

func TestDecide_ThresholdOverride(t *testing.T) {
	in := Input{
		Results: []world.VerificationResult{
			result("a", world.VerdictAccept, 0.66),
			result("b", world.VerdictAccept, 0.66),
		},
		Novelty:         0.5,
		TensionProgress: 0.5,
		ProgressGate:    true,
	}
	// composite = 0.33 + 0.15 + 0.10 = 0.58
	assert.Equal(t, world.VerdictAccept, New(DefaultConfig()).Decide(in).Verdict)
	in.Threshold = 0.6
	d := New(DefaultConfig()).Decide(in)
	assert.Equal(t, world.VerdictReject, d.Verdict)
	assert.Equal(t, []string{ReasonLowConfidence}, d.Reasons)
}

func TestDecide_SingleAcceptInsufficient(t *testing.T) {
	d := New(DefaultConfig()).Decide(Input{
		Results:      []world.VerificationResult{result("a", world.VerdictAccept, 1)},
		Novelty:      1,
		ProgressGate: true,
	})
	assert.Equal(t, world.VerdictReject, d.Verdict)
}

func TestDecide_Empty(t *testing.T) {
	d := New(DefaultConfig()).Decide(Input{ProgressGate: true})
	assert.Equal(t, world.VerdictReject, d.Verdict)
	assert.Equal(t, 0.0, d.Score)
}

func TestComposite_Clamped(t *testing.T) {
	assert.Equal(t, 0.0, Composite(0, 0, 0, 1))
	assert.Equal(t, 1.0, Composite(1, 1, 1, 0))
}
