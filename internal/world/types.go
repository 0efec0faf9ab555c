package world

import (
	"strings"
	"time"
)

// #region enums

// BranchStatus is the lifecycle status of a Branch.
type BranchStatus string

const (
	BranchActive   BranchStatus = "active"
	BranchStalled  BranchStatus = "stalled"
	BranchArchived BranchStatus = "archived"
)

// Verdict is one verifier's outcome for one Candidate.
type Verdict string

const (
	VerdictAccept   Verdict = "ACCEPT"
	VerdictReject   Verdict = "REJECT"
	VerdictEscalate Verdict = "ESCALATE"
)

// Level is the verification depth a verifier reached.
type Level string

const (
	LevelL0 Level = "L0"
	LevelL1 Level = "L1"
	LevelL2 Level = "L2"
	LevelL3 Level = "L3"
)

// Mode is the controller's operating mode.
type Mode string

const (
	ModeDiversify        Mode = "diversify"
	ModeConsolidate      Mode = "consolidate"
	ModeMaintenance      Mode = "maintenance"
	ModeFalseConvergence Mode = "false-convergence"
	ModeDeferredTension  Mode = "deferred-tension"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeDiversify, ModeConsolidate, ModeMaintenance, ModeFalseConvergence, ModeDeferredTension:
		return true
	}
	return false
}

// CandidateStatus tracks whether a Candidate was promoted.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "pending"
	CandidateAccepted CandidateStatus = "accepted"
	CandidateRejected CandidateStatus = "rejected"
)

// #endregion enums

// #region branch

// Branch is an independent timeline of accepted States.
type Branch struct {
	ID              string       `json:"id"`
	HeadStateID     string       `json:"head_state_id"`
	Status          BranchStatus `json:"status"`
	SemanticDebt    float64      `json:"semantic_debt_est"`
	Uncertainty     float64      `json:"uncertainty"`
	ClosurePressure float64      `json:"closure_pressure"`
	ChaosPressure   float64      `json:"chaos_pressure"`
	CreatedAt       time.Time    `json:"created_at"`
}

// #endregion branch

// #region narrative

// NarrativeBundle is the structured scene a Candidate proposes.
type NarrativeBundle struct {
	Title                    string   `json:"title" yaml:"title"`
	Scene                    string   `json:"scene" yaml:"scene"`
	SurfaceConfirmation      string   `json:"surface_confirmation" yaml:"surface_confirmation"`
	AlternativeCompatibility []string `json:"alternative_compatibility" yaml:"alternative_compatibility"`
	SocialEffect             string   `json:"social_effect" yaml:"social_effect"`
	DeferredTension          string   `json:"deferred_tension" yaml:"deferred_tension"`
	FactID                   string   `json:"fact_id,omitempty" yaml:"fact_id,omitempty"`
}

// Text renders the bundle as prose, skipping empty parts.
func (b NarrativeBundle) Text() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{b.Scene, b.SurfaceConfirmation, b.SocialEffect, b.DeferredTension} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// #endregion narrative

// #region state

// StateMetadata is the typed payload carried by an accepted State.
type StateMetadata struct {
	Entities               []string           `json:"entities"`
	Threads                []string           `json:"threads"`
	InterpretationStrength map[string]float64 `json:"interpretation_strength"`
	Bundle                 NarrativeBundle    `json:"bundle"`
	Facts                  []Fact             `json:"facts,omitempty"`
	WhatChanged            string             `json:"what_changed,omitempty"`
	Directive              Directive          `json:"directive,omitempty"`
	Extensions             map[string]any     `json:"extensions,omitempty"`
}

// WithStoredFacts returns m carrying stored, the same facts in the same
// order under the ids the fact ledger recorded them with. A bundle that
// dramatizes a renamed fact follows the rename.
func (m StateMetadata) WithStoredFacts(stored []Fact) StateMetadata {
	if len(stored) != len(m.Facts) {
		return m
	}
	for i, f := range m.Facts {
		if f.ID != "" && f.ID == m.Bundle.FactID {
			m.Bundle.FactID = stored[i].ID
		}
	}
	m.Facts = append([]Fact(nil), stored...)
	return m
}

// AcceptanceSummary records why a State was accepted.
type AcceptanceSummary struct {
	Score       float64  `json:"score"`
	Reasons     []string `json:"reasons,omitempty"`
	ProducerID  string   `json:"producer_id,omitempty"`
	CandidateID string   `json:"candidate_id,omitempty"`
	AcceptedVia string   `json:"accepted_via,omitempty"`
	Forked      bool     `json:"forked,omitempty"`
}

// State is an immutable ledger entry.
type State struct {
	ID          string            `json:"id"`
	BranchID    string            `json:"branch_id"`
	ParentID    string            `json:"parent_id,omitempty"`
	Height      int               `json:"height"`
	Artifact    string            `json:"artifact"`
	Metadata    StateMetadata     `json:"metadata"`
	ChallengeID string            `json:"challenge_id,omitempty"`
	Acceptance  AcceptanceSummary `json:"acceptance"`
	CreatedAt   time.Time         `json:"created_at"`
}

// #endregion state

// #region challenge

// FactRef is the verifier-facing view of a ledger Fact.
type FactRef struct {
	ID     string   `json:"id"`
	Type   FactType `json:"type"`
	Text   string   `json:"text"`
	Height int      `json:"height"`
}

// BranchContext is the snapshot of recent branch history a verifier needs.
type BranchContext struct {
	CurrentHeight int        `json:"current_height"`
	RecentFacts   []FactRef  `json:"recent_facts"`
	RecentTypes   []FactType `json:"recent_types"`
	Anchors       []FactRef  `json:"anchors"`
	RecentScenes  []string   `json:"recent_scenes"`
	Mode          Mode       `json:"mode"`
	Escape        bool       `json:"escape"`
}

// VerifierPolicy pairs the gate thresholds with the branch context snapshot.
type VerifierPolicy struct {
	Thresholds GateThresholds `json:"thresholds"`
	Context    BranchContext  `json:"context"`
}

// Challenge is the immutable per-step task specification.
type Challenge struct {
	ID            string         `json:"id"`
	BranchID      string         `json:"branch_id"`
	ParentStateID string         `json:"parent_state_id"`
	Projection    string         `json:"projection"`
	Directive     Directive      `json:"directive"`
	Difficulty    Difficulty     `json:"difficulty"`
	Policy        VerifierPolicy `json:"policy"`
	Escape        bool           `json:"escape"`
	Stagnation    bool           `json:"stagnation_override"`
	CreatedAt     time.Time      `json:"created_at"`
}

// #endregion challenge

// #region candidate

// CandidateMetadata is the structured bundle every Candidate must carry.
type CandidateMetadata struct {
	Bundle                 NarrativeBundle    `json:"bundle"`
	Facts                  []Fact             `json:"facts"`
	WhatChanged            string             `json:"what_changed"`
	TensionProgress        float64            `json:"tension_progress"`
	InterpretationStrength map[string]float64 `json:"interpretation_strength"`
	ClosureRiskHint        float64            `json:"closure_risk_hint"`
	Entities               []string           `json:"entities,omitempty"`
	Threads                []string           `json:"threads,omitempty"`
	Extensions             map[string]any     `json:"extensions,omitempty"`
}

// PrimaryFact returns the first Fact, or false when none was proposed.
func (m CandidateMetadata) PrimaryFact() (Fact, bool) {
	if len(m.Facts) == 0 {
		return Fact{}, false
	}
	return m.Facts[0], true
}

// Candidate is a proposed response to a Challenge.
type Candidate struct {
	ID          string            `json:"id"`
	ChallengeID string            `json:"challenge_id"`
	ProducerID  string            `json:"producer_id"`
	Artifact    string            `json:"artifact"`
	Metadata    CandidateMetadata `json:"metadata"`
	Source      string            `json:"source"`
	Status      CandidateStatus   `json:"status"`
}

// #endregion candidate

// #region verification

// Signal keys reported by verifiers.
const (
	SignalClosureRisk     = "closure_risk"
	SignalChaosRisk       = "chaos_risk"
	SignalFragility       = "fragility_score"
	SignalNovelty         = "novelty_score"
	SignalFactSimilarity  = "fact_similarity"
	SignalSceneSimilarity = "scene_similarity"
	SignalRefsQuality     = "refs_quality"
	SignalSpecificity     = "specificity"
	SignalHardFail        = "hard_fail"
	SignalProgressGate    = "progress_gate"
)

// VerificationResult is one verifier's judgement of one Candidate.
type VerificationResult struct {
	CandidateID string             `json:"candidate_id"`
	VerifierID  string             `json:"verifier_id"`
	Level       Level              `json:"level"`
	Verdict     Verdict            `json:"verdict"`
	Score       float64            `json:"score"`
	Signals     map[string]float64 `json:"signals"`
	ReasonCodes []string           `json:"reason_codes,omitempty"`
	Notes       string             `json:"notes,omitempty"`
}

// AggregateDecision is the aggregator's verdict for one Candidate.
type AggregateDecision struct {
	Verdict     Verdict       `json:"verdict"`
	Score       float64       `json:"score"`
	Reasons     []string      `json:"reasons"`
	LevelCounts map[Level]int `json:"level_counts"`
}

// #endregion verification

// #region controller

// Signals are the run-level measurements the controller and generator read.
type Signals struct {
	AcceptRate      float64 `json:"accept_rate"`
	ForkRate        float64 `json:"fork_rate"`
	Variance        float64 `json:"variance"`
	DebtLevel       float64 `json:"debt_level"`
	DebtTrend       float64 `json:"debt_trend"`
	Novelty         float64 `json:"novelty"`
	Stability       float64 `json:"stability"`
	Stagnation      float64 `json:"stagnation"`
	ClosurePressure float64 `json:"closure_pressure"`
	ChaosPressure   float64 `json:"chaos_pressure"`
	Uncertainty     float64 `json:"uncertainty"`
}

// ControllerState is mutated only by the controller, once per epoch.
type ControllerState struct {
	Difficulty Difficulty `json:"difficulty"`
	Mode       Mode       `json:"mode"`
	Theta      float64    `json:"theta"`
}

// ControllerEpoch is a persisted controller snapshot.
type ControllerEpoch struct {
	Step      int             `json:"step"`
	State     ControllerState `json:"state"`
	Inputs    Signals         `json:"inputs"`
	CreatedAt time.Time       `json:"created_at"`
}

// Continuity is the per-branch running memory fed into projections.
type Continuity struct {
	BranchID   string    `json:"branch_id"`
	Summary    string    `json:"summary"`
	Entities   []string  `json:"entities"`
	Tensions   []string  `json:"tensions"`
	Highlights []string  `json:"highlights"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// #endregion controller
