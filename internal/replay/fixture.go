package replay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/worldledger/internal/logging"
	"github.com/danielpatrickdp/worldledger/internal/policy"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region fixture-io

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// WriteFixture writes f as indented JSON.
func WriteFixture(path string, f *Fixture) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fixture: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write fixture %s: %w", path, err)
	}
	return nil
}

// ResolvePolicy merges the fixture's policy document over the defaults.
func (f *Fixture) ResolvePolicy(source string) (policy.Policy, error) {
	if len(f.Policy) == 0 {
		return policy.Load("")
	}
	doc, err := json.Marshal(f.Policy)
	if err != nil {
		return policy.Policy{}, &policy.ConfigError{Source: source, Err: err}
	}
	return policy.Parse(doc, source)
}

// #endregion fixture-io

// #region export

// Source is the recorded run an export reads from.
type Source interface {
	GetChallenge(ctx context.Context, id string) (world.Challenge, error)
	ListCandidates(ctx context.Context, challengeID string) ([]world.Candidate, error)
	DB() *sql.DB
}

// Export builds a fixture from the last limit steps of the step log
// (all when limit <= 0), with p as the policy snapshot.
func Export(ctx context.Context, src Source, p policy.Policy, description string, limit int) (*Fixture, error) {
	doc, err := snapshot(p)
	if err != nil {
		return nil, err
	}
	rows, err := logging.RecentSteps(src.DB(), limit)
	if err != nil {
		return nil, err
	}

	f := &Fixture{Description: description, Policy: doc, Steps: make([]FixtureStep, 0, len(rows))}
	for _, row := range rows {
		rec := row.Record
		ch, err := src.GetChallenge(ctx, rec.ChallengeID)
		if err != nil {
			return nil, err
		}
		cands, err := src.ListCandidates(ctx, rec.ChallengeID)
		if err != nil {
			return nil, err
		}
		step := FixtureStep{
			Step:       rec.Step,
			Challenge:  ch,
			Threshold:  rec.Theta,
			Candidates: cands,
			Expected:   make([]Expectation, 0, len(rec.Candidates)),
		}
		for _, tr := range rec.Candidates {
			if tr.Threshold > 0 {
				step.Threshold = tr.Threshold
			}
			step.Expected = append(step.Expected, Expectation{
				CandidateID: tr.CandidateID,
				Verdict:     tr.Verdict,
				Score:       tr.Score,
				HardFail:    tr.HardFail,
				GateCodes:   tr.GateCodes,
			})
		}
		f.Steps = append(f.Steps, step)
	}
	return f, nil
}

func snapshot(p policy.Policy) (map[string]any, error) {
	raw, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode policy: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	return doc, nil
}

// #endregion export
