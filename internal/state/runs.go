package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danielpatrickdp/worldledger/internal/ledger"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region challenges

// InsertChallenge records the challenge issued for one step.
func (s *Store) InsertChallenge(ctx context.Context, ch world.Challenge) error {
	diff, err := json.Marshal(ch.Difficulty)
	if err != nil {
		return fmt.Errorf("marshal difficulty: %w", err)
	}
	policy, err := json.Marshal(ch.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO challenges (challenge_id, branch_id, parent_state_id, directive, difficulty_json, projection, policy_json, is_escape, stagnation, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.ID, ch.BranchID, ch.ParentStateID, string(ch.Directive), string(diff), ch.Projection, string(policy),
		boolInt(ch.Escape), boolInt(ch.Stagnation), ch.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// CountChallenges returns the number of issued challenges.
func (s *Store) CountChallenges(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM challenges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count challenges: %w", err)
	}
	return n, nil
}

// GetChallenge reads one challenge. A missing row wraps ledger.ErrNotFound.
func (s *Store) GetChallenge(ctx context.Context, id string) (world.Challenge, error) {
	var ch world.Challenge
	var directive, diff, policy, created string
	var escape, stagnation int
	err := s.db.QueryRowContext(ctx,
		`SELECT challenge_id, branch_id, parent_state_id, directive, difficulty_json, projection, policy_json, is_escape, stagnation, created_at
		 FROM challenges WHERE challenge_id = ?`, id,
	).Scan(&ch.ID, &ch.BranchID, &ch.ParentStateID, &directive, &diff, &ch.Projection, &policy, &escape, &stagnation, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Challenge{}, fmt.Errorf("get challenge %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return world.Challenge{}, fmt.Errorf("get challenge %s: %w", id, err)
	}
	ch.Directive = world.Directive(directive)
	ch.Escape = escape != 0
	ch.Stagnation = stagnation != 0
	if err := json.Unmarshal([]byte(diff), &ch.Difficulty); err != nil {
		return world.Challenge{}, fmt.Errorf("unmarshal difficulty: %w", err)
	}
	if err := json.Unmarshal([]byte(policy), &ch.Policy); err != nil {
		return world.Challenge{}, fmt.Errorf("unmarshal policy: %w", err)
	}
	ch.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return ch, nil
}

// ListChallengeIDs returns challenge ids in issue order.
func (s *Store) ListChallengeIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT challenge_id FROM challenges ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan challenge id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// #endregion challenges

// #region candidates

// InsertCandidate records a produced candidate.
func (s *Store) InsertCandidate(ctx context.Context, cand world.Candidate) error {
	meta, err := json.Marshal(cand.Metadata)
	if err != nil {
		return fmt.Errorf("marshal candidate metadata: %w", err)
	}
	status := cand.Status
	if status == "" {
		status = world.CandidatePending
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO candidates (candidate_id, challenge_id, producer_id, artifact, metadata_json, source, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		cand.ID, cand.ChallengeID, cand.ProducerID, cand.Artifact, string(meta), cand.Source, string(status),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	return nil
}

// UpdateCandidateStatus marks a candidate accepted or rejected.
func (s *Store) UpdateCandidateStatus(ctx context.Context, id string, status world.CandidateStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE candidates SET status = ? WHERE candidate_id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update candidate status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update candidate %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

// ListCandidates returns the candidates produced for a challenge.
func (s *Store) ListCandidates(ctx context.Context, challengeID string) ([]world.Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT candidate_id, challenge_id, producer_id, artifact, metadata_json, source, status
		 FROM candidates WHERE challenge_id = ? ORDER BY rowid`, challengeID,
	)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var out []world.Candidate
	for rows.Next() {
		var c world.Candidate
		var meta, status string
		if err := rows.Scan(&c.ID, &c.ChallengeID, &c.ProducerID, &c.Artifact, &meta, &c.Source, &status); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &c.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal candidate metadata: %w", err)
		}
		c.Status = world.CandidateStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// #endregion candidates

// #region results

// InsertResults records every verifier result of one candidate in one transaction.
func (s *Store) InsertResults(ctx context.Context, results []world.VerificationResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range results {
		signals, err := json.Marshal(r.Signals)
		if err != nil {
			return fmt.Errorf("marshal signals: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO verification_results (candidate_id, verifier_id, level, verdict, score, signals_json, reason_codes, notes, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.CandidateID, r.VerifierID, string(r.Level), string(r.Verdict), r.Score, string(signals),
			nullIfEmpty(strings.Join(r.ReasonCodes, ",")), nullIfEmpty(r.Notes), now,
		)
		if err != nil {
			return fmt.Errorf("insert result %s/%s: %w", r.CandidateID, r.VerifierID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListResults returns the verifier results of one candidate in insert order.
func (s *Store) ListResults(ctx context.Context, candidateID string) ([]world.VerificationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT candidate_id, verifier_id, level, verdict, score, signals_json, reason_codes, notes
		 FROM verification_results WHERE candidate_id = ? ORDER BY id`, candidateID,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []world.VerificationResult
	for rows.Next() {
		var r world.VerificationResult
		var level, verdict, signals string
		var codes, notes sql.NullString
		if err := rows.Scan(&r.CandidateID, &r.VerifierID, &level, &verdict, &r.Score, &signals, &codes, &notes); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Level = world.Level(level)
		r.Verdict = world.Verdict(verdict)
		if err := json.Unmarshal([]byte(signals), &r.Signals); err != nil {
			return nil, fmt.Errorf("unmarshal signals: %w", err)
		}
		if codes.Valid && codes.String != "" {
			r.ReasonCodes = strings.Split(codes.String, ",")
		}
		r.Notes = notes.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// #endregion results

// #region epochs

// InsertEpoch appends a controller snapshot.
func (s *Store) InsertEpoch(ctx context.Context, e world.ControllerEpoch) error {
	state, err := json.Marshal(e.State)
	if err != nil {
		return fmt.Errorf("marshal controller state: %w", err)
	}
	inputs, err := json.Marshal(e.Inputs)
	if err != nil {
		return fmt.Errorf("marshal controller inputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO controller_epochs (step, state_json, inputs_json, created_at) VALUES (?, ?, ?, ?)`,
		e.Step, string(state), string(inputs), e.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert epoch: %w", err)
	}
	return nil
}

// LatestEpoch returns the most recent controller snapshot.
func (s *Store) LatestEpoch(ctx context.Context) (world.ControllerEpoch, bool, error) {
	epochs, err := s.queryEpochs(ctx, `ORDER BY id DESC LIMIT 1`)
	if err != nil {
		return world.ControllerEpoch{}, false, err
	}
	if len(epochs) == 0 {
		return world.ControllerEpoch{}, false, nil
	}
	return epochs[0], true, nil
}

// ListEpochs returns every controller snapshot in order.
func (s *Store) ListEpochs(ctx context.Context) ([]world.ControllerEpoch, error) {
	return s.queryEpochs(ctx, `ORDER BY id`)
}

func (s *Store) queryEpochs(ctx context.Context, tail string) ([]world.ControllerEpoch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step, state_json, inputs_json, created_at FROM controller_epochs `+tail)
	if err != nil {
		return nil, fmt.Errorf("query epochs: %w", err)
	}
	defer rows.Close()

	var out []world.ControllerEpoch
	for rows.Next() {
		var e world.ControllerEpoch
		var state, inputs, created string
		if err := rows.Scan(&e.Step, &state, &inputs, &created); err != nil {
			return nil, fmt.Errorf("scan epoch: %w", err)
		}
		if err := json.Unmarshal([]byte(state), &e.State); err != nil {
			return nil, fmt.Errorf("unmarshal controller state: %w", err)
		}
		if err := json.Unmarshal([]byte(inputs), &e.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal controller inputs: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion epochs
