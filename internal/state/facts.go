package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region fact-ledger

// insertFact appends f to a branch's fact ledger and returns the id it is
// stored under. The same id with the same canonical content is a no-op; a
// different content takes the first free "<ID>-n" suffix.
func insertFact(ctx context.Context, tx *sql.Tx, branchID, stateID string, f world.Fact, now string) (string, error) {
	if f.ID == "" {
		return "", nil
	}
	canonical := f.Canonical()
	base := f.ID
	for n := 1; ; n++ {
		id := base
		if n > 1 {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT canonical FROM branch_facts WHERE branch_id = ? AND fact_id = ?`, branchID, id,
		).Scan(&existing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			f.ID = id
			body, err := json.Marshal(f)
			if err != nil {
				return "", fmt.Errorf("marshal fact: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`INSERT INTO branch_facts (branch_id, fact_id, fact_type, canonical, fact_json, introduced_height, state_id, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				branchID, id, string(f.Type), canonical, string(body), f.IntroducedHeight, nullIfEmpty(stateID), now,
			)
			if err != nil {
				return "", fmt.Errorf("insert fact %s: %w", id, err)
			}
			return id, nil
		case err != nil:
			return "", fmt.Errorf("lookup fact %s: %w", id, err)
		case existing == canonical:
			return id, nil
		}
	}
}

// RecentFacts returns the last limit facts of a branch, oldest first.
func (s *Store) RecentFacts(ctx context.Context, branchID string, limit int) ([]world.Fact, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact_json FROM branch_facts WHERE branch_id = ? ORDER BY id DESC LIMIT ?`, branchID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent facts: %w", err)
	}
	out, err := scanFacts(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ActiveFacts returns every anchor of a branch in commit order. Ids are
// unique per branch, so the view is already deduplicated.
func (s *Store) ActiveFacts(ctx context.Context, branchID string) ([]world.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fact_json FROM branch_facts WHERE branch_id = ? ORDER BY id`, branchID,
	)
	if err != nil {
		return nil, fmt.Errorf("active facts: %w", err)
	}
	return scanFacts(rows)
}

func scanFacts(rows *sql.Rows) ([]world.Fact, error) {
	defer rows.Close()
	var out []world.Fact
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		var f world.Fact
		if err := json.Unmarshal([]byte(body), &f); err != nil {
			return nil, fmt.Errorf("unmarshal fact: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// #endregion fact-ledger

// #region continuity

func upsertContinuity(ctx context.Context, tx *sql.Tx, c world.Continuity) error {
	entities, err := json.Marshal(nonNil(c.Entities))
	if err != nil {
		return fmt.Errorf("marshal entities: %w", err)
	}
	tensions, err := json.Marshal(nonNil(c.Tensions))
	if err != nil {
		return fmt.Errorf("marshal tensions: %w", err)
	}
	highlights, err := json.Marshal(nonNil(c.Highlights))
	if err != nil {
		return fmt.Errorf("marshal highlights: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO continuity (branch_id, summary, entities_json, tensions_json, highlights_json, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(branch_id) DO UPDATE SET
		   summary = excluded.summary,
		   entities_json = excluded.entities_json,
		   tensions_json = excluded.tensions_json,
		   highlights_json = excluded.highlights_json,
		   updated_at = excluded.updated_at`,
		c.BranchID, c.Summary, string(entities), string(tensions), string(highlights), c.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert continuity: %w", err)
	}
	return nil
}

// GetContinuity reads a branch's memory; false when none was stored.
func (s *Store) GetContinuity(ctx context.Context, branchID string) (world.Continuity, bool, error) {
	var c world.Continuity
	var entities, tensions, highlights, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT branch_id, summary, entities_json, tensions_json, highlights_json, updated_at
		 FROM continuity WHERE branch_id = ?`, branchID,
	).Scan(&c.BranchID, &c.Summary, &entities, &tensions, &highlights, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Continuity{}, false, nil
	}
	if err != nil {
		return world.Continuity{}, false, fmt.Errorf("get continuity: %w", err)
	}
	for _, part := range []struct {
		raw string
		dst *[]string
	}{{entities, &c.Entities}, {tensions, &c.Tensions}, {highlights, &c.Highlights}} {
		if err := json.Unmarshal([]byte(part.raw), part.dst); err != nil {
			return world.Continuity{}, false, fmt.Errorf("unmarshal continuity: %w", err)
		}
	}
	c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return c, true, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// #endregion continuity
