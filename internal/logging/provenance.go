package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// #region log-step
// LogStep writes a step record to the step_log table.
func LogStep(db *sql.DB, rec StepRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal step record: %w", err)
	}

	_, err = db.Exec(
		`INSERT INTO step_log (step, branch_id, challenge_id, decision, record_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Step,
		rec.BranchID,
		nullIfEmpty(rec.ChallengeID),
		rec.Decision,
		string(body),
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log step: %w", err)
	}
	return nil
}

// #endregion log-step

// #region read-steps
// RecentSteps returns the last limit step records, oldest first. limit <= 0 returns all.
func RecentSteps(db *sql.DB, limit int) ([]StepLogRow, error) {
	query := `SELECT id, record_json FROM step_log ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var out []StepLogRow
	for rows.Next() {
		var row StepLogRow
		var body string
		if err := rows.Scan(&row.ID, &body); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(body), &row.Record); err != nil {
			return nil, fmt.Errorf("unmarshal step %d: %w", row.ID, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// #endregion read-steps

// #region helpers
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
