package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/worldledger/internal/ledger"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS branches (
	branch_id        TEXT PRIMARY KEY,
	head_state_id    TEXT,
	status           TEXT NOT NULL,
	semantic_debt    REAL NOT NULL,
	uncertainty      REAL NOT NULL,
	closure_pressure REAL NOT NULL,
	chaos_pressure   REAL NOT NULL,
	created_at       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS challenges (
	challenge_id    TEXT PRIMARY KEY,
	branch_id       TEXT NOT NULL,
	parent_state_id TEXT NOT NULL,
	directive       TEXT NOT NULL,
	difficulty_json TEXT NOT NULL,
	projection      TEXT NOT NULL,
	policy_json     TEXT NOT NULL,
	is_escape       INTEGER NOT NULL DEFAULT 0,
	stagnation      INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	FOREIGN KEY (branch_id) REFERENCES branches(branch_id)
);

CREATE TABLE IF NOT EXISTS states (
	state_id        TEXT PRIMARY KEY,
	branch_id       TEXT NOT NULL,
	parent_id       TEXT,
	height          INTEGER NOT NULL,
	artifact        TEXT NOT NULL,
	metadata_json   TEXT NOT NULL,
	challenge_id    TEXT,
	acceptance_json TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	UNIQUE (branch_id, height),
	FOREIGN KEY (branch_id) REFERENCES branches(branch_id),
	FOREIGN KEY (parent_id) REFERENCES states(state_id),
	FOREIGN KEY (challenge_id) REFERENCES challenges(challenge_id)
);

CREATE TABLE IF NOT EXISTS candidates (
	candidate_id  TEXT PRIMARY KEY,
	challenge_id  TEXT NOT NULL,
	producer_id   TEXT NOT NULL,
	artifact      TEXT NOT NULL,
	metadata_json TEXT NOT NULL,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (challenge_id) REFERENCES challenges(challenge_id)
);

CREATE TABLE IF NOT EXISTS verification_results (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	candidate_id  TEXT NOT NULL,
	verifier_id   TEXT NOT NULL,
	level         TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	score         REAL NOT NULL,
	signals_json  TEXT NOT NULL,
	reason_codes  TEXT,
	notes         TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (candidate_id) REFERENCES candidates(candidate_id)
);

CREATE TABLE IF NOT EXISTS controller_epochs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	step        INTEGER NOT NULL,
	state_json  TEXT NOT NULL,
	inputs_json TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS branch_facts (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	branch_id         TEXT NOT NULL,
	fact_id           TEXT NOT NULL,
	fact_type         TEXT NOT NULL,
	canonical         TEXT NOT NULL,
	fact_json         TEXT NOT NULL,
	introduced_height INTEGER NOT NULL,
	state_id          TEXT,
	created_at        TEXT NOT NULL,
	UNIQUE (branch_id, fact_id),
	FOREIGN KEY (branch_id) REFERENCES branches(branch_id)
);

CREATE TABLE IF NOT EXISTS continuity (
	branch_id       TEXT PRIMARY KEY,
	summary         TEXT NOT NULL,
	entities_json   TEXT NOT NULL,
	tensions_json   TEXT NOT NULL,
	highlights_json TEXT NOT NULL,
	updated_at      TEXT NOT NULL,
	FOREIGN KEY (branch_id) REFERENCES branches(branch_id)
);

CREATE TABLE IF NOT EXISTS step_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	step         INTEGER NOT NULL,
	branch_id    TEXT NOT NULL,
	challenge_id TEXT,
	decision     TEXT NOT NULL,
	record_json  TEXT NOT NULL,
	created_at   TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct

// Store is the SQLite implementation of ledger.Repository.
type Store struct {
	db *sql.DB
}

var _ ledger.Repository = (*Store)(nil)

// #endregion store-struct

// #region constructor

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps the foreign_keys pragma in force and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion constructor

// #region branches

const branchColumns = `branch_id, head_state_id, status, semantic_debt, uncertainty, closure_pressure, chaos_pressure, created_at`

// CountBranches returns the number of branches of any status.
func (s *Store) CountBranches(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM branches`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count branches: %w", err)
	}
	return n, nil
}

// GetBranch reads one branch. A missing branch wraps ledger.ErrNotFound.
func (s *Store) GetBranch(ctx context.Context, id string) (world.Branch, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE branch_id = ?`, id)
	b, err := scanBranch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return world.Branch{}, fmt.Errorf("get branch %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return world.Branch{}, fmt.Errorf("get branch %s: %w", id, err)
	}
	return b, nil
}

// ListBranches returns branches in creation order, filtered by status
// unless status is empty.
func (s *Store) ListBranches(ctx context.Context, status world.BranchStatus) ([]world.Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY rowid`, args...)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", err)
	}
	defer rows.Close()

	var out []world.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan branch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpdateBranchStatus sets a branch's status.
func (s *Store) UpdateBranchStatus(ctx context.Context, id string, status world.BranchStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE branches SET status = ? WHERE branch_id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("update branch status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update branch %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func scanBranch(row interface{ Scan(...any) error }) (world.Branch, error) {
	var b world.Branch
	var head sql.NullString
	var status, created string
	if err := row.Scan(&b.ID, &head, &status, &b.SemanticDebt, &b.Uncertainty, &b.ClosurePressure, &b.ChaosPressure, &created); err != nil {
		return world.Branch{}, err
	}
	b.HeadStateID = head.String
	b.Status = world.BranchStatus(status)
	b.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return b, nil
}

// #endregion branches

// #region states

const stateColumns = `state_id, branch_id, parent_id, height, artifact, metadata_json, challenge_id, acceptance_json, created_at`

// GetState reads one state. A missing state wraps ledger.ErrNotFound.
func (s *Store) GetState(ctx context.Context, id string) (world.State, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+stateColumns+` FROM states WHERE state_id = ?`, id)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return world.State{}, fmt.Errorf("get state %s: %w", id, ledger.ErrNotFound)
	}
	if err != nil {
		return world.State{}, fmt.Errorf("get state %s: %w", id, err)
	}
	return st, nil
}

// ListStates returns a branch's states ordered by height; limit > 0 keeps
// only the highest limit states.
func (s *Store) ListStates(ctx context.Context, branchID string, limit int) ([]world.State, error) {
	query := `SELECT ` + stateColumns + ` FROM states WHERE branch_id = ? ORDER BY height DESC`
	args := []any{branchID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var out []world.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func scanState(row interface{ Scan(...any) error }) (world.State, error) {
	var st world.State
	var parent, challenge sql.NullString
	var metaJSON, accJSON, created string
	if err := row.Scan(&st.ID, &st.BranchID, &parent, &st.Height, &st.Artifact, &metaJSON, &challenge, &accJSON, &created); err != nil {
		return world.State{}, err
	}
	st.ParentID = parent.String
	st.ChallengeID = challenge.String
	if err := json.Unmarshal([]byte(metaJSON), &st.Metadata); err != nil {
		return world.State{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(accJSON), &st.Acceptance); err != nil {
		return world.State{}, fmt.Errorf("unmarshal acceptance: %w", err)
	}
	st.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return st, nil
}

// #endregion states

// #region commit

// Commit writes a state, moves its branch head, records facts and the
// continuity memory in one transaction. It returns rec.Facts under the ids
// they were stored with; the state's metadata is written with those ids.
func (s *Store) Commit(ctx context.Context, rec ledger.CommitRecord) ([]world.Fact, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	b := rec.Branch
	if rec.NewBranch {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO branches (`+branchColumns+`) VALUES (?, NULL, ?, ?, ?, ?, ?, ?)`,
			b.ID, string(b.Status), b.SemanticDebt, b.Uncertainty, b.ClosurePressure, b.ChaosPressure,
			b.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return nil, fmt.Errorf("insert branch: %w", err)
		}
	}

	st := rec.State
	now := st.CreatedAt.Format(time.RFC3339Nano)
	if rec.CopyFactsFrom != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO branch_facts (branch_id, fact_id, fact_type, canonical, fact_json, introduced_height, state_id, created_at)
			 SELECT ?, fact_id, fact_type, canonical, fact_json, introduced_height, state_id, ?
			 FROM branch_facts WHERE branch_id = ? AND introduced_height <= ? ORDER BY id`,
			b.ID, now, rec.CopyFactsFrom, rec.CopyMaxHeight,
		)
		if err != nil {
			return nil, fmt.Errorf("copy facts: %w", err)
		}
	}
	stored := make([]world.Fact, 0, len(rec.Facts))
	for _, f := range rec.Facts {
		id, err := insertFact(ctx, tx, b.ID, st.ID, f, now)
		if err != nil {
			return nil, err
		}
		if id != "" {
			f.ID = id
		}
		stored = append(stored, f)
	}
	st.Metadata = st.Metadata.WithStoredFacts(stored)

	metaJSON, err := json.Marshal(st.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	accJSON, err := json.Marshal(st.Acceptance)
	if err != nil {
		return nil, fmt.Errorf("marshal acceptance: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO states (`+stateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.BranchID, nullIfEmpty(st.ParentID), st.Height, st.Artifact, string(metaJSON),
		nullIfEmpty(st.ChallengeID), string(accJSON), st.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert state: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE branches SET head_state_id = ?, status = ?, semantic_debt = ?, uncertainty = ?,
		 closure_pressure = ?, chaos_pressure = ? WHERE branch_id = ?`,
		st.ID, string(b.Status), b.SemanticDebt, b.Uncertainty, b.ClosurePressure, b.ChaosPressure, b.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update branch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("update branch %s: %w", b.ID, ledger.ErrNotFound)
	}

	if rec.Continuity.BranchID != "" {
		if err := upsertContinuity(ctx, tx, rec.Continuity); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

// #endregion commit

// #region helpers

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
