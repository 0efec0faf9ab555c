package logging

import (
	"database/sql"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE step_log (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		step         INTEGER NOT NULL,
		branch_id    TEXT NOT NULL,
		challenge_id TEXT,
		decision     TEXT NOT NULL,
		record_json  TEXT NOT NULL,
		created_at   TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-step-tests
func TestLogStep_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	rec := StepRecord{
		Step:        4,
		BranchID:    "branch-main",
		ChallengeID: "ch-4",
		Directive:   world.DirectiveInstitutionalAction,
		Difficulty:  world.DefaultDifficulty(),
		Mode:        world.ModeDiversify,
		Theta:       0.62,
		Candidates: []CandidateTrace{
			{CandidateID: "c1", ProducerID: "producer-a", Verdict: world.VerdictReject, GateCodes: []string{"SCENE_REPEAT"}, HardFail: true},
			{CandidateID: "c2", ProducerID: "producer-b", Verdict: world.VerdictAccept, Score: 0.71, ProgressGate: true},
		},
		Decision:   "commit",
		AcceptedID: "c2",
		StateID:    "state-ch-4",
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogStep(db, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decision, challenge string
	db.QueryRow("SELECT decision, challenge_id FROM step_log").Scan(&decision, &challenge)
	if decision != "commit" || challenge != "ch-4" {
		t.Errorf("unexpected row: decision=%q challenge=%q", decision, challenge)
	}

	rows, err := RecentSteps(db, 0)
	if err != nil {
		t.Fatalf("RecentSteps: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	got := rows[0].Record
	if len(got.Candidates) != 2 || got.Candidates[0].GateCodes[0] != "SCENE_REPEAT" || got.AcceptedID != "c2" {
		t.Errorf("record not round-tripped: %+v", got)
	}
}

func TestLogStep_DefaultsCreatedAtAndNullChallenge(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	if err := LogStep(db, StepRecord{Step: 1, BranchID: "b", Decision: "reject"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var challenge sql.NullString
	var created string
	db.QueryRow("SELECT challenge_id, created_at FROM step_log").Scan(&challenge, &created)
	if challenge.Valid {
		t.Errorf("expected NULL challenge_id, got %q", challenge.String)
	}
	if _, err := time.Parse(time.RFC3339Nano, created); err != nil {
		t.Errorf("created_at not RFC3339Nano: %q", created)
	}
}

func TestRecentSteps_LimitKeepsNewestOldestFirst(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	for i := 1; i <= 5; i++ {
		if err := LogStep(db, StepRecord{Step: i, BranchID: "b", Decision: "reject"}); err != nil {
			t.Fatalf("LogStep %d: %v", i, err)
		}
	}
	rows, err := RecentSteps(db, 2)
	if err != nil {
		t.Fatalf("RecentSteps: %v", err)
	}
	if len(rows) != 2 || rows[0].Record.Step != 4 || rows[1].Record.Step != 5 {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}

func TestLogStep_ClosedDB(t *testing.T) {
	db := setupDB(t)
	db.Close()

	if err := LogStep(db, StepRecord{Step: 1, BranchID: "b", Decision: "reject"}); err == nil {
		t.Fatal("expected error on closed db")
	}
	if _, err := RecentSteps(db, 1); err == nil {
		t.Fatal("expected error on closed db")
	}
}

func TestLogStep_MissingTable(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := LogStep(db, StepRecord{Step: 1, BranchID: "b", Decision: "reject"}); err == nil {
		t.Fatal("expected error when step_log is missing")
	}
}

// #endregion log-step-tests

// #region logger-tests
func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		l, err := New(level)
		if err != nil {
			t.Fatalf("New(%q): %v", level, err)
		}
		if !l.Core().Enabled(mustLevel(t, level)) {
			t.Errorf("logger for %q does not enable its own level", level)
		}
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected a no-op logger")
	}
}

// #endregion logger-tests

func mustLevel(t *testing.T, s string) zapcore.Level {
	t.Helper()
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		t.Fatalf("ParseLevel: %v", err)
	}
	return lvl
}
