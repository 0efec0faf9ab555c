package graph

import (
	"context"
	"database/sql"
	"math"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

func setupTestGraph(t *testing.T) *RefGraph {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	g, err := NewRefGraph(db)
	if err != nil {
		t.Fatalf("new ref graph: %v", err)
	}
	return g
}

func fact(id string, height int, refs ...string) world.Fact {
	return world.Fact{ID: id, IntroducedHeight: height, References: refs}
}

// #region test-record
func TestRecord(t *testing.T) {
	ctx := context.Background()
	g := setupTestGraph(t)

	if err := g.Record(ctx, "branch-main", []world.Fact{fact("F2", 2, "F1", "F0")}); err != nil {
		t.Fatalf("record: %v", err)
	}
	edges, err := g.References(ctx, "branch-main", "F2")
	if err != nil {
		t.Fatalf("references: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges, got %d", len(edges))
	}
	for _, e := range edges {
		if math.Abs(e.Weight-0.5) > 1e-9 {
			t.Errorf("edge %s -> %s: weight %.3f, want 0.5", e.SourceID, e.TargetID, e.Weight)
		}
		if e.Height != 2 {
			t.Errorf("edge height %d, want 2", e.Height)
		}
	}

	// Re-recording is ignored.
	if err := g.Record(ctx, "branch-main", []world.Fact{fact("F2", 2, "F1", "F0")}); err != nil {
		t.Fatalf("re-record: %v", err)
	}
	edges, _ = g.References(ctx, "branch-main", "F2")
	if len(edges) != 2 {
		t.Fatalf("expected 2 edges after re-record, got %d", len(edges))
	}

	// Branches are independent.
	other, _ := g.References(ctx, "branch-fork-1", "F2")
	if len(other) != 0 {
		t.Errorf("expected no edges on another branch, got %d", len(other))
	}
}

// #endregion test-record

// #region test-citations
func TestCitations(t *testing.T) {
	ctx := context.Background()
	g := setupTestGraph(t)
	facts := []world.Fact{
		fact("F0", 0),
		fact("F1", 1, "F0"),
		fact("F2", 2, "F0", "F1"),
	}
	if err := g.Record(ctx, "b", facts); err != nil {
		t.Fatalf("record: %v", err)
	}
	cites, err := g.Citations(ctx, "b")
	if err != nil {
		t.Fatalf("citations: %v", err)
	}
	if cites["F0"] != 2 || cites["F1"] != 1 || cites["F2"] != 0 {
		t.Errorf("unexpected citations: %v", cites)
	}
}

// #endregion test-citations

// #region test-walk
func TestWalk_Chain(t *testing.T) {
	ctx := context.Background()
	g := setupTestGraph(t)
	facts := []world.Fact{
		fact("F1", 1, "F0"),
		fact("F2", 2, "F1"),
		fact("F3", 3, "F2", "F0"),
	}
	if err := g.Record(ctx, "b", facts); err != nil {
		t.Fatalf("record: %v", err)
	}

	res, err := g.Walk(ctx, "b", "F3", 0, 0)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(res.IDs) != 4 {
		t.Fatalf("expected 4 nodes, got %v", res.IDs)
	}
	if res.IDs[0] != "F3" || res.Scores[0] != 1.0 {
		t.Errorf("entry should be first with score 1, got %s %.2f", res.IDs[0], res.Scores[0])
	}
	// F0 is reached directly, so it is not revisited through F1.
	if got := res.Depth(); got != 2 {
		t.Errorf("expected depth 2, got %d (ids %v depths %v)", got, res.IDs, res.Depths)
	}
	for i := 1; i < len(res.Scores); i++ {
		if res.Scores[i] > 0.5+1e-9 {
			t.Errorf("node %s: score %.3f should be at most 0.5", res.IDs[i], res.Scores[i])
		}
	}
}

func TestWalk_Limits(t *testing.T) {
	ctx := context.Background()
	g := setupTestGraph(t)
	facts := []world.Fact{
		fact("F1", 1, "F0"),
		fact("F2", 2, "F1"),
		fact("F3", 3, "F2"),
	}
	if err := g.Record(ctx, "b", facts); err != nil {
		t.Fatalf("record: %v", err)
	}

	res, err := g.Walk(ctx, "b", "F3", 1, 0)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(res.IDs) != 2 || res.Depth() != 1 {
		t.Errorf("maxDepth=1: got ids %v", res.IDs)
	}

	res, err = g.Walk(ctx, "b", "F3", 0, 3)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(res.IDs) != 3 {
		t.Errorf("maxNodes=3: got ids %v", res.IDs)
	}
}

func TestWalk_UnknownFact(t *testing.T) {
	g := setupTestGraph(t)
	res, err := g.Walk(context.Background(), "b", "F9", 0, 0)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(res.IDs) != 1 || res.Depth() != 0 {
		t.Errorf("expected only the entry, got %v", res.IDs)
	}
}

// #endregion test-walk
