package graph

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS fact_refs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    branch_id   TEXT NOT NULL,
    source_id   TEXT NOT NULL,
    target_id   TEXT NOT NULL,
    weight      REAL NOT NULL,
    height      INTEGER NOT NULL,
    created_at  TEXT NOT NULL,
    UNIQUE(branch_id, source_id, target_id)
);
CREATE INDEX IF NOT EXISTS idx_fact_refs_source ON fact_refs(branch_id, source_id);
CREATE INDEX IF NOT EXISTS idx_fact_refs_target ON fact_refs(branch_id, target_id);
`

// #endregion schema

// #region types

// Edge links a committed fact to one anchor it references. Weight is the
// share of the source's references the edge carries.
type Edge struct {
	BranchID string
	SourceID string
	TargetID string
	Weight   float64
	Height   int
}

// WalkResult holds the anchors reached from a fact, in visit order.
type WalkResult struct {
	IDs    []string  // start fact, then anchors nearest first
	Scores []float64 // product of edge weights along the path
	Depths []int
}

// Depth is the longest reference chain the walk reached.
func (w WalkResult) Depth() int {
	d := 0
	for _, x := range w.Depths {
		d = max(d, x)
	}
	return d
}

// RefGraph indexes which anchors each committed fact builds on. It shares
// the ledger database and is written after every commit.
type RefGraph struct {
	db *sql.DB
}

// #endregion types

// #region constructor
// NewRefGraph creates the fact_refs table if needed.
func NewRefGraph(db *sql.DB) (*RefGraph, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	return &RefGraph{db: db}, nil
}

// #endregion constructor

// #region record
// Record adds one edge per reference of every fact. Recording the same
// fact twice on a branch is a no-op.
func (g *RefGraph) Record(ctx context.Context, branchID string, facts []world.Fact) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, f := range facts {
		if len(f.References) == 0 {
			continue
		}
		weight := 1 / float64(len(f.References))
		for _, ref := range f.References {
			_, err := g.db.ExecContext(ctx,
				`INSERT OR IGNORE INTO fact_refs (branch_id, source_id, target_id, weight, height, created_at)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				branchID, f.ID, ref, weight, f.IntroducedHeight, now,
			)
			if err != nil {
				return fmt.Errorf("record ref %s -> %s: %w", f.ID, ref, err)
			}
		}
	}
	return nil
}

// #endregion record

// #region references
// References returns the edges out of factID, heaviest first.
func (g *RefGraph) References(ctx context.Context, branchID, factID string) ([]Edge, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT branch_id, source_id, target_id, weight, height
		 FROM fact_refs
		 WHERE branch_id = ? AND source_id = ?
		 ORDER BY weight DESC, target_id`,
		branchID, factID,
	)
	if err != nil {
		return nil, fmt.Errorf("references of %s: %w", factID, err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.BranchID, &e.SourceID, &e.TargetID, &e.Weight, &e.Height); err != nil {
			return nil, fmt.Errorf("scan ref: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// Citations counts how many committed facts reference each anchor.
func (g *RefGraph) Citations(ctx context.Context, branchID string) (map[string]int, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT target_id, COUNT(*) FROM fact_refs WHERE branch_id = ? GROUP BY target_id`, branchID,
	)
	if err != nil {
		return nil, fmt.Errorf("citations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan citation: %w", err)
		}
		out[id] = n
	}
	return out, rows.Err()
}

// #endregion references

// #region walk
// Walk performs a BFS from factID through its references, up to maxDepth
// hops and maxNodes total. Returns nodes in visit order with cumulative
// scores; the entry itself is depth 0 with score 1.
func (g *RefGraph) Walk(ctx context.Context, branchID, factID string, maxDepth, maxNodes int) (WalkResult, error) {
	if maxDepth <= 0 {
		maxDepth = world.MaxDependencyDepth
	}
	if maxNodes <= 0 {
		maxNodes = 32
	}

	result := WalkResult{
		IDs:    []string{factID},
		Scores: []float64{1.0},
		Depths: []int{0},
	}
	visited := map[string]bool{factID: true}

	type queueItem struct {
		id    string
		depth int
		score float64
	}
	queue := []queueItem{{factID, 0, 1.0}}

	for len(queue) > 0 && len(result.IDs) < maxNodes {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}

		edges, err := g.References(ctx, branchID, current.id)
		if err != nil {
			return result, fmt.Errorf("walk: %w", err)
		}
		for _, edge := range edges {
			if len(result.IDs) >= maxNodes {
				break
			}
			if visited[edge.TargetID] {
				continue
			}
			visited[edge.TargetID] = true
			score := current.score * edge.Weight
			result.IDs = append(result.IDs, edge.TargetID)
			result.Scores = append(result.Scores, score)
			result.Depths = append(result.Depths, current.depth+1)
			queue = append(queue, queueItem{edge.TargetID, current.depth + 1, score})
		}
	}
	return result, nil
}

// #endregion walk
