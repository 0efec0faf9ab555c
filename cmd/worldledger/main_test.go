package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/worldledger/internal/metrics"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_RunInspectReplay(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "ledger.db")

	out, err := execute(t, "run", "--db", db, "--steps", "6", "--seed", "3", "--quiet", "--json")
	require.NoError(t, err)
	var summary metrics.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 6, summary.Attempted)

	out, err = execute(t, "inspect", "--db", db, "--json")
	require.NoError(t, err)
	var rep inspectReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.NotEmpty(t, rep.Branches)
	assert.Len(t, rep.Branches, summary.Branches)
	assert.NotEmpty(t, rep.Branches[0].States)

	fixture := filepath.Join(dir, "fixture.json")
	_, err = execute(t, "export", "--db", db, "--out", fixture, "--last", "3")
	require.NoError(t, err)

	out, err = execute(t, "replay", "--fixture", fixture)
	require.NoError(t, err, out)
	assert.Contains(t, out, "all recorded verdicts reproduced")

	out, err = execute(t, "replay", "--db", db)
	require.NoError(t, err, out)
}

func TestCLI_RunPrintsSteps(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")
	out, err := execute(t, "run", "--db", db, "--steps", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "summary")
	assert.Contains(t, out, "branch-main")
}

func TestCLI_RunTwiceOnSameDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")
	for i := 0; i < 2; i++ {
		out, err := execute(t, "run", "--db", db, "--steps", "3", "--quiet", "--json")
		require.NoError(t, err, "run %d: %s", i+1, out)
		var summary metrics.Summary
		require.NoError(t, json.Unmarshal([]byte(out), &summary))
		assert.Equal(t, 3, summary.Attempted)
	}
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "inspect", "--db", filepath.Join(dir, "missing.db"))
	assert.Error(t, err)

	_, err = execute(t, "run", "--db", filepath.Join(dir, "a.db"), "--steps", "1", "--backend", "carrier-pigeon")
	assert.ErrorContains(t, err, "unknown backend")

	_, err = execute(t, "run", "--db", filepath.Join(dir, "b.db"), "--policy", filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)

	_, err = execute(t, "export", "--db", filepath.Join(dir, "a.db"))
	assert.ErrorContains(t, err, "--out")
}
