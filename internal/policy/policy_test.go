package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/worldledger/internal/world"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default(), "defaults"))

	p, err := Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), p); diff != "" {
		t.Fatalf("Load(\"\") differs from Default (-want +got):\n%s", diff)
	}
}

func TestParse_EmptyDocumentYieldsDefaults(t *testing.T) {
	p, err := Parse([]byte("{}\n"), "empty.yaml")
	require.NoError(t, err)
	if diff := cmp.Diff(Default(), p, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("empty overlay changed defaults (-want +got):\n%s", diff)
	}
}

func TestParse_OverlayMergesIntoDefaults(t *testing.T) {
	doc := `
aggregator:
  accept_threshold: 0.6
controller:
  epoch: 5
directives:
  max_streak: 3
  families:
    MaintenanceEpoch: upkeep
  pools:
    chaos: [MaintenanceEpoch]
fact_window: 12
`
	p, err := Parse([]byte(doc), "overlay.yaml")
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, 0.6, p.Aggregator.AcceptThreshold)
	assert.Equal(t, def.Aggregator.RejectQuorum, p.Aggregator.RejectQuorum)
	assert.Equal(t, 5, p.Controller.Epoch)
	assert.Equal(t, def.Controller.InitialTheta, p.Controller.InitialTheta)
	assert.Equal(t, 3, p.Directives.MaxStreak)
	assert.Equal(t, 12, p.FactWindow)

	// Mappings merge per key; sequences replace.
	assert.Equal(t, "upkeep", p.Directives.Families[world.DirectiveMaintenanceEpoch])
	assert.Equal(t, "agency", p.Directives.Families[world.DirectiveAgentCommitment])
	assert.Equal(t, []world.Directive{world.DirectiveMaintenanceEpoch}, p.Directives.Pools.Chaos)
	assert.Equal(t, def.Directives.Pools.Closure, p.Directives.Pools.Closure)
}

func TestParse_AcceptsJSON(t *testing.T) {
	p, err := Parse([]byte(`{"aggregator": {"reject_quorum": 1}, "scene_window": 3}`), "policy.json")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Aggregator.RejectQuorum)
	assert.Equal(t, 3, p.SceneWindow)
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{"unknown key", "aggregator:\n  quorum: 3\n", ""},
		{"malformed yaml", "aggregator: [\n", ""},
		{"out of range", "controller:\n  initial_theta: 0.9\n", "controller.initial_theta"},
		{"bad mode", "controller:\n  initial_mode: sideways\n", "controller.initial_mode"},
		{"unknown directive", "directives:\n  pools:\n    chaos: [SummonDragon]\n", "directives.pools.chaos"},
		{"contract type not allowed", "gate:\n  directive_contracts:\n    DelayedEffect: rumor\n", "gate.directive_contracts.DelayedEffect"},
		{"unknown strength key", "producers:\n  base_strength:\n    I9: 0.2\n", "producers.base_strength"},
		{"bad identifier pattern", "facts:\n  artifact_identifier_pattern: '(['\n", "facts.artifact_identifier_pattern"},
		{"quorum above verifier count", "aggregator:\n  reject_quorum: 9\n", "aggregator.reject_quorum"},
		{"missing family", "directives:\n  required_families: [agency, weather]\n", "directives.required_families"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc), "bad.yaml")
			require.Error(t, err)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr), "want *ConfigError, got %T", err)
			assert.Equal(t, "bad.yaml", cfgErr.Source)
			if tc.field != "" {
				assert.Equal(t, tc.field, cfgErr.Field)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fact_window: 4\n"), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, p.FactWindow)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfigError_Message(t *testing.T) {
	err := &ConfigError{Source: "p.yaml", Field: "fact_window", Err: errors.New("too small")}
	assert.Equal(t, "policy p.yaml: fact_window: too small", err.Error())
	err = &ConfigError{Source: "p.yaml", Err: errors.New("boom")}
	assert.Equal(t, "policy p.yaml: boom", err.Error())
}
