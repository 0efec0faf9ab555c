package policy

import (
	"fmt"

	"github.com/danielpatrickdp/worldledger/internal/aggregate"
	"github.com/danielpatrickdp/worldledger/internal/controller"
	"github.com/danielpatrickdp/worldledger/internal/facts"
	"github.com/danielpatrickdp/worldledger/internal/invariant"
	"github.com/danielpatrickdp/worldledger/internal/ledger"
	"github.com/danielpatrickdp/worldledger/internal/producer"
	"github.com/danielpatrickdp/worldledger/internal/similarity"
	"github.com/danielpatrickdp/worldledger/internal/stagnation"
	"github.com/danielpatrickdp/worldledger/internal/taskgen"
	"github.com/danielpatrickdp/worldledger/internal/verify"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region policy

// Policy is the complete run configuration document. Each section is the
// config type of the package that consumes it.
type Policy struct {
	Ledger      ledger.Config          `yaml:"ledger"`
	Facts       facts.Rules            `yaml:"facts"`
	Specificity facts.SpecificityRules `yaml:"specificity"`
	Gate        world.GateThresholds   `yaml:"gate"`
	Directives  taskgen.Config         `yaml:"directives"`
	Stagnation  stagnation.Config      `yaml:"stagnation"`
	Controller  controller.Config      `yaml:"controller"`
	Aggregator  aggregate.Config       `yaml:"aggregator"`
	Verifiers   verify.Config          `yaml:"verifiers"`
	Invariants  invariant.Config       `yaml:"invariants"`
	Producers   producer.Config        `yaml:"producers"`
	Similarity  similarity.Config      `yaml:"similarity"`
	// FactWindow is how many recent facts feed the gate and the projection.
	FactWindow int `yaml:"fact_window" validate:"gte=1"`
	// SceneWindow is how many recent scenes the scene-repeat check compares against.
	SceneWindow int `yaml:"scene_window" validate:"gte=1"`
}

// Default returns the built-in policy.
func Default() Policy {
	return Policy{
		Ledger:      ledger.DefaultConfig(),
		Facts:       facts.DefaultRules(),
		Specificity: facts.DefaultSpecificityRules(),
		Gate:        world.DefaultGateThresholds(),
		Directives:  taskgen.DefaultConfig(),
		Stagnation:  stagnation.DefaultConfig(),
		Controller:  controller.DefaultConfig(),
		Aggregator:  aggregate.DefaultConfig(),
		Verifiers:   verify.DefaultConfig(),
		Invariants:  invariant.DefaultConfig(),
		Producers:   producer.DefaultConfig(),
		Similarity:  similarity.DefaultConfig(),
		FactWindow:  8,
		SceneWindow: 5,
	}
}

// #endregion policy

// #region errors

// ConfigError is a malformed policy. It is fatal at startup.
type ConfigError struct {
	Source string
	Field  string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("policy %s: %s: %v", e.Source, e.Field, e.Err)
	}
	return fmt.Sprintf("policy %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// #endregion errors
