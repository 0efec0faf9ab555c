package taskgen

import (
	"math/rand"
	"time"

	"github.com/danielpatrickdp/worldledger/internal/projection"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region generator

// Generator builds Challenges from branch history, signals, and mode.
type Generator struct {
	config Config
}

// New creates a Generator.
func New(config Config) *Generator {
	return &Generator{config: config}
}

// Config returns the generator's configuration.
func (g *Generator) Config() Config {
	return g.config
}

// #endregion generator

// #region pick-directive

// PickDirective chooses the next directive. Overrides replace the pool
// (escape first, then stagnation); otherwise the pool follows mode and
// pressure, narrowed to missing required families. The streak filter runs
// last so no directive exceeds MaxStreak consecutive uses.
func (g *Generator) PickDirective(in PickInput, rng *rand.Rand) Pick {
	var pool []world.Directive
	source := SourceMode
	switch {
	case in.Escape:
		pool, source = g.config.Escape.Directives, SourceEscape
	case in.Stagnation:
		pool, source = g.config.StagnationDirectives, SourceStagnation
	default:
		pool = g.modePool(in.Signals, in.Mode)
		if narrowed := g.requireFamilies(pool, in.Recent); narrowed != nil {
			pool, source = narrowed, SourceFamily
		}
	}

	pool = g.dropStreak(pool, in.Recent)
	return Pick{
		Directive: pool[rng.Intn(len(pool))],
		Source:    source,
		Pool:      pool,
	}
}

func (g *Generator) modePool(s world.Signals, mode world.Mode) []world.Directive {
	p := g.config.Pools
	switch mode {
	case world.ModeMaintenance:
		return p.Maintenance
	case world.ModeDiversify:
		return p.Diversify
	}
	switch {
	case s.ClosurePressure > g.config.Pressure.Closure:
		return p.Closure
	case s.ChaosPressure > g.config.Pressure.Chaos:
		return p.Chaos
	case s.AcceptRate > g.config.Pressure.ConvergenceAccept && s.Uncertainty < g.config.Pressure.ConvergenceUncertainty:
		return p.Convergence
	}
	return p.Default
}

// requireFamilies returns the pool restricted to directives of required
// families absent from the trailing window, or nil when none are missing.
// A history shorter than the window is read whole.
func (g *Generator) requireFamilies(pool, recent []world.Directive) []world.Directive {
	if len(g.config.RequiredFamilies) == 0 || g.config.FamilyWindow <= 0 {
		return nil
	}
	window := recent
	if len(window) > g.config.FamilyWindow {
		window = window[len(window)-g.config.FamilyWindow:]
	}
	present := make(map[string]bool)
	for _, d := range window {
		present[g.config.Families[d]] = true
	}
	missing := make(map[string]bool)
	for _, f := range g.config.RequiredFamilies {
		if !present[f] {
			missing[f] = true
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var narrowed []world.Directive
	for _, d := range pool {
		if missing[g.config.Families[d]] {
			narrowed = append(narrowed, d)
		}
	}
	if len(narrowed) > 0 {
		return narrowed
	}
	for _, d := range world.AllDirectives {
		if missing[g.config.Families[d]] {
			narrowed = append(narrowed, d)
		}
	}
	return narrowed
}

// dropStreak removes the directive that already ran MaxStreak times in a row.
func (g *Generator) dropStreak(pool, recent []world.Directive) []world.Directive {
	n := g.config.MaxStreak
	if n <= 0 || len(recent) < n {
		return pool
	}
	last := recent[len(recent)-1]
	for _, d := range recent[len(recent)-n:] {
		if d != last {
			return pool
		}
	}
	out := without(pool, last)
	if len(out) == 0 {
		out = without(world.AllDirectives, last)
	}
	return out
}

func without(pool []world.Directive, drop world.Directive) []world.Directive {
	out := make([]world.Directive, 0, len(pool))
	for _, d := range pool {
		if d != drop {
			out = append(out, d)
		}
	}
	return out
}

// #endregion pick-directive

// #region difficulty

// BuildDifficulty nudges base by accept rate, pressures, and mode, then clamps.
func (g *Generator) BuildDifficulty(base world.Difficulty, s world.Signals, mode world.Mode) world.Difficulty {
	d := base
	if s.AcceptRate > 0.75 {
		d.DependencyDepth++
	}
	if s.ClosurePressure > 0.6 {
		d.ConstraintDensity += 0.1
	}
	if s.AcceptRate > 0.8 {
		d.UnderspecificationLevel += 0.1
		d.FutureFragility += 0.15
	}
	if s.ChaosPressure > 0.7 {
		d.NoveltyBudget -= 0.15
	}
	d = d.Clamp()
	if mode == world.ModeDiversify {
		d.ConstraintDensity -= 0.06
		d.UnderspecificationLevel += 0.12
		d.FutureFragility += 0.08
		d.NoveltyBudget += 0.18
	}
	return d.Clamp()
}

// Tighten forces concrete output: denser constraints, more novelty budget,
// and underspecification dropped and capped.
func (g *Generator) Tighten(d world.Difficulty) world.Difficulty {
	e := g.config.Escape
	d.ConstraintDensity += e.ConstraintBoost
	d.NoveltyBudget += e.NoveltyBoost
	d.UnderspecificationLevel -= e.UnderspecDrop
	if d.UnderspecificationLevel > e.UnderspecCap {
		d.UnderspecificationLevel = e.UnderspecCap
	}
	return d.Clamp()
}

// #endregion difficulty

// #region build

// BuildInput is everything needed to assemble one Challenge.
type BuildInput struct {
	ID            string
	BranchID      string
	ParentStateID string
	Base          world.Difficulty
	Pick          PickInput
	History       projection.Input
	Thresholds    world.GateThresholds
	Context       world.BranchContext
	Now           time.Time
}

// Build picks a directive, shapes difficulty, and assembles the projection.
func (g *Generator) Build(in BuildInput, rng *rand.Rand) (world.Challenge, Pick) {
	pick := g.PickDirective(in.Pick, rng)

	d := g.BuildDifficulty(in.Base, in.Pick.Signals, in.Pick.Mode)
	if in.Pick.Escape {
		d = g.Tighten(d)
	}

	ctx := in.Context
	ctx.Escape = in.Pick.Escape
	ctx.Mode = in.Pick.Mode

	proj := projection.Build(in.History, projection.Options{
		Depth:              d.DependencyDepth,
		FactPreview:        g.config.FactPreview,
		Escape:             in.Pick.Escape,
		EscapeInstructions: g.config.Escape.Instructions,
	})

	return world.Challenge{
		ID:            in.ID,
		BranchID:      in.BranchID,
		ParentStateID: in.ParentStateID,
		Projection:    proj,
		Directive:     pick.Directive,
		Difficulty:    d,
		Policy: world.VerifierPolicy{
			Thresholds: in.Thresholds,
			Context:    ctx,
		},
		Escape:     in.Pick.Escape,
		Stagnation: pick.Source == SourceStagnation,
		CreatedAt:  in.Now,
	}, pick
}

// #endregion build
