package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/worldledger/internal/aggregate"
	"github.com/danielpatrickdp/worldledger/internal/backend"
	"github.com/danielpatrickdp/worldledger/internal/controller"
	"github.com/danielpatrickdp/worldledger/internal/facts"
	"github.com/danielpatrickdp/worldledger/internal/graph"
	"github.com/danielpatrickdp/worldledger/internal/invariant"
	"github.com/danielpatrickdp/worldledger/internal/ledger"
	"github.com/danielpatrickdp/worldledger/internal/logging"
	"github.com/danielpatrickdp/worldledger/internal/metrics"
	"github.com/danielpatrickdp/worldledger/internal/policy"
	"github.com/danielpatrickdp/worldledger/internal/producer"
	"github.com/danielpatrickdp/worldledger/internal/projection"
	"github.com/danielpatrickdp/worldledger/internal/similarity"
	"github.com/danielpatrickdp/worldledger/internal/stagnation"
	"github.com/danielpatrickdp/worldledger/internal/taskgen"
	"github.com/danielpatrickdp/worldledger/internal/verify"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region engine

// Engine runs the generate-and-verify loop over one ledger. It is the
// single writer of its Store and is not safe for concurrent use; only the
// per-step candidate fan-out runs in parallel.
type Engine struct {
	policy    policy.Policy
	store     Store
	ledger    *ledger.Ledger
	refs      *graph.RefGraph
	tasks     *taskgen.Generator
	producers []*producer.Producer
	cascade   *verify.Cascade
	agg       *aggregate.Aggregator
	tracker   *stagnation.Tracker
	runtime   *metrics.Runtime
	collector *metrics.Collector
	logger    *zap.Logger
	seed      int64
	rng       *rand.Rand
	onStep    func(StepEvent)

	cs           world.ControllerState
	signals      world.Signals
	step         int
	rejectStreak int
	// directives issued per branch, oldest first, for family and streak rules.
	directives map[string][]world.Directive
}

// New wires every component from p, seeds genesis on an empty store, and
// resumes controller state and step numbering from what the store holds.
func New(ctx context.Context, p policy.Policy, store Store, opts Options) (*Engine, error) {
	base := logging.OrNop(opts.Logger)

	validator, err := facts.NewValidator(p.Facts)
	if err != nil {
		return nil, &policy.ConfigError{Source: "engine", Field: "facts", Err: err}
	}
	checker, err := invariant.NewChecker(p.Invariants)
	if err != nil {
		return nil, &policy.ConfigError{Source: "engine", Field: "invariants", Err: err}
	}

	refs, err := graph.NewRefGraph(store.DB())
	if err != nil {
		return nil, err
	}

	var (
		gen      backend.Generator
		risk     verify.RiskEstimator
		novelty  verify.NoveltyEstimator
		embedder similarity.Embedder
	)
	if opts.Backend != nil {
		gen, risk, novelty, embedder = opts.Backend, opts.Backend, opts.Backend, opts.Backend
	}

	sim := similarity.New(embedder, p.Similarity, base)
	gate := verify.NewNoveltyGate(p.Verifiers, validator, p.Specificity, sim, novelty, base)
	general := make([]*verify.GeneralVerifier, 0, len(p.Verifiers.General))
	for _, spec := range p.Verifiers.General {
		general = append(general, verify.NewGeneralVerifier(spec, p.Verifiers, checker, risk, base))
	}

	e := &Engine{
		policy:     p,
		store:      store,
		ledger:     ledger.New(store, p.Ledger, base),
		refs:       refs,
		tasks:      taskgen.New(p.Directives),
		producers:  producer.NewSet(p.Producers, gen, validator, base),
		cascade:    verify.NewCascade(p.Verifiers, gate, general, base),
		agg:        aggregate.New(p.Aggregator),
		tracker:    stagnation.NewTracker(p.Stagnation),
		runtime:    metrics.NewRuntime(),
		collector:  opts.Collector,
		logger:     base.Named("engine"),
		seed:       opts.Seed,
		rng:        rand.New(rand.NewSource(opts.Seed)),
		onStep:     opts.OnStep,
		directives: make(map[string][]world.Directive),
	}
	if err := e.resume(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) resume(ctx context.Context) error {
	if _, err := e.ledger.SeedGenesis(ctx); err != nil {
		return err
	}

	e.cs = e.policy.Controller.Initial()
	epoch, ok, err := e.store.LatestEpoch(ctx)
	if err != nil {
		return fmt.Errorf("latest epoch: %w", err)
	}
	if ok {
		e.cs = epoch.State
		e.signals = epoch.Inputs
	}

	n, err := e.store.CountChallenges(ctx)
	if err != nil {
		return fmt.Errorf("count challenges: %w", err)
	}
	e.step = n
	if n > 0 {
		e.rng = rand.New(rand.NewSource(resumeSeed(e.seed, n)))
	}
	e.logger.Info("engine ready",
		zap.Int("resume_step", n),
		zap.String("mode", string(e.cs.Mode)),
		zap.Float64("theta", e.cs.Theta),
		zap.Int("producers", len(e.producers)),
	)
	e.collector.ObserveController(e.cs)
	return nil
}

// resumeSeed moves a resumed engine onto a fresh random stream so it does
// not repeat the choices of the run that wrote the first n steps.
func resumeSeed(seed int64, n int) int64 {
	return int64(uint64(seed) ^ uint64(n)*0x9E3779B97F4A7C15)
}

// Controller returns the current controller state.
func (e *Engine) Controller() world.ControllerState { return e.cs }

// Steps returns the index of the last completed step.
func (e *Engine) Steps() int { return e.step }

// Ledger returns the engine's ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// #endregion engine

// #region run

// Run executes steps steps and returns the run summary. Only ledger and
// store failures abort it; per-step rejections never do.
func (e *Engine) Run(ctx context.Context, steps int) (metrics.Summary, error) {
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return e.summary(ctx), err
		}
		if _, err := e.Step(ctx); err != nil {
			return e.summary(ctx), fmt.Errorf("step %d: %w", e.step, err)
		}
	}
	return e.summary(ctx), nil
}

func (e *Engine) summary(ctx context.Context) metrics.Summary {
	branches, err := e.store.ListBranches(context.WithoutCancel(ctx), "")
	if err != nil {
		e.logger.Warn("summary without branches", zap.Error(err))
	}
	return e.runtime.Summarize(branches, e.cs)
}

// #endregion run

// #region step

// judged is one candidate with its cascade outcome and aggregate decision.
type judged struct {
	cand     world.Candidate
	outcome  verify.Outcome
	decision world.AggregateDecision
	round    int
	theta    float64
}

// Step runs one full challenge: branch choice, challenge, candidates,
// verification, aggregation, commit or rejection, then the feedback into
// stagnation, metrics, and the controller.
func (e *Engine) Step(ctx context.Context) (StepEvent, error) {
	start := time.Now()
	e.step++
	step := e.step

	branch, err := e.ledger.ChooseBranch(ctx, e.rng)
	if err != nil {
		return StepEvent{}, fmt.Errorf("choose branch: %w", err)
	}
	snap, err := e.ledger.Snapshot(ctx, branch, e.historyDepth(), e.policy.FactWindow)
	if err != nil {
		return StepEvent{}, fmt.Errorf("snapshot %s: %w", branch.ID, err)
	}

	escape := e.rejectStreak >= e.policy.Directives.Escape.RejectStreak
	if escape {
		e.logger.Info("escape mode active", zap.Int("step", step), zap.Int("reject_streak", e.rejectStreak))
	}

	ch, pick := e.tasks.Build(taskgen.BuildInput{
		ID:            fmt.Sprintf("ch-%06d", step),
		BranchID:      branch.ID,
		ParentStateID: snap.Head.ID,
		Base:          e.cs.Difficulty,
		Pick: taskgen.PickInput{
			Signals:    e.signals,
			Mode:       e.cs.Mode,
			Recent:     e.recentDirectives(snap),
			Escape:     escape,
			Stagnation: e.tracker.Override(),
		},
		History:    history(snap),
		Thresholds: e.policy.Gate,
		Context:    e.branchContext(snap),
		Now:        time.Now().UTC(),
	}, e.rng)
	if err := e.store.InsertChallenge(ctx, ch); err != nil {
		return StepEvent{}, fmt.Errorf("insert challenge: %w", err)
	}
	e.remember(branch.ID, ch.Directive)
	e.logger.Debug("challenge built",
		zap.String("challenge", ch.ID),
		zap.String("branch", branch.ID),
		zap.String("directive", string(ch.Directive)),
		zap.String("pick", pick.Source),
	)

	all, err := e.round(ctx, ch, 0)
	if err != nil {
		return StepEvent{}, err
	}
	winner := best(all)
	retries := 0
	for winner < 0 && ch.Escape && retries < e.policy.Directives.Escape.MaxRetries {
		retries++
		more, err := e.round(ctx, ch, retries)
		if err != nil {
			return StepEvent{}, err
		}
		all = append(all, more...)
		winner = best(all)
	}

	ev := StepEvent{
		Step:          step,
		BranchID:      branch.ID,
		ChallengeID:   ch.ID,
		ParentStateID: ch.ParentStateID,
		Directive:     ch.Directive,
		Difficulty:    ch.Difficulty,
		Escape:        ch.Escape,
		Stagnation:    ch.Stagnation,
		Retries:       retries,
		Decision:      DecisionReject,
	}

	via := AcceptedViaQuorum
	if winner < 0 && ch.Escape {
		if winner = e.relaxed(all); winner >= 0 {
			via = AcceptedViaEscape
		}
	}

	if winner >= 0 {
		if err := e.commit(ctx, ch, all, winner, via, &ev); err != nil {
			return StepEvent{}, err
		}
	} else if err := e.reject(ctx, ch, all, &ev); err != nil {
		return StepEvent{}, err
	}

	if err := e.observe(ctx, step, ch, all, &ev); err != nil {
		return StepEvent{}, err
	}

	if err := logging.LogStep(e.store.DB(), ev.Record()); err != nil {
		return StepEvent{}, err
	}
	e.collector.ObserveStep(ev.Decision, time.Since(start))
	if e.onStep != nil {
		e.onStep(ev)
	}
	return ev, nil
}

// round produces one candidate per producer and judges each. Producer
// seeds are drawn from the engine generator before the fan-out so results
// do not depend on goroutine scheduling; verifier seeds follow from the
// candidate id so stored runs can be replayed.
func (e *Engine) round(ctx context.Context, ch world.Challenge, n int) ([]judged, error) {
	produceSeeds := make([]int64, len(e.producers))
	for i := range e.producers {
		produceSeeds[i] = e.rng.Int63()
	}

	cands := make([]world.Candidate, len(e.producers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range e.producers {
		g.Go(func() error {
			cands[i] = p.Produce(gctx, ch, rand.New(rand.NewSource(produceSeeds[i])))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, c := range cands {
		if err := e.store.InsertCandidate(ctx, c); err != nil {
			return nil, fmt.Errorf("insert candidate: %w", err)
		}
		e.collector.ObserveCandidate(c)
	}

	outcomes := make([]verify.Outcome, len(cands))
	g, gctx = errgroup.WithContext(ctx)
	for i := range cands {
		g.Go(func() error {
			outcomes[i] = e.cascade.Evaluate(gctx, ch, cands[i], verify.SeedFor(cands[i].ID))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]judged, len(cands))
	for i, c := range cands {
		results := outcomes[i].Results()
		if err := e.store.InsertResults(ctx, results); err != nil {
			return nil, fmt.Errorf("insert results: %w", err)
		}
		e.collector.ObserveResults(results)
		d := e.agg.Decide(outcomes[i].AggregateInput(e.cs.Theta))
		if d.Verdict != world.VerdictAccept {
			e.logger.Debug("candidate rejected",
				zap.String("candidate", c.ID),
				zap.String("producer", c.ProducerID),
				zap.Float64("score", d.Score),
				zap.Strings("reasons", d.Reasons),
				zap.Strings("codes", outcomes[i].Report.Codes()),
			)
		}
		out[i] = judged{cand: c, outcome: outcomes[i], decision: d, round: n, theta: e.cs.Theta}
	}
	return out, nil
}

// best returns the highest-scoring accepted candidate, earliest on ties,
// or -1.
func best(all []judged) int {
	idx := -1
	for i, j := range all {
		if j.decision.Verdict != world.VerdictAccept {
			continue
		}
		if idx < 0 || j.decision.Score > all[idx].decision.Score {
			idx = i
		}
	}
	return idx
}

// relaxed returns the best candidate eligible for escape acceptance: no
// hard failure, progress gate passed, short of the reject quorum, at least
// one general accept, and a composite within the relax margin of theta.
func (e *Engine) relaxed(all []judged) int {
	floor := e.cs.Theta - e.policy.Directives.Escape.RelaxMargin
	idx := -1
	for i, j := range all {
		o := j.outcome
		switch {
		case o.Report.HardFail, !o.Report.ProgressGate:
			continue
		case o.GeneralRejects() >= e.policy.Aggregator.RejectQuorum:
			continue
		case o.GeneralAccepts() < 1:
			continue
		case j.decision.Score < floor:
			continue
		}
		if idx < 0 || j.decision.Score > all[idx].decision.Score {
			idx = i
		}
	}
	return idx
}

// #endregion step

// #region commit

func (e *Engine) commit(ctx context.Context, ch world.Challenge, all []judged, winner int, via string, ev *StepEvent) error {
	w := all[winner]
	cand := w.cand
	cand.Metadata.Facts = w.outcome.Report.Facts

	acc := world.AcceptanceSummary{
		Score:       w.decision.Score,
		Reasons:     append([]string(nil), w.decision.Reasons...),
		ProducerID:  cand.ProducerID,
		CandidateID: cand.ID,
		AcceptedVia: via,
	}
	if via == AcceptedViaEscape {
		acc.Reasons = append(acc.Reasons, "accepted via escape relaxation")
	}

	risk := w.outcome.Risk()
	state, err := e.ledger.Commit(ctx, ch, cand, acc, ledger.Pressure{
		Closure:   risk.Closure,
		Chaos:     risk.Chaos,
		Fragility: risk.Fragility,
	})
	if err != nil {
		return err
	}
	if err := e.refs.Record(ctx, state.BranchID, state.Metadata.Facts); err != nil {
		return err
	}
	if err := e.settle(ctx, all, winner); err != nil {
		return err
	}

	ev.Decision = DecisionCommit
	if via == AcceptedViaEscape {
		ev.Decision = DecisionEscapeCommit
		e.logger.Info("escape relaxation accepted",
			zap.String("candidate", cand.ID),
			zap.Float64("score", acc.Score),
			zap.Float64("theta", e.cs.Theta),
		)
	}
	ev.AcceptedID = cand.ID
	ev.StateID = state.ID
	e.rejectStreak = 0

	fork, forked, err := e.ledger.MaybeFork(ctx, ch, cand, acc, e.rng)
	if err != nil {
		return err
	}
	if forked {
		if err := e.refs.Record(ctx, fork.BranchID, fork.Metadata.Facts); err != nil {
			return err
		}
		ev.ForkStateID = fork.ID
		e.directives[fork.BranchID] = append([]world.Directive(nil), e.directives[ch.BranchID]...)
		e.runtime.RecordFork()
		e.collector.ObserveFork()
	}
	return nil
}

func (e *Engine) reject(ctx context.Context, ch world.Challenge, all []judged, ev *StepEvent) error {
	if err := e.settle(ctx, all, -1); err != nil {
		return err
	}
	e.rejectStreak++
	stalled, err := e.ledger.MarkRejected(ctx, ch.BranchID, e.rng)
	if err != nil {
		return err
	}
	ev.Stalled = stalled
	e.logger.Debug("step rejected",
		zap.String("challenge", ch.ID),
		zap.Int("candidates", len(all)),
		zap.Int("reject_streak", e.rejectStreak),
	)
	return nil
}

// settle records the final status of every candidate of the step.
func (e *Engine) settle(ctx context.Context, all []judged, winner int) error {
	for i, j := range all {
		status := world.CandidateRejected
		if i == winner {
			status = world.CandidateAccepted
		}
		if err := e.store.UpdateCandidateStatus(ctx, j.cand.ID, status); err != nil {
			return fmt.Errorf("candidate status: %w", err)
		}
	}
	return nil
}

// #endregion commit

// #region feedback

// observe folds the step into stagnation, run statistics, and the
// controller, and completes ev.
func (e *Engine) observe(ctx context.Context, step int, ch world.Challenge, all []judged, ev *StepEvent) error {
	cur, err := e.store.GetBranch(ctx, ch.BranchID)
	if err != nil {
		return fmt.Errorf("reload branch: %w", err)
	}
	lineage, err := e.ledger.Lineage(ctx, cur.HeadStateID, e.policy.Stagnation.Window)
	if err != nil {
		return err
	}
	report := stagnation.Detect(lineage, e.policy.Stagnation)
	streak := e.tracker.Observe(report.Score)

	branches, err := e.store.ListBranches(ctx, "")
	if err != nil {
		return fmt.Errorf("list branches: %w", err)
	}
	anchors, err := e.store.ActiveFacts(ctx, cur.ID)
	if err != nil {
		return fmt.Errorf("active facts: %w", err)
	}

	novelty := 0.0
	for _, j := range all {
		e.runtime.ObserveResults(j.outcome.Results())
		novelty = math.Max(novelty, j.outcome.Report.Novelty)
	}
	committed := ev.StateID != ""
	e.runtime.RecordStep(committed, ev.Decision == DecisionEscapeCommit)
	if committed {
		e.runtime.ObserveDebt(cur.SemanticDebt)
	}

	e.signals = e.runtime.Signals(branches, cur, novelty, report.Score)
	if controller.IsEpoch(step, e.policy.Controller) {
		next := controller.Update(step, e.cs, e.signals, e.policy.Controller)
		if err := e.store.InsertEpoch(ctx, world.ControllerEpoch{
			Step:      step,
			State:     next,
			Inputs:    e.signals,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			return fmt.Errorf("insert epoch: %w", err)
		}
		e.logger.Info("controller epoch",
			zap.Int("step", step),
			zap.String("mode", string(next.Mode)),
			zap.Float64("theta", next.Theta),
			zap.Int("dependency_depth", next.Difficulty.DependencyDepth),
			zap.Float64("underspecification", next.Difficulty.UnderspecificationLevel),
		)
		e.cs = next
	}
	e.collector.ObserveController(e.cs)
	e.collector.ObserveWorld(metrics.MeanDebt(branches), report.Score)

	s := e.runtime.Summarize(branches, e.cs)
	ev.Accepted, ev.Rejected, ev.Forks = s.Accepted, s.Rejected, s.Forks
	ev.Controller = e.cs
	ev.Debt = s.SemanticDebt
	ev.Variance = s.ValidatorVariance
	ev.StagnationScore = report.Score
	ev.StagnationStreak = streak
	ev.ActiveAnchors = len(anchors)
	ev.Candidates = traces(all)
	return nil
}

func traces(all []judged) []logging.CandidateTrace {
	out := make([]logging.CandidateTrace, 0, len(all))
	for _, j := range all {
		r := j.outcome.Report
		out = append(out, logging.CandidateTrace{
			CandidateID:    j.cand.ID,
			ProducerID:     j.cand.ProducerID,
			Source:         j.cand.Source,
			Verdict:        j.decision.Verdict,
			RawScore:       math.Round(aggregate.TrimmedMean(j.outcome.General)*1000) / 1000,
			Score:          j.decision.Score,
			FactSimilarity: math.Round(r.FactSimilarity*1000) / 1000,
			Penalty:        math.Round(j.outcome.RepetitionPenalty*1000) / 1000,
			Reasons:        j.decision.Reasons,
			GateCodes:      r.Codes(),
			Novelty:        math.Round(r.Novelty*1000) / 1000,
			HardFail:       r.HardFail,
			ProgressGate:   r.ProgressGate,
			Round:          j.round,
			Threshold:      j.theta,
		})
	}
	return out
}

// #endregion feedback

// #region context

// historyDepth covers the deepest window any consumer of a snapshot reads.
func (e *Engine) historyDepth() int {
	return max(world.MaxDependencyDepth, e.policy.Stagnation.Window, e.policy.SceneWindow, e.policy.Directives.FamilyWindow)
}

// recentDirectives returns the directives issued on the snapshot's branch.
// A branch this engine has not worked yet starts from its committed states.
func (e *Engine) recentDirectives(snap ledger.Snapshot) []world.Directive {
	if d, ok := e.directives[snap.Branch.ID]; ok {
		return d
	}
	var d []world.Directive
	for _, s := range snap.Recent {
		if s.Metadata.Directive != "" {
			d = append(d, s.Metadata.Directive)
		}
	}
	e.directives[snap.Branch.ID] = d
	return d
}

func (e *Engine) remember(branchID string, d world.Directive) {
	keep := max(e.policy.Directives.FamilyWindow, e.policy.Directives.MaxStreak)
	recent := append(e.directives[branchID], d)
	if len(recent) > keep {
		recent = append([]world.Directive(nil), recent[len(recent)-keep:]...)
	}
	e.directives[branchID] = recent
}

func history(snap ledger.Snapshot) projection.Input {
	in := projection.Input{
		Continuity:  snap.Continuity,
		RecentFacts: snap.RecentFacts,
	}
	for _, s := range snap.Recent {
		in.Artifacts = append(in.Artifacts, s.Artifact)
	}
	for _, a := range snap.Anchors {
		in.AnchorIDs = append(in.AnchorIDs, a.ID)
	}
	return in
}

func (e *Engine) branchContext(snap ledger.Snapshot) world.BranchContext {
	bc := world.BranchContext{CurrentHeight: snap.Head.Height}
	for _, f := range snap.RecentFacts {
		bc.RecentFacts = append(bc.RecentFacts, f.Ref())
		bc.RecentTypes = append(bc.RecentTypes, f.Type)
	}
	for _, a := range snap.Anchors {
		bc.Anchors = append(bc.Anchors, a.Ref())
	}
	states := snap.Recent
	if len(states) > e.policy.SceneWindow {
		states = states[len(states)-e.policy.SceneWindow:]
	}
	for _, s := range states {
		if s.Metadata.Bundle.Scene != "" {
			bc.RecentScenes = append(bc.RecentScenes, s.Metadata.Bundle.Scene)
		}
	}
	return bc
}

// #endregion context
