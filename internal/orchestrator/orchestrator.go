package orchestrator

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/gate"
	"github.com/danielpatrickdp/diffuservo/internal/logging"
	"github.com/danielpatrickdp/diffuservo/internal/score"
	"github.com/danielpatrickdp/diffuservo/internal/session"
	"github.com/danielpatrickdp/diffuservo/internal/signals"
	"github.com/danielpatrickdp/diffuservo/internal/update"
)

// #endregion

var tracer = otel.Tracer("github.com/danielpatrickdp/diffuservo/internal/orchestrator")

// #region orchestrator-struct

// Orchestrator drives one generate-score-adjust run. It owns every piece of
// per-run state and is not reused across runs.
type Orchestrator struct {
	theme  string
	config Config
	deps   Deps

	gate     *gate.Gate
	machine  *control.StateMachine
	detector *control.ConvergenceDetector
	tiers    *control.TierSelector
	cache    *control.PromptCache
	adjuster *update.Adjuster
	history  *score.History
	bests    score.DimensionBests
	limiter  *rate.Limiter

	runID  string
	params control.Params
	prev   *score.Sample

	started chan struct{}

	mu         sync.Mutex
	suggestion string
}

// #endregion

// #region constructor

// New wires a run for theme. config.TargetScore overrides the state
// machine's target so the loop and the adjuster agree.
func New(theme string, config Config, deps Deps) (*Orchestrator, error) {
	if deps.Renderer == nil || deps.Creative == nil || deps.Judge == nil || deps.Prober == nil {
		return nil, errors.New("orchestrator: renderer, creative, judge and prober are required")
	}
	if deps.Seeds == nil {
		return nil, errors.New("orchestrator: seed source is required")
	}
	for _, t := range []control.Tier{control.TierFast, control.TierRealistic, control.TierStylized} {
		if _, ok := config.Bundles[t]; !ok {
			return nil, fmt.Errorf("orchestrator: no bundle for tier %s", t)
		}
	}

	config.Machine.TargetScore = config.TargetScore
	limit := rate.Inf
	if config.IterationDelay > 0 {
		limit = rate.Every(config.IterationDelay)
	}

	return &Orchestrator{
		theme:    theme,
		config:   config,
		deps:     deps,
		gate:     gate.NewGate(config.Gate),
		machine:  control.NewStateMachine(config.Machine),
		detector: control.NewConvergenceDetector(config.Convergence),
		tiers:    control.NewTierSelector(config.Tier, theme),
		cache:    control.NewPromptCache(),
		adjuster: update.NewAdjuster(config.Adjust, update.NewPID(config.PID), deps.Seeds, config.TargetScore),
		history:  score.NewHistory(config.HistoryCapacity),
		bests:    score.DimensionBests{},
		limiter:  rate.NewLimiter(limit, 1),
		params:   control.DefaultParams(theme),
		started:  make(chan struct{}),
	}, nil
}

// #endregion

// #region accessors

// RunID returns the run identifier, empty until Run has started.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Started is closed once the run has an ID.
func (o *Orchestrator) Started() <-chan struct{} {
	return o.started
}

// Lock pins the run to tier t, outranking the theme recommendation.
// Must be called before Run.
func (o *Orchestrator) Lock(t control.Tier) {
	o.tiers.Lock(t)
}

// Suggest queues external creative direction for the next iteration.
// Safe to call from other goroutines while Run is in progress.
func (o *Orchestrator) Suggest(text string) {
	o.mu.Lock()
	o.suggestion = text
	o.mu.Unlock()
}

func (o *Orchestrator) takeSuggestion() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.suggestion
	o.suggestion = ""
	return s
}

// #endregion

// #region run

// Run executes the loop until the target is reached, the run is abandoned,
// the score plateaus or the iteration budget runs out. The report always
// carries the best record found so far, including on error.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "orchestrator.Run", trace.WithAttributes(attribute.String("theme", o.theme)))
	defer span.End()

	report := Report{Theme: o.theme}

	if !o.deps.Prober.IsHealthy(ctx) {
		log.Printf("[ORCH] startup probe failed")
		report.Outcome = control.OutcomeAborted
		span.SetStatus(codes.Error, ErrStartupUnhealthy.Error())
		return report, ErrStartupUnhealthy
	}

	rec, err := o.deps.Creative.RecommendModelTier(ctx, o.theme)
	if err != nil {
		report.Outcome = control.OutcomeAborted
		return report, fmt.Errorf("recommend tier: %w", err)
	}
	o.tiers.Recommend(rec.Tier)

	if err := o.startRun(); err != nil {
		report.Outcome = control.OutcomeAborted
		return report, err
	}
	report.RunID = o.runID
	close(o.started)
	span.SetAttributes(attribute.String("run_id", o.runID))
	log.Printf("[ORCH] run %s: theme=%q initial tier=%s (%s)", o.runID, o.theme, o.tiers.Initial(), rec.Reason)

	outcome, runErr := o.loop(ctx, &report)
	report.Outcome = outcome
	report.Best = o.detector.Best()
	report.FinalState = o.machine.State()
	report.FinalTier = o.params.Tier

	o.finish(report, runErr)
	if o.deps.Observer != nil {
		o.deps.Observer.ObserveOutcome(outcome, o.detector.BestScore())
	}
	span.SetAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Float64("best_score", o.detector.BestScore()),
		attribute.Int("iterations", report.Iterations),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	log.Printf("[ORCH] run %s done: outcome=%s best=%.3f@%d iterations=%d skipped=%d state=%s",
		o.runID, outcome, report.Best.Score, report.Best.Iteration, report.Iterations, report.Skipped, report.FinalState)
	return report, runErr
}

func (o *Orchestrator) loop(ctx context.Context, report *Report) (control.Outcome, error) {
	tier := control.Tier("")

	for iter := 1; iter <= o.config.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return control.OutcomeAborted, err
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return control.OutcomeAborted, err
		}
		report.Iterations = iter

		if o.config.HeartbeatInterval > 0 && iter%o.config.HeartbeatInterval == 0 {
			if !o.deps.Prober.IsHealthy(ctx) {
				o.decide(iter, "stop", "abort", "heartbeat probe failed")
				return control.OutcomeAborted, ErrHeartbeatFailed
			}
		}

		suggestion := o.takeSuggestion()
		if len(suggestion) > o.config.Feedback.MinSuggestionLen {
			if rec, err := o.deps.Creative.RecommendModelTier(ctx, fmt.Sprintf("%s (Feedback: %s)", o.theme, suggestion)); err == nil && o.tiers.Reconsider(rec.Tier) {
				o.decide(iter, "tier", "reconsider", fmt.Sprintf("suggestion -> %s", rec.Tier))
			}
		}

		state := o.machine.State()
		if t := o.tiers.Select(state, o.detector.BestScore(), iter); t != tier {
			o.config.Bundles[t].Apply(&o.params, t)
			if tier != "" {
				o.decide(iter, "tier", string(t), fmt.Sprintf("%s -> %s in %s", tier, t, state))
			}
			tier = t
		}
		bundle := o.config.Bundles[tier]

		feedback := signals.FeedbackContext(o.prev, o.bests, suggestion, o.config.Feedback)
		allowRandom := state == control.StateInit || state == control.StateExplore
		written, err := o.deps.Creative.WritePrompt(ctx, o.theme, feedback, allowRandom)
		if err != nil {
			if ctx.Err() != nil {
				return control.OutcomeAborted, ctx.Err()
			}
			written = o.theme
		}
		prompt, rolled := o.cache.Next(o.adjuster.Decorate(written))
		if rolled {
			o.decide(iter, "rollback", "restore_prompt", "restored best-scoring prompt")
		}
		o.params.Prompt = bundle.WithSuffix(prompt)

		artifact, err := o.render(ctx, iter)
		if err != nil {
			if ctx.Err() != nil {
				return control.OutcomeAborted, ctx.Err()
			}
			o.skip(report, iter, state, "render", err)
			continue
		}

		sample, err := o.judge(ctx, artifact)
		if err != nil {
			if ctx.Err() != nil {
				return control.OutcomeAborted, ctx.Err()
			}
			o.skip(report, iter, state, "judge", err)
			continue
		}

		if d := o.gate.Evaluate(sample); d.Vetoed {
			o.skipSample(report, iter, state, artifact, sample, d.Reason)
			continue
		}

		final := sample.Final
		o.history.Push(final)
		o.bests.Record(sample)
		o.detector.CheckNewBest(final, o.params, iter, artifact)
		if rolled {
			o.cache.Commit()
		}
		o.cache.Observe(prompt, final)
		o.prev = &sample

		tr := o.machine.Transition(final, iter)
		if tr.Rollback {
			o.cache.RequestRollback()
			o.decide(iter, "rollback", "arm", fmt.Sprintf("stagnation at best %.3f", o.detector.BestScore()))
		}
		if tr.Changed() {
			o.decide(iter, "transition", string(tr.To), tr.Reason)
			if o.deps.Observer != nil {
				o.deps.Observer.ObserveTransition(tr.From, tr.To)
			}
		}
		if o.deps.Observer != nil {
			o.deps.Observer.ObserveIteration(state, tier, final)
		}
		o.recordIteration(iter, state, artifact, &sample, "")

		log.Printf("[ORCH] iter %d: state=%s tier=%s final=%.3f best=%.3f -> %s",
			iter, state, tier, final, o.detector.BestScore(), tr.To)

		if tr.Converged {
			return tr.Outcome, nil
		}

		g := signals.AnalyzeWindow(o.history.Values(), o.config.Analyzer)
		res := o.adjuster.Adjust(&o.params, update.Input{
			State:      o.machine.State(),
			Sample:     sample,
			Gradient:   g,
			HistoryLen: o.history.Len(),
			Bundle:     bundle,
		})
		if res.ForceFinetune {
			o.machine.Force(control.StateFinetune)
			o.decideWith(iter, "adjust", res.Action, res.Reason, g, res.Factor)
		} else if res.Action != "reroll" {
			o.decideWith(iter, "adjust", res.Action, res.Reason, g, res.Factor)
		}

		if o.detector.ShouldStop(o.history.Values(), iter) {
			o.decide(iter, "stop", string(control.OutcomePlateaued),
				fmt.Sprintf("no improvement for %d iterations", o.detector.NoImprovement()))
			return control.OutcomePlateaued, nil
		}
	}
	return control.OutcomeExhausted, nil
}

// #endregion

// #region collaborators

func (o *Orchestrator) render(ctx context.Context, iter int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.RenderTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "forge.render", trace.WithAttributes(
		attribute.Int("iteration", iter),
		attribute.String("tier", string(o.params.Tier)),
		attribute.Int("steps", o.params.Steps),
		attribute.Float64("cfg", o.params.Cfg),
	))
	defer span.End()

	ref, err := o.deps.Renderer.Render(ctx, o.runID, iter, o.params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		return "", fmt.Errorf("render: %w", err)
	}
	return ref, nil
}

func (o *Orchestrator) judge(ctx context.Context, artifact string) (score.Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, o.config.JudgeTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "judge.score")
	defer span.End()

	s, err := o.deps.Judge.Score(ctx, artifact, o.theme, o.config.ConceptWeight)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "judge failed")
		return score.Sample{}, fmt.Errorf("judge: %w", err)
	}
	span.SetAttributes(attribute.Float64("final", s.Final))
	return s, nil
}

// #endregion

// #region bookkeeping

func (o *Orchestrator) startRun() error {
	if o.deps.Recorder == nil {
		o.runID = uuid.New().String()
		return nil
	}
	run, err := o.deps.Recorder.CreateRun(o.theme, o.tiers.Initial())
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	o.runID = run.ID
	return nil
}

func (o *Orchestrator) finish(report Report, runErr error) {
	if o.deps.Recorder == nil {
		return
	}
	var err error
	cancelled := errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)
	if runErr != nil && !cancelled {
		err = o.deps.Recorder.FailRun(o.runID, runErr.Error())
	} else {
		err = o.deps.Recorder.CompleteRun(o.runID, report.Outcome, report.Best)
	}
	if err != nil {
		log.Printf("[ORCH] persist run %s: %v", o.runID, err)
	}
}

func (o *Orchestrator) skip(report *Report, iter int, state control.State, stage string, err error) {
	report.Skipped++
	log.Printf("[ORCH] skip iter %d: %v", iter, err)
	if o.deps.Observer != nil {
		o.deps.Observer.ObserveSkip(stage)
	}
	o.decide(iter, "skip", stage, err.Error())
	o.recordIteration(iter, state, "", nil, err.Error())
}

func (o *Orchestrator) skipSample(report *Report, iter int, state control.State, artifact string, s score.Sample, reason string) {
	report.Skipped++
	log.Printf("[ORCH] skip iter %d: gate rejected sample (%s)", iter, reason)
	if o.deps.Observer != nil {
		o.deps.Observer.ObserveSkip("gate")
	}
	o.decide(iter, "skip", "gate", reason)
	o.recordIteration(iter, state, artifact, &s, reason)
}

func (o *Orchestrator) recordIteration(iter int, state control.State, artifact string, s *score.Sample, skipReason string) {
	if o.deps.Recorder == nil {
		return
	}
	it := session.Iteration{
		RunID:       o.runID,
		Index:       iter,
		State:       state,
		Tier:        o.params.Tier,
		Sample:      s,
		Params:      o.params,
		ArtifactRef: artifact,
		Skipped:     skipReason != "",
		SkipReason:  skipReason,
		CreatedAt:   time.Now(),
	}
	if err := o.deps.Recorder.AddIteration(it); err != nil {
		log.Printf("[ORCH] record iteration %d: %v", iter, err)
	}
}

func (o *Orchestrator) decide(iter int, trigger, decision, reason string) {
	o.decideWith(iter, trigger, decision, reason, signals.Gradient{}, o.adjuster.Factor())
}

func (o *Orchestrator) decideWith(iter int, trigger, decision, reason string, g signals.Gradient, factor float64) {
	log.Printf("[ORCH] decision iter=%d trigger=%s decision=%s reason=%s", iter, trigger, decision, reason)
	if o.deps.Recorder == nil {
		return
	}
	rec := logging.IterationRecord{
		Iteration:  iter,
		State:      string(o.machine.State()),
		Tier:       string(o.params.Tier),
		Best:       o.detector.BestScore(),
		Avg:        g.Avg,
		Volatility: g.Volatility,
		Factor:     factor,
		Stagnation: o.machine.Stagnation(),
		NoImprove:  o.detector.NoImprovement(),
		Steps:      o.params.Steps,
		Cfg:        o.params.Cfg,
		HRScale:    o.params.HRScale,
		HRSteps:    o.params.HRSteps,
		Seed:       o.params.Seed,
	}
	if o.prev != nil {
		rec.Final = o.prev.Final
	}
	signalsJSON, err := json.Marshal(rec)
	if err != nil {
		log.Printf("[ORCH] marshal decision record: %v", err)
	}

	err = o.deps.Recorder.LogDecision(logging.DecisionEntry{
		RunID:       o.runID,
		Iteration:   iter,
		TriggerType: trigger,
		SignalsJSON: string(signalsJSON),
		Decision:    decision,
		Reason:      reason,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		log.Printf("[ORCH] log decision: %v", err)
	}
}

// #endregion
