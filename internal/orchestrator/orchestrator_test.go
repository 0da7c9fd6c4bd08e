package orchestrator

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/session"
	"github.com/danielpatrickdp/diffuservo/internal/signals"
)

const theme = "a red fox"

func run(t *testing.T, h *harness, cfg Config) (*Orchestrator, Report, error) {
	t.Helper()
	o, err := New(theme, cfg, h.deps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep, err := o.Run(context.Background())
	return o, rep, err
}

// #region lifecycle
func TestRun_ReachesTarget(t *testing.T) {
	h := newHarness(0.6, 0.7, 0.75, 0.8, 0.82, 0.85, 0.89, 0.95)
	_, rep, err := run(t, h, testConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Outcome != control.OutcomeTargetReached {
		t.Fatalf("expected target_reached, got %s", rep.Outcome)
	}
	if rep.Iterations != 8 || rep.Best.Iteration != 8 || rep.Best.Score != 0.95 {
		t.Errorf("unexpected report: %+v", rep)
	}
	if rep.FinalState != control.StateConverged {
		t.Errorf("expected CONVERGED, got %s", rep.FinalState)
	}

	// upgrade once OPTIMIZE has a best >= 0.78 past iteration 5
	for i, p := range h.renderer.params {
		want := control.TierFast
		if i >= 6 {
			want = control.TierRealistic
		}
		if p.Tier != want {
			t.Errorf("iter %d: tier %s, want %s", i+1, p.Tier, want)
		}
	}
	if h.renderer.params[6].Checkpoint != "juggernautXL_ragnarokBy.safetensors" {
		t.Errorf("bundle not applied on upgrade: %s", h.renderer.params[6].Checkpoint)
	}

	wantAngles := []bool{true, true, true, true, true, true, false, false}
	for i, got := range h.creative.randomAngle {
		if got != wantAngles[i] {
			t.Errorf("iter %d: allowRandomAngle=%v", i+1, got)
		}
	}

	if n := len(h.recorder.decisionsOf("transition")); n != 4 {
		t.Errorf("expected 4 transition decisions, got %d", n)
	}
	r := h.recorder.runs[rep.RunID]
	if r.Status != session.StatusCompleted || r.Outcome != control.OutcomeTargetReached {
		t.Errorf("run not completed: %+v", r)
	}
	if h.observer.outcome != control.OutcomeTargetReached || h.observer.transitions != 4 {
		t.Errorf("observer: %+v", h.observer)
	}
}

func TestRun_SentinelNeverEntersHistory(t *testing.T) {
	h := newHarness(0.6, -1.0)
	cfg := testConfig()
	cfg.MaxIterations = 6
	o, rep, err := run(t, h, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if o.history.Len() != 1 {
		t.Errorf("expected 1 history entry, got %d (%v)", o.history.Len(), o.history.Values())
	}
	if o.detector.NoImprovement() != 0 {
		t.Errorf("sentinels counted toward patience: %d", o.detector.NoImprovement())
	}
	if rep.Skipped != 5 {
		t.Errorf("expected 5 skipped, got %d", rep.Skipped)
	}
	if rep.Outcome != control.OutcomeExhausted {
		t.Errorf("expected exhausted, got %s", rep.Outcome)
	}
	if rep.Best.Score != 0.6 {
		t.Errorf("best should survive sentinels, got %.2f", rep.Best.Score)
	}
	if h.observer.skips["gate"] != 5 {
		t.Errorf("expected 5 gate skips, got %v", h.observer.skips)
	}

	skipped := 0
	for _, it := range h.recorder.iterations {
		if it.Skipped {
			skipped++
		}
	}
	if skipped != 5 {
		t.Errorf("expected 5 skipped iterations persisted, got %d", skipped)
	}
}

func TestRun_StartupUnhealthy(t *testing.T) {
	h := newHarness(0.6)
	h.prober.healthy = []bool{false}
	_, rep, err := run(t, h, testConfig())

	if !errors.Is(err, ErrStartupUnhealthy) {
		t.Fatalf("expected ErrStartupUnhealthy, got %v", err)
	}
	if rep.Outcome != control.OutcomeAborted {
		t.Errorf("expected aborted, got %s", rep.Outcome)
	}
	if len(h.renderer.params) != 0 || len(h.recorder.runs) != 0 {
		t.Error("nothing should run after a failed startup probe")
	}
}

func TestRun_HeartbeatFailureAborts(t *testing.T) {
	h := newHarness(0.6)
	h.prober.healthy = []bool{true, false}
	_, rep, err := run(t, h, testConfig())

	if !errors.Is(err, ErrHeartbeatFailed) {
		t.Fatalf("expected ErrHeartbeatFailed, got %v", err)
	}
	if rep.Outcome != control.OutcomeAborted || rep.Iterations != 5 {
		t.Errorf("unexpected report: outcome=%s iterations=%d", rep.Outcome, rep.Iterations)
	}
	if !rep.Best.Found() || rep.Best.Score != 0.6 {
		t.Errorf("best should be kept on abort: %+v", rep.Best)
	}
	if r := h.recorder.runs[rep.RunID]; r.Status != session.StatusFailed {
		t.Errorf("expected failed run, got %s", r.Status)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	h := newHarness(0.6)
	o, err := New(theme, testConfig(), h.deps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := o.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rep.Outcome != control.OutcomeAborted {
		t.Errorf("expected aborted, got %s", rep.Outcome)
	}
	if r := h.recorder.runs[rep.RunID]; r.Status != session.StatusCompleted || r.Outcome != control.OutcomeAborted {
		t.Errorf("cancelled run should complete as aborted: %+v", r)
	}
}

// #endregion lifecycle

// #region skips
func TestRun_RenderFailureSkipsIteration(t *testing.T) {
	h := newHarness(0.6, 0.65, 0.7)
	h.renderer.fail[2] = true
	cfg := testConfig()
	cfg.MaxIterations = 4
	o, rep, err := run(t, h, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Skipped != 1 {
		t.Errorf("expected 1 skip, got %d", rep.Skipped)
	}
	if h.judge.calls != 3 {
		t.Errorf("judge should not run for failed renders, got %d calls", h.judge.calls)
	}
	if o.history.Len() != 3 {
		t.Errorf("expected 3 history entries, got %d", o.history.Len())
	}
	skips := h.recorder.decisionsOf("skip")
	if len(skips) != 1 || skips[0].Decision != "render" || skips[0].Iteration != 2 {
		t.Errorf("unexpected skip decisions: %+v", skips)
	}
}

// #endregion skips

// #region stopping
func TestRun_Plateau(t *testing.T) {
	h := newHarness(0.6)
	cfg := testConfig()
	cfg.Convergence.MinIterations = 4
	_, rep, err := run(t, h, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcome != control.OutcomePlateaued {
		t.Fatalf("expected plateaued, got %s", rep.Outcome)
	}
	if rep.Iterations != 4 {
		t.Errorf("expected stop at iteration 4, got %d", rep.Iterations)
	}
}

func TestRun_OscillationForcesFinetune(t *testing.T) {
	h := newHarness(0.6, 0.8, 0.55, 0.8)
	cfg := testConfig()
	cfg.MaxIterations = 4
	_, rep, err := run(t, h, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var found bool
	for _, d := range h.recorder.decisionsOf("adjust") {
		if d.Decision == "oscillation" && d.Iteration == 3 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected oscillation decision at iteration 3")
	}
	if rep.FinalState != control.StateFinetune {
		t.Errorf("expected FINETUNE, got %s", rep.FinalState)
	}
	if h.renderer.params[3].Tier != control.TierRealistic {
		t.Errorf("FINETUNE should force the upgrade, got %s", h.renderer.params[3].Tier)
	}
}

func TestRun_StagnationRollsBackPrompt(t *testing.T) {
	h := newHarness(0.7, 0.5, 0.5, 0.5)
	cfg := testConfig()
	cfg.MaxIterations = 4
	cfg.Machine.StagnationThreshold = 2
	cfg.Adjust.OscillationLimit = 1.0
	_, _, err := run(t, h, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.recorder.decisionsOf("rollback")) != 2 {
		t.Fatalf("expected arm and restore decisions, got %+v", h.recorder.decisionsOf("rollback"))
	}
	if h.renderer.params[3].Prompt != h.renderer.params[0].Prompt {
		t.Errorf("iteration 4 should reuse the best prompt:\n got %q\nwant %q",
			h.renderer.params[3].Prompt, h.renderer.params[0].Prompt)
	}
}

func TestRun_RollbackSurvivesRenderFailure(t *testing.T) {
	h := newHarness(0.7, 0.5, 0.5, 0.5)
	h.renderer.fail[4] = true
	cfg := testConfig()
	cfg.MaxIterations = 5
	cfg.Machine.StagnationThreshold = 2
	cfg.Adjust.OscillationLimit = 1.0
	_, _, err := run(t, h, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.renderer.params) != 5 {
		t.Fatalf("expected 5 renders, got %d", len(h.renderer.params))
	}
	if h.renderer.params[3].Prompt != h.renderer.params[0].Prompt {
		t.Errorf("iteration 4 should try the best prompt:\n got %q\nwant %q",
			h.renderer.params[3].Prompt, h.renderer.params[0].Prompt)
	}
	if h.renderer.params[4].Prompt != h.renderer.params[0].Prompt {
		t.Errorf("rollback should carry over the failed render:\n got %q\nwant %q",
			h.renderer.params[4].Prompt, h.renderer.params[0].Prompt)
	}
	var restores int
	for _, d := range h.recorder.decisionsOf("rollback") {
		if d.Decision == "restore_prompt" {
			restores++
		}
	}
	if restores != 2 {
		t.Errorf("expected restore on iterations 4 and 5, got %d", restores)
	}
}

func TestRun_RollbackAfterUpgradeUsesNewSuffix(t *testing.T) {
	const anime = "an anime fox"
	h := newHarness(0.75, 0.5, 0.5, 0.5)
	cfg := testConfig()
	cfg.MaxIterations = 4
	cfg.Machine.StagnationThreshold = 2
	cfg.Machine.ExploreExit = 0.45
	cfg.Machine.MinExploreIterations = 2
	cfg.Tier.SwitchThreshold = 0.7
	cfg.Tier.MinIterationsBeforeSwitch = 2
	cfg.Adjust.OscillationLimit = 1.0
	o, err := New(anime, cfg, h.deps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(h.renderer.params) < 4 {
		t.Fatalf("expected 4 renders, got %d", len(h.renderer.params))
	}
	fast := cfg.Bundles[control.TierFast].Suffix
	stylized := cfg.Bundles[control.TierStylized].Suffix
	first, restored := h.renderer.params[0], h.renderer.params[3]
	if first.Tier != control.TierFast || restored.Tier != control.TierStylized {
		t.Fatalf("expected FAST then STYLIZED, got %s and %s", first.Tier, restored.Tier)
	}
	if len(h.recorder.decisionsOf("rollback")) != 2 {
		t.Fatalf("expected arm and restore decisions, got %+v", h.recorder.decisionsOf("rollback"))
	}
	want := strings.TrimSuffix(first.Prompt, fast) + stylized
	if restored.Prompt != want {
		t.Errorf("restored prompt should carry only the stylized suffix:\n got %q\nwant %q", restored.Prompt, want)
	}
	if strings.Contains(restored.Prompt, fast) {
		t.Errorf("old tier suffix leaked into restored prompt: %q", restored.Prompt)
	}
	if best, _, _ := o.cache.Best(); strings.HasSuffix(best, fast) {
		t.Errorf("cached prompt should be stored without a tier suffix: %q", best)
	}
}

// #endregion stopping

// #region tiers
func TestRun_StylizedRecommendationNeverDowngrades(t *testing.T) {
	h := newHarness(0.3, 0.6, 0.4, 0.55, 0.62, 0.35, 0.58)
	h.creative.tier = control.TierStylized
	cfg := testConfig()
	cfg.MaxIterations = 7
	cfg.Adjust.OscillationLimit = 1.0
	_, _, err := run(t, h, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	for i, p := range h.renderer.params {
		if p.Tier != control.TierStylized {
			t.Errorf("iter %d: tier %s", i+1, p.Tier)
		}
		if !strings.Contains(p.Prompt, "official art") {
			t.Errorf("iter %d: stylized suffix missing: %q", i+1, p.Prompt)
		}
	}
}

func TestRun_SuggestionReconsidersTier(t *testing.T) {
	h := newHarness(0.6)
	h.creative.suggestTier = control.TierStylized
	cfg := testConfig()
	cfg.MaxIterations = 2
	o, err := New(theme, cfg, h.deps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.Suggest("make it look like an anime poster")

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.renderer.params[0].Tier != control.TierStylized {
		t.Errorf("expected suggestion to switch the first tier, got %s", h.renderer.params[0].Tier)
	}
	if len(h.creative.themes) != 2 {
		t.Fatalf("expected initial and suggestion recommendations, got %q", h.creative.themes)
	}
	if got := h.creative.themes[1]; got != theme+" (Feedback: make it look like an anime poster)" {
		t.Errorf("re-recommendation should carry theme and feedback, got %q", got)
	}
	if !strings.HasPrefix(h.creative.feedback[0], "User feedback/Creative direction:") {
		t.Errorf("suggestion not passed as feedback: %q", h.creative.feedback[0])
	}
	if h.creative.feedback[1] == h.creative.feedback[0] {
		t.Error("suggestion should be consumed once")
	}
}

func TestDecide_UnencodableSignalsStillLogged(t *testing.T) {
	h := newHarness(0.5)
	o, err := New(theme, testConfig(), h.deps())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.decideWith(3, "adjust", "explore_params", "nan gradient", signals.Gradient{Avg: math.NaN()}, 1)

	got := h.recorder.decisionsOf("adjust")
	if len(got) != 1 {
		t.Fatalf("expected the decision to be logged, got %+v", got)
	}
	if got[0].SignalsJSON != "" {
		t.Errorf("expected empty signals for an unencodable record, got %q", got[0].SignalsJSON)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	h := newHarness(0.5)
	d := h.deps()
	d.Judge = nil
	if _, err := New(theme, testConfig(), d); err == nil {
		t.Fatal("expected error without judge")
	}

	cfg := testConfig()
	cfg.Bundles = map[control.Tier]control.Bundle{control.TierFast: control.DefaultBundles()[control.TierFast]}
	if _, err := New(theme, cfg, h.deps()); err == nil {
		t.Fatal("expected error for missing bundles")
	}
}

// #endregion tiers
