package update

import (
	"strings"
	"testing"

	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/score"
	"github.com/danielpatrickdp/diffuservo/internal/signals"
)

// #region helpers

// fixedSeeds hands out an increasing sequence so rerolls are observable.
type fixedSeeds struct{ next int64 }

func (f *fixedSeeds) NextSeed() int64 {
	f.next++
	return f.next
}

func newTestAdjuster() (*Adjuster, *fixedSeeds) {
	seeds := &fixedSeeds{next: 100}
	return NewAdjuster(DefaultAdjustConfig(), NewPID(DefaultPIDConfig()), seeds, 0.9), seeds
}

func fastParams() (control.Params, control.Bundle) {
	b := control.DefaultBundles()[control.TierFast]
	p := control.DefaultParams("lighthouse")
	return p, b
}

// #endregion helpers

func TestAdjustConvergedIsFrozen(t *testing.T) {
	a, _ := newTestAdjuster()
	p, b := fastParams()
	before := p
	res := a.Adjust(&p, Input{State: control.StateConverged, Sample: score.Sample{Final: 0.95}, Bundle: b})
	if res.Action != "frozen" {
		t.Fatalf("expected frozen, got %s", res.Action)
	}
	if p != before {
		t.Fatal("converged params must not change")
	}
}

func TestAdjustOscillationGuard(t *testing.T) {
	a, _ := newTestAdjuster()
	p, b := fastParams()
	before := p
	res := a.Adjust(&p, Input{
		State:      control.StateExplore,
		Sample:     score.Sample{Final: 0.6, Concept: score.Of(0.9), Quality: score.Of(0.4)},
		Gradient:   signals.Gradient{Avg: 0, Volatility: 0.3},
		HistoryLen: 3,
		Bundle:     b,
	})
	if !res.ForceFinetune {
		t.Fatal("expected ForceFinetune")
	}
	if p.Seed == before.Seed {
		t.Fatal("seed should be rerolled")
	}
	p.Seed = before.Seed
	if p != before {
		t.Fatal("only the seed may change under the oscillation guard")
	}
}

func TestAdjustOscillationNeedsHistory(t *testing.T) {
	a, _ := newTestAdjuster()
	p, b := fastParams()
	res := a.Adjust(&p, Input{
		State:      control.StateFinetune,
		Sample:     score.Sample{Final: 0.6},
		Gradient:   signals.Gradient{Volatility: 0.3},
		HistoryLen: 2,
		Bundle:     b,
	})
	if res.ForceFinetune {
		t.Fatal("guard must not fire below the minimum history length")
	}
}

func TestAdjustExploreClampsSteps(t *testing.T) {
	a, _ := newTestAdjuster()
	p, b := fastParams()
	for i := 0; i < 10; i++ {
		a.Adjust(&p, Input{
			State:      control.StateExplore,
			Sample:     score.Sample{Final: 0.3, Concept: score.Of(0.6), Quality: score.Of(0.2)},
			HistoryLen: 5,
			Bundle:     b,
		})
		if p.Steps < 4 || p.Steps > 8 {
			t.Fatalf("iteration %d: steps %d outside [4,8]", i, p.Steps)
		}
		if p.Cfg < 1.0 || p.Cfg > 2.5 {
			t.Fatalf("iteration %d: cfg %f outside [1.0,2.5]", i, p.Cfg)
		}
	}
	if p.Steps != 8 {
		t.Fatalf("expected steps to saturate at 8, got %d", p.Steps)
	}
}

func TestAdjustExploreFixedStepsUntouched(t *testing.T) {
	a, _ := newTestAdjuster()
	p, b := fastParams()
	b.FixedSteps = true
	b.Steps = 1
	p.Steps = 1
	res := a.Adjust(&p, Input{
		State:      control.StateExplore,
		Sample:     score.Sample{Final: 0.3, Concept: score.Of(0.6), Quality: score.Of(0.2)},
		HistoryLen: 5,
		Bundle:     b,
	})
	if p.Steps != 1 {
		t.Fatalf("fixed-step bundle changed steps to %d", p.Steps)
	}
	if !res.ProportionalOnly {
		t.Fatal("fixed-step bundle should use P-only mode")
	}
	if a.pid.Integral() != 0 {
		t.Fatal("P-only mode must not accumulate integral")
	}
}

func TestAdjustExplorePromptEmphasis(t *testing.T) {
	a, _ := newTestAdjuster()
	p, b := fastParams()
	steps := p.Steps
	res := a.Adjust(&p, Input{
		State:      control.StateExplore,
		Sample:     score.Sample{Final: 0.6, Concept: score.Of(0.5), Quality: score.Of(0.8)},
		HistoryLen: 3,
		Bundle:     b,
	})
	if res.Action != "explore_prompt" {
		t.Fatalf("expected explore_prompt, got %s", res.Action)
	}
	if !strings.HasSuffix(p.Prompt, ", vivid colors, cinematic lighting") {
		t.Fatalf("expected style fragment, got %q", p.Prompt)
	}
	if p.Steps != steps {
		t.Fatal("prompt emphasis must not touch steps")
	}
	if got := a.Decorate("a new prompt"); !strings.Contains(got, "vivid") {
		t.Fatalf("emphasis should persist across prompts, got %q", got)
	}
	if got := a.Decorate("vivid already"); got != "vivid already" {
		t.Fatalf("fragment must not be duplicated, got %q", got)
	}
}

func TestAdjustOptimizeHR(t *testing.T) {
	a, _ := newTestAdjuster()
	p, b := fastParams()
	for i := 0; i < 8; i++ {
		a.Adjust(&p, Input{
			State:      control.StateOptimize,
			Sample:     score.Sample{Final: 0.83, Concept: score.Of(0.9), Quality: score.Of(0.7)},
			Gradient:   signals.Gradient{Avg: 0.0},
			HistoryLen: 5,
			Bundle:     b,
		})
	}
	if p.HRSteps != 6 {
		t.Errorf("expected hr steps capped at 6, got %d", p.HRSteps)
	}
	if p.HRScale > 1.8 || p.HRScale < 1.79 {
		t.Errorf("expected hr scale capped at 1.8, got %f", p.HRScale)
	}
}

func TestAdjustFinetuneRerollsOnly(t *testing.T) {
	a, _ := newTestAdjuster()
	p, b := fastParams()
	before := p
	a.Adjust(&p, Input{State: control.StateFinetune, Sample: score.Sample{Final: 0.89}, HistoryLen: 5, Bundle: b})
	if p.Seed == before.Seed {
		t.Fatal("expected reroll")
	}
	p.Seed = before.Seed
	if p != before {
		t.Fatal("finetune must only change the seed")
	}
}

func TestAdaptiveFactorBounds(t *testing.T) {
	a, _ := newTestAdjuster()
	p, b := fastParams()
	for i := 0; i < 20; i++ {
		a.Adjust(&p, Input{State: control.StateInit, Sample: score.Sample{Final: 0.4}, Gradient: signals.Gradient{Avg: 0.1}, Bundle: b})
	}
	if a.Factor() != 1.5 {
		t.Fatalf("expected factor capped at 1.5, got %f", a.Factor())
	}
	for i := 0; i < 20; i++ {
		a.Adjust(&p, Input{State: control.StateInit, Sample: score.Sample{Final: 0.4}, Gradient: signals.Gradient{Avg: -0.1}, Bundle: b})
	}
	if a.Factor() != 0.5 {
		t.Fatalf("expected factor floored at 0.5, got %f", a.Factor())
	}
}
