package update

import (
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/score"
	"github.com/danielpatrickdp/diffuservo/internal/signals"
)

// #region input
// Input carries one iteration's evidence into Adjust.
type Input struct {
	State      control.State
	Sample     score.Sample
	Gradient   signals.Gradient
	HistoryLen int
	Bundle     control.Bundle
}
// #endregion input

// #region adjuster
// Adjuster applies the per-state parameter policy to a run's params.
// It owns the run's PID accumulators and adaptive factor.
type Adjuster struct {
	config   AdjustConfig
	pid      *PID
	seeds    control.SeedSource
	target   float64
	factor   float64
	emphasis bool
}

// NewAdjuster creates an adjuster steering toward target.
func NewAdjuster(config AdjustConfig, pid *PID, seeds control.SeedSource, target float64) *Adjuster {
	return &Adjuster{
		config: config,
		pid:    pid,
		seeds:  seeds,
		target: target,
		factor: 1.0,
	}
}

// Factor returns the current adaptive factor.
func (a *Adjuster) Factor() float64 {
	return a.factor
}

// Adjust mutates p in place for the next iteration. CONVERGED leaves p
// untouched. When the oscillation guard fires only the seed changes and
// the result asks the caller to force FINETUNE.
func (a *Adjuster) Adjust(p *control.Params, in Input) Result {
	if in.State == control.StateConverged {
		return Result{Action: "frozen", Reason: "converged", Factor: a.factor}
	}

	a.updateFactor(in.Gradient.Avg)
	res := Result{Factor: a.factor}

	if in.Gradient.Volatility > a.config.OscillationLimit && in.HistoryLen >= a.config.OscillationMinLen {
		p.Seed = a.seeds.NextSeed()
		res.Action = "oscillation"
		res.Reason = fmt.Sprintf("volatility %.3f > %.2f, seed only", in.Gradient.Volatility, a.config.OscillationLimit)
		res.ForceFinetune = true
		log.Printf("[ORCH] adjust: %s", res.Reason)
		return res
	}

	switch in.State {
	case control.StateExplore:
		a.explore(p, in, &res)
	case control.StateOptimize:
		a.optimize(p, in, &res)
	default:
		res.Action = "reroll"
		res.Reason = fmt.Sprintf("%s: seed only", in.State)
	}

	p.Seed = a.seeds.NextSeed()
	log.Printf("[ORCH] adjust: state=%s action=%s factor=%.2f steps=%d cfg=%.2f hr=%.1fx/%d",
		in.State, res.Action, a.factor, p.Steps, p.Cfg, p.HRScale, p.HRSteps)
	return res
}

// Decorate re-applies the EXPLORE style emphasis to a freshly written prompt.
func (a *Adjuster) Decorate(prompt string) string {
	if !a.emphasis || strings.Contains(prompt, "vivid") {
		return prompt
	}
	return prompt + a.config.StyleFragment
}

// #endregion adjuster

// #region per-state
func (a *Adjuster) explore(p *control.Params, in Input, res *Result) {
	final := in.Sample.Final
	quality := in.Sample.QualityOr(final)
	concept := in.Sample.ConceptOr(final)

	if quality >= concept {
		a.emphasis = true
		p.Prompt = a.Decorate(p.Prompt)
		res.Action = "explore_prompt"
		res.Reason = fmt.Sprintf("quality %.2f >= concept %.2f, strengthen prompt", quality, concept)
		return
	}

	d := a.delta(in, res)
	if !in.Bundle.FixedSteps {
		step := d.Steps
		if step < 1 {
			step = 1
		}
		p.Steps = clampInt(p.Steps+step, in.Bundle.StepsMin, in.Bundle.StepsMax)
	}
	p.Cfg = clampFloat(p.Cfg+d.Cfg, in.Bundle.CfgMin, in.Bundle.CfgMax)
	res.Action = "explore_params"
	res.Reason = fmt.Sprintf("quality %.2f < concept %.2f, steps/cfg", quality, concept)
}

func (a *Adjuster) optimize(p *control.Params, in Input, res *Result) {
	final := in.Sample.Final
	quality := in.Sample.QualityOr(final)
	d := a.delta(in, res)

	res.Action = "optimize_hr"
	var notes []string
	if p.HREnabled && quality < a.config.QualityHRFloor && p.HRSteps < a.config.HRStepsMax {
		inc := int(math.Abs(d.Cfg) * 2)
		if inc < 1 {
			inc = 1
		}
		p.HRSteps = clampInt(p.HRSteps+inc, 0, a.config.HRStepsMax)
		notes = append(notes, fmt.Sprintf("hr_steps->%d", p.HRSteps))
	}
	if p.HREnabled && in.Gradient.Avg < a.config.FlatGradient && p.HRScale < a.config.HRScaleMax {
		p.HRScale = clampFloat(p.HRScale+a.config.HRScaleStep, a.config.HRScaleMin, a.config.HRScaleMax)
		notes = append(notes, fmt.Sprintf("hr_scale->%.1f", p.HRScale))
	}
	if len(notes) == 0 {
		res.Reason = "no hr change"
		return
	}
	res.Reason = strings.Join(notes, ", ")
}

// delta computes the factor-scaled PID step. P-only when history is too
// short for I/D to mean anything or when the bundle is fixed-step.
func (a *Adjuster) delta(in Input, res *Result) Delta {
	var d Delta
	if in.HistoryLen < 2 || in.Bundle.FixedSteps {
		d = a.pid.ComputeP(a.target, in.Sample.Final)
		res.ProportionalOnly = true
	} else {
		d = a.pid.Compute(a.target, in.Sample.Final, 1.0)
	}
	d.Steps = int(math.Round(float64(d.Steps) * a.factor))
	d.Cfg *= a.factor
	res.Delta = d
	return d
}

func (a *Adjuster) updateFactor(avg float64) {
	switch {
	case avg > a.config.ImprovingGradient:
		a.factor = math.Min(a.config.FactorMax, a.factor+a.config.FactorStep)
	case avg < a.config.DegradingGradient:
		a.factor = math.Max(a.config.FactorMin, a.factor-a.config.FactorDrop)
	}
}
// #endregion per-state

// #region helpers
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
// #endregion helpers
