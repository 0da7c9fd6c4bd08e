package update

import "math"

// #region pid
// PID is a discrete PID controller over score error. One instance per run.
type PID struct {
	config    PIDConfig
	integral  float64
	lastError float64
}

// NewPID creates a controller with zeroed accumulators.
func NewPID(config PIDConfig) *PID {
	return &PID{config: config}
}

// Compute runs a full P+I+D step and updates the accumulators.
func (p *PID) Compute(target, current, dt float64) Delta {
	if dt <= 0 {
		dt = 1.0
	}
	e := target - current
	pTerm := p.config.Kp * e
	p.integral += e * dt
	iTerm := p.config.Ki * p.integral
	dTerm := p.config.Kd * (e - p.lastError) / dt
	p.lastError = e
	return p.scale(pTerm + iTerm + dTerm)
}

// ComputeP returns the proportional term only and leaves the accumulators
// untouched. Used where accumulated error would destabilize generation.
func (p *PID) ComputeP(target, current float64) Delta {
	return p.scale(p.config.Kp * (target - current))
}

// Integral returns the accumulated error.
func (p *PID) Integral() float64 {
	return p.integral
}

// Reset zeroes the accumulators.
func (p *PID) Reset() {
	p.integral = 0
	p.lastError = 0
}

func (p *PID) scale(out float64) Delta {
	return Delta{
		Steps: int(math.Round(out * p.config.StepsScale)),
		Cfg:   out * p.config.CfgScale,
	}
}
// #endregion pid
