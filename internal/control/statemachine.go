package control

import (
	"fmt"
	"log"
)

// #region machine-config

// MachineConfig holds the state transition thresholds.
type MachineConfig struct {
	TargetScore          float64 `yaml:"target_score" validate:"gt=0,lte=1"`
	InitExit             float64 `yaml:"init_exit" validate:"gte=0,lte=1"`
	ExploreExit          float64 `yaml:"explore_exit" validate:"gte=0,lte=1"`
	MinExploreIterations int     `yaml:"min_explore_iterations" validate:"gte=1"`
	OptimizeExit         float64 `yaml:"optimize_exit" validate:"gte=0,lte=1"`
	LowScore             float64 `yaml:"low_score" validate:"gte=0,lte=1"`
	LowStreak            int     `yaml:"low_streak" validate:"gte=1"`
	StagnationMargin     float64 `yaml:"stagnation_margin" validate:"gte=0"`
	StagnationThreshold  int     `yaml:"stagnation_threshold" validate:"gte=1"`
}

// DefaultMachineConfig returns the standard thresholds.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		TargetScore:          0.90,
		InitExit:             0.5,
		ExploreExit:          0.82,
		MinExploreIterations: 6,
		OptimizeExit:         0.88,
		LowScore:             0.7,
		LowStreak:            3,
		StagnationMargin:     0.01,
		StagnationThreshold:  8,
	}
}

// #endregion machine-config

// #region transition

// Transition is the result of feeding one valid score to the machine.
type Transition struct {
	From      State
	To        State
	Converged bool
	Outcome   Outcome // set only when Converged
	Rollback  bool    // stagnation threshold crossed: revert to best prompt
	Reason    string
}

// Changed reports whether the state moved.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// #endregion transition

// #region state-machine

// StateMachine owns the five-state lifecycle of one run.
// Stagnation tracking runs alongside the main transitions.
type StateMachine struct {
	config     MachineConfig
	state      State
	best       float64
	seen       bool
	stagnation int
	lowStreak  int
}

// NewStateMachine starts in INIT.
func NewStateMachine(config MachineConfig) *StateMachine {
	return &StateMachine{config: config, state: StateInit}
}

// State returns the current state.
func (m *StateMachine) State() State {
	return m.state
}

// Stagnation returns the current stagnation count.
func (m *StateMachine) Stagnation() int {
	return m.stagnation
}

// Transition evaluates one completed iteration. CONVERGED is terminal and
// ignores further input.
func (m *StateMachine) Transition(score float64, iteration int) Transition {
	tr := Transition{From: m.state, To: m.state}
	if m.state == StateConverged {
		tr.Reason = "terminal"
		return tr
	}

	// stagnation is measured against the best seen before this score
	if iteration > 1 && m.seen && score < m.best-m.config.StagnationMargin {
		m.stagnation++
		if m.stagnation >= m.config.StagnationThreshold {
			log.Printf("[ORCH] stagnation: %d drops below best=%.3f, rolling back prompt", m.stagnation, m.best)
			tr.Rollback = true
			m.stagnation = 0
		}
	} else {
		m.stagnation = 0
	}
	if !m.seen || score > m.best {
		m.best = score
		m.seen = true
	}

	c := m.config
	switch m.state {
	case StateInit:
		if score > c.InitExit {
			m.enter(StateExplore)
			tr.Reason = fmt.Sprintf("score %.3f > %.2f", score, c.InitExit)
		} else {
			tr.Reason = "initial parameters weak, keep exploring"
		}

	case StateExplore:
		if score > c.ExploreExit && iteration >= c.MinExploreIterations {
			m.enter(StateOptimize)
			tr.Reason = fmt.Sprintf("score %.3f > %.2f at iteration %d", score, c.ExploreExit, iteration)
		}

	case StateOptimize:
		if score >= c.OptimizeExit {
			m.enter(StateFinetune)
			tr.Reason = fmt.Sprintf("score %.3f >= %.2f", score, c.OptimizeExit)
		}

	case StateFinetune:
		if score < c.LowScore {
			m.lowStreak++
			if m.lowStreak >= c.LowStreak {
				m.enter(StateConverged)
				tr.Converged = true
				tr.Outcome = OutcomeAbandoned
				tr.Reason = fmt.Sprintf("%d consecutive scores below %.2f", m.lowStreak, c.LowScore)
				break
			}
		} else {
			m.lowStreak = 0
		}
		if score >= c.TargetScore {
			m.enter(StateConverged)
			tr.Converged = true
			tr.Outcome = OutcomeTargetReached
			tr.Reason = fmt.Sprintf("score %.3f reached target %.2f", score, c.TargetScore)
		}
	}

	tr.To = m.state
	return tr
}

// Force moves the machine to s without evaluating a score. Used by the
// oscillation guard. A converged machine stays converged.
func (m *StateMachine) Force(s State) {
	if m.state == StateConverged || m.state == s {
		return
	}
	log.Printf("[ORCH] force: %s -> %s", m.state, s)
	m.enter(s)
}

func (m *StateMachine) enter(s State) {
	if s == StateFinetune || s == StateOptimize {
		m.lowStreak = 0
	}
	m.state = s
}

// #endregion state-machine
