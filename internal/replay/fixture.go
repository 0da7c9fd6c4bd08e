package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/orchestrator"
	"github.com/danielpatrickdp/diffuservo/internal/session"
)

// #region fixture-types

// Fixture is a scripted run: the judge answers Scores in order and the
// renderer fails on the listed iterations. A negative score stands for a
// judge sentinel.
type Fixture struct {
	Description    string        `json:"description"`
	Theme          string        `json:"theme"`
	Tier           string        `json:"tier,omitempty"`
	Config         FixtureConfig `json:"config"`
	Scores         []float64     `json:"scores"`
	RenderFailures []int         `json:"render_failures,omitempty"`
	Expected       Expected      `json:"expected"`
}

// FixtureConfig overrides loop tunables. Zero fields keep the defaults.
type FixtureConfig struct {
	TargetScore         float64 `json:"target_score,omitempty"`
	MaxIterations       int     `json:"max_iterations,omitempty"`
	MinIterations       *int    `json:"min_iterations,omitempty"`
	Patience            int     `json:"patience,omitempty"`
	StagnationThreshold int     `json:"stagnation_threshold,omitempty"`
	OscillationLimit    float64 `json:"oscillation_limit,omitempty"`
}

// Expected is what the fixture asserts about the finished run.
type Expected struct {
	Outcome       string   `json:"outcome"`
	Iterations    int      `json:"iterations"`
	Skipped       int      `json:"skipped"`
	FinalState    string   `json:"final_state,omitempty"`
	BestScore     float64  `json:"best_score"`
	BestIteration int      `json:"best_iteration"`
	Tiers         []string `json:"tiers,omitempty"`
}

// #endregion fixture-types

// #region load

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	if f.Theme == "" || len(f.Scores) == 0 {
		return nil, fmt.Errorf("parse fixture %s: theme and scores are required", path)
	}
	return &f, nil
}

// #endregion load

// #region converters

// ToConfig overlays the fixture overrides onto the default loop config.
// Replays never sleep between iterations.
func (c FixtureConfig) ToConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.IterationDelay = 0
	cfg.RenderTimeout = 5 * time.Second
	cfg.JudgeTimeout = 5 * time.Second
	if c.TargetScore > 0 {
		cfg.TargetScore = c.TargetScore
	}
	if c.MaxIterations > 0 {
		cfg.MaxIterations = c.MaxIterations
	}
	if c.MinIterations != nil {
		cfg.Convergence.MinIterations = *c.MinIterations
	}
	if c.Patience > 0 {
		cfg.Convergence.Patience = c.Patience
	}
	if c.StagnationThreshold > 0 {
		cfg.Machine.StagnationThreshold = c.StagnationThreshold
	}
	if c.OscillationLimit > 0 {
		cfg.Adjust.OscillationLimit = c.OscillationLimit
	}
	return cfg
}

// InitialTier returns the scripted recommendation, FAST when unset or unknown.
func (f *Fixture) InitialTier() control.Tier {
	if t, ok := control.ParseTier(f.Tier); ok {
		return t
	}
	return control.TierFast
}

// FromSession rebuilds a fixture from a stored run so it can be replayed
// against the current tuning. Skips without a sample become render
// failures; sentinel samples keep their negative score.
func FromSession(run session.Run, iterations []session.Iteration) *Fixture {
	f := &Fixture{
		Description: fmt.Sprintf("run %s", run.ID),
		Theme:       run.Theme,
		Tier:        string(run.InitialTier),
		Config:      FixtureConfig{MaxIterations: len(iterations)},
		Expected: Expected{
			Outcome:       string(run.Outcome),
			Iterations:    len(iterations),
			BestScore:     run.BestScore,
			BestIteration: run.BestIteration,
		},
	}
	for _, it := range iterations {
		if it.Skipped {
			f.Expected.Skipped++
		}
		f.Expected.Tiers = append(f.Expected.Tiers, string(it.Tier))
		if it.Sample == nil {
			f.RenderFailures = append(f.RenderFailures, it.Index)
			continue
		}
		f.Scores = append(f.Scores, it.Sample.Final)
	}
	if len(f.Scores) == 0 {
		f.Scores = []float64{-1}
	}
	return f
}

// #endregion converters
