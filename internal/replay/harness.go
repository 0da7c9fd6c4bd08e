package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/creative"
	"github.com/danielpatrickdp/diffuservo/internal/logging"
	"github.com/danielpatrickdp/diffuservo/internal/orchestrator"
	"github.com/danielpatrickdp/diffuservo/internal/score"
	"github.com/danielpatrickdp/diffuservo/internal/session"
)

// #region types

// Result captures everything a replayed run produced.
type Result struct {
	Report     orchestrator.Report
	Err        error
	Tiers      []control.Tier
	Params     []control.Params
	Iterations []session.Iteration
	Decisions  []logging.DecisionEntry
}

// Summary provides aggregate decision counts from a replay.
type Summary struct {
	Iterations  int
	Skipped     int
	Transitions int
	Adjusts     int
	Rollbacks   int
	TierChanges int
}

// #endregion types

// #region replay

// Replay drives the real orchestrator with scripted collaborators. It never
// touches the network or the disk.
func Replay(ctx context.Context, f *Fixture) Result {
	s := newScript(f)
	deps := orchestrator.Deps{
		Renderer: s,
		Creative: s,
		Judge:    s,
		Prober:   s,
		Recorder: s,
		Seeds:    &counterSeeds{},
	}

	o, err := orchestrator.New(f.Theme, f.Config.ToConfig(), deps)
	if err != nil {
		return Result{Err: fmt.Errorf("replay %q: %w", f.Description, err)}
	}
	rep, err := o.Run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	res := Result{
		Report:     rep,
		Err:        err,
		Params:     s.params,
		Iterations: s.iterations,
		Decisions:  s.decisions,
	}
	for _, p := range s.params {
		res.Tiers = append(res.Tiers, p.Tier)
	}
	return res
}

// Check compares a result against the fixture expectations and returns one
// message per mismatch.
func (f *Fixture) Check(res Result) []string {
	var out []string
	e := f.Expected
	r := res.Report
	if res.Err != nil {
		out = append(out, fmt.Sprintf("run error: %v", res.Err))
	}
	if string(r.Outcome) != e.Outcome {
		out = append(out, fmt.Sprintf("outcome=%s, want %s", r.Outcome, e.Outcome))
	}
	if r.Iterations != e.Iterations {
		out = append(out, fmt.Sprintf("iterations=%d, want %d", r.Iterations, e.Iterations))
	}
	if r.Skipped != e.Skipped {
		out = append(out, fmt.Sprintf("skipped=%d, want %d", r.Skipped, e.Skipped))
	}
	if e.FinalState != "" && string(r.FinalState) != e.FinalState {
		out = append(out, fmt.Sprintf("final_state=%s, want %s", r.FinalState, e.FinalState))
	}
	if r.Best.Score != e.BestScore || r.Best.Iteration != e.BestIteration {
		out = append(out, fmt.Sprintf("best=%.3f@%d, want %.3f@%d",
			r.Best.Score, r.Best.Iteration, e.BestScore, e.BestIteration))
	}
	for i, want := range e.Tiers {
		if i >= len(res.Tiers) {
			out = append(out, fmt.Sprintf("iter %d: no render, want tier %s", i+1, want))
			continue
		}
		if string(res.Tiers[i]) != want {
			out = append(out, fmt.Sprintf("iter %d: tier=%s, want %s", i+1, res.Tiers[i], want))
		}
	}
	return out
}

// Summarize counts decisions by trigger.
func Summarize(res Result) Summary {
	s := Summary{Iterations: res.Report.Iterations, Skipped: res.Report.Skipped}
	for _, d := range res.Decisions {
		switch d.TriggerType {
		case "transition":
			s.Transitions++
		case "adjust":
			s.Adjusts++
		case "rollback":
			s.Rollbacks++
		case "tier":
			s.TierChanges++
		}
	}
	return s
}

// #endregion replay

// #region script

// script plays every collaborator role from one fixture.
type script struct {
	mu         sync.Mutex
	fixture    *Fixture
	failures   map[int]bool
	judged     int
	params     []control.Params
	iterations []session.Iteration
	decisions  []logging.DecisionEntry
	runID      string
}

func newScript(f *Fixture) *script {
	s := &script{fixture: f, failures: map[int]bool{}}
	for _, i := range f.RenderFailures {
		s.failures[i] = true
	}
	return s
}

func (s *script) Render(_ context.Context, runID string, iteration int, p control.Params) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = append(s.params, p)
	if s.failures[iteration] {
		return "", errors.New("scripted render failure")
	}
	return fmt.Sprintf("replay/%s/iter%03d.png", runID, iteration), nil
}

func (s *script) Score(_ context.Context, _, _ string, _ float64) (score.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	scores := s.fixture.Scores
	v := scores[len(scores)-1]
	if s.judged < len(scores) {
		v = scores[s.judged]
	}
	s.judged++
	if v < 0 {
		return score.Failed("scripted sentinel"), nil
	}
	return score.Sample{Final: v}, nil
}

func (s *script) RecommendModelTier(_ context.Context, _ string) (creative.Recommendation, error) {
	return creative.Recommendation{Tier: s.fixture.InitialTier(), Confidence: 1, Reason: "replay"}, nil
}

func (s *script) WritePrompt(_ context.Context, theme, _ string, _ bool) (string, error) {
	return theme, nil
}

func (s *script) IsHealthy(context.Context) bool {
	return true
}

func (s *script) CreateRun(theme string, initial control.Tier) (session.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = uuid.New().String()
	return session.Run{ID: s.runID, Theme: theme, Status: session.StatusRunning, InitialTier: initial, CreatedAt: time.Now()}, nil
}

func (s *script) AddIteration(it session.Iteration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations = append(s.iterations, it)
	return nil
}

func (s *script) CompleteRun(string, control.Outcome, control.BestRecord) error { return nil }

func (s *script) FailRun(string, string) error { return nil }

func (s *script) LogDecision(e logging.DecisionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, e)
	return nil
}

type counterSeeds struct{ n int64 }

func (c *counterSeeds) NextSeed() int64 {
	c.n++
	return c.n
}

// #endregion script
