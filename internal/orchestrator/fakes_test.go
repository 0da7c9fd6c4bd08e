package orchestrator

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
	"github.com/danielpatrickdp/diffuservo/internal/score"
	"github.com/danielpatrickdp/diffuservo/internal/session"
)

// #region fakes
type fakeRenderer struct {
	mu     sync.Mutex
	fail   map[int]bool
	params []control.Params
}

func (r *fakeRenderer) Render(_ context.Context, runID string, iteration int, p control.Params) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = append(r.params, p)
	if r.fail[iteration] {
		return "", errors.New("forge: connection refused")
	}
	return fmt.Sprintf("%s/iter%d.png", runID, iteration), nil
}

type fakeJudge struct {
	mu     sync.Mutex
	scores []float64
	calls  int
}

func (j *fakeJudge) Score(_ context.Context, _, _ string, _ float64) (score.Sample, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v := j.scores[len(j.scores)-1]
	if j.calls < len(j.scores) {
		v = j.scores[j.calls]
	}
	j.calls++
	if v < 0 {
		return score.Failed("scripted failure"), nil
	}
	return score.Sample{Final: v}, nil
}

type fakeCreative struct {
	mu          sync.Mutex
	tier        control.Tier
	suggestTier control.Tier
	recommends  int
	themes      []string
	feedback    []string
	randomAngle []bool
}

// RecommendModelTier answers tier for the theme and suggestTier for any
// later re-recommendation.
func (c *fakeCreative) RecommendModelTier(_ context.Context, theme string) (creative.Recommendation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recommends++
	c.themes = append(c.themes, theme)
	if c.recommends > 1 && c.suggestTier != "" {
		return creative.Recommendation{Tier: c.suggestTier, Reason: "suggestion"}, nil
	}
	t := c.tier
	if t == "" {
		t = control.TierFast
	}
	return creative.Recommendation{Tier: t, Reason: "scripted"}, nil
}

func (c *fakeCreative) WritePrompt(_ context.Context, theme, feedback string, allowRandomAngle bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedback = append(c.feedback, feedback)
	c.randomAngle = append(c.randomAngle, allowRandomAngle)
	return fmt.Sprintf("%s, take %d", theme, len(c.feedback)), nil
}

type fakeProber struct {
	mu      sync.Mutex
	healthy []bool
	calls   int
}

func (p *fakeProber) IsHealthy(_ context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.healthy[len(p.healthy)-1]
	if p.calls < len(p.healthy) {
		v = p.healthy[p.calls]
	}
	p.calls++
	return v
}

type countingSeeds struct{ n int64 }

func (s *countingSeeds) NextSeed() int64 {
	s.n++
	return s.n
}

type memRecorder struct {
	mu         sync.Mutex
	runs       map[string]session.Run
	iterations []session.Iteration
	decisions  []logging.DecisionEntry
}

func newMemRecorder() *memRecorder {
	return &memRecorder{runs: map[string]session.Run{}}
}

func (m *memRecorder) CreateRun(theme string, initial control.Tier) (session.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := session.Run{ID: uuid.New().String(), Theme: theme, Status: session.StatusRunning, InitialTier: initial, CreatedAt: time.Now()}
	m.runs[r.ID] = r
	return r, nil
}

func (m *memRecorder) AddIteration(it session.Iteration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.iterations = append(m.iterations, it)
	return nil
}

func (m *memRecorder) CompleteRun(runID string, outcome control.Outcome, best control.BestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[runID]
	r.Status = session.StatusCompleted
	r.Outcome = outcome
	r.BestScore = best.Score
	m.runs[runID] = r
	return nil
}

func (m *memRecorder) FailRun(runID string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[runID]
	r.Status = session.StatusFailed
	r.Error = reason
	m.runs[runID] = r
	return nil
}

func (m *memRecorder) LogDecision(e logging.DecisionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, e)
	return nil
}

func (m *memRecorder) decisionsOf(trigger string) []logging.DecisionEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []logging.DecisionEntry
	for _, d := range m.decisions {
		if d.TriggerType == trigger {
			out = append(out, d)
		}
	}
	return out
}

type countingObserver struct {
	mu          sync.Mutex
	iterations  int
	skips       map[string]int
	transitions int
	outcome     control.Outcome
}

func (o *countingObserver) ObserveIteration(control.State, control.Tier, float64) {
	o.mu.Lock()
	o.iterations++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveSkip(reason string) {
	o.mu.Lock()
	if o.skips == nil {
		o.skips = map[string]int{}
	}
	o.skips[reason]++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveTransition(control.State, control.State) {
	o.mu.Lock()
	o.transitions++
	o.mu.Unlock()
}

func (o *countingObserver) ObserveOutcome(outcome control.Outcome, _ float64) {
	o.mu.Lock()
	o.outcome = outcome
	o.mu.Unlock()
}

// #endregion fakes

// #region harness
type harness struct {
	renderer *fakeRenderer
	judge    *fakeJudge
	creative *fakeCreative
	prober   *fakeProber
	recorder *memRecorder
	observer *countingObserver
}

func newHarness(scores ...float64) *harness {
	return &harness{
		renderer: &fakeRenderer{fail: map[int]bool{}},
		judge:    &fakeJudge{scores: scores},
		creative: &fakeCreative{},
		prober:   &fakeProber{healthy: []bool{true}},
		recorder: newMemRecorder(),
		observer: &countingObserver{},
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Renderer: h.renderer,
		Creative: h.creative,
		Judge:    h.judge,
		Prober:   h.prober,
		Recorder: h.recorder,
		Observer: h.observer,
		Seeds:    &countingSeeds{},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IterationDelay = 0
	cfg.RenderTimeout = time.Second
	cfg.JudgeTimeout = time.Second
	return cfg
}

// #endregion harness
