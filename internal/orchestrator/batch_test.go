package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/danielpatrickdp/diffuservo/internal/control"
)

func TestRunBatch_KeepsOrderAndIsolatesFailures(t *testing.T) {
	themes := []string{"a red fox", "a blue whale", "a green owl"}
	cfg := testConfig()
	cfg.MaxIterations = 3

	factory := func(theme string) (*Orchestrator, error) {
		h := newHarness(0.6)
		if theme == "a blue whale" {
			h.prober.healthy = []bool{false}
		}
		return New(theme, cfg, h.deps())
	}

	results, err := RunBatch(context.Background(), themes, factory, 2)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, r := range results {
		if r.Theme != themes[i] {
			t.Errorf("result %d: theme %q, want %q", i, r.Theme, themes[i])
		}
	}
	if !errors.Is(results[1].Err, ErrStartupUnhealthy) {
		t.Errorf("expected startup failure for theme 1, got %v", results[1].Err)
	}
	for _, i := range []int{0, 2} {
		if results[i].Err != nil || results[i].Report.Outcome != control.OutcomeExhausted {
			t.Errorf("theme %d: err=%v outcome=%s", i, results[i].Err, results[i].Report.Outcome)
		}
	}
	if results[0].Report.RunID == results[2].Report.RunID {
		t.Error("runs must have distinct IDs")
	}
}

func TestPool_StartAndDrain(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIterations = 2
	healthy := true
	factory := func(theme string) (*Orchestrator, error) {
		h := newHarness(0.6)
		h.prober.healthy = []bool{healthy}
		return New(theme, cfg, h.deps())
	}
	p := NewPool(context.Background(), factory)

	id, err := p.Start("a red fox")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id == "" {
		t.Fatal("expected a run ID")
	}
	p.Wait()
	if p.Live() != 0 {
		t.Errorf("expected no live runs after Wait, got %d", p.Live())
	}
	if p.Suggest(id, "more fog please") {
		t.Error("suggest should fail for a finished run")
	}

	healthy = false
	if _, err := p.Start("a red fox"); !errors.Is(err, ErrStartupUnhealthy) {
		t.Errorf("expected ErrStartupUnhealthy, got %v", err)
	}
	p.Wait()
}
