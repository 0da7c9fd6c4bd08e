package orchestrator

import (
	"context"
	"log"
	"sync"
)

// #region pool

// Pool runs orchestrators in the background and keeps the live ones
// addressable by run ID.
type Pool struct {
	ctx     context.Context
	factory Factory

	mu   sync.Mutex
	live map[string]*Orchestrator
	wg   sync.WaitGroup
}

// NewPool creates a pool whose runs stop when ctx is cancelled.
func NewPool(ctx context.Context, factory Factory) *Pool {
	return &Pool{ctx: ctx, factory: factory, live: make(map[string]*Orchestrator)}
}

// Start launches a run for theme and returns its ID once the run row exists.
// Errors raised before that point are returned directly.
func (p *Pool) Start(theme string) (string, error) {
	o, err := p.factory(theme)
	if err != nil {
		return "", err
	}

	registered := make(chan struct{})
	done := make(chan error, 1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		rep, err := o.Run(p.ctx)
		select {
		case <-o.Started():
			<-registered
			p.mu.Lock()
			delete(p.live, o.RunID())
			p.mu.Unlock()
			log.Printf("[ORCH] pool: run %s finished outcome=%s err=%v", rep.RunID, rep.Outcome, err)
		default:
		}
		done <- err
	}()

	select {
	case <-o.Started():
		p.mu.Lock()
		p.live[o.RunID()] = o
		p.mu.Unlock()
		close(registered)
		return o.RunID(), nil
	case err := <-done:
		return "", err
	}
}

// Suggest forwards creative direction to a live run.
func (p *Pool) Suggest(runID, text string) bool {
	p.mu.Lock()
	o, ok := p.live[runID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	o.Suggest(text)
	return true
}

// Live returns the number of runs in progress.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Wait blocks until every started run has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// #endregion pool
