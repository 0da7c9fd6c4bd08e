package main

import (
	"fmt"
	"log"
	"math/rand/v2"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/danielpatrickdp/diffuservo/internal/config"
	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/creative"
	"github.com/danielpatrickdp/diffuservo/internal/forge"
	"github.com/danielpatrickdp/diffuservo/internal/health"
	"github.com/danielpatrickdp/diffuservo/internal/judge"
	"github.com/danielpatrickdp/diffuservo/internal/metrics"
	"github.com/danielpatrickdp/diffuservo/internal/orchestrator"
	"github.com/danielpatrickdp/diffuservo/internal/session"
)

// #region app

// app holds the collaborators shared by every run of one process.
type app struct {
	cfg        config.Config
	store      *session.Store
	renderer   *forge.Client
	judge      *judge.Judge
	prober     health.Prober
	closeProbe func() error
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	seed       uint64
}

func newApp(cfg config.Config, withMetrics bool) (*app, error) {
	store, err := session.NewStore(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	prober, closeProbe, err := health.New(cfg.Health, cfg.Forge.URL)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("health probe: %w", err)
	}

	a := &app{
		cfg:        cfg,
		store:      store,
		renderer:   forge.NewClient(cfg.Forge),
		judge:      judge.New(cfg.Judge),
		prober:     prober,
		closeProbe: closeProbe,
	}
	if withMetrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.metrics = metrics.New(a.registry)
	}
	log.Printf("[SERVER] forge=%s db=%s judge=%s creative=%s",
		cfg.Forge.URL, cfg.Store.DBPath, cfg.Judge.Model, cfg.Creative.Model)
	return a, nil
}

func (a *app) close() {
	if err := a.closeProbe(); err != nil {
		log.Printf("[HEALTH] close probe: %v", err)
	}
	if err := a.store.Close(); err != nil {
		log.Printf("[SERVER] close store: %v", err)
	}
}

// factory builds one orchestrator per theme. Each run gets its own random
// streams; a non-zero seed makes successive runs reproducible.
func (a *app) factory(lock control.Tier) orchestrator.Factory {
	var runs atomic.Uint64
	return func(theme string) (*orchestrator.Orchestrator, error) {
		n := runs.Add(1)
		s1, s2 := rand.Uint64(), rand.Uint64()
		if a.seed != 0 {
			s1, s2 = a.seed, n
		}

		deps := orchestrator.Deps{
			Renderer: a.renderer,
			Creative: creative.New(a.cfg.Creative, rand.New(rand.NewPCG(s1, s2))),
			Judge:    a.judge,
			Prober:   a.prober,
			Recorder: a.store,
			Seeds:    control.NewRandSeed(rand.New(rand.NewPCG(s2, s1))),
		}
		if a.metrics != nil {
			deps.Observer = a.metrics
		}

		o, err := orchestrator.New(theme, a.cfg.Loop, deps)
		if err != nil {
			return nil, err
		}
		if lock != "" {
			o.Lock(lock)
		}
		return o, nil
	}
}

// #endregion app
