package control

import "log"

// #region convergence-config

// ConvergenceConfig controls early stopping.
type ConvergenceConfig struct {
	Patience      int     `yaml:"patience" validate:"gte=1"`
	Threshold     float64 `yaml:"threshold" validate:"gte=0"`
	MinIterations int     `yaml:"min_iterations" validate:"gte=0"`
	HardCap       int     `yaml:"hard_cap" validate:"gte=1"`
}

// DefaultConvergenceConfig returns the standard stop policy.
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Patience:      3,
		Threshold:     0.005,
		MinIterations: 15,
		HardCap:       8,
	}
}

// #endregion convergence-config

// #region detector

// ConvergenceDetector tracks the best iteration and the plateau length.
type ConvergenceDetector struct {
	config        ConvergenceConfig
	best          BestRecord
	noImprovement int
}

// NewConvergenceDetector creates a detector with no best recorded.
func NewConvergenceDetector(config ConvergenceConfig) *ConvergenceDetector {
	return &ConvergenceDetector{config: config, best: BestRecord{Score: -1}}
}

// CheckNewBest records score for the given iteration. Negative (sentinel)
// scores are ignored and do not count toward patience.
func (d *ConvergenceDetector) CheckNewBest(score float64, params Params, iteration int, artifactRef string) bool {
	if score < 0 {
		return false
	}
	if score > d.best.Score {
		d.best = BestRecord{
			Score:       score,
			Params:      params,
			Iteration:   iteration,
			ArtifactRef: artifactRef,
		}
		d.noImprovement = 0
		log.Printf("[ORCH] new best: %.3f at iteration %d", score, iteration)
		return true
	}
	d.noImprovement++
	return false
}

// Best returns the best record. Found() is false until a valid score arrives.
func (d *ConvergenceDetector) Best() BestRecord {
	return d.best
}

// BestScore returns the best score, or 0 when none is recorded.
func (d *ConvergenceDetector) BestScore() float64 {
	if !d.best.Found() {
		return 0
	}
	return d.best.Score
}

// NoImprovement returns the number of valid iterations since the last best.
func (d *ConvergenceDetector) NoImprovement() int {
	return d.noImprovement
}

// ShouldStop reports whether the run has plateaued. It never stops before
// MinIterations. After that it stops when the last-3 improvement is below
// Threshold with Patience exhausted, or when the hard cap is reached.
func (d *ConvergenceDetector) ShouldStop(history []float64, iteration int) bool {
	if iteration < d.config.MinIterations {
		return false
	}
	if n := len(history); n >= 3 {
		improvement := history[n-1] - history[n-3]
		if improvement < d.config.Threshold && d.noImprovement >= d.config.Patience {
			log.Printf("[ORCH] plateau: improvement=%.5f < %.5f, %d iterations without a new best",
				improvement, d.config.Threshold, d.noImprovement)
			return true
		}
	}
	if d.noImprovement >= d.config.HardCap {
		log.Printf("[ORCH] hard stop: %d iterations without a new best", d.noImprovement)
		return true
	}
	return false
}

// #endregion detector
