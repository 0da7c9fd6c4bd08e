package orchestrator

// #region imports
import (
	"context"
	"errors"
	"time"

	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/creative"
	"github.com/danielpatrickdp/diffuservo/internal/gate"
	"github.com/danielpatrickdp/diffuservo/internal/logging"
	"github.com/danielpatrickdp/diffuservo/internal/score"
	"github.com/danielpatrickdp/diffuservo/internal/session"
	"github.com/danielpatrickdp/diffuservo/internal/signals"
	"github.com/danielpatrickdp/diffuservo/internal/update"
)

// #endregion

// #region errors

var (
	// ErrStartupUnhealthy means the render backend failed the pre-run probe.
	ErrStartupUnhealthy = errors.New("render backend unhealthy at startup")
	// ErrHeartbeatFailed means a mid-run probe failed and the run was aborted.
	ErrHeartbeatFailed = errors.New("render backend heartbeat failed")
)

// #endregion

// #region collaborators

// Renderer turns parameters into an image and returns a reference to it.
type Renderer interface {
	Render(ctx context.Context, runID string, iteration int, p control.Params) (string, error)
}

// Creative writes prompts and recommends a model tier.
type Creative interface {
	RecommendModelTier(ctx context.Context, theme string) (creative.Recommendation, error)
	WritePrompt(ctx context.Context, theme, feedback string, allowRandomAngle bool) (string, error)
}

// Judge scores a rendered image. Irrecoverable failures come back as a
// sentinel sample, not an error.
type Judge interface {
	Score(ctx context.Context, artifactRef, concept string, conceptWeight float64) (score.Sample, error)
}

// Prober reports backend health.
type Prober interface {
	IsHealthy(ctx context.Context) bool
}

// Recorder persists runs, iterations and decisions. session.Store satisfies it.
type Recorder interface {
	CreateRun(theme string, initial control.Tier) (session.Run, error)
	AddIteration(it session.Iteration) error
	CompleteRun(runID string, outcome control.Outcome, best control.BestRecord) error
	FailRun(runID string, reason string) error
	LogDecision(entry logging.DecisionEntry) error
}

// Observer receives loop events for metrics. Methods must not block.
type Observer interface {
	ObserveIteration(state control.State, tier control.Tier, final float64)
	ObserveSkip(reason string)
	ObserveTransition(from, to control.State)
	ObserveOutcome(outcome control.Outcome, best float64)
}

// Deps bundles a run's collaborators. Recorder and Observer may be nil.
type Deps struct {
	Renderer Renderer
	Creative Creative
	Judge    Judge
	Prober   Prober
	Recorder Recorder
	Observer Observer
	Seeds    control.SeedSource
}

// #endregion

// #region config

// Config holds per-run loop settings and the controller tunables.
type Config struct {
	TargetScore       float64       `yaml:"target_score" validate:"gt=0,lte=1"`
	MaxIterations     int           `yaml:"max_iterations" validate:"gte=1"`
	HeartbeatInterval int           `yaml:"heartbeat_interval" validate:"gte=0"`
	HistoryCapacity   int           `yaml:"history_capacity" validate:"gte=2"`
	IterationDelay    time.Duration `yaml:"iteration_delay" validate:"gte=0"`
	RenderTimeout     time.Duration `yaml:"render_timeout" validate:"gt=0"`
	JudgeTimeout      time.Duration `yaml:"judge_timeout" validate:"gt=0"`
	ConceptWeight     float64       `yaml:"concept_weight" validate:"gte=0,lte=1"`

	Machine     control.MachineConfig     `yaml:"machine"`
	Convergence control.ConvergenceConfig `yaml:"convergence"`
	Tier        control.TierConfig        `yaml:"tier"`
	PID         update.PIDConfig          `yaml:"pid"`
	Adjust      update.AdjustConfig       `yaml:"adjust"`
	Analyzer    signals.AnalyzerConfig    `yaml:"analyzer"`
	Feedback    signals.FeedbackConfig    `yaml:"feedback"`
	Gate        gate.GateConfig           `yaml:"gate"`

	Bundles map[control.Tier]control.Bundle `yaml:"bundles" validate:"required,dive"`
}

// DefaultConfig returns the stock controller tuning.
func DefaultConfig() Config {
	return Config{
		TargetScore:       0.90,
		MaxIterations:     15,
		HeartbeatInterval: 5,
		HistoryCapacity:   5,
		IterationDelay:    time.Second,
		RenderTimeout:     90 * time.Second,
		JudgeTimeout:      60 * time.Second,
		ConceptWeight:     0.5,
		Machine:           control.DefaultMachineConfig(),
		Convergence:       control.DefaultConvergenceConfig(),
		Tier:              control.DefaultTierConfig(),
		PID:               update.DefaultPIDConfig(),
		Adjust:            update.DefaultAdjustConfig(),
		Analyzer:          signals.DefaultAnalyzerConfig(),
		Feedback:          signals.DefaultFeedbackConfig(),
		Gate:              gate.DefaultGateConfig(),
		Bundles:           control.DefaultBundles(),
	}
}

// #endregion

// #region report

// Report summarizes a finished run.
type Report struct {
	RunID      string             `json:"run_id"`
	Theme      string             `json:"theme"`
	Outcome    control.Outcome    `json:"outcome"`
	Best       control.BestRecord `json:"best"`
	Iterations int                `json:"iterations"`
	Skipped    int                `json:"skipped"`
	FinalState control.State      `json:"final_state"`
	FinalTier  control.Tier       `json:"final_tier"`
}

// #endregion
