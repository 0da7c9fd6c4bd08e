package session

import (
	"errors"
	"time"

	"github.com/danielpatrickdp/diffuservo/internal/control"
	"github.com/danielpatrickdp/diffuservo/internal/score"
)

// ErrNotFound is returned when a run ID has no row.
var ErrNotFound = errors.New("run not found")

// #region status
// Status is the persisted lifecycle of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)
// #endregion status

// #region run
// Run is one persisted generation run.
type Run struct {
	ID            string          `json:"id"`
	Theme         string          `json:"theme"`
	Status        Status          `json:"status"`
	Outcome       control.Outcome `json:"outcome,omitempty"`
	InitialTier   control.Tier    `json:"initial_tier"`
	BestScore     float64         `json:"best_score"`
	BestIteration int             `json:"best_iteration"`
	BestArtifact  string          `json:"best_artifact,omitempty"`
	BestParams    *control.Params `json:"best_params,omitempty"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
// #endregion run

// #region iteration
// Iteration is one generate-score-adjust cycle of a run. Skipped iterations
// carry no sample.
type Iteration struct {
	RunID       string         `json:"run_id"`
	Index       int            `json:"iteration"`
	State       control.State  `json:"state"`
	Tier        control.Tier   `json:"tier"`
	Sample      *score.Sample  `json:"sample,omitempty"`
	Params      control.Params `json:"params"`
	ArtifactRef string         `json:"artifact_ref,omitempty"`
	Skipped     bool           `json:"skipped"`
	SkipReason  string         `json:"skip_reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
// #endregion iteration
