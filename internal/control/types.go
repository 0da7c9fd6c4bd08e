package control

import "strings"

// #region state

// State is the controller lifecycle phase.
type State string

const (
	StateInit      State = "INIT"
	StateExplore   State = "EXPLORE"
	StateOptimize  State = "OPTIMIZE"
	StateFinetune  State = "FINETUNE"
	StateConverged State = "CONVERGED"
)

// #endregion state

// #region tier

// Tier names a generation-quality bundle on the render backend.
type Tier string

const (
	TierFast      Tier = "FAST"
	TierRealistic Tier = "REALISTIC"
	TierStylized  Tier = "STYLIZED"
)

// ParseTier accepts tier names and the backend model aliases
// (PREVIEW, RENDER, ANIME) an LLM tends to answer with.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FAST", "PREVIEW":
		return TierFast, true
	case "REALISTIC", "RENDER":
		return TierRealistic, true
	case "STYLIZED", "ANIME":
		return TierStylized, true
	}
	return "", false
}

// #endregion tier

// #region outcome

// Outcome is how a run ended. Success and give-up are distinct values.
type Outcome string

const (
	OutcomeNone          Outcome = ""
	OutcomeTargetReached Outcome = "target_reached"
	OutcomeAbandoned     Outcome = "abandoned"
	OutcomePlateaued     Outcome = "plateaued"
	OutcomeExhausted     Outcome = "exhausted"
	OutcomeAborted       Outcome = "aborted"
)

// #endregion outcome

// #region params

// Params holds render-request knobs. It is a value type: assigning it
// takes a snapshot.
type Params struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt"`
	Steps          int     `json:"steps"`
	Cfg            float64 `json:"cfg_scale"`
	Sampler        string  `json:"sampler_name"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	HREnabled      bool    `json:"enable_hr"`
	HRScale        float64 `json:"hr_scale"`
	HRUpscaler     string  `json:"hr_upscaler"`
	HRSteps        int     `json:"hr_second_pass_steps"`
	Denoise        float64 `json:"denoising_strength"`
	Seed           int64   `json:"seed"`
	Tier           Tier    `json:"tier"`
	Checkpoint     string  `json:"checkpoint,omitempty"`
}

// #endregion params

// #region best-record

// BestRecord is the highest-scoring iteration seen so far.
type BestRecord struct {
	Score       float64 `json:"score"`
	Params      Params  `json:"params"`
	Iteration   int     `json:"iteration"`
	ArtifactRef string  `json:"artifact_ref"`
}

// Found reports whether any valid iteration has been recorded.
func (b BestRecord) Found() bool {
	return b.Iteration > 0
}

// #endregion best-record
