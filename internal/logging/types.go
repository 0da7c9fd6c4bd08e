package logging

import "time"

// #region decision-entry
// DecisionEntry is a single row in the decision_log table.
type DecisionEntry struct {
	RunID       string    `json:"run_id"`
	Iteration   int       `json:"iteration"`
	TriggerType string    `json:"trigger"` // "transition" | "adjust" | "rollback" | "skip" | "tier" | "stop"
	SignalsJSON string    `json:"signals,omitempty"`
	Decision    string    `json:"decision"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
// #endregion decision-entry

// #region iteration-record
// IterationRecord captures the controller inputs behind one decision.
// Serialized as JSON into decision_log.signals_json for replay.
type IterationRecord struct {
	Iteration  int     `json:"iteration"`
	State      string  `json:"state"`
	Tier       string  `json:"tier"`
	Final      float64 `json:"final"`
	Best       float64 `json:"best"`
	Avg        float64 `json:"avg_gradient"`
	Volatility float64 `json:"volatility"`
	Factor     float64 `json:"factor,omitempty"`
	Stagnation int     `json:"stagnation"`
	NoImprove  int     `json:"no_improvement"`

	// Parameters after the decision
	Steps   int     `json:"steps"`
	Cfg     float64 `json:"cfg"`
	HRScale float64 `json:"hr_scale"`
	HRSteps int     `json:"hr_steps"`
	Seed    int64   `json:"seed"`
}
// #endregion iteration-record
