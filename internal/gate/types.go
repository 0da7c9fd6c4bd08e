package gate

import "errors"

// ErrInvalidScore is returned by Admit when a sample is vetoed.
var ErrInvalidScore = errors.New("invalid score")

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoSentinel   VetoType = "judge_sentinel"
	VetoOutOfRange VetoType = "out_of_range"
	VetoMissing    VetoType = "missing_dimension"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region gate-config
// GateConfig holds admission requirements for judge samples.
type GateConfig struct {
	RequiredDimensions []string `yaml:"required_dimensions" validate:"dive,oneof=concept quality aesthetics reasonableness"` // dimensions that must be present (e.g. concept, quality)
}

// DefaultGateConfig requires only the final score.
func DefaultGateConfig() GateConfig {
	return GateConfig{}
}

// #endregion gate-config

// #region gate-decision
// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      string       // "admit" | "reject"
	Reason      string
	Vetoed      bool
	VetoSignals []VetoSignal // non-empty if vetoed
}

// #endregion gate-decision
