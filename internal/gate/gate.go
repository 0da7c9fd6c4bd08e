package gate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/danielpatrickdp/diffuservo/internal/score"
)

// #region gate
// Gate decides whether a judge sample may enter the run's history.
type Gate struct {
	config   GateConfig
	validate *validator.Validate
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config, validate: validator.New()}
}

// sampleRules mirrors score.Sample with range constraints.
type sampleRules struct {
	Final          float64  `validate:"gte=0,lte=1"`
	Concept        *float64 `validate:"omitempty,gte=0,lte=1"`
	Quality        *float64 `validate:"omitempty,gte=0,lte=1"`
	Aesthetics     *float64 `validate:"omitempty,gte=0,lte=1"`
	Reasonableness *float64 `validate:"omitempty,gte=0,lte=1"`
}

// Evaluate checks the sentinel first, then ranges, then required dimensions.
func (g *Gate) Evaluate(s score.Sample) GateDecision {
	if s.IsSentinel() {
		return reject([]VetoSignal{{
			Type:   VetoSentinel,
			Reason: fmt.Sprintf("judge reported failure (final=%.2f)", s.Final),
		}})
	}

	var vetoes []VetoSignal

	// gte/lte comparisons also fail for NaN
	err := g.validate.Struct(sampleRules{
		Final:          s.Final,
		Concept:        s.Concept,
		Quality:        s.Quality,
		Aesthetics:     s.Aesthetics,
		Reasonableness: s.Reasonableness,
	})
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoOutOfRange,
				Reason: fmt.Sprintf("%s=%v outside [0,1]", strings.ToLower(fe.Field()), fe.Value()),
			})
		}
	}

	present := map[string]bool{}
	for _, d := range s.Dimensions() {
		present[d.Name] = true
	}
	for _, name := range g.config.RequiredDimensions {
		if !present[name] {
			vetoes = append(vetoes, VetoSignal{
				Type:   VetoMissing,
				Reason: fmt.Sprintf("missing %s score", name),
			})
		}
	}

	if len(vetoes) > 0 {
		return reject(vetoes)
	}
	return GateDecision{
		Action: "admit",
		Reason: fmt.Sprintf("passed gate: final=%.3f", s.Final),
	}
}

// Admit returns nil for an admissible sample, or an error wrapping
// ErrInvalidScore.
func (g *Gate) Admit(s score.Sample) error {
	d := g.Evaluate(s)
	if d.Vetoed {
		return fmt.Errorf("%w: %s", ErrInvalidScore, d.Reason)
	}
	return nil
}

// #endregion gate

// #region helpers
func reject(vetoes []VetoSignal) GateDecision {
	return GateDecision{
		Action:      "reject",
		Reason:      fmt.Sprintf("hard veto: %s", vetoes[0].Reason),
		Vetoed:      true,
		VetoSignals: vetoes,
	}
}

// #endregion helpers
