package signals

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/diffuservo/internal/score"
)

// #region feedback-context

// FeedbackContext phrases the hint passed to the prompt writer.
// A suggestion longer than cfg.MinSuggestionLen replaces score feedback.
// Otherwise prev (the last valid sample, may be nil) is turned into a
// "fix the weakest dimension, keep the strong ones" instruction.
func FeedbackContext(prev *score.Sample, bests score.DimensionBests, suggestion string, cfg FeedbackConfig) string {
	suggestion = strings.TrimSpace(suggestion)
	if len(suggestion) > cfg.MinSuggestionLen {
		return "User feedback/Creative direction: " + suggestion
	}

	var b strings.Builder
	if prev != nil {
		fmt.Fprintf(&b, "Previous score: %.2f.", prev.Final)

		var strong []string
		for _, name := range bests.Above(cfg.StrongThreshold) {
			strong = append(strong, fmt.Sprintf("%s(%.2f)", name, bests[name]))
		}
		if len(strong) > 0 {
			fmt.Fprintf(&b, " Keep excelling in: %s.", strings.Join(strong, ", "))
		}

		if weak, ok := weakest(*prev); ok {
			fmt.Fprintf(&b, " Focus on improving %s (currently %.2f).", titleCase(weak.Name), weak.Value)
		}
	}

	if suggestion != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("External Insight/User Request: " + suggestion)
	}
	return b.String()
}

// #endregion feedback-context

// #region helpers

func weakest(s score.Sample) (score.Dimension, bool) {
	dims := s.Dimensions()
	if len(dims) == 0 {
		return score.Dimension{}, false
	}
	low := dims[0]
	for _, d := range dims[1:] {
		if d.Value < low.Value {
			low = d
		}
	}
	return low, true
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// #endregion helpers
