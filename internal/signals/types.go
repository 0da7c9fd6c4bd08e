package signals

// #region gradient

// Gradient summarizes the recent trend of a score history.
type Gradient struct {
	Avg        float64 // trimmed mean of adjacent deltas
	Volatility float64 // spread (max - min) of the trimmed deltas
}

// #endregion gradient

// #region config

// AnalyzerConfig holds the window used by Analyze.
type AnalyzerConfig struct {
	Window int `yaml:"window" validate:"gte=2"` // most recent entries considered (default 7)
}

// DefaultAnalyzerConfig returns the standard seven-entry window.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{Window: 7}
}

// FeedbackConfig tunes the hint text handed to the prompt writer.
type FeedbackConfig struct {
	StrongThreshold  float64 `yaml:"strong_threshold" validate:"gte=0,lte=1"` // run-best dimensions above this are "keep doing"
	MinSuggestionLen int     `yaml:"min_suggestion_len" validate:"gte=0"`     // suggestions longer than this override score feedback
}

// DefaultFeedbackConfig returns defaults.
func DefaultFeedbackConfig() FeedbackConfig {
	return FeedbackConfig{
		StrongThreshold:  0.88,
		MinSuggestionLen: 10,
	}
}

// #endregion config
