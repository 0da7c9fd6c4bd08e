package signals

import "sort"

// #region analyze

// Analyze computes the trend of the most recent window of history using the
// default window.
func Analyze(history []float64) Gradient {
	return AnalyzeWindow(history, DefaultAnalyzerConfig())
}

// AnalyzeWindow computes avg gradient and volatility over the last
// cfg.Window entries. With more than two deltas the single highest and lowest
// are dropped before averaging. Fewer than two entries yield a zero Gradient.
func AnalyzeWindow(history []float64, cfg AnalyzerConfig) Gradient {
	if len(history) < 2 {
		return Gradient{}
	}
	w := cfg.Window
	if w < 2 || w > len(history) {
		w = len(history)
	}
	recent := history[len(history)-w:]

	deltas := make([]float64, 0, len(recent)-1)
	for i := 0; i+1 < len(recent); i++ {
		deltas = append(deltas, recent[i+1]-recent[i])
	}

	if len(deltas) > 2 {
		sort.Float64s(deltas)
		deltas = deltas[1 : len(deltas)-1]
	}

	lo, hi := deltas[0], deltas[0]
	var sum float64
	for _, d := range deltas {
		sum += d
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}

	return Gradient{
		Avg:        sum / float64(len(deltas)),
		Volatility: hi - lo,
	}
}

// #endregion analyze
