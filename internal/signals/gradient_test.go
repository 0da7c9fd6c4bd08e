package signals

import (
	"math"
	"testing"
)

const eps = 1e-9

// #region short-history

func TestAnalyze_ShortHistory(t *testing.T) {
	for _, h := range [][]float64{nil, {}, {0.7}} {
		g := Analyze(h)
		if g.Avg != 0 || g.Volatility != 0 {
			t.Errorf("history %v: expected (0,0), got (%f,%f)", h, g.Avg, g.Volatility)
		}
	}
}

// #endregion short-history

// #region direction

func TestAnalyze_Increasing(t *testing.T) {
	g := Analyze([]float64{0.5, 0.55, 0.62, 0.7, 0.71})
	if g.Avg <= 0 {
		t.Fatalf("expected positive gradient, got %f", g.Avg)
	}
}

func TestAnalyze_Decreasing(t *testing.T) {
	g := Analyze([]float64{0.9, 0.85, 0.8, 0.7})
	if g.Avg >= 0 {
		t.Fatalf("expected negative gradient, got %f", g.Avg)
	}
}

func TestAnalyze_TwoEntriesUntrimmed(t *testing.T) {
	g := Analyze([]float64{0.5, 0.6})
	if math.Abs(g.Avg-0.1) > eps {
		t.Fatalf("expected 0.1, got %f", g.Avg)
	}
	if g.Volatility != 0 {
		t.Fatalf("single delta has no spread, got %f", g.Volatility)
	}
}

// #endregion direction

// #region trimming

func TestAnalyze_TrimmedMeanResistsOutlier(t *testing.T) {
	base := []float64{0.5, 0.55, 0.6, 0.65}
	noisy := []float64{0.5, 0.55, 0.0, 0.6, 0.65}

	trimmedShift := math.Abs(Analyze(noisy).Avg - Analyze(base).Avg)
	untrimmedShift := math.Abs(plainMean(noisy) - plainMean(base))

	if trimmedShift >= untrimmedShift {
		t.Fatalf("trimmed shift %f should be below untrimmed shift %f", trimmedShift, untrimmedShift)
	}
}

func TestAnalyze_VolatilityUsesTrimmedDeltas(t *testing.T) {
	// deltas: 0.1, -0.4, 0.4, 0.1 -> trimmed: 0.1, 0.1
	g := Analyze([]float64{0.4, 0.5, 0.1, 0.5, 0.6})
	if g.Volatility > eps {
		t.Fatalf("expected zero volatility after trimming, got %f", g.Volatility)
	}
}

func TestAnalyze_WindowLimitsToSeven(t *testing.T) {
	h := []float64{0.0, 0.9, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7}
	g := Analyze(h)
	if math.Abs(g.Avg-0.1) > eps {
		t.Fatalf("expected only last 7 entries used (avg 0.1), got %f", g.Avg)
	}
}

// #endregion trimming

func plainMean(h []float64) float64 {
	var sum float64
	for i := 0; i+1 < len(h); i++ {
		sum += h[i+1] - h[i]
	}
	return sum / float64(len(h)-1)
}
