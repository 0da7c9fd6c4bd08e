package score

import "math"

// #region dimensions

// Dimension names, in the order the judge reports them.
const (
	DimConcept        = "concept"
	DimQuality        = "quality"
	DimAesthetics     = "aesthetics"
	DimReasonableness = "reasonableness"
)

// SentinelFinal marks a judge call that failed irrecoverably.
const SentinelFinal = -1.0

// #endregion dimensions

// #region sample

// Sample is one judge verdict for one image. Aesthetics and Reasonableness are
// nil when the judge ran in two-dimension mode.
type Sample struct {
	Final          float64  `json:"final_score"`
	Concept        *float64 `json:"concept_score,omitempty"`
	Quality        *float64 `json:"quality_score,omitempty"`
	Aesthetics     *float64 `json:"aesthetics_score,omitempty"`
	Reasonableness *float64 `json:"reasonableness_score,omitempty"`
	Reason         string   `json:"reason,omitempty"`
}

// Failed returns the sentinel sample a judge reports instead of an error.
func Failed(reason string) Sample {
	return Sample{Final: SentinelFinal, Reason: reason}
}

// IsSentinel reports whether the judge flagged this sample as a failure.
func (s Sample) IsSentinel() bool {
	return s.Final < 0
}

// Of returns a pointer to v, for building samples with optional dimensions.
func Of(v float64) *float64 {
	return &v
}

// Dimension is a named per-dimension score.
type Dimension struct {
	Name  string
	Value float64
}

// Dimensions returns the dimensions present on the sample, in judge order.
func (s Sample) Dimensions() []Dimension {
	var out []Dimension
	add := func(name string, v *float64) {
		if v != nil {
			out = append(out, Dimension{Name: name, Value: *v})
		}
	}
	add(DimConcept, s.Concept)
	add(DimQuality, s.Quality)
	add(DimAesthetics, s.Aesthetics)
	add(DimReasonableness, s.Reasonableness)
	return out
}

// ConceptOr returns the concept score, or fallback when absent.
func (s Sample) ConceptOr(fallback float64) float64 {
	if s.Concept == nil {
		return fallback
	}
	return *s.Concept
}

// QualityOr returns the quality score, or fallback when absent.
func (s Sample) QualityOr(fallback float64) float64 {
	if s.Quality == nil {
		return fallback
	}
	return *s.Quality
}

// #endregion sample

// #region history

// History is a bounded FIFO of final scores in chronological order.
type History struct {
	capacity int
	values   []float64
}

// NewHistory creates an empty history. capacity < 2 is raised to 2 so a
// gradient can always be formed.
func NewHistory(capacity int) *History {
	if capacity < 2 {
		capacity = 2
	}
	return &History{capacity: capacity, values: make([]float64, 0, capacity)}
}

// Push appends v, evicting the oldest entry on overflow.
func (h *History) Push(v float64) {
	if len(h.values) == h.capacity {
		copy(h.values, h.values[1:])
		h.values = h.values[:len(h.values)-1]
	}
	h.values = append(h.values, v)
}

// Values returns a copy of the history, oldest first.
func (h *History) Values() []float64 {
	out := make([]float64, len(h.values))
	copy(out, h.values)
	return out
}

// Len returns the number of stored scores.
func (h *History) Len() int {
	return len(h.values)
}

// Capacity returns the eviction bound.
func (h *History) Capacity() int {
	return h.capacity
}

// #endregion history

// #region dimension-bests

// DimensionBests tracks the best value seen per dimension across a run.
type DimensionBests map[string]float64

// Record folds the present dimensions of s into the bests.
func (b DimensionBests) Record(s Sample) {
	for _, d := range s.Dimensions() {
		if cur, ok := b[d.Name]; !ok || d.Value > cur {
			b[d.Name] = d.Value
		}
	}
}

// Above returns the dimensions whose best exceeds threshold, in judge order.
func (b DimensionBests) Above(threshold float64) []string {
	var out []string
	for _, name := range []string{DimConcept, DimQuality, DimAesthetics, DimReasonableness} {
		if v, ok := b[name]; ok && v > threshold {
			out = append(out, name)
		}
	}
	return out
}

// #endregion dimension-bests

// #region validity

// InRange reports whether v is a finite value in [0,1].
func InRange(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

// #endregion validity
