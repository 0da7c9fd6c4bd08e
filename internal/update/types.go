package update

// #region pid-config
// PIDConfig holds controller gains and output scaling.
type PIDConfig struct {
	Kp         float64 `yaml:"kp" validate:"gte=0"`
	Ki         float64 `yaml:"ki" validate:"gte=0"`
	Kd         float64 `yaml:"kd" validate:"gte=0"`
	StepsScale float64 `yaml:"steps_scale" validate:"gt=0"` // output -> steps delta (default 5)
	CfgScale   float64 `yaml:"cfg_scale" validate:"gt=0"`   // output -> cfg delta (default 0.5)
}

// DefaultPIDConfig returns the standard gains.
func DefaultPIDConfig() PIDConfig {
	return PIDConfig{
		Kp:         1.5,
		Ki:         0.3,
		Kd:         0.5,
		StepsScale: 5,
		CfgScale:   0.5,
	}
}
// #endregion pid-config

// #region delta
// Delta is a suggested parameter change.
type Delta struct {
	Steps int
	Cfg   float64
}
// #endregion delta

// #region adjust-config
// AdjustConfig holds the per-state edit limits.
type AdjustConfig struct {
	FactorStep        float64 `yaml:"factor_step" validate:"gte=0"`                // adaptive factor increase when improving
	FactorDrop        float64 `yaml:"factor_drop" validate:"gte=0"`                // adaptive factor decrease when degrading
	FactorMin         float64 `yaml:"factor_min" validate:"gt=0"`
	FactorMax         float64 `yaml:"factor_max" validate:"gtefield=FactorMin"`
	ImprovingGradient float64 `yaml:"improving_gradient"`                          // avg gradient above this raises the factor
	DegradingGradient float64 `yaml:"degrading_gradient"`                          // avg gradient below this lowers the factor
	OscillationLimit  float64 `yaml:"oscillation_limit" validate:"gt=0"`           // volatility above this freezes parameters
	OscillationMinLen int     `yaml:"oscillation_min_len" validate:"gte=2"`        // history length needed before the guard applies
	QualityHRFloor    float64 `yaml:"quality_hr_floor" validate:"gte=0,lte=1"`     // OPTIMIZE: quality below this adds HR steps
	HRStepsMax        int     `yaml:"hr_steps_max" validate:"gte=0"`
	HRScaleStep       float64 `yaml:"hr_scale_step" validate:"gte=0"`
	HRScaleMin        float64 `yaml:"hr_scale_min" validate:"gte=1"`
	HRScaleMax        float64 `yaml:"hr_scale_max" validate:"gtefield=HRScaleMin"`
	FlatGradient      float64 `yaml:"flat_gradient"`                               // OPTIMIZE: avg gradient below this raises HR scale
	StyleFragment     string  `yaml:"style_fragment"`                              // EXPLORE: appended once when quality is not the lagging dimension
}

// DefaultAdjustConfig returns defaults.
func DefaultAdjustConfig() AdjustConfig {
	return AdjustConfig{
		FactorStep:        0.1,
		FactorDrop:        0.15,
		FactorMin:         0.5,
		FactorMax:         1.5,
		ImprovingGradient: 0.05,
		DegradingGradient: -0.03,
		OscillationLimit:  0.1,
		OscillationMinLen: 3,
		QualityHRFloor:    0.85,
		HRStepsMax:        6,
		HRScaleStep:       0.1,
		HRScaleMin:        1.0,
		HRScaleMax:        1.8,
		FlatGradient:      0.02,
		StyleFragment:     ", vivid colors, cinematic lighting",
	}
}
// #endregion adjust-config

// #region adjust-result
// Result records what Adjust changed.
type Result struct {
	Action           string  // "explore_params" | "explore_prompt" | "optimize_hr" | "reroll" | "oscillation" | "frozen"
	Reason           string
	Delta            Delta
	Factor           float64
	ForceFinetune    bool
	ProportionalOnly bool
}
// #endregion adjust-result
