package control

import "strings"

// #region bundle

// Bundle is the static render configuration for one tier.
type Bundle struct {
	Checkpoint string  `yaml:"checkpoint"`
	Steps      int     `yaml:"steps" validate:"gte=1"`
	Cfg        float64 `yaml:"cfg" validate:"gt=0"`
	Sampler    string  `yaml:"sampler" validate:"required"`
	FixedSteps bool    `yaml:"fixed_steps"` // one-step models: the adjuster never touches steps
	StepsMin   int     `yaml:"steps_min" validate:"gte=1"`
	StepsMax   int     `yaml:"steps_max" validate:"gtefield=StepsMin"`
	CfgMin     float64 `yaml:"cfg_min" validate:"gt=0"`
	CfgMax     float64 `yaml:"cfg_max" validate:"gtefield=CfgMin"`
	HREnabled  bool    `yaml:"hr_enabled"`
	HRScale    float64 `yaml:"hr_scale" validate:"gte=1"`
	HRSteps    int     `yaml:"hr_steps" validate:"gte=0"`
	Denoise    float64 `yaml:"denoise" validate:"gte=0,lte=1"`
	Suffix     string  `yaml:"suffix"`
}

const (
	realisticSuffix = ", 8k resolution, masterpiece, photorealistic, sharp focus, highly detailed, cinematic lighting"
	stylizedSuffix  = ", masterpiece, best quality, highly detailed, vibrant colors, official art"
)

// DefaultBundles returns the stock tier mapping.
func DefaultBundles() map[Tier]Bundle {
	return map[Tier]Bundle{
		TierFast: {
			Checkpoint: "sd_xl_turbo_1.0_fp16.safetensors",
			Steps:      5, Cfg: 1.5, Sampler: "DPM++ SDE",
			StepsMin: 4, StepsMax: 8, CfgMin: 1.0, CfgMax: 2.5,
			HREnabled: true, HRScale: 1.5, HRSteps: 4, Denoise: 0.35,
			Suffix: realisticSuffix,
		},
		TierRealistic: {
			Checkpoint: "juggernautXL_ragnarokBy.safetensors",
			Steps:      20, Cfg: 7.0, Sampler: "DPM++ 2M Karras",
			StepsMin: 16, StepsMax: 30, CfgMin: 4.0, CfgMax: 9.0,
			HREnabled: true, HRScale: 1.5, HRSteps: 10, Denoise: 0.4,
			Suffix: realisticSuffix,
		},
		TierStylized: {
			Checkpoint: "animagineXLV31_v31.safetensors",
			Steps:      28, Cfg: 7.0, Sampler: "Euler a",
			StepsMin: 20, StepsMax: 36, CfgMin: 5.0, CfgMax: 9.0,
			HREnabled: true, HRScale: 1.5, HRSteps: 15, Denoise: 0.5,
			Suffix: stylizedSuffix,
		},
	}
}

// Apply overwrites the tier-owned fields of p.
func (b Bundle) Apply(p *Params, t Tier) {
	p.Tier = t
	p.Checkpoint = b.Checkpoint
	p.Steps = b.Steps
	p.Cfg = b.Cfg
	p.Sampler = b.Sampler
	p.HREnabled = b.HREnabled
	p.HRScale = b.HRScale
	p.HRSteps = b.HRSteps
	p.Denoise = b.Denoise
}

// WithSuffix appends the tier quality suffix to prompt unless present.
func (b Bundle) WithSuffix(prompt string) string {
	if b.Suffix == "" || strings.HasSuffix(prompt, b.Suffix) {
		return prompt
	}
	return prompt + b.Suffix
}

// #endregion bundle

// #region defaults

// DefaultParams returns the starting render parameters for theme.
func DefaultParams(theme string) Params {
	p := Params{
		Prompt:         "cinematic shot of " + theme + ", volumetric light, sharp focus, highly detailed",
		NegativePrompt: "text, watermark, blurry, noise, distortion, ugly, low quality, jpeg artifacts, grain, nsfw",
		Width:          1024,
		Height:         1024,
		HRUpscaler:     "R-ESRGAN 4x+",
	}
	DefaultBundles()[TierFast].Apply(&p, TierFast)
	return p
}

// #endregion defaults
