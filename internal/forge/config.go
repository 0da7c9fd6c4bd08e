package forge

import (
	"os"
	"strconv"
	"time"
)

// #region config

// Config holds render backend settings.
type Config struct {
	URL           string        `yaml:"url" validate:"required,url"`
	Timeout       time.Duration `yaml:"timeout" validate:"gt=0"`
	OutputDir     string        `yaml:"output_dir" validate:"required"`
	KeepImages    int           `yaml:"keep_images" validate:"gte=1"`
	MinImageBytes int           `yaml:"min_image_bytes" validate:"gte=0"`
}

// DefaultConfig returns default render configuration.
// Reads from env vars: FORGE_URL, FORGE_TIMEOUT (seconds), FORGE_OUTPUT_DIR.
func DefaultConfig() Config {
	cfg := Config{
		URL:           "http://127.0.0.1:7860",
		Timeout:       90 * time.Second,
		OutputDir:     "outputs",
		KeepImages:    20,
		MinImageBytes: 1000,
	}
	if v := os.Getenv("FORGE_URL"); v != "" {
		cfg.URL = v
	}
	if v := os.Getenv("FORGE_TIMEOUT"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.Timeout = time.Duration(sec) * time.Second
		}
	}
	if v := os.Getenv("FORGE_OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	return cfg
}

// #endregion config
