package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/diffuservo/internal/control"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"FORGE_URL", "FORGE_TIMEOUT", "FORGE_OUTPUT_DIR", "TARGET_SCORE", "MAX_ITERATIONS",
		"PATIENCE", "HEARTBEAT_INTERVAL", "SILICON_KEY", "DEEPSEEK_KEY", "DIFFUSERVO_DB", "DIFFUSERVO_ADDR",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 0.90, cfg.Loop.TargetScore)
	assert.Equal(t, 15, cfg.Loop.MaxIterations)
	assert.Equal(t, 3, cfg.Loop.Convergence.Patience)
	assert.Equal(t, 5, cfg.Loop.HeartbeatInterval)
	assert.Equal(t, "http://127.0.0.1:7860", cfg.Forge.URL)
	assert.Equal(t, 90*time.Second, cfg.Forge.Timeout)
	assert.Equal(t, "diffuservo.db", cfg.Store.DBPath)
	assert.Equal(t, "Pro/Qwen/Qwen2.5-VL-7B-Instruct", cfg.Judge.Model)
	assert.Len(t, cfg.Loop.Bundles, 3)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Loop.MaxIterations)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "servo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
loop:
  max_iterations: 25
  target_score: 0.85
  iteration_delay: 250ms
  machine:
    explore_exit: 0.8
forge:
  url: http://forge.local:7860
  keep_images: 5
store:
  db_path: /tmp/file.db
`), 0o644))
	t.Setenv("MAX_ITERATIONS", "30")
	t.Setenv("SILICON_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30, cfg.Loop.MaxIterations, "env wins over file")
	assert.Equal(t, 0.85, cfg.Loop.TargetScore)
	assert.Equal(t, 250*time.Millisecond, cfg.Loop.IterationDelay)
	assert.Equal(t, 0.8, cfg.Loop.Machine.ExploreExit)
	assert.Equal(t, 0.88, cfg.Loop.Machine.OptimizeExit, "unset nested fields keep defaults")
	assert.Equal(t, "http://forge.local:7860", cfg.Forge.URL)
	assert.Equal(t, 5, cfg.Forge.KeepImages)
	assert.Equal(t, "/tmp/file.db", cfg.Store.DBPath)
	assert.Equal(t, "sk-test", cfg.Judge.APIKey)
	assert.Equal(t, "sk-test", cfg.Creative.APIKey, "creative falls back to the judge key")
}

func TestLoad_BundleOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "servo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
loop:
  bundles:
    FAST:
      checkpoint: sdxl_lightning.safetensors
      steps: 1
      cfg: 1.0
      sampler: Euler
      fixed_steps: true
      steps_min: 1
      steps_max: 1
      cfg_min: 1.0
      cfg_max: 1.0
      hr_scale: 1.0
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	fast := cfg.Loop.Bundles[control.TierFast]
	assert.True(t, fast.FixedSteps)
	assert.Equal(t, "sdxl_lightning.safetensors", fast.Checkpoint)
	assert.Equal(t, "juggernautXL_ragnarokBy.safetensors", cfg.Loop.Bundles[control.TierRealistic].Checkpoint)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	cases := map[string]string{
		"target out of range":  "loop:\n  target_score: 1.5\n",
		"zero iterations":      "loop:\n  max_iterations: 0\n",
		"bad url":              "forge:\n  url: not a url\n",
		"inverted steps range": "loop:\n  bundles:\n    FAST:\n      steps: 5\n      cfg: 1.5\n      sampler: x\n      steps_min: 8\n      steps_max: 4\n      cfg_min: 1\n      cfg_max: 2\n      hr_scale: 1\n",
		"explore above optimize": "loop:\n  machine:\n    explore_exit: 0.95\n",
		"malformed yaml":       "loop: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "servo.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvNumbersIgnoredWhenMalformed(t *testing.T) {
	clearEnv(t)
	t.Setenv("TARGET_SCORE", "high")
	t.Setenv("FORGE_TIMEOUT", "-3")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.90, cfg.Loop.TargetScore)
	assert.Equal(t, 90*time.Second, cfg.Forge.Timeout)
}
