// Package config assembles the service configuration from defaults, an
// optional YAML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/diffuservo/internal/creative"
	"github.com/danielpatrickdp/diffuservo/internal/forge"
	"github.com/danielpatrickdp/diffuservo/internal/health"
	"github.com/danielpatrickdp/diffuservo/internal/judge"
	"github.com/danielpatrickdp/diffuservo/internal/llm"
	"github.com/danielpatrickdp/diffuservo/internal/orchestrator"
)

// #region types

// StoreConfig locates the session database.
type StoreConfig struct {
	DBPath        string `yaml:"db_path" validate:"required"`
	RetentionDays int    `yaml:"retention_days" validate:"gte=1"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// BatchConfig bounds concurrent runs.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" validate:"gte=1"`
}

// Config is the full service configuration.
type Config struct {
	Loop     orchestrator.Config `yaml:"loop"`
	Forge    forge.Config        `yaml:"forge"`
	Judge    llm.Config          `yaml:"judge"`
	Creative llm.Config          `yaml:"creative"`
	Health   health.Config       `yaml:"health"`
	Store    StoreConfig         `yaml:"store"`
	Server   ServerConfig        `yaml:"server"`
	Batch    BatchConfig         `yaml:"batch"`
}

// #endregion types

// #region defaults

// Default returns the stock configuration with env overrides applied.
func Default() Config {
	cfg := Config{
		Loop:     orchestrator.DefaultConfig(),
		Forge:    forge.DefaultConfig(),
		Judge:    judge.DefaultConfig(),
		Creative: creative.DefaultConfig(),
		Health:   health.DefaultConfig(),
		Store:    StoreConfig{DBPath: "diffuservo.db", RetentionDays: 7},
		Server:   ServerConfig{Addr: ":8088"},
		Batch:    BatchConfig{Concurrency: 2},
	}
	applyEnv(&cfg)
	return cfg
}

// #endregion defaults

// #region load

// Load builds the configuration. A missing file at path is not an error;
// an empty path skips the file layer. Env vars override file values.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return err
	}
	if c.Loop.Machine.OptimizeExit < c.Loop.Machine.ExploreExit {
		return fmt.Errorf("loop.machine.optimize_exit %.2f below explore_exit %.2f",
			c.Loop.Machine.OptimizeExit, c.Loop.Machine.ExploreExit)
	}
	return nil
}

// #endregion load

// #region env

func applyEnv(cfg *Config) {
	cfg.Forge.URL = envOr("FORGE_URL", cfg.Forge.URL)
	cfg.Forge.Timeout = envSeconds("FORGE_TIMEOUT", cfg.Forge.Timeout)
	cfg.Loop.RenderTimeout = envSeconds("FORGE_TIMEOUT", cfg.Loop.RenderTimeout)
	cfg.Forge.OutputDir = envOr("FORGE_OUTPUT_DIR", cfg.Forge.OutputDir)

	cfg.Loop.TargetScore = envFloat("TARGET_SCORE", cfg.Loop.TargetScore)
	cfg.Loop.MaxIterations = envInt("MAX_ITERATIONS", cfg.Loop.MaxIterations)
	cfg.Loop.Convergence.Patience = envInt("PATIENCE", cfg.Loop.Convergence.Patience)
	cfg.Loop.HeartbeatInterval = envInt("HEARTBEAT_INTERVAL", cfg.Loop.HeartbeatInterval)

	cfg.Judge.APIKey = envOr("SILICON_KEY", cfg.Judge.APIKey)
	cfg.Creative.APIKey = envOr("DEEPSEEK_KEY", cfg.Creative.APIKey)
	if cfg.Creative.APIKey == "" {
		cfg.Creative.APIKey = cfg.Judge.APIKey
	}

	cfg.Store.DBPath = envOr("DIFFUSERVO_DB", cfg.Store.DBPath)
	cfg.Server.Addr = envOr("DIFFUSERVO_ADDR", cfg.Server.Addr)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			return time.Duration(sec) * time.Second
		}
	}
	return fallback
}

// #endregion env
