// Package config loads this daemon's configuration the way the teacher's
// internal/infrastructure/config does: built-in defaults, then a layered
// file read, then environment variables, unmarshaled into mapstructure
// structs. Generalized here to spec.md §6's enumerated sections (iteration,
// safety, memory, patterns) plus the provider list and filesystem layout.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/iterflow/agent/internal/llm"
	"github.com/iterflow/agent/internal/patterns"
	"github.com/iterflow/agent/internal/safety"
	apperr "github.com/iterflow/agent/pkg/errors"
)

// IterationConfig governs the orchestrator's plan/execute/evaluate loop.
type IterationConfig struct {
	MaxIterations        int     `mapstructure:"max_iterations"`
	QualityThreshold      float64 `mapstructure:"quality_threshold"`
	ImprovementThreshold float64 `mapstructure:"improvement_threshold"`
	TimeoutSeconds        int     `mapstructure:"timeout_seconds"`
	TokenBudget            int     `mapstructure:"token_budget"`
	SkipEvalConfidence    float64 `mapstructure:"skip_eval_confidence"`
}

// SafetyConfig mirrors internal/safety.Config's mapstructure-friendly shape.
type SafetyConfig struct {
	MaxCostUSD          float64           `mapstructure:"max_cost_usd"`
	AbortOnRegression   bool              `mapstructure:"abort_on_regression"`
	RegressionThreshold float64           `mapstructure:"regression_threshold"`
	ToolLoop            ToolLoopThresholds `mapstructure:"tool_loop"`
}

// ToolLoopThresholds is the mapstructure mirror of safety.ToolLoopThresholds.
type ToolLoopThresholds struct {
	Warning        int `mapstructure:"warning"`
	Critical       int `mapstructure:"critical"`
	CircuitBreaker int `mapstructure:"circuit_breaker"`
}

// MemoryConfig governs compaction and learning decay/storage.
type MemoryConfig struct {
	Compaction        bool    `mapstructure:"compaction"`
	LearningDecayRate float64 `mapstructure:"learning_decay_rate"`
	MaxStorageMB      int     `mapstructure:"max_storage_mb"`
}

// PatternsConfig governs the usage pattern miner.
type PatternsConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	MineIntervalHours int     `mapstructure:"mine_interval_hours"`
	MinConfidence     float64 `mapstructure:"min_confidence"`
	MinSamples        int     `mapstructure:"min_samples"`
}

// ProviderConfig mirrors llm.Config's mapstructure-friendly shape.
type ProviderConfig struct {
	Name     string   `mapstructure:"name"`
	Type     string   `mapstructure:"type"`
	BaseURL  string   `mapstructure:"base_url"`
	APIKey   string   `mapstructure:"api_key"`
	Models   []string `mapstructure:"models"`
	Priority int      `mapstructure:"priority"`
}

// Config is the fully layered, unmarshaled configuration for one process.
type Config struct {
	Home      string           `mapstructure:"home"`
	LogLevel  string           `mapstructure:"log_level"`
	Iteration IterationConfig  `mapstructure:"iteration"`
	Safety    SafetyConfig     `mapstructure:"safety"`
	Memory    MemoryConfig     `mapstructure:"memory"`
	Patterns  PatternsConfig   `mapstructure:"patterns"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

// DefaultHomeDir returns ~/.agentrc, overridable by AGENTD_HOME.
func DefaultHomeDir() string {
	if h := os.Getenv("AGENTD_HOME"); h != "" {
		return h
	}
	return filepath.Join(os.Getenv("HOME"), ".agentrc")
}

// Load layers config the way the teacher's Load() does: SetDefault values,
// then a home-directory config.yaml (falling back to config.toml per
// spec.md §6's filesystem layout), then a .env file for dev-time provider
// keys, then environment variables with an AGENTD_ prefix taking final
// priority.
func Load(home string) (*Config, error) {
	if home == "" {
		home = DefaultHomeDir()
	}

	v := viper.New()
	setDefaults(v, home)

	_ = godotenv.Load(filepath.Join(home, ".env"))

	yamlPath := filepath.Join(home, "config.yaml")
	if _, statErr := os.Stat(yamlPath); statErr == nil {
		v.SetConfigFile(yamlPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if tomlSettings, tomlErr := readTOMLFallback(filepath.Join(home, "config.toml")); tomlErr == nil && tomlSettings != nil {
		if err := v.MergeConfigMap(tomlSettings); err != nil {
			return nil, fmt.Errorf("merge config.toml: %w", err)
		}
	}

	v.SetEnvPrefix("AGENTD")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Home = home
	return &cfg, nil
}

// readTOMLFallback parses home/config.toml into a generic settings map for
// viper.MergeConfigMap, used only when no config.yaml is present.
func readTOMLFallback(path string) (map[string]any, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("home", home)
	v.SetDefault("log_level", "info")

	v.SetDefault("iteration.max_iterations", 3)
	v.SetDefault("iteration.quality_threshold", 0.8)
	v.SetDefault("iteration.improvement_threshold", 0.05)
	v.SetDefault("iteration.timeout_seconds", 300)
	v.SetDefault("iteration.token_budget", 200_000)
	v.SetDefault("iteration.skip_eval_confidence", 0.95)

	v.SetDefault("safety.max_cost_usd", 2.0)
	v.SetDefault("safety.abort_on_regression", true)
	v.SetDefault("safety.regression_threshold", 0.2)
	v.SetDefault("safety.tool_loop.warning", 10)
	v.SetDefault("safety.tool_loop.critical", 20)
	v.SetDefault("safety.tool_loop.circuit_breaker", 30)

	v.SetDefault("memory.compaction", true)
	v.SetDefault("memory.learning_decay_rate", 0.05)
	v.SetDefault("memory.max_storage_mb", 500)

	v.SetDefault("patterns.enabled", true)
	v.SetDefault("patterns.mine_interval_hours", 24)
	v.SetDefault("patterns.min_confidence", 0.7)
	v.SetDefault("patterns.min_samples", 3)
}

// Validate checks the loaded config is usable before any provider or store
// wiring happens. It returns a *errors.AppError (CodeInvalidInput) on the
// first problem found, since a malformed provider list is a configuration
// mistake rather than an internal error.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return apperr.NewInvalidInputError("no providers configured")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return apperr.NewInvalidInputError("provider entry missing name")
		}
		if p.Type == "" {
			return apperr.NewInvalidInputError(fmt.Sprintf("provider %q missing type", p.Name))
		}
		if seen[p.Name] {
			return apperr.NewInvalidInputError(fmt.Sprintf("duplicate provider name %q", p.Name))
		}
		seen[p.Name] = true
	}
	return nil
}

// EnsureHomeDir creates the filesystem layout spec.md §6 names under Home.
// Every directory is created with mode 0700; no files are created here.
func (c *Config) EnsureHomeDir() error {
	dirs := []string{
		c.Home,
		filepath.Join(c.Home, "credentials"),
		filepath.Join(c.Home, "skills", "managed"),
		filepath.Join(c.Home, "skills", "proposed"),
		filepath.Join(c.Home, "skills", "user"),
		filepath.Join(c.Home, "state"),
		filepath.Join(c.Home, "cache"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// DBPath is the SQLite database file under Home.
func (c *Config) DBPath() string {
	return filepath.Join(c.Home, "agent.db")
}

// StatePath is the state/ directory statewriter owns.
func (c *Config) StatePath() string {
	return filepath.Join(c.Home, "state")
}

// SafetyConfigFor converts the layered SafetyConfig into safety.Config.
func (c *Config) SafetyConfigFor() safety.Config {
	return safety.Config{
		TokenBudget:         int64(c.Iteration.TokenBudget),
		MaxCostUSD:          c.Safety.MaxCostUSD,
		TimeoutSeconds:      c.Iteration.TimeoutSeconds,
		AbortOnRegression:   c.Safety.AbortOnRegression,
		RegressionThreshold: c.Safety.RegressionThreshold,
		ToolLoop: safety.ToolLoopThresholds{
			Warning:        c.Safety.ToolLoop.Warning,
			Critical:       c.Safety.ToolLoop.Critical,
			CircuitBreaker: c.Safety.ToolLoop.CircuitBreaker,
		},
	}
}

// PatternsConfigFor converts the layered PatternsConfig into patterns.Config,
// keeping the miner's default lookback window and overriding only the
// confidence/sample thresholds the config layer exposes.
func (c *Config) PatternsConfigFor() patterns.Config {
	cfg := patterns.DefaultConfig()
	cfg.MinConfidence = c.Patterns.MinConfidence
	cfg.MinSamples = c.Patterns.MinSamples
	return cfg
}

// ProviderConfigs converts the layered provider list into llm.Config values
// ready for llm.Create.
func (c *Config) ProviderConfigs() []llm.Config {
	out := make([]llm.Config, 0, len(c.Providers))
	for _, p := range c.Providers {
		out = append(out, llm.Config{
			Name: p.Name, Type: p.Type, BaseURL: p.BaseURL, APIKey: p.APIKey,
			Models: p.Models, Priority: p.Priority,
		})
	}
	return out
}

// MineInterval is the pattern miner's timer period.
func (c *Config) MineInterval() time.Duration {
	return time.Duration(c.Patterns.MineIntervalHours) * time.Hour
}
