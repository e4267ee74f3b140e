package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	apperr "github.com/iterflow/agent/pkg/errors"
)

func TestLoadDefaultsWhenNoFilesPresent(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home)
	require.NoError(t, err)

	require.Equal(t, home, cfg.Home)
	require.Equal(t, 3, cfg.Iteration.MaxIterations)
	require.Equal(t, 0.8, cfg.Iteration.QualityThreshold)
	require.Equal(t, 200_000, cfg.Iteration.TokenBudget)
	require.Equal(t, 2.0, cfg.Safety.MaxCostUSD)
	require.True(t, cfg.Safety.AbortOnRegression)
	require.Equal(t, 10, cfg.Safety.ToolLoop.Warning)
	require.Equal(t, 30, cfg.Safety.ToolLoop.CircuitBreaker)
	require.True(t, cfg.Memory.Compaction)
	require.Equal(t, 0.05, cfg.Memory.LearningDecayRate)
	require.True(t, cfg.Patterns.Enabled)
	require.Equal(t, 3, cfg.Patterns.MinSamples)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	home := t.TempDir()
	yaml := []byte("iteration:\n  max_iterations: 5\nsafety:\n  max_cost_usd: 9.5\n")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), yaml, 0o600))

	cfg, err := Load(home)
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Iteration.MaxIterations)
	require.Equal(t, 9.5, cfg.Safety.MaxCostUSD)
}

func TestLoadTOMLFallbackWhenNoYAML(t *testing.T) {
	home := t.TempDir()
	tomlBody := []byte("[iteration]\nmax_iterations = 7\n")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.toml"), tomlBody, 0o600))

	cfg, err := Load(home)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Iteration.MaxIterations)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	yaml := []byte("iteration:\n  max_iterations: 5\n")
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), yaml, 0o600))

	t.Setenv("AGENTD_ITERATION.MAX_ITERATIONS", "9")

	cfg, err := Load(home)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Iteration.MaxIterations)
}

func TestEnsureHomeDirCreatesLayout(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home)
	require.NoError(t, err)
	require.NoError(t, cfg.EnsureHomeDir())

	for _, d := range []string{"credentials", "skills/managed", "skills/proposed", "skills/user", "state", "cache"} {
		info, err := os.Stat(filepath.Join(home, d))
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestValidateRejectsEmptyProviderList(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home)
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	require.True(t, apperr.IsInvalidInput(err))
}

func TestValidateRejectsDuplicateProviderNames(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home)
	require.NoError(t, err)
	cfg.Providers = []ProviderConfig{
		{Name: "primary", Type: "anthropic"},
		{Name: "primary", Type: "openai"},
	}

	err = cfg.Validate()
	require.Error(t, err)
	require.True(t, apperr.IsInvalidInput(err))
}

func TestValidateAcceptsWellFormedProviders(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home)
	require.NoError(t, err)
	cfg.Providers = []ProviderConfig{{Name: "primary", Type: "anthropic", Models: []string{"claude"}}}

	require.NoError(t, cfg.Validate())
}

func TestSafetyConfigForConvertsLayeredValues(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home)
	require.NoError(t, err)

	sc := cfg.SafetyConfigFor()
	require.Equal(t, int64(200_000), sc.TokenBudget)
	require.Equal(t, 30, sc.ToolLoop.CircuitBreaker)
}
