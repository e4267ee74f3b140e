package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iterflow/agent/internal/rerr"
)

func baseConfig() Config {
	return Config{
		TokenBudget:         1000,
		MaxCostUSD:          1.0,
		TimeoutSeconds:      60,
		AbortOnRegression:   true,
		RegressionThreshold: 0.1,
		ToolLoop:            DefaultToolLoopThresholds(),
	}
}

func TestCheckPreBudgetExceeded(t *testing.T) {
	now := time.Now()
	c := New(baseConfig(), now)
	c.AddTokens(1001)

	err := c.CheckPre(now)
	var rt *rerr.RuntimeError
	require.ErrorAs(t, err, &rt)
	require.Equal(t, rerr.KindBudgetExceeded, rt.Kind)
}

func TestCheckPreCostExceeded(t *testing.T) {
	now := time.Now()
	c := New(baseConfig(), now)
	c.AddCost(1.5)

	err := c.CheckPre(now)
	var rt *rerr.RuntimeError
	require.ErrorAs(t, err, &rt)
	require.Equal(t, rerr.KindCostLimitExceeded, rt.Kind)
}

func TestCheckPreTimeout(t *testing.T) {
	start := time.Now()
	c := New(baseConfig(), start)
	err := c.CheckPre(start.Add(2 * time.Minute))
	var rt *rerr.RuntimeError
	require.ErrorAs(t, err, &rt)
}

func TestCheckPostNoRegressionWhenBestNil(t *testing.T) {
	now := time.Now()
	c := New(baseConfig(), now)
	err := c.CheckPost(now, 0.1, nil)
	require.NoError(t, err)
}

func TestCheckPostRegressionTriggers(t *testing.T) {
	now := time.Now()
	c := New(baseConfig(), now)
	best := 0.8
	err := c.CheckPost(now, 0.5, &best)
	var rt *rerr.RuntimeError
	require.ErrorAs(t, err, &rt)
	require.Equal(t, rerr.KindScoreRegression, rt.Kind)
}

func TestCheckPostWithinRegressionThresholdPasses(t *testing.T) {
	now := time.Now()
	c := New(baseConfig(), now)
	best := 0.8
	err := c.CheckPost(now, 0.75, &best)
	require.NoError(t, err)
}

func TestToolLoopThresholdEscalation(t *testing.T) {
	now := time.Now()
	c := New(baseConfig(), now)

	var last ToolLoopMode
	for i := 0; i < 30; i++ {
		last = c.RecordToolCall()
	}
	require.Equal(t, ToolLoopCircuitBroken, last)
}

func TestToolLoopWarnBelowCritical(t *testing.T) {
	now := time.Now()
	c := New(baseConfig(), now)
	for i := 0; i < 10; i++ {
		c.RecordToolCall()
	}
	require.Equal(t, ToolLoopWarn, c.ToolLoopModeFor(10))
}
