// Package safety implements spec.md §4.14's pre/post iteration
// invariants, generalized from the teacher's domain/service/guardrails.go
// (CostGuard/ContextGuard/LoopDetector) with the budget, cost, and
// regression checks spec.md adds on top.
package safety

import (
	"sync/atomic"
	"time"

	"github.com/iterflow/agent/internal/rerr"
)

// ToolLoopThresholds are the three escalating tool-call-count levels.
type ToolLoopThresholds struct {
	Warning        int
	Critical       int
	CircuitBreaker int
}

// DefaultToolLoopThresholds match spec.md §6's enumerated defaults.
func DefaultToolLoopThresholds() ToolLoopThresholds {
	return ToolLoopThresholds{Warning: 10, Critical: 20, CircuitBreaker: 30}
}

// Config bundles every safety limit for one task run.
type Config struct {
	TokenBudget         int64
	MaxCostUSD          float64
	TimeoutSeconds       int
	AbortOnRegression   bool
	RegressionThreshold float64
	ToolLoop            ToolLoopThresholds
}

// ToolLoopMode reports the executor behavior the current tool-call count
// demands.
type ToolLoopMode int

const (
	ToolLoopNormal ToolLoopMode = iota
	ToolLoopWarn
	ToolLoopSingleToolOnly
	ToolLoopCircuitBroken
)

// Checker tracks running totals for one task and evaluates the spec's
// safety invariants against them.
type Checker struct {
	cfg        Config
	startedAt  time.Time
	tokens     atomic.Int64
	costMicros atomic.Int64 // cost stored as micro-dollars to keep atomics integral
	toolCalls  atomic.Int64
}

func New(cfg Config, now time.Time) *Checker {
	return &Checker{cfg: cfg, startedAt: now}
}

// AddTokens accumulates tokens spent so far.
func (c *Checker) AddTokens(n int64) {
	c.tokens.Add(n)
}

// AddCost accumulates cost spent so far, in USD.
func (c *Checker) AddCost(usd float64) {
	c.costMicros.Add(int64(usd * 1e6))
}

func (c *Checker) TokensSpent() int64 { return c.tokens.Load() }
func (c *Checker) CostSpentUSD() float64 {
	return float64(c.costMicros.Load()) / 1e6
}

// RecordToolCall increments the per-task tool-call counter and returns
// the resulting mode.
func (c *Checker) RecordToolCall() ToolLoopMode {
	n := c.toolCalls.Add(1)
	return c.ToolLoopModeFor(n)
}

func (c *Checker) ToolLoopModeFor(n int64) ToolLoopMode {
	switch {
	case n >= int64(c.cfg.ToolLoop.CircuitBreaker):
		return ToolLoopCircuitBroken
	case n >= int64(c.cfg.ToolLoop.Critical):
		return ToolLoopSingleToolOnly
	case n >= int64(c.cfg.ToolLoop.Warning):
		return ToolLoopWarn
	default:
		return ToolLoopNormal
	}
}

// CheckPre runs the invariants checked at the top of each iteration:
// token budget, cost limit, and wall-clock timeout.
func (c *Checker) CheckPre(now time.Time) error {
	if c.tokens.Load() > c.cfg.TokenBudget {
		return rerr.New(rerr.KindBudgetExceeded, "token budget exceeded")
	}
	if c.CostSpentUSD() > c.cfg.MaxCostUSD {
		return rerr.New(rerr.KindCostLimitExceeded, "cost limit exceeded")
	}
	if c.cfg.TimeoutSeconds > 0 && now.Sub(c.startedAt) > time.Duration(c.cfg.TimeoutSeconds)*time.Second {
		return rerr.New(rerr.KindBudgetExceeded, "wall-clock timeout exceeded")
	}
	return nil
}

// CheckPost runs the invariants checked after evaluation: budget/cost
// (again, since the iteration may have spent more) and score regression.
// best is nil until the first cycle has been evaluated; per spec.md §9, no
// regression check is performed when best is nil.
func (c *Checker) CheckPost(now time.Time, currentScore float64, best *float64) error {
	if err := c.CheckPre(now); err != nil {
		return err
	}
	if !c.cfg.AbortOnRegression || best == nil {
		return nil
	}
	if currentScore < *best-c.cfg.RegressionThreshold {
		return &rerr.RuntimeError{
			Kind:          rerr.KindScoreRegression,
			Message:       "score regressed past threshold",
			CurrentScore:  currentScore,
			PreviousScore: *best,
			Threshold:     c.cfg.RegressionThreshold,
		}
	}
	return nil
}
