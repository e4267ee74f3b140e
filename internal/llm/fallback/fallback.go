// Package fallback implements spec.md §4.9's fallback chain over an
// ordered list of (provider_id, model_id) candidates, grounded on the
// original Rust implementation's provider/fallback module (ModelRef,
// per-candidate cooldowns) and the teacher's circuit-breaker state shape
// for the "cooled down / available" distinction.
package fallback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/llm"
	"github.com/iterflow/agent/internal/rerr"
)

// DefaultCooldown is how long a candidate is skipped after a failure.
const DefaultCooldown = 60 * time.Second

// ModelRef identifies one (provider, model) candidate in the chain.
type ModelRef struct {
	ProviderID string
	ModelID    string
}

func (m ModelRef) String() string {
	return fmt.Sprintf("%s/%s", m.ProviderID, m.ModelID)
}

// Chain tries each candidate provider/model pair in order, skipping any
// still within its cooldown window, and marks a candidate's cooldown on
// retriable failure.
type Chain struct {
	mu         sync.Mutex
	candidates []ModelRef
	providers  map[string]llm.Provider
	cooldown   time.Duration
	cooldowns  map[string]time.Time
}

// New builds a Chain. providers maps provider_id -> Provider; candidates
// is the ordered preference list.
func New(candidates []ModelRef, providers map[string]llm.Provider, cooldown time.Duration) *Chain {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Chain{
		candidates: candidates,
		providers:  providers,
		cooldown:   cooldown,
		cooldowns:  make(map[string]time.Time),
	}
}

// Chat iterates candidates in order, skipping cooled-down ones, calling
// each provider's Chat with req.Model overridden to the candidate's
// ModelID. Returns AllProvidersExhausted if every candidate is cooled
// down or fails.
func (c *Chain) Chat(ctx context.Context, req domain.ChatRequest, now time.Time) (domain.ChatResponse, ModelRef, error) {
	var lastErr error
	tried := 0

	for _, cand := range c.candidates {
		if !c.isCooledDown(cand, now) {
			continue
		}
		provider, ok := c.providers[cand.ProviderID]
		if !ok {
			continue
		}
		tried++

		candReq := req
		candReq.Model = cand.ModelID

		resp, err := provider.Chat(ctx, candReq)
		if err == nil {
			return resp, cand, nil
		}

		classified := rerr.Classify(err, cand.ProviderID, cand.ModelID)
		lastErr = classified
		if classified.IsRetryable() {
			c.markFailed(cand, now)
		}
	}

	if tried == 0 {
		return domain.ChatResponse{}, ModelRef{}, rerr.New(rerr.KindAllProvidersExhausted, "all candidates cooled down")
	}
	return domain.ChatResponse{}, ModelRef{}, &rerr.RuntimeError{
		Kind:    rerr.KindAllProvidersExhausted,
		Message: "all provider candidates exhausted",
		Cause:   lastErr,
	}
}

// IsCooledDown reports whether cand is currently usable (not within its
// cooldown window).
func (c *Chain) IsCooledDown(cand ModelRef, now time.Time) bool {
	return c.isCooledDown(cand, now)
}

func (c *Chain) isCooledDown(cand ModelRef, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, ok := c.cooldowns[cand.String()]
	if !ok {
		return true
	}
	return !now.Before(next)
}

// NextAvailable returns when cand will next be available, or the zero
// time if it's available now.
func (c *Chain) NextAvailable(cand ModelRef) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cooldowns[cand.String()]
}

// MarkFailed puts cand into cooldown starting at now.
func (c *Chain) MarkFailed(cand ModelRef, now time.Time) {
	c.markFailed(cand, now)
}

func (c *Chain) markFailed(cand ModelRef, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldowns[cand.String()] = now.Add(c.cooldown)
}
