// Package planner implements spec.md §4.13: classify a task into a
// free-form category and estimate its likely iteration count, once per
// task, falling back to a generic plan on any provider failure in the
// same degrade-on-failure idiom as internal/evaluator.
package planner

import (
	"context"
	"encoding/json"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/llm"
)

// Result is the planner's output.
type Result struct {
	Category          string
	EstimatedIterations int
}

type structuredPlan struct {
	Category            string `json:"category"`
	EstimatedIterations  int    `json:"estimated_iterations"`
}

// Plan classifies description and estimates iterations up to maxIterations.
// On any failure (provider error, unparseable response, zero estimate) it
// returns {category: "general", estimated: maxIterations}.
func Plan(ctx context.Context, provider llm.Provider, model, description string, maxIterations int) Result {
	req := buildPlanRequest(model, description, maxIterations)

	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return fallback(maxIterations)
	}

	var parsed structuredPlan
	if jsonErr := json.Unmarshal([]byte(resp.Content), &parsed); jsonErr != nil || parsed.Category == "" || parsed.EstimatedIterations <= 0 {
		return fallback(maxIterations)
	}

	if parsed.EstimatedIterations > maxIterations {
		parsed.EstimatedIterations = maxIterations
	}
	return Result{Category: parsed.Category, EstimatedIterations: parsed.EstimatedIterations}
}

func fallback(maxIterations int) Result {
	return Result{Category: "general", EstimatedIterations: maxIterations}
}

func buildPlanRequest(model, description string, maxIterations int) domain.ChatRequest {
	b, _ := json.Marshal(map[string]any{
		"description":    description,
		"max_iterations": maxIterations,
		"instructions":   "classify this task into a free-form category tag and estimate likely iterations; return {\"category\":\"...\",\"estimated_iterations\":N}",
	})
	return domain.ChatRequest{
		Model:    model,
		System:   "You are a task planner. Respond with strict JSON only.",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: string(b)}},
	}
}
