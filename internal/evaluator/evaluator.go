// Package evaluator implements spec.md §4.12: asks the provider for a
// structured weighted-dimension evaluation and reduces it to a single
// score and decision, degrading gracefully on a malformed response in
// the same style as the teacher's structured-response handling in
// agent_loop.go.
package evaluator

import (
	"context"
	"encoding/json"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/llm"
)

// Dimension is one weighted scoring axis. Weights across a Dimension set
// must sum to 1.
type Dimension struct {
	Name   string
	Weight float64
}

// Config governs accept/reject tie-breaking.
type Config struct {
	AcceptThreshold     float64
	RegressionThreshold float64
}

// Result is the reduced evaluation outcome.
type Result struct {
	Score    float64
	Decision domain.Decision
	Findings []domain.Finding
}

type structuredEval struct {
	DimensionScores map[string]float64 `json:"dimension_scores"`
	Findings        []structuredFinding `json:"findings"`
}

type structuredFinding struct {
	Severity   string `json:"severity"`
	Dimension  string `json:"dimension"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
	Location   string `json:"location"`
	Suggestion string `json:"suggestion"`
}

// Evaluate asks provider to score lastOutput against task's dimensions,
// then applies spec.md §4.12's tie-breaking rule: score >= threshold ->
// accept; score < previousBest - regressionThreshold -> reject; else
// iterate.
func Evaluate(ctx context.Context, provider llm.Provider, model string, task, lastOutput string, dims []Dimension, cfg Config, previousBest *float64) Result {
	req := buildEvalRequest(model, task, lastOutput, dims)

	resp, err := provider.Chat(ctx, req)
	if err != nil {
		return degraded()
	}

	var parsed structuredEval
	if jsonErr := json.Unmarshal([]byte(resp.Content), &parsed); jsonErr != nil || len(parsed.DimensionScores) == 0 {
		return degraded()
	}

	score := weightedScore(dims, parsed.DimensionScores)
	decision := decide(score, previousBest, cfg)

	findings := make([]domain.Finding, 0, len(parsed.Findings))
	for _, f := range parsed.Findings {
		findings = append(findings, domain.Finding{
			Severity:   domain.Severity(f.Severity),
			Dimension:  f.Dimension,
			Title:      f.Title,
			Detail:     f.Detail,
			Location:   f.Location,
			Suggestion: f.Suggestion,
		})
	}

	return Result{Score: score, Decision: decision, Findings: findings}
}

func weightedScore(dims []Dimension, scores map[string]float64) float64 {
	var total float64
	for _, d := range dims {
		total += d.Weight * scores[d.Name]
	}
	return total
}

func decide(score float64, previousBest *float64, cfg Config) domain.Decision {
	if score >= cfg.AcceptThreshold {
		return domain.DecisionAccept
	}
	if previousBest != nil && score < *previousBest-cfg.RegressionThreshold {
		return domain.DecisionReject
	}
	return domain.DecisionIterate
}

// degraded implements the "missing or malformed response" fallback:
// score=0.5, decision=iterate, with a warning finding explaining why.
func degraded() Result {
	return Result{
		Score:    0.5,
		Decision: domain.DecisionIterate,
		Findings: []domain.Finding{{
			Severity: domain.SeverityWarning,
			Title:    "evaluator response was missing or malformed",
			Detail:   "the provider did not return a parseable structured evaluation; degraded to a neutral score",
		}},
	}
}

func buildEvalRequest(model, task, lastOutput string, dims []Dimension) domain.ChatRequest {
	names := make([]string, 0, len(dims))
	for _, d := range dims {
		names = append(names, d.Name)
	}
	prompt := evalPrompt(task, lastOutput, names)
	return domain.ChatRequest{
		Model:    model,
		System:   "You are an evaluation rubric. Respond with strict JSON only.",
		Messages: []domain.Message{{Role: domain.RoleUser, Content: prompt}},
	}
}

func evalPrompt(task, lastOutput string, dimensionNames []string) string {
	b, _ := json.Marshal(map[string]any{
		"task":       task,
		"output":     lastOutput,
		"dimensions": dimensionNames,
		"instructions": "score each dimension in [0,1] and return {\"dimension_scores\":{...},\"findings\":[...]}",
	})
	return string(b)
}
