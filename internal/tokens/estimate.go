// Package tokens implements the deliberate upper-bound token estimator
// used for safety gating across the runtime (context checks, compaction,
// recall budgets). It is never used for billing.
package tokens

import (
	"github.com/iterflow/agent/internal/domain"
)

// perMessageOverhead approximates the formatting tokens a real tokenizer
// spends on role markers and message boundaries. Pinned per DESIGN.md's
// open-question decision, matching the teacher's ContextGuard heuristic
// (len(messages) * 4).
const perMessageOverhead = 4

// Estimate returns ceil(len(text)/4), the chars/4 upper bound from
// spec.md §4.1.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateMessages sums Estimate over every message's content and tool
// call arguments, plus a fixed per-message overhead.
func EstimateMessages(messages []domain.Message) int {
	total := 0
	for _, m := range messages {
		total += Estimate(m.Content)
		for _, tc := range m.ToolCalls {
			total += Estimate(tc.Name) + Estimate(string(tc.Arguments))
		}
		total += perMessageOverhead
	}
	return total
}
