package domain

import "time"

// ProgressEventType enumerates the observable transitions the orchestrator
// emits for the state writer (and any other subscriber) to consume.
type ProgressEventType string

const (
	EventPlanReady     ProgressEventType = "plan_ready"
	EventIterationStart ProgressEventType = "iteration_start"
	EventToolCall      ProgressEventType = "tool_call"
	EventIterationEnd  ProgressEventType = "iteration_end"
	EventSafetyWarning ProgressEventType = "safety_warning"
	EventComplete      ProgressEventType = "complete"
)

// ProgressEvent is one tagged record in the progress event surface
// (spec.md §6). Fields not relevant to Type are left zero.
type ProgressEvent struct {
	Type        ProgressEventType
	TaskID      string
	Description string

	// PlanReady / IterationStart / IterationEnd
	Iteration     int
	MaxIterations int

	// ToolCall
	ToolName string

	// IterationEnd
	Score      *float64
	BestScore  *float64
	Decision   Decision
	TokensUsed int64
	CostUSD    float64

	// SafetyWarning
	Reason string

	// Complete
	Iterations   int
	TotalTokens  int64
	TotalCostUSD float64
	FinalScore   *float64

	ElapsedSecs float64
	Timestamp   time.Time
}

// TaskStatus is the `status` field of the task-state JSON (spec.md §6).
type TaskStatus string

const (
	StatusPending       TaskStatus = "pending"
	StatusRunning       TaskStatus = "running"
	StatusEvaluated     TaskStatus = "evaluated"
	StatusSafetyWarning TaskStatus = "safety_warning"
	StatusComplete      TaskStatus = "complete"
)

// TaskState is the live snapshot written atomically to
// state/current-task.json on every progress event.
type TaskState struct {
	TaskID        string     `json:"task_id"`
	Description   string     `json:"description"`
	Status        TaskStatus `json:"status"`
	Iteration     int        `json:"iteration"`
	MaxIterations int        `json:"max_iterations"`
	CurrentScore  *float64   `json:"current_score,omitempty"`
	BestScore     *float64   `json:"best_score,omitempty"`
	CostUSD       float64    `json:"cost_usd"`
	TokensUsed    int64      `json:"tokens_used"`
	StartedAt     string     `json:"started_at"`
	ElapsedSecs   float64    `json:"elapsed_secs"`
	LastDecision  Decision   `json:"last_decision,omitempty"`
	ToolCalls     []string   `json:"tool_calls,omitempty"`
	Phase         string     `json:"phase"`
}

// HistoryRecord is one append-only line of state/task-history.jsonl.
type HistoryRecord struct {
	TaskID      string   `json:"task_id"`
	Description string   `json:"description"`
	Iterations  int      `json:"iterations"`
	TotalTokens int64    `json:"total_tokens"`
	CostUSD     float64  `json:"cost_usd"`
	FinalScore  *float64 `json:"final_score,omitempty"`
	CompletedAt string   `json:"completed_at"`
}
