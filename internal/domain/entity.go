// Package domain holds the shared types passed between the orchestrator,
// store, and LLM layers: sessions, tasks, cycles, findings, learnings,
// usage patterns, and the message/tool-call shapes that flow through the
// provider abstraction.
package domain

import "time"

// Decision is the terminal (or per-cycle) outcome of an evaluation.
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionReject  Decision = "reject"
	DecisionIterate Decision = "iterate"
	DecisionFail    Decision = "fail"
)

// Session groups one or more tasks under a channel and a chosen model.
type Session struct {
	ID             string
	Channel        string
	ModelProvider  string
	ModelID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	TotalTokens    int64
	TotalCostUSD   float64
}

// Task is one natural-language request run through the iteration loop.
type Task struct {
	ID           string
	Description  string
	Category     string
	FinalScore   *float64
	Iterations   int
	Decision     Decision
	TotalTokens  int64
	TotalCostUSD float64
	CreatedAt    time.Time
}

// IterationCycle is one plan→execute→evaluate pass within a Task.
type IterationCycle struct {
	ID          string
	TaskID      string
	Index       int
	Score       *float64
	Decision    Decision
	InputTokens  *int64
	OutputTokens *int64
	ElapsedMs    *int64
}

// Severity ranks a Finding by how much it should influence the decision.
type Severity string

const (
	SeverityBlocker Severity = "blocker"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Finding is a structured observation attached to a cycle by the evaluator.
type Finding struct {
	ID         string
	CycleID    string
	Severity   Severity
	Dimension  string
	Title      string
	Detail     string
	Location   string
	Suggestion string
}

// LearningType classifies a stored Learning.
type LearningType string

const (
	LearningHeuristic   LearningType = "heuristic"
	LearningAntiPattern LearningType = "anti_pattern"
	LearningPreference  LearningType = "preference"
	LearningPattern     LearningType = "pattern"
	LearningSkill       LearningType = "skill"
	LearningCorrection  LearningType = "correction"
)

// Learning is a piece of accumulated knowledge whose confidence decays
// with time since last use and is pruned below a configured floor.
type Learning struct {
	ID          string
	Type        LearningType
	Content     string
	Category    string
	Confidence  float64
	Reinforced  int64
	CreatedAt   time.Time
	LastUsed    *time.Time
}

// UsagePatternStatus tracks a mined pattern through human review.
type UsagePatternStatus string

const (
	PatternDetected UsagePatternStatus = "detected"
	PatternProposed UsagePatternStatus = "proposed"
	PatternApproved UsagePatternStatus = "approved"
	PatternDismissed UsagePatternStatus = "dismissed"
)

// UsagePattern is a recurring-task / time-of-day / workflow-pair pattern
// detected by internal/patterns from the UsageEvent stream.
type UsagePattern struct {
	ID          string
	PatternType string
	Description string
	Frequency   string
	Confidence  float64
	SampleCount int
	Status      UsagePatternStatus
	FirstSeen   time.Time
	LastSeen    time.Time
}

// MemoryChunk is an opaque content blob referenced by long tool outputs
// that have been spilled to disk rather than kept inline.
type MemoryChunk struct {
	ID   string
	Kind string
	Text string
}

// UsageEvent is one append-only record of task activity, read in windows
// by the pattern miner.
type UsageEvent struct {
	ID          string
	EventType   string
	Channel     string
	Description string
	Category    string
	SkillsUsed  []string
	Score       *float64
	Date        time.Time
	Hour        *int
	DayOfWeek   *int
}

// Credential is owned by the auth store, not the core; the core only ever
// consumes the TokenSource contract below.
type Credential struct {
	ProviderID string
	Token      string
	Refresh    string
	ExpiresAt  time.Time
	Extras     map[string]string
}

// TokenSource hides the ApiKey/OAuth credential variant behind a single
// accessor, per spec.md §9's "tagged variants with a token() accessor".
type TokenSource interface {
	Token() (string, error)
}
