package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iterflow/agent/internal/compact"
	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/evaluator"
	"github.com/iterflow/agent/internal/executor"
	"github.com/iterflow/agent/internal/llm"
	"github.com/iterflow/agent/internal/llm/overflow"
	"github.com/iterflow/agent/internal/memory/recall"
	"github.com/iterflow/agent/internal/planner"
	"github.com/iterflow/agent/internal/rerr"
	"github.com/iterflow/agent/internal/safety"
	"github.com/iterflow/agent/internal/store"
	"github.com/iterflow/agent/internal/tokens"
)

// EventSink receives every progress event the orchestrator emits; the
// statewriter is the canonical subscriber, but tests and the CLI's
// status line can subscribe too.
type EventSink func(domain.ProgressEvent)

// Config bundles every tunable the loop needs, matching spec.md §6's
// enumerated defaults.
type Config struct {
	MaxIterations        int
	QualityThreshold     float64
	ImprovementThreshold float64
	SkipEvalConfidence   float64
	TokenBudget          int
	Safety               safety.Config
	Dimensions           []evaluator.Dimension
	Model                string
	System               string
	SoulPrompt           string
}

// DefaultConfig matches spec.md §6's iteration/safety section defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:        3,
		QualityThreshold:     0.8,
		ImprovementThreshold: 0.05,
		SkipEvalConfidence:   0.95,
		TokenBudget:          200_000,
		Safety: safety.Config{
			TokenBudget:         200_000,
			MaxCostUSD:          2.0,
			TimeoutSeconds:      300,
			AbortOnRegression:   true,
			RegressionThreshold: 0.2,
			ToolLoop:            safety.DefaultToolLoopThresholds(),
		},
		Dimensions: evaluator.DefaultDimensions(),
	}
}

// Orchestrator runs the plan/execute/evaluate/decide loop for one task at
// a time against the wired dependencies.
type Orchestrator struct {
	store     *store.Store
	provider  llm.Provider
	registry  *executor.Registry
	logger    *zap.Logger
	embedder  recall.Embedder
	sinks     []EventSink
}

func New(s *store.Store, provider llm.Provider, registry *executor.Registry, embedder recall.Embedder, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{store: s, provider: provider, registry: registry, embedder: embedder, logger: logger.With(zap.String("component", "orchestrator"))}
}

func (o *Orchestrator) Subscribe(sink EventSink) {
	o.sinks = append(o.sinks, sink)
}

func (o *Orchestrator) emit(event domain.ProgressEvent, startedAt time.Time) {
	event.Timestamp = time.Now()
	event.ElapsedSecs = event.Timestamp.Sub(startedAt).Seconds()
	for _, sink := range o.sinks {
		sink(event)
	}
}

// RunTask implements spec.md §4.15's algorithm. description is the
// natural-language task; cfg governs iteration/safety limits.
func (o *Orchestrator) RunTask(ctx context.Context, description string, cfg Config) (*domain.Task, error) {
	startedAt := time.Now()
	taskID := uuid.New().String()
	sm := NewStateMachine()

	plan := planner.Plan(ctx, o.provider, cfg.Model, description, cfg.MaxIterations)
	o.emit(domain.ProgressEvent{Type: domain.EventPlanReady, TaskID: taskID, Description: description, MaxIterations: plan.EstimatedIterations}, startedAt)

	task := &domain.Task{ID: taskID, Description: description, Category: plan.Category, CreatedAt: startedAt}
	if err := o.store.InsertTask(task); err != nil {
		return nil, err
	}

	checker := safety.New(cfg.Safety, startedAt)
	var best *evaluator.Result
	var bestContent string
	var finalDecision domain.Decision = domain.DecisionFail
	iterationsRun := 0

	for i := 0; i < plan.EstimatedIterations; i++ {
		iterationsRun = i + 1

		if err := sm.Transition(StateExecuting); err != nil {
			return nil, err
		}

		now := time.Now()
		if err := checker.CheckPre(now); err != nil {
			finalDecision = domain.DecisionFail
			o.emitSafetyWarning(taskID, err, startedAt)
			break
		}

		o.emit(domain.ProgressEvent{Type: domain.EventIterationStart, TaskID: taskID, Iteration: i}, startedAt)

		var bestScore *float64
		if best != nil {
			bestScore = &best.Score
		}

		recalled, err := recall.Select(o.store, recall.Request{
			QueryText: description, Category: plan.Category, TokenBudget: cfg.TokenBudget / 4, ExcludeTaskID: taskID,
		}, o.embedder, now)
		if err != nil {
			o.logger.Warn("recall failed, continuing without it", zap.Error(err))
		}

		messages := buildContext(cfg.System, cfg.SoulPrompt, recalled, bestContent, description)
		messages = compact.Compact(messages, cfg.TokenBudget)

		req := domain.ChatRequest{Model: cfg.Model, Messages: messages, System: cfg.System}
		execResult, err := executor.Execute(ctx, o.provider, req, o.registry, checker)
		if _, isOverflow := overflow.Classify(err, o.provider.ID(), cfg.Model); isOverflow {
			// Shrink the sent context by 20% and retry once; a second
			// overflow fails the task below like any other executor error.
			req.Messages = compact.Compact(messages, tokens.EstimateMessages(messages)*4/5)
			execResult, err = executor.Execute(ctx, o.provider, req, o.registry, checker)
		}
		if err != nil {
			finalDecision = domain.DecisionFail
			o.emitSafetyWarning(taskID, err, startedAt)
			break
		}
		checker.AddTokens(execResult.AccumulatedUsage.Total())

		evalResult := evaluator.Evaluate(ctx, o.provider, cfg.Model, description, execResult.Content, cfg.Dimensions,
			evaluator.Config{AcceptThreshold: cfg.QualityThreshold, RegressionThreshold: cfg.Safety.RegressionThreshold}, bestScore)

		cycle := &domain.IterationCycle{
			ID: uuid.New().String(), TaskID: taskID, Index: i, Score: &evalResult.Score, Decision: evalResult.Decision,
		}
		if err := o.store.InsertCycle(cycle); err != nil {
			return nil, err
		}
		for _, f := range evalResult.Findings {
			f.ID = uuid.New().String()
			f.CycleID = cycle.ID
			if err := o.store.InsertFinding(&f); err != nil {
				return nil, err
			}
		}

		if err := checker.CheckPost(time.Now(), evalResult.Score, bestScore); err != nil {
			finalDecision = domain.DecisionFail
			o.emitSafetyWarning(taskID, err, startedAt)
			break
		}

		if err := sm.Transition(StateEvaluated); err != nil {
			return nil, err
		}

		bs := checker.CostSpentUSD()
		o.emit(domain.ProgressEvent{
			Type: domain.EventIterationEnd, TaskID: taskID, Iteration: i, Score: &evalResult.Score, BestScore: bestScore,
			Decision: evalResult.Decision, TokensUsed: checker.TokensSpent(), CostUSD: bs,
		}, startedAt)

		if best == nil || evalResult.Score > best.Score {
			best = &evalResult
			bestContent = execResult.Content
		}

		if evalResult.Decision == domain.DecisionAccept || evalResult.Score >= cfg.QualityThreshold {
			finalDecision = domain.DecisionAccept
			break
		}
		if evalResult.Decision == domain.DecisionReject {
			finalDecision = domain.DecisionReject
			break
		}
		finalDecision = domain.DecisionIterate
	}

	if finalDecision == domain.DecisionIterate && best != nil {
		// exhausted iterations without accept/reject: fall back to the
		// best-seen result rather than leaving the task dangling.
		finalDecision = domain.DecisionAccept
	}

	var finalScore *float64
	if best != nil {
		finalScore = &best.Score
	}

	terminal := terminalStateFor(finalDecision)
	_ = sm.Transition(terminal)

	if err := o.store.CompleteTask(taskID, finalScore, iterationsRun, finalDecision, checker.TokensSpent(), checker.CostSpentUSD()); err != nil {
		return nil, err
	}

	task.FinalScore = finalScore
	task.Iterations = iterationsRun
	task.Decision = finalDecision
	task.TotalTokens = checker.TokensSpent()
	task.TotalCostUSD = checker.CostSpentUSD()

	o.emit(domain.ProgressEvent{
		Type: domain.EventComplete, TaskID: taskID, Decision: finalDecision, Iterations: iterationsRun,
		TotalTokens: task.TotalTokens, TotalCostUSD: task.TotalCostUSD, FinalScore: finalScore,
	}, startedAt)

	return task, nil
}

func terminalStateFor(decision domain.Decision) State {
	switch decision {
	case domain.DecisionAccept:
		return StateAcceptedTerminal
	case domain.DecisionReject:
		return StateRejectedTerminal
	default:
		return StateFailedTerminal
	}
}

func (o *Orchestrator) emitSafetyWarning(taskID string, err error, startedAt time.Time) {
	reason := err.Error()
	if rt, ok := err.(*rerr.RuntimeError); ok {
		reason = rt.Message
	}
	o.emit(domain.ProgressEvent{Type: domain.EventSafetyWarning, TaskID: taskID, Reason: reason}, startedAt)
}

func buildContext(system, soul string, recalled recall.Result, priorOutput, newTurn string) []domain.Message {
	var messages []domain.Message
	if system != "" {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: system})
	}
	if soul != "" {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: soul})
	}
	for _, sel := range recalled.Selections {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: "learned: " + sel.Learning.Content})
	}
	if summary := findingsSummary(recalled.Findings); summary != "" {
		messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: summary})
	}
	if priorOutput != "" {
		messages = append(messages, domain.Message{Role: domain.RoleAssistant, Content: priorOutput})
	}
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: newTurn})
	return messages
}

// findingsSummary renders recall's cross-task findings into the compact
// block spec.md §4.5 asks for.
func findingsSummary(findings []*domain.Finding) string {
	if len(findings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("recent high-severity findings from related tasks:\n")
	for _, f := range findings {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", f.Severity, f.Title, f.Detail)
	}
	return b.String()
}
