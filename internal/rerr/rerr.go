// Package rerr provides the structured runtime error type used across the
// provider, safety, and orchestrator layers. It generalizes the teacher's
// LLMError/ClassifyError/LLMErrorKind pattern (one vendor-error taxonomy)
// to the full error-kind list the iteration engine needs: provider
// failures, budget/cost/regression safety violations, tool loops, and
// infrastructure errors (database, mcp, config, io).
package rerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a RuntimeError for retry and reporting decisions.
type Kind int

const (
	KindProvider Kind = iota
	KindRateLimited
	KindContextOverflow
	KindAllProvidersExhausted
	KindBudgetExceeded
	KindCostLimitExceeded
	KindToolLoop
	KindScoreRegression
	KindNoProvider
	KindSkillNotFound
	KindDatabase
	KindMcpServer
	KindConfig
	KindIO
	KindAuth
	KindBadRequest
	KindCancelled
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindProvider:
		return "provider"
	case KindRateLimited:
		return "rate_limited"
	case KindContextOverflow:
		return "context_overflow"
	case KindAllProvidersExhausted:
		return "all_providers_exhausted"
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindCostLimitExceeded:
		return "cost_limit_exceeded"
	case KindToolLoop:
		return "tool_loop"
	case KindScoreRegression:
		return "score_regression"
	case KindNoProvider:
		return "no_provider"
	case KindSkillNotFound:
		return "skill_not_found"
	case KindDatabase:
		return "database"
	case KindMcpServer:
		return "mcp_server"
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	case KindAuth:
		return "auth"
	case KindBadRequest:
		return "bad_request"
	case KindCancelled:
		return "cancelled"
	default:
		return "other"
	}
}

// IsRetryable reports whether this error kind should be retried by the
// retry wrapper. Context overflow, auth, bad-request, and missing-provider
// are explicitly not retriable per spec.md §4.8.
func (k Kind) IsRetryable() bool {
	switch k {
	case KindProvider, KindRateLimited:
		return true
	default:
		return false
	}
}

// RuntimeError is a structured error carrying classification metadata for
// retry, safety, and reporting decisions.
type RuntimeError struct {
	Kind     Kind
	Message  string
	Provider string
	Model    string
	Cause    error

	// RetryAfterMs is set when a RateLimited error carried a server hint.
	RetryAfterMs int64

	// ToolName/ToolCount are set on KindToolLoop.
	ToolName  string
	ToolCount int

	// CurrentScore/PreviousScore/Threshold are set on KindScoreRegression.
	CurrentScore  float64
	PreviousScore float64
	Threshold     float64
}

func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

func (e *RuntimeError) IsRetryable() bool {
	return e.Kind.IsRetryable()
}

// Is allows errors.Is(err, rerr.New(rerr.KindBudgetExceeded, "")) style
// checks via a lightweight kind comparison.
func (e *RuntimeError) Is(target error) bool {
	var other *RuntimeError
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs a RuntimeError directly, for call sites that already know
// the kind (safety checker, fallback chain) rather than classifying a raw
// vendor error string.
func New(kind Kind, message string) *RuntimeError {
	return &RuntimeError{Kind: kind, Message: message}
}

// overflowPatterns are case-insensitive substrings that indicate a vendor
// rejected the request for being too long, per spec.md §4.10.
var overflowPatterns = []string{
	"context length exceeded",
	"maximum context length",
	"prompt is too long",
	"context_length_exceeded",
	"request_too_large",
	"too many tokens",
	"input is too long",
}

// Classify examines an error and returns a classified RuntimeError. If err
// is already a *RuntimeError it is returned unchanged. Otherwise the error
// string is pattern-matched against known vendor phrasings, mirroring the
// teacher's ClassifyError but covering the runtime's full kind list.
func Classify(err error, provider, model string) *RuntimeError {
	if err == nil {
		return nil
	}

	var existing *RuntimeError
	if errors.As(err, &existing) {
		return existing
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "context deadline exceeded") {
		return &RuntimeError{Kind: KindCancelled, Message: "request cancelled", Provider: provider, Model: model, Cause: err}
	}

	for _, p := range overflowPatterns {
		if strings.Contains(errStr, p) {
			return &RuntimeError{Kind: KindContextOverflow, Message: "context window overflow", Provider: provider, Model: model, Cause: err}
		}
	}
	if strings.Contains(errStr, "too large") && (strings.Contains(errStr, "413") || strings.Contains(errStr, "request")) {
		return &RuntimeError{Kind: KindContextOverflow, Message: "context window overflow", Provider: provider, Model: model, Cause: err}
	}

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests") {
		return &RuntimeError{Kind: KindRateLimited, Message: "rate limited", Provider: provider, Model: model, Cause: err}
	}

	authPatterns := []string{"unauthorized", "invalid api key", "403", "authentication", "permission denied"}
	for _, p := range authPatterns {
		if strings.Contains(errStr, p) {
			return &RuntimeError{Kind: KindAuth, Message: "authentication failed", Provider: provider, Model: model, Cause: err}
		}
	}

	badReqPatterns := []string{"bad request", "invalid argument", "model not found", "400", "invalid_request"}
	for _, p := range badReqPatterns {
		if strings.Contains(errStr, p) {
			return &RuntimeError{Kind: KindBadRequest, Message: "invalid request", Provider: provider, Model: model, Cause: err}
		}
	}

	transientPatterns := []string{"timeout", "connection reset", "502", "503", "504", "temporarily unavailable"}
	for _, p := range transientPatterns {
		if strings.Contains(errStr, p) {
			return &RuntimeError{Kind: KindProvider, Message: "transient provider error", Provider: provider, Model: model, Cause: err}
		}
	}

	return &RuntimeError{Kind: KindOther, Message: "unclassified error", Provider: provider, Model: model, Cause: err}
}
