// Package overflow implements spec.md §4.10's context-overflow
// classifier. The substring table itself lives in internal/rerr.Classify
// (grounded on the teacher's llm_errors.go pattern-matching style) so
// there is a single source of truth for vendor error phrasings; this
// package just exposes the typed result the orchestrator branches on.
package overflow

import "github.com/iterflow/agent/internal/rerr"

// Info is the typed payload the orchestrator inspects to decide whether
// to shrink context instead of retrying blindly.
type Info struct {
	Provider string
	Model    string
	Message  string
}

// Classify reports whether err is a context-overflow error, and if so
// returns the typed Info describing it.
func Classify(err error, provider, model string) (Info, bool) {
	if err == nil {
		return Info{}, false
	}
	classified := rerr.Classify(err, provider, model)
	if classified.Kind != rerr.KindContextOverflow {
		return Info{}, false
	}
	return Info{Provider: classified.Provider, Model: classified.Model, Message: classified.Message}, true
}
