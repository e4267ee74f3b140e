// Package recall implements spec.md §4.5's token-budgeted context
// assembly, grounded on the teacher's InMemoryVectorStore/cosine-similarity
// machinery in domain/memory/memory.go but driven off the Store instead of
// an in-memory map, and scored against the textual/embedding blend spec.md
// names rather than similarity alone.
package recall

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/store"
	"github.com/iterflow/agent/internal/tokens"
)

// Embedder produces a vector for a piece of text. Providers that don't
// support embeddings leave this nil, and Recall falls back to textual
// similarity per spec.md §4.5 point 4.
type Embedder interface {
	Embed(text string) ([]float64, error)
}

const (
	candidateTopN         = 50
	weightConfidence      = 0.6
	weightSimilarity      = 0.3
	weightRecency         = 0.1
	recencyHalfLifeWk     = 4.0
	findingsCandidateMax  = 20
)

// Request is the input to Select.
type Request struct {
	QueryText     string
	Category      string
	TokenBudget   int
	ExcludeTaskID string
}

// Selected is one learning chosen for inclusion, with its score for
// diagnostics.
type Selected struct {
	Learning *domain.Learning
	Score    float64
}

// Result is spec.md §4.5's full recall output: the ordered learnings plus
// a compact summary of recent high-severity findings from related tasks,
// with combined estimated tokens within Request.TokenBudget.
type Result struct {
	Selections []Selected
	Findings   []*domain.Finding
}

// Select implements spec.md §4.5's algorithm: build a candidate set,
// score each by the confidence/similarity/recency blend, greedy-pick by
// descending score (ties broken by id) until the token budget is
// exhausted, then fill whatever budget remains with recent high-severity
// findings from other tasks in the same category.
func Select(s *store.Store, req Request, embedder Embedder, now time.Time) (Result, error) {
	candidates, err := candidateSet(s, req.Category)
	if err != nil {
		return Result{}, err
	}

	queryVec, _ := embedVec(embedder, req.QueryText)

	scored := make([]Selected, 0, len(candidates))
	for _, l := range candidates {
		scored = append(scored, Selected{Learning: l, Score: score(l, req.QueryText, queryVec, embedder, now)})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Learning.ID < scored[j].Learning.ID
	})

	var selections []Selected
	used := 0
	for _, sel := range scored {
		cost := tokens.Estimate(sel.Learning.Content)
		if used+cost > req.TokenBudget {
			continue
		}
		selections = append(selections, sel)
		used += cost
	}

	findings, err := findingsWithinBudget(s, req, req.TokenBudget-used)
	if err != nil {
		return Result{}, err
	}

	return Result{Selections: selections, Findings: findings}, nil
}

// findingsWithinBudget greedy-fills whatever budget Select has left after
// learnings with recent blocker/error findings from other tasks in the
// same category, most recent task first.
func findingsWithinBudget(s *store.Store, req Request, budget int) ([]*domain.Finding, error) {
	if budget <= 0 || req.Category == "" {
		return nil, nil
	}
	candidates, err := s.QueryRecentHighSeverityFindings(req.Category, req.ExcludeTaskID, findingsCandidateMax)
	if err != nil {
		return nil, err
	}

	var out []*domain.Finding
	used := 0
	for _, f := range candidates {
		cost := tokens.Estimate(f.Title + " " + f.Detail)
		if used+cost > budget {
			continue
		}
		out = append(out, f)
		used += cost
	}
	return out, nil
}

func candidateSet(s *store.Store, category string) ([]*domain.Learning, error) {
	if category != "" {
		byCategory, err := s.QueryAllLearnings()
		if err != nil {
			return nil, err
		}
		var matched []*domain.Learning
		for _, l := range byCategory {
			if l.Category == category {
				matched = append(matched, l)
			}
		}
		if len(matched) > 0 {
			return matched, nil
		}
	}
	return s.QueryHighConfidenceLearnings(0, candidateTopN)
}

func score(l *domain.Learning, query string, queryVec []float64, embedder Embedder, now time.Time) float64 {
	sim := textualSimilarity(l.Content, query)
	if embedder != nil && queryVec != nil {
		if contentVec, err := embedder.Embed(l.Content); err == nil {
			sim = cosineSimilarity(queryVec, contentVec)
		}
	}
	return weightConfidence*l.Confidence + weightSimilarity*sim + weightRecency*recencyFactor(l.LastUsed, now)
}

func embedVec(embedder Embedder, text string) ([]float64, error) {
	if embedder == nil || text == "" {
		return nil, nil
	}
	return embedder.Embed(text)
}

// recencyFactor decays exponentially with weeks since last use,
// exp(-weeks/recencyHalfLifeWk), so it falls to 1/e (not 1/2) after that
// many weeks. It has the same exponential shape as internal/memory/decay but is kept independent
// since spec.md treats recall recency and confidence decay as distinct
// concerns.
func recencyFactor(lastUsed *time.Time, now time.Time) float64 {
	if lastUsed == nil {
		return 0
	}
	weeks := now.Sub(*lastUsed).Hours() / (24 * 7)
	if weeks < 0 {
		weeks = 0
	}
	return math.Exp(-weeks / recencyHalfLifeWk)
}

// textualSimilarity is a token-overlap (Jaccard) measure over lowercased
// whitespace-split words, used when no embedding provider is configured.
func textualSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for w := range setA {
		if setB[w] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
