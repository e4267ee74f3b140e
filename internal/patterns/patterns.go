// Package patterns implements spec.md §4.17's three usage-pattern
// detectors over a windowed read of usage events, with the confidence
// and sample-count formulas pinned from the original Rust
// implementation's patterns/miner module: group_count/total_count
// confidence capped at 0.95, a minimum of 3 samples per emitted pattern,
// and a final min_confidence/min_samples filter.
package patterns

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iterflow/agent/internal/domain"
	"github.com/iterflow/agent/internal/store"
)

const (
	minGroupCount        = 3
	recurringConfidenceK = 1.0
	timeOfDayShare       = 0.3
	workflowPairK        = 2.0
	confidenceCap        = 0.95
)

// Config governs the miner's window and final filter.
type Config struct {
	WindowDays    int
	MinConfidence float64
	MinSamples    int
}

// DefaultConfig matches spec.md §6's patterns section.
func DefaultConfig() Config {
	return Config{WindowDays: 30, MinConfidence: 0.7, MinSamples: 3}
}

// Miner mines usage events into persisted UsagePattern rows.
type Miner struct {
	store  *store.Store
	logger *zap.Logger
	cfg    Config
}

func New(s *store.Store, logger *zap.Logger, cfg Config) *Miner {
	return &Miner{store: s, logger: logger.With(zap.String("component", "patterns")), cfg: cfg}
}

// RunOnce reads the configured window of usage events, runs all three
// detectors, filters by min_confidence/min_samples, and persists survivors.
func (m *Miner) RunOnce(now time.Time) error {
	since := now.Add(-time.Duration(m.cfg.WindowDays) * 24 * time.Hour)
	events, err := m.store.QueryEventsSince(since)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	var detected []*domain.UsagePattern
	var triggers []string
	recurring, rTriggers := recurringTaskPatterns(events, now)
	detected = append(detected, recurring...)
	triggers = append(triggers, rTriggers...)

	tod, tTriggers := timeOfDayPatterns(events, now)
	detected = append(detected, tod...)
	triggers = append(triggers, tTriggers...)

	pairs, pTriggers := workflowPairPatterns(events, now)
	detected = append(detected, pairs...)
	triggers = append(triggers, pTriggers...)

	for i, p := range detected {
		if p.Confidence < m.cfg.MinConfidence || p.SampleCount < m.cfg.MinSamples {
			continue
		}
		if err := m.store.InsertUsagePattern(p, triggers[i]); err != nil {
			return err
		}
	}
	m.logger.Info("pattern mining complete", zap.Int("events", len(events)), zap.Int("detected", len(detected)))
	return nil
}

func recurringTaskPatterns(events []*domain.UsageEvent, now time.Time) ([]*domain.UsagePattern, []string) {
	groups := map[string][]*domain.UsageEvent{}
	for _, e := range events {
		if e.Category == "" {
			continue
		}
		groups[e.Category] = append(groups[e.Category], e)
	}

	var out []*domain.UsagePattern
	var triggers []string
	total := len(events)
	for category, group := range groups {
		if len(group) < minGroupCount {
			continue
		}
		confidence := minFloat(float64(len(group))/float64(total)*recurringConfidenceK, confidenceCap)
		out = append(out, &domain.UsagePattern{
			ID:          uuid.New().String(),
			PatternType: "recurring_task",
			Description: fmt.Sprintf("recurring %q tasks", category),
			Frequency:   frequencyLabel(group),
			Confidence:  confidence,
			SampleCount: len(group),
			Status:      domain.PatternDetected,
			FirstSeen:   earliestDate(group),
			LastSeen:    now,
		})
		triggers = append(triggers, triggerJSON(map[string]any{"category": category}))
	}
	return out, triggers
}

func timeOfDayPatterns(events []*domain.UsageEvent, now time.Time) ([]*domain.UsagePattern, []string) {
	byHour := map[int][]*domain.UsageEvent{}
	for _, e := range events {
		if e.Hour == nil {
			continue
		}
		byHour[*e.Hour] = append(byHour[*e.Hour], e)
	}

	var out []*domain.UsagePattern
	var triggers []string
	total := len(events)
	for hour, group := range byHour {
		ratio := float64(len(group)) / float64(total)
		if ratio <= timeOfDayShare || len(group) < minGroupCount {
			continue
		}
		out = append(out, &domain.UsagePattern{
			ID:          uuid.New().String(),
			PatternType: "time_of_day",
			Description: fmt.Sprintf("activity concentrated around hour %d", hour),
			Frequency:   frequencyLabel(group),
			Confidence:  minFloat(ratio, confidenceCap),
			SampleCount: len(group),
			Status:      domain.PatternDetected,
			FirstSeen:   earliestDate(group),
			LastSeen:    now,
		})
		triggers = append(triggers, triggerJSON(map[string]any{"hour": hour}))
	}
	return out, triggers
}

func workflowPairPatterns(events []*domain.UsageEvent, now time.Time) ([]*domain.UsagePattern, []string) {
	type pairKey struct{ a, b string }
	counts := map[pairKey]int{}
	groups := map[pairKey][]*domain.UsageEvent{}

	for i := 0; i+1 < len(events); i++ {
		a, b := events[i].Category, events[i+1].Category
		if a == "" || b == "" {
			continue
		}
		key := pairKey{a, b}
		counts[key]++
		groups[key] = append(groups[key], events[i+1])
	}

	var out []*domain.UsagePattern
	var triggers []string
	total := len(events)
	for key, count := range counts {
		if count < minGroupCount {
			continue
		}
		confidence := minFloat(float64(count)/float64(total)*workflowPairK, confidenceCap)
		out = append(out, &domain.UsagePattern{
			ID:          uuid.New().String(),
			PatternType: "workflow_pair",
			Description: fmt.Sprintf("%q is often followed by %q", key.a, key.b),
			Frequency:   frequencyLabel(groups[key]),
			Confidence:  confidence,
			SampleCount: count,
			Status:      domain.PatternDetected,
			FirstSeen:   earliestDate(groups[key]),
			LastSeen:    now,
		})
		triggers = append(triggers, triggerJSON(map[string]any{"category_a": key.a, "category_b": key.b}))
	}
	return out, triggers
}

// frequencyLabel buckets a group's dates into "daily" (>=5 distinct
// weekdays), "{n}x/week" (>=2 distinct weekdays), or "weekly".
func frequencyLabel(events []*domain.UsageEvent) string {
	weekdays := map[time.Weekday]bool{}
	for _, e := range events {
		weekdays[e.Date.Weekday()] = true
	}
	switch {
	case len(weekdays) >= 5:
		return "daily"
	case len(weekdays) >= 2:
		return fmt.Sprintf("%dx/week", len(weekdays))
	default:
		return "weekly"
	}
}

func earliestDate(events []*domain.UsageEvent) time.Time {
	earliest := events[0].Date
	for _, e := range events[1:] {
		if e.Date.Before(earliest) {
			earliest = e.Date
		}
	}
	return earliest
}

func triggerJSON(v map[string]any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
