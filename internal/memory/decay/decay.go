// Package decay implements spec.md §4.4's exponential confidence decay and
// the low-confidence prune that follows it, grounded on the exponential
// decay formula in the original Rust implementation's memory module.
package decay

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/iterflow/agent/internal/rerr"
	"github.com/iterflow/agent/internal/store"
)

// DefaultRate is the fraction of confidence lost per week without use.
const DefaultRate = 0.05

// DefaultFloor is the confidence below which a learning is pruned.
const DefaultFloor = 0.1

// Engine applies decay and pruning against the store.
type Engine struct {
	store  *store.Store
	logger *zap.Logger
	Rate   float64
	Floor  float64
}

func New(s *store.Store, logger *zap.Logger) *Engine {
	return &Engine{store: s, logger: logger.With(zap.String("component", "decay")), Rate: DefaultRate, Floor: DefaultFloor}
}

// Apply decays every learning's confidence against now, then prunes anything
// that falls below Floor. It returns the number of learnings pruned.
//
// Invariant: new_confidence <= old_confidence, with equality only when
// last_used == now (or the rate is zero).
func (e *Engine) Apply(now time.Time) (int64, error) {
	learnings, err := e.store.QueryAllLearnings()
	if err != nil {
		return 0, rerr.New(rerr.KindDatabase, "decay: list learnings: "+err.Error())
	}

	for _, l := range learnings {
		newConf := Decay(l.Confidence, l.LastUsed, now, e.Rate)
		if newConf == l.Confidence {
			continue
		}
		if err := e.store.UpdateLearningConfidence(l.ID, newConf); err != nil {
			return 0, err
		}
	}

	pruned, err := e.store.PruneLowConfidence(e.Floor)
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		e.logger.Info("pruned low-confidence learnings", zap.Int64("count", pruned), zap.Float64("floor", e.Floor))
	}
	return pruned, nil
}

// Decay computes new_conf = old_conf * e^(-rate * weeksSinceLastUsed).
// A nil lastUsed is treated as zero weeks elapsed (no decay).
func Decay(oldConf float64, lastUsed *time.Time, now time.Time, rate float64) float64 {
	weeks := 0.0
	if lastUsed != nil {
		weeks = now.Sub(*lastUsed).Hours() / (24 * 7)
		if weeks < 0 {
			weeks = 0
		}
	}
	return oldConf * math.Exp(-rate*weeks)
}
