// File: internal/dispatch/cascade.go

// Package dispatch implements the three-tier classifier cascade that turns a
// step instruction into an action plan: local pattern matching, a fast
// remote model, and a vision-assisted remote model as last resort.
package dispatch

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/actions"
	"github.com/xkilldash9x/webnav-cli/internal/perception"
)

// ErrNoPlan reports that no tier in the requested range produced a valid plan.
var ErrNoPlan = errors.New("no classifier tier produced a valid plan")

// Classifier is one cascade stage. Implementations: PatternClassifier
// (tier 0) and ModelClassifier (tiers 1 and 2).
type Classifier interface {
	Tier() actions.Tier
	Classify(ctx context.Context, snap *perception.Snapshot) (*actions.Plan, error)
}

// Cascade is the prioritized chain of classifiers. Adding a tier is adding
// a Classifier; the chain itself never special-cases a stage.
type Cascade struct {
	classifiers []Classifier
	logger      *zap.Logger
}

// NewCascade builds a cascade; classifiers are ordered by tier.
func NewCascade(logger *zap.Logger, classifiers ...Classifier) *Cascade {
	sorted := make([]Classifier, len(classifiers))
	copy(sorted, classifiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Tier() < sorted[j].Tier()
	})
	return &Cascade{
		classifiers: sorted,
		logger:      logger.Named("dispatch"),
	}
}

// Classify walks tiers within [min, max] in order and returns the first
// valid plan. A failure at one tier (no match, timeout, malformed response)
// moves straight to the next tier; it never retries the same tier.
func (c *Cascade) Classify(ctx context.Context, snap *perception.Snapshot, min, max actions.Tier) (*actions.Plan, error) {
	var lastErr error
	for _, cl := range c.classifiers {
		tier := cl.Tier()
		if tier < min || tier > max {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		plan, err := cl.Classify(ctx, snap)
		if err != nil {
			c.logger.Debug("Classifier tier failed, escalating",
				zap.Stringer("tier", tier), zap.Error(err))
			lastErr = err
			continue
		}
		if err := plan.Validate(); err != nil {
			c.logger.Debug("Classifier tier produced invalid plan, escalating",
				zap.Stringer("tier", tier), zap.Error(err))
			lastErr = err
			continue
		}
		return plan, nil
	}

	if lastErr != nil {
		return nil, errors.Join(ErrNoPlan, lastErr)
	}
	return nil, ErrNoPlan
}
