// File: internal/solver/solver.go

// Package solver runs the per-step state machine: observe, classify, execute,
// extract, submit, verify. A step only counts as done when the page URL
// advances; everything before that is an attempt that may be retried.
package solver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/actions"
	"github.com/xkilldash9x/webnav-cli/internal/browser"
	"github.com/xkilldash9x/webnav-cli/internal/config"
	"github.com/xkilldash9x/webnav-cli/internal/extract"
	"github.com/xkilldash9x/webnav-cli/internal/perception"
)

// State labels the phase a step attempt is in. Transitions are logged; the
// run report records the terminal state per step.
type State int

const (
	StateObserving State = iota
	StateClassifying
	StateExecuting
	StateExtracting
	StateSubmitting
	StateVerifying
	StateAdvanced
	StateRetrying
	StateAbandoned
)

// String returns the lowercase phase name.
func (s State) String() string {
	switch s {
	case StateObserving:
		return "observing"
	case StateClassifying:
		return "classifying"
	case StateExecuting:
		return "executing"
	case StateExtracting:
		return "extracting"
	case StateSubmitting:
		return "submitting"
	case StateVerifying:
		return "verifying"
	case StateAdvanced:
		return "advanced"
	case StateRetrying:
		return "retrying"
	case StateAbandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Page is the browser surface the solver itself touches. The executor holds
// its own narrower view of the same session.
type Page interface {
	Location(ctx context.Context) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	Evaluate(ctx context.Context, script string, out any) error
	SetValue(ctx context.Context, selector, value string) error
	PressKey(ctx context.Context, key string) error
	Screenshot(ctx context.Context) ([]byte, error)
	SessionStorage(ctx context.Context, key string) (string, error)
}

// Classifier produces a plan within a tier range. Satisfied by
// dispatch.Cascade.
type Classifier interface {
	Classify(ctx context.Context, snap *perception.Snapshot, min, max actions.Tier) (*actions.Plan, error)
}

// Executor applies a plan to the page. Satisfied by executor.Executor.
type Executor interface {
	Execute(ctx context.Context, plan *actions.Plan) error
}

// Extractor finds the step code on the page. Satisfied by extract.Pipeline.
type Extractor interface {
	Extract(ctx context.Context, page extract.Page, step int, used map[string]bool) (*extract.Result, error)
}

// Recorder receives attempt and classification events. Satisfied by
// metrics.Collector.
type Recorder interface {
	RecordAttempt()
	RecordClassification(tier actions.Tier, tokens int)
}

// Observer captures page snapshots. Satisfied by perception.Observer.
type Observer interface {
	Capture(ctx context.Context, page perception.Page) (*perception.Snapshot, error)
}

// Outcome is the terminal result of one step.
type Outcome struct {
	State    State
	Code     string
	Tier     actions.Tier
	Attempts int
}

// Solver owns the step state machine.
type Solver struct {
	cfg        config.ChallengeConfig
	page       Page
	cleaner    *browser.Cleaner
	observer   Observer
	classifier Classifier
	executor   Executor
	extractor  Extractor
	recorder   Recorder
	logger     *zap.Logger

	// used holds codes accepted on earlier steps; codes are single-use.
	used map[string]bool
}

// New builds a solver over the given components.
func New(
	cfg config.ChallengeConfig,
	page Page,
	cleaner *browser.Cleaner,
	observer Observer,
	classifier Classifier,
	executor Executor,
	extractor Extractor,
	recorder Recorder,
	logger *zap.Logger,
) *Solver {
	return &Solver{
		cfg:        cfg,
		page:       page,
		cleaner:    cleaner,
		observer:   observer,
		classifier: classifier,
		executor:   executor,
		extractor:  extractor,
		recorder:   recorder,
		logger:     logger.Named("solver"),
		used:       make(map[string]bool),
	}
}

// revealSweepScript clicks buttons whose label promises to surface a code.
// Returns the number of elements clicked, capped at three per sweep.
const revealSweepScript = `
(() => {
  const labels = ['reveal code', 'complete challenge', 'capture now',
    'extract code', 'retrieve from cache', 'all tabs visited',
    'complete', 'reveal', 'capture', 'decode', 'solve'];
  let clicked = 0;
  for (const el of document.querySelectorAll('button, a, [role="button"], .cursor-pointer')) {
    if (el.offsetParent === null) continue;
    const text = (el.textContent || '').trim().toLowerCase();
    if (!labels.some(l => text === l || (text.length < 40 && text.includes(l)))) continue;
    el.click();
    clicked++;
    if (clicked >= 3) break;
  }
  return clicked;
})()`

// markInputScript tags the most likely code input so SetValue can address it
// by a stable selector. Inputs whose hints mention the code win over the
// first visible text input.
const markInputScript = `
(() => {
  document.querySelectorAll('[data-wnav-submit]').forEach(el => el.removeAttribute('data-wnav-submit'));
  const inputs = document.querySelectorAll('input[type="text"], input:not([type]), input[type="search"]');
  let best = null;
  for (const el of inputs) {
    if (el.offsetParent === null) continue;
    const hint = ((el.placeholder || '') + ' ' + (el.name || '') + ' ' + (el.id || '') +
      ' ' + (el.getAttribute('aria-label') || '')).toLowerCase();
    if (hint.includes('code') || hint.includes('character') || hint.includes('enter')) { best = el; break; }
    if (!best) best = el;
  }
  if (!best) return false;
  best.setAttribute('data-wnav-submit', '1');
  return true;
})()`

// submitClickScript presses the submission control next to the code input.
// Returns false when no suitable button exists; the caller falls back to the
// Enter key.
const submitClickScript = `
(() => {
  const labels = ['submit', 'verify', 'next', 'go', 'continue', 'enter'];
  for (const el of document.querySelectorAll('button, [role="button"], input[type="submit"]')) {
    if (el.offsetParent === null) continue;
    const text = ((el.textContent || el.value || '').trim()).toLowerCase();
    if (labels.some(l => text === l || text.startsWith(l + ' '))) { el.click(); return true; }
  }
  return false;
})()`

// SolveStep works one step to a terminal state. It returns a non-nil outcome
// in every case; the error is ErrStepAbandoned (wrapped) when attempts ran
// out, or the context error when the caller's deadline fired.
func (s *Solver) SolveStep(ctx context.Context, step int) (*Outcome, error) {
	log := s.logger.With(zap.Int("step", step))

	outcome := &Outcome{State: StateAbandoned}
	failures := 0
	minTier := actions.TierPattern
	tried := make(map[string]bool)

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		outcome.Attempts = attempt
		s.recorder.RecordAttempt()

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
		code, tier, err := s.attempt(attemptCtx, log, step, minTier, tried)
		cancel()

		if tier > minTier {
			// Tier never decreases within a step.
			minTier = tier
		}
		if tier > outcome.Tier {
			outcome.Tier = tier
		}

		if err == nil {
			outcome.State = StateAdvanced
			outcome.Code = code
			s.used[code] = true
			log.Info("Step advanced",
				zap.String("code", code),
				zap.Stringer("tier", outcome.Tier),
				zap.Int("attempts", attempt),
			)
			return outcome, nil
		}
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}

		failures++
		if failures >= s.cfg.StuckThreshold && minTier < actions.TierVision {
			log.Warn("Step is stuck, escalating to vision tier",
				zap.Int("failures", failures))
			minTier = actions.TierVision
		}
		log.Debug("Attempt failed",
			zap.Int("attempt", attempt),
			zap.Stringer("state", StateRetrying),
			zap.Error(err),
		)
	}

	log.Warn("Step abandoned", zap.Int("attempts", s.cfg.MaxAttempts))
	return outcome, fmt.Errorf("step %d: %w", step, ErrStepAbandoned)
}

// attempt runs one pass of the state machine. The returned tier is the
// highest tier consulted even when the attempt fails, so escalation is
// monotonic across attempts.
func (s *Solver) attempt(ctx context.Context, log *zap.Logger, step int, minTier actions.Tier, tried map[string]bool) (string, actions.Tier, error) {
	tier := minTier

	// Observing.
	if err := s.cleaner.Apply(ctx, s.page); err != nil {
		log.Debug("Overlay cleanup failed", zap.Error(err))
	}
	snap, err := s.observer.Capture(ctx, s.page)
	if err != nil {
		return "", tier, fmt.Errorf("%w: %v", ErrClassification, err)
	}

	// Fast path: a code already on the page skips classification entirely.
	if code := s.pickVisible(snap, tried); code != "" {
		log.Debug("Visible code fast path", zap.String("code", code))
		if err := s.submitAndVerify(ctx, step, code, tried); err != nil {
			return "", tier, err
		}
		return code, tier, nil
	}

	// Classifying. The vision tier is reachable only after the failure
	// counter raised the minimum; until then a remote miss must not fall
	// through to the screenshot model.
	maxTier := actions.TierFast
	if minTier > maxTier {
		maxTier = minTier
	}
	if maxTier >= actions.TierVision {
		if shot, err := s.page.Screenshot(ctx); err == nil {
			snap.Screenshot = shot
		}
	}
	plan, err := s.classifier.Classify(ctx, snap, minTier, maxTier)
	if err != nil {
		return "", tier, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	tier = plan.Tier
	s.recorder.RecordClassification(plan.Tier, plan.Tokens)
	log.Debug("Plan classified",
		zap.Stringer("tier", plan.Tier),
		zap.Int("actions", len(plan.Actions)),
	)

	// Executing.
	if err := s.executor.Execute(ctx, plan); err != nil {
		return "", tier, fmt.Errorf("%w: %v", ErrExecution, err)
	}

	// Some steps hide the code behind one more reveal control the plan did
	// not know about. The sweep is harmless when nothing matches.
	var clicked int
	if err := s.page.Evaluate(ctx, revealSweepScript, &clicked); err == nil && clicked > 0 {
		log.Debug("Reveal sweep clicked controls", zap.Int("clicked", clicked))
	}

	// Extracting. Reveal animations can lag the click, so poll briefly.
	code, err := s.extractWithPolling(ctx, step, tried)
	if err != nil {
		return "", tier, err
	}

	// Submitting and verifying.
	if err := s.submitAndVerify(ctx, step, code, tried); err != nil {
		return "", tier, err
	}
	return code, tier, nil
}

// pickVisible returns the first unused visible code from the snapshot.
func (s *Solver) pickVisible(snap *perception.Snapshot, tried map[string]bool) string {
	for _, c := range snap.VisibleCodes {
		if !s.used[c] && !tried[c] {
			return c
		}
	}
	return ""
}

// extractWithPolling runs the pipeline up to three times with short pauses.
func (s *Solver) extractWithPolling(ctx context.Context, step int, tried map[string]bool) (string, error) {
	filter := s.filterWith(tried)
	for poll := 0; poll < 3; poll++ {
		if poll > 0 {
			if err := sleep(ctx, 350*time.Millisecond); err != nil {
				return "", err
			}
		}
		result, err := s.extractor.Extract(ctx, s.page, step, filter)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrExtractionMiss, err)
		}
		if result != nil {
			return result.Code, nil
		}
	}
	return "", ErrExtractionMiss
}

// filterWith merges run-wide used codes with this step's rejected ones.
func (s *Solver) filterWith(tried map[string]bool) map[string]bool {
	filter := make(map[string]bool, len(s.used)+len(tried))
	for c := range s.used {
		filter[c] = true
	}
	for c := range tried {
		filter[c] = true
	}
	return filter
}

// submitAndVerify types the code, presses the submission control and waits
// for the URL to advance. A rejected code is remembered so later attempts do
// not resubmit it.
func (s *Solver) submitAndVerify(ctx context.Context, step int, code string, tried map[string]bool) error {
	var found bool
	if err := s.page.Evaluate(ctx, markInputScript, &found); err != nil || !found {
		return fmt.Errorf("%w: no code input on page", ErrSubmission)
	}
	if err := s.page.SetValue(ctx, `input[data-wnav-submit]`, code); err != nil {
		return fmt.Errorf("%w: %v", ErrSubmission, err)
	}

	var clicked bool
	if err := s.page.Evaluate(ctx, submitClickScript, &clicked); err != nil || !clicked {
		if err := s.page.PressKey(ctx, "Enter"); err != nil {
			return fmt.Errorf("%w: %v", ErrSubmission, err)
		}
	}

	if verified := s.verifyAdvance(ctx, step); !verified {
		tried[code] = true
		return fmt.Errorf("%w: code %s not accepted", ErrVerification, code)
	}
	return nil
}

// verifyAdvance polls the URL until the step number increases or the finish
// page loads. Submission feedback itself is never trusted.
func (s *Solver) verifyAdvance(ctx context.Context, step int) bool {
	deadline := time.Now().Add(4 * time.Second)
	for {
		url, err := s.page.Location(ctx)
		if err == nil {
			current := perception.StepFromURL(url)
			if current > step {
				return true
			}
			if current == 0 && (strings.Contains(url, "finish") || strings.Contains(url, "complete")) {
				return true
			}
		}
		if time.Now().After(deadline) {
			return false
		}
		if err := sleep(ctx, 250*time.Millisecond); err != nil {
			return false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
