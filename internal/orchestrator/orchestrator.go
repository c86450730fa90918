// File: internal/orchestrator/orchestrator.go

// Package orchestrator drives a whole challenge run: land on the start page,
// enter the challenge, hand each step to the solver and enforce the
// wall-clock budget between steps.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/config"
	"github.com/xkilldash9x/webnav-cli/internal/extract"
	"github.com/xkilldash9x/webnav-cli/internal/metrics"
	"github.com/xkilldash9x/webnav-cli/internal/perception"
	"github.com/xkilldash9x/webnav-cli/internal/solver"
)

// ErrBudgetExhausted reports that the wall-clock budget ran out before the
// run finished. The report still covers everything completed so far.
var ErrBudgetExhausted = errors.New("time budget exhausted")

// Page is the navigation slice of the browser session the orchestrator uses.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	Evaluate(ctx context.Context, script string, out any) error
}

// StepSolver resolves one step to a terminal state.
type StepSolver interface {
	SolveStep(ctx context.Context, step int) (*solver.Outcome, error)
}

// Orchestrator owns the run loop.
type Orchestrator struct {
	cfg       config.ChallengeConfig
	page      Page
	solver    StepSolver
	collector *metrics.Collector
	logger    *zap.Logger
}

// New builds an orchestrator.
func New(cfg config.ChallengeConfig, page Page, s StepSolver, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		page:      page,
		solver:    s,
		collector: collector,
		logger:    logger.Named("orchestrator"),
	}
}

// startClickScript presses the entry control on the landing page.
const startClickScript = `
(() => {
  for (const el of document.querySelectorAll('button, a, [role="button"]')) {
    if (el.offsetParent === null) continue;
    const text = (el.textContent || '').trim().toLowerCase();
    if (text.includes('start') || text.includes('begin')) { el.click(); return true; }
  }
  return false;
})()`

// finishNavScript loads the finish page, carrying the version query the
// challenge threads through every URL.
const finishNavScript = `
(() => {
  const version = new URLSearchParams(window.location.search).get('version') || '1';
  window.location.href = '/finish?version=' + version;
  return true;
})()`

// Run works through the challenge until it finishes, a step is abandoned, or
// the budget runs out. The summary always reflects the work actually done.
func (o *Orchestrator) Run(ctx context.Context) (metrics.Summary, error) {
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.TimeBudget)
	defer cancel()

	o.logger.Info("Run starting",
		zap.String("run_id", o.collector.RunID()),
		zap.String("url", o.cfg.URL),
		zap.Int("total_steps", o.cfg.TotalSteps),
		zap.Duration("budget", o.cfg.TimeBudget),
	)

	if err := o.enter(runCtx); err != nil {
		return o.collector.Summary(), err
	}

	var runErr error
	for {
		step, done, err := o.currentStep(runCtx)
		if err != nil {
			runErr = err
			break
		}
		if done {
			o.logger.Info("Challenge finished",
				zap.Duration("elapsed", o.collector.Elapsed()))
			break
		}

		o.collector.BeginStep(step)
		outcome, err := o.solver.SolveStep(runCtx, step)

		// The final step has no code of its own; when it cannot be solved
		// normally the session payload route is the way out.
		if errors.Is(err, solver.ErrStepAbandoned) && step == o.cfg.TotalSteps &&
			o.completeFinalStep(runCtx) {
			o.collector.EndStep(true, "FINISH", nil)
			o.logger.Info("Final step completed via the session payload")
			break
		}
		o.collector.EndStep(outcome.State == solver.StateAdvanced, outcome.Code, err)

		if err != nil {
			switch {
			case runCtx.Err() != nil:
				runErr = fmt.Errorf("step %d: %w", step, ErrBudgetExhausted)
			case errors.Is(err, solver.ErrStepAbandoned):
				// Steps are strictly sequential; an abandoned step ends the run.
				runErr = err
			default:
				runErr = fmt.Errorf("step %d: %w", step, err)
			}
			break
		}

		// Budget check between steps; never mid-attempt.
		if runCtx.Err() != nil {
			runErr = ErrBudgetExhausted
			break
		}
	}

	summary := o.collector.Summary()
	o.logger.Info("Run complete",
		zap.Int("completed", summary.Completed),
		zap.Int("total", summary.Total),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Int("llm_calls", summary.LLMCalls),
		zap.Error(runErr),
	)
	return summary, runErr
}

// enter loads the landing page and clicks through to step 1. When the start
// control does not exist the step page is addressed directly.
func (o *Orchestrator) enter(ctx context.Context) error {
	if err := o.page.Navigate(ctx, o.cfg.URL); err != nil {
		return fmt.Errorf("open landing page: %w", err)
	}

	var clicked bool
	if err := o.page.Evaluate(ctx, startClickScript, &clicked); err != nil {
		return fmt.Errorf("click start: %w", err)
	}
	if clicked {
		o.waitForStep(ctx)
	}

	url, err := o.page.Location(ctx)
	if err != nil {
		return fmt.Errorf("read location after start: %w", err)
	}
	if perception.StepFromURL(url) == 0 {
		direct := strings.TrimRight(o.cfg.URL, "/") + "/step1?version=3"
		o.logger.Debug("No start control advanced the page, navigating directly",
			zap.String("url", direct))
		if err := o.page.Navigate(ctx, direct); err != nil {
			return fmt.Errorf("open first step: %w", err)
		}
	}
	return nil
}

// completeFinalStep marks the last step done inside the obfuscated session
// payload and loads the finish page. Reports whether the finish page was
// actually reached.
func (o *Orchestrator) completeFinalStep(ctx context.Context) bool {
	var raw string
	read := fmt.Sprintf(`sessionStorage.getItem(%q) || ""`, o.cfg.SessionKey)
	if err := o.page.Evaluate(ctx, read, &raw); err != nil || strings.TrimSpace(raw) == "" {
		return false
	}

	updated, err := extract.MarkStepCompleted(raw, o.cfg.CryptoKey, o.cfg.TotalSteps)
	if err != nil {
		o.logger.Debug("Session payload rewrite failed", zap.Error(err))
		return false
	}
	write := fmt.Sprintf(`sessionStorage.setItem(%q, %q)`, o.cfg.SessionKey, updated)
	if err := o.page.Evaluate(ctx, write, nil); err != nil {
		return false
	}
	if err := o.page.Evaluate(ctx, finishNavScript, nil); err != nil {
		return false
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		if url, err := o.page.Location(ctx); err == nil && strings.Contains(url, "finish") {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		t := time.NewTimer(200 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
}

// waitForStep polls briefly for the URL to become a step page.
func (o *Orchestrator) waitForStep(ctx context.Context) {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if url, err := o.page.Location(ctx); err == nil && perception.StepFromURL(url) > 0 {
			return
		}
		t := time.NewTimer(200 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// currentStep reads the URL and decides whether the run is over.
func (o *Orchestrator) currentStep(ctx context.Context) (step int, done bool, err error) {
	url, err := o.page.Location(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("read location: %w", err)
	}
	step = perception.StepFromURL(url)
	if step == 0 {
		if strings.Contains(url, "finish") || strings.Contains(url, "complete") {
			return 0, true, nil
		}
		return 0, false, fmt.Errorf("not on a step page: %s", url)
	}
	if step > o.cfg.TotalSteps {
		return 0, true, nil
	}
	return step, false, nil
}
