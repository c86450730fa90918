// File: internal/solver/solver_test.go
package solver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/actions"
	"github.com/xkilldash9x/webnav-cli/internal/browser"
	"github.com/xkilldash9x/webnav-cli/internal/config"
	"github.com/xkilldash9x/webnav-cli/internal/extract"
	"github.com/xkilldash9x/webnav-cli/internal/perception"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePage simulates the challenge page. Submitting advances the location
// when acceptSubmit is set.
type fakePage struct {
	location     string
	acceptSubmit bool
	hasInput     bool

	submitted []string
}

func (f *fakePage) Location(ctx context.Context) (string, error) { return f.location, nil }

func (f *fakePage) Text(ctx context.Context, selector string) (string, error) { return "", nil }

func (f *fakePage) Evaluate(ctx context.Context, script string, out any) error {
	switch v := out.(type) {
	case *bool:
		if strings.Contains(script, "data-wnav-submit") {
			*v = f.hasInput
		} else {
			// Submission click.
			*v = true
			if f.acceptSubmit {
				step := perception.StepFromURL(f.location)
				f.location = fmt.Sprintf("https://challenge.test/step%d?version=3", step+1)
			}
		}
	case *int:
		*v = 0
	}
	return nil
}

func (f *fakePage) SetValue(ctx context.Context, selector, value string) error {
	f.submitted = append(f.submitted, value)
	return nil
}

func (f *fakePage) PressKey(ctx context.Context, key string) error { return nil }

func (f *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte{0x89, 0x50}, nil
}

func (f *fakePage) SessionStorage(ctx context.Context, key string) (string, error) {
	return "", nil
}

// fakeObserver hands out a prepared snapshot.
type fakeObserver struct {
	snap *perception.Snapshot
}

func (f *fakeObserver) Capture(ctx context.Context, page perception.Page) (*perception.Snapshot, error) {
	s := *f.snap
	return &s, nil
}

// fakeClassifier records the tier ranges it was asked for.
type fakeClassifier struct {
	ranges [][2]actions.Tier
	plan   *actions.Plan
	err    error
}

func (f *fakeClassifier) Classify(ctx context.Context, snap *perception.Snapshot, min, max actions.Tier) (*actions.Plan, error) {
	f.ranges = append(f.ranges, [2]actions.Tier{min, max})
	if f.err != nil {
		return nil, f.err
	}
	return f.plan, nil
}

// fakeExecutor applies nothing.
type fakeExecutor struct {
	err   error
	calls int
}

func (f *fakeExecutor) Execute(ctx context.Context, plan *actions.Plan) error {
	f.calls++
	return f.err
}

// fakeExtractor records the filters it was given.
type fakeExtractor struct {
	result  *extract.Result
	filters []map[string]bool
}

func (f *fakeExtractor) Extract(ctx context.Context, page extract.Page, step int, used map[string]bool) (*extract.Result, error) {
	f.filters = append(f.filters, used)
	if f.result != nil && used[f.result.Code] {
		return nil, nil
	}
	return f.result, nil
}

// fakeRecorder counts metric events.
type fakeRecorder struct {
	attempts        int
	classifications []actions.Tier
}

func (f *fakeRecorder) RecordAttempt() { f.attempts++ }

func (f *fakeRecorder) RecordClassification(tier actions.Tier, tokens int) {
	f.classifications = append(f.classifications, tier)
}

type solverFixture struct {
	page       *fakePage
	observer   *fakeObserver
	classifier *fakeClassifier
	executor   *fakeExecutor
	extractor  *fakeExtractor
	recorder   *fakeRecorder
	solver     *Solver
}

func newFixture(cfg config.ChallengeConfig, snap *perception.Snapshot) *solverFixture {
	logger := zap.NewNop()
	f := &solverFixture{
		page:     &fakePage{location: "https://challenge.test/step3?version=3", hasInput: true},
		observer: &fakeObserver{snap: snap},
		classifier: &fakeClassifier{
			plan: &actions.Plan{
				Actions: []actions.Action{{Kind: actions.KindClick, Target: "#reveal"}},
				Tier:    actions.TierPattern,
			},
		},
		executor:  &fakeExecutor{},
		extractor: &fakeExtractor{},
		recorder:  &fakeRecorder{},
	}
	f.solver = New(cfg, f.page, browser.NewCleaner(500, logger), f.observer,
		f.classifier, f.executor, f.extractor, f.recorder, logger)
	return f
}

func testChallengeConfig() config.ChallengeConfig {
	return config.ChallengeConfig{
		URL:            "https://challenge.test",
		TotalSteps:     30,
		TimeBudget:     60 * time.Second,
		StepTimeout:    400 * time.Millisecond,
		MaxAttempts:    3,
		StuckThreshold: 2,
		SessionKey:     "wo_session",
		CryptoKey:      "WO_2024_CHALLENGE",
		OverlayZIndex:  500,
	}
}

func TestSolveStep(t *testing.T) {
	ctx := context.Background()

	t.Run("should advance via the visible-code fast path without classifying", func(t *testing.T) {
		snap := &perception.Snapshot{Step: 3, Instruction: "irrelevant", VisibleCodes: []string{"XK42ZP"}}
		f := newFixture(testChallengeConfig(), snap)
		f.page.acceptSubmit = true

		outcome, err := f.solver.SolveStep(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, StateAdvanced, outcome.State)
		assert.Equal(t, "XK42ZP", outcome.Code)
		assert.Equal(t, 1, outcome.Attempts)
		assert.Empty(t, f.classifier.ranges, "a visible code must skip classification")
		assert.Equal(t, []string{"XK42ZP"}, f.page.submitted)
	})

	t.Run("should classify, execute and submit the extracted code", func(t *testing.T) {
		snap := &perception.Snapshot{Step: 3, Instruction: "click the mystery control"}
		f := newFixture(testChallengeConfig(), snap)
		f.page.acceptSubmit = true
		f.extractor.result = &extract.Result{Code: "9Q8W7E", Strategy: "hidden-dom"}

		outcome, err := f.solver.SolveStep(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, StateAdvanced, outcome.State)
		assert.Equal(t, "9Q8W7E", outcome.Code)
		assert.Equal(t, 1, f.executor.calls)
		assert.Equal(t, []actions.Tier{actions.TierPattern}, f.recorder.classifications)
	})

	t.Run("should never report advance without URL verification", func(t *testing.T) {
		snap := &perception.Snapshot{Step: 3, Instruction: "click the mystery control"}
		cfg := testChallengeConfig()
		cfg.MaxAttempts = 2
		cfg.StuckThreshold = 2
		f := newFixture(cfg, snap)
		f.page.acceptSubmit = false
		f.extractor.result = &extract.Result{Code: "9Q8W7E", Strategy: "visible"}

		outcome, err := f.solver.SolveStep(ctx, 3)
		require.ErrorIs(t, err, ErrStepAbandoned)
		assert.Equal(t, StateAbandoned, outcome.State)
		assert.Empty(t, outcome.Code)
		assert.Equal(t, 2, f.recorder.attempts)
	})

	t.Run("should not resubmit a rejected code on later attempts", func(t *testing.T) {
		snap := &perception.Snapshot{Step: 3, Instruction: "click the mystery control"}
		cfg := testChallengeConfig()
		cfg.MaxAttempts = 2
		f := newFixture(cfg, snap)
		f.page.acceptSubmit = false
		f.extractor.result = &extract.Result{Code: "9Q8W7E", Strategy: "visible"}

		_, err := f.solver.SolveStep(ctx, 3)
		require.ErrorIs(t, err, ErrStepAbandoned)

		require.NotEmpty(t, f.extractor.filters)
		last := f.extractor.filters[len(f.extractor.filters)-1]
		assert.True(t, last["9Q8W7E"], "the rejected code must be filtered on retry")
		assert.Equal(t, []string{"9Q8W7E"}, f.page.submitted, "the rejected code must be submitted once")
	})

	t.Run("should escalate to the vision tier once the stuck threshold is reached", func(t *testing.T) {
		snap := &perception.Snapshot{Step: 3, Instruction: "click the mystery control"}
		cfg := testChallengeConfig()
		cfg.MaxAttempts = 4
		cfg.StuckThreshold = 2
		f := newFixture(cfg, snap)
		// Extraction never finds anything, so every attempt fails.
		f.extractor.result = nil

		_, err := f.solver.SolveStep(ctx, 3)
		require.ErrorIs(t, err, ErrStepAbandoned)

		require.Len(t, f.classifier.ranges, 4)
		assert.Equal(t, actions.TierPattern, f.classifier.ranges[0][0])
		assert.Equal(t, actions.TierFast, f.classifier.ranges[0][1], "vision must be out of reach before the threshold")
		assert.Equal(t, actions.TierPattern, f.classifier.ranges[1][0])
		assert.Equal(t, actions.TierFast, f.classifier.ranges[1][1])
		assert.Equal(t, actions.TierVision, f.classifier.ranges[2][0], "minimum tier must be vision after the threshold")
		assert.Equal(t, actions.TierVision, f.classifier.ranges[3][0])
		assert.Equal(t, actions.TierVision, f.classifier.ranges[3][1])
	})

	t.Run("should not reach the vision tier when classification fails before the threshold", func(t *testing.T) {
		snap := &perception.Snapshot{Step: 3, Instruction: "click the mystery control"}
		cfg := testChallengeConfig()
		cfg.MaxAttempts = 1
		cfg.StuckThreshold = 3
		f := newFixture(cfg, snap)
		f.classifier.err = errors.New("no plan matched")

		_, err := f.solver.SolveStep(ctx, 3)
		require.ErrorIs(t, err, ErrStepAbandoned)

		require.Len(t, f.classifier.ranges, 1)
		assert.Equal(t, actions.TierFast, f.classifier.ranges[0][1],
			"a first-attempt miss must stop at the fast tier")
	})

	t.Run("should keep the tier monotonic within a step", func(t *testing.T) {
		snap := &perception.Snapshot{Step: 3, Instruction: "click the mystery control"}
		cfg := testChallengeConfig()
		cfg.MaxAttempts = 3
		cfg.StuckThreshold = 3
		f := newFixture(cfg, snap)
		f.classifier.plan = &actions.Plan{
			Actions: []actions.Action{{Kind: actions.KindClick, Target: "#reveal"}},
			Tier:    actions.TierFast,
		}
		f.extractor.result = nil

		_, err := f.solver.SolveStep(ctx, 3)
		require.ErrorIs(t, err, ErrStepAbandoned)

		require.Len(t, f.classifier.ranges, 3)
		// After a fast-tier plan the next attempt must not start below fast.
		assert.Equal(t, actions.TierFast, f.classifier.ranges[1][0])
		assert.Equal(t, actions.TierFast, f.classifier.ranges[2][0])
	})

	t.Run("should treat codes accepted on earlier steps as used", func(t *testing.T) {
		snap := &perception.Snapshot{Step: 3, Instruction: "click the mystery control"}
		f := newFixture(testChallengeConfig(), snap)
		f.page.acceptSubmit = true
		f.extractor.result = &extract.Result{Code: "9Q8W7E", Strategy: "visible"}

		_, err := f.solver.SolveStep(ctx, 3)
		require.NoError(t, err)

		// Next step: the extractor only has the already-used code, so the
		// pipeline misses and the step is abandoned.
		f.observer.snap.Step = 4
		f.page.location = "https://challenge.test/step4?version=3"
		_, err = f.solver.SolveStep(ctx, 4)
		require.ErrorIs(t, err, ErrStepAbandoned)

		last := f.extractor.filters[len(f.extractor.filters)-1]
		assert.True(t, last["9Q8W7E"])
	})

	t.Run("should stop when the caller's context is cancelled", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		snap := &perception.Snapshot{Step: 3, Instruction: "click the mystery control"}
		f := newFixture(testChallengeConfig(), snap)

		_, err := f.solver.SolveStep(cancelled, 3)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStateString(t *testing.T) {
	t.Run("should name every phase", func(t *testing.T) {
		names := map[State]string{
			StateObserving:   "observing",
			StateClassifying: "classifying",
			StateExecuting:   "executing",
			StateExtracting:  "extracting",
			StateSubmitting:  "submitting",
			StateVerifying:   "verifying",
			StateAdvanced:    "advanced",
			StateRetrying:    "retrying",
			StateAbandoned:   "abandoned",
		}
		for state, want := range names {
			assert.Equal(t, want, state.String())
		}
	})
}
