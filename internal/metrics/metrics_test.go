// File: internal/metrics/metrics_test.go
package metrics

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/actions"
)

func TestCollector(t *testing.T) {
	logger := zap.NewNop()

	t.Run("should aggregate steps into the run summary", func(t *testing.T) {
		c := NewCollector(30, logger)

		c.BeginStep(1)
		c.RecordAttempt()
		c.RecordClassification(actions.TierPattern, 0)
		c.EndStep(true, "XK42ZP", nil)

		c.BeginStep(2)
		c.RecordAttempt()
		c.RecordAttempt()
		c.RecordClassification(actions.TierFast, 100)
		c.RecordClassification(actions.TierVision, 250)
		c.EndStep(false, "", errors.New("step abandoned"))

		s := c.Summary()
		assert.Equal(t, 1, s.Completed)
		assert.Equal(t, 30, s.Total)
		assert.Equal(t, 2, s.LLMCalls)
		assert.Equal(t, 350, s.LLMTokens)
		assert.InDelta(t, 350*0.30/1e6, s.EstCost, 1e-12)
		assert.NotEmpty(t, s.RunID)

		want := []StepMetric{
			{Step: 1, Attempts: 1, TierUsed: actions.TierPattern, Success: true, Code: "XK42ZP"},
			{Step: 2, Attempts: 2, LLMCalls: 2, LLMTokens: 350, TierUsed: actions.TierVision, Error: "step abandoned"},
		}
		if diff := cmp.Diff(want, s.Steps, cmpopts.IgnoreFields(StepMetric{}, "WallTime")); diff != "" {
			t.Errorf("steps mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("should keep the highest tier consulted per step", func(t *testing.T) {
		c := NewCollector(30, logger)
		c.BeginStep(1)
		c.RecordClassification(actions.TierVision, 200)
		c.RecordClassification(actions.TierFast, 100)
		c.EndStep(true, "XK42ZP", nil)

		assert.Equal(t, actions.TierVision, c.Summary().Steps[0].TierUsed)
	})

	t.Run("should count no call for the pattern tier", func(t *testing.T) {
		c := NewCollector(30, logger)
		c.BeginStep(1)
		c.RecordClassification(actions.TierPattern, 0)
		c.EndStep(true, "XK42ZP", nil)

		s := c.Summary()
		assert.Zero(t, s.LLMCalls)
		assert.Zero(t, s.LLMTokens)
	})

	t.Run("should ignore events outside a step", func(t *testing.T) {
		c := NewCollector(30, logger)
		c.RecordAttempt()
		c.RecordClassification(actions.TierFast, 100)
		c.EndStep(true, "XK42ZP", nil)

		assert.Empty(t, c.Summary().Steps)
	})
}

func TestSummaryRender(t *testing.T) {
	t.Run("should render per-step lines and totals", func(t *testing.T) {
		c := NewCollector(30, zap.NewNop())
		c.BeginStep(1)
		c.RecordClassification(actions.TierPattern, 0)
		c.EndStep(true, "XK42ZP", nil)
		c.BeginStep(2)
		c.RecordClassification(actions.TierFast, 120)
		c.EndStep(false, "", errors.New("no code extracted"))

		var buf bytes.Buffer
		c.Summary().Render(&buf)
		out := buf.String()

		assert.Contains(t, out, "Step 1: [OK]")
		assert.Contains(t, out, "T0:pattern")
		assert.Contains(t, out, "code=XK42ZP")
		assert.Contains(t, out, "Step 2: [FAIL]")
		assert.Contains(t, out, "err=no code extracted")
		assert.Contains(t, out, "Completed:     1/30")
		assert.Contains(t, out, "Est. cost:")
	})
}

func TestSummaryWriteJSON(t *testing.T) {
	t.Run("should write a readable JSON report", func(t *testing.T) {
		c := NewCollector(30, zap.NewNop())
		c.BeginStep(1)
		c.EndStep(true, "XK42ZP", nil)

		path := filepath.Join(t.TempDir(), "report.json")
		require.NoError(t, c.Summary().WriteJSON(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"run_id"`)
		assert.Contains(t, string(data), `"XK42ZP"`)
	})

	t.Run("should fail on an unwritable path", func(t *testing.T) {
		c := NewCollector(30, zap.NewNop())
		err := c.Summary().WriteJSON(filepath.Join(t.TempDir(), "missing", "report.json"))
		assert.Error(t, err)
	})
}
