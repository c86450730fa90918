// File: internal/metrics/metrics.go

// Package metrics aggregates per-step and per-run measurements and renders
// the final report. The collector is owned by the run orchestrator; the
// single-flow model means no locking is needed.
package metrics

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/actions"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// costPerMillionTokens is the blended price estimate used for reporting.
const costPerMillionTokens = 0.30

// StepMetric is the record of one resolved step.
type StepMetric struct {
	Step      int           `json:"step"`
	Attempts  int           `json:"attempts"`
	WallTime  time.Duration `json:"wall_time"`
	LLMCalls  int           `json:"llm_calls"`
	LLMTokens int           `json:"llm_tokens"`
	TierUsed  actions.Tier  `json:"tier_used"`
	Success   bool          `json:"success"`
	Code      string        `json:"code,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Summary is the run-level report.
type Summary struct {
	RunID       string        `json:"run_id"`
	Completed   int           `json:"completed"`
	Total       int           `json:"total"`
	Elapsed     time.Duration `json:"elapsed"`
	LLMCalls    int           `json:"llm_calls"`
	LLMTokens   int           `json:"llm_tokens"`
	EstCost     float64       `json:"estimated_cost_usd"`
	AvgStepTime time.Duration `json:"avg_step_time"`
	Steps       []StepMetric  `json:"steps"`
}

// Collector accumulates metrics across one run.
type Collector struct {
	runID      string
	totalSteps int
	startedAt  time.Time
	steps      []StepMetric
	current    *StepMetric
	stepStart  time.Time
	logger     *zap.Logger
}

// NewCollector starts a new run record.
func NewCollector(totalSteps int, logger *zap.Logger) *Collector {
	return &Collector{
		runID:      uuid.NewString(),
		totalSteps: totalSteps,
		startedAt:  time.Now(),
		logger:     logger.Named("metrics"),
	}
}

// RunID returns the unique identifier of this run.
func (c *Collector) RunID() string { return c.runID }

// Elapsed returns time since the run started.
func (c *Collector) Elapsed() time.Duration { return time.Since(c.startedAt) }

// BeginStep opens the record for a step.
func (c *Collector) BeginStep(step int) {
	c.current = &StepMetric{Step: step}
	c.stepStart = time.Now()
}

// RecordAttempt counts one attempt on the current step.
func (c *Collector) RecordAttempt() {
	if c.current != nil {
		c.current.Attempts++
	}
}

// RecordClassification notes which tier produced the step's plan and its
// token cost. Tier-0 classifications carry zero tokens and count no call.
func (c *Collector) RecordClassification(tier actions.Tier, tokens int) {
	if c.current == nil {
		return
	}
	if tier > c.current.TierUsed {
		c.current.TierUsed = tier
	}
	if tier > actions.TierPattern {
		c.current.LLMCalls++
		c.current.LLMTokens += tokens
	}
}

// EndStep closes the current step record.
func (c *Collector) EndStep(success bool, code string, err error) {
	if c.current == nil {
		return
	}
	c.current.Success = success
	c.current.Code = code
	c.current.WallTime = time.Since(c.stepStart)
	if err != nil {
		c.current.Error = err.Error()
	}
	c.logger.Debug("Step recorded",
		zap.Int("step", c.current.Step),
		zap.Bool("success", success),
		zap.Int("attempts", c.current.Attempts),
		zap.Stringer("tier", c.current.TierUsed),
		zap.Duration("wall_time", c.current.WallTime),
	)
	c.steps = append(c.steps, *c.current)
	c.current = nil
}

// Summary assembles the run-level report.
func (c *Collector) Summary() Summary {
	s := Summary{
		RunID:   c.runID,
		Total:   c.totalSteps,
		Elapsed: c.Elapsed(),
		Steps:   c.steps,
	}
	for _, st := range c.steps {
		if st.Success {
			s.Completed++
		}
		s.LLMCalls += st.LLMCalls
		s.LLMTokens += st.LLMTokens
	}
	s.EstCost = float64(s.LLMTokens) * costPerMillionTokens / 1e6
	if len(c.steps) > 0 {
		var total time.Duration
		for _, st := range c.steps {
			total += st.WallTime
		}
		s.AvgStepTime = total / time.Duration(len(c.steps))
	}
	return s
}

// Render writes the human-readable report.
func (s Summary) Render(w io.Writer) {
	fmt.Fprintf(w, "\nRun %s\n", s.RunID)
	for _, st := range s.Steps {
		status := "FAIL"
		if st.Success {
			status = "OK"
		}
		line := fmt.Sprintf("Step %d: [%s] %.1fs %s llm=%d tok=%d",
			st.Step, status, st.WallTime.Seconds(), st.TierUsed, st.LLMCalls, st.LLMTokens)
		if st.Code != "" {
			line += " code=" + st.Code
		}
		if st.Error != "" {
			line += " err=" + st.Error
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\nCompleted:     %d/%d\n", s.Completed, s.Total)
	fmt.Fprintf(w, "Total time:    %.1fs\n", s.Elapsed.Seconds())
	fmt.Fprintf(w, "LLM calls:     %d\n", s.LLMCalls)
	fmt.Fprintf(w, "LLM tokens:    %d\n", s.LLMTokens)
	fmt.Fprintf(w, "Est. cost:     $%.4f\n", s.EstCost)
	fmt.Fprintf(w, "Avg time/step: %.1fs\n", s.AvgStepTime.Seconds())
}

// WriteJSON writes the machine-readable report to a file.
func (s Summary) WriteJSON(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
