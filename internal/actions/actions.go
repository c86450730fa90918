// File: internal/actions/actions.go

// Package actions defines the action plan model shared by the classifier
// cascade, the executor and the step state machine. Plans are immutable once
// produced; a step owns exactly one active plan per attempt.
package actions

import (
	"fmt"
	"time"
)

// Tier identifies the cascade stage that produced a plan.
type Tier int

const (
	// TierPattern is the local regex dispatch table. Zero remote calls.
	TierPattern Tier = iota
	// TierFast is the lightweight remote model (text + element inventory).
	TierFast
	// TierVision is the vision-assisted remote model (text + screenshot).
	TierVision
)

// String returns the short label used in logs and the run report.
func (t Tier) String() string {
	switch t {
	case TierPattern:
		return "T0:pattern"
	case TierFast:
		return "T1:fast"
	case TierVision:
		return "T2:vision"
	default:
		return fmt.Sprintf("T%d:unknown", int(t))
	}
}

// Kind enumerates the supported action kinds.
type Kind string

const (
	KindClick  Kind = "click"
	KindFill   Kind = "fill"
	KindScroll Kind = "scroll"
	KindWait   Kind = "wait"
	KindHover  Kind = "hover"
	KindPress  Kind = "press"
	KindSelect Kind = "select"
	KindDrag   Kind = "drag"
	KindDraw   Kind = "draw"
	KindKeySeq Kind = "keyseq"
	KindJS     Kind = "js"
)

// knownKinds is the closed set accepted by Validate.
var knownKinds = map[Kind]bool{
	KindClick:  true,
	KindFill:   true,
	KindScroll: true,
	KindWait:   true,
	KindHover:  true,
	KindPress:  true,
	KindSelect: true,
	KindDrag:   true,
	KindDraw:   true,
	KindKeySeq: true,
	KindJS:     true,
}

// Action is one abstract interaction. Only the fields a kind needs are set.
type Action struct {
	Kind Kind `json:"kind"`

	// Target is a CSS selector or a visible-text description of the element
	// the action applies to. Empty for page-level actions (scroll, wait).
	Target string `json:"target,omitempty"`

	// Value carries the kind-specific payload: text to type, key name to
	// press, option to select, or a script body for KindJS.
	Value string `json:"value,omitempty"`

	// Amount is a kind-specific magnitude: pixels for scroll, repeat count
	// for click bursts.
	Amount int `json:"amount,omitempty"`

	// Duration bounds timed actions (wait, sustained hover).
	Duration time.Duration `json:"duration,omitempty"`
}

// Validate checks that the action names a known kind and carries the
// parameters that kind requires. Plans from remote tiers must pass the same
// validation as local ones.
func (a Action) Validate() error {
	if !knownKinds[a.Kind] {
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	switch a.Kind {
	case KindClick, KindHover, KindDrag, KindSelect:
		if a.Target == "" {
			return fmt.Errorf("action %q requires a target", a.Kind)
		}
	case KindPress, KindJS:
		if a.Value == "" {
			return fmt.Errorf("action %q requires a value", a.Kind)
		}
	case KindWait:
		if a.Duration <= 0 && a.Amount <= 0 {
			return fmt.Errorf("action %q requires a duration or amount", a.Kind)
		}
	}
	return nil
}

// Plan is the validated output of one cascade classification, annotated with
// the producing tier and the cost of obtaining it.
type Plan struct {
	Actions []Action

	// Tier records provenance; it never decreases within a step.
	Tier Tier

	// Latency is the classification time (near zero for TierPattern).
	Latency time.Duration

	// Tokens is the total token usage of the remote call; zero for TierPattern.
	Tokens int
}

// Validate checks the plan is non-empty and every action validates.
func (p *Plan) Validate() error {
	if len(p.Actions) == 0 {
		return fmt.Errorf("plan has no actions")
	}
	for i, a := range p.Actions {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("action %d: %w", i, err)
		}
	}
	return nil
}
