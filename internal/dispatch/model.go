// File: internal/dispatch/model.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/actions"
	"github.com/xkilldash9x/webnav-cli/internal/config"
	"github.com/xkilldash9x/webnav-cli/internal/llmclient"
	"github.com/xkilldash9x/webnav-cli/internal/perception"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrMalformedResponse reports that the remote model's output could not be
// turned into a valid plan. The cascade treats it as a tier failure and
// escalates immediately rather than retrying the same tier.
var ErrMalformedResponse = errors.New("malformed model response")

const systemPrompt = `You solve steps of a browser challenge. Given the page state, respond with
a JSON array of actions that completes the instruction. Each action is an
object with:
  "kind":   one of click, fill, scroll, wait, hover, press, select, drag, draw, keyseq
  "target": CSS selector, or "text=Label" to address an element by visible text
  "value":  text to type, key to press, or option to select
  "amount": pixels for scroll, repeat count for click
Respond with the JSON array only. Prefer the smallest sequence that
completes the instruction. Never invent codes; codes are extracted
separately after your actions run.`

const stuckPreamble = `Previous attempts on this step failed. A screenshot of the current page is
attached. Look at it carefully for anything the text snapshot missed
(unusual controls, overlays, visual-only hints), then respond with a
corrective action plan in the same JSON format.
`

// jsonArrayBlock pulls a JSON array out of surrounding prose or code fences.
var jsonArrayBlock = regexp.MustCompile(`(?s)(\[.*\])`)

// wireAction is the permissive shape models actually produce. Key aliases
// are normalized during conversion.
type wireAction struct {
	Kind     string  `json:"kind"`
	Type     string  `json:"type"`
	Target   string  `json:"target"`
	Selector string  `json:"selector"`
	Text     string  `json:"text"`
	Value    string  `json:"value"`
	Code     string  `json:"code"`
	Key      string  `json:"key"`
	Keys     string  `json:"keys"`
	Amount   int     `json:"amount"`
	Seconds  float64 `json:"seconds"`
	Duration float64 `json:"duration"`
}

// kindAliases maps model vocabulary onto the closed action-kind set.
var kindAliases = map[string]actions.Kind{
	"click":        actions.KindClick,
	"fill":         actions.KindFill,
	"type":         actions.KindFill,
	"scroll":       actions.KindScroll,
	"wait":         actions.KindWait,
	"hover":        actions.KindHover,
	"press":        actions.KindPress,
	"select":       actions.KindSelect,
	"drag":         actions.KindDrag,
	"drag_fill":    actions.KindDrag,
	"draw":         actions.KindDraw,
	"canvas_draw":  actions.KindDraw,
	"draw_strokes": actions.KindDraw,
	"keyseq":       actions.KindKeySeq,
	"key_sequence": actions.KindKeySeq,
}

// ModelClassifier is a remote tier: fast text classification or
// vision-assisted stuck recovery, depending on construction.
type ModelClassifier struct {
	tier        actions.Tier
	client      llmclient.Client
	model       string
	timeout     time.Duration
	temperature float32
	logger      *zap.Logger
}

// NewFastClassifier builds tier 1: instruction plus element inventory, no
// image, short timeout.
func NewFastClassifier(client llmclient.Client, cfg config.LLMConfig, logger *zap.Logger) *ModelClassifier {
	return &ModelClassifier{
		tier:        actions.TierFast,
		client:      client,
		model:       cfg.FastModel,
		timeout:     cfg.TimeoutFast,
		temperature: cfg.Temperature,
		logger:      logger.Named("dispatch.fast"),
	}
}

// NewVisionClassifier builds tier 2: instruction plus screenshot, longer
// timeout, last resort.
func NewVisionClassifier(client llmclient.Client, cfg config.LLMConfig, logger *zap.Logger) *ModelClassifier {
	return &ModelClassifier{
		tier:        actions.TierVision,
		client:      client,
		model:       cfg.VisionModel,
		timeout:     cfg.TimeoutVision,
		temperature: cfg.Temperature,
		logger:      logger.Named("dispatch.vision"),
	}
}

// Tier implements Classifier.
func (m *ModelClassifier) Tier() actions.Tier { return m.tier }

// Classify sends the snapshot to the remote model and parses the returned
// plan. A timeout or unparsable response is a classification failure at
// this tier; the caller escalates.
func (m *ModelClassifier) Classify(ctx context.Context, snap *perception.Snapshot) (*actions.Plan, error) {
	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req := llmclient.Request{
		Model:       m.model,
		System:      systemPrompt,
		User:        snap.Prompt(),
		ForceJSON:   true,
		Temperature: m.temperature,
	}
	if m.tier == actions.TierVision {
		req.User = stuckPreamble + req.User
		req.Image = snap.Screenshot
		req.ImageMIME = "image/png"
	}

	text, usage, err := m.client.Generate(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	acts, err := parseWirePlan(text)
	if err != nil {
		m.logger.Warn("Model response did not parse",
			zap.String("model", m.model), zap.Error(err))
		return nil, err
	}

	plan := &actions.Plan{
		Actions: acts,
		Tier:    m.tier,
		Latency: usage.Latency,
		Tokens:  usage.TotalTokens,
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return plan, nil
}

// parseWirePlan turns raw model output into validated actions. Mildly broken
// JSON is repaired before giving up; script actions from remote models are
// always discarded.
func parseWirePlan(text string) ([]actions.Action, error) {
	raw := strings.TrimSpace(text)
	if m := jsonArrayBlock.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}

	var wire []wireAction
	if err := json.UnmarshalFromString(raw, &wire); err != nil {
		repaired, repErr := jsonrepair.JSONRepair(raw)
		if repErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if err := json.UnmarshalFromString(repaired, &wire); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}

	var acts []actions.Action
	for _, w := range wire {
		kindName := w.Kind
		if kindName == "" {
			kindName = w.Type
		}
		kind, ok := kindAliases[strings.ToLower(kindName)]
		if !ok {
			// Unknown kinds (including any js) are dropped, not executed.
			continue
		}

		a := actions.Action{Kind: kind}
		a.Target = firstNonEmpty(w.Target, w.Selector)
		if a.Target == "" && w.Text != "" {
			a.Target = "text=" + w.Text
		}
		a.Value = firstNonEmpty(w.Value, w.Code, w.Key, w.Keys)
		a.Amount = w.Amount

		seconds := w.Seconds
		if seconds == 0 {
			seconds = w.Duration
		}
		if seconds > 0 {
			a.Duration = time.Duration(seconds * float64(time.Second))
		}
		if kind == actions.KindWait && a.Duration == 0 && a.Amount > 0 {
			a.Duration = time.Duration(a.Amount) * time.Second
		}
		acts = append(acts, a)
	}

	if len(acts) == 0 {
		return nil, fmt.Errorf("%w: no usable actions in response", ErrMalformedResponse)
	}
	return acts, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
