// File: internal/executor/executor.go

// Package executor converts abstract action plans into primitive browser
// operations. The outcome of an action is observed through extraction and
// verification afterwards, never assumed from the executor's report.
package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/actions"
)

var jsonMarshal = jsoniter.ConfigCompatibleWithStandardLibrary.Marshal

// ErrUntrustedScript reports a script action from a remote tier. Only
// tier-0 templates may run scripts.
var ErrUntrustedScript = errors.New("script action from untrusted tier")

// maxWait bounds any single timed action regardless of what the
// instruction asked for.
const maxWait = 10 * time.Second

// Page is the primitive surface the executor drives. Satisfied by
// browser.Session in production and by recording fakes in tests.
type Page interface {
	Evaluate(ctx context.Context, script string, out any) error
	Click(ctx context.Context, selector string) error
	SetValue(ctx context.Context, selector, value string) error
	PressKey(ctx context.Context, key string) error
	ScrollBy(ctx context.Context, pixels int) error
	Text(ctx context.Context, selector string) (string, error)
}

// Executor applies plans to a page.
type Executor struct {
	page   Page
	logger *zap.Logger
}

// New builds an executor over a page.
func New(page Page, logger *zap.Logger) *Executor {
	return &Executor{
		page:   page,
		logger: logger.Named("executor"),
	}
}

// Execute runs every action of the plan in order. The plan is atomic: the
// first failing action fails the whole execution and no partial-state
// assumption is made about the page.
func (e *Executor) Execute(ctx context.Context, plan *actions.Plan) error {
	for i, a := range plan.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.apply(ctx, a, plan.Tier); err != nil {
			return fmt.Errorf("action %d (%s): %w", i, a.Kind, err)
		}
	}
	return nil
}

func (e *Executor) apply(ctx context.Context, a actions.Action, tier actions.Tier) error {
	e.logger.Debug("Applying action",
		zap.String("kind", string(a.Kind)),
		zap.String("target", a.Target),
	)

	switch a.Kind {
	case actions.KindClick:
		return e.click(ctx, a)
	case actions.KindFill:
		return e.fill(ctx, a)
	case actions.KindScroll:
		return e.scroll(ctx, a)
	case actions.KindWait:
		return e.wait(ctx, a)
	case actions.KindHover:
		return e.hover(ctx, a)
	case actions.KindPress:
		return e.page.PressKey(ctx, a.Value)
	case actions.KindSelect:
		return e.selectOption(ctx, a)
	case actions.KindDrag:
		return e.drag(ctx, a)
	case actions.KindDraw:
		return e.draw(ctx)
	case actions.KindKeySeq:
		return e.keySequence(ctx)
	case actions.KindJS:
		if tier != actions.TierPattern {
			return ErrUntrustedScript
		}
		return e.page.Evaluate(ctx, a.Value, nil)
	default:
		return fmt.Errorf("unsupported action kind %q", a.Kind)
	}
}

// clickByTextScript clicks the first visible clickable element whose text
// contains one of the given labels, tried in order.
const clickByTextScript = `
(labels => {
  for (const label of labels) {
    const lower = label.toLowerCase();
    for (const el of document.querySelectorAll('button, a, [role="button"], .cursor-pointer, div, span')) {
      if (el.offsetParent === null) continue;
      const text = (el.textContent || '').trim().toLowerCase();
      if (text.includes(lower)) { el.click(); return true; }
    }
  }
  return false;
})(%s)`

func (e *Executor) click(ctx context.Context, a actions.Action) error {
	count := a.Amount
	if count <= 0 {
		count = 1
	}

	labels, isText := strings.CutPrefix(a.Target, "text=")
	for i := 0; i < count; i++ {
		if isText {
			var clicked bool
			script := fmt.Sprintf(clickByTextScript, jsStringArray(strings.Split(labels, "|")))
			if err := e.page.Evaluate(ctx, script, &clicked); err != nil {
				return err
			}
			if !clicked {
				return fmt.Errorf("no clickable element with text %q", labels)
			}
		} else {
			if err := e.page.Click(ctx, a.Target); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Executor) fill(ctx context.Context, a actions.Action) error {
	selector := a.Target
	if selector == "" || strings.HasPrefix(selector, "text=") {
		selector = `input:not([placeholder*="code" i]):not([placeholder*="enter" i])`
	}
	value := a.Value
	if value == "" {
		value = "hello"
	}
	return e.page.SetValue(ctx, selector, value)
}

func (e *Executor) scroll(ctx context.Context, a actions.Action) error {
	remaining := a.Amount
	if remaining == 0 {
		remaining = 600
	}
	// Chunked so scroll listeners fire along the way, not just at the end.
	const chunk = 120
	for remaining > 0 {
		step := chunk
		if remaining < chunk {
			step = remaining
		}
		if err := e.page.ScrollBy(ctx, step); err != nil {
			return err
		}
		remaining -= step
	}
	return nil
}

func (e *Executor) wait(ctx context.Context, a actions.Action) error {
	d := a.Duration
	if d == 0 {
		d = time.Duration(a.Amount) * time.Second
	}
	if d > maxWait {
		d = maxWait
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// hoverScript fires the pointer event set frameworks listen for over the
// first element matching the selector or label.
const hoverScript = `
((selector, labels) => {
  let target = null;
  if (selector) target = document.querySelector(selector);
  if (!target && labels.length) {
    for (const label of labels) {
      const lower = label.toLowerCase();
      for (const el of document.querySelectorAll('div, p, span, section')) {
        if (el.offsetParent === null || el.children.length > 3) continue;
        if ((el.textContent || '').toLowerCase().includes(lower)) { target = el; break; }
      }
      if (target) break;
    }
  }
  if (!target) return false;
  const rect = target.getBoundingClientRect();
  const cx = rect.x + rect.width / 2, cy = rect.y + rect.height / 2;
  for (const evt of ['pointerenter', 'pointerover', 'pointermove', 'mouseenter', 'mouseover', 'mousemove']) {
    target.dispatchEvent(new PointerEvent(evt, {
      bubbles: true, cancelable: true, clientX: cx, clientY: cy, pointerType: 'mouse'
    }));
  }
  return true;
})(%s, %s)`

func (e *Executor) hover(ctx context.Context, a actions.Action) error {
	selector := ""
	var labels []string
	if rest, ok := strings.CutPrefix(a.Target, "text="); ok {
		labels = strings.Split(rest, "|")
	} else {
		selector = a.Target
	}

	var hovered bool
	script := fmt.Sprintf(hoverScript, jsString(selector), jsStringArray(labels))
	if err := e.page.Evaluate(ctx, script, &hovered); err != nil {
		return err
	}
	if !hovered {
		return fmt.Errorf("no hover target for %q", a.Target)
	}
	if a.Duration > 0 {
		return e.wait(ctx, actions.Action{Kind: actions.KindWait, Duration: a.Duration})
	}
	return nil
}

// selectScript picks the option whose text contains the value.
const selectScript = `
((selector, value) => {
  const sel = document.querySelector(selector || 'select');
  if (!sel) return false;
  const lower = value.toLowerCase();
  for (const opt of sel.options) {
    if ((opt.textContent || '').toLowerCase().includes(lower)) {
      sel.value = opt.value;
      sel.dispatchEvent(new Event('change', { bubbles: true }));
      return true;
    }
  }
  return false;
})(%s, %s)`

func (e *Executor) selectOption(ctx context.Context, a actions.Action) error {
	selector := a.Target
	if selector == "select" {
		selector = ""
	}
	var selected bool
	script := fmt.Sprintf(selectScript, jsString(selector), jsString(a.Value))
	if err := e.page.Evaluate(ctx, script, &selected); err != nil {
		return err
	}
	if !selected {
		return fmt.Errorf("no option matching %q", a.Value)
	}
	return nil
}

// dragScript performs DataTransfer drags of every draggable item into its
// slot and reports how many slots ended up filled.
const dragScript = `
(() => {
  const draggables = document.querySelectorAll('[draggable="true"], [draggable]');
  const slots = document.querySelectorAll('[class*="slot"], [class*="dashed"], [class*="drop"]');
  if (!draggables.length || !slots.length) return 0;
  let i = 0;
  for (const item of draggables) {
    const slot = slots[i % slots.length];
    i++;
    const dt = new DataTransfer();
    dt.setData('text/plain', item.textContent || '');
    for (const [type, el] of [['dragstart', item], ['dragenter', slot], ['dragover', slot], ['drop', slot], ['dragend', item]]) {
      el.dispatchEvent(new DragEvent(type, { bubbles: true, cancelable: true, dataTransfer: dt }));
    }
  }
  let filled = 0;
  for (const slot of slots) {
    if ((slot.className || '').includes('green') || slot.children.length > 0) filled++;
  }
  return filled;
})()`

func (e *Executor) drag(ctx context.Context, _ actions.Action) error {
	var filled int
	if err := e.page.Evaluate(ctx, dragScript, &filled); err != nil {
		return err
	}
	if filled == 0 {
		return fmt.Errorf("drag filled no slots")
	}
	return nil
}

// drawScript replays four horizontal strokes across the canvas through
// dispatched mouse events.
const drawScript = `
(() => {
  const canvas = document.querySelector('canvas');
  if (!canvas) return false;
  const rect = canvas.getBoundingClientRect();
  const stroke = yFrac => {
    const y = rect.y + rect.height * yFrac;
    const fire = (type, x) => canvas.dispatchEvent(new MouseEvent(type, {
      bubbles: true, cancelable: true, clientX: rect.x + x, clientY: y, buttons: 1
    }));
    fire('mousedown', rect.width * 0.1);
    for (let f = 0.2; f <= 0.9; f += 0.1) fire('mousemove', rect.width * f);
    fire('mouseup', rect.width * 0.9);
  };
  for (const yf of [0.25, 0.5, 0.75, 0.4]) stroke(yf);
  return true;
})()`

func (e *Executor) draw(ctx context.Context) error {
	var drew bool
	if err := e.page.Evaluate(ctx, drawScript, &drew); err != nil {
		return err
	}
	if !drew {
		return fmt.Errorf("no canvas to draw on")
	}
	return nil
}

// sequenceLine finds the displayed key sequence, e.g. "Sequence: ↑ ↓ A B".
var sequenceLine = regexp.MustCompile(`Sequence:\s*([^\n]+)`)

// keyNames maps displayed sequence tokens to key names the browser layer
// understands.
var keyNames = map[string]string{
	"↑": "ArrowUp", "↓": "ArrowDown", "←": "ArrowLeft", "→": "ArrowRight",
	"up": "ArrowUp", "down": "ArrowDown", "left": "ArrowLeft", "right": "ArrowRight",
	"enter": "Enter", "space": "Space", "tab": "Tab", "esc": "Escape",
}

// keySequence replays the key list the page displays. The list can grow as
// keys land, so it re-reads and presses only the new suffix, bounded to
// eight rounds.
func (e *Executor) keySequence(ctx context.Context) error {
	pressed := 0
	for round := 0; round < 8; round++ {
		body, err := e.page.Text(ctx, "body")
		if err != nil {
			return err
		}
		m := sequenceLine.FindStringSubmatch(body)
		if m == nil {
			if pressed > 0 {
				return nil
			}
			return fmt.Errorf("no key sequence displayed")
		}

		keys := strings.Fields(strings.TrimSpace(m[1]))
		if pressed >= len(keys) {
			return nil
		}
		for _, token := range keys[pressed:] {
			key := token
			if mapped, ok := keyNames[strings.ToLower(token)]; ok {
				key = mapped
			}
			if err := e.page.PressKey(ctx, key); err != nil {
				return err
			}
			pressed++
		}
	}
	return nil
}

// jsString renders a Go string as a JS string literal.
func jsString(s string) string {
	b, _ := jsonMarshal(s)
	return string(b)
}

// jsStringArray renders a Go slice as a JS array literal.
func jsStringArray(items []string) string {
	clean := []string{}
	for _, it := range items {
		if strings.TrimSpace(it) != "" {
			clean = append(clean, strings.TrimSpace(it))
		}
	}
	b, _ := jsonMarshal(clean)
	return string(b)
}
