// File: internal/perception/perception.go

// Package perception captures the per-step observation: the instruction, the
// interactive element inventory, and any code-shaped tokens already visible.
// A snapshot is taken fresh each step and discarded when the step resolves.
package perception

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/extract"
)

// stepURL extracts the step number from a challenge URL.
var stepURL = regexp.MustCompile(`/step(\d+)`)

// StepFromURL returns the step number encoded in the URL, or 0 when the URL
// is not a step page (landing, finish).
func StepFromURL(url string) int {
	m := stepURL.FindStringSubmatch(url)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// noisePattern strips filler the challenge pages repeat everywhere.
var noisePattern = regexp.MustCompile(`(?i)(lorem ipsum|content block loaded|click me!|button!|link!|complete the challenges|enter the code to proceed|filler content|keep scrolling|browser navigation challenge|scroll down to find)`)

// labelPattern matches short category labels like "Click to Reveal:".
var labelPattern = regexp.MustCompile(`^[\w\s]+:\s*$`)

// instructionHints are verbs that mark a line as the actual instruction.
var instructionHints = []string{
	"click", "scroll", "wait", "enter", "find", "reveal",
	"hidden", "inspect", "drag", "type", "hover", "solve",
	"complete", "press", "select", "choose",
}

// Element is one interactive control on the page. Plans address elements by
// visible text or a model-chosen selector, so only role and name are kept.
type Element struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

// Snapshot is the compressed page state one step works against.
type Snapshot struct {
	Step         int
	URL          string
	Instruction  string
	Progress     string
	Elements     []Element
	VisibleCodes []string
	BodyText     string

	// Screenshot is populated only when the vision tier is consulted.
	Screenshot []byte
}

// Prompt renders the snapshot as compact text for model consumption.
func (s *Snapshot) Prompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "STEP: %d\n", s.Step)
	fmt.Fprintf(&b, "INSTRUCTION: %q\n", s.Instruction)
	if s.Progress != "" {
		fmt.Fprintf(&b, "PROGRESS: %q\n", s.Progress)
	}
	if len(s.Elements) > 0 {
		var items []string
		for i, e := range s.Elements {
			if i >= 8 {
				break
			}
			items = append(items, fmt.Sprintf("%s %q", e.Role, e.Name))
		}
		fmt.Fprintf(&b, "INTERACTIVE: [%s]\n", strings.Join(items, ", "))
	}
	if len(s.VisibleCodes) > 0 {
		fmt.Fprintf(&b, "VISIBLE_CODES: %v\n", s.VisibleCodes)
	}
	return b.String()
}

// Page is the read slice of the browser session the observer consumes.
type Page interface {
	Location(ctx context.Context) (string, error)
	Text(ctx context.Context, selector string) (string, error)
	Evaluate(ctx context.Context, script string, out any) error
}

// pageScanScript gathers interactive controls and candidate instruction
// lines in a single DOM pass.
const pageScanScript = `
(() => {
  const out = { elements: [], lines: [], progress: '' };
  const roles = [
    ['button', 'button'],
    ['a[href]', 'link'],
    ['input', 'textbox'],
    ['select', 'combobox'],
  ];
  for (const [sel, role] of roles) {
    for (const el of document.querySelectorAll(sel)) {
      if (el.offsetParent === null && role !== 'textbox') continue;
      const name = (el.textContent || el.placeholder || el.value || '').trim().slice(0, 80);
      out.elements.push({ role: role, name: name });
    }
  }
  for (const el of document.querySelectorAll('h1, h2, h3, h4, p, label, strong, span')) {
    const t = (el.textContent || '').trim();
    if (!t) continue;
    if (el.children.length > 2) continue;
    out.lines.push(t.slice(0, 200));
    const m = t.match(/^Progress:\s*\d+\/\d+$/);
    if (m) out.progress = t;
  }
  return out;
})()`

type pageScan struct {
	Elements []Element `json:"elements"`
	Lines    []string  `json:"lines"`
	Progress string    `json:"progress"`
}

// Observer captures snapshots.
type Observer struct {
	logger *zap.Logger
}

// NewObserver builds an observer.
func NewObserver(logger *zap.Logger) *Observer {
	return &Observer{logger: logger.Named("perception")}
}

// Capture reads the current page into a snapshot.
func (o *Observer) Capture(ctx context.Context, page Page) (*Snapshot, error) {
	url, err := page.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture location: %w", err)
	}

	body, err := page.Text(ctx, "body")
	if err != nil {
		body = ""
	}

	var scan pageScan
	if err := page.Evaluate(ctx, pageScanScript, &scan); err != nil {
		return nil, fmt.Errorf("capture page scan: %w", err)
	}

	snap := &Snapshot{
		Step:         StepFromURL(url),
		URL:          url,
		Instruction:  pickInstruction(scan.Lines),
		Progress:     scan.Progress,
		Elements:     scan.Elements,
		VisibleCodes: extract.FindCodes(body),
		BodyText:     body,
	}

	o.logger.Debug("Snapshot captured",
		zap.Int("step", snap.Step),
		zap.String("instruction", snap.Instruction),
		zap.Int("elements", len(snap.Elements)),
		zap.Strings("visible_codes", snap.VisibleCodes),
	)
	return snap, nil
}

// pickInstruction selects the instruction line from candidate texts. Short
// category labels and boilerplate never qualify.
func pickInstruction(lines []string) string {
	for _, line := range lines {
		l := strings.TrimSpace(strings.Trim(line, `"`))
		if len(l) < 15 || noisePattern.MatchString(l) || labelPattern.MatchString(l) {
			continue
		}
		lower := strings.ToLower(l)
		for _, hint := range instructionHints {
			if strings.Contains(lower, hint) {
				return l
			}
		}
	}
	// Fall back to the first substantial line.
	for _, line := range lines {
		l := strings.TrimSpace(strings.Trim(line, `"`))
		if len(l) > 20 && !noisePattern.MatchString(l) && !labelPattern.MatchString(l) {
			return l
		}
	}
	return ""
}
