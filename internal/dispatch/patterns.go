// File: internal/dispatch/patterns.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/actions"
	"github.com/xkilldash9x/webnav-cli/internal/perception"
)

// ErrNoMatch reports that no tier-0 rule matched the instruction.
var ErrNoMatch = errors.New("no pattern rule matched")

// rule binds an instruction pattern to a plan template. Rules are evaluated
// in order against the lowercased instruction; the first match wins.
type rule struct {
	re    *regexp.Regexp
	build func(m []string) []actions.Action
}

// textTarget addresses an element by visible text; alternatives separated
// by "|" are tried in order by the executor.
func textTarget(labels string) string {
	return "text=" + labels
}

func clickText(labels string) actions.Action {
	return actions.Action{Kind: actions.KindClick, Target: textTarget(labels)}
}

func waitFor(d time.Duration) actions.Action {
	return actions.Action{Kind: actions.KindWait, Duration: d}
}

func runScript(script string) actions.Action {
	return actions.Action{Kind: actions.KindJS, Value: script}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// defaultRules is the ordered tier-0 dispatch table. Order matters: more
// specific challenge families come before the generic click/hover rules
// that would otherwise shadow them.
var defaultRules = []rule{
	// Timed waits. The buffer absorbs render lag after the timer fires.
	{regexp.MustCompile(`wait.*?(\d+)\s*second`), func(m []string) []actions.Action {
		return []actions.Action{waitFor(time.Duration(atoi(m[1])+2) * time.Second)}
	}},

	// Pixel-exact scrolls; overshoot so threshold checks trigger.
	{regexp.MustCompile(`scroll.*?(\d+)\s*(?:px|pixel)`), func(m []string) []actions.Action {
		return []actions.Action{{Kind: actions.KindScroll, Amount: atoi(m[1]) + 100}}
	}},
	{regexp.MustCompile(`scroll\s+down`), func([]string) []actions.Action {
		return []actions.Action{{Kind: actions.KindScroll, Amount: 600}}
	}},

	// Hidden DOM reveals.
	{regexp.MustCompile(`hidden.*(?:dom|element|code)|inspect.*dom|find.*hidden`), func([]string) []actions.Action {
		return []actions.Action{runScript(hiddenRevealScript), runScript(hiddenClickScript)}
	}},

	// Drag pieces into slots.
	{regexp.MustCompile(`drag|slot|fill.*slot|piece`), func([]string) []actions.Action {
		return []actions.Action{{Kind: actions.KindDrag, Target: "[draggable]"}}
	}},

	// Memory flash: wait out the flash, then confirm.
	{regexp.MustCompile(`memory.*challenge|flash.*second|watch.*carefully`), func([]string) []actions.Action {
		return []actions.Action{waitFor(3 * time.Second), clickText("Remember")}
	}},

	// Timing window capture.
	{regexp.MustCompile(`timing.*challenge|click.*capture.*window`), func([]string) []actions.Action {
		return []actions.Action{waitFor(3 * time.Second), clickText("Capture")}
	}},

	// Canvas gestures.
	{regexp.MustCompile(`gesture.*challenge|draw.*(?:circle|square|triangle|zigzag)`), func([]string) []actions.Action {
		return []actions.Action{{Kind: actions.KindDraw}, clickText("Complete")}
	}},
	{regexp.MustCompile(`canvas.*(?:draw|stroke)|draw.*(?:stroke|canvas)`), func([]string) []actions.Action {
		return []actions.Action{{Kind: actions.KindDraw}, clickText("Reveal Code|Complete|Reveal")}
	}},

	// Audio and video players.
	{regexp.MustCompile(`audio.*challenge|play.*audio.*hint|listen.*hint`), func([]string) []actions.Action {
		return []actions.Action{clickText("Play Audio|Play"), waitFor(4 * time.Second), clickText("Complete")}
	}},
	{regexp.MustCompile(`video.*challenge|seek.*video.*frame`), func([]string) []actions.Action {
		return []actions.Action{
			clickText("Frame"), waitFor(time.Second),
			clickText("+1"), clickText("-1"), clickText("Complete"),
		}
	}},

	// Multi-tab visits.
	{regexp.MustCompile(`multi.*tab.*challenge|visit.*tab`), func([]string) []actions.Action {
		return []actions.Action{runScript(multiTabScript)}
	}},

	// Combined click/hover/type/scroll sequence. The leading character
	// class keeps "keyboard sequence" steps away from this rule.
	{regexp.MustCompile(`(?:^|[^d]\s)sequence.*challenge|complete.*all.*actions.*reveal`), func([]string) []actions.Action {
		return []actions.Action{
			runScript(sequenceAllScript),
			clickText("Click Me"),
			{Kind: actions.KindHover, Target: textTarget("Hover over this area")},
			waitFor(time.Second),
			runScript(scrollBoxScript),
			clickText("Complete"),
		}
	}},

	// Shadow DOM layers.
	{regexp.MustCompile(`shadow.*dom.*challenge|navigate.*nested.*layer`), func([]string) []actions.Action {
		return []actions.Action{runScript(shadowLevelScript)}
	}},

	// Simulated websocket: connect, wait for the push, reveal.
	{regexp.MustCompile(`websocket.*challenge|connect.*(?:simulated|server).*(?:receive|code)`), func([]string) []actions.Action {
		return []actions.Action{clickText("Connect"), waitFor(4 * time.Second), clickText("Reveal Code|Reveal")}
	}},

	// Service worker registration and cache retrieval.
	{regexp.MustCompile(`service.*worker.*challenge|register.*service.*worker`), func([]string) []actions.Action {
		return []actions.Action{
			clickText("Register"), waitFor(5 * time.Second),
			clickText("Retrieve|Cache"), waitFor(2 * time.Second),
			clickText("Retrieve|Cache"),
		}
	}},

	// Mutation bursts.
	{regexp.MustCompile(`mutation.*challenge|trigger.*(?:dom\s+)?mutation`), func([]string) []actions.Action {
		return []actions.Action{
			{Kind: actions.KindClick, Target: textTarget("Trigger"), Amount: 6},
			clickText("Complete"),
		}
	}},

	// Recursive iframes.
	{regexp.MustCompile(`recursive.*iframe|navigate.*nested.*level`), func([]string) []actions.Action {
		return []actions.Action{runScript(iframeLevelScript)}
	}},

	// Math puzzles.
	{regexp.MustCompile(`puzzle.*challenge|solve.*puzzle`), func([]string) []actions.Action {
		return []actions.Action{
			waitFor(2 * time.Second),
			runScript(puzzleSolveScript),
			clickText("Solve|Check|Verify"),
		}
	}},

	// Scattered code parts.
	{regexp.MustCompile(`split.*parts|find.*click.*parts|parts.*scattered`), func([]string) []actions.Action {
		return []actions.Action{runScript(splitPartsScript)}
	}},

	// Base64 decode steps.
	{regexp.MustCompile(`(?:encoded|base64).*challenge|decode.*base64`), func([]string) []actions.Action {
		return []actions.Action{runScript(encodedFillScript)}
	}},

	// Rotating codes: capture repeatedly, one attempt lands in the window.
	{regexp.MustCompile(`rotating.*challenge|code.*changes.*second.*capture`), func([]string) []actions.Action {
		return []actions.Action{{Kind: actions.KindClick, Target: textTarget("Capture"), Amount: 3}}
	}},

	// Obfuscated (reversed) codes.
	{regexp.MustCompile(`obfuscated.*challenge|code.*obfuscated.*decode`), func([]string) []actions.Action {
		return []actions.Action{runScript(obfuscatedReverseScript)}
	}},

	// Timed hovers: sustained in-page events plus a pointer hover backup.
	{regexp.MustCompile(`hover.*?(\d+)\s*second`), func(m []string) []actions.Action {
		n := atoi(m[1])
		script := strings.Replace(hoverSustainedScript, "DURATION", strconv.Itoa((n+1)*1000), 1)
		return []actions.Action{
			runScript(script),
			{Kind: actions.KindHover, Target: textTarget("Hover here")},
			waitFor(time.Duration(n+2) * time.Second),
		}
	}},
	{regexp.MustCompile(`hover`), func([]string) []actions.Action {
		script := strings.Replace(hoverSustainedScript, "DURATION", "3000", 1)
		return []actions.Action{
			runScript(script),
			{Kind: actions.KindHover, Target: textTarget("Hover here")},
			waitFor(4 * time.Second),
		}
	}},

	// Counted clicks.
	{regexp.MustCompile(`click.*?(\d+)\s*time`), func(m []string) []actions.Action {
		return []actions.Action{{Kind: actions.KindClick, Target: textTarget("Reveal|Click|challenge"), Amount: atoi(m[1])}}
	}},

	// Click a quoted label.
	{regexp.MustCompile(`click\s+["\x{201c}](.+?)["\x{201d}]`), func(m []string) []actions.Action {
		return []actions.Action{clickText(m[1])}
	}},

	// Reveal-flavored clicks.
	{regexp.MustCompile(`click.*button.*reveal|click.*below.*reveal`), func([]string) []actions.Action {
		return []actions.Action{clickText("Reveal")}
	}},
	{regexp.MustCompile(`click.*(?:to\s+)?reveal`), func([]string) []actions.Action {
		return []actions.Action{clickText("Reveal")}
	}},
	{regexp.MustCompile(`click.*button`), func([]string) []actions.Action {
		return []actions.Action{clickText("Reveal|Click|Show")}
	}},

	// Type a quoted text.
	{regexp.MustCompile(`(?:type|enter)\s+["'](.+?)["']`), func(m []string) []actions.Action {
		return []actions.Action{{Kind: actions.KindFill, Value: m[1]}}
	}},

	// Keyboard sequences read from the page.
	{regexp.MustCompile(`(?:keyboard|key).*sequence|press.*\d+\s*keys?\s*(?:in\s+)?sequence`), func([]string) []actions.Action {
		return []actions.Action{{Kind: actions.KindKeySeq}}
	}},

	// Single key press.
	{regexp.MustCompile(`press\s+(?:the\s+)?["']?(\w+)["']?`), func(m []string) []actions.Action {
		return []actions.Action{{Kind: actions.KindPress, Value: capitalize(m[1])}}
	}},

	// Option selection.
	{regexp.MustCompile(`select.*["'](.+?)["']`), func(m []string) []actions.Action {
		return []actions.Action{{Kind: actions.KindSelect, Target: "select", Value: m[1]}}
	}},
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// PatternClassifier is tier 0: the local dispatch table. Zero remote calls.
type PatternClassifier struct {
	rules  []rule
	logger *zap.Logger
}

// NewPatternClassifier builds the tier-0 classifier over the default table.
func NewPatternClassifier(logger *zap.Logger) *PatternClassifier {
	return &PatternClassifier{
		rules:  defaultRules,
		logger: logger.Named("dispatch.pattern"),
	}
}

// Tier implements Classifier.
func (p *PatternClassifier) Tier() actions.Tier { return actions.TierPattern }

// Classify matches the lowercased instruction against the rule table. The
// first matching rule produces the plan.
func (p *PatternClassifier) Classify(_ context.Context, snap *perception.Snapshot) (*actions.Plan, error) {
	instruction := strings.ToLower(snap.Instruction)
	if instruction == "" {
		return nil, ErrNoMatch
	}

	start := time.Now()
	for _, r := range p.rules {
		m := r.re.FindStringSubmatch(instruction)
		if m == nil {
			continue
		}
		plan := &actions.Plan{
			Actions: r.build(m),
			Tier:    actions.TierPattern,
			Latency: time.Since(start),
		}
		if err := plan.Validate(); err != nil {
			return nil, fmt.Errorf("pattern rule %q built an invalid plan: %w", r.re.String(), err)
		}
		p.logger.Debug("Pattern rule matched",
			zap.String("rule", r.re.String()),
			zap.Int("actions", len(plan.Actions)),
		)
		return plan, nil
	}
	return nil, ErrNoMatch
}
