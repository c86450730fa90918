// File: internal/browser/session.go

// Package browser owns the headless browser lifecycle and exposes the
// primitive page operations the solver core consumes. One Session drives one
// challenge run; there is no tab-level parallelism.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webnav-cli/internal/config"
)

// initScript runs before any page script on every navigation. It forces
// shadow roots open so extraction can see into them, and keeps a reference
// on the host element.
const initScript = `
(() => {
  const orig = Element.prototype.attachShadow;
  Element.prototype.attachShadow = function (init) {
    const root = orig.call(this, Object.assign({}, init, { mode: 'open' }));
    this.__shadow = root;
    return root;
  };
})();`

// Session wraps an allocator plus a single browser tab.
type Session struct {
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx    context.Context
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewSession launches the browser process, opens the working tab, installs
// the init script and verifies the browser is responsive.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	s := &Session{
		logger: logger.Named("browser"),
		cfg:    cfg,
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, s.buildAllocatorOptions()...)
	s.allocCtx = allocCtx
	s.allocCancel = allocCancel

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	s.tabCtx = tabCtx
	s.tabCancel = tabCancel

	// Dialogs block script evaluation; accept them as they appear.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventJavascriptDialogOpening); ok {
			go func() {
				if err := chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true)); err != nil {
					s.logger.Warn("Failed to dismiss dialog", zap.Error(err))
				}
			}()
		}
	})

	startupCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()

	err := chromedp.Run(startupCtx,
		chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(initScript).Do(ctx)
			return err
		}),
		chromedp.Navigate("about:blank"),
	)
	if err != nil {
		s.allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	s.logger.Info("Browser launched and responsive",
		zap.Bool("headless", cfg.Headless),
		zap.Int("viewport_width", cfg.ViewportWidth),
		zap.Int("viewport_height", cfg.ViewportHeight),
	)
	return s, nil
}

// buildAllocatorOptions assembles the flags for a quiet, automation-masked
// browser instance.
func (s *Session) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		// The default set advertises automation; turning the flag off masks it.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", s.cfg.Headless),
	)
	if s.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(s.cfg.UserAgent))
	}

	for _, arg := range s.cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// run executes chromedp actions on the working tab under the caller's deadline.
func (s *Session) run(ctx context.Context, acts ...chromedp.Action) error {
	runCtx := s.tabCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(s.tabCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, acts...)
}

// Navigate loads a URL and waits for the load to settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Location returns the current page URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

// Evaluate runs a script in the page and unmarshals its result into out.
// Pass nil to discard the result. Promises are awaited, so async IIFEs work.
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	action := chromedp.Evaluate(script, out, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithAwaitPromise(true)
	})
	if err := s.run(ctx, action); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

// Click clicks the first visible element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

// SetValue types a value into the element matching the selector, replacing
// any existing content.
func (s *Session) SetValue(ctx context.Context, selector, value string) error {
	err := s.run(ctx,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("set value on %q: %w", selector, err)
	}
	return nil
}

// namedKeys maps friendly key names to the codes chromedp's keyboard layer
// expects. Anything else is sent as literal characters.
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"space":      " ",
	"backspace":  kb.Backspace,
	"arrowup":    kb.ArrowUp,
	"arrowdown":  kb.ArrowDown,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
}

// PressKey dispatches a key event to the focused element. Accepts friendly
// names (Enter, ArrowUp) or literal characters.
func (s *Session) PressKey(ctx context.Context, key string) error {
	if mapped, ok := namedKeys[strings.ToLower(key)]; ok {
		key = mapped
	}
	if err := s.run(ctx, chromedp.KeyEvent(key)); err != nil {
		return fmt.Errorf("press key: %w", err)
	}
	return nil
}

// ScrollBy dispatches a wheel event at the viewport center, scrolling the
// page by the given number of pixels.
func (s *Session) ScrollBy(ctx context.Context, pixels int) error {
	x := float64(s.cfg.ViewportWidth) / 2
	y := float64(s.cfg.ViewportHeight) / 2
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, x, y).
			WithDeltaX(0).
			WithDeltaY(float64(pixels)).
			Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("scroll by %d: %w", pixels, err)
	}
	return nil
}

// Text returns the trimmed inner text of the first element matching the
// selector; the whole document body when selector is "body".
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read text of %q: %w", selector, err)
	}
	return strings.TrimSpace(text), nil
}

// Screenshot captures the visible viewport as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// SessionStorage reads a raw value from the page's session storage. Returns
// an empty string when the key is absent.
func (s *Session) SessionStorage(ctx context.Context, key string) (string, error) {
	var raw string
	script := fmt.Sprintf(`sessionStorage.getItem(%q) || ""`, key)
	if err := s.Evaluate(ctx, script, &raw); err != nil {
		return "", fmt.Errorf("read session storage %q: %w", key, err)
	}
	return raw, nil
}

// Close tears down the tab and the browser process.
func (s *Session) Close() {
	if s.tabCancel != nil {
		s.tabCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
		<-s.allocCtx.Done()
	}
	s.logger.Info("Browser session closed")
}
