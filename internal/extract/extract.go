// File: internal/extract/extract.go
package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Page is the read-only slice of the browser session the pipeline consumes.
type Page interface {
	Evaluate(ctx context.Context, script string, out any) error
	Text(ctx context.Context, selector string) (string, error)
	SessionStorage(ctx context.Context, key string) (string, error)
}

// Result is a successful extraction: the code plus the strategy that found
// it, for diagnostics and the run report.
type Result struct {
	Code     string
	Strategy string
}

// Strategy is one independent code-finding technique. It returns candidate
// tokens in discovery order; validation and used-code filtering belong to
// the pipeline.
type Strategy struct {
	Name string
	Run  func(ctx context.Context, page Page, step int) ([]string, error)
}

// Pipeline tries strategies in fixed confidence order and stops at the first
// valid, unused code.
type Pipeline struct {
	strategies []Strategy
	logger     *zap.Logger
}

// NewPipeline builds a pipeline over an explicit strategy order. Used by
// tests to substitute fakes.
func NewPipeline(logger *zap.Logger, strategies ...Strategy) *Pipeline {
	return &Pipeline{
		strategies: strategies,
		logger:     logger.Named("extract"),
	}
}

// NewDefaultPipeline builds the production strategy order: success boxes,
// visible text and attributes, hidden DOM and comments, then the
// session-storage decryption fallback.
func NewDefaultPipeline(sessionKey, cryptoKey string, logger *zap.Logger) *Pipeline {
	return NewPipeline(logger,
		SuccessBoxStrategy(),
		VisibleScanStrategy(),
		HiddenScanStrategy(),
		SessionStorageStrategy(sessionKey, cryptoKey),
	)
}

// Extract runs the pipeline. used holds codes already submitted this run;
// they are never returned again. A nil result with a nil error means every
// strategy missed, which is an attempt-level failure, not a fault.
func (p *Pipeline) Extract(ctx context.Context, page Page, step int, used map[string]bool) (*Result, error) {
	for _, s := range p.strategies {
		candidates, err := s.Run(ctx, page, step)
		if err != nil {
			// A failing read is not fatal to the pipeline; later strategies
			// may still succeed.
			p.logger.Debug("Extraction strategy errored",
				zap.String("strategy", s.Name), zap.Error(err))
			continue
		}
		for _, c := range candidates {
			if !ValidCode(c) || used[c] {
				continue
			}
			p.logger.Debug("Code extracted",
				zap.String("strategy", s.Name), zap.String("code", c))
			return &Result{Code: c, Strategy: s.Name}, nil
		}
	}
	return nil, nil
}

// successBoxScript scans confirmed success containers. Noise elements are
// re-hidden first; framework re-renders can restore them after a click.
const successBoxScript = `
(() => {
  document.querySelectorAll('[data-wnav-noise]').forEach(el =>
    el.style.setProperty('display', 'none', 'important'));
  const out = [];
  const push = t => { if (t && /[A-Z0-9]{6}/.test(t)) out.push(t); };
  const greens = document.querySelectorAll(
    '.text-green-600, .text-green-700, [class*="bg-green"] span, [class*="bg-green"] p, [class*="bg-green"] div');
  for (const el of greens) push((el.textContent || '').trim());
  const allText = document.body.innerText || '';
  const reveal = allText.match(/(?:code\s*revealed|your\s*code)[:\s]*([A-Z0-9]{6})/i);
  if (reveal) out.push(reveal[1]);
  for (const el of document.querySelectorAll('[class*="green"], [class*="success"], [style*="green"]')) {
    const m = (el.textContent || '').match(/([A-Z0-9]{6})/);
    if (m) out.push(m[1]);
  }
  return out;
})()`

// SuccessBoxStrategy scans highlighted success regions, the most reliable
// source when present.
func SuccessBoxStrategy() Strategy {
	return Strategy{
		Name: "success-box",
		Run: func(ctx context.Context, page Page, _ int) ([]string, error) {
			var raw []string
			if err := page.Evaluate(ctx, successBoxScript, &raw); err != nil {
				return nil, err
			}
			var candidates []string
			for _, t := range raw {
				candidates = append(candidates, FindCodes(t)...)
			}
			return candidates, nil
		},
	}
}

// attributeScanScript collects code-shaped attribute values: exact matches on
// any attribute, partial matches on data-* and aria-* style attributes.
const attributeScanScript = `
(() => {
  const exactRe = /^[A-Z0-9]{6}$/;
  const partialRe = /\b([A-Z0-9]{6})\b/;
  const out = [];
  for (const el of document.querySelectorAll('*')) {
    for (const attr of el.attributes) {
      if (exactRe.test(attr.value)) { out.push(attr.value); continue; }
      if (attr.name === 'class' || attr.name === 'style' || attr.name === 'src') continue;
      const m = attr.value.match(partialRe);
      if (m) out.push(m[1]);
    }
  }
  return out;
})()`

// VisibleScanStrategy scans the page's visible text and element attributes.
func VisibleScanStrategy() Strategy {
	return Strategy{
		Name: "visible",
		Run: func(ctx context.Context, page Page, _ int) ([]string, error) {
			body, err := page.Text(ctx, "body")
			if err != nil {
				body = ""
			}
			candidates := FindCodes(body)

			var attrs []string
			if err := page.Evaluate(ctx, attributeScanScript, &attrs); err == nil {
				candidates = append(candidates, attrs...)
			}
			if len(candidates) == 0 && err != nil {
				return nil, fmt.Errorf("visible scan: %w", err)
			}
			return candidates, nil
		},
	}
}

// hiddenScanScript walks HTML comments, hidden elements, pseudo-element
// content, CSS custom properties and raw storage values in one DOM pass.
const hiddenScanScript = `
(() => {
  const exactRe = /^[A-Z0-9]{6}$/;
  const partialRe = /\b([A-Z0-9]{6})\b/;
  const out = [];

  const walker = document.createTreeWalker(document.body, NodeFilter.SHOW_COMMENT, null, false);
  let comment;
  while (comment = walker.nextNode()) {
    const m = (comment.textContent || '').match(partialRe);
    if (m) out.push(m[1]);
  }

  for (const el of document.querySelectorAll('*')) {
    const text = (el.textContent || '').trim();
    if (exactRe.test(text) && el.childElementCount === 0) out.push(text);
  }

  for (const el of document.querySelectorAll('*')) {
    const style = window.getComputedStyle(el);
    const hidden = style.display === 'none' || style.visibility === 'hidden' ||
      style.opacity === '0' || style.color === 'transparent' ||
      (el.offsetWidth === 0 && el.offsetHeight === 0);
    if (!hidden) continue;
    const m = (el.textContent || '').match(partialRe);
    if (m) out.push(m[1]);
  }

  for (const el of document.querySelectorAll('*')) {
    for (const pseudo of ['::before', '::after']) {
      try {
        const content = window.getComputedStyle(el, pseudo).content;
        if (content && content !== 'none' && content !== 'normal') {
          const m = content.replace(/['"]/g, '').match(partialRe);
          if (m) out.push(m[1]);
        }
      } catch (e) {}
    }
  }

  const styles = window.getComputedStyle(document.documentElement);
  for (const prop of ['--code', '--secret', '--value', '--data']) {
    const m = (styles.getPropertyValue(prop) || '').match(partialRe);
    if (m) out.push(m[1]);
  }

  for (const storage of [sessionStorage, localStorage]) {
    try {
      for (let i = 0; i < storage.length; i++) {
        const m = (storage.getItem(storage.key(i)) || '').match(partialRe);
        if (m) out.push(m[1]);
      }
    } catch (e) {}
  }
  return out;
})()`

// HiddenScanStrategy scans content the page keeps out of the visible text:
// HTML comments, hidden elements, pseudo-elements, CSS variables, storage.
func HiddenScanStrategy() Strategy {
	return Strategy{
		Name: "hidden-dom",
		Run: func(ctx context.Context, page Page, _ int) ([]string, error) {
			var raw []string
			if err := page.Evaluate(ctx, hiddenScanScript, &raw); err != nil {
				return nil, err
			}
			return raw, nil
		},
	}
}

// SessionStorageStrategy is the deterministic fallback: the challenge keeps
// an XOR-obfuscated codes table in session storage. Some steps never render
// their code at all; reversing the page's own obfuscation is the only way
// to recover it.
func SessionStorageStrategy(sessionKey, cryptoKey string) Strategy {
	return Strategy{
		Name: "session-storage",
		Run: func(ctx context.Context, page Page, step int) ([]string, error) {
			raw, err := page.SessionStorage(ctx, sessionKey)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(raw) == "" {
				return nil, nil
			}
			codes, err := DecodeSessionPayload(raw, cryptoKey)
			if err != nil {
				return nil, err
			}
			code, ok := SessionCode(codes, step)
			if !ok {
				return nil, nil
			}
			return []string{code}, nil
		},
	}
}
