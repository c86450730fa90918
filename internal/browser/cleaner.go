// File: internal/browser/cleaner.go
package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// cleanerScript hides overlay elements stacked above the z-index threshold.
// Containers that look like success boxes keep their visibility but lose
// pointer events so they cannot swallow clicks. Scroll position is reset so
// observation always starts from the top of the page.
const cleanerScript = `
(threshold => {
  const keepPattern = /code revealed|[A-Z0-9]{6}/;
  const successClass = /green|success/i;
  let hidden = 0;
  for (const el of document.querySelectorAll('*')) {
    const style = window.getComputedStyle(el);
    const z = parseInt(style.zIndex, 10);
    if (isNaN(z) || z <= threshold) continue;
    if (style.position !== 'fixed' && style.position !== 'absolute') continue;
    const text = el.innerText || '';
    if (keepPattern.test(text) && successClass.test(el.className || '')) {
      el.style.pointerEvents = 'none';
      continue;
    }
    el.style.display = 'none';
    hidden++;
  }
  window.scrollTo(0, 0);
  return hidden;
})(%d)`

// scriptRunner is the single primitive the cleaner needs from the page.
type scriptRunner interface {
	Evaluate(ctx context.Context, script string, out any) error
}

// Cleaner removes popups and overlays before each observation.
type Cleaner struct {
	threshold int
	logger    *zap.Logger
}

// NewCleaner builds a cleaner for the given stacking-order threshold.
func NewCleaner(threshold int, logger *zap.Logger) *Cleaner {
	return &Cleaner{
		threshold: threshold,
		logger:    logger.Named("cleaner"),
	}
}

// Apply runs the overlay script twice; overlays sometimes respawn after the
// first pass.
func (c *Cleaner) Apply(ctx context.Context, page scriptRunner) error {
	script := fmt.Sprintf(cleanerScript, c.threshold)
	var hidden int
	for pass := 0; pass < 2; pass++ {
		if err := page.Evaluate(ctx, script, &hidden); err != nil {
			return fmt.Errorf("cleaner pass %d: %w", pass+1, err)
		}
	}
	if hidden > 0 {
		c.logger.Debug("Overlays hidden", zap.Int("count", hidden))
	}
	return nil
}
