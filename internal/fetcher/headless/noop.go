package headless

import (
	"context"
	"fmt"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// Noop stands in when no browser is available. Render always reports
// ErrRendererUnavailable so callers skip the rendered tier.
type Noop struct {
	Reason string
}

// NewNoop creates a new Noop provider.
func NewNoop(reason string) *Noop {
	return &Noop{Reason: reason}
}

// Render returns ErrRendererUnavailable.
func (n Noop) Render(_ context.Context, _ string, _ crawler.RenderOptions) (crawler.RawPage, error) {
	if n.Reason == "" {
		return crawler.RawPage{}, crawler.ErrRendererUnavailable
	}
	return crawler.RawPage{}, fmt.Errorf("%s: %w", n.Reason, crawler.ErrRendererUnavailable)
}
