package acquire

import (
	"context"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// DetailConfig controls the detail fetcher.
type DetailConfig struct {
	Render crawler.RenderOptions
}

// DetailFetcher acquires single report pages.
type DetailFetcher struct {
	*chain
}

// NewDetailFetcher builds a DetailFetcher.
func NewDetailFetcher(deps Deps, cfg DetailConfig) *DetailFetcher {
	return &DetailFetcher{chain: newChain("detail", deps, cfg.Render)}
}

// Fetch returns the first usable detail page, or a StrategyNone page.
func (f *DetailFetcher) Fetch(ctx context.Context, url string) crawler.RawPage {
	page, res := f.fetchURL(ctx, url)
	if res == tierAccepted || res == tierFallback {
		return page
	}
	return f.exhausted(ctx, url)
}
