package acquire

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// ListingConfig controls the listing-only tiers.
type ListingConfig struct {
	Render crawler.RenderOptions
	// AlternateURLs are tried through HTTP and rendering after the
	// requested URL fails.
	AlternateURLs []string
	// API is the structured endpoint tried last; nil disables it.
	API crawler.PageProvider
}

// ListingFetcher acquires index pages.
type ListingFetcher struct {
	*chain
	cfg ListingConfig
}

// NewListingFetcher builds a ListingFetcher.
func NewListingFetcher(deps Deps, cfg ListingConfig) *ListingFetcher {
	return &ListingFetcher{chain: newChain("listing", deps, cfg.Render), cfg: cfg}
}

// Fetch returns the first usable listing page, or a StrategyNone page.
func (f *ListingFetcher) Fetch(ctx context.Context, url string) crawler.RawPage {
	for _, target := range f.targets(url) {
		page, res := f.fetchURL(ctx, target)
		switch res {
		case tierAccepted, tierFallback:
			return page
		case tierAborted:
			return f.exhausted(ctx, url)
		}
		if target != url {
			f.deps.Logger.Debug("alternate listing failed", zap.String("url", target))
		}
	}
	if f.cfg.API != nil {
		page, res := f.tier(ctx, crawler.StrategyAPI, func(ctx context.Context) (crawler.RawPage, error) {
			return f.cfg.API.Fetch(ctx, url)
		})
		if res == tierAccepted || res == tierFallback {
			return page
		}
	}
	return f.exhausted(ctx, url)
}

func (f *ListingFetcher) targets(url string) []string {
	out := []string{url}
	seen := map[string]struct{}{strings.TrimSpace(url): {}}
	for _, alt := range f.cfg.AlternateURLs {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		if _, dup := seen[alt]; dup {
			continue
		}
		seen[alt] = struct{}{}
		out = append(out, alt)
	}
	return out
}
