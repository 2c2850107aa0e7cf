// Package pipeline is the public face of the crawler: fetch a listing into
// report stubs, or fetch a report page into body text.
package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-report-crawler/internal/acquire"
	"github.com/JakeFAU/research-report-crawler/internal/crawler"
	"github.com/JakeFAU/research-report-crawler/internal/parser/detail"
	"github.com/JakeFAU/research-report-crawler/internal/parser/listing"
	"github.com/JakeFAU/research-report-crawler/internal/retry"
)

// Providers are the acquisition backends.
type Providers struct {
	HTTP     crawler.PageProvider
	Renderer crawler.RenderedPageProvider
	// API is optional.
	API       crawler.PageProvider
	Detector  acquire.Classifier
	Snapshots acquire.Snapshotter
}

// Config gathers the settings of every stage.
type Config struct {
	Retry         retry.Config
	ListingRender crawler.RenderOptions
	DetailRender  crawler.RenderOptions
	AlternateURLs []string
	Listing       listing.Config
	Detail        detail.Config
}

// Pipeline ties fetchers and parsers together. It is safe for sequential use
// by one worker; fetchers keep per-lifetime renderer state.
type Pipeline struct {
	listingFetcher *acquire.ListingFetcher
	detailFetcher  *acquire.DetailFetcher
	listingParser  *listing.Parser
	detailParser   *detail.Parser
	shell          shellDetector
	logger         *zap.Logger

	memoMu sync.Mutex
	memo   detailMemo
}

// shellDetector is implemented by detectors that can tell an unrendered
// page shell from real content.
type shellDetector interface {
	LooksEmpty(page crawler.RawPage) bool
}

// detailMemo holds the last detail match so the content check and the final
// extraction share one parse.
type detailMemo struct {
	url     string
	content string
	match   detail.Match
	ok      bool
}

// New builds a Pipeline.
func New(p Providers, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	orchestrator := retry.New(cfg.Retry, logger.Named("retry"))
	pl := &Pipeline{
		listingParser: listing.New(cfg.Listing, logger.Named("listing")),
		detailParser:  detail.New(cfg.Detail, logger.Named("detail")),
		logger:        logger,
	}
	pl.shell, _ = p.Detector.(shellDetector)

	deps := func(check, fallback crawler.ContentCheck) acquire.Deps {
		return acquire.Deps{
			HTTP:      p.HTTP,
			Renderer:  p.Renderer,
			Retry:     orchestrator,
			Detector:  p.Detector,
			Snapshots: p.Snapshots,
			Check:     check,
			Fallback:  fallback,
			Logger:    logger.Named("acquire"),
		}
	}
	pl.listingFetcher = acquire.NewListingFetcher(deps(pl.listingParser.Accepts, nil), acquire.ListingConfig{
		Render:        cfg.ListingRender,
		AlternateURLs: cfg.AlternateURLs,
		API:           p.API,
	})
	pl.detailFetcher = acquire.NewDetailFetcher(deps(pl.detailAccepted, pl.detailUsable), acquire.DetailConfig{
		Render: cfg.DetailRender,
	})
	return pl
}

// detailAccepted passes a page only when a targeted rule found the report
// body and the page is not an unrendered shell.
func (p *Pipeline) detailAccepted(page crawler.RawPage) bool {
	if p.shell != nil && p.shell.LooksEmpty(page) {
		return false
	}
	return p.matchDetail(page).Strong()
}

// detailUsable is the last-resort check: any extracted text will do.
func (p *Pipeline) detailUsable(page crawler.RawPage) bool {
	return p.matchDetail(page).Text != ""
}

func (p *Pipeline) matchDetail(page crawler.RawPage) detail.Match {
	p.memoMu.Lock()
	defer p.memoMu.Unlock()
	if p.memo.ok && p.memo.url == page.SourceURL && p.memo.content == page.Content {
		return p.memo.match
	}
	m := p.detailParser.Match(page)
	p.memo = detailMemo{url: page.SourceURL, content: page.Content, match: m, ok: true}
	return m
}

// FetchListing returns the stubs on the listing at url. An empty result is a
// valid outcome.
func (p *Pipeline) FetchListing(ctx context.Context, url string) []crawler.ReportStub {
	page := p.listingFetcher.Fetch(ctx, url)
	if page.Strategy == crawler.StrategyNone {
		return nil
	}
	stubs := p.listingParser.Parse(page)
	p.logger.Info("listing fetched",
		zap.String("url", url),
		zap.Stringer("strategy", page.Strategy),
		zap.Int("stubs", len(stubs)),
	)
	return stubs
}

// FetchDetail returns the extracted report body with provenance.
func (p *Pipeline) FetchDetail(ctx context.Context, url string) crawler.ReportContent {
	page := p.detailFetcher.Fetch(ctx, url)
	if page.Strategy == crawler.StrategyNone {
		return crawler.NewReportContent(url, "", "", crawler.StrategyNone)
	}
	m := p.matchDetail(page)
	p.detailParser.Record(page, m)
	content := crawler.NewReportContent(url, m.Text, m.Rule, page.Strategy)
	p.logger.Info("detail fetched",
		zap.String("url", url),
		zap.Stringer("strategy", page.Strategy),
		zap.String("rule", m.Rule),
		zap.Int("runes", content.Length),
	)
	return content
}

// FetchDetailText returns only the report body text.
func (p *Pipeline) FetchDetailText(ctx context.Context, url string) string {
	return p.FetchDetail(ctx, url).BodyText
}
