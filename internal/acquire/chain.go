// Package acquire fetches listing and detail pages through an escalating
// chain of strategies: plain HTTP, a rendered browser page and, for
// listings, alternate endpoints and the structured report API.
//
// Fetchers never return errors. When every tier is exhausted they return a
// RawPage with StrategyNone and empty content.
package acquire

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
	"github.com/JakeFAU/research-report-crawler/internal/metrics"
	"github.com/JakeFAU/research-report-crawler/internal/retry"
)

// Classifier explains why a page was rejected: ErrEmptyContent or
// ErrUnparseable.
type Classifier interface {
	Classify(page crawler.RawPage) error
}

// Snapshotter archives acquired pages.
type Snapshotter interface {
	Save(ctx context.Context, page crawler.RawPage) (string, error)
}

// Deps are the collaborators shared by both fetchers.
type Deps struct {
	HTTP     crawler.PageProvider
	Renderer crawler.RenderedPageProvider
	Retry    *retry.Orchestrator
	Detector Classifier
	// Snapshots is optional.
	Snapshots Snapshotter
	// Check decides whether a page is usable; nil means crawler.NonBlank.
	Check crawler.ContentCheck
	// Fallback accepts a page Check rejected when no later tier does
	// better. The most recent such page wins. Nil disables it.
	Fallback crawler.ContentCheck
	Logger   *zap.Logger
}

type tierResult int

const (
	tierAccepted tierResult = iota
	tierEscalate
	tierAborted
	// tierFallback carries a page only the Fallback check accepted.
	tierFallback
)

// chain runs the HTTP and rendered tiers for one URL.
type chain struct {
	name        string
	deps        Deps
	render      crawler.RenderOptions
	rendererOff atomic.Bool
}

func newChain(name string, deps Deps, render crawler.RenderOptions) *chain {
	if deps.Retry == nil {
		deps.Retry = retry.New(retry.Config{}, deps.Logger)
	}
	if deps.Check == nil {
		deps.Check = crawler.NonBlank
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &chain{name: name, deps: deps, render: render}
}

// fetchURL tries HTTP then the rendered tier for url. When neither passes
// Check, the last page Fallback accepted is returned with tierFallback.
func (c *chain) fetchURL(ctx context.Context, url string) (crawler.RawPage, tierResult) {
	var fallback crawler.RawPage
	if c.deps.HTTP != nil {
		page, res := c.tier(ctx, crawler.StrategyHTTP, func(ctx context.Context) (crawler.RawPage, error) {
			return c.deps.HTTP.Fetch(ctx, url)
		})
		switch res {
		case tierAccepted, tierAborted:
			return page, res
		case tierFallback:
			fallback = page
		}
	}
	if c.deps.Renderer != nil && !c.rendererOff.Load() {
		page, res := c.tier(ctx, crawler.StrategyRendered, func(ctx context.Context) (crawler.RawPage, error) {
			return c.deps.Renderer.Render(ctx, url, c.render)
		})
		switch res {
		case tierAccepted, tierAborted:
			return page, res
		case tierFallback:
			fallback = page
		}
	}
	if fallback.Strategy == crawler.StrategyNone {
		return crawler.RawPage{}, tierEscalate
	}
	c.deps.Logger.Debug("using fallback page",
		zap.String("fetcher", c.name),
		zap.Stringer("strategy", fallback.Strategy),
		zap.String("url", url),
	)
	return fallback, tierFallback
}

// tier runs one strategy under the retry orchestrator.
func (c *chain) tier(
	ctx context.Context,
	strategy crawler.Strategy,
	fetch func(context.Context) (crawler.RawPage, error),
) (crawler.RawPage, tierResult) {
	var last crawler.RawPage
	fn := func(ctx context.Context) (crawler.RawPage, error) {
		page, err := fetch(ctx)
		if err == nil {
			last = page
			c.snapshot(ctx, page)
		}
		return page, err
	}
	page, attempts, err := c.deps.Retry.Attempt(ctx, strategy, fn, c.verify)
	switch {
	case err == nil:
		c.deps.Logger.Debug("strategy succeeded",
			zap.String("fetcher", c.name),
			zap.Stringer("strategy", strategy),
			zap.String("url", page.SourceURL),
			zap.Int("attempts", len(attempts)),
		)
		return page, tierAccepted
	case errors.Is(err, crawler.ErrRendererUnavailable):
		if c.rendererOff.CompareAndSwap(false, true) {
			c.deps.Logger.Warn("renderer unavailable, disabling rendered strategy",
				zap.String("fetcher", c.name),
				zap.Error(err),
			)
		}
		return crawler.RawPage{}, tierEscalate
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		return crawler.RawPage{}, tierAborted
	default:
		metrics.ObserveEscalation(c.name, strategy.String())
		c.deps.Logger.Debug("escalating",
			zap.String("fetcher", c.name),
			zap.Stringer("from", strategy),
			zap.Int("attempts", len(attempts)),
			zap.Error(err),
		)
		if c.deps.Fallback != nil && !last.Blank() && c.deps.Fallback(last) {
			if last.Strategy == crawler.StrategyNone {
				last.Strategy = strategy
			}
			return last, tierFallback
		}
		return crawler.RawPage{}, tierEscalate
	}
}

func (c *chain) verify(page crawler.RawPage) error {
	if c.deps.Check(page) {
		return nil
	}
	if c.deps.Detector == nil {
		if page.Blank() {
			return crawler.ErrEmptyContent
		}
		return crawler.ErrUnparseable
	}
	return c.deps.Detector.Classify(page)
}

func (c *chain) snapshot(ctx context.Context, page crawler.RawPage) {
	if c.deps.Snapshots == nil || page.Blank() {
		return
	}
	uri, err := c.deps.Snapshots.Save(ctx, page)
	if err != nil {
		c.deps.Logger.Warn("snapshot failed",
			zap.String("fetcher", c.name),
			zap.String("url", page.SourceURL),
			zap.Error(err),
		)
		return
	}
	c.deps.Logger.Debug("snapshot saved", zap.String("fetcher", c.name), zap.String("uri", uri))
}

func (c *chain) exhausted(ctx context.Context, url string) crawler.RawPage {
	metrics.ObserveExhausted(c.name)
	fields := []zap.Field{zap.String("fetcher", c.name), zap.String("url", url)}
	if err := ctx.Err(); err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.deps.Logger.Warn("all strategies exhausted", fields...)
	return crawler.RawPage{SourceURL: url, Strategy: crawler.StrategyNone}
}

// RendererDisabled reports whether the rendered tier has been switched off.
func (c *chain) RendererDisabled() bool {
	return c.rendererOff.Load()
}
