// Package headless contains page providers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// Config controls the behavior of the browser-backed providers.
type Config struct {
	BrowserPath       string
	UserAgent         string
	Headers           http.Header
	NavigationTimeout time.Duration
}

func (c Config) navTimeout() time.Duration {
	if c.NavigationTimeout > 0 {
		return c.NavigationTimeout
	}
	return 45 * time.Second
}

// Chromedp implements crawler.RenderedPageProvider using chromedp. Every
// Render call starts its own browser process and tears it down before
// returning.
type Chromedp struct {
	cfg Config
}

// NewChromedp creates a rendered provider backed by chromedp.
func NewChromedp(cfg Config) (*Chromedp, error) {
	if cfg.BrowserPath == "" {
		return nil, fmt.Errorf("browser path is required: %w", crawler.ErrRendererUnavailable)
	}
	return &Chromedp{cfg: cfg}, nil
}

func (f *Chromedp) allocatorOptions() []chromedp.ExecAllocatorOption {
	return append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(f.cfg.BrowserPath),
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(1920, 1080),
	)
}

// Render navigates with a headless browser and returns the rendered DOM.
func (f *Chromedp) Render(ctx context.Context, url string, opts crawler.RenderOptions) (crawler.RawPage, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, f.allocatorOptions()...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.navTimeout())
	defer cancel()

	// An empty Run starts the browser so launch failures can be told apart
	// from navigation failures.
	if err := chromedp.Run(taskCtx); err != nil {
		if ctx.Err() != nil {
			return crawler.RawPage{}, fmt.Errorf("chromedp start canceled: %w", ctx.Err())
		}
		return crawler.RawPage{}, fmt.Errorf("start browser %q: %v: %w", f.cfg.BrowserPath, err, crawler.ErrRendererUnavailable)
	}

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, finalURL, err := f.run(taskCtx, url, opts)
	if err != nil {
		return crawler.RawPage{}, err
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	if status >= http.StatusBadRequest {
		return crawler.RawPage{}, &crawler.StatusError{URL: url, Code: status}
	}
	return crawler.RawPage{
		SourceURL:  url,
		FinalURL:   responseURL,
		Content:    html,
		Strategy:   crawler.StrategyRendered,
		StatusCode: status,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (f *Chromedp) run(ctx context.Context, url string, opts crawler.RenderOptions) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(opts.Settle),
	}
	if opts.Scroll {
		actions = append(actions,
			chromedp.Evaluate(scrollBottomJS, nil),
			chromedp.Sleep(opts.ScrollPause),
			chromedp.Evaluate(scrollMiddleJS, nil),
			chromedp.Sleep(opts.ScrollPause),
		)
	}
	actions = append(actions,
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Chromedp) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(f.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(f.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

const (
	scrollBottomJS = `window.scrollTo(0, document.body.scrollHeight);`
	scrollMiddleJS = `window.scrollTo(0, document.body.scrollHeight / 2);`
)

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// The first document response belongs to the navigation; later ones are frames.
	if m.status != 0 {
		return
	}
	m.status = int(event.Response.Status)
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
