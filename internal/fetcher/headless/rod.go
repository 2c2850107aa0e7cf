package headless

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// Rod implements crawler.RenderedPageProvider using go-rod. Like Chromedp it
// owns one browser process per Render call.
type Rod struct {
	cfg Config
}

// NewRod creates a rendered provider backed by go-rod.
func NewRod(cfg Config) (*Rod, error) {
	if cfg.BrowserPath == "" {
		return nil, fmt.Errorf("browser path is required: %w", crawler.ErrRendererUnavailable)
	}
	return &Rod{cfg: cfg}, nil
}

// Render navigates with a headless browser and returns the rendered DOM.
func (f *Rod) Render(ctx context.Context, url string, opts crawler.RenderOptions) (crawler.RawPage, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.navTimeout())
	defer cancel()

	l := launcher.New().
		Context(ctx).
		Bin(f.cfg.BrowserPath).
		Headless(true).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	defer l.Cleanup()

	controlURL, err := l.Launch()
	if err != nil {
		if ctx.Err() != nil {
			return crawler.RawPage{}, fmt.Errorf("rod launch canceled: %w", ctx.Err())
		}
		return crawler.RawPage{}, fmt.Errorf("launch browser %q: %v: %w", f.cfg.BrowserPath, err, crawler.ErrRendererUnavailable)
	}
	defer l.Kill()

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return crawler.RawPage{}, fmt.Errorf("connect browser: %v: %w", err, crawler.ErrRendererUnavailable)
	}
	defer func() { _ = browser.Close() }()

	html, finalURL, err := f.run(ctx, browser, url, opts)
	if err != nil {
		return crawler.RawPage{}, err
	}
	if finalURL == "" {
		finalURL = url
	}
	return crawler.RawPage{
		SourceURL:  url,
		FinalURL:   finalURL,
		Content:    html,
		Strategy:   crawler.StrategyRendered,
		StatusCode: http.StatusOK,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

func (f *Rod) run(ctx context.Context, browser *rod.Browser, url string, opts crawler.RenderOptions) (string, string, error) {
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", "", fmt.Errorf("open page: %w", err)
	}
	defer func() { _ = page.Close() }()

	if f.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.cfg.UserAgent}); err != nil {
			return "", "", fmt.Errorf("set user-agent: %w", err)
		}
	}
	if headers := flattenHeaders(f.cfg.Headers); len(headers) > 0 {
		if _, err := page.SetExtraHeaders(headers); err != nil {
			return "", "", fmt.Errorf("set extra headers: %w", err)
		}
	}
	if err := page.Navigate(url); err != nil {
		return "", "", fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return "", "", fmt.Errorf("wait load: %w", err)
	}
	if err := pause(ctx, opts.Settle); err != nil {
		return "", "", err
	}
	if opts.Scroll {
		if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
			return "", "", fmt.Errorf("scroll to bottom: %w", err)
		}
		if err := pause(ctx, opts.ScrollPause); err != nil {
			return "", "", err
		}
		if _, err := page.Eval(`() => window.scrollTo(0, document.body.scrollHeight / 2)`); err != nil {
			return "", "", fmt.Errorf("scroll to middle: %w", err)
		}
		if err := pause(ctx, opts.ScrollPause); err != nil {
			return "", "", err
		}
	}
	html, err := page.HTML()
	if err != nil {
		return "", "", fmt.Errorf("read html: %w", err)
	}
	finalURL := ""
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}
	return html, finalURL, nil
}

// pause waits for d or until ctx is done.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("render pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func flattenHeaders(h http.Header) []string {
	out := make([]string, 0, len(h)*2)
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		out = append(out, key, values[0])
	}
	return out
}
