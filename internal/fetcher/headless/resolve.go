package headless

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// Backend names accepted by New.
const (
	BackendChromedp = "chromedp"
	BackendRod      = "rod"
	BackendNone     = "none"
)

var browserNames = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"headless-shell",
	"chrome",
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// ResolveBrowser finds a Chrome-compatible binary: an explicit path first,
// then $CHROME_PATH, then well-known names on PATH, then rod's search of
// common install locations.
func ResolveBrowser(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv("CHROME_PATH")} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		if path, err := lookPath(candidate); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("browser %q not executable: %w", candidate, crawler.ErrRendererUnavailable)
	}
	for _, name := range browserNames {
		if path, err := lookPath(name); err == nil {
			return path, nil
		}
	}
	if path, ok := launcher.LookPath(); ok {
		return path, nil
	}
	return "", fmt.Errorf("no chrome or chromium binary found: %w", crawler.ErrRendererUnavailable)
}

// New returns the configured rendered provider, or a Noop when rendering is
// disabled or no browser can be found.
func New(backend string, cfg Config, logger *zap.Logger) crawler.RenderedPageProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == BackendNone {
		return NewNoop("rendering disabled")
	}
	path, err := ResolveBrowser(cfg.BrowserPath)
	if err != nil {
		logger.Warn("rendered fetches disabled", zap.Error(err))
		return NewNoop(err.Error())
	}
	cfg.BrowserPath = path

	var (
		provider crawler.RenderedPageProvider
		buildErr error
	)
	switch backend {
	case BackendRod:
		provider, buildErr = NewRod(cfg)
	default:
		provider, buildErr = NewChromedp(cfg)
	}
	if buildErr != nil {
		logger.Warn("rendered fetches disabled", zap.Error(buildErr))
		return NewNoop(buildErr.Error())
	}
	logger.Info("rendered fetches enabled", zap.String("backend", backendName(backend)), zap.String("browser", path))
	return provider
}

func backendName(backend string) string {
	if backend == BackendRod {
		return BackendRod
	}
	return BackendChromedp
}
