// Package detector tells a page that is an unrendered script shell apart from
// one that has content the parsers could not use.
package detector

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// Heuristic implements a handful of rule-based checks.
type Heuristic struct {
	BodyLengthThreshold int
	MinVisibleRunes     int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinVisibleRunes: 40}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
}

// LooksEmpty reports whether a page carries nothing a reader would see:
// a blank body, a tiny script-dominated document, or an SPA mount point with
// hardly any text.
func (h *Heuristic) LooksEmpty(page crawler.RawPage) bool {
	body := []byte(page.Content)
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if page.Strategy == crawler.StrategyAPI {
		return false
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	visible := visibleRunes(page.Content)
	if visible < h.MinVisibleRunes {
		return true
	}
	// SPA mount points usually ship a little chrome text around an empty root.
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) && visible < h.MinVisibleRunes*5 {
			return true
		}
	}
	return false
}

// Classify maps a rejected page onto ErrEmptyContent or ErrUnparseable.
func (h *Heuristic) Classify(page crawler.RawPage) error {
	if h.LooksEmpty(page) {
		return crawler.ErrEmptyContent
	}
	return crawler.ErrUnparseable
}

func visibleRunes(content string) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return utf8.RuneCountInString(strings.TrimSpace(content))
	}
	doc.Find("script, style, noscript, template").Remove()
	return utf8.RuneCountInString(strings.Join(strings.Fields(doc.Find("body").Text()), ""))
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
