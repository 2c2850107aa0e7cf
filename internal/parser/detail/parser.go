// Package detail extracts the body text of a single report page.
package detail

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
	"github.com/JakeFAU/research-report-crawler/internal/metrics"
)

// Rule names, reported as ReportContent.ExtractionRule.
const (
	RulePrimary     = "primary"
	RuleSecondary   = "secondary"
	RuleContentScan = "content-scan"
	RuleReadability = "readability"
	RuleFullBody    = "full-body"
)

// Config tunes extraction thresholds.
type Config struct {
	// MinTextRunes is the length a rule's text must exceed to be accepted.
	// The full-body rule ignores it.
	MinTextRunes int
	// MinParagraphs is the paragraph count above which full-body joins
	// paragraphs instead of taking the whole body text.
	MinParagraphs  int
	DefaultBaseURL string
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{MinTextRunes: 200, MinParagraphs: 5, DefaultBaseURL: "https://data.eastmoney.com/"}
}

var (
	secondarySelectors = []string{".zw-content .ctx-box", "div.report-content", "div.newsContent", "#ContentBody"}
	contentTokens      = []string{"content", "article", "main", "text", "detail"}
)

const noiseSelector = "script, style, noscript, iframe, header, footer, nav, aside, .header, .footer, .nav, .menu, .sidebar, .ad, [class*=advert]"

type rule struct {
	name string
	// terminal rules accept any non-empty text.
	terminal bool
	extract  func(doc *goquery.Document, page crawler.RawPage) string
}

// Parser runs the extraction rules in order.
type Parser struct {
	cfg    Config
	base   *url.URL
	rules  []rule
	logger *zap.Logger
}

// New builds a Parser.
func New(cfg Config, logger *zap.Logger) *Parser {
	d := DefaultConfig()
	if cfg.MinTextRunes <= 0 {
		cfg.MinTextRunes = d.MinTextRunes
	}
	if cfg.MinParagraphs <= 0 {
		cfg.MinParagraphs = d.MinParagraphs
	}
	if cfg.DefaultBaseURL == "" {
		cfg.DefaultBaseURL = d.DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	base, _ := url.Parse(cfg.DefaultBaseURL)
	p := &Parser{cfg: cfg, base: base, logger: logger}
	p.rules = []rule{
		{name: RulePrimary, extract: p.primary},
		{name: RuleSecondary, extract: p.secondary},
		{name: RuleContentScan, extract: p.contentScan},
		{name: RuleReadability, extract: p.readable},
		{name: RuleFullBody, terminal: true, extract: p.fullBody},
	}
	return p
}

// Match is the outcome of running the rule chain over one page.
type Match struct {
	Text string
	// Rule is empty when nothing matched.
	Rule string
}

// Strong reports whether a targeted rule produced the text, as opposed to
// the full-body sweep.
func (m Match) Strong() bool {
	return m.Rule != "" && m.Rule != RuleFullBody
}

// Parse returns the report body text, or "" when nothing could be extracted.
func (p *Parser) Parse(page crawler.RawPage) string {
	text, _ := p.Extract(page)
	return text
}

// Accepts is a crawler.ContentCheck for detail pages. Only a targeted rule
// counts; a page that only yields full-body text is left for a later tier.
func (p *Parser) Accepts(page crawler.RawPage) bool {
	return p.Match(page).Strong()
}

// Usable is the last-resort crawler.ContentCheck: any extracted text counts.
func (p *Parser) Usable(page crawler.RawPage) bool {
	return p.Match(page).Text != ""
}

// Extract returns the body text and the name of the rule that produced it,
// recording the rule hit.
func (p *Parser) Extract(page crawler.RawPage) (string, string) {
	m := p.Match(page)
	p.Record(page, m)
	return m.Text, m.Rule
}

// Match runs the rules without touching metrics or logs.
func (p *Parser) Match(page crawler.RawPage) Match {
	if page.Blank() {
		return Match{}
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err != nil {
		return Match{}
	}
	for _, r := range p.rules {
		text := p.run(r, doc, page)
		if text == "" {
			continue
		}
		if !r.terminal && utf8.RuneCountInString(text) <= p.cfg.MinTextRunes {
			continue
		}
		return Match{Text: text, Rule: r.name}
	}
	return Match{}
}

// Record counts and logs the rule behind m.
func (p *Parser) Record(page crawler.RawPage, m Match) {
	if m.Rule == "" {
		p.logger.Debug("no detail rule matched", zap.String("url", page.SourceURL))
		return
	}
	metrics.ObserveRuleHit("detail", m.Rule)
	p.logger.Debug("detail rule matched",
		zap.String("rule", m.Rule),
		zap.String("url", page.SourceURL),
		zap.Int("runes", utf8.RuneCountInString(m.Text)),
	)
}

func (p *Parser) run(r rule, doc *goquery.Document, page crawler.RawPage) (text string) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Warn("detail rule panicked", zap.String("rule", r.name), zap.String("panic", fmt.Sprint(rec)))
			text = ""
		}
	}()
	return strings.TrimSpace(r.extract(doc, page))
}

func (p *Parser) primary(doc *goquery.Document, _ crawler.RawPage) string {
	return p.firstLong(doc.Find("div.ctx-content"), paragraphText)
}

func (p *Parser) secondary(doc *goquery.Document, _ crawler.RawPage) string {
	for _, sel := range secondarySelectors {
		if text := p.firstLong(doc.Find(sel), blockText); text != "" {
			return text
		}
	}
	return ""
}

func (p *Parser) contentScan(doc *goquery.Document, _ crawler.RawPage) string {
	candidates := doc.Find("div, section, article").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		key := strings.ToLower(class + " " + id)
		for _, token := range contentTokens {
			if strings.Contains(key, token) {
				return true
			}
		}
		return false
	})
	return p.firstLong(candidates, func(s *goquery.Selection) string {
		clean := s.Clone()
		clean.Find(noiseSelector).Remove()
		return blockText(clean)
	})
}

func (p *Parser) readable(_ *goquery.Document, page crawler.RawPage) string {
	base := page.BaseURL()
	if base == nil {
		base = p.base
	}
	article, err := readability.FromReader(strings.NewReader(page.Content), base)
	if err != nil {
		return ""
	}
	var lines []string
	for _, line := range strings.Split(article.TextContent, "\n") {
		if line = collapse(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func (p *Parser) fullBody(doc *goquery.Document, _ crawler.RawPage) string {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return ""
	}
	clean := body.Clone()
	clean.Find(noiseSelector).Remove()
	if clean.Find("p").Length() > p.cfg.MinParagraphs {
		if text := paragraphText(clean); text != "" {
			return text
		}
	}
	return joinText(clean)
}

// firstLong returns the first text from sel that exceeds the threshold.
func (p *Parser) firstLong(sel *goquery.Selection, text func(*goquery.Selection) string) string {
	var out string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := text(s)
		if utf8.RuneCountInString(t) > p.cfg.MinTextRunes {
			out = t
			return false
		}
		return true
	})
	return out
}

func paragraphText(s *goquery.Selection) string {
	var parts []string
	s.Find("p").Each(func(_ int, para *goquery.Selection) {
		if t := collapse(para.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, "\n")
}

// blockText prefers paragraphs and falls back to the element's own text.
func blockText(s *goquery.Selection) string {
	if text := paragraphText(s); text != "" {
		return text
	}
	clean := s.Clone()
	clean.Find("script, style").Remove()
	return joinText(clean)
}

// joinText joins the element's text nodes with single spaces so adjacent
// blocks do not run together.
func joinText(s *goquery.Selection) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := collapse(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
