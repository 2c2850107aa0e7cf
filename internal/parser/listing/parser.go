// Package listing turns an index page into report stubs.
//
// Rules are tried in order and the first one that yields at least one stub
// wins. Fields inside a row are assigned by what the cell text looks like,
// so column reordering on the source site does not shift values between
// fields.
package listing

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
	"github.com/JakeFAU/research-report-crawler/internal/metrics"
)

// Config tunes the listing rules.
type Config struct {
	// DetailPatterns are href substrings that identify report detail links.
	DetailPatterns []string
	// BroadPatterns are looser href substrings for the anchor sweep.
	BroadPatterns []string
	// MinTitleRunes is the anchor text length the anchor sweep must exceed.
	MinTitleRunes    int
	MaxIndustryRunes int
	// DefaultBaseURL resolves relative links when the page has no URL.
	DefaultBaseURL string
	// APILinkTemplate builds a detail link from an API record's info code.
	APILinkTemplate  string
	RatingTokens     []string
	OrgTokens        []string
	IndustryKeywords []string
}

// DefaultConfig returns the settings used against the production listing.
func DefaultConfig() Config {
	return Config{
		DetailPatterns:   []string{"zw_industry.jshtml", "zw_stock.jshtml"},
		BroadPatterns:    []string{"report", "research", "pdf"},
		MinTitleRunes:    5,
		MaxIndustryRunes: 10,
		DefaultBaseURL:   "https://data.eastmoney.com/",
		APILinkTemplate:  "https://data.eastmoney.com/report/zw_industry.jshtml?infocode=%s",
		RatingTokens:     DefaultRatingTokens,
		OrgTokens:        DefaultOrgTokens,
		IndustryKeywords: DefaultIndustryKeywords,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if len(c.DetailPatterns) == 0 {
		c.DetailPatterns = d.DetailPatterns
	}
	if len(c.BroadPatterns) == 0 {
		c.BroadPatterns = d.BroadPatterns
	}
	if c.MinTitleRunes <= 0 {
		c.MinTitleRunes = d.MinTitleRunes
	}
	if c.MaxIndustryRunes <= 0 {
		c.MaxIndustryRunes = d.MaxIndustryRunes
	}
	if c.DefaultBaseURL == "" {
		c.DefaultBaseURL = d.DefaultBaseURL
	}
	if c.APILinkTemplate == "" {
		c.APILinkTemplate = d.APILinkTemplate
	}
	if len(c.RatingTokens) == 0 {
		c.RatingTokens = d.RatingTokens
	}
	if len(c.OrgTokens) == 0 {
		c.OrgTokens = d.OrgTokens
	}
	if len(c.IndustryKeywords) == 0 {
		c.IndustryKeywords = d.IndustryKeywords
	}
	return c
}

// Input is what every rule sees. Doc is nil when the body is not HTML.
type Input struct {
	Page crawler.RawPage
	Doc  *goquery.Document
	Base *url.URL
}

// Rule is one strategy for pulling stubs out of a page.
type Rule interface {
	Name() string
	Attempt(in *Input) []crawler.ReportStub
}

// Parser runs the rule chain.
type Parser struct {
	cfg        Config
	classifier *Classifier
	rules      []Rule
	logger     *zap.Logger
}

// New builds a Parser with the default rule chain.
func New(cfg Config, logger *zap.Logger) *Parser {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	classifier := NewClassifier(cfg)
	return &Parser{
		cfg:        cfg,
		classifier: classifier,
		logger:     logger,
		rules: []Rule{
			&apiRule{linkTemplate: cfg.APILinkTemplate},
			&rowAnchorRule{patterns: cfg.DetailPatterns, classifier: classifier},
			&broadAnchorRule{patterns: cfg.BroadPatterns, minTitleRunes: cfg.MinTitleRunes, classifier: classifier},
		},
	}
}

// Parse returns the stubs found on page, or nothing. It never fails.
func (p *Parser) Parse(page crawler.RawPage) []crawler.ReportStub {
	res := p.match(page)
	if res.rule == "" {
		return nil
	}
	metrics.ObserveRuleHit("listing", res.rule)
	p.logger.Debug("listing rule matched",
		zap.String("rule", res.rule),
		zap.String("url", page.SourceURL),
		zap.Int("stubs", len(res.stubs)),
	)
	for _, n := range res.notes {
		p.lowConfidence(n.stub, res.rule, n.reason)
	}
	return res.stubs
}

// Accepts is a crawler.ContentCheck: a listing page is usable when at least
// one stub can be extracted. It records nothing.
func (p *Parser) Accepts(page crawler.RawPage) bool {
	return len(p.match(page).stubs) > 0
}

type lowConfidenceNote struct {
	stub   crawler.ReportStub
	reason string
}

type matchResult struct {
	rule  string
	stubs []crawler.ReportStub
	notes []lowConfidenceNote
}

func (p *Parser) match(page crawler.RawPage) matchResult {
	if page.Blank() {
		return matchResult{}
	}
	in := p.input(page)
	for _, rule := range p.rules {
		stubs := p.attempt(rule, in)
		if len(stubs) == 0 {
			continue
		}
		out, notes := p.finalize(stubs)
		return matchResult{rule: rule.Name(), stubs: out, notes: notes}
	}
	return matchResult{}
}

func (p *Parser) input(page crawler.RawPage) *Input {
	in := &Input{Page: page, Base: page.BaseURL()}
	if in.Base == nil {
		in.Base, _ = url.Parse(p.cfg.DefaultBaseURL)
	}
	if page.Strategy == crawler.StrategyAPI {
		return in
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.Content))
	if err == nil {
		in.Doc = doc
	}
	return in
}

func (p *Parser) attempt(rule Rule, in *Input) (stubs []crawler.ReportStub) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("listing rule panicked",
				zap.String("rule", rule.Name()),
				zap.String("panic", fmt.Sprint(r)),
			)
			stubs = nil
		}
	}()
	return rule.Attempt(in)
}

func (p *Parser) finalize(stubs []crawler.ReportStub) ([]crawler.ReportStub, []lowConfidenceNote) {
	out := make([]crawler.ReportStub, 0, len(stubs))
	var notes []lowConfidenceNote
	seen := make(map[string]struct{}, len(stubs))
	for _, stub := range stubs {
		if stub.Link == "" || stub.Title == "" {
			continue
		}
		if _, dup := seen[stub.Link]; dup {
			continue
		}
		seen[stub.Link] = struct{}{}

		var reasons []string
		if stub.Industry == "" {
			if kw, ok := p.classifier.IndustryFromTitle(stub.Title); ok {
				stub.Industry = kw
				reasons = append(reasons, "industry_from_title")
			} else {
				stub.Industry = crawler.UnknownIndustry
				reasons = append(reasons, "industry_unknown")
			}
		}
		if stub.Org == "" || stub.PublishDate == "" {
			reasons = append(reasons, "missing_fields")
		}
		stub.Abstract = crawler.FormatAbstract(stub.Industry, stub.Rating, stub.Org, stub.PublishDate)
		for _, reason := range reasons {
			notes = append(notes, lowConfidenceNote{stub: stub, reason: reason})
		}
		out = append(out, stub)
	}
	return out, notes
}

func (p *Parser) lowConfidence(stub crawler.ReportStub, rule, reason string) {
	metrics.ObserveLowConfidence(reason)
	p.logger.Debug("low confidence stub",
		zap.String("rule", rule),
		zap.String("reason", reason),
		zap.String("link", stub.Link),
		zap.String("title", stub.Title),
	)
}
