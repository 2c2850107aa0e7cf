package crawler

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// UnknownIndustry is the industry assigned when no rule can resolve one.
const UnknownIndustry = "unknown"

// Strategy identifies how a page body was acquired.
type Strategy int

// Acquisition strategies, in escalation order.
const (
	StrategyNone Strategy = iota
	StrategyHTTP
	StrategyRendered
	StrategyAPI
)

func (s Strategy) String() string {
	switch s {
	case StrategyHTTP:
		return "HTTP"
	case StrategyRendered:
		return "RENDERED"
	case StrategyAPI:
		return "API"
	default:
		return "NONE"
	}
}

// MarshalText renders the strategy name in JSON payloads.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a strategy name.
func (s *Strategy) UnmarshalText(b []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(b))) {
	case "HTTP":
		*s = StrategyHTTP
	case "RENDERED":
		*s = StrategyRendered
	case "API":
		*s = StrategyAPI
	case "NONE", "":
		*s = StrategyNone
	default:
		return fmt.Errorf("unknown strategy %q", string(b))
	}
	return nil
}

// RawPage is the body returned by one acquisition tier.
type RawPage struct {
	SourceURL  string    `json:"source_url"`
	FinalURL   string    `json:"final_url,omitempty"`
	Content    string    `json:"-"`
	Strategy   Strategy  `json:"strategy"`
	StatusCode int       `json:"status_code,omitempty"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Blank reports whether the page carries no usable bytes.
func (p RawPage) Blank() bool {
	return strings.TrimSpace(p.Content) == ""
}

// BaseURL returns the URL relative links should be resolved against.
func (p RawPage) BaseURL() *url.URL {
	for _, raw := range []string{p.FinalURL, p.SourceURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err == nil && u.Scheme != "" && u.Host != "" {
			return u
		}
	}
	return nil
}

// ReportStub is the metadata for one report as listed on an index page.
// Link is absolute and unique within a listing.
type ReportStub struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Industry    string `json:"industry"`
	Rating      string `json:"rating"`
	Org         string `json:"org"`
	PublishDate string `json:"publish_date"`
	Abstract    string `json:"abstract"`
}

// FormatAbstract renders the one-line summary stored alongside a stub.
func FormatAbstract(industry, rating, org, date string) string {
	return fmt.Sprintf("行业: %s, 评级: %s, 机构: %s, 日期: %s", industry, rating, org, date)
}

// ReportContent is the extracted body of a single report.
type ReportContent struct {
	Link           string   `json:"link"`
	BodyText       string   `json:"body_text"`
	ExtractionRule string   `json:"extraction_rule"`
	Length         int      `json:"length"`
	Strategy       Strategy `json:"strategy"`
}

// NewReportContent fills Length from the body text.
func NewReportContent(link, body, rule string, strategy Strategy) ReportContent {
	return ReportContent{
		Link:           link,
		BodyText:       body,
		ExtractionRule: rule,
		Length:         utf8.RuneCountInString(body),
		Strategy:       strategy,
	}
}

// Outcome classifies a single fetch attempt.
type Outcome int

// Attempt outcomes.
const (
	OutcomeSuccess Outcome = iota
	OutcomeEmpty
	OutcomeNetworkError
	OutcomeParseError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeNetworkError:
		return "network_error"
	case OutcomeParseError:
		return "parse_error"
	default:
		return "unknown"
	}
}

// FetchAttempt records one try against one tier.
type FetchAttempt struct {
	Strategy Strategy
	Attempt  int
	Outcome  Outcome
	Duration time.Duration
	Err      error
}

// RenderOptions tune a rendered fetch.
type RenderOptions struct {
	// Settle is how long to wait after the body is ready.
	Settle time.Duration
	// Scroll triggers lazy loading by scrolling to the bottom and back to the middle.
	Scroll      bool
	ScrollPause time.Duration
}

// ContentCheck reports whether a page carries usable content for its consumer.
type ContentCheck func(RawPage) bool

// NonBlank is the default ContentCheck.
func NonBlank(p RawPage) bool {
	return !p.Blank()
}

// StripJSONP removes a `callback(...)` wrapper if present.
func StripJSONP(body string) string {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" || trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	open := strings.IndexByte(trimmed, '(')
	end := strings.LastIndexByte(trimmed, ')')
	if open <= 0 || end <= open {
		return trimmed
	}
	name := trimmed[:open]
	for _, r := range name {
		if r != '_' && r != '$' && r != '.' && !('a' <= r && r <= 'z') && !('A' <= r && r <= 'Z') && !('0' <= r && r <= '9') {
			return trimmed
		}
	}
	return strings.TrimSpace(trimmed[open+1 : end])
}
