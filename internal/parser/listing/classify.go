package listing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Default vocabularies. Order matters: longer tokens that contain shorter
// ones come first.
var (
	DefaultRatingTokens = []string{
		"强烈推荐", "谨慎推荐", "谨慎增持", "买入", "增持", "中性", "减持", "卖出", "推荐", "持有", "回避", "跑赢行业", "跑输行业",
	}
	DefaultOrgTokens = []string{
		"证券", "研究", "资本", "投资", "期货", "基金", "Securities", "Research", "Capital",
	}
	DefaultIndustryKeywords = []string{
		"食品饮料", "医药", "金融", "科技", "消费", "通信", "电子", "计算机", "汽车", "房地产", "能源", "化工", "食品", "互联网", "传媒",
	}
)

var (
	dateRE    = regexp.MustCompile(`^(\d{4})\s*[-/.年]\s*(\d{1,2})\s*[-/.月]\s*(\d{1,2})\s*日?(?:[\sT]+\d{1,2}:\d{2}(?::\d{2}(?:\.\d+)?)?)?$`)
	numericRE = regexp.MustCompile(`^[+\-]?[\d,]*\.?\d+\s*%?$`)
)

// Cell is one unit of row text offered to the classifier.
type Cell struct {
	Text string
	// Label is an icon title or image alt found in the cell, if any.
	Label string
}

// Classification holds the fields resolved from a row's cells.
type Classification struct {
	Industry string
	Rating   string
	Org      string
	Date     string
}

// Classifier assigns cells to fields by content shape, never by position.
type Classifier struct {
	ratingTokens     []string
	orgTokens        []string
	industryKeywords []string
	maxIndustryRunes int
	maxRatingRunes   int
	maxOrgRunes      int
}

// NewClassifier builds a Classifier from the parser config.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{
		ratingTokens:     cfg.RatingTokens,
		orgTokens:        cfg.OrgTokens,
		industryKeywords: cfg.IndustryKeywords,
		maxIndustryRunes: cfg.MaxIndustryRunes,
		maxRatingRunes:   8,
		maxOrgRunes:      30,
	}
}

// Classify scans cells in order. Dates and ratings go to the first cell
// that matches. Among org-looking cells, one with a name before the suffix
// token (中信证券) beats a bare token (证券Ⅱ), which is left for the industry.
func (c *Classifier) Classify(cells []Cell) Classification {
	type rest struct {
		text, label string
	}
	var (
		out      Classification
		rem      []rest
		orgAt    = -1
		orgNamed bool
	)
	for _, cell := range cells {
		text := normalizeSpace(cell.Text)
		label := normalizeSpace(cell.Label)
		if text != "" {
			if out.Date == "" {
				if date, ok := NormalizeDate(text); ok {
					out.Date = date
					continue
				}
			}
			if out.Rating == "" {
				if rating, ok := c.rating(text); ok {
					out.Rating = rating
					continue
				}
			}
			if named, ok := c.org(text); ok && (orgAt < 0 || (named && !orgNamed)) {
				orgAt, orgNamed = len(rem), named
			}
		}
		rem = append(rem, rest{text: text, label: label})
	}
	if orgAt >= 0 {
		out.Org = rem[orgAt].text
	}
	for i, r := range rem {
		if i == orgAt {
			continue
		}
		if r.text == "" || IsNumeric(r.text) {
			if c.industryCandidate(r.label) {
				out.Industry = r.label
				break
			}
			continue
		}
		if c.industryCandidate(r.text) {
			out.Industry = r.text
			break
		}
	}
	return out
}

// IndustryFromTitle returns the first vocabulary keyword found in title.
func (c *Classifier) IndustryFromTitle(title string) (string, bool) {
	for _, kw := range c.industryKeywords {
		if strings.Contains(title, kw) {
			return kw, true
		}
	}
	return "", false
}

// IndustryCell resolves a header-mapped industry cell.
func (c *Classifier) IndustryCell(cell Cell) (string, bool) {
	text := normalizeSpace(cell.Text)
	if text != "" && !IsNumeric(text) {
		return text, true
	}
	label := normalizeSpace(cell.Label)
	if label != "" {
		return label, true
	}
	return "", false
}

func (c *Classifier) rating(text string) (string, bool) {
	if utf8.RuneCountInString(text) > c.maxRatingRunes {
		return "", false
	}
	for _, token := range c.ratingTokens {
		if strings.Contains(text, token) {
			return token, true
		}
	}
	return "", false
}

// org reports whether text carries an org token, and whether a name
// precedes that token.
func (c *Classifier) org(text string) (named, ok bool) {
	if utf8.RuneCountInString(text) > c.maxOrgRunes {
		return false, false
	}
	for _, token := range c.orgTokens {
		i := strings.Index(text, token)
		if i < 0 {
			continue
		}
		ok = true
		if i > 0 {
			return true, true
		}
	}
	return false, ok
}

func (c *Classifier) industryCandidate(text string) bool {
	if text == "" || utf8.RuneCountInString(text) > c.maxIndustryRunes {
		return false
	}
	return strings.IndexFunc(text, unicode.IsLetter) >= 0
}

// NormalizeDate recognises ISO, slash, dot and 年月日 dates with an optional
// time suffix and returns them as YYYY-MM-DD.
func NormalizeDate(text string) (string, bool) {
	m := dateRE.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return "", false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day), true
}

// IsNumeric reports whether text is a bare number, optionally signed or a percentage.
func IsNumeric(text string) bool {
	return numericRE.MatchString(strings.TrimSpace(text))
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
