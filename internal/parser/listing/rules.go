package listing

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

// apiRule decodes the JSON payload returned by the report list endpoint.
type apiRule struct {
	linkTemplate string
}

func (r *apiRule) Name() string { return "api" }

type apiPayload struct {
	Data []apiRecord `json:"data"`
}

type apiRecord struct {
	Title        flexString `json:"title"`
	InfoCode     flexString `json:"infoCode"`
	IndustryName flexString `json:"industryName"`
	EmRatingName flexString `json:"emRatingName"`
	Rating       flexString `json:"rating"`
	SRatingName  flexString `json:"sRatingName"`
	OrgSName     flexString `json:"orgSName"`
	OrgName      flexString `json:"orgName"`
	PublishDate  flexString `json:"publishDate"`
}

// flexString accepts strings, numbers and null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == "" {
		*f = ""
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	*f = flexString(raw)
	return nil
}

func (r *apiRule) Attempt(in *Input) []crawler.ReportStub {
	body := crawler.StripJSONP(in.Page.Content)
	if !strings.HasPrefix(body, "{") {
		return nil
	}
	var payload apiPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil
	}
	stubs := make([]crawler.ReportStub, 0, len(payload.Data))
	for _, rec := range payload.Data {
		title := normalizeSpace(string(rec.Title))
		code := string(rec.InfoCode)
		if title == "" || code == "" {
			continue
		}
		date, _ := NormalizeDate(string(rec.PublishDate))
		stubs = append(stubs, crawler.ReportStub{
			Title:       title,
			Link:        fmt.Sprintf(r.linkTemplate, url.QueryEscape(code)),
			Industry:    string(rec.IndustryName),
			Rating:      firstNonEmpty(string(rec.EmRatingName), string(rec.Rating), string(rec.SRatingName)),
			Org:         firstNonEmpty(string(rec.OrgSName), string(rec.OrgName)),
			PublishDate: date,
		})
	}
	return stubs
}

// rowAnchorRule finds report detail anchors and classifies the cells of the
// row that contains each one.
type rowAnchorRule struct {
	patterns   []string
	classifier *Classifier
}

func (r *rowAnchorRule) Name() string { return "row_anchor" }

const rowSelector = "tr, li, div[class*=item], div[class*=row]"

func (r *rowAnchorRule) Attempt(in *Input) []crawler.ReportStub {
	if in.Doc == nil {
		return nil
	}
	var stubs []crawler.ReportStub
	seenRows := make(map[*html.Node]struct{})
	seenLinks := make(map[string]struct{})
	in.Doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !containsAny(href, r.patterns) {
			return
		}
		row := a.Closest(rowSelector)
		if row.Length() == 0 {
			return
		}
		if _, dup := seenRows[row.Get(0)]; dup {
			return
		}
		link, ok := resolveLink(in.Base, href)
		if !ok {
			return
		}
		if _, dup := seenLinks[link]; dup {
			return
		}
		title := anchorTitle(a)
		if title == "" {
			return
		}
		seenRows[row.Get(0)] = struct{}{}
		seenLinks[link] = struct{}{}

		col, mapped := industryColumn(row)
		if !mapped {
			col = -1
		}
		class := r.classifier.Classify(rowCells(row, title, col))
		if tds := row.ChildrenFiltered("td"); mapped && col < tds.Length() {
			if industry, ok := r.classifier.IndustryCell(tdCell(tds.Eq(col))); ok && industry != title {
				class.Industry = industry
			}
		}
		stubs = append(stubs, crawler.ReportStub{
			Title:       title,
			Link:        link,
			Industry:    class.Industry,
			Rating:      class.Rating,
			Org:         class.Org,
			PublishDate: class.Date,
		})
	})
	return stubs
}

// broadAnchorRule sweeps every anchor whose href looks like a report and
// classifies the surrounding text.
type broadAnchorRule struct {
	patterns      []string
	minTitleRunes int
	classifier    *Classifier
}

func (r *broadAnchorRule) Name() string { return "broad_anchor" }

func (r *broadAnchorRule) Attempt(in *Input) []crawler.ReportStub {
	if in.Doc == nil {
		return nil
	}
	var stubs []crawler.ReportStub
	seen := make(map[string]struct{})
	in.Doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !containsAny(strings.ToLower(href), r.patterns) {
			return
		}
		title := anchorTitle(a)
		if utf8.RuneCountInString(title) <= r.minTitleRunes {
			return
		}
		link, ok := resolveLink(in.Base, href)
		if !ok {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}

		var cells []Cell
		for _, s := range strippedStrings(a.Parent()) {
			if s != title {
				cells = append(cells, Cell{Text: s})
			}
		}
		class := r.classifier.Classify(cells)
		stubs = append(stubs, crawler.ReportStub{
			Title:       title,
			Link:        link,
			Industry:    class.Industry,
			Rating:      class.Rating,
			Org:         class.Org,
			PublishDate: class.Date,
		})
	})
	return stubs
}

// rowCells flattens a row into classifier cells. Table cells are kept whole,
// except the skip column; other rows contribute each text fragment plus any
// icon labels.
func rowCells(row *goquery.Selection, title string, skip int) []Cell {
	var cells []Cell
	tds := row.ChildrenFiltered("td")
	if tds.Length() > 0 {
		tds.Each(func(i int, td *goquery.Selection) {
			if i == skip {
				return
			}
			cell := tdCell(td)
			if strings.Contains(cell.Text, title) {
				return
			}
			cells = append(cells, cell)
		})
		return cells
	}
	for _, s := range strippedStrings(row) {
		if s != title {
			cells = append(cells, Cell{Text: s})
		}
	}
	for _, label := range iconLabels(row) {
		if label != title {
			cells = append(cells, Cell{Label: label})
		}
	}
	return cells
}

func tdCell(td *goquery.Selection) Cell {
	cell := Cell{Text: normalizeSpace(strings.Join(strippedStrings(td), " "))}
	if labels := iconLabels(td); len(labels) > 0 {
		cell.Label = labels[0]
	}
	return cell
}

func iconLabels(sel *goquery.Selection) []string {
	var labels []string
	sel.Find("[title], img[alt]").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "a" {
			return
		}
		label, ok := s.Attr("title")
		if !ok || strings.TrimSpace(label) == "" {
			label, _ = s.Attr("alt")
		}
		if label = normalizeSpace(label); label != "" {
			labels = append(labels, label)
		}
	})
	return labels
}

// industryColumn looks for a 行业 header in the row's table and returns its
// column index.
func industryColumn(row *goquery.Selection) (int, bool) {
	if goquery.NodeName(row) != "tr" {
		return 0, false
	}
	table := row.Closest("table")
	if table.Length() == 0 {
		return 0, false
	}
	col := -1
	table.Find("tr").EachWithBreak(func(_ int, tr *goquery.Selection) bool {
		ths := tr.ChildrenFiltered("th")
		if ths.Length() == 0 {
			return true
		}
		ths.EachWithBreak(func(i int, th *goquery.Selection) bool {
			if strings.Contains(th.Text(), "行业") {
				col = i
				return false
			}
			return true
		})
		return false
	})
	return col, col >= 0
}

func anchorTitle(a *goquery.Selection) string {
	title := normalizeSpace(a.Text())
	if title == "" {
		title, _ = a.Attr("title")
		title = normalizeSpace(title)
	}
	return title
}

// strippedStrings returns the trimmed, non-empty text nodes under sel,
// skipping script and style bodies.
func strippedStrings(sel *goquery.Selection) []string {
	var out []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if t := normalizeSpace(n.Data); t != "" {
				out = append(out, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return out
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if !ref.IsAbs() && base != nil {
		ref = base.ResolveReference(ref)
	}
	if (ref.Scheme != "http" && ref.Scheme != "https") || ref.Host == "" {
		return "", false
	}
	ref.Fragment = ""
	return ref.String(), true
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
