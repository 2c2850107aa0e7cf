package detail

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
	"github.com/JakeFAU/research-report-crawler/internal/metrics"
)

const reportURL = "https://data.eastmoney.com/report/zw_industry.jshtml?infocode=A1"

func page(body string) crawler.RawPage {
	return crawler.RawPage{SourceURL: reportURL, Content: body, Strategy: crawler.StrategyHTTP}
}

func longParagraph(seed string) string {
	return strings.Repeat(seed, 30)
}

func TestExtractPrimary(t *testing.T) {
	t.Parallel()

	body := `<html><body><div class="ctx-content"><p>` + longParagraph("行业景气度持续回升。") + `</p><p>第二段。</p></div></body></html>`
	text, rule := New(Config{}, zap.NewNop()).Extract(page(body))
	require.Equal(t, RulePrimary, rule)
	require.True(t, strings.HasSuffix(text, "\n第二段。"))
}

func TestExtractFallsThroughEmptyPrimaryToSecondary(t *testing.T) {
	t.Parallel()

	body := `<html><body>
<div class="ctx-content"><p>加载中</p></div>
<div class="report-content"><script>var x = 1;</script>` + longParagraph("公司营收同比增长。") + `</div>
</body></html>`
	text, rule := New(Config{}, zap.NewNop()).Extract(page(body))
	require.Equal(t, RuleSecondary, rule)
	require.NotContains(t, text, "var x")
	require.Contains(t, text, "公司营收同比增长。")
}

func TestExtractContentScan(t *testing.T) {
	t.Parallel()

	body := `<html><body><section id="main-article"><nav>首页 研报 行业</nav><p>` + longParagraph("需求端边际改善。") + `</p></section></body></html>`
	text, rule := New(Config{}, zap.NewNop()).Extract(page(body))
	require.Equal(t, RuleContentScan, rule)
	require.NotContains(t, text, "首页")
}

func TestExtractReadability(t *testing.T) {
	t.Parallel()

	para := "Margins expanded again this quarter, driven by pricing, mix, and lower freight costs, while volumes held steady across the core regions. "
	var b strings.Builder
	b.WriteString(`<html><head><title>Quarterly review</title></head><body><div class="post">`)
	for i := 0; i < 6; i++ {
		b.WriteString("<p>" + para + para + "</p>")
	}
	b.WriteString(`</div></body></html>`)

	text, rule := New(Config{}, zap.NewNop()).Extract(page(b.String()))
	require.Equal(t, RuleReadability, rule)
	require.Contains(t, text, "Margins expanded")
}

func TestExtractFullBodyDropsChrome(t *testing.T) {
	t.Parallel()

	body := `<html><head><style>.a{color:red}</style></head><body>
<nav>导航 菜单</nav><div class="sidebar">热门推荐</div>
<script>window.track()</script>
<div class="wrap"><p>短评：维持推荐。</p><p>风险提示：需求不及预期。</p></div>
<footer>版权所有</footer>
</body></html>`
	text, rule := New(Config{}, zap.NewNop()).Extract(page(body))
	require.Equal(t, RuleFullBody, rule)
	require.Contains(t, text, "短评：维持推荐。")
	require.Contains(t, text, "风险提示：需求不及预期。")
	for _, noise := range []string{"导航", "热门推荐", "window.track", "版权所有", "color:red"} {
		require.NotContains(t, text, noise)
	}
}

func TestExtractFullBodyJoinsManyParagraphs(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body><div class=\"wrap\">")
	for i := 0; i < 6; i++ {
		b.WriteString("<p>段落</p>")
	}
	b.WriteString("</div></body></html>")

	text, rule := New(Config{}, zap.NewNop()).Extract(page(b.String()))
	require.Equal(t, RuleFullBody, rule)
	require.Equal(t, strings.TrimSuffix(strings.Repeat("段落\n", 6), "\n"), text)
}

func TestParseIsIdempotent(t *testing.T) {
	t.Parallel()

	p := New(Config{}, zap.NewNop())
	pg := page(`<html><body><div class="newsContent">` + longParagraph("估值处于历史低位。") + `</div></body></html>`)
	first := p.Parse(pg)
	require.NotEmpty(t, first)
	require.Equal(t, first, p.Parse(pg))
	require.True(t, p.Accepts(pg))
}

func TestParseBlankPage(t *testing.T) {
	t.Parallel()

	p := New(Config{}, zap.NewNop())
	require.Empty(t, p.Parse(crawler.RawPage{}))
	require.Empty(t, p.Parse(page(`<html><body><script>1</script></body></html>`)))
	require.False(t, p.Accepts(crawler.RawPage{Content: "   "}))
}

func TestAcceptsRequiresTargetedRule(t *testing.T) {
	t.Parallel()

	p := New(Config{}, zap.NewNop())
	shell := page(`<html><body><div class="topbar">东方财富网 数据中心 研报中心</div><div id="app">正在加载，请稍候...</div><script src="/static/app.js"></script></body></html>`)

	m := p.Match(shell)
	require.Equal(t, RuleFullBody, m.Rule)
	require.False(t, m.Strong())
	require.False(t, p.Accepts(shell))
	require.True(t, p.Usable(shell))

	report := page(`<html><body><div class="ctx-content"><p>` + longParagraph("行业景气度持续回升。") + `</p></div></body></html>`)
	require.True(t, p.Accepts(report))
	require.True(t, p.Usable(report))

	require.False(t, p.Usable(crawler.RawPage{}))
}

func TestFullBodySeparatesAdjacentBlocks(t *testing.T) {
	t.Parallel()

	text, rule := New(Config{}, zap.NewNop()).Extract(page(`<html><body><div>研报中心</div><div>正在加载</div></body></html>`))
	require.Equal(t, RuleFullBody, rule)
	require.Equal(t, "研报中心 正在加载", text)
}

func ruleHits(t *testing.T, rule string) float64 {
	t.Helper()
	metrics.Init()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "reportcrawler_parse_rule_hits_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["parser"] == "detail" && labels["rule"] == rule {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

// Not parallel: reads a process-wide counter.
func TestOnlyExtractCountsRuleHits(t *testing.T) {
	p := New(Config{}, zap.NewNop())
	pg := page(`<html><body><div class="newsContent">` + longParagraph("估值处于历史低位。") + `</div></body></html>`)

	before := ruleHits(t, RuleSecondary)
	require.Equal(t, RuleSecondary, p.Match(pg).Rule)
	require.True(t, p.Accepts(pg))
	require.True(t, p.Usable(pg))
	require.Equal(t, before, ruleHits(t, RuleSecondary))

	_, rule := p.Extract(pg)
	require.Equal(t, RuleSecondary, rule)
	require.Equal(t, before+1, ruleHits(t, RuleSecondary))
}
