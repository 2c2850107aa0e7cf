package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/research-report-crawler/internal/crawler"
)

func TestHeuristic_LooksEmpty_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	require.True(t, h.LooksEmpty(crawler.RawPage{Content: "  \n"}))
}

func TestHeuristic_LooksEmpty_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	page := crawler.RawPage{Content: `<html><body><div id="app"></div><footer>版权所有 东方财富网 沪ICP证 数据来源于公开资料 仅供参考 不构成投资建议</footer></body></html>`}
	require.True(t, h.LooksEmpty(page))
}

func TestHeuristic_LooksEmpty_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	page := crawler.RawPage{Content: `<html><script>var a=1;</script><p>t</p></html>`}
	require.True(t, h.LooksEmpty(page))
}

func TestHeuristic_ClassifyContentfulPageAsUnparseable(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	text := strings.Repeat("这是一段没有任何研报链接的普通页面文字。", 10)
	page := crawler.RawPage{Content: "<html><body><p>" + text + "</p></body></html>", Strategy: crawler.StrategyHTTP}
	require.False(t, h.LooksEmpty(page))
	require.ErrorIs(t, h.Classify(page), crawler.ErrUnparseable)
}

func TestHeuristic_APIPayloadIsNeverAShell(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	page := crawler.RawPage{Content: `{"data":[]}`, Strategy: crawler.StrategyAPI}
	require.ErrorIs(t, h.Classify(page), crawler.ErrUnparseable)
}

func TestScriptDensityHigh(t *testing.T) {
	t.Parallel()

	require.False(t, scriptDensityHigh(nil))
	require.False(t, scriptDensityHigh([]byte("<p>plain text only</p>")))
	require.True(t, scriptDensityHigh([]byte("<script src=x>")))
}
