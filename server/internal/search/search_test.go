package search

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateShortStringUnchanged(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
}

func TestTruncateLongStringAddsEllipsis(t *testing.T) {
	got := truncate("一二三四五六七八九十", 5)
	assert.Equal(t, "一二三四五...", got)
}

func TestCountMatches(t *testing.T) {
	text := "据官方数据显示，央行今日宣布新政策"
	count := countMatches(text, []string{"官方", "央行", "证监会"})
	assert.Equal(t, 2, count)
}

func TestCountMatchesNoHits(t *testing.T) {
	count := countMatches("普通文本内容", []string{"官方", "央行"})
	assert.Equal(t, 0, count)
}

func TestExtractTextPrefersContentSelectors(t *testing.T) {
	html := `<html><body><nav>菜单栏无关内容</nav><div class="content"><p>第一段正文</p><p>第二段正文</p></div></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	got := extractText(doc)
	assert.Contains(t, got, "第一段正文")
	assert.Contains(t, got, "第二段正文")
}

func TestExtractTextFallsBackToFullBodyWhenNoSelectorsMatch(t *testing.T) {
	html := `<html><body><span>裸露的文本没有选择器</span></body></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	got := extractText(doc)
	assert.Contains(t, got, "裸露的文本没有选择器")
}
