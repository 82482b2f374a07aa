// Package search implements the Search Adapter: query string in,
// opaque evidence text out. It treats the configured search backend
// as an HTML-returning endpoint and extracts a short textual summary
// rather than parsing a result list.
package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	minContentLength = 10000
	defaultTimeout   = 30 * time.Second
)

// Adapter queries an external web-search endpoint and extracts
// evidence text from the resulting HTML page.
type Adapter struct {
	endpoint string
	client   *http.Client
	log      *zap.SugaredLogger
}

func New(endpoint string, log *zap.SugaredLogger) *Adapter {
	return &Adapter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultTimeout},
		log:      log,
	}
}

// Search queries the backend and returns a textual evidence summary
// plus an ok flag. max_results is clamped to [2,4]. ok is true iff the
// extracted content is at least minContentLength characters and no
// transport error occurred; the caller treats the returned text as
// opaque and never parses it further.
func (a *Adapter) Search(ctx context.Context, query string, maxResults int) (string, bool) {
	if maxResults < 2 {
		maxResults = 2
	}
	if maxResults > 4 {
		maxResults = 4
	}

	start := time.Now()
	reqURL := fmt.Sprintf("%s?q=%s&n=%d", a.endpoint, url.QueryEscape(query), maxResults)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		a.log.Warnw("search request construction failed", "query", query, "error", err)
		return fmt.Sprintf("搜索关键词'%s'未获取到有效结果", query), false
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; NewsflowBot/1.0)")

	resp, err := a.client.Do(req)
	if err != nil {
		a.log.Warnw("search transport error", "query", query, "error", err)
		return fmt.Sprintf("搜索过程中出现错误: %s", err), false
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return fmt.Sprintf("搜索关键词'%s'未获取到有效结果", query), false
	}

	content := extractText(doc)
	contentLen := len([]rune(content))
	elapsed := time.Since(start)

	authorityKeywords := countMatches(content, authorityKeywordList)
	freshnessKeywords := countMatches(content, freshnessKeywordList)

	summary := fmt.Sprintf(
		"查询: %s | 内容长度: %d字 | 响应时间: %s | 权威指标: %d | 时效指标: %d\n%s",
		query, contentLen, elapsed.Round(time.Millisecond), authorityKeywords, freshnessKeywords, truncate(content, 2000),
	)

	ok := contentLen >= minContentLength
	return summary, ok
}

func extractText(doc *goquery.Document) string {
	var b strings.Builder
	doc.Find("p, article, .content, #content").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	})
	if b.Len() == 0 {
		return strings.TrimSpace(doc.Text())
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func countMatches(text string, keywords []string) int {
	count := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			count++
		}
	}
	return count
}

// authorityKeywordList and freshnessKeywordList drive the derived
// indicators carried in the search summary; the deep analyzer's
// evidence scorer uses its own copies tuned for scoring caps.
var authorityKeywordList = []string{
	"官方", "证监会", "央行", "财政部", "新华社", "人民日报", "彭博", "路透",
}

var freshnessKeywordList = []string{
	"今日", "今天", "最新", "刚刚", "小时前", "分钟前",
}
