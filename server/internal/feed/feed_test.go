package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Sample Feed</title>
  <item>
    <title>央行宣布降准</title>
    <link>https://example.com/a</link>
    <description><![CDATA[<p onclick="alert(1)">正文内容<script>bad()</script></p>]]></description>
    <category>货币政策</category>
    <pubDate>Thu, 30 Jul 2026 09:00:00 +0800</pubDate>
  </item>
  <item>
    <title>某公司发布财报</title>
    <link>https://example.com/b</link>
    <description>财报摘要</description>
    <pubDate>Thu, 30 Jul 2026 10:00:00 +0800</pubDate>
  </item>
</channel>
</rss>`

func TestFetchParsesAndNormalizesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	ig := New(zap.NewNop().Sugar())
	items := ig.Fetch(context.Background(), srv.URL, 10)

	require.Len(t, items, 2)
	assert.Equal(t, "央行宣布降准", items[0].Title)
	assert.Equal(t, "https://example.com/a", items[0].URL)
	assert.Equal(t, defaultSource, items[0].Source)
	assert.Equal(t, defaultCategory, items[0].Category)
	assert.Contains(t, items[0].Content, "正文内容")
	assert.NotContains(t, items[0].Content, "<script>")
	assert.NotContains(t, items[0].Content, "onclick")
	assert.Equal(t, []string{"货币政策"}, items[0].Keywords)
}

func TestFetchRespectsMaxItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	ig := New(zap.NewNop().Sugar())
	items := ig.Fetch(context.Background(), srv.URL, 1)
	assert.Len(t, items, 1)
}

func TestFetchReturnsNilOnTransportError(t *testing.T) {
	ig := New(zap.NewNop().Sugar())
	items := ig.Fetch(context.Background(), "http://127.0.0.1:0/does-not-exist", 10)
	assert.Nil(t, items)
}

func TestNormalizeFallsBackToContentWhenDescriptionEmpty(t *testing.T) {
	ig := New(zap.NewNop().Sugar())
	entry := &gofeed.Item{
		Title:   "标题",
		Link:    "https://example.com/c",
		Content: "<b>正文</b>",
	}
	got := ig.normalize(entry)
	assert.Contains(t, got.Content, "正文")
	assert.NotContains(t, got.Content, "<b>")
}

func TestNormalizeUsesUpdatedParsedWhenPublishedMissing(t *testing.T) {
	ig := New(zap.NewNop().Sugar())
	updated := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	entry := &gofeed.Item{
		Title:        "标题",
		Description:  "内容",
		UpdatedParsed: &updated,
	}
	got := ig.normalize(entry)
	assert.Equal(t, updated, got.PublishTime)
}
