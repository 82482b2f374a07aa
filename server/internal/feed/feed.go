// Package feed fetches and normalizes one RSS/Atom source into
// NewsItems. It never deduplicates and never talks to the store; the
// orchestrator owns both.
package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/weichuangxin420/newsflow/server/internal/models"
)

const (
	defaultSource   = "ChinaNews"
	defaultCategory = "finance"
	userAgent       = "Mozilla/5.0 (compatible; NewsflowBot/1.0; +https://example.invalid/bot)"
	fetchTimeout    = 30 * time.Second
)

// Ingestor fetches one feed URL at a time.
type Ingestor struct {
	parser   *gofeed.Parser
	sanitize *bluemonday.Policy
	log      *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Ingestor {
	client := &http.Client{Timeout: fetchTimeout}
	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent

	return &Ingestor{
		parser:   parser,
		sanitize: bluemonday.StrictPolicy(),
		log:      log,
	}
}

// Fetch retrieves url, parses up to maxItems entries, and returns
// normalized NewsItems. Network and parse errors are logged and
// produce an empty slice; they never propagate to the caller, per the
// ingestor's failure contract.
func (ig *Ingestor) Fetch(ctx context.Context, url string, maxItems int) []*models.NewsItem {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	feed, err := ig.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		ig.log.Warnw("feed fetch failed", "url", url, "error", err)
		return nil
	}

	if maxItems <= 0 || maxItems > len(feed.Items) {
		maxItems = len(feed.Items)
	}

	items := make([]*models.NewsItem, 0, maxItems)
	for _, entry := range feed.Items[:maxItems] {
		items = append(items, ig.normalize(entry))
	}
	return items
}

func (ig *Ingestor) normalize(entry *gofeed.Item) *models.NewsItem {
	summary := entry.Description
	if summary == "" {
		summary = entry.Content
	}
	content := ig.sanitize.Sanitize(summary)

	var keywords []string
	for _, cat := range entry.Categories {
		keywords = append(keywords, cat)
	}

	publishTime := time.Now()
	switch {
	case entry.PublishedParsed != nil:
		publishTime = *entry.PublishedParsed
	case entry.UpdatedParsed != nil:
		publishTime = *entry.UpdatedParsed
	}

	return &models.NewsItem{
		Title:       entry.Title,
		Content:     content,
		Source:      defaultSource,
		Category:    defaultCategory,
		URL:         entry.Link,
		PublishTime: publishTime,
		Keywords:    keywords,
	}
}
