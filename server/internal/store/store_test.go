package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weichuangxin420/newsflow/server/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "news.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAssignsIDAndRoundtrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item := &models.NewsItem{
		Title:           "央行发布新政策",
		URL:             "https://example.com/a",
		Source:          "央行官网",
		Content:         "正文内容",
		PublishTime:     time.Now(),
		ImportanceScore: 80,
		Keywords:        []string{"央行", "政策"},
	}
	n, err := s.Save(ctx, item)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NotEmpty(t, item.ID)

	got, err := s.ByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Title, got.Title)
	assert.Equal(t, []string{"央行", "政策"}, got.Keywords)
}

func TestByIDNotFoundReturnsSentinel(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ByID(context.Background(), "missing-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveBatchDedupsByTitleAndURL(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	item1 := &models.NewsItem{Title: "重复标题", URL: "https://example.com/dup", PublishTime: time.Now()}
	_, err := s.Save(ctx, item1)
	require.NoError(t, err)

	item2 := &models.NewsItem{Title: "重复标题", URL: "https://example.com/dup", Content: "更新后的内容", PublishTime: time.Now()}
	_, err = s.Save(ctx, item2)
	require.NoError(t, err)

	assert.Equal(t, item1.ID, item2.ID)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestExists(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, &models.NewsItem{Title: "独家新闻", URL: "https://example.com/x", PublishTime: time.Now()})
	require.NoError(t, err)

	ok, err := s.Exists(ctx, "独家新闻", "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "不存在的标题", "https://example.com/nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestByDateRangeOrdersByImportanceThenTime(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	items := []*models.NewsItem{
		{Title: "低重要性", URL: "u1", PublishTime: base, ImportanceScore: 30},
		{Title: "高重要性", URL: "u2", PublishTime: base, ImportanceScore: 90},
		{Title: "中等重要性", URL: "u3", PublishTime: base, ImportanceScore: 60},
	}
	_, err := s.SaveBatch(ctx, items)
	require.NoError(t, err)

	got, err := s.ByDateRange(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "高重要性", got[0].Title)
	assert.Equal(t, "中等重要性", got[1].Title)
	assert.Equal(t, "低重要性", got[2].Title)
}

func TestSaveAnalysisAndDeleteOlderThanCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := &models.NewsItem{Title: "旧新闻", URL: "u-old", PublishTime: time.Now().AddDate(0, 0, -10)}
	_, err := s.Save(ctx, old)
	require.NoError(t, err)

	require.NoError(t, s.SaveAnalysis(ctx, &models.AnalysisResult{NewsID: old.ID, ImpactScore: 5, Summary: "摘要"}))

	recent := &models.NewsItem{Title: "新新闻", URL: "u-new", PublishTime: time.Now()}
	_, err = s.Save(ctx, recent)
	require.NoError(t, err)

	deleted, err := s.DeleteOlderThan(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.ByID(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.ByID(ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, "新新闻", got.Title)
}

func TestStatsBreakdownBySourceAndCategory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	items := []*models.NewsItem{
		{Title: "a", URL: "ua", Source: "新浪财经", Category: "宏观", PublishTime: time.Now()},
		{Title: "b", URL: "ub", Source: "新浪财经", Category: "公司", PublishTime: time.Now()},
		{Title: "c", URL: "uc", Source: "东方财富", Category: "宏观", PublishTime: time.Now()},
	}
	_, err := s.SaveBatch(ctx, items)
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.BySource["新浪财经"])
	assert.Equal(t, 1, stats.BySource["东方财富"])
	assert.Equal(t, 2, stats.ByCategory["宏观"])
}

func TestQueryFiltersBySourceAndRange(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)

	items := []*models.NewsItem{
		{Title: "a", URL: "ua", Source: "source-a", PublishTime: base},
		{Title: "b", URL: "ub", Source: "source-b", PublishTime: base},
	}
	_, err := s.SaveBatch(ctx, items)
	require.NoError(t, err)

	got, err := s.Query(ctx, 10, 0, QueryFilter{Source: "source-a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Title)
}
