package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/weichuangxin420/newsflow/server/internal/models"
)

func item(id string, importance int) *models.NewsItem {
	return &models.NewsItem{
		ID:              id,
		Title:           "title-" + id,
		Source:          "source",
		Content:         "内容",
		ImportanceScore: importance,
		PublishTime:     time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC),
	}
}

func TestBuildReportClassifiesSentimentBuckets(t *testing.T) {
	pairs := []ReportItem{
		{Item: item("a", 90), Analysis: &models.AnalysisResult{ImpactScore: 8}},
		{Item: item("b", 60), Analysis: &models.AnalysisResult{ImpactScore: -8}},
		{Item: item("c", 30), Analysis: &models.AnalysisResult{ImpactScore: 1}},
	}
	data := BuildReport(pairs, false)

	assert.Equal(t, 1, data.Positive)
	assert.Equal(t, 1, data.Negative)
	assert.Equal(t, 1, data.Neutral)
}

func TestBuildReportClassifiesImportanceBuckets(t *testing.T) {
	pairs := []ReportItem{
		{Item: item("a", 85)},
		{Item: item("b", 60)},
		{Item: item("c", 10)},
	}
	data := BuildReport(pairs, false)

	assert.Equal(t, 1, data.HighCount)
	assert.Equal(t, 1, data.MediumCount)
	assert.Equal(t, 1, data.LowCount)
}

func TestBuildReportNilAnalysisTreatedAsNeutralZero(t *testing.T) {
	pairs := []ReportItem{{Item: item("a", 50), Analysis: nil}}
	data := BuildReport(pairs, false)

	assert.Equal(t, 1, data.Neutral)
	assert.Equal(t, 0.0, data.AllNews[0].ImpactScore)
	assert.Equal(t, "中性", data.AllNews[0].ImpactBadge)
}

func TestBuildReportHighImpactCappedAtFiveSortedByMagnitude(t *testing.T) {
	pairs := make([]ReportItem, 0, 8)
	for i := 0; i < 8; i++ {
		pairs = append(pairs, ReportItem{
			Item:     item(string(rune('a'+i)), 50),
			Analysis: &models.AnalysisResult{ImpactScore: float64(11 + i)},
		})
	}
	data := BuildReport(pairs, false)

	assert.Len(t, data.HighImpact, 5)
	assert.Equal(t, float64(18), data.HighImpact[0].ImpactScore)
	assert.Equal(t, float64(14), data.HighImpact[4].ImpactScore)
}

func TestBuildReportExcludesLowMagnitudeFromHighImpact(t *testing.T) {
	pairs := []ReportItem{
		{Item: item("a", 50), Analysis: &models.AnalysisResult{ImpactScore: 9}},
		{Item: item("b", 50), Analysis: &models.AnalysisResult{ImpactScore: -9}},
	}
	data := BuildReport(pairs, false)
	assert.Empty(t, data.HighImpact)
}

func TestExcerptTruncatesWithEllipsis(t *testing.T) {
	content := "一二三四五六七八九十"
	got := excerpt(content, 5)
	assert.Equal(t, "一二三四五...", got)
}

func TestExcerptLeavesShortContentUnchanged(t *testing.T) {
	assert.Equal(t, "短文本", excerpt("短文本", 200))
}

func TestImpactBadge(t *testing.T) {
	assert.Equal(t, "利好", impactBadge(6))
	assert.Equal(t, "利空", impactBadge(-6))
	assert.Equal(t, "中性", impactBadge(0))
}

func TestImportanceBadge(t *testing.T) {
	assert.Equal(t, "高度重要", importanceBadge(80))
	assert.Equal(t, "中度重要", importanceBadge(60))
	assert.Equal(t, "一般", importanceBadge(10))
}
