package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseValidJSON(t *testing.T) {
	text := `分析如下：{"importance_score": 85, "reasoning": "重大政策", "key_factors": ["政策", "行业", "市场", "情绪", "资金", "溢出"]}`
	got := parse(text)
	assert.Equal(t, 85, got.Score)
	assert.Equal(t, "重大政策", got.Reasoning)
	assert.Len(t, got.Factors, maxFactors)
}

func TestParseClampsOutOfRangeScore(t *testing.T) {
	text := `{"importance_score": 150, "reasoning": "x", "key_factors": []}`
	got := parse(text)
	assert.Equal(t, 100, got.Score)

	text = `{"importance_score": -10, "reasoning": "x", "key_factors": []}`
	got = parse(text)
	assert.Equal(t, 0, got.Score)
}

func TestParseFallsBackToRegexOnNonJSON(t *testing.T) {
	got := parse("这条新闻我认为评分：72分，比较重要")
	assert.Equal(t, 72, got.Score)
	assert.Equal(t, "extracted from non-JSON response", got.Reasoning)
}

func TestParseFallsBackToDegreeRegex(t *testing.T) {
	got := parse("综合来看应该给65分左右")
	assert.Equal(t, 65, got.Score)
}

func TestParseSentinelOnTotalFailure(t *testing.T) {
	got := parse("抱歉，我无法完成这个请求。")
	assert.Equal(t, 50, got.Score)
	assert.Equal(t, "parse failure", got.Reasoning)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, clamp(-5))
	assert.Equal(t, 100, clamp(200))
	assert.Equal(t, 50, clamp(50))
}
