// Package scorer implements the Importance Scorer: one LLM call per
// NewsItem asking for a 0-100 market-importance rating, with regex
// fallback parsing when the model's response is not valid JSON.
package scorer

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/weichuangxin420/newsflow/server/internal/llm"
)

const maxFactors = 5

const promptTemplate = `你是一名专业的财经分析师。请评估以下新闻对金融市场的重要性，并给出0到100之间的整数评分。

标题：%s
内容：%s
来源：%s

请以严格的JSON格式返回，包含以下字段：
{"importance_score": 整数评分, "reasoning": "评分理由", "key_factors": ["关键因素1", "关键因素2"]}`

// Result is the Importance Scorer's output contract.
type Result struct {
	Score     int
	Reasoning string
	Factors   []string
}

type llmResponse struct {
	ImportanceScore int      `json:"importance_score"`
	Reasoning       string   `json:"reasoning"`
	KeyFactors      []string `json:"key_factors"`
}

var (
	braceExtract  = regexp.MustCompile(`\{[\s\S]*\}`)
	scoreDegree   = regexp.MustCompile(`(\d{1,3})\s*分`)
	scoreColon    = regexp.MustCompile(`评分[:：]\s*(\d{1,3})`)
)

// Scorer rates one NewsItem's market importance via an LLM Client.
type Scorer struct {
	client *llm.Client
	opts   llm.ChatOptions
	log    *zap.SugaredLogger
}

func New(client *llm.Client, opts llm.ChatOptions, log *zap.SugaredLogger) *Scorer {
	return &Scorer{client: client, opts: opts, log: log}
}

// Score asks the LLM Client to rate title/content/source and parses
// the response. No retry beyond what the LLM Client itself provides;
// parse failure yields score 50 with reasoning "parse failure" rather
// than propagating an error.
func (s *Scorer) Score(ctx context.Context, title, content, source string) Result {
	prompt := fmt.Sprintf(promptTemplate, title, content, source)
	text, err := s.client.Chat(ctx, prompt, s.opts)
	if err != nil {
		s.log.Warnw("importance scoring llm call failed", "error", err)
		return Result{Score: 50, Reasoning: "parse failure"}
	}
	return parse(text)
}

func parse(text string) Result {
	if candidate := braceExtract.FindString(text); candidate != "" {
		var resp llmResponse
		if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(candidate, &resp); err == nil {
			factors := resp.KeyFactors
			if len(factors) > maxFactors {
				factors = factors[:maxFactors]
			}
			return Result{
				Score:     clamp(resp.ImportanceScore),
				Reasoning: resp.Reasoning,
				Factors:   factors,
			}
		}
	}

	if score, ok := regexScore(text); ok {
		return Result{Score: clamp(score), Reasoning: "extracted from non-JSON response"}
	}

	return Result{Score: 50, Reasoning: "parse failure"}
}

func regexScore(text string) (int, bool) {
	for _, re := range []*regexp.Regexp{scoreColon, scoreDegree} {
		if m := re.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(strings.TrimSpace(m[1])); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
