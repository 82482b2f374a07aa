// Package impact implements the Impact Analyzer: a single-item LLM
// rating plus a bounded-concurrency, rate-limited batch form used
// when the orchestrator has three or more items to analyze in one
// cycle.
package impact

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/weichuangxin420/newsflow/server/internal/llm"
	"github.com/weichuangxin420/newsflow/server/internal/models"
)

const errorSummary = "分析过程中出现错误"

// BatchThreshold is the input size at which the orchestrator should
// prefer AnalyzeBatch over repeated single Analyze calls.
const BatchThreshold = 3

const promptTemplate = `作为财经分析师，请评估以下新闻对相关市场/行业的影响程度，并给出-100到100之间的数值评分（正数表示利好，负数表示利空）。

标题：%s
内容：%s

请以严格的JSON格式返回：
{"impact_score": 数值评分, "summary": "不超过100字的摘要", "impact_degree": "high/medium/low之一或留空"}`

type llmResponse struct {
	ImpactScore  float64 `json:"impact_score"`
	Summary      string  `json:"summary"`
	ImpactDegree string  `json:"impact_degree"`
}

// Options configures the batch worker pool.
type Options struct {
	MaxConcurrent      int
	RateLimitPerMinute int
	BatchSize          int
	InterBatchPause    time.Duration
	Timeout            time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 10
	}
	if o.RateLimitPerMinute <= 0 {
		o.RateLimitPerMinute = 100
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 20
	}
	if o.InterBatchPause <= 0 {
		o.InterBatchPause = 500 * time.Millisecond
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	return o
}

// Analyzer rates one NewsItem's market impact via an LLM Client.
type Analyzer struct {
	client  *llm.Client
	opts    llm.ChatOptions
	batch   Options
	limiter *rate.Limiter
	log     *zap.SugaredLogger
}

func New(client *llm.Client, chatOpts llm.ChatOptions, batchOpts Options, log *zap.SugaredLogger) *Analyzer {
	batchOpts = batchOpts.withDefaults()
	// A token bucket with burst 1 regenerating at rate/60s enforces the
	// "rate_limit_per_minute" sliding-window cap across all workers.
	limiter := rate.NewLimiter(rate.Limit(float64(batchOpts.RateLimitPerMinute)/60.0), 1)
	return &Analyzer{client: client, opts: chatOpts, batch: batchOpts, limiter: limiter, log: log}
}

// Analyze rates a single item; parse failure raises, per the
// single-item path's contract.
func (a *Analyzer) Analyze(ctx context.Context, item *models.NewsItem) (*models.AnalysisResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(promptTemplate, item.Title, item.Content)
	text, err := a.client.Chat(ctx, prompt, a.opts)
	if err != nil {
		return nil, fmt.Errorf("impact: llm call failed for %s: %w", item.ID, err)
	}

	var resp llmResponse
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(text, &resp); err != nil {
		return nil, fmt.Errorf("impact: parsing response for %s: %w", item.ID, err)
	}

	return &models.AnalysisResult{
		NewsID:       item.ID,
		ImpactScore:  clamp(resp.ImpactScore),
		Summary:      resp.Summary,
		ImpactDegree: resp.ImpactDegree,
		AnalysisTime: time.Now(),
	}, nil
}

// AnalyzeBatch runs a bounded-concurrency worker pool over items,
// split into sub-batches of batch.BatchSize with a short pause between
// sub-batches to smooth bursts. Output order matches input order
// regardless of completion order; a per-item failure yields a
// placeholder sentinel result rather than aborting the batch.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, items []*models.NewsItem) []*models.AnalysisResult {
	results := make([]*models.AnalysisResult, len(items))

	for start := 0; start < len(items); start += a.batch.BatchSize {
		end := start + a.batch.BatchSize
		if end > len(items) {
			end = len(items)
		}
		a.runSubBatch(ctx, items[start:end], results[start:end])

		if end < len(items) {
			select {
			case <-time.After(a.batch.InterBatchPause):
			case <-ctx.Done():
				return results
			}
		}
	}
	return results
}

func (a *Analyzer) runSubBatch(ctx context.Context, items []*models.NewsItem, out []*models.AnalysisResult) {
	sem := make(chan struct{}, a.batch.MaxConcurrent)
	done := make(chan struct{})
	remaining := len(items)
	if remaining == 0 {
		return
	}

	for i, item := range items {
		sem <- struct{}{}
		go func(i int, item *models.NewsItem) {
			defer func() {
				<-sem
				done <- struct{}{}
			}()

			callCtx, cancel := context.WithTimeout(ctx, a.batch.Timeout)
			defer cancel()

			result, err := a.Analyze(callCtx, item)
			if err != nil {
				a.log.Warnw("impact analysis failed, using sentinel", "news_id", item.ID, "error", err)
				result = &models.AnalysisResult{
					NewsID:       item.ID,
					ImpactScore:  0,
					Summary:      errorSummary,
					AnalysisTime: time.Now(),
				}
			}
			out[i] = result
		}(i, item)
	}

	for range remaining {
		<-done
	}
}

// clamp bounds the score to [0,100] even though the prompt above asks
// for -100..100: this matches the 0-100 revision the upstream analyzer
// settled on. As a result the negative/bearish branch of email's
// impact badge never fires in practice; that's accepted rather than
// widening the clamp, since the 0-100 scale is what downstream callers
// (and the stored ImpactScore field) are documented to expect.
func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
