// Package deepanalysis implements the Deep Analyzer: an iterative,
// AI-driven research loop that plans search queries, gathers and
// scores evidence, synthesizes a report, and additively adjusts a
// NewsItem's importance score. It only runs on items that already
// cleared the importance-score gate.
package deepanalysis

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weichuangxin420/newsflow/server/internal/llm"
	"github.com/weichuangxin420/newsflow/server/internal/models"
	"github.com/weichuangxin420/newsflow/server/internal/search"
)

// Options configures one Analyzer instance from
// ai_analysis.deep_analysis.
type Options struct {
	Enabled               bool
	ScoreThreshold        int
	MaxConcurrent         int
	MaxSearchKeywords      int
	ReportMaxLength       int
	EnableScoreAdjustment bool
	MaxSearchRounds       int
	SearchRetryCount      int
	EvidenceThreshold     int
	MaxEvidenceKept       int
	MaxResultsPerQuery    int
}

func (o Options) withDefaults() Options {
	if o.ScoreThreshold <= 0 {
		o.ScoreThreshold = 70
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 3
	}
	if o.MaxSearchKeywords <= 0 {
		o.MaxSearchKeywords = 5
	}
	if o.ReportMaxLength <= 0 {
		o.ReportMaxLength = 200
	}
	if o.MaxSearchRounds <= 0 {
		o.MaxSearchRounds = 3
	}
	if o.SearchRetryCount <= 0 {
		o.SearchRetryCount = 2
	}
	if o.EvidenceThreshold <= 0 {
		o.EvidenceThreshold = 2
	}
	if o.MaxEvidenceKept <= 0 {
		o.MaxEvidenceKept = 5
	}
	if o.MaxResultsPerQuery <= 0 {
		o.MaxResultsPerQuery = 3
	}
	return o
}

// Analyzer runs the deep-analysis research loop.
type Analyzer struct {
	client *llm.Client
	opts   llm.ChatOptions
	search *search.Adapter
	cfg    Options
	log    *zap.SugaredLogger
}

func New(client *llm.Client, chatOpts llm.ChatOptions, searchAdapter *search.Adapter, cfg Options, log *zap.SugaredLogger) *Analyzer {
	return &Analyzer{client: client, opts: chatOpts, search: searchAdapter, cfg: cfg.withDefaults(), log: log}
}

// ShouldAnalyze reports whether item clears the importance-score gate.
func (a *Analyzer) ShouldAnalyze(item *models.NewsItem) bool {
	return a.cfg.Enabled && item.ImportanceScore >= a.cfg.ScoreThreshold
}

// evidence is one scored search result kept for synthesis.
type evidence struct {
	query   string
	text    string
	score   float64
}

// AnalyzeDeep runs the full research loop on one item. Items below the
// score threshold return immediately with the skip sentinel and an
// unchanged score.
func (a *Analyzer) AnalyzeDeep(ctx context.Context, item *models.NewsItem) *models.DeepAnalysisResult {
	if !a.ShouldAnalyze(item) {
		return &models.DeepAnalysisResult{
			NewsID:        item.ID,
			Title:         item.Title,
			OriginalScore: item.ImportanceScore,
			AdjustedScore: item.ImportanceScore,
			ModelUsed:     models.ModelUsedSkip,
			AnalysisTime:  time.Now(),
		}
	}

	keywords := a.planQueries(ctx, item)
	evidences, searchSuccess := a.gatherEvidence(ctx, keywords)
	report := a.synthesize(ctx, item, evidences, keywords)

	adjusted := item.ImportanceScore
	if a.cfg.EnableScoreAdjustment {
		adjusted = adjustScore(item.ImportanceScore, report, evidences)
	}

	return &models.DeepAnalysisResult{
		NewsID:               item.ID,
		Title:                item.Title,
		OriginalScore:        item.ImportanceScore,
		AdjustedScore:        adjusted,
		SearchKeywords:       keywords,
		SearchResultsSummary: joinEvidence(evidences),
		DeepAnalysisReport:   report,
		SearchSuccess:        searchSuccess,
		ModelUsed:            a.opts.Model,
		AnalysisTime:         time.Now(),
	}
}

// AnalyzeDeepBatch fans out AnalyzeDeep across cfg.MaxConcurrent
// workers. Per-item failures never abort the batch; they surface as
// an error-sentinel result for that item.
func (a *Analyzer) AnalyzeDeepBatch(ctx context.Context, items []*models.NewsItem) []*models.DeepAnalysisResult {
	candidates := make([]*models.NewsItem, 0, len(items))
	for _, item := range items {
		if a.ShouldAnalyze(item) {
			candidates = append(candidates, item)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	results := make([]*models.DeepAnalysisResult, len(candidates))
	sem := make(chan struct{}, a.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for i, item := range candidates {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item *models.NewsItem) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = a.safeAnalyzeDeep(ctx, item)
		}(i, item)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].OriginalScore > results[j].OriginalScore
	})
	return results
}

func (a *Analyzer) safeAnalyzeDeep(ctx context.Context, item *models.NewsItem) (result *models.DeepAnalysisResult) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Errorw("deep analysis panicked, using error sentinel", "news_id", item.ID, "recover", r)
			result = errorResult(item)
		}
	}()
	return a.AnalyzeDeep(ctx, item)
}

func errorResult(item *models.NewsItem) *models.DeepAnalysisResult {
	return &models.DeepAnalysisResult{
		NewsID:        item.ID,
		Title:         item.Title,
		OriginalScore: item.ImportanceScore,
		AdjustedScore: item.ImportanceScore,
		ModelUsed:     models.ModelUsedError,
		AnalysisTime:  time.Now(),
	}
}

// --- 1. Plan ---

const planPromptTemplate = `作为财经研究员，请为以下新闻设计1-3个互补的搜索查询，第一个应聚焦原始主题，后续应探索相关背景。

标题：%s
内容：%s

请以编号列表返回查询词，例如：
1. 查询一
2. 查询二`

var numberedListLine = regexp.MustCompile(`^\s*\d+[.、)]\s*(.+)$`)

// planQueries asks the LLM for 1-3 complementary search queries. If
// the LLM is unavailable or the response yields nothing, it falls
// back to a title/content keyword extraction chain and, failing that,
// the title itself truncated to 25 runes followed by " 相关信息".
func (a *Analyzer) planQueries(ctx context.Context, item *models.NewsItem) []string {
	if a.client != nil {
		prompt := fmt.Sprintf(planPromptTemplate, item.Title, item.Content)
		text, err := a.client.Chat(ctx, prompt, a.opts)
		if err == nil {
			if queries := parseNumberedList(text, a.cfg.MaxSearchKeywords); len(queries) > 0 {
				return queries
			}
		} else {
			a.log.Warnw("deep analysis query planning failed, falling back", "news_id", item.ID, "error", err)
		}
	}
	return extractSearchKeywords(item, a.cfg.MaxSearchKeywords)
}

func parseNumberedList(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if m := numberedListLine.FindStringSubmatch(line); m != nil {
			q := strings.TrimSpace(m[1])
			if q != "" {
				out = append(out, q)
			}
		}
		if len(out) >= max {
			break
		}
	}
	return out
}

// financialKeywordVocabulary is the fallback keyword-extraction
// vocabulary, carried over from the source's _extract_keywords_from_text.
var financialKeywordVocabulary = []string{
	"股票", "股市", "上市", "IPO", "融资", "投资", "基金", "证券",
	"银行", "保险", "地产", "科技", "医药", "能源", "汽车", "消费",
	"制造", "金融", "互联网", "人工智能", "新能源", "半导体",
	"涨停", "跌停", "涨幅", "跌幅", "成交", "市值", "业绩", "财报",
}

func extractSearchKeywords(item *models.NewsItem, maxKeywords int) []string {
	var keywords []string
	keywords = append(keywords, extractKeywordsFromText(item.Title, 3)...)
	if item.Content != "" && len(keywords) < maxKeywords {
		remaining := maxKeywords - len(keywords)
		keywords = append(keywords, extractKeywordsFromText(item.Content, remaining)...)
	}
	if len(keywords) == 0 {
		keywords = []string{truncateRunes(item.Title, 25) + " 相关信息"}
	}
	if len(keywords) > maxKeywords {
		keywords = keywords[:maxKeywords]
	}
	return keywords
}

func extractKeywordsFromText(text string, limit int) []string {
	if text == "" || limit <= 0 {
		return nil
	}
	var found []string
	seen := map[string]bool{}
	for _, kw := range financialKeywordVocabulary {
		if strings.Contains(text, kw) && !seen[kw] {
			found = append(found, kw)
			seen[kw] = true
			if len(found) >= limit {
				break
			}
		}
	}
	return found
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// --- 2. Search ---

// gatherEvidence executes queries sequentially (the early-stop
// decision depends on each query's own success), stopping once
// EvidenceThreshold successful searches have accumulated. A query that
// fails is retried (searchWithRetry) and, if still unsuccessful,
// carried into the next round rather than dropped outright: up to
// MaxSearchRounds passes are made over the still-unsatisfied keywords
// before giving up on the item's evidence gathering.
func (a *Analyzer) gatherEvidence(ctx context.Context, keywords []string) ([]evidence, bool) {
	var results []evidence
	found := make(map[string]bool, len(keywords))
	successCount := 0

	for round := 0; round < a.cfg.MaxSearchRounds && successCount < a.cfg.EvidenceThreshold; round++ {
		for _, kw := range keywords {
			if found[kw] {
				continue
			}
			text, ok := a.searchWithRetry(ctx, kw)
			if ok {
				score := scoreEvidence(text, keywords)
				results = append(results, evidence{query: kw, text: text, score: score})
				successCount++
				found[kw] = true
			}
			if successCount >= a.cfg.EvidenceThreshold {
				break
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > a.cfg.MaxEvidenceKept {
		results = results[:a.cfg.MaxEvidenceKept]
	}
	return results, successCount > 0
}

// searchWithRetry retries a single failed query up to SearchRetryCount
// additional times before the caller treats it as unsuccessful for
// this round.
func (a *Analyzer) searchWithRetry(ctx context.Context, kw string) (string, bool) {
	var text string
	var ok bool
	for attempt := 0; attempt <= a.cfg.SearchRetryCount; attempt++ {
		text, ok = a.search.Search(ctx, kw, a.cfg.MaxResultsPerQuery)
		if ok {
			return text, true
		}
	}
	return text, ok
}

// authorityScoreKeywords, infoScoreKeywords, and freshnessScoreKeywords
// drive the evidence quality sub-scores.
var (
	authorityScoreKeywords  = []string{"官方", "证监会", "央行", "财政部", "新华社", "人民日报"}
	infoScoreKeywords       = []string{"数据", "报告", "统计", "分析", "指出", "显示"}
	freshnessScoreKeywords  = []string{"今日", "今天", "最新", "刚刚", "小时前", "分钟前"}
)

// scoreEvidence computes the [0,10] quality score of one search
// result: authority (0-3), relevance (0-2) counted as hits of the first
// five search queries in the text (the item's title is not tokenized),
// info density (0-2), freshness (0-2), and length sanity (0-1).
func scoreEvidence(text string, keywords []string) float64 {
	authority := capped(countOccurrences(text, authorityScoreKeywords)*0.5, 3)
	relevance := capped(float64(countTokenHits(text, topTokens(keywords, 5)))*0.4, 2)
	info := capped(countOccurrences(text, infoScoreKeywords)*0.3, 2)
	freshness := capped(countOccurrences(text, freshnessScoreKeywords)*0.4, 2)
	length := lengthSanity(len([]rune(text)))
	return authority + relevance + info + freshness + length
}

func countOccurrences(text string, keywords []string) float64 {
	count := 0.0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			count++
		}
	}
	return count
}

func topTokens(keywords []string, n int) []string {
	if len(keywords) > n {
		return keywords[:n]
	}
	return keywords
}

func countTokenHits(text string, tokens []string) int {
	hits := 0
	for _, t := range tokens {
		if t != "" && strings.Contains(text, t) {
			hits++
		}
	}
	return hits
}

func lengthSanity(n int) float64 {
	switch {
	case n >= 100 && n <= 2000:
		return 1.0
	case (n >= 50 && n < 100) || (n > 2000 && n <= 5000):
		return 0.5
	default:
		return 0.1
	}
}

func capped(v, max float64) float64 {
	if v > max {
		return max
	}
	if v < 0 {
		return 0
	}
	return v
}

// --- 3. Synthesize ---

const synthesizePromptTemplate = `作为专业的财经分析师，请对以下新闻进行深度分析。

原始新闻：
标题：%s
内容：%s
来源：%s
重要性分数：%d分

相关背景信息（通过搜索关键词"%s"获取）：
%s

请基于原始新闻和背景信息，生成一份%d字以内的深度分析报告，重点分析：
1. 新闻的深层影响和意义
2. 对相关行业或市场的潜在影响
3. 可能的发展趋势
4. 投资者需要关注的要点

深度分析报告：`

var reportPrefixes = []string{"深度分析报告：", "分析报告：", "报告：", "分析："}

// synthesize produces the final report, trimmed to ReportMaxLength
// runes and stripped of boilerplate response prefixes. When the LLM
// client is unavailable, it falls back to a templated mock report
// rather than failing the whole cycle.
func (a *Analyzer) synthesize(ctx context.Context, item *models.NewsItem, evidences []evidence, keywords []string) string {
	if a.client == nil {
		return mockReport(item, evidences, a.cfg.ReportMaxLength)
	}

	prompt := fmt.Sprintf(synthesizePromptTemplate, item.Title, item.Content, item.Source,
		item.ImportanceScore, strings.Join(keywords, ", "), joinEvidence(evidences), a.cfg.ReportMaxLength)

	text, err := a.client.Chat(ctx, prompt, a.opts)
	if err != nil {
		a.log.Warnw("deep analysis synthesis failed, using mock report", "news_id", item.ID, "error", err)
		return mockReport(item, evidences, a.cfg.ReportMaxLength)
	}

	return cleanReport(text, a.cfg.ReportMaxLength)
}

func cleanReport(text string, maxLength int) string {
	text = strings.TrimSpace(text)
	for _, prefix := range reportPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimSpace(strings.TrimPrefix(text, prefix))
			break
		}
	}
	r := []rune(text)
	if len(r) > maxLength {
		text = string(r[:maxLength-3]) + "..."
	}
	return text
}

func mockReport(item *models.NewsItem, evidences []evidence, maxLength int) string {
	var report string
	if len(evidences) > 0 {
		report = fmt.Sprintf("基于%d条相关背景信息，该新闻涉及%s，建议持续关注后续发展。", len(evidences), item.Title)
	} else {
		report = fmt.Sprintf("未获取到充分背景信息，基于原始新闻初步判断%s具有一定市场关注度。", item.Title)
	}
	return cleanReport(report, maxLength)
}

func joinEvidence(evidences []evidence) string {
	var parts []string
	for _, e := range evidences {
		parts = append(parts, fmt.Sprintf("[%s] %s", e.query, truncateRunes(e.text, 200)))
	}
	return strings.Join(parts, "\n")
}

// --- 4. Adjust ---

// highImpactKeywords and marketKeywords drive the report-content bonus;
// carried verbatim from the source's score-adjustment keyword lists.
var highImpactKeywords = []string{"重大", "突破", "重要", "关键", "显著", "大幅", "急剧"}
var marketKeywords = []string{"一定", "可能", "预期", "有望", "影响"}

// adjustScore recomputes the importance score additively from the
// evidence-quality average, evidence count, report-content keyword
// hits, and evidence-authority keyword hits, clamped to [0,100].
func adjustScore(original int, report string, evidences []evidence) int {
	adjustment := 0

	if avg, ok := averageScore(evidences); ok {
		switch {
		case avg >= 7:
			adjustment += 10
		case avg >= 5:
			adjustment += 6
		case avg >= 3:
			adjustment += 3
		}
	}
	switch {
	case len(evidences) >= 3:
		adjustment += 3
	case len(evidences) >= 2:
		adjustment += 2
	}

	adjustment += capInt(countKeywordHits(report, highImpactKeywords)*2, 6)
	adjustment += capInt(countKeywordHits(report, marketKeywords)*1, 4)

	summary := joinEvidence(evidences)
	adjustment += capInt(countKeywordHits(summary, authorityScoreKeywords)*1, 5)

	return clampScore(original + adjustment)
}

func averageScore(evidences []evidence) (float64, bool) {
	if len(evidences) == 0 {
		return 0, false
	}
	total := 0.0
	for _, e := range evidences {
		total += e.score
	}
	return total / float64(len(evidences)), true
}

func countKeywordHits(text string, keywords []string) int {
	count := 0
	for _, k := range keywords {
		if strings.Contains(text, k) {
			count++
		}
	}
	return count
}

func capInt(v, max int) int {
	if v > max {
		return max
	}
	if v < 0 {
		return 0
	}
	return v
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
