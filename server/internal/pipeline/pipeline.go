// Package pipeline implements the Pipeline Orchestrator: the named
// cycles that tie the ingestor, scorers, and email composer together.
// Each cycle is atomic at the cycle boundary — it either completes or
// is reported as a failure to its caller (the scheduler records it).
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/weichuangxin420/newsflow/server/internal/config"
	"github.com/weichuangxin420/newsflow/server/internal/deepanalysis"
	"github.com/weichuangxin420/newsflow/server/internal/email"
	"github.com/weichuangxin420/newsflow/server/internal/feed"
	"github.com/weichuangxin420/newsflow/server/internal/impact"
	"github.com/weichuangxin420/newsflow/server/internal/models"
	"github.com/weichuangxin420/newsflow/server/internal/scorer"
	"github.com/weichuangxin420/newsflow/server/internal/store"
)

// Orchestrator coordinates one end-to-end cycle: ingest, score,
// analyze, optionally deep-analyze, persist, and optionally dispatch.
type Orchestrator struct {
	store    *store.Store
	ingestor *feed.Ingestor
	scorer   *scorer.Scorer
	impact   *impact.Analyzer
	deep     *deepanalysis.Analyzer
	composer *email.Composer

	feeds      []config.RSSFeedConfig
	recipients []string
	retention  int
}

func New(
	s *store.Store,
	ingestor *feed.Ingestor,
	sc *scorer.Scorer,
	ia *impact.Analyzer,
	da *deepanalysis.Analyzer,
	composer *email.Composer,
	feeds []config.RSSFeedConfig,
	recipients []string,
	retentionDays int,
) *Orchestrator {
	return &Orchestrator{
		store: s, ingestor: ingestor, scorer: sc, impact: ia, deep: da, composer: composer,
		feeds: feeds, recipients: recipients, retention: retentionDays,
	}
}

// IngestOnly fetches every enabled feed, dedupes by (title, url), and
// saves new items. It returns the set of items actually saved this
// call (empty on a feed with 0 entries or on a repeat run against
// unchanged feed content).
func (o *Orchestrator) IngestOnly(ctx context.Context) ([]*models.NewsItem, error) {
	var fresh []*models.NewsItem

	for _, f := range o.feeds {
		if !f.Enabled {
			continue
		}
		entries := o.ingestor.Fetch(ctx, f.URL, f.MaxItems)
		for _, item := range entries {
			exists, err := o.store.Exists(ctx, item.Title, item.URL)
			if err != nil {
				return nil, fmt.Errorf("pipeline: dedup probe failed: %w", err)
			}
			if !exists {
				fresh = append(fresh, item)
			}
		}
	}

	if len(fresh) == 0 {
		return nil, nil
	}

	if _, err := o.store.SaveBatch(ctx, fresh); err != nil {
		return nil, fmt.Errorf("pipeline: saving ingested items: %w", err)
	}
	return fresh, nil
}

// analysisSet is keyed by NewsItem.ID and carried alongside items so
// the dispatch cycles can render impact scores without a second query.
type analysisSet map[string]*models.AnalysisResult

// ScoreAndAnalyze runs IngestOnly, scores each new item with the
// Importance Scorer, then runs the Impact Analyzer over the same set
// (batch form when there are 3 or more items), writing every result
// back to the store.
func (o *Orchestrator) ScoreAndAnalyze(ctx context.Context) ([]*models.NewsItem, analysisSet, error) {
	items, err := o.IngestOnly(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(items) == 0 {
		return nil, nil, nil
	}

	for _, item := range items {
		result := o.scorer.Score(ctx, item.Title, item.Content, item.Source)
		item.ImportanceScore = result.Score
		item.ImportanceReasoning = result.Reasoning
		item.ImportanceFactors = result.Factors
	}

	var analyses []*models.AnalysisResult
	if len(items) >= impact.BatchThreshold {
		analyses = o.impact.AnalyzeBatch(ctx, items)
	} else {
		for _, item := range items {
			a, err := o.impact.Analyze(ctx, item)
			if err != nil {
				a = &models.AnalysisResult{NewsID: item.ID, ImpactScore: 0, Summary: "分析过程中出现错误", AnalysisTime: time.Now()}
			}
			analyses = append(analyses, a)
		}
	}

	byID := make(analysisSet, len(items))
	for i, item := range items {
		if i < len(analyses) && analyses[i] != nil {
			byID[item.ID] = analyses[i]
			if analyses[i].ImpactDegree != "" {
				item.ImpactDegree = models.ImpactDegree(analyses[i].ImpactDegree)
			}
			if err := o.store.SaveAnalysis(ctx, analyses[i]); err != nil {
				return nil, nil, fmt.Errorf("pipeline: saving analysis for %s: %w", item.ID, err)
			}
		}
	}

	if _, err := o.store.SaveBatch(ctx, items); err != nil {
		return nil, nil, fmt.Errorf("pipeline: saving scored items: %w", err)
	}
	return items, byID, nil
}

// FullCycle runs ScoreAndAnalyze, then deep-analyzes items whose
// importance score cleared the configured threshold, writing back the
// adjusted score and report.
func (o *Orchestrator) FullCycle(ctx context.Context) ([]*models.NewsItem, analysisSet, error) {
	items, analyses, err := o.ScoreAndAnalyze(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(items) == 0 || o.deep == nil {
		return items, analyses, nil
	}

	deepResults := o.deep.AnalyzeDeepBatch(ctx, items)
	byID := map[string]*models.DeepAnalysisResult{}
	for _, r := range deepResults {
		byID[r.NewsID] = r
	}

	for _, item := range items {
		if r, ok := byID[item.ID]; ok && r.ModelUsed != models.ModelUsedSkip {
			item.ImportanceScore = r.AdjustedScore
		}
	}

	if _, err := o.store.SaveBatch(ctx, items); err != nil {
		return nil, nil, fmt.Errorf("pipeline: saving deep-analyzed items: %w", err)
	}
	return items, analyses, nil
}

// DispatchResult reports whether a dispatch cycle actually sent mail.
type DispatchResult struct {
	Sent      bool
	ItemCount int
}

// MorningDigest runs a Full cycle, filters items by score >= 50,
// renders, and sends unconditionally (even an empty filtered set still
// renders an empty report, matching the job's unconditional-send
// contract).
func (o *Orchestrator) MorningDigest(ctx context.Context) (DispatchResult, error) {
	return o.dispatch(ctx, 50, false, "晨报")
}

// IntradayTick runs a Full cycle, filters items by score >= 70, and
// sends only if the filtered set is non-empty; otherwise it persists
// silently.
func (o *Orchestrator) IntradayTick(ctx context.Context) (DispatchResult, error) {
	items, analyses, err := o.FullCycle(ctx)
	if err != nil {
		return DispatchResult{}, err
	}
	filtered := filterByScore(items, 70)
	if len(filtered) == 0 {
		return DispatchResult{Sent: false, ItemCount: 0}, nil
	}
	if err := o.send(filtered, analyses, "盘中快讯", false); err != nil {
		return DispatchResult{}, err
	}
	return DispatchResult{Sent: true, ItemCount: len(filtered)}, nil
}

// EveningCollection runs a Full cycle without sending.
func (o *Orchestrator) EveningCollection(ctx context.Context) error {
	_, _, err := o.FullCycle(ctx)
	return err
}

// DailySummary queries today's items from the store, computes stats,
// and sends a daily-summary report with no score floor (the whole
// day's activity is being summarized). Analysis results are not
// loaded: this cycle does not re-run the analyzers and reads only
// news_items, so every item renders with impact score 0 and an empty
// summary.
func (o *Orchestrator) DailySummary(ctx context.Context) (DispatchResult, error) {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	items, err := o.store.ByDateRange(ctx, startOfDay, now)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("pipeline: querying today's items: %w", err)
	}
	if err := o.send(items, nil, "每日汇总", true); err != nil {
		return DispatchResult{}, err
	}
	return DispatchResult{Sent: true, ItemCount: len(items)}, nil
}

// Maintenance deletes news_items older than the retention window
// (cascading to analysis_results), then reclaims space. It does not
// prune log files.
func (o *Orchestrator) Maintenance(ctx context.Context) error {
	if _, err := o.store.DeleteOlderThan(ctx, o.retention); err != nil {
		return fmt.Errorf("pipeline: deleting old items: %w", err)
	}
	return o.store.Optimize(ctx)
}

func (o *Orchestrator) dispatch(ctx context.Context, scoreFloor int, dailySummary bool, subject string) (DispatchResult, error) {
	items, analyses, err := o.FullCycle(ctx)
	if err != nil {
		return DispatchResult{}, err
	}
	filtered := filterByScore(items, scoreFloor)
	if err := o.send(filtered, analyses, subject, dailySummary); err != nil {
		return DispatchResult{}, err
	}
	return DispatchResult{Sent: true, ItemCount: len(filtered)}, nil
}

func (o *Orchestrator) send(items []*models.NewsItem, analyses analysisSet, subjectSuffix string, dailySummary bool) error {
	pairs := make([]email.ReportItem, 0, len(items))
	for _, item := range items {
		pairs = append(pairs, email.ReportItem{Item: item, Analysis: analyses[item.ID]})
	}
	data := email.BuildReport(pairs, dailySummary)
	return o.composer.Send(o.recipients, subjectSuffix, data)
}

func filterByScore(items []*models.NewsItem, floor int) []*models.NewsItem {
	var out []*models.NewsItem
	for _, item := range items {
		if item.ImportanceScore >= floor {
			out = append(out, item)
		}
	}
	return out
}
