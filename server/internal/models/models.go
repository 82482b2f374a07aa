// Package models defines the core domain models for the news pipeline.
//
// This package contains the data structures that flow through every stage
// of the pipeline: ingested news, the outputs of the two analysis stages,
// and the scheduler's durable state snapshot.
//
// # Model Architecture
//
//  1. Content layer: NewsItem (ingested, then mutated in place by scorers)
//  2. Analysis layer: AnalysisResult, DeepAnalysisResult (one-to-many from NewsItem)
//  3. Operational layer: SchedulerState, ExecutionEvent, HealthStatus
//
// # Database Mapping
//
// Struct tags carry both JSON (wire/state-file) and `db` (sqlx) mappings.
//
// # Invariants
//
//   - ImportanceScore, ImpactScore, AdjustedScore are always clamped to [0,100].
//   - A NewsItem's (Title, URL) pair is unique in the store.
package models

import "time"

// ImpactDegree is a free-text classification carried through from the
// Impact Analyzer's LLM response. The store never computes it; see the
// impact_degree open question.
type ImpactDegree string

const (
	ImpactDegreeHigh   ImpactDegree = "high"
	ImpactDegreeMedium ImpactDegree = "medium"
	ImpactDegreeLow    ImpactDegree = "low"
	ImpactDegreeNone   ImpactDegree = ""
)

// NewsItem is the unit of ingestion and analysis.
//
// ID is derived from (Source, Title, URL, first-seen timestamp) by the
// Store on first save; it is also the dedup key together with
// (Title, URL). ImportanceScore starts at 0, is set by the Importance
// Scorer, and is monotonically replaced by the Deep Analyzer's
// AdjustedScore when deep analysis runs on this item.
type NewsItem struct {
	ID                   string       `json:"id" db:"id"`
	Title                string       `json:"title" db:"title"`
	Content              string       `json:"content" db:"content"`
	Source               string       `json:"source" db:"source"`
	Category             string       `json:"category" db:"category"`
	URL                  string       `json:"url" db:"url"`
	PublishTime          time.Time    `json:"publish_time" db:"publish_time"`
	Keywords             []string     `json:"keywords" db:"-"`
	KeywordsRaw          string       `json:"-" db:"keywords"`
	ImportanceScore      int          `json:"importance_score" db:"importance_score"`
	ImportanceReasoning  string       `json:"importance_reasoning" db:"importance_reasoning"`
	ImportanceFactors    []string     `json:"importance_factors" db:"-"`
	ImportanceFactorsRaw string       `json:"-" db:"importance_factors"`
	ImpactDegree         ImpactDegree `json:"impact_degree" db:"impact_degree"`
	CreatedAt            time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at" db:"updated_at"`
}

// AnalysisResult is the output of the Impact Analyzer for one NewsItem.
// The latest result wins on conflict; the store does not merge rows.
type AnalysisResult struct {
	ID           int64     `json:"id" db:"id"`
	NewsID       string    `json:"news_id" db:"news_id"`
	ImpactScore  float64   `json:"impact_score" db:"impact_score"`
	Summary      string    `json:"summary" db:"summary"`
	ImpactDegree string    `json:"impact_degree" db:"impact_degree"`
	AnalysisTime time.Time `json:"analysis_time" db:"analysis_time"`
}

// DeepAnalysisResult is the output of the Deep Analyzer's research loop.
// ModelUsed carries the sentinel values "skip" (gate not met) and "error"
// (the research loop failed) in addition to a real provider/model name.
type DeepAnalysisResult struct {
	NewsID                string    `json:"news_id"`
	Title                 string    `json:"title"`
	OriginalScore         int       `json:"original_score"`
	AdjustedScore         int       `json:"adjusted_score"`
	SearchKeywords        []string  `json:"search_keywords"`
	SearchResultsSummary  string    `json:"search_results_summary"`
	DeepAnalysisReport    string    `json:"deep_analysis_report"`
	SearchSuccess         bool      `json:"search_success"`
	ModelUsed             string    `json:"model_used"`
	AnalysisTime          time.Time `json:"analysis_time"`
}

const (
	ModelUsedSkip  = "skip"
	ModelUsedError = "error"
)

// ExecutionEvent is one entry in SchedulerState.ExecutionHistory.
type ExecutionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
}

// Common execution event types recorded by the lifecycle manager and
// the scheduler.
const (
	EventJobSucceeded        = "job_succeeded"
	EventJobFailed           = "job_failed"
	EventSignalReceived      = "signal_received"
	EventSchedulerRestarted  = "scheduler_restarted"
	EventAutoRecoveryOff     = "auto_recovery_disabled"
	EventHealthObservation   = "health_observation"
)

// HealthStatus summarizes the scheduler's operational state as computed
// by the lifecycle manager's monitoring loop.
type HealthStatus struct {
	Overall      string          `json:"overall"`
	Components   map[string]bool `json:"components"`
	LastCheck    time.Time       `json:"last_check"`
	FailureRate  float64         `json:"failure_rate"`
}

// Health classification levels.
const (
	HealthCritical = "critical"
	HealthWarning  = "warning"
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
)

// Stats holds aggregated execution counters.
type Stats struct {
	TotalExecutions      int `json:"total_executions"`
	SuccessfulExecutions int `json:"successful_executions"`
	FailedExecutions     int `json:"failed_executions"`
}

// SchedulerState is the durable snapshot written by the lifecycle manager
// on every monitor tick and significant event, and read back on process
// start to recover error counters, history, and health classification.
type SchedulerState struct {
	IsRunning        bool             `json:"is_running"`
	StartTime        time.Time        `json:"start_time"`
	ProcessID        int              `json:"process_id"`
	ErrorCount       int              `json:"error_count"`
	LastErrorTime    *time.Time       `json:"last_error_time,omitempty"`
	ExecutionHistory []ExecutionEvent `json:"execution_history"`
	HealthStatus     HealthStatus     `json:"health_status"`
	Stats            Stats            `json:"stats"`
	SavedAt          time.Time        `json:"saved_at"`
}

// MaxExecutionHistory bounds SchedulerState.ExecutionHistory; oldest
// entries are discarded first once the cap is reached.
const MaxExecutionHistory = 100

// JobEvent is published by a job invocation to the lifecycle manager's
// listener on completion, whether it succeeded or raised.
type JobEvent struct {
	JobID     string
	Success   bool
	Err       error
	Timestamp time.Time
}

// StoreStats is the aggregate result of Store.Stats().
type StoreStats struct {
	Total      int            `json:"total"`
	Today      int            `json:"today"`
	BySource   map[string]int `json:"by_source"`
	ByCategory map[string]int `json:"by_category"`
}
