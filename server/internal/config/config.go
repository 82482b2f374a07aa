// Package config loads the structured configuration document described
// in the external interfaces of the system: RSS sources, AI analysis
// provider settings, email/SMTP, database path, and the scheduler's
// job strategy.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root of the configuration tree. Every field maps
// directly onto a YAML section; nothing here is computed.
type Config struct {
	NewsCollection NewsCollectionConfig `mapstructure:"news_collection"`
	AIAnalysis     AIAnalysisConfig     `mapstructure:"ai_analysis"`
	Email          EmailConfig          `mapstructure:"email"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Scheduler      SchedulerConfig      `mapstructure:"scheduler"`
	Logging        LoggingConfig        `mapstructure:"logging"`
}

type NewsCollectionConfig struct {
	Sources            SourcesConfig `mapstructure:"sources"`
	CollectionInterval int           `mapstructure:"collection_interval"`
}

type SourcesConfig struct {
	RSSFeeds []RSSFeedConfig `mapstructure:"rss_feeds"`
}

type RSSFeedConfig struct {
	Name     string `mapstructure:"name"`
	URL      string `mapstructure:"url"`
	MaxItems int    `mapstructure:"max_items"`
	Enabled  bool   `mapstructure:"enabled"`
}

type AIAnalysisConfig struct {
	// Provider selects which profile below is active: "openrouter" or
	// "deepseek". Selection happens once at startup; switching providers
	// requires a restart.
	Provider       string               `mapstructure:"provider"`
	OpenRouter     ProviderConfig       `mapstructure:"openrouter"`
	DeepSeek       ProviderConfig       `mapstructure:"deepseek"`
	AnalysisParams AnalysisParamsConfig `mapstructure:"analysis_params"`
	DeepAnalysis   DeepAnalysisConfig   `mapstructure:"deep_analysis"`
}

// ProviderConfig describes one LLM provider profile. The two profiles
// (OpenRouter, DeepSeek-native) differ only in these fields; the LLM
// Client's request/retry contract is provider-agnostic.
type ProviderConfig struct {
	APIKey        string  `mapstructure:"api_key"`
	BaseURL       string  `mapstructure:"base_url"`
	Model         string  `mapstructure:"model"`
	FallbackModel string  `mapstructure:"fallback_model"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float32 `mapstructure:"temperature"`
}

type AnalysisParamsConfig struct {
	BatchSize       int `mapstructure:"batch_size"`
	MaxConcurrent   int `mapstructure:"max_concurrent"`
	TimeoutSeconds  int `mapstructure:"timeout"`
	FallbackTimeout int `mapstructure:"fallback_timeout"`
	RetryCount      int `mapstructure:"retry_count"`
	RateLimit       int `mapstructure:"rate_limit"`
}

type DeepAnalysisConfig struct {
	Enabled               bool   `mapstructure:"enabled"`
	ScoreThreshold        int    `mapstructure:"score_threshold"`
	MaxConcurrent         int    `mapstructure:"max_concurrent"`
	MaxSearchKeywords     int    `mapstructure:"max_search_keywords"`
	ReportMaxLength       int    `mapstructure:"report_max_length"`
	EnableScoreAdjustment bool   `mapstructure:"enable_score_adjustment"`
	SearchRetryCount      int    `mapstructure:"search_retry_count"`
	MaxSearchRounds       int    `mapstructure:"max_search_rounds"`
	EvidenceThreshold     int    `mapstructure:"evidence_threshold"`
	MaxEvidenceKept       int    `mapstructure:"max_evidence_kept"`
	MaxTokens             int    `mapstructure:"max_tokens"`
	SearchEndpoint        string `mapstructure:"search_endpoint"`
}

type EmailConfig struct {
	SMTP       SMTPConfig     `mapstructure:"smtp"`
	Recipients []string       `mapstructure:"recipients"`
	Template   TemplateConfig `mapstructure:"template"`
}

type SMTPConfig struct {
	Server   string `mapstructure:"server"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	UseTLS   bool   `mapstructure:"use_tls"`
	UseSSL   bool   `mapstructure:"use_ssl"`
}

type TemplateConfig struct {
	Subject  string `mapstructure:"subject"`
	FromName string `mapstructure:"from_name"`
}

type DatabaseConfig struct {
	SQLite    SQLiteConfig    `mapstructure:"sqlite"`
	Retention RetentionConfig `mapstructure:"retention"`
}

type SQLiteConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type RetentionConfig struct {
	MaxDays int `mapstructure:"max_days"`
}

type SchedulerConfig struct {
	Strategy       StrategyConfig `mapstructure:"strategy"`
	StateFile      string         `mapstructure:"state_file"`
	MonitorSeconds int            `mapstructure:"monitor_interval"`
}

type StrategyConfig struct {
	MorningCollection  JobStrategyConfig `mapstructure:"morning_collection"`
	TradingHours       JobStrategyConfig `mapstructure:"trading_hours"`
	EveningCollection  JobStrategyConfig `mapstructure:"evening_collection"`
	DailySummary       JobStrategyConfig `mapstructure:"daily_summary"`
}

// JobStrategyConfig describes one scheduled job's trigger. Hour/Minute
// apply to calendar triggers; IntervalMinutes applies to interval
// triggers. A job uses whichever fields are non-zero for its trigger
// kind.
type JobStrategyConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	Hour            int  `mapstructure:"hour"`
	Minute          int  `mapstructure:"minute"`
	IntervalMinutes int  `mapstructure:"interval_minutes"`
}

type LoggingConfig struct {
	Dir            string `mapstructure:"dir"`
	MaxSizeMB      int    `mapstructure:"max_size_mb"`
	MaxBackups     int    `mapstructure:"max_backups"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the YAML document at path, applies defaults, and
// substitutes ${NAME} tokens from the process environment in every
// string value (including nested map/slice values viper's own
// AutomaticEnv binding does not reach). A missing or malformed file is
// a construction-time fatal error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	substituteEnv(&cfg)
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("news_collection.collection_interval", 30)
	v.SetDefault("ai_analysis.analysis_params.batch_size", 20)
	v.SetDefault("ai_analysis.analysis_params.max_concurrent", 10)
	v.SetDefault("ai_analysis.analysis_params.timeout", 30)
	v.SetDefault("ai_analysis.analysis_params.fallback_timeout", 30)
	v.SetDefault("ai_analysis.analysis_params.retry_count", 3)
	v.SetDefault("ai_analysis.analysis_params.rate_limit", 100)
	v.SetDefault("ai_analysis.deep_analysis.score_threshold", 70)
	v.SetDefault("ai_analysis.deep_analysis.max_concurrent", 3)
	v.SetDefault("ai_analysis.deep_analysis.max_search_keywords", 5)
	v.SetDefault("ai_analysis.deep_analysis.report_max_length", 200)
	v.SetDefault("ai_analysis.deep_analysis.search_retry_count", 2)
	v.SetDefault("ai_analysis.deep_analysis.max_search_rounds", 3)
	v.SetDefault("ai_analysis.deep_analysis.evidence_threshold", 2)
	v.SetDefault("ai_analysis.deep_analysis.max_evidence_kept", 5)
	v.SetDefault("ai_analysis.deep_analysis.max_tokens", 100000)
	v.SetDefault("database.sqlite.db_path", "data/news.db")
	v.SetDefault("database.retention.max_days", 30)
	v.SetDefault("logging.dir", "data/logs")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("scheduler.state_file", "data/scheduler_state.json")
	v.SetDefault("scheduler.monitor_interval", 60)
	v.SetDefault("ai_analysis.provider", "openrouter")
}

// substituteEnv walks every string-typed field reachable from cfg via
// reflection-free, explicit per-section rewriting and replaces
// ${NAME} tokens with the environment variable's value (empty string
// if unset).
func substituteEnv(cfg *Config) {
	for i := range cfg.NewsCollection.Sources.RSSFeeds {
		f := &cfg.NewsCollection.Sources.RSSFeeds[i]
		f.Name = expand(f.Name)
		f.URL = expand(f.URL)
	}
	expandProvider(&cfg.AIAnalysis.OpenRouter)
	expandProvider(&cfg.AIAnalysis.DeepSeek)
	cfg.AIAnalysis.Provider = expand(cfg.AIAnalysis.Provider)

	cfg.Email.SMTP.Server = expand(cfg.Email.SMTP.Server)
	cfg.Email.SMTP.Username = expand(cfg.Email.SMTP.Username)
	cfg.Email.SMTP.Password = expand(cfg.Email.SMTP.Password)
	cfg.Email.Template.Subject = expand(cfg.Email.Template.Subject)
	cfg.Email.Template.FromName = expand(cfg.Email.Template.FromName)
	for i := range cfg.Email.Recipients {
		cfg.Email.Recipients[i] = expand(cfg.Email.Recipients[i])
	}

	cfg.Database.SQLite.DBPath = expand(cfg.Database.SQLite.DBPath)
	cfg.Logging.Dir = expand(cfg.Logging.Dir)
	cfg.Scheduler.StateFile = expand(cfg.Scheduler.StateFile)
	cfg.AIAnalysis.DeepAnalysis.SearchEndpoint = expand(cfg.AIAnalysis.DeepAnalysis.SearchEndpoint)
}

func expandProvider(p *ProviderConfig) {
	p.APIKey = expand(p.APIKey)
	p.BaseURL = expand(p.BaseURL)
	p.Model = expand(p.Model)
	p.FallbackModel = expand(p.FallbackModel)
}

func expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
