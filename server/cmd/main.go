// Command newsflow is the single-binary entrypoint: load config, wire
// every component, and run one of the subcommands below.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/weichuangxin420/newsflow/server/internal/config"
	"github.com/weichuangxin420/newsflow/server/internal/deepanalysis"
	"github.com/weichuangxin420/newsflow/server/internal/email"
	"github.com/weichuangxin420/newsflow/server/internal/feed"
	"github.com/weichuangxin420/newsflow/server/internal/httpapi"
	"github.com/weichuangxin420/newsflow/server/internal/impact"
	"github.com/weichuangxin420/newsflow/server/internal/lifecycle"
	"github.com/weichuangxin420/newsflow/server/internal/llm"
	"github.com/weichuangxin420/newsflow/server/internal/logging"
	"github.com/weichuangxin420/newsflow/server/internal/models"
	"github.com/weichuangxin420/newsflow/server/internal/pipeline"
	"github.com/weichuangxin420/newsflow/server/internal/scheduler"
	"github.com/weichuangxin420/newsflow/server/internal/scorer"
	"github.com/weichuangxin420/newsflow/server/internal/search"
	"github.com/weichuangxin420/newsflow/server/internal/store"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "newsflow",
		Short: "Financial news ingestion, analysis, and dispatch pipeline",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the configuration file")

	root.AddCommand(
		startCmd(false),
		startCmd(true),
		statusCmd(),
		runOnceCmd(),
		summaryCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app bundles every wired component a subcommand needs.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	sugar *zap.SugaredLogger
	st    *store.Store
	orch  *pipeline.Orchestrator
}

func newApp(mode logging.Mode) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	zlog, err := logging.New(mode, cfg.Logging.Dir, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups)
	if err != nil {
		return nil, fmt.Errorf("initializing logging: %w", err)
	}
	sugar := zlog.Sugar()

	s, err := store.Open(cfg.Database.SQLite.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	provider := cfg.AIAnalysis.OpenRouter
	if cfg.AIAnalysis.Provider == "deepseek" {
		provider = cfg.AIAnalysis.DeepSeek
	}
	client, err := llm.New(provider, cfg.AIAnalysis.AnalysisParams.RetryCount, sugar)
	if err != nil {
		return nil, fmt.Errorf("constructing llm client: %w", err)
	}

	chatOpts := llm.ChatOptions{
		Model:         provider.Model,
		FallbackModel: provider.FallbackModel,
		MaxTokens:     provider.MaxTokens,
		Temperature:   provider.Temperature,
		Timeout:       time.Duration(cfg.AIAnalysis.AnalysisParams.TimeoutSeconds) * time.Second,
	}

	sc := scorer.New(client, chatOpts, sugar)

	batchOpts := impact.Options{
		MaxConcurrent:      cfg.AIAnalysis.AnalysisParams.MaxConcurrent,
		RateLimitPerMinute: cfg.AIAnalysis.AnalysisParams.RateLimit,
		BatchSize:          cfg.AIAnalysis.AnalysisParams.BatchSize,
	}
	ia := impact.New(client, chatOpts, batchOpts, sugar)

	ingestor := feed.New(sugar)

	var deep *deepanalysis.Analyzer
	if cfg.AIAnalysis.DeepAnalysis.Enabled {
		searchAdapter := search.New(cfg.AIAnalysis.DeepAnalysis.SearchEndpoint, sugar)
		deep = deepanalysis.New(client, chatOpts, searchAdapter, deepanalysis.Options{
			Enabled:               cfg.AIAnalysis.DeepAnalysis.Enabled,
			ScoreThreshold:        cfg.AIAnalysis.DeepAnalysis.ScoreThreshold,
			MaxConcurrent:         cfg.AIAnalysis.DeepAnalysis.MaxConcurrent,
			MaxSearchKeywords:     cfg.AIAnalysis.DeepAnalysis.MaxSearchKeywords,
			ReportMaxLength:       cfg.AIAnalysis.DeepAnalysis.ReportMaxLength,
			EnableScoreAdjustment: cfg.AIAnalysis.DeepAnalysis.EnableScoreAdjustment,
			MaxSearchRounds:       cfg.AIAnalysis.DeepAnalysis.MaxSearchRounds,
			SearchRetryCount:      cfg.AIAnalysis.DeepAnalysis.SearchRetryCount,
			EvidenceThreshold:     cfg.AIAnalysis.DeepAnalysis.EvidenceThreshold,
			MaxEvidenceKept:       cfg.AIAnalysis.DeepAnalysis.MaxEvidenceKept,
		}, sugar)
	}

	composer := email.NewComposer(email.FromSMTPConfig(cfg.Email.SMTP, cfg.Email.Template), sugar)

	orch := pipeline.New(s, ingestor, sc, ia, deep, composer,
		cfg.NewsCollection.Sources.RSSFeeds, cfg.Email.Recipients, cfg.Database.Retention.MaxDays)

	return &app{cfg: cfg, log: zlog, sugar: sugar, st: s, orch: orch}, nil
}

func (a *app) close() {
	_ = a.log.Sync()
	_ = a.st.Close()
}

// buildScheduler wires the canonical job set from the enhanced
// strategy section of configuration onto a fresh Scheduler.
func buildScheduler(cfg *config.Config, orch *pipeline.Orchestrator, sugar *zap.SugaredLogger) *scheduler.Scheduler {
	sched := scheduler.New(sugar)
	strat := cfg.Scheduler.Strategy

	if strat.MorningCollection.Enabled {
		sched.AddJob(scheduler.Job{
			ID:           "morning_collection",
			Trigger:      scheduler.CalendarTrigger{Hour: strat.MorningCollection.Hour, Minute: strat.MorningCollection.Minute},
			MisfireGrace: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := orch.MorningDigest(ctx)
				return err
			},
		})
	}

	if strat.TradingHours.Enabled {
		sched.AddJob(scheduler.Job{
			ID:           "trading_hours_collection",
			Trigger:      scheduler.IntervalTrigger{Interval: time.Duration(strat.TradingHours.IntervalMinutes) * time.Minute},
			MisfireGrace: 2 * time.Minute,
			Run: func(ctx context.Context) error {
				if !withinTradingHours(time.Now()) {
					return nil
				}
				_, err := orch.IntradayTick(ctx)
				return err
			},
		})
	}

	if strat.EveningCollection.Enabled {
		sched.AddJob(scheduler.Job{
			ID:           "evening_collection",
			Trigger:      scheduler.CalendarTrigger{Hour: strat.EveningCollection.Hour, Minute: strat.EveningCollection.Minute},
			MisfireGrace: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				return orch.EveningCollection(ctx)
			},
		})
	}

	if strat.DailySummary.Enabled {
		sched.AddJob(scheduler.Job{
			ID:           "daily_summary",
			Trigger:      scheduler.CalendarTrigger{Hour: strat.DailySummary.Hour, Minute: strat.DailySummary.Minute},
			MisfireGrace: 10 * time.Minute,
			Run: func(ctx context.Context) error {
				_, err := orch.DailySummary(ctx)
				return err
			},
		})
	}

	sched.AddJob(scheduler.Job{
		ID:           "maintenance",
		Trigger:      scheduler.CalendarTrigger{Hour: 3, Minute: 0},
		MisfireGrace: time.Hour,
		Run: func(ctx context.Context) error {
			return orch.Maintenance(ctx)
		},
	})

	return sched
}

// withinTradingHours implements the hard-coded 08:00-16:00 local civil
// time window decided in place of a timezone/holiday-calendar lookup.
func withinTradingHours(t time.Time) bool {
	h, m, _ := t.Clock()
	minutes := h*60 + m
	return minutes >= 8*60 && minutes < 16*60
}

func startCmd(background bool) *cobra.Command {
	use := "start"
	short := "Run the scheduler in the foreground with a monitoring UI"
	mode := logging.ModeConsole
	if background {
		use = "background"
		short = "Run the scheduler in the foreground without a UI (container-appropriate)"
		mode = logging.ModeJSON
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(mode)
			if err != nil {
				return err
			}
			defer a.close()

			sched := buildScheduler(a.cfg, a.orch, a.sugar)
			mgr := lifecycle.New(sched, a.cfg.Scheduler.StateFile, time.Duration(a.cfg.Scheduler.MonitorSeconds)*time.Second, a.sugar)
			mgr.Restore()
			mgr.Start()
			defer mgr.Shutdown()

			if background {
				srv := httpapi.NewServer(":8080", mgr)
				go func() {
					if err := srv.ListenAndServe(); err != nil {
						a.sugar.Infow("http server stopped", "error", err)
					}
				}()
			}

			a.sugar.Infow("newsflow started", "background", background)
			<-mgr.Done()
			return nil
		},
	}
	if background {
		cmd.Aliases = []string{"daemon"}
	}
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read the persisted scheduler state and report on the running process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(cfg.Scheduler.StateFile)
			if err != nil {
				fmt.Println("no scheduler state found; process has not run yet")
				return nil
			}

			var state models.SchedulerState
			if err := json.Unmarshal(data, &state); err != nil {
				return fmt.Errorf("parsing scheduler state: %w", err)
			}

			alive := state.ProcessID > 0 && processAlive(state.ProcessID)

			fmt.Printf("recorded running:  %v\n", state.IsRunning)
			fmt.Printf("process id:        %d (alive: %v)\n", state.ProcessID, alive)
			fmt.Printf("started at:        %s\n", state.StartTime.Format(time.RFC3339))
			fmt.Printf("health:            %s (failure rate %.1f%%, last checked %s)\n",
				state.HealthStatus.Overall, state.HealthStatus.FailureRate*100, state.HealthStatus.LastCheck.Format(time.RFC3339))
			fmt.Printf("executions:        %d total, %d successful, %d failed\n",
				state.Stats.TotalExecutions, state.Stats.SuccessfulExecutions, state.Stats.FailedExecutions)
			fmt.Printf("error count:       %d\n", state.ErrorCount)
			fmt.Printf("history entries:   %d\n", len(state.ExecutionHistory))
			fmt.Printf("state saved at:    %s\n", state.SavedAt.Format(time.RFC3339))

			if state.IsRunning && !alive {
				fmt.Println("warning: state file claims the scheduler is running, but its recorded process is not alive")
			}
			return nil
		},
	}
}

// processAlive reports whether pid refers to a live, signalable
// process by sending it signal 0. os.FindProcess always succeeds on
// Unix, so the liveness check happens on the Signal call itself.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func runOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Execute one Full cycle synchronously and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(logging.ModeConsole)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			items, _, err := a.orch.FullCycle(ctx)
			if err != nil {
				return fmt.Errorf("full cycle failed: %w", err)
			}
			a.sugar.Infow("run-once complete", "items", len(items))
			return nil
		},
	}
}

func summaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Execute the daily-summary dispatch once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(logging.ModeConsole)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			result, err := a.orch.DailySummary(ctx)
			if err != nil {
				return fmt.Errorf("daily summary failed: %w", err)
			}
			a.sugar.Infow("summary dispatched", "sent", result.Sent, "items", result.ItemCount)
			return nil
		},
	}
}
