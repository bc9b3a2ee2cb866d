package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/classifier"
	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/fetcher"
	"github.com/pbaille/triage/internal/labeling"
	"github.com/pbaille/triage/internal/llm"
	"github.com/pbaille/triage/internal/logging"
	"github.com/pbaille/triage/internal/metrics"
	"github.com/pbaille/triage/internal/pipeline"
	"github.com/pbaille/triage/internal/ranking"
	"github.com/pbaille/triage/internal/rules"
	"github.com/pbaille/triage/internal/state"
	"github.com/pbaille/triage/internal/store"
	"github.com/pbaille/triage/internal/todoist"
)

var (
	cfgPath string
	verbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "triage",
		Short:         "Label, route and rank Todoist tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "triage.yaml", "application config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(todayCmd())
	rootCmd.AddCommand(rankCmd())
	rootCmd.AddCommand(labelCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds the loaded configuration and the collaborators shared by every
// command.
type app struct {
	cfg       *config.Config
	rules     *config.RulesConfig
	labeling  *config.LabelingConfig
	ranking   *config.RankingConfig
	logger    *zap.Logger
	completer llm.Completer
	metrics   *metrics.Collector
}

// loadApp reads the application config and the three domain documents. A
// broken domain document is reported and replaced by its defaults.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Verbose: verbose,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.NewCollector()}

	if a.rules, err = config.LoadRules(cfg.Paths.Rules); err != nil {
		logger.Warn("using default rules", zap.Error(err))
	}
	if a.labeling, err = config.LoadLabeling(cfg.Paths.TaskSense); err != nil {
		logger.Warn("using default labeling config", zap.Error(err))
	}
	if a.ranking, err = config.LoadRanking(cfg.Paths.Ranking); err != nil {
		logger.Warn("using default ranking config", zap.Error(err))
	}

	a.completer, err = llm.New(ctx, llm.Options{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLMTimeout(),
	}, logger)
	switch {
	case errors.Is(err, llm.ErrNotConfigured):
		logger.Debug("no language model configured", zap.Error(err))
	case err != nil:
		logger.Warn("language model unavailable", zap.Error(err))
	}
	return a, nil
}

func (a *app) close() {
	a.logger.Sync()
}

// labeler builds the labeling pipeline for a rules document. The semantic
// engine only honours dry run when it is a real model.
func (a *app) labeler(rc *config.RulesConfig, dryRun bool) *labeling.Pipeline {
	engine, err := classifier.New(a.labeling, a.completer, a.cfg.Mock, a.logger)
	if err != nil {
		a.logger.Debug("semantic labeling disabled", zap.Error(err))
	}
	chain := labeling.Build(labeling.Deps{
		Matcher:   rules.NewMatcher(rc.Rules, a.logger),
		Engine:    engine,
		Completer: a.completer,
		Rules:     rc,
		Labeling:  a.labeling,
		DryRun:    dryRun && !a.cfg.Mock,
	}, a.logger)
	return labeling.NewPipeline(chain, labeling.Options{
		ConfidenceThreshold: a.labeling.ConfidenceThreshold,
		SoftMatching:        a.labeling.SoftMatching,
		AvailableLabels:     a.labeling.AvailableLabels,
	}, a.logger)
}

func (a *app) reranker() *ranking.Reranker {
	scorer := ranking.NewScorer(a.ranking, a.logger, ranking.WithTimeModes(a.labeling.TimeBasedModes))
	return ranking.NewReranker(scorer, a.completer, ranking.RerankOptions{
		Config:      a.ranking.GPTReranking,
		UserProfile: a.labeling.UserProfile,
		Mock:        a.cfg.Mock,
	}, a.logger)
}

func (a *app) store() (*store.Store, error) {
	return store.New(a.cfg.Paths.Database)
}

func (a *app) todoist() (*todoist.Client, error) {
	if a.cfg.Todoist.Token == "" {
		return nil, errors.New("TODOIST_API_TOKEN not set")
	}
	return todoist.New(todoist.Options{
		Token:   a.cfg.Todoist.Token,
		BaseURL: a.cfg.Todoist.BaseURL,
		SyncURL: a.cfg.Todoist.SyncURL,
		Timeout: a.cfg.TodoistTimeout(),
	}, a.logger), nil
}

// runner wires a pipeline runner against the live task service.
func (a *app) runner(m string, dryRun bool, journal *store.Store, since time.Time) (*pipeline.Runner, error) {
	client, err := a.todoist()
	if err != nil {
		return nil, err
	}
	deps := pipeline.Deps{
		Tasks:    client,
		Fetcher:  fetcher.New(a.cfg.FetchTimeout(), a.cfg.Fetcher.UserAgent, a.logger),
		Labeler:  a.labeler(a.rules, dryRun),
		Rules:    a.rules.Rules,
		Reranker: a.reranker(),
		Metrics:  a.metrics,
		LastRun:  state.NewLastRun(a.cfg.Paths.State),
	}
	if journal != nil {
		deps.Journal = journal
	}
	return pipeline.NewRunner(deps, pipeline.Options{
		Project:     a.cfg.Todoist.Project,
		Mode:        m,
		DefaultMode: a.labeling.DefaultMode,
		TimeModes:   a.labeling.TimeBasedModes,
		DryRun:      dryRun,
		Ranking:     a.ranking,
		Since:       since,
	}, a.logger), nil
}

// openJournal opens the run journal, or returns nil when it cannot be opened.
func (a *app) openJournal() *store.Store {
	s, err := a.store()
	if err != nil {
		a.logger.Warn("run journal unavailable", zap.Error(err))
		return nil
	}
	return s
}
