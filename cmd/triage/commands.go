package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pbaille/triage/internal/api"
	"github.com/pbaille/triage/internal/config"
	"github.com/pbaille/triage/internal/domain"
	"github.com/pbaille/triage/internal/mode"
	"github.com/pbaille/triage/internal/pipeline"
	"github.com/pbaille/triage/internal/state"
)

func checkMode(m string) error {
	if m != "" && !mode.Valid(m) {
		return fmt.Errorf("unknown mode %q (want work, personal, weekend, evening or auto)", m)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(rep *pipeline.Report) {
	s := rep.Summary
	prefix := ""
	if rep.DryRun {
		prefix = "(dry run) "
	}
	fmt.Printf("%s%s in %s mode: %d processed, %d labeled, %d enriched, %d moved, %d skipped, %d failed\n",
		prefix, rep.Command, rep.Mode, s.Processed, s.Labeled, s.Enriched, s.Moved, s.Skipped, s.Failed)
	if s.LLMCost > 0 {
		fmt.Printf("Estimated model cost: $%.4f\n", s.LLMCost)
	}
	if rep.RunID != "" {
		fmt.Printf("Run: %s\n", rep.RunID[:8])
	}
}

func printRanking(ranked []domain.EnhancedScoredTask) {
	if len(ranked) == 0 {
		fmt.Println("No tasks to rank.")
		return
	}
	for i, et := range ranked {
		fmt.Printf("%d. %s\n", i+1, truncate(et.Task.Content, 80))
		fmt.Printf("   score %.3f (base %.3f, %s)\n", et.FinalScore, et.BaseScore, et.Source)
		explanation := et.BaseExplanation
		if et.GPTExplanation != "" {
			explanation = et.GPTExplanation
		}
		if explanation != "" {
			fmt.Printf("   %s\n", explanation)
		}
	}
}

func runCmd() *cobra.Command {
	var (
		dryRun bool
		all    bool
		m      string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enrich links, label and route every task of the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkMode(m); err != nil {
				return err
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			var since time.Time
			last, ok, err := state.NewLastRun(a.cfg.Paths.State).Load()
			switch {
			case err != nil:
				a.logger.Warn("last run unreadable, processing every task", zap.Error(err))
			case ok && !all:
				a.logger.Info("processing tasks created since the previous run", zap.Time("since", last))
				since = last
			}

			journal := a.openJournal()
			if journal != nil {
				defer journal.Close()
			}
			r, err := a.runner(m, dryRun, journal, since)
			if err != nil {
				return err
			}

			rep, err := r.Run(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(rep)
			}
			for _, res := range rep.Labeling {
				if len(res.LabelsToAdd) > 0 {
					fmt.Printf("  + %s: %s\n", truncate(res.TaskContent, 60), strings.Join(res.LabelsToAdd, ", "))
				}
			}
			for _, mv := range rep.Moves {
				fmt.Printf("  > %s -> %s\n", mv.TaskID, mv.SectionName)
			}
			printSummary(rep)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without writing them")
	cmd.Flags().BoolVar(&all, "all", false, "process every task, not only those created since the last run")
	cmd.Flags().StringVar(&m, "mode", "", "mode (work, personal, weekend, evening, auto)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}

func todayCmd() *cobra.Command {
	var (
		dryRun bool
		m      string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "today",
		Short: "Pick the top tasks and move them into the today section",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkMode(m); err != nil {
				return err
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			journal := a.openJournal()
			if journal != nil {
				defer journal.Close()
			}
			r, err := a.runner(m, dryRun, journal, time.Time{})
			if err != nil {
				return err
			}

			rep, err := r.Today(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printRanking(rep.Ranking)
			printSummary(rep)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "rank without moving or labeling")
	cmd.Flags().StringVar(&m, "mode", "", "mode (work, personal, weekend, evening, auto)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of tasks to pick (default from ranking config)")
	return cmd
}

func rankCmd() *cobra.Command {
	var (
		m      string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank the project tasks without changing anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkMode(m); err != nil {
				return err
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			r, err := a.runner(m, true, nil, time.Time{})
			if err != nil {
				return err
			}
			rep, err := r.Rank(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(rep.Ranking)
			}
			fmt.Printf("Mode: %s\n", rep.Mode)
			printRanking(rep.Ranking)
			if rep.Usage.BudgetHit {
				fmt.Println("(model budget reached; remaining tasks kept their base score)")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&m, "mode", "", "mode (work, personal, weekend, evening, auto)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "number of tasks to show (default from ranking config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func labelCmd() *cobra.Command {
	var (
		m      string
		labels []string
	)

	cmd := &cobra.Command{
		Use:   "label [content]",
		Short: "Show the labels a task text would get",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkMode(m); err != nil {
				return err
			}
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			task := domain.Task{Content: strings.Join(args, " "), Labels: labels}
			resolved := mode.Resolve(m, a.labeling.DefaultMode, time.Now(), a.labeling.TimeBasedModes)
			res := a.labeler(a.rules, false).Run(cmd.Context(), task, resolved)
			return printJSON(res)
		},
	}

	cmd.Flags().StringVar(&m, "mode", "", "mode (work, personal, weekend, evening, auto)")
	cmd.Flags().StringSliceVar(&labels, "labels", nil, "labels the task already has")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List past runs, or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			s, err := a.store()
			if err != nil {
				return err
			}
			defer s.Close()

			if len(args) == 0 {
				runs, err := s.ListRuns(limit)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					fmt.Println("No runs yet.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTARTED\tCOMMAND\tMODE\tPROCESSED\tLABELED\tMOVED\tFAILED")
				for _, r := range runs {
					cmdName := r.Command
					if r.DryRun {
						cmdName += " (dry)"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
						r.ID[:8], r.StartedAt.Local().Format("2006-01-02 15:04"), cmdName, r.Mode,
						r.Summary.Processed, r.Summary.Labeled, r.Summary.Moved, r.Summary.Failed)
				}
				return w.Flush()
			}

			id, err := resolveRunID(s, args[0])
			if err != nil {
				return err
			}
			run, err := s.GetRun(id)
			if err != nil {
				return err
			}
			actions, err := s.RunActions(id)
			if err != nil {
				return err
			}
			ranked, err := s.RunRanking(id)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"run":     run,
				"actions": actions,
				"ranking": ranked,
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

type runLister interface {
	ListRuns(limit int) ([]domain.Run, error)
}

// resolveRunID supports prefix matching on recent runs.
func resolveRunID(s runLister, prefix string) (string, error) {
	runs, err := s.ListRuns(100)
	if err != nil {
		return "", err
	}
	for _, r := range runs {
		if strings.HasPrefix(r.ID, prefix) {
			return r.ID, nil
		}
	}
	return "", fmt.Errorf("run %s not found", prefix)
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			deps := api.Deps{
				Labeler:  a.labeler(a.rules, false),
				Reranker: a.reranker(),
				Rules:    staticRules{a.rules},
				Metrics:  a.metrics,
			}
			if journal := a.openJournal(); journal != nil {
				defer journal.Close()
				deps.History = journal
			}

			var watcher *config.RulesWatcher
			if w, err := config.NewRulesWatcher(a.cfg.Paths.Rules, a.rules, a.logger); err != nil {
				a.logger.Warn("rules will not be reloaded", zap.Error(err))
			} else {
				watcher = w
				deps.Rules = w
			}

			srv := api.New(deps, api.Options{
				Addr:           addr,
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				DefaultMode:    a.labeling.DefaultMode,
				TimeModes:      a.labeling.TimeBasedModes,
			}, a.logger)

			if watcher != nil {
				watcher.OnChange(func(rc *config.RulesConfig) {
					srv.SetLabeler(a.labeler(rc, false))
				})
				go watcher.Run(ctx)
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

type staticRules struct{ cfg *config.RulesConfig }

func (s staticRules) Current() *config.RulesConfig { return s.cfg }

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
