package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/deusflow/linkpost/internal/app"
	"github.com/deusflow/linkpost/internal/config"
	"github.com/deusflow/linkpost/internal/logger"
	"github.com/deusflow/linkpost/internal/metrics"
	"github.com/deusflow/linkpost/internal/scheduler"
	"github.com/deusflow/linkpost/internal/storage"
)

var (
	cfgFile   string
	debug     bool
	logFormat string

	// Overrides for run and collect.
	wantFlag  int
	pagesFlag int

	runOnStart bool

	historyLimit   int
	historyCleanup bool

	rootCmd = &cobra.Command{
		Use:           "linkpost",
		Short:         "Collects fresh media links and posts them to X",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command
func Execute() error {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultConfigPath+")")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json")

	for _, c := range []*cobra.Command{runCmd, collectCmd} {
		c.Flags().IntVar(&wantFlag, "want", 0, "links per post (overrides WANT_POST)")
		c.Flags().IntVar(&pagesFlag, "pages", 0, "listing pages to scan (overrides NUM_PAGES)")
	}

	daemonCmd.Flags().BoolVar(&runOnStart, "run-now", false, "run one cycle immediately before waiting for the schedule")

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of links to show")
	historyCmd.Flags().BoolVar(&historyCleanup, "cleanup", false, "delete links older than HISTORY_RETENTION_HOURS first")

	rootCmd.AddCommand(runCmd, collectCmd, daemonCmd, stateCmd, historyCmd)
}

// loadConfig reads configuration, applies flag overrides and sets up
// logging.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	if cfgFile != "" {
		os.Setenv("LINKPOST_CONFIG", cfgFile)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	if f := cmd.Flags().Lookup("want"); f != nil && f.Changed {
		cfg.WantPost = wantFlag
		cfg.MinPost = min(cfg.MinPost, cfg.WantPost)
	}
	if f := cmd.Flags().Lookup("pages"); f != nil && f.Changed {
		cfg.NumPages = pagesFlag
	}
	if debug {
		cfg.Debug = true
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	return cfg, logger.Init(cfg.Debug, cfg.LogFormat), nil
}

func closeHistory(deps app.Deps, log *slog.Logger) {
	if deps.History == nil {
		return
	}
	if err := deps.History.Close(); err != nil {
		log.Warn("history close failed", "err", err)
	}
}

// runOnce is one bounded posting cycle.
func runOnce(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	deps, err := app.NewDeps(ctx, cfg, log, true)
	if err != nil {
		return err
	}
	defer closeHistory(deps, log)

	out, err := app.Run(ctx, cfg, deps)
	if err != nil {
		return err
	}
	if out.SkipReason != "" {
		log.Info("run finished without posting", "reason", out.SkipReason)
	}
	return nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect links and publish one post",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.EnableMonitoring {
			go startMonitoringServer(cmd.Context(), cfg.MonitoringPort)
		}
		return runOnce(cmd.Context(), cfg, log)
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Print the links the next post would use, without posting",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		deps, err := app.NewDeps(cmd.Context(), cfg, log, false)
		if err != nil {
			return err
		}
		defer closeHistory(deps, log)

		res, err := app.Collect(cmd.Context(), cfg, deps)
		if err != nil {
			return err
		}
		if res.Empty() {
			fmt.Fprintln(cmd.ErrOrStderr(), "not enough fresh links")
			return nil
		}
		for _, l := range res.Links {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", l.Kind, l.URL)
		}
		return nil
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Post on the configured cron schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.ValidatePosting(); err != nil {
			return fmt.Errorf("config: %w", err)
		}

		ctx := cmd.Context()
		if cfg.EnableMonitoring {
			go startMonitoringServer(ctx, cfg.MonitoringPort)
		}

		sched, err := scheduler.New(cfg.Timezone, cfg.HardLimit+2*time.Minute, log)
		if err != nil {
			return err
		}
		job := func(ctx context.Context) error {
			return runOnce(ctx, cfg, log)
		}
		if err := sched.AddJob("post", cfg.Schedule, job); err != nil {
			return err
		}
		if runOnStart {
			if err := sched.RunNow(ctx, "post", job); err != nil {
				log.Error("initial run failed", "err", err)
			}
		}

		metrics.Global.AddStatsSource("jobs", func() map[string]interface{} {
			jobs := make(map[string]interface{})
			for _, j := range sched.ListJobs() {
				jobs[j.Name] = map[string]interface{}{
					"next_run": j.NextRun.Format(time.RFC3339),
					"last_run": j.LastRun.Format(time.RFC3339),
				}
			}
			return jobs
		})

		sched.Start(ctx)
		<-ctx.Done()
		<-sched.Stop().Done()
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the persisted posting state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		st, err := storage.NewStateFile(cfg.StateFilePath).Load()
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"file":           cfg.StateFilePath,
			"last_post_date": st.LastPostDate,
			"stats":          st.Stats(),
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently posted links from the history database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		h, err := app.NewHistory(ctx, cfg, log)
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("no history database configured (set DATABASE_URL or HISTORY_DB)")
		}
		defer h.Close()

		if historyCleanup {
			n, err := h.Cleanup(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "removed %d expired links\n", n)
		}

		recent, err := h.Recent(ctx, historyLimit)
		if err != nil {
			return err
		}
		for _, r := range recent {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n",
				r.PostedAt.Format(time.RFC3339), r.Kind, r.URL, r.RunID)
		}
		return nil
	},
}
