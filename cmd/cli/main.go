package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/mixpanel-ingest/internal/aggregator"
	"github.com/kurihiro0119/mixpanel-ingest/internal/collector"
	"github.com/kurihiro0119/mixpanel-ingest/internal/config"
	"github.com/kurihiro0119/mixpanel-ingest/internal/domain"
	apperrors "github.com/kurihiro0119/mixpanel-ingest/internal/errors"
	"github.com/kurihiro0119/mixpanel-ingest/internal/logger"
	"github.com/kurihiro0119/mixpanel-ingest/internal/runner"
	"github.com/kurihiro0119/mixpanel-ingest/internal/storage"
	"github.com/kurihiro0119/mixpanel-ingest/internal/storage/postgres"
	"github.com/kurihiro0119/mixpanel-ingest/internal/storage/sqlite"
	"github.com/kurihiro0119/mixpanel-ingest/pkg/client"
)

var (
	outputJSON  bool
	diffFile    string
	metricsFile string
	runsLimit   int
	remote      bool
	startDate   string
	endDate     string
	granularity string
)

var rootCmd = &cobra.Command{
	Use:   "mixpanel-ingest",
	Short: "Mixpanel event ingestion tool",
	Long: `A CLI tool for ingesting Mixpanel event data into local storage.

Tasks are YAML files describing a Mixpanel project, the columns to
extract and the date range to fetch. Incremental tasks resume from
the state stored by their last successful run.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [task.yml]",
	Short: "Run an ingestion task",
	Long:  `Fetch the task's date range from Mixpanel, store the rows and advance the task state.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var previewCmd = &cobra.Command{
	Use:   "preview [task.yml]",
	Short: "Preview the first slice of a task",
	Long:  `Fetch a sample of the task's first slice and print the rows without storing anything.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runPreview,
}

var guessCmd = &cobra.Command{
	Use:   "guess [task.yml]",
	Short: "Guess the columns of a task",
	Long:  `Sample recent data of the task's project and propose a columns list.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runGuess,
}

var stateCmd = &cobra.Command{
	Use:   "state [task]",
	Short: "Show the stored state of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runState,
}

var runsCmd = &cobra.Command{
	Use:   "runs [task]",
	Short: "Show the run history of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuns,
}

var statusCmd = &cobra.Command{
	Use:   "status [task]",
	Short: "Show a summary of a task",
	Long:  `Summarize a task's runs and rows per period, locally or from the status API with --remote.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	runCmd.Flags().StringVar(&diffFile, "diff", "", "YAML file the next run's from_date and latest_fetched_time are read from and written to")
	runCmd.Flags().StringVar(&metricsFile, "metrics-textfile", "", "write Mixpanel API metrics to this file in the Prometheus text format")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show")
	statusCmd.Flags().BoolVar(&remote, "remote", false, "query the status API instead of local storage")
	statusCmd.Flags().StringVar(&startDate, "start", "", "start date (YYYY-MM-DD)")
	statusCmd.Flags().StringVar(&endDate, "end", "", "end date (YYYY-MM-DD)")
	statusCmd.Flags().StringVar(&granularity, "granularity", "day", "time granularity (day, week, month)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(guessCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if apperrors.IsConfig(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// env is what every command needs from the process environment
type env struct {
	cfg   *config.Config
	log   zerolog.Logger
	store storage.Storage
}

func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logger.New(cfg)

	store, err := getStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return &env{cfg: cfg, log: log, store: store}, nil
}

func getStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

func newRunner(e *env, metrics *collector.Metrics) *runner.Runner {
	return runner.New(runner.Options{
		Store:       e.store,
		Logger:      e.log,
		Metrics:     metrics,
		RateLimiter: collector.NewRateLimiter(e.cfg.RateLimit, 1),
		BatchSize:   e.cfg.RowBatchSize,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func getTimeRange() (domain.TimeRange, error) {
	end := domain.DateOf(time.Now())
	start := end.AddDate(0, -1, 0)

	if startDate != "" {
		t, err := domain.ParseDate(startDate)
		if err != nil {
			return domain.TimeRange{}, err
		}
		start = t
	}
	if endDate != "" {
		t, err := domain.ParseDate(endDate)
		if err != nil {
			return domain.TimeRange{}, err
		}
		end = t
	}

	return domain.TimeRange{
		Start:       start,
		End:         end.Add(24*time.Hour - time.Nanosecond),
		Granularity: granularity,
	}, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	// .env is loaded by setup, so credentials from it override the file
	task, err := config.LoadTask(args[0])
	if err != nil {
		return err
	}
	if diffFile != "" {
		diff, err := config.ReadDiff(diffFile)
		if err != nil {
			return err
		}
		task.ApplyDiff(diff)
	}

	ctx, cancel := signalContext()
	defer cancel()

	reg := prometheus.NewRegistry()
	out, err := newRunner(e, collector.NewMetrics(reg)).Run(ctx, task)
	if metricsFile != "" {
		if werr := prometheus.WriteToTextfile(metricsFile, reg); werr != nil {
			e.log.Error().Err(werr).Str("path", metricsFile).Msg("failed to write metrics")
		}
	}
	if err != nil {
		return err
	}

	if diffFile != "" {
		if err := config.NewDiff(out.Report).WriteFile(diffFile); err != nil {
			return err
		}
	}

	if outputJSON {
		return printJSON(out)
	}
	printRunOutcome(out)
	return nil
}

func runPreview(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	task, err := config.LoadTask(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	preview, err := newRunner(e, nil).Preview(ctx, task)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(preview)
	}
	printPreview(preview)
	return nil
}

func runGuess(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	task, err := config.LoadTask(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	columns, err := newRunner(e, nil).Guess(ctx, task)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(columns)
	}
	return printColumnsYAML(columns)
}

func runState(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	state, err := e.store.GetTaskState(context.Background(), args[0])
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(state)
	}
	printState(state)
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.store.Close()

	runs, err := e.store.GetRuns(context.Background(), args[0], runsLimit)
	if err != nil {
		return err
	}

	if outputJSON {
		return printJSON(runs)
	}
	printRuns(runs)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	task := args[0]
	timeRange, err := getTimeRange()
	if err != nil {
		return err
	}
	ctx := context.Background()

	var (
		summary *domain.TaskSummary
		series  *domain.TimeSeriesData
	)
	if remote {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		c := client.NewClient(cfg.APIEndpoint)
		if summary, err = c.GetSummary(ctx, task); err != nil {
			return err
		}
		if series, err = c.GetTimeSeries(ctx, task, timeRange.Start, timeRange.End, timeRange.Granularity); err != nil {
			return err
		}
	} else {
		e, err := setup()
		if err != nil {
			return err
		}
		defer e.store.Close()

		agg := aggregator.NewAggregator(e.store)
		if summary, err = agg.TaskSummary(ctx, task); err != nil {
			return err
		}
		if series, err = agg.RowsTimeSeries(ctx, task, timeRange); err != nil {
			return err
		}
	}

	if outputJSON {
		return printJSON(map[string]any{"summary": summary, "timeseries": series})
	}
	printStatus(summary, series)
	return nil
}
