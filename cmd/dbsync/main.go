package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/dbsync/pkg/config"
	"github.com/ajitpratap0/dbsync/pkg/dbconn"
	"github.com/ajitpratap0/dbsync/pkg/dialect"
	"github.com/ajitpratap0/dbsync/pkg/errors"
	"github.com/ajitpratap0/dbsync/pkg/logger"
	"github.com/ajitpratap0/dbsync/pkg/observability"
	"github.com/ajitpratap0/dbsync/pkg/syncer"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var engineFile string

	root := &cobra.Command{
		Use:   "dbsync",
		Short: "dbsync - incremental table synchronization between Oracle, MySQL and PostgreSQL",
		Long: `dbsync copies rows changed since the target's last sync time from a source
table to a target table, upserting them in batches. Source and target may be
Oracle, MySQL or PostgreSQL in any combination.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&engineFile, "config", "", "Path to engine settings file (yaml); DBSYNC_* environment variables override it")
	root.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newVersionCmd(),
		newDialectsCmd(),
		newValidateCmd(),
		newRunCmd(v, &engineFile),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dbsync v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newDialectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List supported database dialects and driver identifiers",
		Run: func(cmd *cobra.Command, args []string) {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DIALECT\tALIASES\tCURSOR")
			for _, info := range dialect.List() {
				aliases := strings.Join(info.Aliases, ", ")
				if aliases == "" {
					aliases = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, aliases, info.Cursor)
			}
			_ = w.Flush()
		},
	}
}

func newValidateCmd() *cobra.Command {
	var jobsFile string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a jobs file without connecting to any database",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := config.LoadJobs(jobsFile)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tSOURCE\tTARGET\tTABLE\tBATCH")
			for _, job := range jobs {
				r := job.Redacted()
				fmt.Fprintf(w, "%s\t%s %s\t%s %s\t%s\t%d\n",
					r.Name, r.SourceDriver, r.SourceURL, r.TargetDriver, r.TargetURL, r.TargetTable, r.BatchSize)
			}
			_ = w.Flush()
			fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) valid\n", len(jobs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&jobsFile, "jobs", "j", "", "Path to the jobs file (required)")
	_ = cmd.MarkFlagRequired("jobs")
	return cmd
}

func newRunCmd(v *viper.Viper, engineFile *string) *cobra.Command {
	var jobsFile string
	var jobNames []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run sync jobs",
		Long: `Run the jobs of a jobs file once each. Jobs run independently: a failing
job does not stop the others, and batches it applied before failing stay applied.

Example:
  dbsync run --jobs jobs.yaml --job orders --job customers --parallel 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			engine, err := config.LoadEngineConfig(v, *engineFile)
			if err != nil {
				return err
			}
			return runJobs(ctx, engine, jobsFile, jobNames, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&jobsFile, "jobs", "j", "", "Path to the jobs file (required)")
	_ = cmd.MarkFlagRequired("jobs")
	cmd.Flags().StringSliceVar(&jobNames, "job", nil, "Run only the named job (repeatable; default all)")
	cmd.Flags().Int("parallel", 1, "Number of jobs to run at once")
	cmd.Flags().Bool("metrics", false, "Serve Prometheus metrics while jobs run")
	cmd.Flags().String("metrics-addr", ":9464", "Address of the metrics endpoint")
	_ = v.BindPFlag("parallel", cmd.Flags().Lookup("parallel"))
	_ = v.BindPFlag("metrics.enabled", cmd.Flags().Lookup("metrics"))
	_ = v.BindPFlag("metrics.address", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

// runJobs runs the selected jobs, prints a summary and fails if any job failed.
func runJobs(ctx context.Context, engine *config.EngineConfig, jobsFile string, names []string, out io.Writer) error {
	if err := logger.Init(engine.Log); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("component", "dbsync-cli"))

	shutdown, err := observability.InitTracing(engine.Tracing)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize tracing")
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	jobs, err := config.LoadJobs(jobsFile)
	if err != nil {
		return err
	}
	selected, err := config.SelectJobs(jobs, names)
	if err != nil {
		return err
	}

	if engine.Metrics.Enabled {
		srv := serveMetrics(engine.Metrics, log)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	log.Info("starting jobs",
		zap.String("jobs_file", jobsFile),
		zap.Int("jobs", len(selected)),
		zap.Int("parallel", engine.Parallel))

	provider := dbconn.NewProvider(logger.Get(), engine.ConnectPolicy())
	results := make([]*syncer.RunResult, len(selected))
	errs := make([]error, len(selected))

	var g errgroup.Group
	g.SetLimit(engine.Parallel)
	for i, job := range selected {
		i, job := i, job
		g.Go(func() error {
			h := syncer.NewHandler(job, syncer.WithLogger(logger.Get()), syncer.WithOpener(provider))
			results[i], errs[i] = h.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	printSummary(out, results, errs)

	var failed []string
	for i, err := range errs {
		if err != nil {
			failed = append(failed, selected[i].Name)
		}
	}
	if len(failed) > 0 {
		return errors.Wrap(stderrors.Join(errs...), errors.ErrorTypeInternal,
			fmt.Sprintf("%d of %d job(s) failed: %s", len(failed), len(selected), strings.Join(failed, ", ")))
	}
	return nil
}

func printSummary(out io.Writer, results []*syncer.RunResult, errs []error) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTATE\tREAD\tAPPLIED\tSTATEMENTS\tWATERMARK\tDURATION\tERROR")
	for i, res := range results {
		if res == nil {
			continue
		}
		msg := "-"
		if errs[i] != nil {
			msg = errs[i].Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			res.Job, res.State, res.RowsRead, res.RowsApplied, res.Statements,
			orDash(res.Watermark), res.Duration.Round(time.Millisecond), msg)
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func serveMetrics(cfg config.MetricsConfig, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())
	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			log.Error("metrics endpoint stopped", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("address", cfg.Address), zap.String("path", cfg.Path))
	return srv
}
